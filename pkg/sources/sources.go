// Package sources fetches raw observations from public data providers and
// maps them to normalized sub-scores. Adapters never return errors: any
// failure becomes a neutral 0.5 score carrying the error message.
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bturcanu/georisk/pkg/types"
)

// Adapter evaluates one risk factor for a country.
type Adapter interface {
	Evaluate(ctx context.Context, country string) types.ScoreResult
}

// AdapterFunc lets a plain function satisfy Adapter.
type AdapterFunc func(ctx context.Context, country string) types.ScoreResult

func (f AdapterFunc) Evaluate(ctx context.Context, country string) types.ScoreResult {
	return f(ctx, country)
}

// Factor names.
const (
	FactorEconomy     = "economy"
	FactorSafety      = "safety"
	FactorMilitary    = "military"
	FactorUncertainty = "uncertainty"
	FactorGold        = "gold"
	FactorHazard      = "hazard"
	FactorAdvisory    = "advisory"
)

// Per-call timeouts.
const (
	TimeoutShort    = 5 * time.Second
	TimeoutMedium   = 8 * time.Second
	TimeoutStandard = 10 * time.Second
	TimeoutLong     = 15 * time.Second
)

const maxResponseBytes = 8 << 20 // 8 MB

// Endpoints holds upstream base URLs. Tests point these at httptest servers.
type Endpoints struct {
	RestCountries string
	WorldBank     string
	GDELTDoc      string
	GDELTGeo      string
	Advisories    string
	USGSCount     string
	Search        string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		RestCountries: "https://restcountries.com/v3.1/name",
		WorldBank:     "https://api.worldbank.org/v2/country",
		GDELTDoc:      "https://api.gdeltproject.org/api/v2/doc/doc",
		GDELTGeo:      "https://api.gdeltproject.org/api/v2/geo/geo",
		Advisories:    "https://cadataapi.state.gov/api/TravelAdvisories",
		USGSCount:     "https://earthquake.usgs.gov/fdsnws/event/1/count",
		Search:        "https://api.duckduckgo.com/",
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Result helpers
// ──────────────────────────────────────────────────────────────────────────────

func scored(source string, value, score float64, now time.Time) types.ScoreResult {
	v := value
	return types.ScoreResult{Score: score, Value: &v, Source: source, RetrievedAt: now.UTC()}
}

func fallback(source, msg string, now time.Time) types.ScoreResult {
	return types.ScoreResult{Score: types.NeutralScore, Source: source, Error: msg, RetrievedAt: now.UTC()}
}

// logFallback logs at Warn and returns the neutral result.
func logFallback(ctx context.Context, log *slog.Logger, factor, country, source string, err error, now time.Time) types.ScoreResult {
	log.WarnContext(ctx, "source adapter fallback", "factor", factor, "country", country, "error", err)
	return fallback(source, err.Error(), now)
}

// ──────────────────────────────────────────────────────────────────────────────
// HTTP plumbing
// ──────────────────────────────────────────────────────────────────────────────

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// getJSON issues a GET and decodes a 2xx JSON body into out.
// Non-2xx responses return *types.UpstreamError.
func getJSON(ctx context.Context, c *http.Client, rawURL string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &types.UpstreamError{URL: req.URL.Redacted(), StatusCode: resp.StatusCode, Body: truncate(string(body), 256)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
