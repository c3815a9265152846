package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/bturcanu/georisk/pkg/scoring"
	"github.com/bturcanu/georisk/pkg/types"
	"golang.org/x/time/rate"
)

const (
	TimespanHotspot     = "24h"
	TimespanUncertainty = "30d"
)

// GDELT asks clients for roughly one request every five seconds. The burst
// lets one overall computation fan out without queueing.
func NewGDELTLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(5*time.Second), 4)
}

// GDELT is a rate-limited client for the DOC and GEO 2.0 APIs.
type GDELT struct {
	docURL     string
	geoURL     string
	limiter    *rate.Limiter
	httpClient *http.Client
}

func NewGDELT(docURL, geoURL string, limiter *rate.Limiter) *GDELT {
	if limiter == nil {
		limiter = NewGDELTLimiter()
	}
	return &GDELT{
		docURL:     docURL,
		geoURL:     geoURL,
		limiter:    limiter,
		httpClient: newHTTPClient(TimeoutLong),
	}
}

// Feature is one GeoJSON point returned by the GEO API.
type Feature struct {
	Type     string `json:"type"`
	Geometry struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// LonLat returns the point coordinates, if present.
func (f Feature) LonLat() (lon, lat float64, ok bool) {
	if len(f.Geometry.Coordinates) < 2 {
		return 0, 0, false
	}
	return f.Geometry.Coordinates[0], f.Geometry.Coordinates[1], true
}

type featureCollection struct {
	Features []Feature `json:"features"`
}

type timelineVol struct {
	Timeline []struct {
		Value *float64 `json:"value"`
		Data  []struct {
			Value float64 `json:"value"`
		} `json:"data"`
	} `json:"timeline"`
}

// TimelineSum sums the TimelineVol series for a DOC query.
func (g *GDELT) TimelineSum(ctx context.Context, query, timespan string) (float64, error) {
	q := url.Values{
		"query":    {query},
		"mode":     {"TimelineVol"},
		"format":   {"json"},
		"timespan": {timespan},
	}
	body, err := g.fetch(ctx, g.docURL, q)
	if err != nil {
		return 0, err
	}
	var tv timelineVol
	if err := json.Unmarshal(body, &tv); err != nil {
		return 0, errGDELTInvalidJSON
	}
	var total float64
	for _, row := range tv.Timeline {
		if row.Value != nil {
			total += *row.Value
		}
		for _, pt := range row.Data {
			total += pt.Value
		}
	}
	return total, nil
}

// Points returns GEO pointdata features for a query.
func (g *GDELT) Points(ctx context.Context, query, timespan string) ([]Feature, error) {
	q := url.Values{
		"query":    {query},
		"mode":     {"pointdata"},
		"format":   {"geojson"},
		"timespan": {timespan},
	}
	body, err := g.fetch(ctx, g.geoURL, q)
	if err != nil {
		return nil, err
	}
	var fc featureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, errGDELTInvalidJSON
	}
	return fc.Features, nil
}

var errGDELTInvalidJSON = errors.New("GDELT response was not valid JSON")

func (g *GDELT) fetch(ctx context.Context, base string, q url.Values) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("gdelt rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("gdelt new request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gdelt request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GDELT returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("gdelt read response: %w", err)
	}
	return body, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// GDELT-backed adapters
// ──────────────────────────────────────────────────────────────────────────────

// Military scores conflict intensity by geolocated CONFLICT-theme events.
type Military struct {
	gdelt *GDELT
	log   *slog.Logger
	now   func() time.Time
}

func NewMilitary(g *GDELT, log *slog.Logger) *Military {
	return &Military{gdelt: g, log: log, now: time.Now}
}

const militarySource = "GDELT GEO 2.0 API (Conflict Intensity)"

func (m *Military) Evaluate(ctx context.Context, country string) types.ScoreResult {
	features, err := m.gdelt.Points(ctx, fmt.Sprintf("country:%s theme:CONFLICT", country), TimespanHotspot)
	if err != nil {
		return logFallback(ctx, m.log, FactorMilitary, country, militarySource, err, m.now())
	}
	n := float64(len(features))
	return scored(militarySource, n, scoring.Military.Score(n), m.now())
}

// Volume scores article volume for a DOC query built from the country name.
type Volume struct {
	factor   string
	source   string
	query    func(country string) string
	timespan string
	table    scoring.Thresholds
	gdelt    *GDELT
	log      *slog.Logger
	now      func() time.Time
}

// NewUncertainty scores economic-policy uncertainty coverage.
func NewUncertainty(g *GDELT, log *slog.Logger) *Volume {
	return &Volume{
		factor:   FactorUncertainty,
		source:   "GDELT DOC 2.0 API (Economic Policy Uncertainty)",
		query:    UncertaintyQuery,
		timespan: TimespanUncertainty,
		table:    scoring.Uncertainty,
		gdelt:    g,
		log:      log,
		now:      time.Now,
	}
}

// NewGold scores gold and bullion market coverage.
func NewGold(g *GDELT, log *slog.Logger) *Volume {
	return &Volume{
		factor: FactorGold,
		source: "GDELT DOC 2.0 API (Gold Market Shift)",
		query: func(country string) string {
			return fmt.Sprintf(`(gold OR bullion) AND (price OR market OR reserve OR demand) AND "%s"`, country)
		},
		timespan: TimespanUncertainty,
		table:    scoring.Gold,
		gdelt:    g,
		log:      log,
		now:      time.Now,
	}
}

func UncertaintyQuery(country string) string {
	return fmt.Sprintf(`(uncertainty OR uncertain) AND (economy OR economic OR policy OR fiscal OR budget OR regulation OR tax) AND "%s"`, country)
}

func (v *Volume) Evaluate(ctx context.Context, country string) types.ScoreResult {
	total, err := v.gdelt.TimelineSum(ctx, v.query(country), v.timespan)
	if err != nil {
		return logFallback(ctx, v.log, v.factor, country, v.source, err, v.now())
	}
	return scored(v.source, total, v.table.Score(total), v.now())
}
