// Package pricing reports gold and silver spot prices converted into each
// country's local currency.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bturcanu/georisk/pkg/sources"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
)

const (
	Unit = "troy oz"

	DefaultCacheTTL = 10 * time.Minute
	userAgent       = "Mozilla/5.0"
	maxBodyBytes    = 1 << 20 // 1 MB
	metaConcurrency = 4
)

type Config struct {
	ExchangerateURL string
	ExchangerateKey string
	MetalpriceURL   string
	MetalpriceKey   string
	GoldpriceURL    string
	FXURL           string
	CountryURL      string // reported as provenance only
	Countries       []string
	CacheTTL        time.Duration
}

func DefaultConfig() Config {
	return Config{
		ExchangerateURL: "https://api.exchangerate.host/latest",
		MetalpriceURL:   "https://api.metalpriceapi.com/v1/latest",
		GoldpriceURL:    "https://data-asg.goldprice.org/dbXRates/USD",
		FXURL:           "https://open.er-api.com/v6/latest/USD",
		CountryURL:      sources.DefaultEndpoints().RestCountries,
		Countries:       sources.APACCountries,
		CacheTTL:        DefaultCacheTTL,
	}
}

// Item is one country's row.
type Item struct {
	Country     string    `json:"country"`
	Currency    *string   `json:"currency"`
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
	GoldUSD     *float64  `json:"gold_usd"`
	SilverUSD   *float64  `json:"silver_usd"`
	GoldLocal   *float64  `json:"gold_local"`
	SilverLocal *float64  `json:"silver_local"`
	FXRate      *float64  `json:"fx_rate"`
	Unit        string    `json:"unit"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

type Provenance struct {
	Metals  string `json:"metals"`
	FX      string `json:"fx"`
	Country string `json:"country"`
}

type Report struct {
	Items       []Item     `json:"items"`
	RetrievedAt time.Time  `json:"retrieved_at"`
	Unit        string     `json:"unit"`
	Sources     Provenance `json:"sources"`
}

type countryLookup interface {
	Lookup(ctx context.Context, name string) (*sources.CountryInfo, error)
}

// Spot holds USD prices per troy ounce.
type Spot struct {
	Gold   *float64
	Silver *float64
}

func (s Spot) empty() bool {
	return (s.Gold == nil || *s.Gold == 0) && (s.Silver == nil || *s.Silver == 0)
}

type metalSource struct {
	url    string
	label  string
	header http.Header
	parse  func([]byte) Spot
}

// Service builds price reports and caches the last one.
type Service struct {
	cfg        Config
	countries  countryLookup
	httpClient *http.Client
	cache      *expirable.LRU[string, *Report]
	log        *slog.Logger
	now        func() time.Time
}

func New(cfg Config, countries countryLookup, log *slog.Logger) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Service{
		cfg:        cfg,
		countries:  countries,
		httpClient: &http.Client{Timeout: sources.TimeoutStandard},
		cache:      expirable.NewLRU[string, *Report](1, nil, cfg.CacheTTL),
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Report returns the cached report while fresh, otherwise rebuilds it.
// Partial upstream failures leave null fields rather than failing.
func (s *Service) Report(ctx context.Context) *Report {
	if r, ok := s.cache.Get("report"); ok {
		return r
	}

	now := s.now()
	spot, metalsSource := s.metalsSpot(ctx)
	fx := s.fxRates(ctx)

	items := make([]Item, len(s.cfg.Countries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(metaConcurrency)
	for i, country := range s.cfg.Countries {
		g.Go(func() error {
			items[i] = s.item(gctx, country, spot, fx, now)
			return nil
		})
	}
	_ = g.Wait()

	r := &Report{
		Items:       items,
		RetrievedAt: now,
		Unit:        Unit,
		Sources:     Provenance{Metals: metalsSource, FX: s.cfg.FXURL, Country: s.cfg.CountryURL},
	}
	if ctx.Err() != nil {
		// Built from aborted fetches; serve it once but do not keep it.
		return r
	}
	s.cache.Add("report", r)
	return r
}

func (s *Service) item(ctx context.Context, country string, spot Spot, fx map[string]float64, now time.Time) Item {
	it := Item{Country: country, GoldUSD: spot.Gold, SilverUSD: spot.Silver, Unit: Unit, RetrievedAt: now}
	info, err := s.countries.Lookup(ctx, country)
	if err != nil {
		s.log.WarnContext(ctx, "country metadata unavailable", "country", country, "error", err)
		return it
	}
	it.Latitude, it.Longitude = info.Latitude, info.Longitude
	if info.Currency == "" {
		return it
	}
	cur := info.Currency
	it.Currency = &cur
	rate, ok := fx[strings.ToUpper(cur)]
	if !ok {
		return it
	}
	it.FXRate = &rate
	it.GoldLocal = times(spot.Gold, rate)
	it.SilverLocal = times(spot.Silver, rate)
	return it
}

func times(v *float64, rate float64) *float64 {
	if v == nil || *v == 0 || rate == 0 {
		return nil
	}
	out := *v * rate
	return &out
}

// ──────────────────────────────────────────────────────────────────────────────
// Metals spot
// ──────────────────────────────────────────────────────────────────────────────

func (s *Service) metalSources() []metalSource {
	var out []metalSource
	if s.cfg.ExchangerateKey != "" {
		out = append(out, metalSource{
			url:   s.cfg.ExchangerateURL + "?" + url.Values{"base": {"USD"}, "symbols": {"XAU,XAG"}, "access_key": {s.cfg.ExchangerateKey}}.Encode(),
			label: s.cfg.ExchangerateURL,
			parse: parseInverseRates,
		})
	}
	if s.cfg.MetalpriceKey != "" {
		out = append(out, metalSource{
			url:   s.cfg.MetalpriceURL + "?" + url.Values{"api_key": {s.cfg.MetalpriceKey}, "base": {"USD"}, "currencies": {"XAU,XAG"}}.Encode(),
			label: s.cfg.MetalpriceURL,
			parse: parseInverseRates,
		})
	}
	out = append(out, metalSource{
		url:   s.cfg.GoldpriceURL,
		label: s.cfg.GoldpriceURL,
		header: http.Header{
			"Referer": {"https://www.goldprice.org/"},
			"Origin":  {"https://www.goldprice.org"},
		},
		parse: parseGoldprice,
	})
	return out
}

// metalsSpot tries each configured source in order and returns the first
// non-empty quote with its label. Keys never appear in the label.
func (s *Service) metalsSpot(ctx context.Context) (Spot, string) {
	for _, src := range s.metalSources() {
		body, err := s.get(ctx, src.url, src.header)
		if err != nil {
			s.log.WarnContext(ctx, "metals spot source failed", "source", src.label, "error", err)
			continue
		}
		spot := src.parse(body)
		if !spot.empty() {
			return spot, src.label
		}
		s.log.WarnContext(ctx, "metals spot source returned no prices", "source", src.label)
	}
	return Spot{}, "unavailable"
}

// parseInverseRates reads {"rates":{"XAU":x,"XAG":y}} quoted as metal per
// USD, so the USD price is the reciprocal.
func parseInverseRates(body []byte) Spot {
	var doc struct {
		Rates map[string]any `json:"rates"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return Spot{}
	}
	return Spot{Gold: reciprocal(doc.Rates["XAU"]), Silver: reciprocal(doc.Rates["XAG"])}
}

func reciprocal(v any) *float64 {
	f, ok := v.(float64)
	if !ok || f == 0 {
		return nil
	}
	out := 1 / f
	return &out
}

func parseGoldprice(body []byte) Spot {
	var doc struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(body, &doc); err != nil || len(doc.Items) == 0 {
		return Spot{}
	}
	return Spot{Gold: number(doc.Items[0]["xauPrice"]), Silver: number(doc.Items[0]["xagPrice"])}
}

func number(v any) *float64 {
	f, ok := v.(float64)
	if !ok {
		return nil
	}
	return &f
}

// ──────────────────────────────────────────────────────────────────────────────
// FX
// ──────────────────────────────────────────────────────────────────────────────

// fxRates returns USD-based rates keyed by upper-case currency code, or an
// empty map when the source is down.
func (s *Service) fxRates(ctx context.Context) map[string]float64 {
	body, err := s.get(ctx, s.cfg.FXURL, nil)
	if err != nil {
		s.log.WarnContext(ctx, "fx rates unavailable", "error", err)
		return map[string]float64{}
	}
	var doc struct {
		Rates map[string]any `json:"rates"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		s.log.WarnContext(ctx, "fx rates unparseable", "error", err)
		return map[string]float64{}
	}
	out := make(map[string]float64, len(doc.Rates))
	for code, v := range doc.Rates {
		if f, ok := v.(float64); ok {
			out[strings.ToUpper(code)] = f
		}
	}
	return out
}

func (s *Service) get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("pricing: new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pricing: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pricing: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}
