package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/bturcanu/georisk/pkg/geo"
	"github.com/bturcanu/georisk/pkg/scoring"
	"github.com/bturcanu/georisk/pkg/types"
)

const (
	hazardSource       = "USGS FDSN Earthquake Catalog (M4.5+, 30 days)"
	hazardMinMagnitude = 4.5
	hazardWindow       = 30 * 24 * time.Hour
)

// Hazard scores natural-hazard exposure by counting recent significant
// earthquakes inside the country's bounding box.
type Hazard struct {
	baseURL    string
	resolver   *Resolver
	httpClient *http.Client
	log        *slog.Logger
	now        func() time.Time
}

func NewHazard(baseURL string, resolver *Resolver, log *slog.Logger) *Hazard {
	return &Hazard{
		baseURL:    baseURL,
		resolver:   resolver,
		httpClient: newHTTPClient(TimeoutStandard),
		log:        log,
		now:        time.Now,
	}
}

func (h *Hazard) Evaluate(ctx context.Context, country string) types.ScoreResult {
	iso2 := h.resolver.ISO2(ctx, country)
	box, ok := geo.CountryBBox(iso2)
	if !ok {
		return fallback(hazardSource, fmt.Sprintf("no bounding box for %s (%s)", country, iso2), h.now())
	}
	n, err := h.count(ctx, box)
	if err != nil {
		return logFallback(ctx, h.log, FactorHazard, country, hazardSource, err, h.now())
	}
	return scored(hazardSource, n, scoring.Hazard.Score(n), h.now())
}

func (h *Hazard) count(ctx context.Context, box geo.BBox) (float64, error) {
	end := h.now().UTC()
	q := url.Values{
		"format":       {"geojson"},
		"starttime":    {end.Add(-hazardWindow).Format("2006-01-02")},
		"endtime":      {end.Format("2006-01-02")},
		"minmagnitude": {strconv.FormatFloat(hazardMinMagnitude, 'f', -1, 64)},
		"minlatitude":  {strconv.FormatFloat(box.MinLat, 'f', -1, 64)},
		"maxlatitude":  {strconv.FormatFloat(box.MaxLat, 'f', -1, 64)},
		"minlongitude": {strconv.FormatFloat(box.MinLon, 'f', -1, 64)},
		"maxlongitude": {strconv.FormatFloat(box.MaxLon, 'f', -1, 64)},
	}
	var out struct {
		Count *float64 `json:"count"`
	}
	if err := getJSON(ctx, h.httpClient, h.baseURL+"?"+q.Encode(), nil, &out); err != nil {
		return 0, fmt.Errorf("sources.usgs: %w", err)
	}
	if out.Count == nil {
		return 0, fmt.Errorf("sources.usgs: response missing count")
	}
	return *out.Count, nil
}
