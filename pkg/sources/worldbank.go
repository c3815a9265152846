package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bturcanu/georisk/pkg/scoring"
	"github.com/bturcanu/georisk/pkg/types"
)

const (
	IndicatorGDPPerCapita = "NY.GDP.PCAP.CD"
	IndicatorHomicides    = "VC.IHR.PSRC.P5"
)

// Indicator scores a World Bank series by its most recent non-null value.
type Indicator struct {
	factor     string
	code       string
	source     string
	table      scoring.Thresholds
	noDataMsg  string
	baseURL    string
	resolver   *Resolver
	httpClient *http.Client
	log        *slog.Logger
	now        func() time.Time
}

// NewEconomy scores GDP per capita.
func NewEconomy(baseURL string, resolver *Resolver, log *slog.Logger) *Indicator {
	return newIndicator(FactorEconomy, IndicatorGDPPerCapita,
		"World Bank GDP per capita (NY.GDP.PCAP.CD)", scoring.Economy,
		"No data found for this country", baseURL, resolver, log)
}

// NewSafety scores the intentional homicide rate.
func NewSafety(baseURL string, resolver *Resolver, log *slog.Logger) *Indicator {
	return newIndicator(FactorSafety, IndicatorHomicides,
		"World Bank Intentional homicides (VC.IHR.PSRC.P5)", scoring.Safety,
		"No data found", baseURL, resolver, log)
}

func newIndicator(factor, code, source string, table scoring.Thresholds, noData, baseURL string, resolver *Resolver, log *slog.Logger) *Indicator {
	return &Indicator{
		factor:     factor,
		code:       code,
		source:     source,
		table:      table,
		noDataMsg:  noData,
		baseURL:    strings.TrimRight(baseURL, "/"),
		resolver:   resolver,
		httpClient: newHTTPClient(TimeoutStandard),
		log:        log,
		now:        time.Now,
	}
}

var errNoData = errors.New("no data")

func (ind *Indicator) Evaluate(ctx context.Context, country string) types.ScoreResult {
	iso2 := ind.resolver.ISO2(ctx, country)
	value, err := ind.latest(ctx, iso2)
	if errors.Is(err, errNoData) {
		return fallback(ind.source, ind.noDataMsg, ind.now())
	}
	if err != nil {
		return logFallback(ctx, ind.log, ind.factor, country, ind.source, err, ind.now())
	}
	return scored(ind.source, value, ind.table.Score(value), ind.now())
}

// latest returns the first non-null value of the series.
// The API answers with a two-element array: [paging metadata, rows].
func (ind *Indicator) latest(ctx context.Context, iso2 string) (float64, error) {
	u := fmt.Sprintf("%s/%s/indicator/%s?%s", ind.baseURL, url.PathEscape(iso2), ind.code,
		url.Values{"format": {"json"}}.Encode())

	var payload []json.RawMessage
	if err := getJSON(ctx, ind.httpClient, u, nil, &payload); err != nil {
		return 0, fmt.Errorf("sources.worldbank %s: %w", ind.code, err)
	}
	if len(payload) < 2 {
		return 0, errNoData
	}
	var rows []struct {
		Value *float64 `json:"value"`
	}
	if err := json.Unmarshal(payload[1], &rows); err != nil {
		// "null" decodes fine; anything else is malformed.
		return 0, fmt.Errorf("sources.worldbank %s: decode rows: %w", ind.code, err)
	}
	for _, row := range rows {
		if row.Value != nil {
			return *row.Value, nil
		}
	}
	return 0, errNoData
}
