package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/bturcanu/georisk/pkg/scoring"
	"github.com/bturcanu/georisk/pkg/types"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const advisorySource = "US State Department Travel Advisory"

// Advisory is one entry of the State Department feed.
type Advisory struct {
	Title    string   `json:"Title"`
	Category []string `json:"Category"`
}

var levelPattern = regexp.MustCompile(`(?i)Level\s+(\d+)`)

// Level extracts the advisory level from the title.
func (a Advisory) Level() (int, bool) {
	m := levelPattern.FindStringSubmatch(a.Title)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// MatchAdvisory finds the advisory level for a country. An ISO2 hit in an
// entry's Category wins; otherwise the title must start with one of the
// variants followed by " -" or " –". Entries without a parsable level are
// skipped.
func MatchAdvisory(feed []Advisory, iso2 string, variants []string) (level int, title string, ok bool) {
	lower := make([]string, len(variants))
	for i, v := range variants {
		lower[i] = strings.ToLower(v)
	}
	for _, a := range feed {
		if iso2 != "" && slices.Contains(a.Category, iso2) {
			if n, ok := a.Level(); ok {
				return n, a.Title, true
			}
		}
		t := strings.ToLower(a.Title)
		for _, v := range lower {
			if strings.HasPrefix(t, v+" -") || strings.HasPrefix(t, v+" –") {
				if n, ok := a.Level(); ok {
					return n, a.Title, true
				}
			}
		}
	}
	return 0, "", false
}

// Advisories scores the travel advisory level and serves the cached feed.
type Advisories struct {
	feedURL    string
	resolver   *Resolver
	httpClient *http.Client
	cache      *expirable.LRU[string, []Advisory]
	log        *slog.Logger
	now        func() time.Time
}

const feedKey = "feed"

func NewAdvisories(feedURL string, resolver *Resolver, ttl time.Duration, log *slog.Logger) *Advisories {
	return &Advisories{
		feedURL:    feedURL,
		resolver:   resolver,
		httpClient: newHTTPClient(TimeoutStandard),
		cache:      expirable.NewLRU[string, []Advisory](1, nil, ttl),
		log:        log,
		now:        time.Now,
	}
}

// Feed returns the advisory list, fetching it at most once per TTL.
func (a *Advisories) Feed(ctx context.Context) ([]Advisory, error) {
	if feed, ok := a.cache.Get(feedKey); ok {
		return feed, nil
	}
	var feed []Advisory
	if err := getJSON(ctx, a.httpClient, a.feedURL, nil, &feed); err != nil {
		return nil, fmt.Errorf("sources.Feed: %w", err)
	}
	if feed == nil {
		return nil, fmt.Errorf("sources.Feed: API did not return a list of advisories")
	}
	a.cache.Add(feedKey, feed)
	return feed, nil
}

func (a *Advisories) Evaluate(ctx context.Context, country string) types.ScoreResult {
	feed, err := a.Feed(ctx)
	if err != nil {
		return logFallback(ctx, a.log, FactorAdvisory, country, advisorySource, err, a.now())
	}
	variants := a.resolver.Variants(ctx, country)
	iso2 := a.resolver.ISO2(ctx, country)

	level, _, ok := MatchAdvisory(feed, iso2, variants)
	if !ok {
		tried := variants
		if len(tried) > 5 {
			tried = tried[:5]
		}
		a.log.WarnContext(ctx, "travel advisory not found", "country", country, "variants", tried)
		return fallback(advisorySource,
			fmt.Sprintf("Country '%s' not found in travel advisories. Tried variations: %s", country, strings.Join(tried, ", ")),
			a.now())
	}
	return scored(advisorySource, float64(level), scoring.AdvisoryScore(level), a.now())
}

// CountryLevel is one row of the regional advisory listing.
type CountryLevel struct {
	Country     string    `json:"country"`
	Level       *int      `json:"level"`
	Error       *string   `json:"error"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// Levels resolves advisory levels for many countries with a single feed
// fetch. A feed failure is reported on every row.
func (a *Advisories) Levels(ctx context.Context, countries []string) []CountryLevel {
	now := a.now().UTC()
	out := make([]CountryLevel, 0, len(countries))

	feed, err := a.Feed(ctx)
	if err != nil {
		a.log.ErrorContext(ctx, "failed to fetch travel advisories", "error", err)
		msg := "Failed to fetch travel advisories: " + err.Error()
		for _, c := range countries {
			out = append(out, CountryLevel{Country: c, Error: &msg, RetrievedAt: now})
		}
		return out
	}

	for _, c := range countries {
		iso2, ok := apacISO2[c]
		if !ok {
			iso2 = guessISO2(c)
		}
		row := CountryLevel{Country: c, RetrievedAt: now}
		if level, _, ok := MatchAdvisory(feed, iso2, a.resolver.Variants(ctx, c)); ok {
			row.Level = &level
		} else {
			msg := fmt.Sprintf("Country '%s' not found in travel advisories", c)
			row.Error = &msg
		}
		out = append(out, row)
	}
	return out
}
