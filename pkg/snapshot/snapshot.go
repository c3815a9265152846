// Package snapshot archives composite scores for a country list as JSON
// bundles in object storage.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bturcanu/georisk/pkg/types"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 4

type Scorer interface {
	Compute(ctx context.Context, setName, country string) (types.CompositeRiskScore, error)
}

type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

type Service struct {
	engine      Scorer
	uploader    Uploader
	concurrency int
	log         *slog.Logger
	now         func() time.Time
}

func New(engine Scorer, uploader Uploader, concurrency int, log *slog.Logger) *Service {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Service{
		engine:      engine,
		uploader:    uploader,
		concurrency: concurrency,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type Entry struct {
	Country string                   `json:"country"`
	Score   types.CompositeRiskScore `json:"score"`
}

type Bundle struct {
	FactorSet    string    `json:"factor_set"`
	CreatedAt    time.Time `json:"created_at"`
	CountryCount int       `json:"country_count"`
	// Degraded counts entries whose score used at least one fallback.
	Degraded int     `json:"degraded"`
	Scores   []Entry `json:"scores"`
}

// Key is the object key a bundle created at t is stored under.
func Key(set string, t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("snapshots/%s/%04d/%02d/%02d/%d.json", set, t.Year(), t.Month(), t.Day(), t.Unix())
}

// Build scores every country with set, at most concurrency at a time.
// Entries keep the order of countries.
func (s *Service) Build(ctx context.Context, set string, countries []string) (*Bundle, error) {
	entries := make([]Entry, len(countries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, c := range countries {
		g.Go(func() error {
			score, err := s.engine.Compute(gctx, set, c)
			if err != nil {
				return fmt.Errorf("snapshot.Build %s: %w", c, err)
			}
			entries[i] = Entry{Country: c, Score: score}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	b := &Bundle{
		FactorSet:    set,
		CreatedAt:    s.now(),
		CountryCount: len(entries),
		Scores:       entries,
	}
	for _, e := range entries {
		if len(e.Score.Errors) > 0 {
			b.Degraded++
		}
	}
	return b, nil
}

// Archive builds a bundle and uploads it, returning the object key.
func (s *Service) Archive(ctx context.Context, set string, countries []string) (string, error) {
	if len(countries) == 0 {
		return "", nil
	}
	bundle, err := s.Build(ctx, set, countries)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("marshal bundle: %w", err)
	}

	key := Key(set, bundle.CreatedAt)
	if err := s.uploader.Upload(ctx, key, body); err != nil {
		return "", err
	}
	s.log.InfoContext(ctx, "snapshot archived", "key", key, "countries", bundle.CountryCount, "degraded", bundle.Degraded)
	return key, nil
}
