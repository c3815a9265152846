// Package hotspots keeps the latest GDELT point snapshot for the map,
// filtered to the region of interest.
package hotspots

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bturcanu/georisk/pkg/broadcast"
	"github.com/bturcanu/georisk/pkg/geo"
	"github.com/bturcanu/georisk/pkg/sources"
	"github.com/bturcanu/georisk/pkg/types"
)

const DefaultQuery = "military"

type pointSource interface {
	Points(ctx context.Context, query, timespan string) ([]sources.Feature, error)
}

type publisher interface {
	Publish(ctx context.Context, topic broadcast.Topic, event any) error
}

// Snapshot is what GET /api/gdelt returns.
type Snapshot struct {
	Query       string            `json:"query"`
	Timespan    string            `json:"timespan"`
	Features    []sources.Feature `json:"features"`
	RefreshedAt *time.Time        `json:"refreshed_at,omitempty"`
}

type Service struct {
	src    pointSource
	pub    publisher
	region geo.BBox
	log    *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	latest Snapshot
}

func New(src pointSource, pub publisher, region geo.BBox, log *slog.Logger) *Service {
	return &Service{
		src:    src,
		pub:    pub,
		region: region,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		latest: Snapshot{Query: DefaultQuery, Timespan: sources.TimespanHotspot, Features: []sources.Feature{}},
	}
}

// Latest returns the most recent snapshot, empty until the first refresh.
func (s *Service) Latest() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Refresh fetches points for query, keeps those inside the region, stores
// the snapshot and announces it on the hotspots topic. Blank arguments fall
// back to the defaults.
func (s *Service) Refresh(ctx context.Context, query, timespan string) (Snapshot, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		query = DefaultQuery
	}
	timespan = strings.TrimSpace(timespan)
	if timespan == "" {
		timespan = sources.TimespanHotspot
	}

	features, err := s.src.Points(ctx, query, timespan)
	if err != nil {
		return Snapshot{}, err
	}
	kept := make([]sources.Feature, 0, len(features))
	for _, f := range features {
		if lon, lat, ok := f.LonLat(); ok && s.region.Contains(lon, lat) {
			kept = append(kept, f)
		}
	}

	at := s.now()
	snap := Snapshot{Query: query, Timespan: timespan, Features: kept, RefreshedAt: &at}
	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()

	ev := types.HotspotsRefreshedEvent{Type: "hotspots_refreshed", Query: query, Timespan: timespan, Count: len(kept), At: at}
	if err := s.pub.Publish(ctx, broadcast.TopicHotspots, ev); err != nil {
		s.log.WarnContext(ctx, "hotspots publish failed", "error", err)
	}
	s.log.InfoContext(ctx, "hotspots refreshed", "query", query, "timespan", timespan, "fetched", len(features), "kept", len(kept))
	return snap, nil
}

// Run refreshes immediately and then every interval until ctx is done.
func (s *Service) Run(ctx context.Context, interval time.Duration) {
	refresh := func() {
		cur := s.Latest()
		if _, err := s.Refresh(ctx, cur.Query, cur.Timespan); err != nil && ctx.Err() == nil {
			s.log.ErrorContext(ctx, "hotspots refresh failed", "error", err)
		}
	}
	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
