package sources

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Options configures NewSet.
type Options struct {
	Endpoints    Endpoints
	CacheTTL     time.Duration
	GDELTLimiter *rate.Limiter
	Logger       *slog.Logger
}

// Set holds one instance of every adapter plus the shared clients the HTTP
// layer also needs (advisory feed, GDELT, resolver, web search).
type Set struct {
	Resolver   *Resolver
	GDELT      *GDELT
	Advisories *Advisories
	Search     *Search
	adapters   map[string]Adapter
}

func NewSet(opts Options) *Set {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	log := opts.Logger
	ep := opts.Endpoints

	resolver := NewResolver(ep.RestCountries, opts.CacheTTL, log)
	gdelt := NewGDELT(ep.GDELTDoc, ep.GDELTGeo, opts.GDELTLimiter)
	advisories := NewAdvisories(ep.Advisories, resolver, opts.CacheTTL, log)

	return &Set{
		Resolver:   resolver,
		GDELT:      gdelt,
		Advisories: advisories,
		Search:     NewSearch(ep.Search, DefaultSearchResults),
		adapters: map[string]Adapter{
			FactorEconomy:     NewEconomy(ep.WorldBank, resolver, log),
			FactorSafety:      NewSafety(ep.WorldBank, resolver, log),
			FactorMilitary:    NewMilitary(gdelt, log),
			FactorUncertainty: NewUncertainty(gdelt, log),
			FactorGold:        NewGold(gdelt, log),
			FactorHazard:      NewHazard(ep.USGSCount, resolver, log),
			FactorAdvisory:    advisories,
		},
	}
}

// Adapters returns the factor → adapter table. The map is a copy.
func (s *Set) Adapters() map[string]Adapter {
	out := make(map[string]Adapter, len(s.adapters))
	for k, v := range s.adapters {
		out[k] = v
	}
	return out
}

// Adapter looks up a single factor.
func (s *Set) Adapter(factor string) (Adapter, bool) {
	a, ok := s.adapters[factor]
	return a, ok
}
