package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bturcanu/georisk/pkg/scoring"
	"github.com/bturcanu/georisk/pkg/sources"
	"github.com/bturcanu/georisk/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/bturcanu/georisk/pkg/aggregate"

// Combine applies the factor table to the sub-scores. A factor without a
// sub-score counts as neutral and is reported in Errors.
func Combine(set FactorSet, subs map[string]types.ScoreResult, now time.Time) types.CompositeRiskScore {
	out := types.CompositeRiskScore{
		FactorSet:   set.Name,
		Components:  make(map[string]types.ScoreResult, len(set.Factors)),
		Errors:      []string{},
		Formula:     set.Formula(),
		RetrievedAt: now.UTC(),
	}

	var risk float64
	for _, f := range set.Factors {
		sub, ok := subs[f.Name]
		if !ok {
			sub = types.ScoreResult{Score: types.NeutralScore, Error: "missing sub-score", RetrievedAt: now.UTC()}
		}
		s := scoring.Clamp(sub.Score)
		if f.Inverted {
			s = 1 - s
		}
		risk += f.Weight * s

		out.Components[f.Name] = sub
		if sub.Error != "" {
			out.Errors = append(out.Errors, f.Name+": "+sub.Error)
		}
	}
	out.RiskLevel = scoring.Round2(scoring.Clamp(risk/100) * 100)
	return out
}

// Engine fans a country out to every adapter in a factor set.
type Engine struct {
	adapters   map[string]sources.Adapter
	sets       map[string]FactorSet
	defaultSet string
	log        *slog.Logger
	tracer     trace.Tracer
	fallbacks  metric.Int64Counter
	now        func() time.Time
}

// New validates that every factor of every set has an adapter. The first
// set is the default.
func New(adapters map[string]sources.Adapter, log *slog.Logger, sets ...FactorSet) (*Engine, error) {
	if len(sets) == 0 {
		return nil, fmt.Errorf("aggregate.New: at least one factor set is required")
	}
	e := &Engine{
		adapters:   adapters,
		sets:       make(map[string]FactorSet, len(sets)),
		defaultSet: sets[0].Name,
		log:        log,
		tracer:     otel.Tracer(instrumentationName),
		now:        time.Now,
	}
	for _, fs := range sets {
		if len(fs.Factors) == 0 {
			return nil, fmt.Errorf("aggregate.New: factor set %q is empty", fs.Name)
		}
		for _, f := range fs.Factors {
			if _, ok := adapters[f.Name]; !ok {
				return nil, fmt.Errorf("aggregate.New: factor set %q: no adapter for %q", fs.Name, f.Name)
			}
		}
		e.sets[fs.Name] = fs
	}

	counter, err := otel.Meter(instrumentationName).Int64Counter("georisk.adapter.fallbacks",
		metric.WithDescription("Sub-scores that fell back to the neutral value"))
	if err != nil {
		return nil, fmt.Errorf("aggregate.New: %w", err)
	}
	e.fallbacks = counter
	return e, nil
}

// DefaultSet returns the name used by ComputeOverall.
func (e *Engine) DefaultSet() string { return e.defaultSet }

// ComputeOverall scores a country with the default factor set.
func (e *Engine) ComputeOverall(ctx context.Context, country string) types.CompositeRiskScore {
	out, _ := e.Compute(ctx, e.defaultSet, country)
	return out
}

// Compute scores a country with the named factor set. It only fails for an
// unknown set name; source failures are folded into the result.
func (e *Engine) Compute(ctx context.Context, setName, country string) (types.CompositeRiskScore, error) {
	fs, ok := e.sets[setName]
	if !ok {
		return types.CompositeRiskScore{}, fmt.Errorf("aggregate.Compute: unknown factor set %q", setName)
	}

	ctx, span := e.tracer.Start(ctx, "aggregate.Compute", trace.WithAttributes(
		attribute.String("georisk.factor_set", fs.Name),
		attribute.String("georisk.country", country),
	))
	defer span.End()

	results := make([]types.ScoreResult, len(fs.Factors))
	var g errgroup.Group
	for i, f := range fs.Factors {
		adapter := e.adapters[f.Name]
		g.Go(func() error {
			results[i] = e.evaluate(ctx, f.Name, adapter, country)
			return nil
		})
	}
	_ = g.Wait() // adapters never return errors

	subs := make(map[string]types.ScoreResult, len(fs.Factors))
	for i, f := range fs.Factors {
		subs[f.Name] = results[i]
	}
	out := Combine(fs, subs, e.now())
	span.SetAttributes(attribute.Float64("georisk.risk_level", out.RiskLevel))
	if len(out.Errors) > 0 {
		e.log.InfoContext(ctx, "composite computed with fallbacks", "country", country, "factor_set", fs.Name, "errors", len(out.Errors))
	}
	return out, nil
}

// Evaluate runs a single factor's adapter.
func (e *Engine) Evaluate(ctx context.Context, factor, country string) (types.ScoreResult, error) {
	adapter, ok := e.adapters[factor]
	if !ok {
		return types.ScoreResult{}, fmt.Errorf("aggregate.Evaluate: unknown factor %q", factor)
	}
	return e.evaluate(ctx, factor, adapter, country), nil
}

func (e *Engine) evaluate(ctx context.Context, factor string, adapter sources.Adapter, country string) types.ScoreResult {
	ctx, span := e.tracer.Start(ctx, "adapter."+factor)
	defer span.End()

	res := adapter.Evaluate(ctx, country)
	res.Score = scoring.Clamp(res.Score)
	if res.Error != "" {
		span.SetAttributes(attribute.String("georisk.fallback_reason", res.Error))
		e.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("factor", factor)))
	}
	return res
}
