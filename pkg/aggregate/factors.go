// Package aggregate combines per-factor sub-scores into a composite risk
// level using named, weighted factor tables.
package aggregate

import (
	"sort"
	"strconv"
	"strings"

	"github.com/bturcanu/georisk/pkg/sources"
)

// Factor is one weighted term. Inverted factors contribute w·(1-s).
type Factor struct {
	Name     string  `json:"name"`
	Weight   float64 `json:"weight"`
	Inverted bool    `json:"inverted"`
}

// FactorSet is an ordered weight table. Weights normally sum to 100.
type FactorSet struct {
	Name    string   `json:"name"`
	Factors []Factor `json:"factors"`
}

var (
	TravelAdvisory = FactorSet{
		Name: "travel_advisory",
		Factors: []Factor{
			{Name: sources.FactorMilitary, Weight: 25},
			{Name: sources.FactorEconomy, Weight: 25, Inverted: true},
			{Name: sources.FactorSafety, Weight: 25, Inverted: true},
			{Name: sources.FactorUncertainty, Weight: 15},
			{Name: sources.FactorAdvisory, Weight: 10},
		},
	}

	// HazardMarket trades the advisory feed for natural hazards and gold
	// market attention.
	HazardMarket = FactorSet{
		Name: "hazard_market",
		Factors: []Factor{
			{Name: sources.FactorMilitary, Weight: 20},
			{Name: sources.FactorHazard, Weight: 15},
			{Name: sources.FactorEconomy, Weight: 20, Inverted: true},
			{Name: sources.FactorSafety, Weight: 20, Inverted: true},
			{Name: sources.FactorGold, Weight: 15},
			{Name: sources.FactorUncertainty, Weight: 10},
		},
	}

	// Signals scores caller-supplied observations rather than live sources.
	Signals = FactorSet{
		Name: "signals",
		Factors: []Factor{
			{Name: sources.FactorMilitary, Weight: 25},
			{Name: sources.FactorHazard, Weight: 25},
			{Name: sources.FactorEconomy, Weight: 25, Inverted: true},
			{Name: sources.FactorSafety, Weight: 25, Inverted: true},
		},
	}
)

var builtin = map[string]FactorSet{
	TravelAdvisory.Name: TravelAdvisory,
	HazardMarket.Name:   HazardMarket,
	Signals.Name:        Signals,
}

// Builtin returns a built-in factor set by name.
func Builtin(name string) (FactorSet, bool) {
	fs, ok := builtin[name]
	return fs, ok
}

// BuiltinNames lists the built-in set names in sorted order.
func BuiltinNames() []string {
	names := make([]string, 0, len(builtin))
	for n := range builtin {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Formula renders the weighted sum, e.g. "25*military + 25*(1-economy)".
func (fs FactorSet) Formula() string {
	terms := make([]string, len(fs.Factors))
	for i, f := range fs.Factors {
		w := strconv.FormatFloat(f.Weight, 'f', -1, 64)
		if f.Inverted {
			terms[i] = w + "*(1-" + f.Name + ")"
		} else {
			terms[i] = w + "*" + f.Name
		}
	}
	return strings.Join(terms, " + ")
}

// FactorNames returns the factor names in table order.
func (fs FactorSet) FactorNames() []string {
	out := make([]string, len(fs.Factors))
	for i, f := range fs.Factors {
		out[i] = f.Name
	}
	return out
}
