// Package scoring maps raw observations onto normalized risk sub-scores.
package scoring

import "math"

// Breakpoint is an inclusive upper bound and the score assigned below it.
type Breakpoint struct {
	Limit float64
	Score float64
}

// Thresholds is an ordered breakpoint table. Limits must be ascending.
type Thresholds []Breakpoint

// Score returns the score of the first breakpoint whose limit is >= value,
// or the last breakpoint's score when value exceeds every limit.
// An empty table scores the neutral 0.5.
func (t Thresholds) Score(value float64) float64 {
	if len(t) == 0 {
		return 0.5
	}
	if math.IsNaN(value) {
		return Clamp(t[len(t)-1].Score)
	}
	for _, bp := range t {
		if value <= bp.Limit {
			return Clamp(bp.Score)
		}
	}
	return Clamp(t[len(t)-1].Score)
}

// Clamp bounds x to [0,1]. NaN maps to 0.
func Clamp(x float64) float64 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	default:
		return x
	}
}

// Round2 rounds to two decimal places, half away from zero.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// ──────────────────────────────────────────────────────────────────────────────
// Factor tables
// ──────────────────────────────────────────────────────────────────────────────

var (
	// GDP per capita, current USD. Richer economies score higher.
	Economy = Thresholds{{2000, 0.2}, {5000, 0.4}, {15000, 0.6}, {30000, 0.8}, {1e7, 0.95}}

	// Intentional homicides per 100k. Fewer homicides score safer.
	Safety = Thresholds{{1, 0.9}, {3, 0.8}, {5, 0.7}, {10, 0.5}, {20, 0.3}, {1e4, 0.1}}

	// Conflict-themed geolocated event count.
	Military = Thresholds{{0, 0.1}, {5, 0.2}, {20, 0.4}, {50, 0.6}, {100, 0.8}, {1000, 1.0}}

	// Summed article volume for economic-policy uncertainty terms.
	Uncertainty = Thresholds{{0, 0.1}, {10, 0.3}, {50, 0.5}, {100, 0.7}, {500, 0.85}, {1e4, 0.95}}

	// Summed article volume for gold and bullion coverage.
	Gold = Thresholds{{0, 0.1}, {5, 0.3}, {20, 0.5}, {50, 0.7}, {200, 0.85}, {1e4, 0.95}}

	// M4.5+ earthquakes inside the country bounding box over 30 days.
	Hazard = Thresholds{{0, 0.1}, {2, 0.3}, {5, 0.5}, {15, 0.7}, {40, 0.85}, {1e5, 1.0}}
)

// AdvisoryLevels maps travel advisory levels 1–4 to a score.
var AdvisoryLevels = map[int]float64{1: 0.1, 2: 0.3, 3: 0.7, 4: 1.0}

// AdvisoryScore returns the mapped score, or 0.5 for any other level.
func AdvisoryScore(level int) float64 {
	if s, ok := AdvisoryLevels[level]; ok {
		return s
	}
	return 0.5
}
