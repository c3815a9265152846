package types

import "time"

// ──────────────────────────────────────────────────────────────────────────────
// ScoreResult is one factor's normalized [0,1] sub-score.
// ──────────────────────────────────────────────────────────────────────────────

type ScoreResult struct {
	Score       float64   `json:"score"`
	Value       *float64  `json:"value"`
	Source      string    `json:"source"`
	Error       string    `json:"error,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// Failed reports whether the sub-score is a fallback.
func (s ScoreResult) Failed() bool { return s.Error != "" }

// ──────────────────────────────────────────────────────────────────────────────
// CompositeRiskScore is the weighted combination scaled to [0,100].
// ──────────────────────────────────────────────────────────────────────────────

type CompositeRiskScore struct {
	RiskLevel   float64                `json:"risk_level"`
	FactorSet   string                 `json:"factor_set"`
	Components  map[string]ScoreResult `json:"components"`
	Errors      []string               `json:"errors"`
	Formula     string                 `json:"formula"`
	RetrievedAt time.Time              `json:"retrieved_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// RiskRecord is the persisted per-location score.
// ──────────────────────────────────────────────────────────────────────────────

type RiskRecord struct {
	ID        int64     `json:"id"`
	Country   string    `json:"country"`
	City      string    `json:"city"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	RiskLevel float64   `json:"risk_level"`
	UpdatedAt time.Time `json:"updated_at"`
}

type RiskRecordInput struct {
	Country   string  `json:"country"`
	City      string  `json:"city"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RiskLevel float64 `json:"risk_level"`
}

// RiskRecordPatch carries a partial update; nil fields are left unchanged.
type RiskRecordPatch struct {
	Country   *string  `json:"country,omitempty"`
	City      *string  `json:"city,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	RiskLevel *float64 `json:"risk_level,omitempty"`
}

// Validate enforces the record invariants.
func (in *RiskRecordInput) Validate() error {
	if in.Country == "" {
		return &ValidationError{Field: "country", Reason: "required"}
	}
	if in.Latitude < -90 || in.Latitude > 90 {
		return &ValidationError{Field: "latitude", Reason: "must be -90–90"}
	}
	if in.Longitude < -180 || in.Longitude > 180 {
		return &ValidationError{Field: "longitude", Reason: "must be -180–180"}
	}
	if in.RiskLevel < 0 || in.RiskLevel > 100 {
		return &ValidationError{Field: "risk_level", Reason: "must be 0–100"}
	}
	return nil
}

// Validate checks the fields a patch sets.
func (p *RiskRecordPatch) Validate() error {
	if p.Country != nil && *p.Country == "" {
		return &ValidationError{Field: "country", Reason: "must not be empty"}
	}
	if p.Latitude != nil && (*p.Latitude < -90 || *p.Latitude > 90) {
		return &ValidationError{Field: "latitude", Reason: "must be -90–90"}
	}
	if p.Longitude != nil && (*p.Longitude < -180 || *p.Longitude > 180) {
		return &ValidationError{Field: "longitude", Reason: "must be -180–180"}
	}
	if p.RiskLevel != nil && (*p.RiskLevel < 0 || *p.RiskLevel > 100) {
		return &ValidationError{Field: "risk_level", Reason: "must be 0–100"}
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Broadcast events
// ──────────────────────────────────────────────────────────────────────────────

type RiskUpdatedEvent struct {
	Type string    `json:"type"` // "risk_updated"
	ID   int64     `json:"id"`
	At   time.Time `json:"at"`
}

type MapAction struct {
	Type   string     `json:"type"` // "zoom_to_place"
	Center [2]float64 `json:"center"`
}

type HotspotsRefreshedEvent struct {
	Type     string    `json:"type"` // "hotspots_refreshed"
	Query    string    `json:"query"`
	Timespan string    `json:"timespan"`
	Count    int       `json:"count"`
	At       time.Time `json:"at"`
}
