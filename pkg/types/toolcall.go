// Package types defines the canonical tool, score, and record schemas used across all services.
package types

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// ──────────────────────────────────────────────────────────────────────────────
// Limits
// ──────────────────────────────────────────────────────────────────────────────

const (
	MaxArgumentsBytes = 64 * 1024 // 64 KB
	MaxToolNameBytes  = 128
	NeutralScore      = 0.5
	NotFoundMessage   = "No data found for the specified country or city in the database."
)

// ──────────────────────────────────────────────────────────────────────────────
// Method is the closed set of HTTP verbs a tool may use.
// ──────────────────────────────────────────────────────────────────────────────

type Method string

const (
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodDelete Method = http.MethodDelete
)

// ParseMethod maps a manifest method string onto Method. An empty string
// defaults to POST, matching how manifests without a request block are served.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		return MethodPost, nil
	case http.MethodGet:
		return MethodGet, nil
	case http.MethodPost:
		return MethodPost, nil
	case http.MethodPut:
		return MethodPut, nil
	case http.MethodDelete:
		return MethodDelete, nil
	default:
		return "", &ValidationError{Field: "request.method", Reason: fmt.Sprintf("unsupported method %q", s)}
	}
}

// Placement says where unconsumed arguments travel.
type Placement int

const (
	PlacementQuery Placement = iota
	PlacementBody
)

// Placement returns query for GET/DELETE and body for POST/PUT.
func (m Method) Placement() Placement {
	switch m {
	case MethodPost, MethodPut:
		return PlacementBody
	default:
		return PlacementQuery
	}
}

// Cacheable reports whether responses to this method may be served from cache.
func (m Method) Cacheable() bool { return m == MethodGet }

// ──────────────────────────────────────────────────────────────────────────────
// ParamKind is the closed set of argument kinds.
// ──────────────────────────────────────────────────────────────────────────────

type ParamKind string

const (
	KindString  ParamKind = "string"
	KindNumber  ParamKind = "number"
	KindInteger ParamKind = "integer"
	KindBoolean ParamKind = "boolean"
	KindObject  ParamKind = "object"
)

// ParseKind maps a JSON-schema type name onto a ParamKind.
// Unknown or missing types fall back to string.
func ParseKind(s string) ParamKind {
	switch ParamKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindNumber:
		return KindNumber
	case KindInteger:
		return KindInteger
	case KindBoolean:
		return KindBoolean
	case KindObject:
		return KindObject
	default:
		return KindString
	}
}

type ParamSpec struct {
	Name     string    `json:"name"`
	Kind     ParamKind `json:"kind"`
	Required bool      `json:"required"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ToolDescriptor is one manifest entry, immutable once loaded.
// ──────────────────────────────────────────────────────────────────────────────

type ToolDescriptor struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Params       []ParamSpec     `json:"params"`
	Method       Method          `json:"method"`
	PathTemplate string          `json:"path"`
	InputSchema  json.RawMessage `json:"input_schema,omitempty"`
}

// Validate enforces the descriptor invariants.
func (d *ToolDescriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if len(d.Name) > MaxToolNameBytes {
		return &ValidationError{Field: "name", Reason: fmt.Sprintf("exceeds %d bytes", MaxToolNameBytes)}
	}
	if d.PathTemplate == "" {
		return &ValidationError{Field: "request.path", Reason: "required"}
	}
	seen := make(map[string]bool, len(d.Params))
	for _, p := range d.Params {
		if seen[p.Name] {
			return &ValidationError{Field: "parameters." + p.Name, Reason: "declared twice"}
		}
		seen[p.Name] = true
	}
	return nil
}

// Param returns the named parameter spec.
func (d *ToolDescriptor) Param(name string) (ParamSpec, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// ──────────────────────────────────────────────────────────────────────────────
// ToolCallResult is what an invocation hands back to the agent.
// ──────────────────────────────────────────────────────────────────────────────

type ToolCallResult struct {
	Structured bool            `json:"structured"`
	Value      any             `json:"value,omitempty"`
	Text       string          `json:"text,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

// NotFoundResult is the normalized "no record" outcome of a read-style call.
type NotFoundResult struct {
	Found   bool   `json:"found"`
	Data    []any  `json:"data"`
	Message string `json:"message"`
}

// NewNotFoundResult returns the fixed not-found shape.
func NewNotFoundResult() NotFoundResult {
	return NotFoundResult{Found: false, Data: []any{}, Message: NotFoundMessage}
}

// JSON renders the result for transports that want a single text payload.
func (r *ToolCallResult) JSON() ([]byte, error) {
	if r.Structured {
		return json.Marshal(r.Value)
	}
	return json.Marshal(r.Text)
}

// ──────────────────────────────────────────────────────────────────────────────
// API payloads
// ──────────────────────────────────────────────────────────────────────────────

type InvokeToolRequest struct {
	Arguments map[string]any `json:"arguments"`
}

type InvokeToolResponse struct {
	Tool       string `json:"tool"`
	Structured bool   `json:"structured"`
	Result     any    `json:"result"`
	DurationMS int64  `json:"duration_ms"`
}
