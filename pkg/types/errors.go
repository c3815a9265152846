package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ──────────────────────────────────────────────────────────────────────────────
// Validation error (returned during manifest and argument parsing)
// ──────────────────────────────────────────────────────────────────────────────

type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// ──────────────────────────────────────────────────────────────────────────────
// Tool invocation errors
// ──────────────────────────────────────────────────────────────────────────────

// MissingParameterError is returned when a path placeholder has no argument.
// It is raised before any network call and is never retried.
type MissingParameterError struct {
	Tool  string
	Param string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("Missing path parameter: %s", e.Param)
}

// UpstreamError is a non-2xx response other than the normalized not-found case.
type UpstreamError struct {
	Tool       string
	URL        string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream %s returned %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

// ErrDuplicateTool is a configuration error surfaced at synthesis time.
var ErrDuplicateTool = errors.New("duplicate tool name")

// ErrUnknownTool is returned when a caller names a tool not in the toolset.
var ErrUnknownTool = errors.New("unknown tool")

// ──────────────────────────────────────────────────────────────────────────────
// APIError is the structured error returned to callers.
// ──────────────────────────────────────────────────────────────────────────────

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   any    `json:"details,omitempty"`
	HTTPCode  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WriteJSON writes the error as JSON to the response writer.
func (e *APIError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPCode)
	_ = json.NewEncoder(w).Encode(e)
}

// ──────────────────────────────────────────────────────────────────────────────
// Common error constructors
// ──────────────────────────────────────────────────────────────────────────────

func ErrBadRequest(msg string) *APIError {
	return &APIError{Code: "BAD_REQUEST", Message: msg, HTTPCode: http.StatusBadRequest}
}

func ErrValidation(err error) *APIError {
	return &APIError{Code: "VALIDATION_ERROR", Message: err.Error(), HTTPCode: http.StatusUnprocessableEntity}
}

func ErrUnauthorized(msg string) *APIError {
	return &APIError{Code: "UNAUTHORIZED", Message: msg, HTTPCode: http.StatusUnauthorized}
}

func ErrNotFound(msg string) *APIError {
	return &APIError{Code: "NOT_FOUND", Message: msg, HTTPCode: http.StatusNotFound}
}

func ErrInternal(msg string) *APIError {
	return &APIError{Code: "INTERNAL_ERROR", Message: msg, Retryable: true, HTTPCode: http.StatusInternalServerError}
}

func ErrRateLimited() *APIError {
	return &APIError{Code: "RATE_LIMITED", Message: "too many requests", Retryable: true, HTTPCode: http.StatusTooManyRequests}
}

func ErrMissingParameter(err *MissingParameterError) *APIError {
	return &APIError{Code: "MISSING_PARAMETER", Message: err.Error(), Details: map[string]string{"param": err.Param}, HTTPCode: http.StatusBadRequest}
}

func ErrUpstream(err *UpstreamError) *APIError {
	return &APIError{
		Code:      "UPSTREAM_ERROR",
		Message:   fmt.Sprintf("tool %s upstream returned %d", err.Tool, err.StatusCode),
		Retryable: err.StatusCode >= 500,
		Details:   map[string]int{"status_code": err.StatusCode},
		HTTPCode:  http.StatusBadGateway,
	}
}

// ErrFromInvoke maps a tool invocation error onto the API error taxonomy.
func ErrFromInvoke(err error) *APIError {
	var missing *MissingParameterError
	var upstream *UpstreamError
	var validation *ValidationError
	switch {
	case errors.As(err, &missing):
		return ErrMissingParameter(missing)
	case errors.As(err, &upstream):
		return ErrUpstream(upstream)
	case errors.As(err, &validation):
		return ErrValidation(validation)
	case errors.Is(err, ErrUnknownTool):
		return ErrNotFound(err.Error())
	default:
		return &APIError{Code: "UPSTREAM_ERROR", Message: err.Error(), Retryable: true, HTTPCode: http.StatusBadGateway}
	}
}
