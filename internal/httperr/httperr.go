// Package httperr normalizes every error surfaced over HTTP into one
// structured shape: a kind for taxonomy, an HTTP status, a machine-readable
// code, a human message, and optional detail. Stack detail is attached only
// outside production.
package httperr

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime/debug"
)

// Kind buckets errors into the serving layer's taxonomy.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation_failure"
	KindRateLimit  Kind = "rate_limited"
	KindTooLarge   Kind = "payload_too_large"
	KindUpstream   Kind = "upstream_failure"
	KindInternal   Kind = "internal"
)

// Error is the one shape every non-feed endpoint returns on failure.
type Error struct {
	Kind    Kind   `json:"kind"`
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	// Detail carries field-level validation findings or stack context.
	Detail any `json:"detail,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d %s)", e.Message, e.Status, e.Code)
}

// New builds an Error with explicit fields.
func New(kind Kind, status int, code, message string) *Error {
	return &Error{Kind: kind, Status: status, Code: code, Message: message}
}

// NotFound is a 404 with the standard code.
func NotFound(message string) *Error {
	return New(KindNotFound, http.StatusNotFound, "NOT_FOUND", message)
}

// Validation is a 400 carrying field-level detail.
func Validation(message string, detail any) *Error {
	e := New(KindValidation, http.StatusBadRequest, "VALIDATION_FAILED", message)
	e.Detail = detail
	return e
}

// RateLimited is a 429.
func RateLimited(message string) *Error {
	return New(KindRateLimit, http.StatusTooManyRequests, "RATE_LIMITED", message)
}

// TooLarge is a 413.
func TooLarge(message string) *Error {
	return New(KindTooLarge, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", message)
}

// Internal normalizes an unexpected error. Outside production the cause and a
// stack snapshot are attached as detail.
func Internal(cause error, production bool) *Error {
	e := New(KindInternal, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	if !production && cause != nil {
		e.Detail = map[string]string{
			"cause": cause.Error(),
			"stack": string(debug.Stack()),
		}
	}
	return e
}

// FromPanic normalizes a recovered panic value.
func FromPanic(v any, production bool) *Error {
	return Internal(fmt.Errorf("panic: %v", v), production)
}

// Write serializes the error as the response body, already shaped for direct
// consumption by callers.
func (e *Error) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e)
}
