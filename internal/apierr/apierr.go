package apierr

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind classifies an error for programmatic handling.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindAPIUsage      Kind = "api_usage"
	KindInvalidID     Kind = "invalid_id"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindDriver        Kind = "driver"

	// KindResolver is internal only: resolver failures degrade to fallback
	// URLs and are never surfaced to callers.
	KindResolver Kind = "resolver"
)

// Error represents an error that can be mapped directly to an HTTP response.
type Error struct {
	Kind       Kind   `json:"kind"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	underlying error
}

func (e *Error) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.underlying
}

// StatusCode returns the HTTP status code for the error.
func (e *Error) StatusCode() int {
	return e.Code
}

// WriteJSON writes the error as JSON to the response.
func (e *Error) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	json.NewEncoder(w).Encode(e)
}

// WithDetails returns a copy of the error with details attached.
func (e *Error) WithDetails(details string) *Error {
	clone := *e
	clone.Details = details
	return &clone
}

// WithRequestID returns a copy of the error with a request ID attached.
func (e *Error) WithRequestID(requestID string) *Error {
	clone := *e
	clone.RequestID = requestID
	return &clone
}

// New creates an error with an explicit kind and status code.
func New(kind Kind, code int, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap attaches kind and status code to an underlying error.
func Wrap(err error, kind Kind, code int, message string) *Error {
	return &Error{
		Kind:       kind,
		Code:       code,
		Message:    message,
		underlying: err,
	}
}

// Configuration reports an invalid or incomplete configuration.
func Configuration(format string, args ...any) *Error {
	return New(KindConfiguration, http.StatusInternalServerError, format, args...)
}

// APIUsage reports an illegal call against the router surface. The message
// should enumerate the correct usage.
func APIUsage(format string, args ...any) *Error {
	return New(KindAPIUsage, http.StatusBadRequest, format, args...)
}

// InvalidID reports an organization or tenant identifier that failed
// validation.
func InvalidID(format string, args ...any) *Error {
	return New(KindInvalidID, http.StatusBadRequest, format, args...)
}

// NotFound reports a missing tenant or organization.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, http.StatusNotFound, format, args...)
}

// Conflict reports a tenant or organization that already exists.
func Conflict(format string, args ...any) *Error {
	return New(KindConflict, http.StatusConflict, format, args...)
}

// Driver wraps an adapter or driver error without modifying the underlying
// details.
func Driver(err error) *Error {
	return Wrap(err, KindDriver, http.StatusInternalServerError, "driver error")
}

// Resolver wraps a resolution failure. Internal use only.
func Resolver(err error) *Error {
	return Wrap(err, KindResolver, http.StatusInternalServerError, "resolver error")
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}

// AsError extracts an *Error from err if possible.
func AsError(err error) (*Error, bool) {
	if e, ok := err.(*Error); ok {
		return e, true
	}
	return nil, false
}
