package voila

import "github.com/voiladb/voila/internal/apierr"

// Error is the error type returned by the router and middleware surfaces.
// It carries a Kind and an HTTP status code for direct mapping.
type Error = apierr.Error

// ErrorKind classifies an Error.
type ErrorKind = apierr.Kind

const (
	KindConfiguration = apierr.KindConfiguration
	KindAPIUsage      = apierr.KindAPIUsage
	KindInvalidID     = apierr.KindInvalidID
	KindNotFound      = apierr.KindNotFound
	KindConflict      = apierr.KindConflict
	KindDriver        = apierr.KindDriver
)

// AsError extracts an *Error from err if possible.
func AsError(err error) (*Error, bool) {
	return apierr.AsError(err)
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return apierr.Is(err, kind)
}
