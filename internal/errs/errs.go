// Package errs defines the error taxonomy shared across Daybreak.
//
// The classes mirror how failures surface at the HTTP boundary:
// authentication and ownership failures end the request, validation
// failures are reported immediately, and storage failures wrap their
// cause and map to a service-unavailable-class response. None of these
// are retried by the server.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for resource-level failures. Wrap them with context
// via fmt.Errorf("...: %w", ...) and test with errors.Is.
var (
	// ErrNotFound indicates the addressed resource does not exist
	// (or is soft-deleted, which reads treat the same way).
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the resource exists but is owned by
	// another user. Never retried.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthenticated indicates a missing, invalid, or expired
	// credential.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// ValidationError reports a malformed request body or field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError for a named field.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// DatabaseError wraps a storage failure. The underlying cause stays
// reachable through Unwrap for logging; callers only see the class.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// DB wraps err as a DatabaseError for the named operation. Returns nil
// when err is nil so store methods can wrap unconditionally.
func DB(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DatabaseError{Op: op, Err: err}
}

// HTTPStatus maps an error to the response status used by the API
// layer. Unknown errors map to 500.
func HTTPStatus(err error) int {
	var ve *ValidationError
	var de *DatabaseError
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &de):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the machine-readable code for an error class, used in
// JSON error envelopes.
func Code(err error) string {
	var ve *ValidationError
	var de *DatabaseError
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.As(err, &ve):
		return "INVALID_REQUEST"
	case errors.As(err, &de):
		return "STORAGE_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}
