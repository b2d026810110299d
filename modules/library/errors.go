package library

import (
	"errors"
	"fmt"
)

// Operation-level error taxonomy. All are terminal for the triggering
// request; only ErrUnavailable is eligible for transparent retry, and
// only inside the gateway itself.
var (
	// ErrNotFound indicates the referenced book, request, user, or
	// notification does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates an authenticated caller is not authorized
	// for this action.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict indicates a state precondition was violated: the book
	// is already borrowed, a duplicate pending request exists, or the
	// request is no longer pending.
	ErrConflict = errors.New("conflict")

	// ErrUnauthenticated indicates no valid principal was resolved.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnavailable indicates a persistence or delivery transport failure.
	ErrUnavailable = errors.New("unavailable")
)

// ValidationError reports malformed or out-of-range input that the
// client must fix before retrying.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
