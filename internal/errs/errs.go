package errs

import (
	"errors"
	"fmt"
)

// Sentinel categories. Callers branch with errors.Is; the API layer maps
// each to a single HTTP status.
var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidState          = errors.New("invalid state for operation")
	ErrAlreadyFinalized      = errors.New("package already finalized")
	ErrConflict              = errors.New("duplicate proposal")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrForbidden             = errors.New("actor not permitted")
)

// ValidationError marks a malformed inbound payload or request. The gateway
// quarantines these and keeps consuming.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed for field %q: %s", e.Field, e.Reason)
}

// Validation builds a field-scoped ValidationError.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFound annotates ErrNotFound with the resource and id.
func NotFound(resource, id string) error {
	return fmt.Errorf("%s %s: %w", resource, id, ErrNotFound)
}

// InvalidState annotates ErrInvalidState with the offending status.
func InvalidState(status string) error {
	return fmt.Errorf("status %s: %w", status, ErrInvalidState)
}
