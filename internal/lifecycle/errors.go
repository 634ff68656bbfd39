package lifecycle

import (
	"errors"
	"fmt"

	"github.com/hyderomar92-ai/safeguard/internal/store"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned (wrapped with the id) for unknown case ids.
	ErrNotFound = store.ErrNotFound
	// ErrInvariantViolation is returned when an operation would break a case
	// invariant, such as completing a step the report does not list.
	ErrInvariantViolation = errors.New("invariant violation")
)

// ValidationError reports a bad input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
