package graph

import (
	"errors"
	"fmt"
)

// Error taxonomy for the query engine. Every failure path surfaces one of
// these; callers branch with errors.Is / errors.As.
var (
	// ErrNotFound: unknown decision ID. Terminal, never retried.
	ErrNotFound = errors.New("not found")

	// ErrConflict: duplicate (source, target, type) triple or a
	// concurrent-write collision. Callers may retry with backoff.
	ErrConflict = errors.New("conflict")

	// ErrStoreUnavailable: pool exhaustion, open circuit, or the store is
	// down. Transient; internal retries were already performed.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrTimeout: a query exceeded its deadline. The result is discarded,
	// never partial.
	ErrTimeout = errors.New("timeout")
)

// ValidationError rejects malformed or out-of-range input before any
// store access.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// NewValidation builds a ValidationError for the given field.
func NewValidation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
