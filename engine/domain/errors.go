package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrEmptyDocument     = errors.New("empty document")
	ErrEmptyQuestion     = errors.New("empty question")
	ErrInvalidSession    = errors.New("invalid session id")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrDocumentTooLarge  = errors.New("document too large")
)

// ErrEmbeddingUnavailable is wrapped by embedder failures.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// DependencyError reports a failed call to the embedder or the store.
type DependencyError struct {
	Dependency string // "embedder", "store"
	Op         string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Dependency, e.Op, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsDependency reports whether err is a dependency failure.
func IsDependency(err error) bool {
	var de *DependencyError
	return errors.As(err, &de)
}

// IsRetryable reports whether a failed call may succeed when repeated.
// Validation errors and cancellation are final.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case IsValidation(err):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}
