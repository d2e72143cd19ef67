package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates the request was rejected before any mutation.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock occurs when an outbound movement exceeds available stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDuplicate indicates a uniqueness constraint was hit.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrConcurrentUpdate signals a serialization or write conflict; retrying may succeed.
	ErrConcurrentUpdate = errors.New("concurrent update")
	// ErrUnavailable indicates the backing store failed or aborted the unit of work.
	ErrUnavailable = errors.New("store unavailable")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is reports ErrValidation so callers can match the kind.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// StoreError wraps an infrastructure failure with the operation that produced it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is reports ErrUnavailable so callers can match the kind.
func (e *StoreError) Is(target error) bool {
	return target == ErrUnavailable
}

// WrapStore turns an unexpected persistence error into a StoreError. Domain errors pass through.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) || errors.Is(err, ErrConcurrentUpdate) || errors.Is(err, ErrUnavailable) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsDomainError reports whether err is an application level rejection.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicate)
}

// IsRetryable reports whether the failed operation had no effect and may be resubmitted.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate) || errors.Is(err, ErrUnavailable)
}
