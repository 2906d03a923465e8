package core

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors
var (
	ErrInvalidJobType  = errors.New("retryqueue: job type must not be empty")
	ErrJobTypeTooLong  = errors.New("retryqueue: job type too long")
	ErrEmptyPayload    = errors.New("retryqueue: payload must not be empty")
	ErrPayloadTooLarge = errors.New("retryqueue: payload exceeds size limit")
	ErrInvalidLimit    = errors.New("retryqueue: limit must be positive")
	ErrInvalidAttempts = errors.New("retryqueue: attempts must not be negative")
	ErrInvalidClaim    = errors.New("retryqueue: claim needs a worker id and a lease ending after now")
)

// Storage and lookup errors
var (
	ErrNotFound       = errors.New("retryqueue: job not found")
	ErrNotInitialized = errors.New("retryqueue: database not initialized")
	ErrClosed         = errors.New("retryqueue: database closed")
	ErrLeaseRequired  = errors.New("retryqueue: repository does not support leases")
)

// ValidationError reports malformed input to a repository operation.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v (%s)", e.Err, e.Field)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Invalid wraps err as a ValidationError for field.
func Invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// StorageError reports a failed storage operation. Err is the underlying cause.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("retryqueue: failed to %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Storage wraps err as a StorageError for op. A nil err stays nil.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsStorage reports whether err is or wraps a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// NoRetryError indicates a publish error that should not be retried.
type NoRetryError struct {
	Err error
}

func (e *NoRetryError) Error() string {
	return fmt.Sprintf("no retry: %v", e.Err)
}

func (e *NoRetryError) Unwrap() error {
	return e.Err
}

// NoRetry wraps an error to indicate it should not be retried.
func NoRetry(err error) error {
	return &NoRetryError{Err: err}
}

// RetryAfterError indicates a publish error that should be retried after a delay.
type RetryAfterError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
}

func (e *RetryAfterError) Unwrap() error {
	return e.Err
}

// RetryAfter wraps an error to indicate it should be retried after a delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryAfterError{Err: err, Delay: d}
}
