package bookkeeper

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("bookkeeper: not found")
	ErrAlreadyExists = errors.New("bookkeeper: already exists")
	ErrInvalidInput  = errors.New("bookkeeper: invalid input")

	// Payment errors
	ErrMalformedPaymentPayload = errors.New("bookkeeper: malformed payment payload")
	ErrPaymentNotFound         = errors.New("bookkeeper: payment not found")

	// Order errors
	ErrOrderNotFound     = errors.New("bookkeeper: order not found")
	ErrAlreadyFinalized  = errors.New("bookkeeper: order already finalized")
	ErrInvalidTransition = errors.New("bookkeeper: invalid order status transition")

	// Product errors
	ErrProductNotFound = errors.New("bookkeeper: product not found")
	ErrProductInactive = errors.New("bookkeeper: product is inactive")

	// Quota errors
	ErrQuotaNotFound     = errors.New("bookkeeper: quota not found")
	ErrHardLimitExceeded = errors.New("bookkeeper: hard limit exceeded")
	ErrInvalidDelta      = errors.New("bookkeeper: invalid usage delta")
	ErrInvalidQuota      = errors.New("bookkeeper: invalid quota configuration")

	// Store errors
	ErrStoreClosed     = errors.New("bookkeeper: store is closed")
	ErrConflict        = errors.New("bookkeeper: concurrent update conflict")
	ErrMigrationFailed = errors.New("bookkeeper: migration failed")

	// Lock errors
	ErrLockTimeout = errors.New("bookkeeper: lock timeout")
)

// HardLimitError reports a reservation rejected by a quota's hard limit.
// It matches ErrHardLimitExceeded with errors.Is.
type HardLimitError struct {
	Subject   string
	Feature   string
	Usage     int64
	Delta     int64
	HardLimit int64
}

func (e *HardLimitError) Error() string {
	return fmt.Sprintf("bookkeeper: hard limit exceeded for %s/%s: usage %d + %d > %d",
		e.Subject, e.Feature, e.Usage, e.Delta, e.HardLimit)
}

func (e *HardLimitError) Unwrap() error { return ErrHardLimitExceeded }

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("bookkeeper: validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error { return ErrInvalidInput }

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "bookkeeper: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("bookkeeper: %d errors occurred", len(e.Errors))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// ErrOrNil returns e when it holds errors and nil otherwise.
func (e MultiError) ErrOrNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrQuotaNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}

// IsQuotaError returns true if the error is related to quota/limits.
func IsQuotaError(err error) bool {
	return errors.Is(err, ErrHardLimitExceeded) ||
		errors.Is(err, ErrQuotaNotFound) ||
		errors.Is(err, ErrInvalidDelta) ||
		errors.Is(err, ErrInvalidQuota)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrStoreClosed)
}
