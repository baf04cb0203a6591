package settle

import (
	"errors"
	"fmt"

	"github.com/xraph/settle/catalog"
	"github.com/xraph/settle/event"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("settle: not found")
	ErrAlreadyExists = errors.New("settle: already exists")
	ErrConflict      = errors.New("settle: concurrent modification")

	// Authentication errors
	ErrAuthentication = errors.New("settle: event authentication failed")

	// Record errors
	ErrSubscriptionNotFound = errors.New("settle: subscription not found")
	ErrInvoiceNotFound      = errors.New("settle: invoice not found")
	ErrEventNotFound        = errors.New("settle: processed event not found")

	// Catalog errors
	ErrNotConfigured = catalog.ErrNotConfigured
	ErrInvalidFormat = catalog.ErrInvalidFormat

	// Event errors
	ErrMalformedEvent = event.ErrMalformed

	// Store errors
	ErrStoreClosed     = errors.New("settle: store is closed")
	ErrMigrationFailed = errors.New("settle: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("settle: validation failed for %s: %s", e.Field, e.Message)
}

// UpstreamError is a failure reported by the payment processor.
type UpstreamError struct {
	Op      string
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Message == "" && e.Err != nil {
		return fmt.Sprintf("settle: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("settle: %s: %s", e.Op, e.Message)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PersistenceError wraps a store failure. It is always retryable.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("settle: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrEventNotFound)
}

// IsValidation returns true if err carries a ValidationError.
func IsValidation(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// IsRetryable returns true if the error is temporary and the processor
// should redeliver the event.
//
// A subscription or invoice that cannot be found yet is retryable: the event
// creating it may simply not have arrived.
func IsRetryable(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrInvoiceNotFound)
}
