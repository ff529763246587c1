package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrProductNotFound is returned when a product record cannot be found
	ErrProductNotFound = errors.New("product not found")

	// ErrNoRecentProducts is returned when a comparison has nothing recent to compare
	ErrNoRecentProducts = errors.New("no recent products to compare")

	// ErrUnparseablePrice is the sentinel behind every NormalizationError
	ErrUnparseablePrice = errors.New("unparseable price text")

	// ErrInvalidObservation is the sentinel behind every ValidationError
	ErrInvalidObservation = errors.New("invalid observation")

	// ErrStorageUnavailable is the sentinel behind every TransientStorageError
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrFeedUnavailable is returned when an observation feed cannot be read
	ErrFeedUnavailable = errors.New("observation feed unavailable")

	// ErrRateLimited is returned when rate limit is exceeded
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrCacheMiss is returned when data is not found in cache
	ErrCacheMiss = errors.New("cache miss")
)

// NormalizationError reports price text that could not be turned into an amount.
// The observation carrying it is dropped; the batch goes on.
type NormalizationError struct {
	Field string
	Raw   string
}

func (e *NormalizationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %q", ErrUnparseablePrice, e.Raw)
	}
	return fmt.Sprintf("%s: %s=%q", ErrUnparseablePrice, e.Field, e.Raw)
}

func (e *NormalizationError) Unwrap() error { return ErrUnparseablePrice }

// ValidationError rejects an observation before reconciliation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidObservation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidObservation }

// TransientStorageError wraps a failure at the persistence boundary.
// It is safe to retry the operation that produced it.
type TransientStorageError struct {
	Op  string
	Err error
}

func (e *TransientStorageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStorageUnavailable, e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the driver error to errors.Is / errors.As.
func (e *TransientStorageError) Unwrap() []error { return []error{ErrStorageUnavailable, e.Err} }

// NewTransientStorageError wraps err unless it is nil or already transient.
func NewTransientStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var tse *TransientStorageError
	if errors.As(err, &tse) {
		return err
	}
	return &TransientStorageError{Op: op, Err: err}
}

// IsTransient reports whether err came from the persistence boundary.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
