// Package trades holds the domain errors and date rules shared by the
// ingestion pipeline packages.
package trades

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTrade is returned when the trade identity is missing or malformed.
	ErrInvalidTrade = errors.New("invalid trade")
	// ErrInvalidMaturityDate is returned when the maturity date is absent or in the past.
	ErrInvalidMaturityDate = errors.New("maturity date must be today or in the future")
	// ErrStaleVersion is returned when a lower version than the stored one is submitted.
	ErrStaleVersion = errors.New("version too low")
	// ErrPrimaryStore marks failures of the authoritative store.
	ErrPrimaryStore = errors.New("primary store failure")
)

// PrimaryStoreError wraps a VersionStore failure with the operation that failed.
type PrimaryStoreError struct {
	Op  string
	Err error
}

func (e *PrimaryStoreError) Error() string {
	return fmt.Sprintf("primary store %s: %v", e.Op, e.Err)
}

func (e *PrimaryStoreError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrPrimaryStore) match any PrimaryStoreError.
func (e *PrimaryStoreError) Is(target error) bool { return target == ErrPrimaryStore }

// NewPrimaryStoreError wraps err, returning nil when err is nil.
func NewPrimaryStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PrimaryStoreError{Op: op, Err: err}
}

// StaleVersionError builds an ErrStaleVersion carrying both versions.
func StaleVersionError(tradeID string, incoming, existing int) error {
	return fmt.Errorf("%w: trade %s version %d is lower than stored version %d",
		ErrStaleVersion, tradeID, incoming, existing)
}

// IsBusinessError reports whether err is a caller error that must not be retried.
func IsBusinessError(err error) bool {
	return errors.Is(err, ErrInvalidTrade) ||
		errors.Is(err, ErrInvalidMaturityDate) ||
		errors.Is(err, ErrStaleVersion)
}
