// Package errors provides error handling for emisor.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNoNewData) {
//	    // handle the empty-input case
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	GetAllDetails = crdb.GetAllDetails
	GetAllHints   = crdb.GetAllHints
)

// Sentinel errors for the emission pipeline.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrValidation indicates a batch failed input validation before submission
	ErrValidation = New("validation failed")

	// ErrNoNewData indicates valid input produced zero batch units to process.
	// This is not a failure: runs hitting this condition report success-no-data.
	ErrNoNewData = New("no new data to process")

	// ErrAllRejected indicates every insured in a batch unit carried active
	// coverage, so no filtered resubmission was possible
	ErrAllRejected = New("all individuals rejected")

	// ErrSessionFinalized indicates a coordination session already emitted
	// its final report and accepts no further automatic emissions
	ErrSessionFinalized = New("session already finalized")

	// ErrCoordinationTimeout indicates the counterpart pipeline never
	// completed within the bounded wait window
	ErrCoordinationTimeout = New("coordination wait timed out")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsNoNewDataError checks if an error is or wraps ErrNoNewData.
func IsNoNewDataError(err error) bool {
	return err != nil && Is(err, ErrNoNewData)
}

// IsValidationError checks if an error is or wraps ErrValidation.
func IsValidationError(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewValidationError creates a validation error with a formatted message
func NewValidationError(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}
