// Package errors provides structured error handling with typed error codes.
//
// Error codes are organized into categories:
//   - General errors (1-99): Unknown and general errors
//   - Configuration errors (100-199): Invalid parameters, configuration and versions
//   - Storage errors (200-299): Connectivity, schema, chunk load and query failures
//   - Data errors (300-399): Normalization defects and malformed dates
//   - Market data errors (700-799): Provider fetch and parse failures
//
// Usage:
//
//	// Create a new error
//	err := errors.New(errors.ErrCodeInvalidParameter, "invalid parameter value")
//
//	// Create a formatted error
//	err := errors.Newf(errors.ErrCodeTickerNotFound, "ticker %s not found", ticker)
//
//	// Wrap an existing error
//	err := errors.Wrap(errors.ErrCodeStorageUnreachable, "failed to ping storage", originalErr)
//
//	// Check error code
//	if errors.HasCode(err, errors.ErrCodeSchemaIncompatible) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Error represents a structured error with an error code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   nil,
	}
}

// Newf creates a new Error with the given code and formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   nil,
	}
}

// Wrap wraps an existing error with a new Error containing the given code and message.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Wrapf wraps an existing error with a new Error containing the given code and formatted message.
func Wrapf(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around the standard errors.Is function.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around the standard errors.As function.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetCode extracts the ErrorCode from an error if it's an *Error type.
// Returns ErrCodeUnknown if the error is not an *Error type.
func GetCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return ErrCodeUnknown
}

// HasCode checks if an error has a specific ErrorCode.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// NormalizationDefectError is raised when a provider breaks its data contract in a
// way the validator cannot catch, e.g. a fractional share volume. It signals a
// defect worth escalating rather than an ordinary rejected observation.
type NormalizationDefectError struct {
	Ticker  string
	Date    string
	Field   string
	Value   float64
	Message string
}

// NewNormalizationDefect creates a new NormalizationDefectError.
func NewNormalizationDefect(ticker, date, field string, value float64, message string) *NormalizationDefectError {
	return &NormalizationDefectError{
		Ticker:  ticker,
		Date:    date,
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Error implements the error interface.
func (e *NormalizationDefectError) Error() string {
	return fmt.Sprintf("[%d] %s %s: %s=%v: %s", ErrCodeNormalizationDefect, e.Ticker, e.Date, e.Field, e.Value, e.Message)
}

// IsNormalizationDefect checks if an error is a NormalizationDefectError.
// It uses errors.As to check the error chain.
func IsNormalizationDefect(err error) bool {
	var defect *NormalizationDefectError

	return errors.As(err, &defect)
}
