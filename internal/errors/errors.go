// Package errors provides standardized domain errors with codes for the moderation service.
//
// Usage:
//
//	// In services - return typed errors
//	if inFlight {
//	    return errors.ScanInFlight("scan already running for subject")
//	}
//
//	// In handlers - check with errors.Is
//	if errors.Is(err, errors.ErrNotFound) {
//	    return huma.Error404NotFound(err.Error())
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
	New    = errors.New
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeNotFound     Code = "NOT_FOUND"
	CodeValidation   Code = "VALIDATION"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeConflict     Code = "CONFLICT"
	CodeInternal     Code = "INTERNAL"

	// Scan pipeline codes.
	CodeProviderUnavailable Code = "PROVIDER_UNAVAILABLE"
	CodeProviderTimeout     Code = "PROVIDER_TIMEOUT"
	CodeScanInFlight        Code = "SCAN_IN_FLIGHT"

	// Label authority codes.
	CodeSigningKeyUnavailable Code = "SIGNING_KEY_UNAVAILABLE"
	CodeSequenceConflict      Code = "SEQUENCE_CONFLICT"

	// Review workflow codes.
	CodeUnknownResolution Code = "UNKNOWN_RESOLUTION"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation, CodeUnknownResolution:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeConflict, CodeScanInFlight:
		return http.StatusConflict
	case CodeProviderUnavailable, CodeProviderTimeout:
		return http.StatusBadGateway
	case CodeSigningKeyUnavailable, CodeSequenceConflict:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error  // unexported, for wrapping
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target matches this error.
// Matches if target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		cause:   e.cause,
	}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		cause:   err,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrNotFound              = &Error{Code: CodeNotFound, Message: "not found"}
	ErrValidation            = &Error{Code: CodeValidation, Message: "validation error"}
	ErrUnauthorized          = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrConflict              = &Error{Code: CodeConflict, Message: "conflict"}
	ErrInternal              = &Error{Code: CodeInternal, Message: "internal error"}
	ErrProviderUnavailable   = &Error{Code: CodeProviderUnavailable, Message: "recognition provider unavailable"}
	ErrProviderTimeout       = &Error{Code: CodeProviderTimeout, Message: "recognition provider timed out"}
	ErrScanInFlight          = &Error{Code: CodeScanInFlight, Message: "scan already in flight for subject"}
	ErrSigningKeyUnavailable = &Error{Code: CodeSigningKeyUnavailable, Message: "signing key unavailable"}
	ErrSequenceConflict      = &Error{Code: CodeSequenceConflict, Message: "label sequence conflict"}
	ErrUnknownResolution     = &Error{Code: CodeUnknownResolution, Message: "unknown resolution"}
)

// Constructor functions for creating errors with custom messages.

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(msg string) *Error {
	return &Error{Code: CodeUnauthorized, Message: msg}
}

// Conflict creates a conflict error.
func Conflict(msg string) *Error {
	return &Error{Code: CodeConflict, Message: msg}
}

// Conflictf creates a conflict error with formatted message.
func Conflictf(format string, args ...any) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

// Internal creates an internal error.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// Internalf creates an internal error with formatted message.
func Internalf(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// ProviderUnavailable creates a provider unavailable error.
func ProviderUnavailable(msg string) *Error {
	return &Error{Code: CodeProviderUnavailable, Message: msg}
}

// ProviderTimeout creates a provider timeout error.
func ProviderTimeout(msg string) *Error {
	return &Error{Code: CodeProviderTimeout, Message: msg}
}

// ScanInFlight creates a scan in flight error.
func ScanInFlight(msg string) *Error {
	return &Error{Code: CodeScanInFlight, Message: msg}
}

// SigningKeyUnavailable creates a signing key unavailable error.
func SigningKeyUnavailable(msg string) *Error {
	return &Error{Code: CodeSigningKeyUnavailable, Message: msg}
}

// SequenceConflict creates a sequence conflict error.
func SequenceConflict(msg string) *Error {
	return &Error{Code: CodeSequenceConflict, Message: msg}
}

// UnknownResolution creates an unknown resolution error.
func UnknownResolution(msg string) *Error {
	return &Error{Code: CodeUnknownResolution, Message: msg}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}
