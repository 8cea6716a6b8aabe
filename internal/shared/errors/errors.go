// Package errors defines the application error taxonomy.
//
// Four sentinel classes cover every failure this service reports:
// transport failures are retryable, auth failures require re-authentication,
// not-found failures are non-fatal for display purposes, and validation
// failures are surfaced to the caller without any state change.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel error classes.
var (
	// ErrTransport marks network/service-unavailable failures. Retryable.
	ErrTransport = errors.New("transport unavailable")

	// ErrAuth marks invalid or expired credentials. Not retryable; the
	// caller must re-authenticate.
	ErrAuth = errors.New("authentication failed")

	// ErrNotFound marks a missing referenced resource.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation marks malformed or rejected input.
	ErrValidation = errors.New("validation failed")
)

// AppError represents an application error with HTTP status and error code.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Transport wraps err as a retryable transport failure.
func Transport(err error) *AppError {
	return &AppError{
		Code:       "TRANSPORT_ERROR",
		Message:    "service temporarily unavailable",
		StatusCode: http.StatusServiceUnavailable,
		Err:        fmt.Errorf("%w: %w", ErrTransport, err),
	}
}

// Auth creates an authentication error.
func Auth(message string) *AppError {
	if message == "" {
		message = "authentication failed"
	}
	return &AppError{
		Code:       "AUTH_ERROR",
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Err:        ErrAuth,
	}
}

// NotFound creates a not found error for the named resource.
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// Validation creates a validation error.
func Validation(message string) *AppError {
	return &AppError{
		Code:       "VALIDATION_ERROR",
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        ErrValidation,
	}
}
