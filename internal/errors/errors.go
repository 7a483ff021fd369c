// Package errors provides typed error definitions for appmanager.
// Every failure that crosses a package boundary is an *AppError carrying a
// stable code, so the reconciler can classify runtime failures and the
// device API can map them onto HTTP statuses.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique identifier for different error types
type ErrorCode string

const (
	// Configuration errors
	ErrConfigNotFound   ErrorCode = "CONFIG_NOT_FOUND"
	ErrConfigInvalid    ErrorCode = "CONFIG_INVALID"
	ErrConfigParse      ErrorCode = "CONFIG_PARSE"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Reconciliation taxonomy
	ErrValidationFailed   ErrorCode = "VALIDATION_FAILED"
	ErrRuntimeUnavailable ErrorCode = "RUNTIME_UNAVAILABLE"
	ErrOperationFailed    ErrorCode = "OPERATION_FAILED"
	ErrConflict           ErrorCode = "CONFLICT"
	ErrLockBusy           ErrorCode = "LOCK_BUSY"

	// Lookup errors
	ErrAppNotFound       ErrorCode = "APP_NOT_FOUND"
	ErrServiceNotFound   ErrorCode = "SERVICE_NOT_FOUND"
	ErrContainerNotFound ErrorCode = "CONTAINER_NOT_FOUND"
	ErrRunNotFound       ErrorCode = "RUN_NOT_FOUND"
	ErrNotFound          ErrorCode = "NOT_FOUND"

	// Database errors
	ErrDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	ErrDatabaseQuery      ErrorCode = "DATABASE_QUERY"
	ErrDatabaseMigration  ErrorCode = "DATABASE_MIGRATION"

	// Client errors
	ErrNetworkConnection ErrorCode = "NETWORK_CONNECTION"
	ErrAPICall           ErrorCode = "API_CALL"

	// Input errors
	ErrInvalidInput ErrorCode = "INVALID_INPUT"
	ErrInvalidPort  ErrorCode = "INVALID_PORT"

	// Internal errors
	ErrInternal  ErrorCode = "INTERNAL_ERROR"
	ErrCancelled ErrorCode = "CANCELLED"
)

// AppError represents a structured error with additional context
type AppError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    string                 `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause adds the underlying cause error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// GetHTTPStatus returns the appropriate HTTP status code for this error
func (e *AppError) GetHTTPStatus() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}

	switch e.Code {
	case ErrAppNotFound, ErrServiceNotFound, ErrContainerNotFound, ErrRunNotFound, ErrNotFound, ErrConfigNotFound:
		return http.StatusNotFound
	case ErrValidationFailed, ErrInvalidInput, ErrInvalidPort:
		return http.StatusBadRequest
	case ErrConflict:
		return http.StatusConflict
	case ErrRuntimeUnavailable:
		return http.StatusServiceUnavailable
	case ErrOperationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// NewWithDetails creates a new AppError with details
func NewWithDetails(code ErrorCode, message, details string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Wrap creates a new AppError that wraps an existing error
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WrapWithDetails creates a new AppError with details that wraps an existing error
func WrapWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}

// As returns the first *AppError in err's chain.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// GetCode extracts the error code from the first AppError in the chain
func GetCode(err error) ErrorCode {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return ""
}

// HasCode checks if an error has a specific error code
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// IsNotFound reports whether err is any of the lookup failures.
func IsNotFound(err error) bool {
	switch GetCode(err) {
	case ErrAppNotFound, ErrServiceNotFound, ErrContainerNotFound, ErrRunNotFound, ErrNotFound:
		return true
	}
	return false
}
