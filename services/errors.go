package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeUnavailable  ErrorType = "unavailable"
	ErrorTypeExhausted    ErrorType = "exhausted"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
)

// DomainError represents a structured error with additional context.
// errors.Is matches a sentinel by identity; use the Is*Error helpers to
// match a whole category.
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail to the error.
// Never call it on the package level sentinels; wrap them first.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

var (
	// ErrUnknownBackend is returned when a name does not identify a backend
	ErrUnknownBackend = NewDomainError(ErrorTypeNotFound, "unknown backend", nil)

	// ErrReloadNotFound is returned when a backend has never been reloaded
	ErrReloadNotFound = NewDomainError(ErrorTypeNotFound, "no reload recorded for backend", nil)

	ErrEmptyMessage = NewDomainError(ErrorTypeValidation, "message cannot be empty", nil)

	// ErrBackendUnavailable is returned by a client that has no usable session
	ErrBackendUnavailable = NewDomainError(ErrorTypeUnavailable, "backend unavailable", nil)

	// ErrAllBackendsUnavailable is returned when automatic routing ran out of backends
	ErrAllBackendsUnavailable = NewDomainError(ErrorTypeExhausted, "all backends unavailable", nil)

	// ErrDatabaseError wraps request log storage failures
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)

	ErrUpstream = NewDomainError(ErrorTypeExternal, "backend returned an error", nil)
)

// Error type checking helper functions

func isType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return isType(err, ErrorTypeUnauthorized)
}

// IsUnavailableError checks if an error reports a backend without a session
func IsUnavailableError(err error) bool {
	return isType(err, ErrorTypeUnavailable)
}

// IsExhaustedError checks if automatic routing ran out of backends.
// errors.Is is used so that joined errors carrying the sentinel match too.
func IsExhaustedError(err error) bool {
	return errors.Is(err, ErrAllBackendsUnavailable)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

// IsExternalError checks if an error is an upstream backend error
func IsExternalError(err error) bool {
	return isType(err, ErrorTypeExternal)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExternal wraps an error as an upstream backend error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}
