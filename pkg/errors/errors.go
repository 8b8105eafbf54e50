package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeCancelled  ErrorType = "cancelled"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType         `json:"type"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Common error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrorTypeConflict, "CONFLICT", message)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

func NewExternalError(service, message string) *AppError {
	return NewAppError(ErrorTypeExternal, "EXTERNAL_SERVICE_ERROR", message).
		WithDetail("service", service)
}

func NewConnectionError(resource, message string) *AppError {
	return NewAppError(ErrorTypeConnection, "CONNECTION_ERROR", message).
		WithDetail("resource", resource)
}

func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrorTypeTimeout, "TIMEOUT", fmt.Sprintf("%s timed out", operation))
}

func NewCancelledError(operation string) *AppError {
	return NewAppError(ErrorTypeCancelled, "CANCELLED", fmt.Sprintf("%s was cancelled", operation))
}

// Connector-specific errors
func NewConnectorError(connectorName, message string) *AppError {
	return NewAppError(ErrorTypeExternal, "CONNECTOR_ERROR", message).
		WithDetail("connector", connectorName)
}

func NewQueryError(connectorName, message string) *AppError {
	return NewAppError(ErrorTypeExternal, "QUERY_ERROR", message).
		WithDetail("connector", connectorName)
}

// Check-specific errors
func NewCheckError(checkName, message string) *AppError {
	return NewAppError(ErrorTypeInternal, "CHECK_ERROR", message).
		WithDetail("check", checkName)
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == errorType
	}
	return false
}

// IsNotFound checks if the error represents a missing resource
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the error type if it's an AppError
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}
