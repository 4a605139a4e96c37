package errors

import (
	"errors"
	"fmt"
)

// APIError represents a standardized error carried across the dispatcher,
// gateway, and REST surfaces.
type APIError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	Details string    `json:"details,omitempty"`
	Status  int       `json:"-"`

	cause error
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains
func (e *APIError) Unwrap() error {
	return e.cause
}

// WithDetails adds additional details to an error
func (e *APIError) WithDetails(details string) *APIError {
	e.Details = details
	return e
}

// Validation creates a VALIDATION_ERROR for a malformed or missing input,
// rejected before any persistence.
func Validation(field, message string) *APIError {
	return &APIError{
		Code:    ErrValidation,
		Message: message,
		Field:   field,
		Status:  ErrValidation.StatusCode(),
	}
}

// Auth creates an AUTH_ERROR; the connection is refused and no binding is created.
func Auth(message string) *APIError {
	return &APIError{
		Code:    ErrAuth,
		Message: message,
		Status:  ErrAuth.StatusCode(),
	}
}

// Storage creates a STORAGE_ERROR wrapping a persistence-layer failure.
// The operation is aborted with no partial state.
func Storage(operation string, cause error) *APIError {
	return &APIError{
		Code:    ErrStorage,
		Message: fmt.Sprintf("%s failed", operation),
		Status:  ErrStorage.StatusCode(),
		cause:   cause,
	}
}

// NotFound creates a NOT_FOUND error for a nonexistent message or user.
func NotFound(resource string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  ErrNotFound.StatusCode(),
	}
}

// BadRequest creates a BAD_REQUEST error
func BadRequest(message string) *APIError {
	return &APIError{
		Code:    ErrBadRequest,
		Message: message,
		Status:  ErrBadRequest.StatusCode(),
	}
}

// Internal creates an INTERNAL_ERROR
func Internal(message string) *APIError {
	return &APIError{
		Code:    ErrInternalError,
		Message: message,
		Status:  ErrInternalError.StatusCode(),
	}
}

// RateLimited creates a RATE_LIMITED error
func RateLimited(message string) *APIError {
	if message == "" {
		message = "rate limit exceeded"
	}
	return &APIError{
		Code:    ErrRateLimited,
		Message: message,
		Status:  ErrRateLimited.StatusCode(),
	}
}

// AsAPIError extracts the APIError from an error chain
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// CodeOf returns the error code of err, or INTERNAL_ERROR for untyped errors.
func CodeOf(err error) ErrorCode {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ErrInternalError
}

// IsValidation reports whether err is a VALIDATION_ERROR
func IsValidation(err error) bool { return CodeOf(err) == ErrValidation }

// IsAuth reports whether err is an AUTH_ERROR
func IsAuth(err error) bool { return CodeOf(err) == ErrAuth }

// IsStorage reports whether err is a STORAGE_ERROR
func IsStorage(err error) bool { return CodeOf(err) == ErrStorage }

// IsNotFound reports whether err is a NOT_FOUND error
func IsNotFound(err error) bool { return CodeOf(err) == ErrNotFound }
