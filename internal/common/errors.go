package common

import (
	"errors"
	"net/http"
)

// Canonical error codes used across the billing API surface.
const (
	CodeValidation    = "VALIDATION"
	CodeNotFound      = "NOT_FOUND"
	CodeStateConflict = "STATE_CONFLICT"
	CodeForbidden     = "FORBIDDEN"
	CodeProvider      = "PROVIDER_ERROR"
	CodeIntegrity     = "INTEGRITY"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeInternal      = "INTERNAL"
)

// AppError represents an error with an attached code and HTTP status.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// Unwrap allows errors.Is/As to inspect the underlying error.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// ValidationError flags malformed caller input. Never retried automatically.
func ValidationError(message string, err error) *AppError {
	return NewAppError(CodeValidation, message, http.StatusBadRequest, err)
}

// NotFoundError flags an absent plan, order, or code.
func NotFoundError(message string, err error) *AppError {
	return NewAppError(CodeNotFound, message, http.StatusNotFound, err)
}

// StateConflictError flags an operation invalid for the current status.
func StateConflictError(message string, err error) *AppError {
	return NewAppError(CodeStateConflict, message, http.StatusBadRequest, err)
}

// ForbiddenError flags access to a resource owned by a different user.
func ForbiddenError(message string) *AppError {
	return NewAppError(CodeForbidden, message, http.StatusForbidden, nil)
}

// ProviderError flags an upstream payment network failure.
func ProviderError(message string, err error) *AppError {
	return NewAppError(CodeProvider, message, http.StatusBadGateway, err)
}

// IntegrityError flags data that must exist but does not. Always surfaced loudly.
func IntegrityError(message string, err error) *AppError {
	return NewAppError(CodeIntegrity, message, http.StatusInternalServerError, err)
}

// IsAppError checks whether the error is an AppError.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}

// RenderError writes err using the canonical envelope, mapping unknown errors to 500.
func RenderError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
		return
	}
	JSONError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
}
