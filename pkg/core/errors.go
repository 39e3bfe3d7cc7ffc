// Package core holds the error taxonomy shared by the SDK and the wire
// clients underneath it.
package core

import (
	"errors"
	"fmt"
)

// Error is the canonical API error surfaced by the SDK.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitempty"`
	Underlying error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error for error wrapping.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrCredential     ErrorType = "credential_error"
	ErrPermission     ErrorType = "permission_error"
	ErrDecode         ErrorType = "decode_error"
	ErrFormat         ErrorType = "format_error"
	ErrTimeout        ErrorType = "timeout_error"
	ErrAPI            ErrorType = "api_error"
)

// CodeQuotaExhausted marks credential errors caused by exhausted quota, so
// callers can prompt for re-provisioning instead of retrying blindly.
const CodeQuotaExhausted = "RESOURCE_EXHAUSTED"

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewCredentialError creates a credential error. Covers missing and invalid
// API keys as well as exhausted quota; the code distinguishes the cases.
func NewCredentialError(message, code string) *Error {
	return &Error{Type: ErrCredential, Message: message, Code: code}
}

// NewPermissionError creates a device/permission error.
func NewPermissionError(message string, underlying error) *Error {
	return &Error{Type: ErrPermission, Message: message, Underlying: underlying}
}

// NewDecodeError creates a decode error for malformed payloads.
func NewDecodeError(message string, underlying error) *Error {
	return &Error{Type: ErrDecode, Message: message, Underlying: underlying}
}

// NewFormatError creates a format error for structurally invalid data.
func NewFormatError(message string) *Error {
	return &Error{Type: ErrFormat, Message: message}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(message string) *Error {
	return &Error{Type: ErrTimeout, Message: message}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

// IsType reports whether err is a *core.Error of the given type.
func IsType(err error, t ErrorType) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Type == t
	}
	return false
}

// IsCredential reports whether err requires credential re-provisioning.
func IsCredential(err error) bool { return IsType(err, ErrCredential) }

// IsPermission reports whether err is a device permission failure.
func IsPermission(err error) bool { return IsType(err, ErrPermission) }

// IsTimeout reports whether err is a timeout.
func IsTimeout(err error) bool { return IsType(err, ErrTimeout) }
