package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeConnection   ErrorCode = "CONNECTION_ERROR"
	ErrCodeSend         ErrorCode = "SEND_ERROR"
	ErrCodeNegotiation  ErrorCode = "NEGOTIATION_ERROR"
	ErrCodeICE          ErrorCode = "ICE_ERROR"
	ErrCodeAuth         ErrorCode = "AUTH_ERROR"
	ErrCodeDecode       ErrorCode = "DECODE_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and context.
// Retryable tells the session whether the reconnect policy applies.
type AppError struct {
	Code       ErrorCode
	Message    string
	Retryable  bool
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Retryable:  retryableByDefault(code),
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	appErr := NewAppError(code, message, httpStatus)
	appErr.Cause = err
	return appErr
}

func retryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnection, ErrCodeSend, ErrCodeICE:
		return true
	default:
		return false
	}
}

// Transport-level failure: handshake, timeout, closed connection.
func NewConnectionError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeConnection, message, http.StatusBadGateway)
}

func NewSendError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeSend, message, http.StatusServiceUnavailable)
}

// Malformed or incompatible SDP. Never retried.
func NewNegotiationError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeNegotiation, message, http.StatusUnprocessableEntity)
}

func NewIceError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeICE, message, http.StatusBadGateway)
}

// Server rejected the subscribe request. Never retried.
func NewAuthError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeAuth, message, http.StatusUnauthorized)
}

func NewDecodeError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeDecode, message, http.StatusInternalServerError)
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ErrCodeConflict, message, http.StatusConflict)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	return GetAppError(err) != nil
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// CodeOf returns the code of the first AppError in the chain, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Code == code
}

// IsRetryable reports whether the reconnect policy may retry after err.
// Errors outside the taxonomy are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Retryable
	}
	return true
}

func IsConnectionError(err error) bool  { return HasCode(err, ErrCodeConnection) }
func IsSendError(err error) bool        { return HasCode(err, ErrCodeSend) }
func IsNegotiationError(err error) bool { return HasCode(err, ErrCodeNegotiation) }
func IsIceError(err error) bool         { return HasCode(err, ErrCodeICE) }
func IsAuthError(err error) bool        { return HasCode(err, ErrCodeAuth) }
func IsDecodeError(err error) bool      { return HasCode(err, ErrCodeDecode) }
