package errors

import (
	goerrors "errors"
	"fmt"
	"time"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeAuthFailure       ErrCode = "AUTH_FAILURE"
	ErrCodeNotFound          ErrCode = "NOT_FOUND"
	ErrCodeRemoteUnavailable ErrCode = "REMOTE_UNAVAILABLE"
	ErrCodeTimeout           ErrCode = "TIMEOUT"
	ErrCodeRateLimited       ErrCode = "RATE_LIMITED"
	ErrCodeMalformedResponse ErrCode = "MALFORMED_RESPONSE"
	ErrCodeBadRequest        ErrCode = "BAD_REQUEST"
	ErrCodeInternal          ErrCode = "INTERNAL_ERROR"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error

	// Status is the HTTP status returned by the remote API, when there was one.
	Status int
	// RetryAfter is the delay requested by the remote for RATE_LIMITED errors.
	RetryAfter time.Duration
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAuthFailureError creates a new authentication/authorization error
func NewAuthFailureError(message string, status int) *AppError {
	return &AppError{
		Code:    ErrCodeAuthFailure,
		Message: message,
		Status:  status,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  404,
	}
}

// NewRemoteUnavailableError creates an error for 5xx responses and network failures
func NewRemoteUnavailableError(message string, status int, err error) *AppError {
	return &AppError{
		Code:    ErrCodeRemoteUnavailable,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeTimeout,
		Message: message,
		Err:     err,
	}
}

// NewRateLimitedError creates a new rate limited error
func NewRateLimitedError(message string, retryAfter time.Duration) *AppError {
	return &AppError{
		Code:       ErrCodeRateLimited,
		Message:    message,
		Status:     429,
		RetryAfter: retryAfter,
	}
}

// NewMalformedResponseError creates an error for payloads that do not decode
func NewMalformedResponseError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeMalformedResponse,
		Message: message,
		Err:     err,
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or "" if there is none.
func CodeOf(err error) ErrCode {
	var appErr *AppError
	if goerrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsAuthFailure checks if the error is an authentication failure
func IsAuthFailure(err error) bool {
	return CodeOf(err) == ErrCodeAuthFailure
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return CodeOf(err) == ErrCodeNotFound
}

// IsRemoteUnavailable checks if the error is a remote unavailable error
func IsRemoteUnavailable(err error) bool {
	return CodeOf(err) == ErrCodeRemoteUnavailable
}

// IsTimeout checks if the error is a timeout error
func IsTimeout(err error) bool {
	return CodeOf(err) == ErrCodeTimeout
}

// IsRateLimited checks if the error is a rate limited error
func IsRateLimited(err error) bool {
	return CodeOf(err) == ErrCodeRateLimited
}

// IsMalformedResponse checks if the error is a malformed response error
func IsMalformedResponse(err error) bool {
	return CodeOf(err) == ErrCodeMalformedResponse
}

// IsRetryable reports whether a request that failed with err may succeed when repeated.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeRemoteUnavailable, ErrCodeTimeout, ErrCodeRateLimited:
		return true
	}
	return false
}
