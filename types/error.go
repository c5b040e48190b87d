package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// General error codes
const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrRateLimited        ErrorCode = "RATE_LIMITED"
	ErrUpstreamError      ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrInvalidTransition  ErrorCode = "INVALID_TRANSITION"
)

// Pipeline error codes
const (
	ErrRetrievalUnavailable   ErrorCode = "RETRIEVAL_UNAVAILABLE"
	ErrExternalServiceTimeout ErrorCode = "EXTERNAL_SERVICE_TIMEOUT"
	ErrGradingFailure         ErrorCode = "GRADING_FAILURE"
	ErrGapAnalysisFailure     ErrorCode = "GAP_ANALYSIS_FAILURE"
	ErrChartParseFailure      ErrorCode = "CHART_PARSE_FAILURE"
	ErrCacheUnavailable       ErrorCode = "CACHE_UNAVAILABLE"
	ErrStructuredOutput       ErrorCode = "STRUCTURED_OUTPUT"
	ErrCheckpointNotFound     ErrorCode = "CHECKPOINT_NOT_FOUND"
	ErrStepLimitExceeded      ErrorCode = "STEP_LIMIT_EXCEEDED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Component string    `json:"component,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithComponent records which pipeline component raised the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error chain.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether any error in the chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	return err != nil && GetErrorCode(err) == code
}

// NewTimeoutError wraps a deadline overrun of an external call.
func NewTimeoutError(component string, cause error) *Error {
	return NewError(ErrExternalServiceTimeout, component+" call timed out").
		WithCause(cause).
		WithRetryable(true).
		WithComponent(component)
}

// NewServiceUnavailableError is the fatal error surfaced when no answer can be produced.
func NewServiceUnavailableError(component string, cause error) *Error {
	return NewError(ErrServiceUnavailable, "service unavailable").
		WithCause(cause).
		WithComponent(component)
}
