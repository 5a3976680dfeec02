package types

import "fmt"

// ErrorCode classifies a failure for retry and reporting decisions.
type ErrorCode string

const (
	// ErrInvalidRequest marks pre-flight validation failures. These abort
	// the batch before any worker starts and are never retried.
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"

	// ErrContentFiltered marks a provider refusal on content-policy
	// grounds (safety block). Retried like any other failure under the
	// current policy, but logged distinctly.
	ErrContentFiltered ErrorCode = "CONTENT_FILTERED"

	// ErrNoContent marks a well-formed provider response that contains
	// neither image nor text content.
	ErrNoContent ErrorCode = "NO_CONTENT"

	// ErrUpstreamError marks HTTP/network failures and malformed response
	// envelopes.
	ErrUpstreamError ErrorCode = "UPSTREAM_ERROR"

	ErrAuthentication ErrorCode = "AUTHENTICATION"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Provider   string    `json:"provider,omitempty"`
	Cause      error     `json:"-"`
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

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// GetErrorCode extracts the error code from an error. Returns
// ErrInternalError for errors that do not carry a code.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ErrInternalError
}
