package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the coordination layer.
type ErrorCode string

// Coordination error codes. The taxonomy follows the delivery contract:
// transport failures propagate, everything local to one task or one vote
// is logged and contained.
const (
	ErrTransport     ErrorCode = "TRANSPORT"
	ErrUnknownTask   ErrorCode = "UNKNOWN_TASK"
	ErrDuplicateVote ErrorCode = "DUPLICATE_VOTE"
	ErrHandler       ErrorCode = "HANDLER"
	ErrValidation    ErrorCode = "VALIDATION"
)

// Supporting error codes
const (
	ErrStore          ErrorCode = "STORE"
	ErrConfig         ErrorCode = "CONFIG"
	ErrInternal       ErrorCode = "INTERNAL"
	ErrAuthentication ErrorCode = "AUTHENTICATION"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrNotFound       ErrorCode = "NOT_FOUND"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
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

// WrapError creates a new Error wrapping a cause.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code used by the ops API.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether err carries the given code anywhere in its chain.
func IsErrorCode(err error, code ErrorCode) bool {
	if e, ok := AsError(err); ok {
		return e.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// =============================================================================
// Convenience constructors for the coordination taxonomy
// =============================================================================

// NewTransportError marks a broker publish/consume failure. Transport
// failures are the one class that must propagate to the caller.
func NewTransportError(message string, cause error) *Error {
	return &Error{Code: ErrTransport, Message: message, Retryable: true, Cause: cause}
}

// NewUnknownTaskError marks a RESULT or VOTE referencing a task this
// orchestrator never issued.
func NewUnknownTaskError(taskID string) *Error {
	return NewError(ErrUnknownTask, fmt.Sprintf("unknown task %q", taskID))
}

// NewDuplicateVoteError marks a second ballot from the same agent for the
// same (topic, task) key.
func NewDuplicateVoteError(agentID, topic, taskID string) *Error {
	return NewError(ErrDuplicateVote,
		fmt.Sprintf("agent %q already voted on topic %q for task %q", agentID, topic, taskID))
}

// NewHandlerError marks a domain handler failure inside an agent.
func NewHandlerError(message string, cause error) *Error {
	return &Error{Code: ErrHandler, Message: message, Cause: cause}
}

// NewValidationError marks a malformed envelope or an out-of-options ballot.
func NewValidationError(message string) *Error {
	return NewError(ErrValidation, message)
}
