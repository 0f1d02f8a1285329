package chatsync

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota

	// Channel errors
	ErrorConnection
	ErrorDisconnected
	ErrorNotConnected
	ErrorTimeout

	// Historical API errors
	ErrorRequest

	// Frame errors
	ErrorProtocol
	ErrorSerialization

	// State errors
	ErrorStateConflict
	ErrorStale

	ErrorInvalidConfig
	ErrorInvalidArgument
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorConnection:
		return "connection_error"
	case ErrorDisconnected:
		return "disconnected"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorTimeout:
		return "timeout"
	case ErrorRequest:
		return "request_error"
	case ErrorProtocol:
		return "protocol_error"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorStateConflict:
		return "state_conflict"
	case ErrorStale:
		return "stale"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorInvalidArgument:
		return "invalid_argument"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// Error is a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface for error comparison.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with an Error.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or ErrorUnknown.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorUnknown
}

// IsConnectionError checks if an error is a connection-related error.
func IsConnectionError(err error) bool {
	switch CodeOf(err) {
	case ErrorConnection, ErrorDisconnected, ErrorNotConnected, ErrorTimeout:
		return true
	default:
		return false
	}
}

// IsRequestError reports whether err came from a historical API call.
func IsRequestError(err error) bool {
	return CodeOf(err) == ErrorRequest
}

// IsProtocolError reports whether err describes a malformed inbound frame.
func IsProtocolError(err error) bool {
	c := CodeOf(err)
	return c == ErrorProtocol || c == ErrorSerialization
}

// IsStale reports whether a result was discarded because its view was torn down.
func IsStale(err error) bool {
	return CodeOf(err) == ErrorStale
}
