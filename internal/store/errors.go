package store

import (
	"errors"
	"fmt"
)

// Error is returned by store operations that fail after the dispatched value
// passed the shape check.
//
// Errors include:
//   - Reducer failure: the root reducer (after meta-reducers) returned an error
//   - Propagation timeout: subscribers did not settle after a publish
//   - Store closed: the store was torn down
//   - Invalid module: a module declaration cannot be loaded
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Action is the action type being processed, if any.
	Action string

	// Slice is the module slice involved, if any.
	Slice string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes store errors.
type ErrorCode string

const (
	// ErrCodeInvalidAction indicates a value that is neither an action nor an
	// async action. Dispatch never returns it; it is used for logging.
	ErrCodeInvalidAction ErrorCode = "INVALID_ACTION"

	// ErrCodeReducerFailed indicates the root reducer returned an error.
	ErrCodeReducerFailed ErrorCode = "REDUCER_FAILED"

	// ErrCodePropagationTimeout indicates subscribers did not settle in time.
	ErrCodePropagationTimeout ErrorCode = "PROPAGATION_TIMEOUT"

	// ErrCodeStoreClosed indicates the store was closed.
	ErrCodeStoreClosed ErrorCode = "STORE_CLOSED"

	// ErrCodeInvalidModule indicates a module without a slice or reducer.
	ErrCodeInvalidModule ErrorCode = "INVALID_MODULE"

	// ErrCodeAsyncFailed indicates an async action returned an error or
	// panicked.
	ErrCodeAsyncFailed ErrorCode = "ASYNC_FAILED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Action != "" {
		msg += fmt.Sprintf(" (action=%s)", e.Action)
	}
	if e.Slice != "" {
		msg += fmt.Sprintf(" (slice=%s)", e.Slice)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, code ErrorCode) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsPropagationTimeout returns true if err is a propagation timeout.
// Uses errors.As to handle wrapped errors.
func IsPropagationTimeout(err error) bool {
	return hasCode(err, ErrCodePropagationTimeout)
}

// IsReducerFailed returns true if err is a root reducer failure.
func IsReducerFailed(err error) bool {
	return hasCode(err, ErrCodeReducerFailed)
}

// IsStoreClosed returns true if err reports a closed store.
func IsStoreClosed(err error) bool {
	return hasCode(err, ErrCodeStoreClosed)
}

// IsInvalidModule returns true if err rejects a module declaration.
func IsInvalidModule(err error) bool {
	return hasCode(err, ErrCodeInvalidModule)
}

// IsAsyncFailed returns true if err comes from an async action.
func IsAsyncFailed(err error) bool {
	return hasCode(err, ErrCodeAsyncFailed)
}

func errClosed() *Error {
	return &Error{Code: ErrCodeStoreClosed, Message: "store is closed"}
}

func errInvalidModule(slice, msg string) *Error {
	return &Error{Code: ErrCodeInvalidModule, Message: msg, Slice: slice}
}
