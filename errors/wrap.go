package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the chain.
// If err is nil, Wrap returns nil. If err is already an *Error its code,
// category and retryability carry through; context errors map to transient
// handler failures; anything else becomes an internal error.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	var busErr *Error
	if errors.As(err, &busErr) {
		wrapped := &Error{
			code:      busErr.code,
			category:  busErr.category,
			message:   message,
			cause:     err,
			retryable: busErr.retryable,
			messageID: busErr.messageID,
			agent:     busErr.agent,
		}
		return wrapped.apply(opts)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return New(CodeHandlerFailed, message, append(opts, WithCause(err))...)
	}

	return New(CodePanic, message, append(opts, WithCause(err), WithCategory(CategoryInternal))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// Is checks if any error in the chain has the given code.
func Is(err error, code Code) bool {
	var busErr *Error
	if errors.As(err, &busErr) {
		return busErr.code == code
	}
	return false
}

// CodeOf extracts the code from an error chain.
// Returns the empty code if err is not an *Error.
func CodeOf(err error) Code {
	var busErr *Error
	if errors.As(err, &busErr) {
		return busErr.code
	}
	return ""
}

// IsRetryable checks if the failed operation may succeed on retry.
// Non-structured errors default to retryable: an unknown handler error
// should consume its attempt budget, not dead-letter on first failure.
func IsRetryable(err error) bool {
	var busErr *Error
	if errors.As(err, &busErr) {
		return busErr.Retryable()
	}
	return true
}

// RecoverPanic converts a recovered panic value into an Error.
func RecoverPanic(recovered interface{}) *Error {
	if recovered == nil {
		return nil
	}
	var message string
	switch v := recovered.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = fmt.Sprintf("%v", v)
	}
	return New(CodePanic, message, WithRetryable(false))
}
