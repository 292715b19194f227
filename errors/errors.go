package errors

import (
	"fmt"
	"time"
)

// Error is the structured error type used throughout the bus.
type Error struct {
	code      Code
	category  Category
	message   string
	cause     error
	retryable *bool // nil means use the category default
	timestamp time.Time
	messageID string // related bus message, if applicable
	agent     string // related agent, if applicable
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() Code {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() Category {
	return e.category
}

// Retryable returns whether the failed operation may succeed on retry.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.category.IsRetryable()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error occurred.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// MessageID returns the related bus message ID, if set.
func (e *Error) MessageID() string {
	return e.messageID
}

// Agent returns the related agent name, if set.
func (e *Error) Agent() string {
	return e.agent
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithCategory overrides the default category for the code.
func WithCategory(cat Category) Option {
	return func(e *Error) {
		e.category = cat
	}
}

// WithRetryable explicitly sets whether the error is retryable.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithMessageID sets the related bus message ID.
func WithMessageID(id string) Option {
	return func(e *Error) {
		e.messageID = id
	}
}

// WithAgent sets the related agent name.
func WithAgent(agent string) Option {
	return func(e *Error) {
		e.agent = agent
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Newf creates a new Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// FromCode creates an error with the default description for the code.
func FromCode(code Code, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// Validation creates a validation error.
func Validation(message string, opts ...Option) *Error {
	return New(CodeValidation, message, opts...)
}

// StoreUnavailable wraps a persistence failure.
func StoreUnavailable(cause error, opts ...Option) *Error {
	opts = append([]Option{WithCause(cause)}, opts...)
	return New(CodeStoreUnavailable, "queue store unavailable", opts...)
}

// ClaimConflict creates a lost-claim error for the given message.
func ClaimConflict(messageID string, opts ...Option) *Error {
	opts = append([]Option{WithMessageID(messageID)}, opts...)
	return Newf(CodeClaimConflict, "message %s already claimed", messageID).apply(opts)
}

// InvalidTransition creates an invalid state transition error.
func InvalidTransition(messageID string, from, to string, opts ...Option) *Error {
	opts = append([]Option{WithMessageID(messageID)}, opts...)
	return Newf(CodeInvalidTransition, "message %s: cannot transition %s -> %s", messageID, from, to).apply(opts)
}

// NotFound creates a missing-message error.
func NotFound(messageID string, opts ...Option) *Error {
	opts = append([]Option{WithMessageID(messageID)}, opts...)
	return Newf(CodeNotFound, "message %s not found", messageID).apply(opts)
}

// HandlerFailed wraps an error raised by an agent's handler.
func HandlerFailed(messageID string, cause error, opts ...Option) *Error {
	opts = append([]Option{WithMessageID(messageID), WithCause(cause)}, opts...)
	return New(CodeHandlerFailed, "handler failed", opts...)
}

// apply runs options against an already-built error.
func (e *Error) apply(opts []Option) *Error {
	for _, opt := range opts {
		opt(e)
	}
	return e
}
