package errors

// Category classifies errors by their retry semantics.
type Category string

const (
	// CategoryTransient indicates temporary failures where retry may
	// succeed. Examples: store unreachable, handler timeout.
	CategoryTransient Category = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: malformed message, invalid state transition.
	CategoryPermanent Category = "permanent"

	// CategoryInternal indicates unexpected errors, bugs, or recovered
	// panics.
	CategoryInternal Category = "internal"
)

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c Category) IsRetryable() bool {
	return c == CategoryTransient
}

// Code identifies a specific bus failure type.
type Code string

const (
	// CodeValidation marks a malformed message, rejected before persistence.
	CodeValidation Code = "VALIDATION"

	// CodeStoreUnavailable marks an unreachable persistence backend.
	// Always propagated to the caller, never swallowed.
	CodeStoreUnavailable Code = "STORE_UNAVAILABLE"

	// CodeClaimConflict marks a lost claim race. The correct response
	// is to skip the message, not to crash.
	CodeClaimConflict Code = "CLAIM_CONFLICT"

	// CodeInvalidTransition marks a status mutation attempted from an
	// incompatible state. A programming error.
	CodeInvalidTransition Code = "INVALID_TRANSITION"

	// CodeNotFound marks a reference to a message that does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeHandlerFailed wraps any error raised by an agent's handler.
	// Drives the fail path of the worker loop.
	CodeHandlerFailed Code = "HANDLER_FAILED"

	// CodeAggregationTimeout marks a fan-in wait that elapsed before all
	// expected agents reported. Informational: the aggregator returns
	// partial results rather than raising.
	CodeAggregationTimeout Code = "AGGREGATION_TIMEOUT"

	// CodeClosed marks an operation against a closed bus or store.
	CodeClosed Code = "CLOSED"

	// CodePanic marks an error recovered from a handler panic.
	CodePanic Code = "PANIC"
)

// String returns the string representation of the code.
func (c Code) String() string {
	return string(c)
}

// DefaultCategory returns the default category for a code.
func (c Code) DefaultCategory() Category {
	switch c {
	case CodeStoreUnavailable, CodeHandlerFailed, CodeAggregationTimeout:
		return CategoryTransient
	case CodeValidation, CodeClaimConflict, CodeInvalidTransition, CodeNotFound, CodeClosed:
		return CategoryPermanent
	default:
		return CategoryInternal
	}
}

// descriptions provides default messages for codes.
var descriptions = map[Code]string{
	CodeValidation:         "message failed validation",
	CodeStoreUnavailable:   "queue store unavailable",
	CodeClaimConflict:      "message already claimed",
	CodeInvalidTransition:  "invalid status transition",
	CodeNotFound:           "message not found",
	CodeHandlerFailed:      "handler failed",
	CodeAggregationTimeout: "aggregation timed out",
	CodeClosed:             "bus closed",
	CodePanic:              "recovered from panic",
}

// Description returns a human-readable description for the code.
func (c Code) Description() string {
	if d, ok := descriptions[c]; ok {
		return d
	}
	return "unknown error"
}
