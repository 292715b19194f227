// Package errors provides the structured failure taxonomy for the message
// bus. Every error carries a code and a category; the category decides retry
// semantics, which is what the retry scheduler and the worker loop consult.
//
// # Categories
//
//   - Transient: retry may succeed (store unreachable, handler timeout)
//   - Permanent: retry will not help (validation failure, bad transition)
//   - Internal: bugs and recovered panics
//
// # Usage
//
// Create an error:
//
//	err := errors.New(errors.CodeClaimConflict, "message already claimed")
//
// Wrap a handler failure so the scheduler can classify it:
//
//	return errors.HandlerFailed(msg.ID, err)
//
// Check retryability:
//
//	if !errors.IsRetryable(err) {
//	    // dead-letter immediately, skip remaining attempts
//	}
package errors
