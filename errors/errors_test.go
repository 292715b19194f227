package errors

import (
	stderrors "errors"
	"testing"
)

func TestCodeDefaults(t *testing.T) {
	if CodeStoreUnavailable.DefaultCategory() != CategoryTransient {
		t.Error("store unavailability is transient")
	}
	if CodeValidation.DefaultCategory() != CategoryPermanent {
		t.Error("validation failures are permanent")
	}
	if CodePanic.DefaultCategory() != CategoryInternal {
		t.Error("panics are internal")
	}

	if !CategoryTransient.IsRetryable() {
		t.Error("transient errors are retryable")
	}
	if CategoryPermanent.IsRetryable() || CategoryInternal.IsRetryable() {
		t.Error("permanent and internal errors are not retryable")
	}
}

func TestNewAndOptions(t *testing.T) {
	err := New(CodeClaimConflict, "lost the race",
		WithMessageID("msg-42"),
		WithAgent("career_coach"),
	)

	if err.Code() != CodeClaimConflict {
		t.Errorf("expected CLAIM_CONFLICT, got %s", err.Code())
	}
	if err.MessageID() != "msg-42" {
		t.Errorf("expected msg-42, got %s", err.MessageID())
	}
	if err.Agent() != "career_coach" {
		t.Errorf("expected career_coach, got %s", err.Agent())
	}
	if err.Retryable() {
		t.Error("claim conflicts are not retryable")
	}
}

func TestRetryableOverride(t *testing.T) {
	err := New(CodeHandlerFailed, "bad input", WithRetryable(false))
	if err.Retryable() {
		t.Error("explicit override must win over the category default")
	}
}

func TestHandlerFailedWrapsCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := HandlerFailed("msg-1", cause)

	if !stderrors.Is(err, cause) {
		t.Error("cause must survive wrapping")
	}
	if !err.Retryable() {
		t.Error("handler failures default to retryable")
	}
	if err.MessageID() != "msg-1" {
		t.Errorf("expected msg-1, got %s", err.MessageID())
	}
}

func TestWrapPreservesCode(t *testing.T) {
	inner := New(CodeStoreUnavailable, "db locked")
	outer := Wrap(inner, "sending message")

	if outer.Code() != CodeStoreUnavailable {
		t.Errorf("expected STORE_UNAVAILABLE to carry through, got %s", outer.Code())
	}
	if !stderrors.Is(outer, inner) {
		t.Error("wrapped error must remain in the chain")
	}
	if Wrap(nil, "nothing") != nil {
		t.Error("Wrap(nil) must be nil")
	}
}

func TestIsAndCodeOf(t *testing.T) {
	err := InvalidTransition("msg-9", "completed", "processing")

	if !Is(err, CodeInvalidTransition) {
		t.Error("Is must match the code")
	}
	if Is(err, CodeNotFound) {
		t.Error("Is must not match other codes")
	}
	if CodeOf(err) != CodeInvalidTransition {
		t.Errorf("expected INVALID_TRANSITION, got %s", CodeOf(err))
	}
	if CodeOf(stderrors.New("plain")) != "" {
		t.Error("plain errors have no code")
	}
}

func TestIsRetryableDefault(t *testing.T) {
	// Unknown handler errors consume attempt budget rather than
	// dead-lettering on first failure.
	if !IsRetryable(stderrors.New("mystery")) {
		t.Error("plain errors default to retryable")
	}
	if IsRetryable(Validation("bad message")) {
		t.Error("validation errors are not retryable")
	}
}

func TestRecoverPanic(t *testing.T) {
	if RecoverPanic(nil) != nil {
		t.Error("nil recover value yields nil error")
	}

	err := RecoverPanic("boom")
	if err.Code() != CodePanic {
		t.Errorf("expected PANIC, got %s", err.Code())
	}
	if err.Retryable() {
		t.Error("recovered panics must not be retried")
	}

	err = RecoverPanic(stderrors.New("nil deref"))
	if err.Error() != "nil deref" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}
