// Package backoff provides the retry delay policies used by the bus when a
// message fails. Delays are a function of the attempt count alone, so they
// are non-decreasing across successive attempts by construction.
package backoff

import (
	"errors"
	"time"
)

// Common errors.
var (
	// ErrUnknownPolicy indicates an unrecognized policy name.
	ErrUnknownPolicy = errors.New("unknown backoff policy")
)

// Default policy parameters. These are configuration, not contract; override
// them through config or the policy constructors.
const (
	DefaultBase = time.Second
	DefaultCap  = 5 * time.Minute
)

// Policy computes the delay before a message's next retry.
type Policy interface {
	// Delay returns how long to wait after the given failed attempt.
	// attempt is 1-based: the first failure passes attempt=1.
	Delay(attempt int) time.Duration
}

// Exponential doubles the delay each attempt: base * 2^(attempt-1), capped.
type Exponential struct {
	// Base is the delay after the first failure.
	Base time.Duration

	// Cap bounds the delay. Zero means DefaultCap.
	Cap time.Duration
}

// Delay implements Policy.
func (e Exponential) Delay(attempt int) time.Duration {
	base := e.Base
	if base <= 0 {
		base = DefaultBase
	}
	cap := e.Cap
	if cap <= 0 {
		cap = DefaultCap
	}
	if attempt < 1 {
		attempt = 1
	}

	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cap || d < 0 { // overflow guard
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}

// Linear grows the delay by a fixed step each attempt: base * attempt.
type Linear struct {
	// Base is the step size and the delay after the first failure.
	Base time.Duration

	// Cap bounds the delay. Zero means DefaultCap.
	Cap time.Duration
}

// Delay implements Policy.
func (l Linear) Delay(attempt int) time.Duration {
	base := l.Base
	if base <= 0 {
		base = DefaultBase
	}
	cap := l.Cap
	if cap <= 0 {
		cap = DefaultCap
	}
	if attempt < 1 {
		attempt = 1
	}

	d := base * time.Duration(attempt)
	if d > cap || d < 0 {
		return cap
	}
	return d
}

// None retries immediately. Useful in tests.
type None struct{}

// Delay implements Policy.
func (None) Delay(int) time.Duration { return 0 }

// Parse builds a policy from a config name.
// Known names: "exponential", "linear", "none".
func Parse(name string, base, cap time.Duration) (Policy, error) {
	switch name {
	case "exponential", "":
		return Exponential{Base: base, Cap: cap}, nil
	case "linear":
		return Linear{Base: base, Cap: cap}, nil
	case "none":
		return None{}, nil
	default:
		return nil, ErrUnknownPolicy
	}
}
