// Package observe provides hooks invoked on every message state transition.
//
// Observers are best-effort: a sink that panics or fails is ignored so that
// observation can never block or fail message delivery.
package observe

import (
	"time"

	"github.com/praxislabs/agentbus/message"
)

// Transition describes one state change of a message.
type Transition struct {
	// MessageID identifies the message.
	MessageID string `json:"message_id"`

	// Agent is the message's target agent.
	Agent string `json:"agent"`

	// CorrelationID groups fan-out transitions, if set.
	CorrelationID string `json:"correlation_id,omitempty"`

	// From and To are the statuses on either side of the edge.
	From message.Status `json:"from"`
	To   message.Status `json:"to"`

	// Attempt is the attempt count after the transition.
	Attempt int `json:"attempt"`

	// Error is the failure message on fail/dead-letter edges.
	Error string `json:"error,omitempty"`

	// At is when the transition happened.
	At time.Time `json:"at"`
}

// Observer receives state transitions.
type Observer interface {
	// OnTransition is called after each state change. Implementations
	// must return quickly; slow sinks should buffer internally.
	OnTransition(t Transition)
}

// Notify invokes an observer, swallowing panics. A nil observer is a no-op.
func Notify(obs Observer, t Transition) {
	if obs == nil {
		return
	}
	defer func() {
		_ = recover() // observer failure never affects delivery
	}()
	obs.OnTransition(t)
}

// Noop is an Observer that discards all transitions.
type Noop struct{}

// OnTransition implements Observer.
func (Noop) OnTransition(Transition) {}

// Multi fans transitions out to several observers.
type Multi struct {
	observers []Observer
}

// NewMulti creates a composite observer.
func NewMulti(observers ...Observer) *Multi {
	return &Multi{observers: observers}
}

// OnTransition implements Observer.
func (m *Multi) OnTransition(t Transition) {
	for _, obs := range m.observers {
		Notify(obs, t)
	}
}
