// Package message defines the unit of work exchanged between agents.
//
// An AgentMessage moves through a fixed lifecycle: pending -> processing ->
// completed, or pending -> processing -> failed -> (pending for retry, or
// dead_letter once the attempt budget is exhausted). Any other transition is
// rejected. The payload is an opaque byte slice tagged by Type; the bus never
// interprets it.
package message

import (
	"errors"
	"time"
)

// Common errors.
var (
	// ErrMissingSource indicates the message has no source agent.
	ErrMissingSource = errors.New("missing source agent")

	// ErrMissingTarget indicates a non-broadcast message has no target agent.
	ErrMissingTarget = errors.New("missing target agent")

	// ErrMissingContent indicates the message has no payload.
	ErrMissingContent = errors.New("missing content")

	// ErrInvalidType indicates an unknown message type.
	ErrInvalidType = errors.New("invalid message type")

	// ErrInvalidPriority indicates an unknown priority.
	ErrInvalidPriority = errors.New("invalid priority")

	// ErrInvalidTransition indicates a status mutation outside the lifecycle.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Type classifies the intent of a message.
type Type string

const (
	// TypeQuery asks an agent a question and expects a RESULT back.
	TypeQuery Type = "query"

	// TypeTask asks an agent to perform work.
	TypeTask Type = "task"

	// TypeResult carries the output of a completed query or task.
	TypeResult Type = "result"

	// TypeNotification is informational. A notification with no target
	// is broadcast to every registered agent.
	TypeNotification Type = "notification"

	// TypeStatus carries agent health or progress information.
	TypeStatus Type = "status"

	// TypeError reports a failure back to the originating agent.
	TypeError Type = "error"
)

// Valid returns true if the type is a known value.
func (t Type) Valid() bool {
	switch t {
	case TypeQuery, TypeTask, TypeResult, TypeNotification, TypeStatus, TypeError:
		return true
	default:
		return false
	}
}

// Priority orders messages within an agent's queue. Higher dequeues first.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// Valid returns true if the priority is a known value.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of a message.
type Status string

const (
	// StatusPending indicates the message is waiting to be claimed.
	StatusPending Status = "pending"

	// StatusProcessing indicates a worker has claimed the message.
	StatusProcessing Status = "processing"

	// StatusCompleted indicates the handler succeeded. Terminal.
	StatusCompleted Status = "completed"

	// StatusFailed indicates the handler failed; the retry scheduler
	// decides whether the message goes back to pending or dead-letters.
	StatusFailed Status = "failed"

	// StatusDeadLetter indicates the attempt budget is exhausted.
	// Terminal until an explicit requeue.
	StatusDeadLetter Status = "dead_letter"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true for states the scheduler never moves on its own.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDeadLetter
}

// transitions is the set of permitted status edges. Requeue from dead_letter
// is deliberately absent: it is an explicit operator action, not a lifecycle
// edge, and the bus applies it through Requeue alone.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusPending, StatusDeadLetter},
}

// CanTransition reports whether a status change follows the lifecycle.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AgentMessage is the unit of work and communication between agents.
type AgentMessage struct {
	// ID uniquely identifies the message for the system's lifetime.
	// Assigned by the bus on send if empty; never reused.
	ID string `json:"id"`

	// SourceAgent is the name of the sending agent.
	SourceAgent string `json:"source_agent"`

	// TargetAgent is the name of the receiving agent. Empty means
	// broadcast; the bus fans a broadcast out into one copy per
	// registered agent at send time.
	TargetAgent string `json:"target_agent,omitempty"`

	// Type classifies the message.
	Type Type `json:"type"`

	// Priority orders dequeue within the target agent's queue.
	Priority Priority `json:"priority"`

	// Content is the opaque payload, tagged by Type. Handlers own
	// the encoding.
	Content []byte `json:"content"`

	// CorrelationID groups the messages of one fan-out request.
	// All messages in a group share it.
	CorrelationID string `json:"correlation_id,omitempty"`

	// CreatedAt is when the message was accepted by the bus.
	CreatedAt time.Time `json:"created_at"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// AttemptCount is how many times a worker has claimed the message.
	AttemptCount int `json:"attempt_count"`

	// MaxAttempts bounds AttemptCount. Once reached on failure the
	// message dead-letters. Zero means use the bus default.
	MaxAttempts int `json:"max_attempts"`

	// NextRetryAt is the earliest time the message may be claimed
	// again after a failure. Zero means claimable immediately.
	NextRetryAt time.Time `json:"next_retry_at,omitempty"`

	// ClaimedAt is when the current processing attempt began.
	// Drives the reaper's stuck-message sweep.
	ClaimedAt time.Time `json:"claimed_at,omitempty"`

	// Result is the handler output, set on completion.
	Result []byte `json:"result,omitempty"`

	// Error is the last failure message, set on failure.
	Error string `json:"error,omitempty"`
}

// Validate checks the fields a producer must supply before send.
func (m *AgentMessage) Validate() error {
	if m.SourceAgent == "" {
		return ErrMissingSource
	}
	if !m.Type.Valid() {
		return ErrInvalidType
	}
	if !m.Priority.Valid() {
		return ErrInvalidPriority
	}
	if len(m.Content) == 0 {
		return ErrMissingContent
	}
	// Only notifications may omit the target (broadcast).
	if m.TargetAgent == "" && m.Type != TypeNotification {
		return ErrMissingTarget
	}
	return nil
}

// Broadcast returns true if the message has no specific target.
func (m *AgentMessage) Broadcast() bool {
	return m.TargetAgent == ""
}

// Claimable reports whether the message may be claimed at the given time.
func (m *AgentMessage) Claimable(now time.Time) bool {
	return m.Status == StatusPending && !m.NextRetryAt.After(now)
}

// Clone creates a deep copy of the message.
func (m *AgentMessage) Clone() *AgentMessage {
	if m == nil {
		return nil
	}
	clone := *m
	if m.Content != nil {
		clone.Content = make([]byte, len(m.Content))
		copy(clone.Content, m.Content)
	}
	if m.Result != nil {
		clone.Result = make([]byte, len(m.Result))
		copy(clone.Result, m.Result)
	}
	return &clone
}

// Less is the dequeue comparator: priority descending, then CreatedAt
// ascending (FIFO within a priority band), then ID for a stable total order.
func Less(a, b *AgentMessage) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
