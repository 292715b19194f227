// Package store provides durable keyed storage for bus messages.
//
// The QueueStore interface is the persistence contract of the bus: keyed
// writes, an atomic claim (compare-and-set from pending to processing), and
// ordered range scans per target agent. Backends: in-memory (tests and
// single-process use), SQLite, and bbolt.
//
// The store is the single shared mutable resource of the system. All claim
// races resolve inside the backend; no two callers ever successfully claim
// the same message.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/praxislabs/agentbus/message"
)

// Common errors.
var (
	// ErrNotFound indicates the message does not exist.
	ErrNotFound = errors.New("message not found")

	// ErrClaimConflict indicates another caller already claimed the message.
	ErrClaimConflict = errors.New("message already claimed")

	// ErrDuplicateID indicates a Put with an ID that already exists.
	ErrDuplicateID = errors.New("duplicate message ID")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store closed")

	// ErrUnavailable indicates the backend cannot be reached. Callers of
	// Send/Receive must see this error, never a silent drop.
	ErrUnavailable = errors.New("store unavailable")
)

// QueueStore is the persistence contract for bus messages.
type QueueStore interface {
	// Put persists a new message. Returns ErrDuplicateID if the ID exists.
	Put(ctx context.Context, msg *message.AgentMessage) error

	// Get retrieves a message by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*message.AgentMessage, error)

	// Update replaces a stored message. Returns ErrNotFound if absent.
	// Callers are expected to route all mutations through the bus; Update
	// itself does not validate lifecycle transitions.
	Update(ctx context.Context, msg *message.AgentMessage) error

	// UpdateClaimed replaces a stored message only if it is still
	// processing under the given claim timestamp. Returns ErrClaimConflict
	// if the message completed, failed, or was reclaimed in the meantime,
	// and ErrNotFound if absent. This is the write half of failure
	// handling: a claim snapshot may be stale by the time it is written
	// back, and a stale writer must lose.
	UpdateClaimed(ctx context.Context, msg *message.AgentMessage, claimedAt time.Time) error

	// Claim atomically moves a message from pending to processing and
	// stamps ClaimedAt. Exactly one concurrent caller succeeds; the rest
	// receive ErrClaimConflict. A message whose NextRetryAt is in the
	// future is not claimable and also returns ErrClaimConflict.
	Claim(ctx context.Context, id string, now time.Time) (*message.AgentMessage, error)

	// NextPending returns up to limit claimable messages for the agent
	// (status pending, NextRetryAt <= now), ordered by priority descending
	// then CreatedAt ascending. Non-destructive.
	NextPending(ctx context.Context, agent string, limit int, now time.Time) ([]*message.AgentMessage, error)

	// ListByStatus returns messages in the given status, optionally
	// filtered by target agent (empty agent means all).
	ListByStatus(ctx context.Context, agent string, status message.Status) ([]*message.AgentMessage, error)

	// ListByCorrelation returns all messages sharing a correlation ID.
	ListByCorrelation(ctx context.Context, correlationID string) ([]*message.AgentMessage, error)

	// ReapStuck returns messages that have been processing since before
	// the cutoff. The bus routes them through the failure path.
	ReapStuck(ctx context.Context, cutoff time.Time) ([]*message.AgentMessage, error)

	// Delete removes a message by ID. Returns ErrNotFound if absent.
	Delete(ctx context.Context, id string) error

	// Close releases backend resources.
	Close() error
}
