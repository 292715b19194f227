package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/praxislabs/agentbus/message"
)

// MemoryStore implements QueueStore using in-memory storage.
// Useful for testing and single-process scenarios.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]*message.AgentMessage
	closed atomic.Bool
}

// NewMemoryStore creates a new in-memory queue store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*message.AgentMessage),
	}
}

// Put persists a new message.
func (s *MemoryStore) Put(ctx context.Context, msg *message.AgentMessage) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[msg.ID]; ok {
		return ErrDuplicateID
	}
	s.data[msg.ID] = msg.Clone()
	return nil
}

// Get retrieves a message by ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*message.AgentMessage, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	return msg.Clone(), nil
}

// Update replaces a stored message.
func (s *MemoryStore) Update(ctx context.Context, msg *message.AgentMessage) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[msg.ID]; !ok {
		return ErrNotFound
	}
	s.data[msg.ID] = msg.Clone()
	return nil
}

// UpdateClaimed replaces a message still processing under the given claim.
func (s *MemoryStore) UpdateClaimed(ctx context.Context, msg *message.AgentMessage, claimedAt time.Time) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data[msg.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != message.StatusProcessing || !cur.ClaimedAt.Equal(claimedAt) {
		return ErrClaimConflict
	}
	s.data[msg.ID] = msg.Clone()
	return nil
}

// Claim atomically moves a message from pending to processing.
func (s *MemoryStore) Claim(ctx context.Context, id string, now time.Time) (*message.AgentMessage, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.data[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !msg.Claimable(now) {
		return nil, ErrClaimConflict
	}

	msg.Status = message.StatusProcessing
	msg.ClaimedAt = now
	msg.AttemptCount++
	return msg.Clone(), nil
}

// NextPending returns up to limit claimable messages for the agent.
func (s *MemoryStore) NextPending(ctx context.Context, agent string, limit int, now time.Time) ([]*message.AgentMessage, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var claimable []*message.AgentMessage
	for _, msg := range s.data {
		if msg.TargetAgent == agent && msg.Claimable(now) {
			claimable = append(claimable, msg)
		}
	}

	sort.Slice(claimable, func(i, j int) bool {
		return message.Less(claimable[i], claimable[j])
	})

	if limit > 0 && len(claimable) > limit {
		claimable = claimable[:limit]
	}

	out := make([]*message.AgentMessage, len(claimable))
	for i, msg := range claimable {
		out[i] = msg.Clone()
	}
	return out, nil
}

// ListByStatus returns messages in the given status.
func (s *MemoryStore) ListByStatus(ctx context.Context, agent string, status message.Status) ([]*message.AgentMessage, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*message.AgentMessage
	for _, msg := range s.data {
		if msg.Status != status {
			continue
		}
		if agent != "" && msg.TargetAgent != agent {
			continue
		}
		out = append(out, msg.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListByCorrelation returns all messages sharing a correlation ID.
func (s *MemoryStore) ListByCorrelation(ctx context.Context, correlationID string) ([]*message.AgentMessage, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if correlationID == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*message.AgentMessage
	for _, msg := range s.data {
		if msg.CorrelationID == correlationID {
			out = append(out, msg.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ReapStuck returns messages processing since before the cutoff.
func (s *MemoryStore) ReapStuck(ctx context.Context, cutoff time.Time) ([]*message.AgentMessage, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*message.AgentMessage
	for _, msg := range s.data {
		if msg.Status == message.StatusProcessing && msg.ClaimedAt.Before(cutoff) {
			out = append(out, msg.Clone())
		}
	}
	return out, nil
}

// Delete removes a message by ID.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[id]; !ok {
		return ErrNotFound
	}
	delete(s.data, id)
	return nil
}

// Close shuts down the store.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}
