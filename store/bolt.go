package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/praxislabs/agentbus/message"
)

var messagesBucket = []byte("messages")

// BoltStore implements QueueStore using bbolt. Messages are stored as JSON
// under their ID in a single bucket; the claim runs inside a write
// transaction, which is what makes it atomic under concurrent workers.
//
// Scans decode the full bucket and order in memory. That is the right
// trade-off at bus scale (queues are per-agent and bounded); a composite-key
// index would only pay off at orders of magnitude more messages.
type BoltStore struct {
	db     *bolt.DB
	closed atomic.Bool
}

// NewBoltStore opens (and if necessary creates) a bbolt-backed store at the
// given path.
func NewBoltStore(dbPath string) (*BoltStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(messagesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &BoltStore{db: db}, nil
}

// Put persists a new message.
func (s *BoltStore) Put(ctx context.Context, msg *message.AgentMessage) error {
	if s.closed.Load() {
		return ErrClosed
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(messagesBucket)
		if b.Get([]byte(msg.ID)) != nil {
			return ErrDuplicateID
		}
		return putMessage(b, msg)
	})
}

// Get retrieves a message by ID.
func (s *BoltStore) Get(ctx context.Context, id string) (*message.AgentMessage, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var msg *message.AgentMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		msg, err = getMessage(tx.Bucket(messagesBucket), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// Update replaces a stored message.
func (s *BoltStore) Update(ctx context.Context, msg *message.AgentMessage) error {
	if s.closed.Load() {
		return ErrClosed
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(messagesBucket)
		if b.Get([]byte(msg.ID)) == nil {
			return ErrNotFound
		}
		return putMessage(b, msg)
	})
}

// UpdateClaimed replaces a message still processing under the given claim.
// The precondition check and the write share one write transaction.
func (s *BoltStore) UpdateClaimed(ctx context.Context, msg *message.AgentMessage, claimedAt time.Time) error {
	if s.closed.Load() {
		return ErrClosed
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(messagesBucket)
		cur, err := getMessage(b, msg.ID)
		if err != nil {
			return err
		}
		if cur.Status != message.StatusProcessing || !cur.ClaimedAt.Equal(claimedAt) {
			return ErrClaimConflict
		}
		return putMessage(b, msg)
	})
}

// Claim atomically moves a message from pending to processing.
func (s *BoltStore) Claim(ctx context.Context, id string, now time.Time) (*message.AgentMessage, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var claimed *message.AgentMessage
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(messagesBucket)
		msg, err := getMessage(b, id)
		if err != nil {
			return err
		}
		if !msg.Claimable(now) {
			return ErrClaimConflict
		}

		msg.Status = message.StatusProcessing
		msg.ClaimedAt = now
		msg.AttemptCount++
		if err := putMessage(b, msg); err != nil {
			return err
		}
		claimed = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// NextPending returns up to limit claimable messages for the agent.
func (s *BoltStore) NextPending(ctx context.Context, agent string, limit int, now time.Time) ([]*message.AgentMessage, error) {
	claimable, err := s.scan(func(msg *message.AgentMessage) bool {
		return msg.TargetAgent == agent && msg.Claimable(now)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(claimable, func(i, j int) bool {
		return message.Less(claimable[i], claimable[j])
	})
	if limit > 0 && len(claimable) > limit {
		claimable = claimable[:limit]
	}
	return claimable, nil
}

// ListByStatus returns messages in the given status.
func (s *BoltStore) ListByStatus(ctx context.Context, agent string, status message.Status) ([]*message.AgentMessage, error) {
	out, err := s.scan(func(msg *message.AgentMessage) bool {
		if msg.Status != status {
			return false
		}
		return agent == "" || msg.TargetAgent == agent
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListByCorrelation returns all messages sharing a correlation ID.
func (s *BoltStore) ListByCorrelation(ctx context.Context, correlationID string) ([]*message.AgentMessage, error) {
	if correlationID == "" {
		return nil, nil
	}

	out, err := s.scan(func(msg *message.AgentMessage) bool {
		return msg.CorrelationID == correlationID
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ReapStuck returns messages processing since before the cutoff.
func (s *BoltStore) ReapStuck(ctx context.Context, cutoff time.Time) ([]*message.AgentMessage, error) {
	return s.scan(func(msg *message.AgentMessage) bool {
		return msg.Status == message.StatusProcessing && msg.ClaimedAt.Before(cutoff)
	})
}

// Delete removes a message by ID.
func (s *BoltStore) Delete(ctx context.Context, id string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(messagesBucket)
		if b.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return b.Delete([]byte(id))
	})
}

// Close shuts down the store.
func (s *BoltStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// scan collects all messages matching the filter.
func (s *BoltStore) scan(match func(*message.AgentMessage) bool) ([]*message.AgentMessage, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var out []*message.AgentMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(messagesBucket).ForEach(func(_, v []byte) error {
			var msg message.AgentMessage
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			if match(&msg) {
				out = append(out, &msg)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func getMessage(b *bolt.Bucket, id string) (*message.AgentMessage, error) {
	data := b.Get([]byte(id))
	if data == nil {
		return nil, ErrNotFound
	}
	var msg message.AgentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &msg, nil
}

func putMessage(b *bolt.Bucket, msg *message.AgentMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return b.Put([]byte(msg.ID), data)
}
