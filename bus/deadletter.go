package bus

import (
	"context"
	"time"

	"github.com/praxislabs/agentbus/errors"
	"github.com/praxislabs/agentbus/message"
	"github.com/praxislabs/agentbus/store"
)

// ListDeadLetters returns dead-lettered messages, optionally filtered by
// target agent (empty agent means all), ordered by creation time.
func (b *Bus) ListDeadLetters(ctx context.Context, agent string) ([]*message.AgentMessage, error) {
	if b.closed.Load() {
		return nil, errors.FromCode(errors.CodeClosed)
	}

	msgs, err := b.store.ListByStatus(ctx, agent, message.StatusDeadLetter)
	if err != nil {
		return nil, b.storeErr(err, "")
	}
	return msgs, nil
}

// Requeue moves a dead-lettered message back to pending with a fresh
// attempt budget. This is the only way out of dead_letter.
func (b *Bus) Requeue(ctx context.Context, id string) error {
	if b.closed.Load() {
		return errors.FromCode(errors.CodeClosed)
	}

	msg, err := b.store.Get(ctx, id)
	if err != nil {
		return b.storeErr(err, id)
	}
	if msg.Status != message.StatusDeadLetter {
		return errors.InvalidTransition(id, msg.Status.String(), message.StatusPending.String())
	}

	msg.Status = message.StatusPending
	msg.AttemptCount = 0
	msg.NextRetryAt = time.Time{}
	msg.ClaimedAt = time.Time{}
	msg.Error = ""

	if err := b.store.Update(ctx, msg); err != nil {
		return b.storeErr(err, id)
	}

	b.logger.Info("message_requeued", map[string]interface{}{
		"id":    msg.ID,
		"agent": msg.TargetAgent,
	})
	b.notify(msg, message.StatusDeadLetter, message.StatusPending)
	return nil
}

// Purge permanently removes a dead-lettered message.
func (b *Bus) Purge(ctx context.Context, id string) error {
	if b.closed.Load() {
		return errors.FromCode(errors.CodeClosed)
	}

	msg, err := b.store.Get(ctx, id)
	if err != nil {
		return b.storeErr(err, id)
	}
	if msg.Status != message.StatusDeadLetter {
		return errors.InvalidTransition(id, msg.Status.String(), "purged")
	}

	if err := b.store.Delete(ctx, id); err != nil {
		return b.storeErr(err, id)
	}
	return nil
}

// PurgeCompleted removes completed messages older than the given age and
// returns how many were removed. Retirement policy, not time-critical; run
// it from a maintenance loop or the CLI.
func (b *Bus) PurgeCompleted(ctx context.Context, olderThan time.Duration) (int, error) {
	if b.closed.Load() {
		return 0, errors.FromCode(errors.CodeClosed)
	}

	msgs, err := b.store.ListByStatus(ctx, "", message.StatusCompleted)
	if err != nil {
		return 0, b.storeErr(err, "")
	}

	cutoff := b.now().Add(-olderThan)
	var purged int
	for _, msg := range msgs {
		if msg.CreatedAt.After(cutoff) {
			continue
		}
		if err := b.store.Delete(ctx, msg.ID); err != nil {
			if stderrIs(err, store.ErrNotFound) {
				continue // already gone
			}
			return purged, b.storeErr(err, msg.ID)
		}
		purged++
	}
	return purged, nil
}
