// Package worker runs the per-agent polling loop: receive a batch, claim
// each message, invoke the agent's handler, and report the outcome back to
// the bus.
//
// Delivery is at-least-once. A crash between executing the handler and
// recording completion means the message will be redelivered after the
// processing timeout, so handlers must be idempotent: running one twice for
// the same message must be safe.
package worker

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/praxislabs/agentbus/bus"
	"github.com/praxislabs/agentbus/errors"
	"github.com/praxislabs/agentbus/logging"
	"github.com/praxislabs/agentbus/message"
)

// Default loop parameters.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultBatchSize    = 10
)

// Handler processes one message's content and returns a result.
//
// An error return consumes one attempt: the bus requeues the message with a
// backoff delay, or dead-letters it once the budget is spent. Handlers run
// under at-least-once delivery and must tolerate reprocessing.
type Handler func(ctx context.Context, msg *message.AgentMessage) ([]byte, error)

// Worker polls the bus for one agent and drives its handler.
type Worker struct {
	agent   string
	bus     *bus.Bus
	handler Handler
	logger  *logging.Logger

	pollInterval time.Duration
	batchSize    int
	notifyErrors bool

	processed atomic.Int64
	failed    atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

// WithPollInterval sets the poll interval. The loop always sleeps between
// polls; busy-spinning against the store is not an option.
func WithPollInterval(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithBatchSize sets how many messages one poll may claim.
func WithBatchSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(w *Worker) {
		w.logger = logger.WithComponent("worker." + w.agent)
	}
}

// WithErrorNotifications makes the worker send an ERROR-type message back
// to the source agent when one of its messages dead-letters. This is the
// only way a producer hears about dead-lettering short of inspecting the
// dead-letter queue.
func WithErrorNotifications() Option {
	return func(w *Worker) {
		w.notifyErrors = true
	}
}

// New creates a worker for the given agent.
func New(agent string, b *bus.Bus, handler Handler, opts ...Option) *Worker {
	w := &Worker{
		agent:        agent,
		bus:          b,
		handler:      handler,
		logger:       logging.New().WithComponent("worker." + agent),
		pollInterval: DefaultPollInterval,
		batchSize:    DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until the context is cancelled. Handler failures never stop the
// loop; they are recorded through the bus and the loop continues.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.WorkerStarted(w.agent, w.pollInterval)
	defer func() {
		processed, failed := w.Stats()
		w.logger.WorkerStopped(w.agent, processed, failed)
	}()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Transient store trouble: log and retry next tick.
			w.logger.Error("poll_failed", map[string]interface{}{
				"error": err.Error(),
			})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll performs one receive-claim-execute pass over a batch.
func (w *Worker) Poll(ctx context.Context) error {
	msgs, err := w.bus.Receive(ctx, w.agent, w.batchSize)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.process(ctx, msg.ID)
	}
	return nil
}

// process claims and executes a single message.
func (w *Worker) process(ctx context.Context, id string) {
	claimed, err := w.bus.MarkProcessing(ctx, id)
	if err != nil {
		if errors.Is(err, errors.CodeClaimConflict) {
			return // another worker got it; not ours
		}
		w.logger.Error("claim_failed", map[string]interface{}{
			"id":    id,
			"error": err.Error(),
		})
		return
	}

	result, handlerErr := w.invoke(ctx, claimed)
	if handlerErr != nil {
		w.failed.Add(1)
		if err := w.bus.MarkFailed(ctx, claimed.ID, handlerErr); err != nil {
			w.logger.Error("mark_failed_error", map[string]interface{}{
				"id":    claimed.ID,
				"error": err.Error(),
			})
			return
		}
		w.maybeNotifyDeadLetter(ctx, claimed)
		return
	}

	if err := w.bus.MarkCompleted(ctx, claimed.ID, result); err != nil {
		w.logger.Error("mark_completed_error", map[string]interface{}{
			"id":    claimed.ID,
			"error": err.Error(),
		})
		return
	}
	w.processed.Add(1)
}

// invoke runs the handler with panic recovery. A panic is a non-retryable
// failure: replaying a message that crashes its handler only burns budget.
func (w *Worker) invoke(ctx context.Context, msg *message.AgentMessage) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
		}
	}()

	result, err = w.handler(ctx, msg)
	if err != nil {
		return nil, errors.HandlerFailed(msg.ID, err)
	}
	return result, nil
}

// maybeNotifyDeadLetter tells the source agent its message dead-lettered,
// if error notifications are enabled.
func (w *Worker) maybeNotifyDeadLetter(ctx context.Context, claimed *message.AgentMessage) {
	if !w.notifyErrors || claimed.SourceAgent == "" {
		return
	}

	current, err := w.bus.Get(ctx, claimed.ID)
	if err != nil || current.Status != message.StatusDeadLetter {
		return
	}

	content, err := json.Marshal(map[string]string{
		"message_id": current.ID,
		"agent":      w.agent,
		"error":      current.Error,
	})
	if err != nil {
		return
	}

	notice := &message.AgentMessage{
		SourceAgent:   w.agent,
		TargetAgent:   claimed.SourceAgent,
		Type:          message.TypeError,
		Priority:      message.PriorityHigh,
		Content:       content,
		CorrelationID: claimed.CorrelationID,
	}
	if _, err := w.bus.Send(ctx, notice); err != nil {
		w.logger.Warn("dead_letter_notice_failed", map[string]interface{}{
			"id":    claimed.ID,
			"error": err.Error(),
		})
	}
}

// Stats returns how many messages this worker completed and failed.
// Safe to call while the worker is running.
func (w *Worker) Stats() (processed, failed int) {
	return int(w.processed.Load()), int(w.failed.Load())
}
