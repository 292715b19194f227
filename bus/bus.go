package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/praxislabs/agentbus/backoff"
	"github.com/praxislabs/agentbus/errors"
	"github.com/praxislabs/agentbus/logging"
	"github.com/praxislabs/agentbus/message"
	"github.com/praxislabs/agentbus/observe"
	"github.com/praxislabs/agentbus/registry"
	"github.com/praxislabs/agentbus/store"
)

// Defaults applied when neither the message nor an option says otherwise.
const (
	DefaultMaxAttempts       = 3
	DefaultProcessingTimeout = 60 * time.Second
)

// Bus coordinates message exchange between agents over a queue store.
// All state mutation goes through the bus; no other code path may touch
// message rows directly.
type Bus struct {
	store    store.QueueStore
	registry registry.Registry
	observer observe.Observer
	policy   backoff.Policy
	logger   *logging.Logger

	maxAttempts       int
	processingTimeout time.Duration
	now               func() time.Time

	mu     sync.Mutex
	subs   map[string][]*groupSub
	closed atomic.Bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithRegistry sets the agent registry used for broadcast fan-out.
// Without a registry, broadcasts fail validation.
func WithRegistry(reg registry.Registry) Option {
	return func(b *Bus) { b.registry = reg }
}

// WithObserver sets the transition observer.
func WithObserver(obs observe.Observer) Option {
	return func(b *Bus) { b.observer = obs }
}

// WithBackoff sets the retry delay policy.
func WithBackoff(policy backoff.Policy) Option {
	return func(b *Bus) { b.policy = policy }
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(b *Bus) { b.logger = logger.WithComponent("bus") }
}

// WithMaxAttempts sets the default attempt budget for messages that do not
// carry their own.
func WithMaxAttempts(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.maxAttempts = n
		}
	}
}

// WithProcessingTimeout sets how long a message may sit in processing
// before the reaper treats its worker as crashed.
func WithProcessingTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.processingTimeout = d
		}
	}
}

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// New creates a Bus over the given queue store.
func New(qs store.QueueStore, opts ...Option) *Bus {
	b := &Bus{
		store:             qs,
		policy:            backoff.Exponential{Base: backoff.DefaultBase, Cap: backoff.DefaultCap},
		logger:            logging.New().WithComponent("bus"),
		maxAttempts:       DefaultMaxAttempts,
		processingTimeout: DefaultProcessingTimeout,
		now:               time.Now,
		subs:              make(map[string][]*groupSub),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Send validates and persists a message as pending, assigning an ID if
// absent. A broadcast (notification with no target) is fanned out at write
// time into one independently claimable copy per currently registered agent;
// the returned ID is then the correlation ID shared by all copies.
// Send never silently drops a message: validation failures and store errors
// always surface.
func (b *Bus) Send(ctx context.Context, msg *message.AgentMessage) (string, error) {
	if b.closed.Load() {
		return "", errors.FromCode(errors.CodeClosed)
	}

	if err := msg.Validate(); err != nil {
		return "", errors.Validation(err.Error())
	}

	if msg.Broadcast() {
		return b.sendBroadcast(ctx, msg)
	}

	m := msg.Clone()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	b.prepare(m)

	if err := b.store.Put(ctx, m); err != nil {
		return "", b.storeErr(err, m.ID)
	}

	b.logger.MessageSent(m.ID, m.SourceAgent, m.TargetAgent, string(m.Type))
	b.notify(m, "", message.StatusPending)
	return m.ID, nil
}

// sendBroadcast fans a broadcast out into one copy per registered agent.
// A shared row claimed by a single winner would deliver to one agent only;
// per-agent copies give each agent its own exactly-once claim.
//
// Fan-out is not atomic. If a Put fails partway, the error surfaces and the
// copies already written stay pending and claimable; callers can find them
// through the returned correlation ID (or the one they supplied) and decide
// whether to retry the broadcast or delete the partial set.
func (b *Bus) sendBroadcast(ctx context.Context, msg *message.AgentMessage) (string, error) {
	if b.registry == nil {
		return "", errors.Validation("broadcast requires a registry")
	}

	names, err := b.registry.Names()
	if err != nil {
		return "", errors.StoreUnavailable(err)
	}

	group := msg.CorrelationID
	if group == "" {
		group = uuid.NewString()
	}

	var delivered int
	for _, name := range names {
		if name == msg.SourceAgent {
			continue // agents do not broadcast to themselves
		}
		m := msg.Clone()
		m.ID = uuid.NewString()
		m.TargetAgent = name
		m.CorrelationID = group
		b.prepare(m)

		if err := b.store.Put(ctx, m); err != nil {
			return "", b.storeErr(err, m.ID)
		}
		b.logger.MessageSent(m.ID, m.SourceAgent, m.TargetAgent, string(m.Type))
		b.notify(m, "", message.StatusPending)
		delivered++
	}

	b.logger.Debug("broadcast_fanned_out", map[string]interface{}{
		"correlation_id": group,
		"copies":         delivered,
	})
	return group, nil
}

// prepare stamps the bus-owned fields of a new message.
func (b *Bus) prepare(m *message.AgentMessage) {
	m.CreatedAt = b.now()
	m.Status = message.StatusPending
	m.AttemptCount = 0
	m.NextRetryAt = time.Time{}
	m.ClaimedAt = time.Time{}
	m.Result = nil
	m.Error = ""
	if m.MaxAttempts <= 0 {
		m.MaxAttempts = b.maxAttempts
	}
}

// Receive returns up to limit currently claimable messages for the agent,
// ordered by priority descending then creation time ascending. It is a
// non-destructive peek; callers must still win MarkProcessing before
// handling a message.
func (b *Bus) Receive(ctx context.Context, agent string, limit int) ([]*message.AgentMessage, error) {
	if b.closed.Load() {
		return nil, errors.FromCode(errors.CodeClosed)
	}

	msgs, err := b.store.NextPending(ctx, agent, limit, b.now())
	if err != nil {
		return nil, b.storeErr(err, "")
	}
	return msgs, nil
}

// MarkProcessing atomically claims a pending message. Exactly one of N
// concurrent callers succeeds; the rest receive a CLAIM_CONFLICT error and
// must skip the message. This is the only claim primitive: workers call it
// before executing a handler.
func (b *Bus) MarkProcessing(ctx context.Context, id string) (*message.AgentMessage, error) {
	if b.closed.Load() {
		return nil, errors.FromCode(errors.CodeClosed)
	}

	msg, err := b.store.Claim(ctx, id, b.now())
	if err != nil {
		return nil, b.storeErr(err, id)
	}

	b.logger.MessageClaimed(msg.ID, msg.TargetAgent, msg.AttemptCount)
	b.notify(msg, message.StatusPending, message.StatusProcessing)
	return msg, nil
}

// MarkCompleted moves a processing message to completed and stores the
// result. Completed is terminal. Completing an already-completed message is
// a no-op and never overwrites the stored result.
func (b *Bus) MarkCompleted(ctx context.Context, id string, result []byte) error {
	if b.closed.Load() {
		return errors.FromCode(errors.CodeClosed)
	}

	msg, err := b.store.Get(ctx, id)
	if err != nil {
		return b.storeErr(err, id)
	}

	if msg.Status == message.StatusCompleted {
		return nil // idempotent
	}
	if !message.CanTransition(msg.Status, message.StatusCompleted) {
		return errors.InvalidTransition(id, msg.Status.String(), message.StatusCompleted.String())
	}

	claimedAt := msg.ClaimedAt
	msg.Status = message.StatusCompleted
	if result != nil {
		msg.Result = make([]byte, len(result))
		copy(msg.Result, result)
	}
	msg.Error = ""

	// Conditional on the claim still standing: if the reaper requeued the
	// message in the meantime, this write loses and the caller hears it.
	if err := b.store.UpdateClaimed(ctx, msg, claimedAt); err != nil {
		return b.storeErr(err, id)
	}

	b.logger.MessageCompleted(msg.ID, msg.TargetAgent, b.now().Sub(msg.ClaimedAt))
	b.notify(msg, message.StatusProcessing, message.StatusCompleted)
	b.publishToGroup(msg)
	return nil
}

// MarkFailed records a handler failure and hands the message to the retry
// scheduler: requeue with a backoff delay while budget remains (and the
// failure is retryable), dead-letter otherwise.
func (b *Bus) MarkFailed(ctx context.Context, id string, failure error) error {
	if b.closed.Load() {
		return errors.FromCode(errors.CodeClosed)
	}

	msg, err := b.store.Get(ctx, id)
	if err != nil {
		return b.storeErr(err, id)
	}

	if !message.CanTransition(msg.Status, message.StatusFailed) {
		return errors.InvalidTransition(id, msg.Status.String(), message.StatusFailed.String())
	}

	return b.fail(ctx, msg, failure)
}

// fail applies the retry decision to a message already in processing.
// The attempt was counted at claim time, so the count is not touched here.
// The write is conditional on the claim still standing: the caller's
// snapshot (worker report or reaper sweep) may be stale, and a message that
// reached a terminal state in the meantime must not be touched.
func (b *Bus) fail(ctx context.Context, msg *message.AgentMessage, failure error) error {
	claimedAt := msg.ClaimedAt
	if failure != nil {
		msg.Error = failure.Error()
	}

	exhausted := msg.AttemptCount >= msg.MaxAttempts
	deadLetter := exhausted || !errors.IsRetryable(failure)

	var delay time.Duration
	if deadLetter {
		msg.Status = message.StatusDeadLetter
		msg.NextRetryAt = time.Time{}
	} else {
		delay = b.policy.Delay(msg.AttemptCount)
		msg.Status = message.StatusPending
		msg.NextRetryAt = b.now().Add(delay)
	}
	msg.ClaimedAt = time.Time{}

	if err := b.store.UpdateClaimed(ctx, msg, claimedAt); err != nil {
		return b.storeErr(err, msg.ID)
	}

	b.notify(msg, message.StatusProcessing, message.StatusFailed)
	if deadLetter {
		b.logger.DeadLettered(msg.ID, msg.TargetAgent, msg.AttemptCount, msg.Error)
		b.notify(msg, message.StatusFailed, message.StatusDeadLetter)
		b.publishToGroup(msg)
		return nil
	}
	b.logger.MessageFailed(msg.ID, msg.TargetAgent, msg.AttemptCount, delay, failure)
	b.notify(msg, message.StatusFailed, message.StatusPending)
	return nil
}

// Correlated returns every message sharing a correlation ID, in creation
// order. The aggregator uses it to replay terminal messages that landed
// before its subscription.
func (b *Bus) Correlated(ctx context.Context, correlationID string) ([]*message.AgentMessage, error) {
	if b.closed.Load() {
		return nil, errors.FromCode(errors.CodeClosed)
	}

	msgs, err := b.store.ListByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, b.storeErr(err, "")
	}
	return msgs, nil
}

// Get retrieves a message by ID.
func (b *Bus) Get(ctx context.Context, id string) (*message.AgentMessage, error) {
	if b.closed.Load() {
		return nil, errors.FromCode(errors.CodeClosed)
	}

	msg, err := b.store.Get(ctx, id)
	if err != nil {
		return nil, b.storeErr(err, id)
	}
	return msg, nil
}

// Close shuts down the bus. The queue store stays open: the caller owns it.
func (b *Bus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.subs {
		for _, sub := range subs {
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		}
	}
	b.subs = make(map[string][]*groupSub)
	return nil
}

// notify reports a transition to the observer. Best effort by contract.
func (b *Bus) notify(msg *message.AgentMessage, from, to message.Status) {
	observe.Notify(b.observer, observe.Transition{
		MessageID:     msg.ID,
		Agent:         msg.TargetAgent,
		CorrelationID: msg.CorrelationID,
		From:          from,
		To:            to,
		Attempt:       msg.AttemptCount,
		Error:         msg.Error,
		At:            b.now(),
	})
}

// storeErr maps store sentinel errors onto the bus taxonomy.
func (b *Bus) storeErr(err error, id string) error {
	switch {
	case err == nil:
		return nil
	case stderrIs(err, store.ErrNotFound):
		return errors.NotFound(id)
	case stderrIs(err, store.ErrClaimConflict):
		return errors.ClaimConflict(id)
	case stderrIs(err, store.ErrDuplicateID):
		return errors.Validation(fmt.Sprintf("duplicate message ID %s", id))
	case stderrIs(err, store.ErrClosed):
		return errors.FromCode(errors.CodeClosed)
	default:
		return errors.StoreUnavailable(err, errors.WithMessageID(id))
	}
}
