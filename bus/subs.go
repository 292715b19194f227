package bus

import (
	stderrors "errors"

	"github.com/praxislabs/agentbus/message"
)

// stderrIs reports errors.Is against the standard library, since this
// package's errors import is the bus taxonomy.
func stderrIs(err, target error) bool {
	return stderrors.Is(err, target)
}

// groupSub is one correlation-group subscription. The channel is closed only
// under b.mu; closed is guarded by the same lock.
type groupSub struct {
	ch     chan *message.AgentMessage
	closed bool
}

// Subscribe returns a channel receiving every message of the correlation
// group as it reaches a terminal state (completed or dead_letter), plus a
// cancel function. The channel is buffered; the aggregator drains it
// promptly. Subscribers see only transitions after the call; callers that
// must not miss earlier completions subscribe first and then scan the store,
// deduplicating by message ID.
func (b *Bus) Subscribe(correlationID string) (<-chan *message.AgentMessage, func()) {
	sub := &groupSub{ch: make(chan *message.AgentMessage, 64)}

	b.mu.Lock()
	b.subs[correlationID] = append(b.subs[correlationID], sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub.closed {
			return
		}
		subs := b.subs[correlationID]
		for i, s := range subs {
			if s == sub {
				b.subs[correlationID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subs[correlationID]) == 0 {
			delete(b.subs, correlationID)
		}
		sub.closed = true
		close(sub.ch)
	}
	return sub.ch, cancel
}

// publishToGroup delivers a terminal message to its correlation group's
// subscribers. The send runs under b.mu, the same lock cancel and Close hold
// while closing a subscription channel, so a send can never land on a closed
// channel. Non-blocking: a full buffer drops the update, and the
// aggregator's final store scan still observes the message.
func (b *Bus) publishToGroup(msg *message.AgentMessage) {
	if msg.CorrelationID == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs[msg.CorrelationID] {
		select {
		case sub.ch <- msg.Clone():
		default:
		}
	}
}
