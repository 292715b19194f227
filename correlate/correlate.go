// Package correlate assembles the results of a fan-out request: one logical
// request dispatched to several agents under a shared correlation ID, with
// the responses gathered under a mandatory timeout.
//
// Partial success is the expected outcome, not an error: AwaitGroup returns
// whatever arrived, reporting the agents that never responded as explicit
// gaps.
package correlate

import (
	"context"
	"time"

	"github.com/praxislabs/agentbus/bus"
	"github.com/praxislabs/agentbus/message"
)

// Response is one agent's contribution to a fan-out group.
type Response struct {
	// Agent is the agent that processed the message.
	Agent string

	// MessageID is the underlying bus message.
	MessageID string

	// Completed is true if the handler succeeded.
	Completed bool

	// Result is the handler output, set when Completed.
	Result []byte

	// Error is the final failure message for dead-lettered messages.
	Error string
}

// GroupResult is the outcome of awaiting a fan-out group.
type GroupResult struct {
	// CorrelationID identifies the group.
	CorrelationID string

	// Responses maps agent name to that agent's terminal response.
	Responses map[string]*Response

	// Missing names the expected agents that never reported, when the
	// caller supplied the expected agent set. Otherwise it is empty and
	// MissingCount alone says how many responses the group is short.
	Missing []string

	// MissingCount is how many expected responses never arrived.
	MissingCount int

	// TimedOut is true if the wait ended at the deadline rather than at
	// the expected count.
	TimedOut bool
}

// Complete returns true if every expected agent reported.
func (g *GroupResult) Complete() bool {
	return g.MissingCount == 0
}

// Aggregator collects fan-out responses from the bus.
type Aggregator struct {
	bus *bus.Bus
}

// New creates an aggregator over the given bus.
func New(b *bus.Bus) *Aggregator {
	return &Aggregator{bus: b}
}

// GroupOption configures one AwaitGroup call.
type GroupOption func(*groupOptions)

type groupOptions struct {
	agents []string
}

// WithAgents names the agents expected to respond, so that gaps can be
// reported by name instead of by count alone.
func WithAgents(agents ...string) GroupOption {
	return func(o *groupOptions) {
		o.agents = agents
	}
}

// AwaitGroup collects terminal responses for a correlation group until
// either expected distinct agents have reported or the timeout elapses,
// whichever comes first. The timeout is mandatory; the wait never blocks
// indefinitely. Missing agents are reported in the result, never as an
// error.
//
// No completion is ever missed between observation windows: the aggregator
// subscribes to the group before scanning the store, then deduplicates by
// message ID, so a message that lands terminal during the scan is seen on
// one path or the other.
func (a *Aggregator) AwaitGroup(ctx context.Context, correlationID string, expected int, timeout time.Duration, opts ...GroupOption) (*GroupResult, error) {
	var options groupOptions
	for _, opt := range opts {
		opt(&options)
	}

	result := &GroupResult{
		CorrelationID: correlationID,
		Responses:     make(map[string]*Response),
	}
	seen := make(map[string]bool) // message IDs already folded in

	// Subscribe first, then replay from the store.
	updates, cancel := a.bus.Subscribe(correlationID)
	defer cancel()

	existing, err := a.bus.Correlated(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	for _, msg := range existing {
		a.fold(result, seen, msg)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for expected > len(result.Responses) {
		select {
		case <-ctx.Done():
			a.finish(result, expected, &options, true)
			return result, nil
		case <-deadline.C:
			// Final scan closes the race between the last store write
			// and subscriber notification.
			if late, err := a.bus.Correlated(ctx, correlationID); err == nil {
				for _, msg := range late {
					a.fold(result, seen, msg)
				}
			}
			a.finish(result, expected, &options, true)
			return result, nil
		case msg, ok := <-updates:
			if !ok {
				a.finish(result, expected, &options, true)
				return result, nil
			}
			a.fold(result, seen, msg)
		}
	}

	a.finish(result, expected, &options, false)
	return result, nil
}

// fold merges one terminal message into the group result.
func (a *Aggregator) fold(result *GroupResult, seen map[string]bool, msg *message.AgentMessage) {
	if seen[msg.ID] {
		return
	}
	switch msg.Status {
	case message.StatusCompleted:
		seen[msg.ID] = true
		result.Responses[msg.TargetAgent] = &Response{
			Agent:     msg.TargetAgent,
			MessageID: msg.ID,
			Completed: true,
			Result:    msg.Result,
		}
	case message.StatusDeadLetter:
		seen[msg.ID] = true
		// A terminal failure is still a response; the gap list is for
		// agents that never reported at all.
		result.Responses[msg.TargetAgent] = &Response{
			Agent:     msg.TargetAgent,
			MessageID: msg.ID,
			Error:     msg.Error,
		}
	}
}

// finish computes the gap report.
func (a *Aggregator) finish(result *GroupResult, expected int, options *groupOptions, timedOut bool) {
	result.TimedOut = timedOut

	if missing := expected - len(result.Responses); missing > 0 {
		result.MissingCount = missing
	}

	for _, agent := range options.agents {
		if _, ok := result.Responses[agent]; !ok {
			result.Missing = append(result.Missing, agent)
		}
	}
}
