package correlate

import (
	"context"
	"testing"
	"time"

	"github.com/praxislabs/agentbus/backoff"
	"github.com/praxislabs/agentbus/bus"
	"github.com/praxislabs/agentbus/errors"
	"github.com/praxislabs/agentbus/message"
	"github.com/praxislabs/agentbus/store"
)

func newTestBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New(store.NewMemoryStore(), bus.WithBackoff(backoff.None{}))
	t.Cleanup(func() { b.Close() })
	return b
}

func sendGroupRequest(t *testing.T, b *bus.Bus, agent, group string) string {
	t.Helper()
	id, err := b.Send(context.Background(), &message.AgentMessage{
		SourceAgent:   "orchestrator",
		TargetAgent:   agent,
		Type:          message.TypeQuery,
		Priority:      message.PriorityNormal,
		Content:       []byte(`{"topic":"q3"}`),
		CorrelationID: group,
	})
	if err != nil {
		t.Fatalf("Send to %s: %v", agent, err)
	}
	return id
}

func complete(t *testing.T, b *bus.Bus, id string, result []byte) {
	t.Helper()
	ctx := context.Background()
	if _, err := b.MarkProcessing(ctx, id); err != nil {
		t.Fatalf("MarkProcessing %s: %v", id, err)
	}
	if err := b.MarkCompleted(ctx, id, result); err != nil {
		t.Fatalf("MarkCompleted %s: %v", id, err)
	}
}

func TestAwaitGroupAllRespond(t *testing.T) {
	b := newTestBus(t)
	agg := New(b)

	ids := map[string]string{
		"meeting_analyzer": sendGroupRequest(t, b, "meeting_analyzer", "briefing-1"),
		"career_coach":     sendGroupRequest(t, b, "career_coach", "briefing-1"),
	}

	// Responses arrive while the aggregator waits.
	go func() {
		ctx := context.Background()
		for agent, payload := range map[string][]byte{
			"meeting_analyzer": []byte("minutes"),
			"career_coach":     []byte("advice"),
		} {
			id := ids[agent]
			if _, err := b.MarkProcessing(ctx, id); err != nil {
				t.Errorf("MarkProcessing %s: %v", id, err)
				return
			}
			if err := b.MarkCompleted(ctx, id, payload); err != nil {
				t.Errorf("MarkCompleted %s: %v", id, err)
				return
			}
		}
	}()

	result, err := agg.AwaitGroup(context.Background(), "briefing-1", 2, 5*time.Second)
	if err != nil {
		t.Fatalf("AwaitGroup: %v", err)
	}

	if !result.Complete() || result.TimedOut {
		t.Fatalf("expected a complete result, got %+v", result)
	}
	if len(result.Responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(result.Responses))
	}
	if r := result.Responses["meeting_analyzer"]; !r.Completed || string(r.Result) != "minutes" {
		t.Errorf("meeting_analyzer response wrong: %+v", r)
	}
	if r := result.Responses["career_coach"]; !r.Completed || string(r.Result) != "advice" {
		t.Errorf("career_coach response wrong: %+v", r)
	}
}

func TestAwaitGroupPartial(t *testing.T) {
	b := newTestBus(t)
	agg := New(b)

	okID := sendGroupRequest(t, b, "meeting_analyzer", "briefing-2")
	sendGroupRequest(t, b, "dikw_synthesizer", "briefing-2") // never responds

	complete(t, b, okID, []byte("minutes"))

	result, err := agg.AwaitGroup(context.Background(), "briefing-2", 2, 50*time.Millisecond,
		WithAgents("meeting_analyzer", "dikw_synthesizer"))
	if err != nil {
		t.Fatalf("AwaitGroup: %v", err)
	}

	// Partial success: the late agent is a gap, not an error.
	if !result.TimedOut {
		t.Error("expected TimedOut")
	}
	if result.Complete() {
		t.Error("result must not be complete")
	}
	if result.MissingCount != 1 {
		t.Errorf("expected 1 missing, got %d", result.MissingCount)
	}
	if len(result.Missing) != 1 || result.Missing[0] != "dikw_synthesizer" {
		t.Errorf("expected dikw_synthesizer named as missing, got %v", result.Missing)
	}
	if r := result.Responses["meeting_analyzer"]; r == nil || !r.Completed {
		t.Errorf("the response that did arrive must be kept: %+v", r)
	}
}

func TestAwaitGroupReplaysEarlierCompletions(t *testing.T) {
	b := newTestBus(t)
	agg := New(b)

	// Both messages reach terminal state before anyone starts waiting.
	okID := sendGroupRequest(t, b, "meeting_analyzer", "briefing-3")
	complete(t, b, okID, []byte("minutes"))

	deadID := sendGroupRequest(t, b, "arjuna", "briefing-3")
	ctx := context.Background()
	if _, err := b.MarkProcessing(ctx, deadID); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if err := b.MarkFailed(ctx, deadID, errors.Validation("unparseable")); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	result, err := agg.AwaitGroup(ctx, "briefing-3", 2, 5*time.Second)
	if err != nil {
		t.Fatalf("AwaitGroup: %v", err)
	}

	if result.TimedOut {
		t.Error("pre-existing terminal states must satisfy the wait without timing out")
	}
	if len(result.Responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(result.Responses))
	}

	// Dead-lettered counts as a response carrying the failure, not a gap.
	dead := result.Responses["arjuna"]
	if dead == nil || dead.Completed {
		t.Fatalf("expected a failed response for arjuna: %+v", dead)
	}
	if dead.Error == "" {
		t.Error("failed response must carry the final error")
	}
	if result.MissingCount != 0 {
		t.Errorf("no gaps expected, got %d", result.MissingCount)
	}
}

func TestAwaitGroupIgnoresPendingMessages(t *testing.T) {
	b := newTestBus(t)
	agg := New(b)

	sendGroupRequest(t, b, "career_coach", "briefing-4") // stays pending

	result, err := agg.AwaitGroup(context.Background(), "briefing-4", 1, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("AwaitGroup: %v", err)
	}
	if len(result.Responses) != 0 {
		t.Errorf("pending messages are not responses, got %d", len(result.Responses))
	}
	if !result.TimedOut || result.MissingCount != 1 {
		t.Errorf("expected timeout with 1 gap, got %+v", result)
	}
}

func TestAwaitGroupContextCancel(t *testing.T) {
	b := newTestBus(t)
	agg := New(b)

	sendGroupRequest(t, b, "career_coach", "briefing-5")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := agg.AwaitGroup(ctx, "briefing-5", 1, time.Minute)
	if err != nil {
		t.Fatalf("AwaitGroup: %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancel must end the wait well before the timeout")
	}
	if !result.TimedOut || result.MissingCount != 1 {
		t.Errorf("cancelled wait reports what it has, got %+v", result)
	}
}

func TestAwaitGroupNamedGapsSorted(t *testing.T) {
	b := newTestBus(t)
	agg := New(b)

	result, err := agg.AwaitGroup(context.Background(), "briefing-6", 3, 10*time.Millisecond,
		WithAgents("career_coach", "arjuna", "dikw_synthesizer"))
	if err != nil {
		t.Fatalf("AwaitGroup: %v", err)
	}
	if len(result.Missing) != 3 {
		t.Fatalf("expected 3 named gaps, got %v", result.Missing)
	}
	// Gap order follows the caller's expected-agent order.
	want := []string{"career_coach", "arjuna", "dikw_synthesizer"}
	for i, agent := range want {
		if result.Missing[i] != agent {
			t.Errorf("position %d: expected %s, got %s", i, agent, result.Missing[i])
		}
	}
}
