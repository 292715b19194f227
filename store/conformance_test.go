package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/praxislabs/agentbus/message"
)

// testQueueStore runs the QueueStore contract against a backend.
func testQueueStore(t *testing.T, open func(t *testing.T) QueueStore) {
	t.Run("PutGetDelete", func(t *testing.T) { testPutGetDelete(t, open(t)) })
	t.Run("DuplicateID", func(t *testing.T) { testDuplicateID(t, open(t)) })
	t.Run("ClaimRace", func(t *testing.T) { testClaimRace(t, open(t)) })
	t.Run("ClaimRespectsRetryDelay", func(t *testing.T) { testClaimRespectsRetryDelay(t, open(t)) })
	t.Run("PendingOrder", func(t *testing.T) { testPendingOrder(t, open(t)) })
	t.Run("PendingExcludesDelayed", func(t *testing.T) { testPendingExcludesDelayed(t, open(t)) })
	t.Run("ListByStatus", func(t *testing.T) { testListByStatus(t, open(t)) })
	t.Run("ListByCorrelation", func(t *testing.T) { testListByCorrelation(t, open(t)) })
	t.Run("ReapStuck", func(t *testing.T) { testReapStuck(t, open(t)) })
	t.Run("UpdateClaimed", func(t *testing.T) { testUpdateClaimed(t, open(t)) })
}

func newStoredMessage(id, agent string, prio message.Priority, createdAt time.Time) *message.AgentMessage {
	return &message.AgentMessage{
		ID:          id,
		SourceAgent: "orchestrator",
		TargetAgent: agent,
		Type:        message.TypeTask,
		Priority:    prio,
		Content:     []byte(`{"work":true}`),
		CreatedAt:   createdAt,
		Status:      message.StatusPending,
		MaxAttempts: 3,
	}
}

func testPutGetDelete(t *testing.T, qs QueueStore) {
	defer qs.Close()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	msg := newStoredMessage("m1", "career_coach", message.PriorityNormal, now)
	msg.CorrelationID = "group-1"
	if err := qs.Put(ctx, msg); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := qs.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TargetAgent != "career_coach" || got.Priority != message.PriorityNormal {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.CorrelationID != "group-1" {
		t.Errorf("correlation ID lost: %q", got.CorrelationID)
	}
	if !got.CreatedAt.Equal(msg.CreatedAt) {
		t.Errorf("CreatedAt mismatch: %v vs %v", got.CreatedAt, msg.CreatedAt)
	}
	if string(got.Content) != `{"work":true}` {
		t.Errorf("content mismatch: %s", got.Content)
	}

	got.Error = "transient"
	got.Status = message.StatusFailed
	if err := qs.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	updated, err := qs.Get(ctx, "m1")
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if updated.Status != message.StatusFailed || updated.Error != "transient" {
		t.Errorf("update not persisted: %+v", updated)
	}

	if err := qs.Delete(ctx, "m1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := qs.Get(ctx, "m1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := qs.Delete(ctx, "m1"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
	if err := qs.Update(ctx, msg); err != ErrNotFound {
		t.Errorf("expected ErrNotFound updating a deleted message, got %v", err)
	}
}

func testDuplicateID(t *testing.T, qs QueueStore) {
	defer qs.Close()
	ctx := context.Background()

	msg := newStoredMessage("dup", "career_coach", message.PriorityNormal, time.Now())
	if err := qs.Put(ctx, msg); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := qs.Put(ctx, msg); err != ErrDuplicateID {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
}

func testClaimRace(t *testing.T, qs QueueStore) {
	defer qs.Close()
	ctx := context.Background()
	now := time.Now()

	msg := newStoredMessage("msg-42", "career_coach", message.PriorityNormal, now)
	if err := qs.Put(ctx, msg); err != nil {
		t.Fatalf("Put: %v", err)
	}

	const callers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := qs.Claim(ctx, "msg-42", now)
			mu.Lock()
			defer mu.Unlock()
			switch err {
			case nil:
				wins++
			case ErrClaimConflict:
				conflicts++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one winner, got %d", wins)
	}
	if conflicts != callers-1 {
		t.Errorf("expected %d conflicts, got %d", callers-1, conflicts)
	}

	got, err := qs.Get(ctx, "msg-42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != message.StatusProcessing {
		t.Errorf("expected processing, got %s", got.Status)
	}
	if got.AttemptCount != 1 {
		t.Errorf("expected one attempt counted, got %d", got.AttemptCount)
	}
}

func testClaimRespectsRetryDelay(t *testing.T, qs QueueStore) {
	defer qs.Close()
	ctx := context.Background()
	now := time.Now()

	msg := newStoredMessage("delayed", "career_coach", message.PriorityNormal, now)
	msg.NextRetryAt = now.Add(time.Minute)
	if err := qs.Put(ctx, msg); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := qs.Claim(ctx, "delayed", now); err != ErrClaimConflict {
		t.Errorf("expected ErrClaimConflict before NextRetryAt, got %v", err)
	}
	if _, err := qs.Claim(ctx, "delayed", now.Add(2*time.Minute)); err != nil {
		t.Errorf("expected claim to succeed after NextRetryAt, got %v", err)
	}
	if _, err := qs.Claim(ctx, "missing", now); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func testPendingOrder(t *testing.T, qs QueueStore) {
	defer qs.Close()
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Microsecond)

	// Arrival order deliberately scrambled.
	inserts := []struct {
		id   string
		prio message.Priority
		at   time.Time
	}{
		{"low", message.PriorityLow, base},
		{"critical", message.PriorityCritical, base.Add(2 * time.Second)},
		{"normal-late", message.PriorityNormal, base.Add(3 * time.Second)},
		{"normal-early", message.PriorityNormal, base.Add(time.Second)},
	}
	for _, in := range inserts {
		if err := qs.Put(ctx, newStoredMessage(in.id, "career_coach", in.prio, in.at)); err != nil {
			t.Fatalf("Put %s: %v", in.id, err)
		}
	}
	// Another agent's message must not leak into the scan.
	if err := qs.Put(ctx, newStoredMessage("other", "arjuna", message.PriorityCritical, base)); err != nil {
		t.Fatalf("Put other: %v", err)
	}

	got, err := qs.NextPending(ctx, "career_coach", 10, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}

	want := []string{"critical", "normal-early", "normal-late", "low"}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}

	// Limit trims from the back of the ordering.
	limited, err := qs.NextPending(ctx, "career_coach", 2, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("NextPending limited: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "critical" || limited[1].ID != "normal-early" {
		t.Errorf("limit must keep the head of the ordering, got %v", idsOf(limited))
	}
}

func testPendingExcludesDelayed(t *testing.T, qs QueueStore) {
	defer qs.Close()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	ready := newStoredMessage("ready", "career_coach", message.PriorityNormal, now)
	delayed := newStoredMessage("delayed", "career_coach", message.PriorityCritical, now)
	delayed.NextRetryAt = now.Add(time.Minute)

	if err := qs.Put(ctx, ready); err != nil {
		t.Fatalf("Put ready: %v", err)
	}
	if err := qs.Put(ctx, delayed); err != nil {
		t.Fatalf("Put delayed: %v", err)
	}

	got, err := qs.NextPending(ctx, "career_coach", 10, now)
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if len(got) != 1 || got[0].ID != "ready" {
		t.Errorf("delayed message must be excluded, got %v", idsOf(got))
	}

	// Past the retry time it reappears, and its priority puts it first.
	got, err = qs.NextPending(ctx, "career_coach", 10, now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("NextPending after delay: %v", err)
	}
	if len(got) != 2 || got[0].ID != "delayed" {
		t.Errorf("expected delayed first after its retry time, got %v", idsOf(got))
	}
}

func testListByStatus(t *testing.T, qs QueueStore) {
	defer qs.Close()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	a := newStoredMessage("a", "career_coach", message.PriorityNormal, now)
	b := newStoredMessage("b", "arjuna", message.PriorityNormal, now.Add(time.Second))
	b.Status = message.StatusDeadLetter
	c := newStoredMessage("c", "career_coach", message.PriorityNormal, now.Add(2*time.Second))
	c.Status = message.StatusDeadLetter

	for _, msg := range []*message.AgentMessage{a, b, c} {
		if err := qs.Put(ctx, msg); err != nil {
			t.Fatalf("Put %s: %v", msg.ID, err)
		}
	}

	all, err := qs.ListByStatus(ctx, "", message.StatusDeadLetter)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(all) != 2 || all[0].ID != "b" || all[1].ID != "c" {
		t.Errorf("expected [b c] in creation order, got %v", idsOf(all))
	}

	scoped, err := qs.ListByStatus(ctx, "career_coach", message.StatusDeadLetter)
	if err != nil {
		t.Fatalf("ListByStatus scoped: %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != "c" {
		t.Errorf("expected [c], got %v", idsOf(scoped))
	}
}

func testListByCorrelation(t *testing.T, qs QueueStore) {
	defer qs.Close()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	for i, agent := range []string{"meeting_analyzer", "dikw_synthesizer", "arjuna"} {
		msg := newStoredMessage(fmt.Sprintf("g%d", i), agent, message.PriorityNormal, now.Add(time.Duration(i)*time.Second))
		msg.CorrelationID = "briefing-7"
		if err := qs.Put(ctx, msg); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	loner := newStoredMessage("solo", "arjuna", message.PriorityNormal, now)
	if err := qs.Put(ctx, loner); err != nil {
		t.Fatalf("Put solo: %v", err)
	}

	group, err := qs.ListByCorrelation(ctx, "briefing-7")
	if err != nil {
		t.Fatalf("ListByCorrelation: %v", err)
	}
	if len(group) != 3 {
		t.Errorf("expected 3 group members, got %d", len(group))
	}

	empty, err := qs.ListByCorrelation(ctx, "")
	if err != nil {
		t.Fatalf("ListByCorrelation empty: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("empty correlation ID matches nothing, got %v", idsOf(empty))
	}
}

func testReapStuck(t *testing.T, qs QueueStore) {
	defer qs.Close()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	stuck := newStoredMessage("stuck", "career_coach", message.PriorityNormal, now.Add(-5*time.Minute))
	stuck.Status = message.StatusProcessing
	stuck.ClaimedAt = now.Add(-2 * time.Minute)

	fresh := newStoredMessage("fresh", "career_coach", message.PriorityNormal, now)
	fresh.Status = message.StatusProcessing
	fresh.ClaimedAt = now.Add(-10 * time.Second)

	pending := newStoredMessage("pending", "career_coach", message.PriorityNormal, now)

	for _, msg := range []*message.AgentMessage{stuck, fresh, pending} {
		if err := qs.Put(ctx, msg); err != nil {
			t.Fatalf("Put %s: %v", msg.ID, err)
		}
	}

	reaped, err := qs.ReapStuck(ctx, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("ReapStuck: %v", err)
	}
	if len(reaped) != 1 || reaped[0].ID != "stuck" {
		t.Errorf("expected only the stuck message, got %v", idsOf(reaped))
	}
}

func testUpdateClaimed(t *testing.T, qs QueueStore) {
	defer qs.Close()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	msg := newStoredMessage("claimed", "career_coach", message.PriorityNormal, now)
	if err := qs.Put(ctx, msg); err != nil {
		t.Fatalf("Put: %v", err)
	}
	claimed, err := qs.Claim(ctx, "claimed", now)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	// With the claim snapshot intact the write goes through.
	done := *claimed
	done.Status = message.StatusCompleted
	done.Result = []byte("summary")
	if err := qs.UpdateClaimed(ctx, &done, claimed.ClaimedAt); err != nil {
		t.Fatalf("UpdateClaimed: %v", err)
	}
	got, err := qs.Get(ctx, "claimed")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != message.StatusCompleted || string(got.Result) != "summary" {
		t.Errorf("conditional update not persisted: %+v", got)
	}

	// The message is no longer processing, so a writer holding the old
	// snapshot must lose instead of clobbering the terminal state.
	stale := *claimed
	stale.Status = message.StatusPending
	stale.Result = nil
	if err := qs.UpdateClaimed(ctx, &stale, claimed.ClaimedAt); err != ErrClaimConflict {
		t.Errorf("expected ErrClaimConflict for a settled message, got %v", err)
	}
	got, err = qs.Get(ctx, "claimed")
	if err != nil {
		t.Fatalf("Get after conflict: %v", err)
	}
	if got.Status != message.StatusCompleted || string(got.Result) != "summary" {
		t.Errorf("losing write must not change the message: %+v", got)
	}

	// A mismatched claim timestamp loses even while processing.
	other := newStoredMessage("reclaimed", "career_coach", message.PriorityNormal, now)
	if err := qs.Put(ctx, other); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := qs.Claim(ctx, "reclaimed", now); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	moved := *other
	moved.Status = message.StatusCompleted
	if err := qs.UpdateClaimed(ctx, &moved, now.Add(-time.Minute)); err != ErrClaimConflict {
		t.Errorf("expected ErrClaimConflict for a stale claim time, got %v", err)
	}

	if err := qs.UpdateClaimed(ctx, newStoredMessage("missing", "career_coach", message.PriorityNormal, now), now); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for unknown id, got %v", err)
	}
}

func idsOf(msgs []*message.AgentMessage) []string {
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}
