package observe

import (
	"testing"
	"time"

	"github.com/praxislabs/agentbus/message"
)

type recordingObserver struct {
	transitions []Transition
}

func (r *recordingObserver) OnTransition(t Transition) {
	r.transitions = append(r.transitions, t)
}

type panickyObserver struct{}

func (panickyObserver) OnTransition(Transition) { panic("sink down") }

func sampleTransition() Transition {
	return Transition{
		MessageID: "msg-1",
		Agent:     "career_coach",
		From:      message.StatusPending,
		To:        message.StatusProcessing,
		Attempt:   1,
		At:        time.Now(),
	}
}

func TestNotifyNilObserver(t *testing.T) {
	Notify(nil, sampleTransition()) // must not panic
}

func TestNotifySwallowsPanic(t *testing.T) {
	Notify(panickyObserver{}, sampleTransition()) // must not panic
}

func TestMultiFansOut(t *testing.T) {
	a := &recordingObserver{}
	b := &recordingObserver{}
	multi := NewMulti(a, panickyObserver{}, b)

	Notify(multi, sampleTransition())

	// The panicking sink in the middle must not stop delivery to b.
	if len(a.transitions) != 1 || len(b.transitions) != 1 {
		t.Errorf("expected both recorders to see the transition, got %d / %d",
			len(a.transitions), len(b.transitions))
	}
	if a.transitions[0].MessageID != "msg-1" {
		t.Errorf("transition payload lost: %+v", a.transitions[0])
	}
}
