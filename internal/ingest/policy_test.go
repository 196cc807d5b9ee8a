package ingest

import (
	"testing"
	"time"
)

func TestTrackerHappyPath(t *testing.T) {
	tr := NewTracker()
	for _, next := range []State{StateValidating, StatePersisting, StateAcknowledged} {
		if err := tr.Advance(next); err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
	}
	if !tr.State().Terminal() {
		t.Fatalf("expected terminal state, got %s", tr.State())
	}
}

func TestTrackerRetryLoop(t *testing.T) {
	tr := NewTracker()
	steps := []State{
		StateValidating,
		StatePersisting,
		StateRetryScheduled,
		StatePersisting,
		StateRetryScheduled,
		StatePersisting,
		StateDeadLettered,
	}
	for _, next := range steps {
		if err := tr.Advance(next); err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
	}
}

func TestTrackerRejectionPath(t *testing.T) {
	tr := NewTracker()
	for _, next := range []State{StateValidating, StateRejected, StateDeadLettered} {
		if err := tr.Advance(next); err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
	}
}

func TestTrackerRejectsIllegalTransitions(t *testing.T) {
	cases := []struct {
		from State
		to   State
	}{
		{StateReceived, StatePersisting},
		{StateValidating, StateAcknowledged},
		{StateRejected, StatePersisting},
		{StateAcknowledged, StatePersisting},
		{StateDeadLettered, StateValidating},
		{StateRetryScheduled, StateAcknowledged},
	}
	for _, tc := range cases {
		tr := &Tracker{state: tc.from}
		if err := tr.Advance(tc.to); err == nil {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
		if tr.State() != tc.from {
			t.Fatalf("state moved on rejected transition: %s", tr.State())
		}
	}
}

func TestPolicyAttempts(t *testing.T) {
	if got := (Policy{MaxRetries: 3}).Attempts(); got != 4 {
		t.Fatalf("expected 4 attempts, got %d", got)
	}
	if got := (Policy{MaxRetries: 0}).Attempts(); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
	if got := (Policy{MaxRetries: -5}).Attempts(); got != 1 {
		t.Fatalf("expected negative retries to clamp to 1 attempt, got %d", got)
	}
}

func TestPolicyBackOffSequenceIsDeterministic(t *testing.T) {
	p := Policy{MaxRetries: 5, InitialInterval: time.Second, MaxInterval: 5 * time.Second}
	bo := p.newBackOff()
	bo.Reset()

	want := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}
	for i, expected := range want {
		if got := bo.NextBackOff(); got != expected {
			t.Fatalf("wait %d: expected %v, got %v", i, expected, got)
		}
	}
}

func TestPolicyDefaults(t *testing.T) {
	p := Policy{}.withDefaults()
	if p.InitialInterval != time.Second {
		t.Fatalf("expected 1s initial interval, got %v", p.InitialInterval)
	}
	if p.MaxInterval != 30*time.Second {
		t.Fatalf("expected 30s interval cap, got %v", p.MaxInterval)
	}
}

func TestStateStrings(t *testing.T) {
	for state, want := range map[State]string{
		StateReceived:       "received",
		StateValidating:     "validating",
		StatePersisting:     "persisting",
		StateRetryScheduled: "retry_scheduled",
		StateAcknowledged:   "acknowledged",
		StateRejected:       "rejected",
		StateDeadLettered:   "dead_lettered",
	} {
		if state.String() != want {
			t.Fatalf("expected %q, got %q", want, state.String())
		}
	}
}
