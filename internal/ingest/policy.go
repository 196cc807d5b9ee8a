package ingest

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// State tracks where a message is in its pipeline lifecycle.
type State int

const (
	StateReceived State = iota
	StateValidating
	StatePersisting
	StateRetryScheduled
	StateAcknowledged
	StateRejected
	StateDeadLettered
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateValidating:
		return "validating"
	case StatePersisting:
		return "persisting"
	case StateRetryScheduled:
		return "retry_scheduled"
	case StateAcknowledged:
		return "acknowledged"
	case StateRejected:
		return "rejected"
	case StateDeadLettered:
		return "dead_lettered"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether the state ends the message lifecycle.
func (s State) Terminal() bool {
	return s == StateAcknowledged || s == StateDeadLettered
}

var legalTransitions = map[State][]State{
	StateReceived:       {StateValidating},
	StateValidating:     {StatePersisting, StateRejected},
	StatePersisting:     {StateAcknowledged, StateRetryScheduled, StateDeadLettered},
	StateRetryScheduled: {StatePersisting},
	StateRejected:       {StateDeadLettered},
}

// Tracker enforces the legal lifecycle transitions for a single message.
// A transition that is not in the map is a programming error, not an
// operational condition, so Advance returns an error instead of panicking
// and the consumer treats it as an internal failure.
type Tracker struct {
	state State
}

// NewTracker starts a lifecycle at received.
func NewTracker() *Tracker {
	return &Tracker{state: StateReceived}
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	return t.state
}

// Advance moves the lifecycle to next if the transition is legal.
func (t *Tracker) Advance(next State) error {
	for _, allowed := range legalTransitions[t.state] {
		if allowed == next {
			t.state = next
			return nil
		}
	}
	return fmt.Errorf("illegal lifecycle transition %s -> %s", t.state, next)
}

// Policy bounds how often a retryable persistence failure is retried before
// the message is dead-lettered. A message gets MaxRetries+1 persistence
// attempts in total. Validation failures are never retried.
type Policy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = time.Second
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = 30 * time.Second
	}
	return p
}

// newBackOff builds the wait sequence for one message: the interval doubles
// on every retry and is capped at MaxInterval. Randomization is disabled so
// the sequence is deterministic.
func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	p = p.withDefaults()
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		MaxInterval:         p.MaxInterval,
		Multiplier:          2,
		RandomizationFactor: 0,
	}
}

// Attempts returns the total number of persistence attempts the policy
// grants a message.
func (p Policy) Attempts() int {
	return p.withDefaults().MaxRetries + 1
}
