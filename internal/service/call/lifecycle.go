// Package call holds the per-call session record: identity, agent snapshot,
// dialogue history, turn-taking flags, metering and the session lifecycle.
package call

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of a call session.
type State int

const (
	// StateInitializing - transcription stream being opened.
	StateInitializing State = iota
	// StateActive - audio flowing, turns being taken.
	StateActive
	// StateEnding - termination in progress; events are dropped.
	StateEnding
	// StateEnded - adapters released, stats computed. Terminal.
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "INITIALIZING"
	case StateActive:
		return "ACTIVE"
	case StateEnding:
		return "ENDING"
	case StateEnded:
		return "ENDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// AcceptsEvents reports whether audio and transcript events may mutate a
// session in this state.
func (s State) AcceptsEvents() bool {
	return s == StateActive
}

// ErrInvalidTransition is returned for a transition the state machine forbids.
var ErrInvalidTransition = errors.New("invalid session state transition")

// Lifecycle is the session state machine. Safe for concurrent use.
//
//	INITIALIZING ──Activate()──→ ACTIVE ──BeginEnding()──→ ENDING ──Finish()──→ ENDED
//	      │                                                   ↑
//	      └──────────────────BeginEnding()────────────────────┘
//
// BeginEnding succeeds exactly once; every later caller sees false and must
// treat the termination as already owned by someone else.
type Lifecycle struct {
	mu     sync.RWMutex
	state  State
	reason string
}

func NewLifecycle() *Lifecycle {
	return &Lifecycle{state: StateInitializing}
}

func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Reason returns the termination reason, empty until BeginEnding.
func (l *Lifecycle) Reason() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reason
}

// Activate moves INITIALIZING to ACTIVE.
func (l *Lifecycle) Activate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateInitializing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, StateActive)
	}
	l.state = StateActive
	return nil
}

// BeginEnding moves a live session to ENDING and records the reason.
// Returns false if the session is already ENDING or ENDED.
func (l *Lifecycle) BeginEnding(reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateEnding || l.state == StateEnded {
		return false
	}
	l.state = StateEnding
	l.reason = reason
	return true
}

// Finish moves ENDING to ENDED.
func (l *Lifecycle) Finish() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateEnding {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, l.state, StateEnded)
	}
	l.state = StateEnded
	return nil
}
