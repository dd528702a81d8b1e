// Package segment tracks caller utterances within a call: ID generation and
// the per-utterance lifecycle that gates transcript delivery.
package segment

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of one caller utterance.
type State int

const (
	// StateOpen - caller is speaking; interim transcripts are accepted.
	StateOpen State = iota
	// StateFinalized - speech-final transcript was dispatched as a user turn.
	StateFinalized
	// StateClosed - utterance ended normally.
	StateClosed
	// StateDropped - utterance abandoned (stream error, session ending).
	// Nothing further is dispatched for it.
	StateDropped
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateFinalized:
		return "FINALIZED"
	case StateClosed:
		return "CLOSED"
	case StateDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal reports whether the utterance is CLOSED or DROPPED.
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateDropped
}

var (
	ErrUtteranceClosed   = errors.New("utterance is closed")
	ErrAlreadyFinalized  = errors.New("utterance already finalized")
	ErrPartialAfterFinal = errors.New("interim transcript after final")
)

// Lifecycle guards a single caller utterance. Safe for concurrent use.
//
//	OPEN ──Finalize()──→ FINALIZED ──Close()──→ CLOSED
//	  │                      │
//	  └──────Drop()──────────┴──→ DROPPED
//
// A speech-final transcript is dispatched at most once per utterance; a
// provider that repeats its final (Deepgram can send is_final and then
// speech_final for the same words) is absorbed here.
type Lifecycle struct {
	mu          sync.RWMutex
	utteranceId string
	state       State
	partials    int
}

// NewLifecycle starts an utterance in OPEN.
func NewLifecycle(utteranceId string) *Lifecycle {
	return &Lifecycle{
		utteranceId: utteranceId,
		state:       StateOpen,
	}
}

func (l *Lifecycle) UtteranceId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.utteranceId
}

func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Partials returns the number of interim transcripts accepted so far.
func (l *Lifecycle) Partials() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.partials
}

func (l *Lifecycle) IsDropped() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateDropped
}

// AcceptPartial records an interim transcript.
func (l *Lifecycle) AcceptPartial() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen:
		l.partials++
		return nil
	case StateFinalized:
		return ErrPartialAfterFinal
	default:
		return ErrUtteranceClosed
	}
}

// Finalize moves OPEN to FINALIZED. Any other state is an error and the
// caller must not dispatch the transcript.
func (l *Lifecycle) Finalize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen:
		l.state = StateFinalized
		return nil
	case StateFinalized:
		return ErrAlreadyFinalized
	default:
		return ErrUtteranceClosed
	}
}

// Close ends the utterance. Idempotent; a DROPPED utterance stays DROPPED.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateDropped {
		l.state = StateClosed
	}
}

// Drop abandons the utterance. Returns false if it was already terminal.
func (l *Lifecycle) Drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateDropped
	return true
}

// Begin reopens the lifecycle for the caller's next utterance.
func (l *Lifecycle) Begin(utteranceId string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.utteranceId = utteranceId
	l.state = StateOpen
	l.partials = 0
}
