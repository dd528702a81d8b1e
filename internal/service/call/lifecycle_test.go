package call

import (
	"errors"
	"sync"
	"testing"
)

func TestLifecycle_HappyPath(t *testing.T) {
	lc := NewLifecycle()

	if lc.State() != StateInitializing {
		t.Fatalf("expected INITIALIZING, got %v", lc.State())
	}
	if err := lc.Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !lc.State().AcceptsEvents() {
		t.Error("expected ACTIVE to accept events")
	}
	if !lc.BeginEnding("completed") {
		t.Fatal("expected BeginEnding to succeed")
	}
	if lc.State().AcceptsEvents() {
		t.Error("expected ENDING to drop events")
	}
	if lc.Reason() != "completed" {
		t.Errorf("expected reason completed, got %q", lc.Reason())
	}
	if err := lc.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if lc.State() != StateEnded {
		t.Errorf("expected ENDED, got %v", lc.State())
	}
}

func TestLifecycle_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*Lifecycle)
		op    func(*Lifecycle) error
	}{
		{"activate twice", func(l *Lifecycle) { l.Activate() }, (*Lifecycle).Activate},
		{"activate while ending", func(l *Lifecycle) { l.BeginEnding("x") }, (*Lifecycle).Activate},
		{"finish while active", func(l *Lifecycle) { l.Activate() }, (*Lifecycle).Finish},
		{"finish twice", func(l *Lifecycle) { l.BeginEnding("x"); l.Finish() }, (*Lifecycle).Finish},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc := NewLifecycle()
			tt.setup(lc)
			if err := tt.op(lc); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestLifecycle_BeginEnding_KeepsFirstReason(t *testing.T) {
	lc := NewLifecycle()
	lc.Activate()

	lc.BeginEnding("max_duration")
	if lc.BeginEnding("completed") {
		t.Error("expected second BeginEnding to return false")
	}
	if lc.Reason() != "max_duration" {
		t.Errorf("expected first reason to stick, got %q", lc.Reason())
	}
}

func TestLifecycle_BeginEnding_ExactlyOnceUnderContention(t *testing.T) {
	lc := NewLifecycle()
	lc.Activate()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if lc.BeginEnding("completed") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("expected exactly one winner, got %d", winners)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateInitializing, "INITIALIZING"},
		{StateActive, "ACTIVE"},
		{StateEnding, "ENDING"},
		{StateEnded, "ENDED"},
		{State(7), "UNKNOWN(7)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %s, want %s", tt.state, got, tt.want)
		}
	}
}
