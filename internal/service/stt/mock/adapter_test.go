package mock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/service/stt"
)

// testCallback implements stt.Callback for testing
type testCallback struct {
	mu         sync.Mutex
	partials   []string
	finals     []models.TranscriptEvent
	starts     int
	utterances int
	errors     []error
}

func (c *testCallback) OnTranscript(ev models.TranscriptEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.SpeechFinal {
		c.finals = append(c.finals, ev)
		return
	}
	c.partials = append(c.partials, ev.Text)
}

func (c *testCallback) OnSpeechStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.starts++
}

func (c *testCallback) OnUtteranceEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.utterances++
}

func (c *testCallback) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

func (c *testCallback) snapshot() (partials []string, finals []models.TranscriptEvent, utterances int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.partials...), append([]models.TranscriptEvent{}, c.finals...), c.utterances
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

var script = []SimulatedUtterance{
	{Partials: []string{"what", "what are"}, Final: "what are your hours", Confidence: 0.9},
	{Partials: []string{"thanks"}, Final: "thanks bye", Confidence: 0.95},
}

func TestAdapter_SubmitAudio_BeforeOpen(t *testing.T) {
	a := New(script)
	if err := a.SubmitAudio(models.AudioFrame("x")); !errors.Is(err, stt.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestAdapter_FailOpen(t *testing.T) {
	a := New(script)
	a.FailOpen = true

	err := a.Open(context.Background(), stt.Options{}, &testCallback{})
	if !errors.Is(err, stt.ErrAdapterUnavailable) {
		t.Errorf("expected ErrAdapterUnavailable, got %v", err)
	}
}

func TestAdapter_ReplaysScriptInOrder(t *testing.T) {
	a := New(script)
	cb := &testCallback{}
	opts := stt.Options{Language: "en-US", EndpointingMs: 300}
	if err := a.Open(context.Background(), opts, cb); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer a.Close()

	// 2 partials + final for the first utterance, 1 partial + final for the second
	for i := 0; i < 5; i++ {
		if err := a.SubmitAudio(models.AudioFrame("audio")); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}

	eventually(t, func() bool {
		_, _, n := cb.snapshot()
		return n == 2
	})

	partials, finals, _ := cb.snapshot()
	wantPartials := []string{"what", "what are", "thanks"}
	if len(partials) != len(wantPartials) {
		t.Fatalf("expected %v, got %v", wantPartials, partials)
	}
	for i := range wantPartials {
		if partials[i] != wantPartials[i] {
			t.Errorf("partial %d = %q, want %q", i, partials[i], wantPartials[i])
		}
	}
	if len(finals) != 2 || finals[0].Text != "what are your hours" || finals[1].Text != "thanks bye" {
		t.Errorf("unexpected finals %+v", finals)
	}
	if a.Options() != opts {
		t.Errorf("options not recorded: %+v", a.Options())
	}

	cb.mu.Lock()
	starts := cb.starts
	cb.mu.Unlock()
	if starts != 2 {
		t.Errorf("expected 2 speech starts, got %d", starts)
	}
}

func TestAdapter_FramesPerStep(t *testing.T) {
	a := New(script)
	a.FramesPerStep = 10
	cb := &testCallback{}
	a.Open(context.Background(), stt.Options{}, cb)
	defer a.Close()

	for i := 0; i < 25; i++ {
		a.SubmitAudio(models.AudioFrame("audio"))
	}

	eventually(t, func() bool {
		p, _, _ := cb.snapshot()
		return len(p) == 2
	})
	_, finals, _ := cb.snapshot()
	if len(finals) != 0 {
		t.Errorf("expected no final after 25 frames at 10 per step, got %d", len(finals))
	}
	if a.Frames() != 25 {
		t.Errorf("expected 25 frames, got %d", a.Frames())
	}
}

func TestAdapter_Fail_IsTerminal(t *testing.T) {
	a := New(script)
	cb := &testCallback{}
	a.Open(context.Background(), stt.Options{}, cb)
	defer a.Close()

	a.Fail(stt.ErrReconnectExhausted)
	a.Inject(models.TranscriptEvent{Text: "late", SpeechFinal: true})

	eventually(t, func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		return len(cb.errors) == 1
	})
	time.Sleep(20 * time.Millisecond)

	_, finals, _ := cb.snapshot()
	if len(finals) != 0 {
		t.Errorf("no events may follow a terminal error, got %d finals", len(finals))
	}
}

func TestAdapter_Close_Idempotent(t *testing.T) {
	a := New(script)
	a.Open(context.Background(), stt.Options{}, &testCallback{})

	for i := 0; i < 3; i++ {
		if err := a.Close(); err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
	if a.Closes() != 3 {
		t.Errorf("expected 3 recorded calls, got %d", a.Closes())
	}
	if err := a.SubmitAudio(models.AudioFrame("x")); !errors.Is(err, stt.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestAdapter_ThreadSafety(t *testing.T) {
	a := New(nil)
	a.Open(context.Background(), stt.Options{}, &testCallback{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				a.SubmitAudio(models.AudioFrame("audio"))
			}
		}()
	}
	wg.Wait()
	a.Close()

	if a.Frames() != 200 {
		t.Errorf("expected 200 frames, got %d", a.Frames())
	}
}

func TestDefaultUtterances(t *testing.T) {
	for i, utt := range DefaultUtterances {
		if len(utt.Partials) == 0 {
			t.Errorf("utterance %d has no partials", i)
		}
		if utt.Final == "" {
			t.Errorf("utterance %d has empty final", i)
		}
		if utt.Confidence <= 0 || utt.Confidence > 1 {
			t.Errorf("utterance %d has invalid confidence %f", i, utt.Confidence)
		}
	}
}
