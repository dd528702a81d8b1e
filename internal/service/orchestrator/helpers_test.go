package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/observability/metrics"
	"ai-call-orchestrator-service/internal/service/stt"
	sttmock "ai-call-orchestrator-service/internal/service/stt/mock"
)

var testAgent = models.AgentConfig{
	Name:     "Ava",
	Language: "English",
	Greeting: "Hi, thanks for calling Sunny Dental",
	Fallback: "Sorry, could you repeat that?",
	VoiceID:  "voice-1",
	Latency:  models.LatencyFast,
}

var (
	quietFrame = pcm8Frame(128)
	loudFrame  = pcm8Frame(255)
)

func pcm8Frame(level byte) models.AudioFrame {
	f := make(models.AudioFrame, 160)
	for i := range f {
		f[i] = level
	}
	return f
}

type recorder struct {
	mu     sync.Mutex
	events []models.CallEvent
}

func (r *recorder) OnCallEvent(ev models.CallEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) of(t models.EventType) []models.CallEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.CallEvent
	for _, ev := range r.events {
		if ev.EventType == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) count(t models.EventType) int { return len(r.of(t)) }

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fakeSink struct {
	mu     sync.Mutex
	frames int
	clears int
}

func (s *fakeSink) Write(models.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
	return nil
}

func (s *fakeSink) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	return nil
}

func (s *fakeSink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames, s.clears
}

type fakePhone struct {
	mu    sync.Mutex
	ended []string
	err   error
}

func (p *fakePhone) EndCall(_ context.Context, callID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended = append(p.ended, callID)
	return p.err
}

func (p *fakePhone) calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ended...)
}

type fakeSummarySink struct {
	mu        sync.Mutex
	summaries []models.SessionSummary
}

func (s *fakeSummarySink) SaveSummary(_ context.Context, sum models.SessionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, sum)
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedAdapter returns one adapter for every call; a nil script yields
// an adapter that never produces events on its own.
func scriptedAdapter(script []sttmock.SimulatedUtterance) (*sttmock.Adapter, stt.Factory) {
	if script == nil {
		script = []sttmock.SimulatedUtterance{}
	}
	a := sttmock.New(script)
	return a, func() stt.Adapter { return a }
}

func newTestOrchestrator(t *testing.T, cfg Config, deps Deps) (*Orchestrator, *recorder) {
	t.Helper()
	if deps.Metrics == nil {
		deps.Metrics, _ = metrics.NewUnregistered()
	}
	o := New(cfg, deps)
	rec := &recorder{}
	o.Subscribe(rec)
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })
	return o, rec
}

func begin(t *testing.T, o *Orchestrator, callID string, sink *fakeSink) {
	t.Helper()
	req := BeginRequest{CallID: callID, TenantID: "tenant-A", AgentID: "agent-X", Agent: testAgent}
	if sink != nil {
		req.Sink = sink
	}
	if _, err := o.BeginSession(context.Background(), req); err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func speechFinal(text string) models.TranscriptEvent {
	return models.TranscriptEvent{Text: text, IsFinal: true, SpeechFinal: true, Confidence: 0.9}
}
