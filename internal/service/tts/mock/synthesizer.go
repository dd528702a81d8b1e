// Package mock provides a deterministic synthesizer for tests and the local
// simulator.
package mock

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/service/tts"
)

// ErrMidStream is returned by streams configured with FailAfter.
var ErrMidStream = errors.New("mock synthesis failed mid-stream")

// Synthesizer emits a fixed number of frames per utterance.
type Synthesizer struct {
	// Frames per utterance; 0 means one frame per word.
	Frames int
	// FrameBytes is the size of each frame (default 160).
	FrameBytes int
	// FrameDelay is slept before each frame, like a provider's pacing.
	FrameDelay time.Duration
	// Err is returned by Synthesize when set.
	Err error
	// FailAfter > 0 makes Next fail after that many frames.
	FailAfter int
	// OnFrame is called after frame n (1-based) is handed out.
	OnFrame func(n int)

	mu       sync.Mutex
	requests []tts.Request
	pulled   int
	closed   int
}

func New() *Synthesizer {
	return &Synthesizer{FrameBytes: 160}
}

func (s *Synthesizer) Name() string { return "mock" }

func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Stream, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	err := s.Err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	total := s.Frames
	if total <= 0 {
		total = len(strings.Fields(req.Text))
	}
	size := s.FrameBytes
	if size <= 0 {
		size = 160
	}
	return &stream{owner: s, total: total, size: size}, nil
}

// Requests returns every request received.
func (s *Synthesizer) Requests() []tts.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tts.Request(nil), s.requests...)
}

// Pulled returns how many frames consumers took across all streams.
func (s *Synthesizer) Pulled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulled
}

// Closed returns how many streams were closed.
func (s *Synthesizer) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type stream struct {
	owner  *Synthesizer
	total  int
	size   int
	next   int
	closed bool
}

func (st *stream) Next(ctx context.Context) (models.AudioFrame, error) {
	if st.closed || st.next >= st.total {
		return nil, io.EOF
	}
	if st.owner.FailAfter > 0 && st.next >= st.owner.FailAfter {
		return nil, ErrMidStream
	}
	if d := st.owner.FrameDelay; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	st.next++
	frame := make(models.AudioFrame, st.size)
	for i := range frame {
		frame[i] = byte(st.next)
	}

	st.owner.mu.Lock()
	st.owner.pulled++
	hook := st.owner.OnFrame
	st.owner.mu.Unlock()
	if hook != nil {
		hook(st.next)
	}
	return frame, nil
}

func (st *stream) Close() error {
	if st.closed {
		return nil
	}
	st.closed = true
	st.owner.mu.Lock()
	st.owner.closed++
	st.owner.mu.Unlock()
	return nil
}
