package tts

import (
	"context"
	"io"
	"sync"

	"ai-call-orchestrator-service/internal/models"
)

// ChanStream adapts a push-style provider (callbacks on its own goroutine)
// to the pull-style Stream. Push blocks until the consumer takes the frame
// or the stream is closed.
type ChanStream struct {
	frames chan models.AudioFrame
	done   chan struct{}
	stop   func()

	mu       sync.Mutex
	err      error
	finished bool

	closeOnce sync.Once
}

// NewChanStream creates a stream; stop is called once on Close.
func NewChanStream(buffer int, stop func()) *ChanStream {
	return &ChanStream{
		frames: make(chan models.AudioFrame, buffer),
		done:   make(chan struct{}),
		stop:   stop,
	}
}

// Push hands a frame to the consumer. Returns false once the consumer closed.
// Holding mu across the send keeps Finish from closing frames under it.
func (s *ChanStream) Push(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return false
	}
	out := make(models.AudioFrame, len(frame))
	copy(out, frame)
	select {
	case s.frames <- out:
		return true
	case <-s.done:
		return false
	}
}

// Finish ends the sequence; err nil means normal completion. Only the first
// call counts.
func (s *ChanStream) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	s.err = err
	close(s.frames)
}

func (s *ChanStream) Next(ctx context.Context) (models.AudioFrame, error) {
	select {
	case frame, ok := <-s.frames:
		if ok {
			return frame, nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	case <-s.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *ChanStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.stop != nil {
			s.stop()
		}
	})
	return nil
}
