package stt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/observability/logging"
	"ai-call-orchestrator-service/internal/observability/metrics"
)

// ReconnectPolicy bounds automatic reconnects. Attempt i waits i*Unit.
type ReconnectPolicy struct {
	MaxAttempts int
	Unit        time.Duration
}

// DefaultReconnectPolicy returns 3 attempts at 1s, 2s, 3s.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 3, Unit: time.Second}
}

const audioQueueSize = 256

// Stream implements Adapter over a Dialer, redialing with linear backoff
// when the provider connection drops.
type Stream struct {
	dialer  Dialer
	policy  ReconnectPolicy
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu     sync.Mutex
	conn   Conn
	opts   Options
	cb     Callback
	userCb Callback
	ctx    context.Context
	cancel context.CancelFunc
	opened bool
	closed bool
	failed bool

	audio     chan []byte
	closeOnce sync.Once
}

// NewStream returns an unopened stream.
func NewStream(dialer Dialer, policy ReconnectPolicy) *Stream {
	return &Stream{
		dialer:  dialer,
		policy:  policy,
		metrics: metrics.DefaultMetrics,
		log:     stlog(dialer.Name()),
		audio:   make(chan []byte, audioQueueSize),
	}
}

// NewFactory returns a Factory producing one Stream per call.
func NewFactory(dialer Dialer, policy ReconnectPolicy) Factory {
	return func() Adapter { return NewStream(dialer, policy) }
}

// Open dials the provider once; its error is returned directly.
func (s *Stream) Open(ctx context.Context, opts Options, cb Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrNotConnected
	}
	if s.opened {
		return nil
	}

	conn, err := s.dialer.Dial(ctx, opts)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrAdapterUnavailable, s.dialer.Name(), err)
	}

	// The stream outlives the Open call; only Close cancels it.
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.conn = conn
	s.opts = opts
	s.userCb = cb
	s.cb = &guardedCallback{stream: s, next: cb}
	s.opened = true

	go s.sendLoop()
	go s.receiveLoop(conn)

	s.log.Info().Str("language", opts.Language).Str("model", opts.Model).Msg("Transcription stream opened")
	return nil
}

// SubmitAudio queues a frame for the sender. Frames are dropped while the
// queue is full or a reconnect is in progress.
func (s *Stream) SubmitAudio(frame models.AudioFrame) error {
	s.mu.Lock()
	ready := s.opened && !s.closed && !s.failed
	s.mu.Unlock()
	if !ready {
		return ErrNotConnected
	}

	select {
	case s.audio <- frame:
	default:
		s.log.Debug().Int("bytes", len(frame)).Msg("Audio queue full, dropping frame")
	}
	return nil
}

// Close cancels reconnects and closes the current connection. It never
// waits on the receive loop, so it is safe inside a callback.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		conn := s.conn
		s.conn = nil
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			err = conn.Close()
		}
		s.log.Debug().Msg("Transcription stream closed")
	})
	return err
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) currentConn() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Stream) sendLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.audio:
			conn := s.currentConn()
			if conn == nil {
				continue
			}
			if err := conn.Send(frame); err != nil {
				// the receive loop sees the same failure and owns recovery
				s.log.Debug().Err(err).Msg("Audio send failed")
			}
		}
	}
}

func (s *Stream) receiveLoop(conn Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("Transcription receive loop panic")
			s.fail(fmt.Errorf("receive loop panic: %v", r))
		}
	}()

	for {
		err := conn.Receive(s.cb)
		if s.isClosed() {
			return
		}
		if err == nil {
			err = fmt.Errorf("provider closed the stream")
		}
		s.log.Warn().Err(err).Msg("Transcription stream disconnected")
		_ = conn.Close()

		if errors.Is(err, ErrPermanent) {
			s.fail(err)
			return
		}

		next, rerr := s.reconnect()
		if rerr != nil {
			s.fail(rerr)
			return
		}
		conn = next
	}
}

// reconnect redials up to MaxAttempts times, waiting attempt*Unit before each.
func (s *Stream) reconnect() (Conn, error) {
	s.mu.Lock()
	s.conn = nil
	opts := s.opts
	s.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		delay := time.Duration(attempt) * s.policy.Unit
		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return nil, s.ctx.Err()
		case <-timer.C:
		}

		s.metrics.RecordReconnect()
		conn, err := s.dialer.Dial(s.ctx, opts)
		if err != nil {
			lastErr = err
			s.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Transcription reconnect failed")
			if errors.Is(err, ErrPermanent) {
				break
			}
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return nil, ErrNotConnected
		}
		s.conn = conn
		s.mu.Unlock()

		s.log.Info().Int("attempt", attempt).Msg("Transcription stream reconnected")
		return conn, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no reconnect attempts allowed")
	}
	return nil, fmt.Errorf("%w: %w", ErrReconnectExhausted, lastErr)
}

// fail surfaces a terminal error once, unless the stream was closed.
func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.closed || s.failed {
		s.mu.Unlock()
		return
	}
	s.failed = true
	cb := s.userCb
	s.mu.Unlock()

	s.log.Error().Err(err).Msg("Transcription stream failed")
	cb.OnError(err)
}

// guardedCallback drops events once the stream is closed or failed.
type guardedCallback struct {
	stream *Stream
	next   Callback
}

func (g *guardedCallback) live() bool {
	g.stream.mu.Lock()
	defer g.stream.mu.Unlock()
	return !g.stream.closed && !g.stream.failed
}

func (g *guardedCallback) OnTranscript(ev models.TranscriptEvent) {
	if g.live() {
		g.next.OnTranscript(ev)
	}
}

func (g *guardedCallback) OnSpeechStarted() {
	if g.live() {
		g.next.OnSpeechStarted()
	}
}

func (g *guardedCallback) OnUtteranceEnd() {
	if g.live() {
		g.next.OnUtteranceEnd()
	}
}

// OnError is dropped; connections report failure by returning from Receive
// and the stream decides whether it is terminal.
func (g *guardedCallback) OnError(err error) {
	g.stream.log.Debug().Err(err).Msg("Provider error ignored, awaiting disconnect")
}

func stlog(provider string) zerolog.Logger {
	l := logging.WithComponent("stt")
	return l.With().Str("provider", provider).Logger()
}
