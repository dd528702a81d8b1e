// Package mock provides a scripted transcription adapter for tests and the
// local simulator. It replays utterances as progressive interim transcripts,
// one speech-final transcript and an utterance-end signal, advancing one step
// per submitted frame.
package mock

import (
	"context"
	"errors"
	"sync"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/service/stt"
)

// SimulatedUtterance is one scripted caller utterance.
type SimulatedUtterance struct {
	Partials   []string // Progressive interim transcripts
	Final      string   // Speech-final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances is a short scripted inquiry call.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"Hi", "Hi I'd like", "Hi I'd like to book"},
		Final:      "Hi I'd like to book an appointment",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"What are", "What are your"},
		Final:      "What are your hours",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"Tomorrow", "Tomorrow at"},
		Final:      "Tomorrow at ten works",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you very much",
		Confidence: 0.98,
	},
}

// ErrOpenRefused is returned by Open when the adapter is told to fail.
var ErrOpenRefused = errors.New("mock transcription refused to open")

type kind int

const (
	kindTranscript kind = iota
	kindSpeechStarted
	kindUtteranceEnd
	kindError
)

type event struct {
	kind       kind
	transcript models.TranscriptEvent
	err        error
}

// Adapter implements stt.Adapter. Events are delivered in order on one
// goroutine, like a provider receive loop.
type Adapter struct {
	// FramesPerStep is how many frames advance the script by one event.
	FramesPerStep int
	// FailOpen makes Open return ErrOpenRefused wrapped in stt.ErrAdapterUnavailable.
	FailOpen bool

	mu       sync.Mutex
	script   []SimulatedUtterance
	cb       stt.Callback
	opts     stt.Options
	opened   bool
	closed   bool
	frames   int
	utt      int
	partial  int
	started  bool
	closes   int
	queue    chan event
	finished chan struct{}
}

// New creates an adapter replaying script; nil means DefaultUtterances.
func New(script []SimulatedUtterance) *Adapter {
	if script == nil {
		script = DefaultUtterances
	}
	return &Adapter{
		FramesPerStep: 1,
		script:        script,
		queue:         make(chan event, 1024),
		finished:      make(chan struct{}),
	}
}

// Factory returns an stt.Factory creating a fresh scripted adapter per call.
func Factory(script []SimulatedUtterance) stt.Factory {
	return func() stt.Adapter { return New(script) }
}

func (a *Adapter) Open(ctx context.Context, opts stt.Options, cb stt.Callback) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.FailOpen {
		return errors.Join(stt.ErrAdapterUnavailable, ErrOpenRefused)
	}
	if a.closed {
		return stt.ErrNotConnected
	}
	if a.opened {
		return nil
	}
	a.cb = cb
	a.opts = opts
	a.opened = true
	go a.deliver()
	return nil
}

// Options returns the options passed to Open.
func (a *Adapter) Options() stt.Options {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opts
}

// SubmitAudio advances the script.
func (a *Adapter) SubmitAudio(frame models.AudioFrame) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.opened || a.closed {
		return stt.ErrNotConnected
	}

	a.frames++
	step := a.FramesPerStep
	if step < 1 {
		step = 1
	}
	if a.frames%step != 0 || a.utt >= len(a.script) {
		return nil
	}

	u := a.script[a.utt]
	if !a.started {
		a.started = true
		a.enqueue(event{kind: kindSpeechStarted})
	}
	if a.partial < len(u.Partials) {
		a.enqueue(event{kind: kindTranscript, transcript: models.TranscriptEvent{
			Text:       u.Partials[a.partial],
			Confidence: u.Confidence,
		}})
		a.partial++
		return nil
	}

	// partials exhausted: final plus end of utterance
	a.enqueue(event{kind: kindTranscript, transcript: models.TranscriptEvent{
		Text:        u.Final,
		IsFinal:     true,
		SpeechFinal: true,
		Confidence:  u.Confidence,
	}})
	a.enqueue(event{kind: kindUtteranceEnd})
	a.utt++
	a.partial = 0
	a.started = false
	return nil
}

// Inject queues an arbitrary transcript event.
func (a *Adapter) Inject(ev models.TranscriptEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enqueue(event{kind: kindTranscript, transcript: ev})
}

// InjectUtteranceEnd queues an utterance-end signal.
func (a *Adapter) InjectUtteranceEnd() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enqueue(event{kind: kindUtteranceEnd})
}

// Fail queues a terminal error, as a stream that exhausted its reconnects would.
func (a *Adapter) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enqueue(event{kind: kindError, err: err})
}

// caller holds a.mu
func (a *Adapter) enqueue(ev event) {
	if a.closed {
		return
	}
	select {
	case a.queue <- ev:
	default:
	}
}

func (a *Adapter) deliver() {
	for {
		select {
		case <-a.finished:
			return
		case ev := <-a.queue:
			a.mu.Lock()
			cb, closed := a.cb, a.closed
			a.mu.Unlock()
			if closed || cb == nil {
				return
			}
			switch ev.kind {
			case kindTranscript:
				cb.OnTranscript(ev.transcript)
			case kindSpeechStarted:
				cb.OnSpeechStarted()
			case kindUtteranceEnd:
				cb.OnUtteranceEnd()
			case kindError:
				cb.OnError(ev.err)
				return
			}
		}
	}
}

// Close stops delivery. Idempotent; Closes counts every call.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closes++
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.finished)
	return nil
}

// Closes returns how many times Close was called.
func (a *Adapter) Closes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closes
}

// Frames returns how many frames were submitted.
func (a *Adapter) Frames() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frames
}
