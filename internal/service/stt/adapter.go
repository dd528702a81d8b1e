// Package stt defines the transcription stream contract used by the call
// orchestrator and the reconnecting stream that providers plug into.
package stt

import (
	"context"
	"errors"

	"ai-call-orchestrator-service/internal/models"
)

var (
	// ErrAdapterUnavailable - provider unreachable or not credentialed.
	ErrAdapterUnavailable = errors.New("transcription adapter unavailable")
	// ErrNotConnected - audio submitted before Open completed or after Close.
	ErrNotConnected = errors.New("transcription stream not connected")
	// ErrReconnectExhausted - the stream dropped and every reconnect failed.
	ErrReconnectExhausted = errors.New("transcription reconnect attempts exhausted")
	// ErrPermanent - wrapped by providers around failures a redial cannot
	// fix (bad credentials, invalid config). Streams stop retrying on it.
	ErrPermanent = errors.New("permanent transcription failure")
)

// Options configure one transcription stream. The same options are reused
// for every reconnect.
type Options struct {
	Language       string
	Model          string
	EndpointingMs  int
	SampleRateHz   int
	Encoding       string
	InterimResults bool
}

// Callback receives transcription events in delivery order.
type Callback interface {
	// OnTranscript is called for every interim or final transcript.
	OnTranscript(ev models.TranscriptEvent)

	// OnSpeechStarted is called when the provider detects the start of speech.
	OnSpeechStarted()

	// OnUtteranceEnd is called when the speaker stops talking, independent
	// of transcript finality.
	OnUtteranceEnd()

	// OnError is called once with a terminal error; no events follow it.
	OnError(err error)
}

// Adapter is one call's transcription stream.
type Adapter interface {
	// Open establishes the stream. A connect failure is returned here and
	// wraps ErrAdapterUnavailable. Calling Open again is a no-op.
	Open(ctx context.Context, opts Options, cb Callback) error

	// SubmitAudio hands off one inbound frame without blocking.
	SubmitAudio(frame models.AudioFrame) error

	// Close releases the connection. Safe to call from inside a callback
	// and more than once.
	Close() error
}

// Conn is one provider connection. Streams redial through a Dialer when a
// Conn fails.
type Conn interface {
	// Send writes one audio frame.
	Send(frame []byte) error

	// Receive delivers provider events to cb until the connection ends.
	// It returns nil when the provider closed the stream cleanly and an
	// error on an unexpected disconnect.
	Receive(cb Callback) error

	// Close releases the connection; a blocked Receive returns.
	Close() error
}

// Dialer opens provider connections.
type Dialer interface {
	Name() string
	Dial(ctx context.Context, opts Options) (Conn, error)
}

// Factory creates a fresh Adapter per call; nil means no transcription
// provider is configured.
type Factory func() Adapter
