// Package tts defines the speech synthesis contract: one agent utterance in,
// a lazy finite sequence of audio frames out.
package tts

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"ai-call-orchestrator-service/internal/models"
)

// ErrAdapterUnavailable - provider unconfigured or unreachable.
var ErrAdapterUnavailable = errors.New("synthesis adapter unavailable")

// Request describes one utterance to synthesize.
type Request struct {
	VoiceID      string
	Text         string
	OutputFormat string
	// LatencyLevel is 0 (best quality) to 4 (fastest first byte).
	LatencyLevel int
}

// Stream is a lazy, non-restartable frame sequence. Next returns io.EOF
// after the last frame; any other error is terminal for the utterance.
// Close may be called at any point to stop early and release the request.
type Stream interface {
	Next(ctx context.Context) (models.AudioFrame, error)
	Close() error
}

// Synthesizer starts synthesis streams. One instance serves the process.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (Stream, error)
}

// Format is a parsed output format such as "ulaw_8000" or "pcm_16000".
type Format struct {
	Encoding     string
	SampleRateHz int
}

// ParseFormat splits "<encoding>_<rate>". Unknown input yields ulaw at 8kHz,
// the telephony default.
func ParseFormat(s string) Format {
	f := Format{Encoding: "ulaw", SampleRateHz: 8000}
	enc, rate, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "_")
	if !ok {
		return f
	}
	if n, err := strconv.Atoi(rate); err == nil && n > 0 {
		f.SampleRateHz = n
	}
	switch enc {
	case "ulaw", "mulaw":
		f.Encoding = "ulaw"
	case "alaw":
		f.Encoding = "alaw"
	case "pcm", "linear16":
		f.Encoding = "pcm"
	case "mp3":
		f.Encoding = "mp3"
	}
	return f
}

// FrameBytes returns the size of a 20ms frame in f, or 0 for compressed formats.
func (f Format) FrameBytes() int {
	switch f.Encoding {
	case "ulaw", "alaw":
		return f.SampleRateHz / 50
	case "pcm":
		return f.SampleRateHz / 50 * 2
	default:
		return 0
	}
}
