// Package deepgram provides Deepgram Aura speech synthesis over the
// deepgram-go-sdk websocket client.
package deepgram

import (
	"context"
	"fmt"
	"strings"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"github.com/rs/zerolog/log"

	"ai-call-orchestrator-service/internal/service/tts"
)

// Config holds Deepgram synthesis settings.
type Config struct {
	APIKey string
	// Model is used when the request's voice is not an Aura voice name.
	Model string
}

// Client implements tts.Synthesizer.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = "aura-2-thalia-en"
	}
	return &Client{cfg: cfg}
}

func (c *Client) Name() string { return "deepgram" }

// Synthesize opens a speak socket, sends the text and flushes. Frames are
// pushed by the SDK's callback goroutine; the Flushed message ends the stream.
func (c *Client) Synthesize(ctx context.Context, req tts.Request) (tts.Stream, error) {
	if c.cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: deepgram api key missing", tts.ErrAdapterUnavailable)
	}

	f := tts.ParseFormat(req.OutputFormat)
	options := &clientinterfaces.WSSpeakOptions{
		Model:      c.model(req.VoiceID),
		Encoding:   encoding(f.Encoding),
		SampleRate: f.SampleRateHz,
	}

	var dg *speak.WSCallback
	stream := tts.NewChanStream(64, func() {
		if dg != nil {
			dg.Stop()
		}
	})
	cb := &speakCallback{stream: stream}

	var err error
	dg, err = speak.NewWSUsingCallback(ctx, c.cfg.APIKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return nil, fmt.Errorf("%w: deepgram create ws client: %v", tts.ErrAdapterUnavailable, err)
	}
	if ok := dg.Connect(); !ok {
		dg.Stop()
		return nil, fmt.Errorf("%w: deepgram connect failed", tts.ErrAdapterUnavailable)
	}
	if err := dg.SpeakWithText(req.Text); err != nil {
		dg.Stop()
		return nil, fmt.Errorf("deepgram speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		dg.Stop()
		return nil, fmt.Errorf("deepgram flush: %w", err)
	}

	go func() {
		<-ctx.Done()
		stream.Finish(ctx.Err())
		stream.Close()
	}()

	log.Debug().Str("model", options.Model).Msg("Deepgram speak stream started")
	return stream, nil
}

func (c *Client) model(voiceID string) string {
	if strings.HasPrefix(voiceID, "aura") {
		return voiceID
	}
	return c.cfg.Model
}

func encoding(name string) string {
	switch name {
	case "ulaw":
		return "mulaw"
	case "alaw":
		return "alaw"
	case "mp3":
		return "mp3"
	default:
		return "linear16"
	}
}

// speakCallback implements the SDK's speak message callback.
type speakCallback struct {
	stream *tts.ChanStream
}

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }

func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error {
	s.stream.Finish(nil)
	return nil
}

func (s *speakCallback) Close(*msginterfaces.CloseResponse) error {
	s.stream.Finish(nil)
	return nil
}

func (s *speakCallback) Error(e *msginterfaces.ErrorResponse) error {
	msg := "unknown error"
	if e != nil {
		msg = e.ErrMsg
	}
	s.stream.Finish(fmt.Errorf("deepgram speak: %s", msg))
	return nil
}

func (s *speakCallback) Binary(data []byte) error {
	if len(data) > 0 {
		s.stream.Push(data)
	}
	return nil
}
