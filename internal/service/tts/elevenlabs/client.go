// Package elevenlabs provides ElevenLabs HTTP streaming speech synthesis.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/service/tts"
)

const defaultBaseURL = "https://api.elevenlabs.io"

// Config holds ElevenLabs settings.
type Config struct {
	APIKey  string
	ModelID string
	BaseURL string
	// FrameBytes overrides the frame size derived from the output format.
	FrameBytes int
}

// Client implements tts.Synthesizer.
type Client struct {
	cfg  Config
	http *http.Client
}

// New returns a client. The HTTP client has no overall timeout; the
// request context bounds each stream.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_flash_v2_5"
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: 0}}
}

func (c *Client) Name() string { return "elevenlabs" }

type requestBody struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// Synthesize starts the HTTP stream. The response body is only read as the
// caller pulls frames, so stopping early abandons the rest of the request.
func (c *Client) Synthesize(ctx context.Context, req tts.Request) (tts.Stream, error) {
	if c.cfg.APIKey == "" || req.VoiceID == "" {
		return nil, fmt.Errorf("%w: elevenlabs api key or voice id missing", tts.ErrAdapterUnavailable)
	}

	u, err := url.Parse(c.cfg.BaseURL + "/v1/text-to-speech/" + url.PathEscape(req.VoiceID) + "/stream")
	if err != nil {
		return nil, fmt.Errorf("elevenlabs url: %w", err)
	}
	q := u.Query()
	if req.OutputFormat != "" {
		q.Set("output_format", req.OutputFormat)
	}
	q.Set("optimize_streaming_latency", strconv.Itoa(req.LatencyLevel))
	u.RawQuery = q.Encode()

	buf, err := json.Marshal(requestBody{
		Text:    req.Text,
		ModelID: c.cfg.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       0.4,
			SimilarityBoost: 0.7,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, err
	}

	// Close cancels the request.
	sctx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(sctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		cancel()
		return nil, err
	}
	httpReq.Header.Set("xi-api-key", c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/*")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: elevenlabs request: %v", tts.ErrAdapterUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		err := fmt.Errorf("elevenlabs http status=%d body=%s", resp.StatusCode, string(b))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, fmt.Errorf("%w: %v", tts.ErrAdapterUnavailable, err)
		}
		return nil, err
	}

	frame := c.cfg.FrameBytes
	if frame <= 0 {
		frame = tts.ParseFormat(req.OutputFormat).FrameBytes()
	}
	if frame <= 0 {
		frame = 4096
	}

	log.Debug().Str("voiceId", req.VoiceID).Int("frameBytes", frame).Msg("ElevenLabs stream started")
	return &stream{body: resp.Body, cancel: cancel, buf: make([]byte, frame)}, nil
}

type stream struct {
	body   io.ReadCloser
	cancel context.CancelFunc
	buf    []byte
	err    error
}

// Next reads one frame. The final frame may be short; a read failure is
// returned after any bytes that arrived before it.
func (s *stream) Next(ctx context.Context) (models.AudioFrame, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := io.ReadFull(s.body, s.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		s.err = io.EOF
	default:
		s.err = fmt.Errorf("elevenlabs stream read: %w", err)
	}
	if n > 0 {
		out := make(models.AudioFrame, n)
		copy(out, s.buf[:n])
		return out, nil
	}
	return nil, s.err
}

func (s *stream) Close() error {
	s.cancel()
	return s.body.Close()
}
