// Package deepgram provides a Deepgram live transcription connection over
// websockets.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/service/stt"
)

const defaultURL = "wss://api.deepgram.com/v1/listen"

// Config holds Deepgram connection settings.
type Config struct {
	APIKey         string
	URL            string
	UtteranceEndMs int
	KeepAlive      time.Duration
}

// DefaultConfig returns the production endpoint with keepalives every 8s.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:         apiKey,
		URL:            defaultURL,
		UtteranceEndMs: 1000,
		KeepAlive:      8 * time.Second,
	}
}

// Dialer implements stt.Dialer.
type Dialer struct {
	cfg Config
	ws  *websocket.Dialer
}

func NewDialer(cfg Config) *Dialer {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	return &Dialer{
		cfg: cfg,
		ws:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (d *Dialer) Name() string { return "deepgram" }

// Dial opens a live transcription socket configured from opts.
func (d *Dialer) Dial(ctx context.Context, opts stt.Options) (stt.Conn, error) {
	if d.cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: deepgram api key is empty", stt.ErrPermanent)
	}

	u, err := url.Parse(d.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse deepgram url: %w", err)
	}
	u.RawQuery = d.query(opts).Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.cfg.APIKey)

	ws, resp, err := d.ws.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, fmt.Errorf("%w: deepgram rejected credentials (%d)", stt.ErrPermanent, resp.StatusCode)
			}
			return nil, fmt.Errorf("deepgram dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("deepgram dial: %w", err)
	}

	c := &conn{ws: ws, done: make(chan struct{})}
	if d.cfg.KeepAlive > 0 {
		go c.keepAlive(d.cfg.KeepAlive)
	}
	return c, nil
}

func (d *Dialer) query(opts stt.Options) url.Values {
	q := url.Values{}
	if opts.Model != "" {
		q.Set("model", opts.Model)
	}
	if opts.Language != "" {
		q.Set("language", opts.Language)
	}
	q.Set("encoding", encoding(opts.Encoding))
	if opts.SampleRateHz > 0 {
		q.Set("sample_rate", strconv.Itoa(opts.SampleRateHz))
	}
	q.Set("channels", "1")
	q.Set("interim_results", strconv.FormatBool(opts.InterimResults))
	if opts.EndpointingMs > 0 {
		q.Set("endpointing", strconv.Itoa(opts.EndpointingMs))
	}
	q.Set("vad_events", "true")
	q.Set("smart_format", "true")
	if d.cfg.UtteranceEndMs > 0 && opts.InterimResults {
		q.Set("utterance_end_ms", strconv.Itoa(d.cfg.UtteranceEndMs))
	}
	return q
}

// encoding maps the shared encoding names onto Deepgram's.
func encoding(name string) string {
	switch strings.ToUpper(name) {
	case "MULAW", "ULAW":
		return "mulaw"
	case "ALAW":
		return "alaw"
	case "OGG_OPUS", "OPUS":
		return "opus"
	default:
		return "linear16"
	}
}

type conn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) Send(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *conn) keepAlive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.writeJSON(map[string]string{"type": "KeepAlive"}); err != nil {
				return
			}
		}
	}
}

// Receive reads provider messages until the socket closes.
func (c *conn) Receive(cb stt.Callback) error {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		dispatch(data, cb)
	}
}

// Close asks Deepgram to flush, then closes the socket.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.writeJSON(map[string]string{"type": "CloseStream"})
		err = c.ws.Close()
	})
	return err
}

type message struct {
	Type        string  `json:"type"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Channel     channel `json:"channel"`
}

type channel struct {
	Alternatives []alternative `json:"alternatives"`
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []word  `json:"words"`
}

type word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// dispatch decodes one message. Malformed payloads are logged and dropped.
func dispatch(data []byte, cb stt.Callback) {
	var kind struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &kind); err != nil {
		log.Warn().Err(err).Msg("Discarding malformed deepgram message")
		return
	}

	switch kind.Type {
	case "Results":
		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			log.Warn().Err(err).Msg("Discarding malformed deepgram result")
			return
		}
		if len(m.Channel.Alternatives) == 0 {
			return
		}
		cb.OnTranscript(toEvent(m))
	case "SpeechStarted":
		cb.OnSpeechStarted()
	case "UtteranceEnd":
		cb.OnUtteranceEnd()
	case "Metadata":
	default:
		log.Debug().Str("type", kind.Type).Msg("Ignoring deepgram message")
	}
}

func toEvent(m message) models.TranscriptEvent {
	alt := m.Channel.Alternatives[0]
	words := make([]models.Word, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, models.Word{
			Word:       w.Word,
			StartSec:   w.Start,
			EndSec:     w.End,
			Confidence: w.Confidence,
		})
	}
	return models.TranscriptEvent{
		Text:        alt.Transcript,
		IsFinal:     m.IsFinal,
		SpeechFinal: m.SpeechFinal,
		Confidence:  alt.Confidence,
		Words:       words,
	}
}
