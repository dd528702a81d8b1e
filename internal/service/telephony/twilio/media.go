package twilio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"ai-call-orchestrator-service/internal/models"
)

// MediaPath is where Twilio Media Streams connect.
const MediaPath = "/v1/media"

// Start describes a media stream that has begun.
type Start struct {
	CallSid    string
	StreamSid  string
	Parameters map[string]string
	Encoding   string
	SampleRate int
}

// Handler receives the lifecycle of one media stream. OnStop is called at
// most once per started stream, also when the socket drops without a stop
// message.
type Handler interface {
	OnStart(ctx context.Context, start Start, sink *MediaSink) error
	OnMedia(callSid string, frame models.AudioFrame)
	OnStop(callSid string)
}

type inboundMessage struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Start     *struct {
		StreamSid        string            `json:"streamSid"`
		CallSid          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
		MediaFormat      struct {
			Encoding   string `json:"encoding"`
			SampleRate int    `json:"sampleRate"`
		} `json:"mediaFormat"`
	} `json:"start"`
	Media *struct {
		Track   string `json:"track"`
		Payload string `json:"payload"`
	} `json:"media"`
}

type outboundMessage struct {
	Event     string         `json:"event"`
	StreamSid string         `json:"streamSid"`
	Media     *outboundMedia `json:"media,omitempty"`
}

type outboundMedia struct {
	Payload string `json:"payload"`
}

// Bridge serves the Twilio Media Streams websocket protocol.
type Bridge struct {
	handler  Handler
	upgrader websocket.Upgrader
}

func NewBridge(h Handler) *Bridge {
	return &Bridge{
		handler: h,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Media stream upgrade failed")
		return
	}
	if err := b.Serve(context.WithoutCancel(r.Context()), conn); err != nil {
		log.Warn().Err(err).Msg("Media stream ended with error")
	}
}

// Serve reads the stream until stop or disconnect.
func (b *Bridge) Serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	sink := &MediaSink{conn: conn}
	var callSid string
	stopped := false
	defer func() {
		if callSid != "" && !stopped {
			b.handler.OnStop(callSid)
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Warn().Err(err).Msg("Discarding malformed media stream message")
			continue
		}

		switch msg.Event {
		case "connected":
		case "start":
			if msg.Start == nil || msg.Start.CallSid == "" || callSid != "" {
				log.Warn().Msg("Discarding invalid start message")
				continue
			}
			sink.setStreamSid(msg.Start.StreamSid)
			start := Start{
				CallSid:    msg.Start.CallSid,
				StreamSid:  msg.Start.StreamSid,
				Parameters: msg.Start.CustomParameters,
				Encoding:   msg.Start.MediaFormat.Encoding,
				SampleRate: msg.Start.MediaFormat.SampleRate,
			}
			if err := b.handler.OnStart(ctx, start, sink); err != nil {
				return err
			}
			callSid = start.CallSid
		case "media":
			if callSid == "" || msg.Media == nil {
				continue
			}
			if msg.Media.Track != "" && msg.Media.Track != "inbound" {
				continue
			}
			frame, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				log.Warn().Err(err).Str("callSid", callSid).Msg("Discarding undecodable media payload")
				continue
			}
			b.handler.OnMedia(callSid, frame)
		case "stop":
			if callSid != "" && !stopped {
				stopped = true
				b.handler.OnStop(callSid)
			}
			return nil
		default:
			log.Debug().Str("event", msg.Event).Msg("Ignoring media stream event")
		}
	}
}

// MediaSink writes synthesized audio back onto the media stream.
type MediaSink struct {
	conn *websocket.Conn

	mu        sync.Mutex
	streamSid string
	closed    bool
}

var errSinkClosed = errors.New("media sink closed")

func (s *MediaSink) setStreamSid(sid string) {
	s.mu.Lock()
	s.streamSid = sid
	s.mu.Unlock()
}

func (s *MediaSink) Write(frame models.AudioFrame) error {
	return s.send(outboundMessage{
		Event: "media",
		Media: &outboundMedia{Payload: base64.StdEncoding.EncodeToString(frame)},
	})
}

// Clear makes Twilio drop audio it has buffered but not yet played.
func (s *MediaSink) Clear() error {
	return s.send(outboundMessage{Event: "clear"})
}

// Close stops further writes; the socket itself is owned by the bridge.
func (s *MediaSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *MediaSink) send(msg outboundMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	msg.StreamSid = s.streamSid
	return s.conn.WriteJSON(msg)
}
