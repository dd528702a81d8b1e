package twilio

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ai-call-orchestrator-service/internal/models"
)

type recordingHandler struct {
	mu     sync.Mutex
	starts []Start
	frames [][]byte
	stops  []string
	sinkCh chan *MediaSink
	done   chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{sinkCh: make(chan *MediaSink, 1), done: make(chan struct{}, 1)}
}

func (h *recordingHandler) OnStart(_ context.Context, s Start, sink *MediaSink) error {
	h.mu.Lock()
	h.starts = append(h.starts, s)
	h.mu.Unlock()
	h.sinkCh <- sink
	return nil
}

func (h *recordingHandler) OnMedia(_ string, frame models.AudioFrame) {
	h.mu.Lock()
	h.frames = append(h.frames, frame)
	h.mu.Unlock()
}

func (h *recordingHandler) OnStop(callSid string) {
	h.mu.Lock()
	h.stops = append(h.stops, callSid)
	h.mu.Unlock()
	h.done <- struct{}{}
}

func dialBridge(t *testing.T, h Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(NewBridge(h))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + MediaPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func startMessage() string {
	return `{"event":"start","streamSid":"MZ1","start":{"streamSid":"MZ1","callSid":"CA1",
		"customParameters":{"agentId":"agent-X"},"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000}}}`
}

func waitDone(t *testing.T, h *recordingHandler) {
	t.Helper()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnStop")
	}
}

func TestBridge_StartMediaStop(t *testing.T) {
	h := newRecordingHandler()
	conn := dialBridge(t, h)

	payload := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	msgs := []string{
		`{"event":"connected","protocol":"Call","version":"1.0.0"}`,
		startMessage(),
		`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","payload":"` + payload + `"}}`,
		`{"event":"media","streamSid":"MZ1","media":{"track":"outbound","payload":"` + payload + `"}}`,
		`not json`,
		`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","payload":"%%%"}}`,
		`{"event":"stop","streamSid":"MZ1","stop":{"callSid":"CA1"}}`,
	}
	for _, m := range msgs {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}
	waitDone(t, h)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.starts) != 1 {
		t.Fatalf("expected 1 start, got %d", len(h.starts))
	}
	s := h.starts[0]
	if s.CallSid != "CA1" || s.StreamSid != "MZ1" || s.Parameters["agentId"] != "agent-X" || s.SampleRate != 8000 {
		t.Errorf("unexpected start %+v", s)
	}
	if len(h.frames) != 1 || string(h.frames[0]) != string([]byte{1, 2, 3}) {
		t.Errorf("expected one inbound frame, got %v", h.frames)
	}
	if len(h.stops) != 1 || h.stops[0] != "CA1" {
		t.Errorf("expected one stop for CA1, got %v", h.stops)
	}
}

func TestBridge_DisconnectStops(t *testing.T) {
	h := newRecordingHandler()
	conn := dialBridge(t, h)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(startMessage())); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	<-h.sinkCh
	conn.Close()
	waitDone(t, h)

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.stops) != 1 {
		t.Errorf("expected OnStop after disconnect, got %v", h.stops)
	}
}

func TestMediaSink_WritesMediaAndClear(t *testing.T) {
	h := newRecordingHandler()
	conn := dialBridge(t, h)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(startMessage())); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	sink := <-h.sinkCh

	if err := sink.Write(models.AudioFrame{9, 8, 7}); err != nil {
		t.Fatalf("sink write failed: %v", err)
	}
	if err := sink.Clear(); err != nil {
		t.Fatalf("sink clear failed: %v", err)
	}

	var media outboundMessage
	if err := conn.ReadJSON(&media); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if media.Event != "media" || media.StreamSid != "MZ1" || media.Media == nil {
		t.Fatalf("unexpected media message %+v", media)
	}
	if media.Media.Payload != base64.StdEncoding.EncodeToString([]byte{9, 8, 7}) {
		t.Errorf("unexpected payload %q", media.Media.Payload)
	}

	var clear outboundMessage
	if err := conn.ReadJSON(&clear); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if clear.Event != "clear" || clear.StreamSid != "MZ1" {
		t.Errorf("unexpected clear message %+v", clear)
	}

	sink.Close()
	if err := sink.Write(models.AudioFrame{1}); err == nil {
		t.Error("expected error after Close")
	}
}
