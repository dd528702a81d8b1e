package deepgram

import (
	"context"
	"errors"
	"io"
	"testing"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"

	"ai-call-orchestrator-service/internal/service/tts"
)

func TestSynthesize_MissingKey(t *testing.T) {
	c := New(Config{})
	_, err := c.Synthesize(context.Background(), tts.Request{Text: "hi"})
	if !errors.Is(err, tts.ErrAdapterUnavailable) {
		t.Errorf("expected ErrAdapterUnavailable, got %v", err)
	}
}

func TestModelSelection(t *testing.T) {
	c := New(Config{APIKey: "k"})

	if got := c.model("aura-2-orion-en"); got != "aura-2-orion-en" {
		t.Errorf("expected aura voice passed through, got %s", got)
	}
	if got := c.model("21m00Tcm4TlvDq8ikWAM"); got != "aura-2-thalia-en" {
		t.Errorf("expected default model for foreign voice, got %s", got)
	}
}

func TestEncoding(t *testing.T) {
	tests := map[string]string{
		"ulaw": "mulaw",
		"alaw": "alaw",
		"pcm":  "linear16",
		"mp3":  "mp3",
	}
	for in, want := range tests {
		if got := encoding(in); got != want {
			t.Errorf("encoding(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestSpeakCallback_BinaryThenFlush(t *testing.T) {
	s := tts.NewChanStream(8, nil)
	cb := &speakCallback{stream: s}

	cb.Open(nil)
	cb.Binary([]byte{1, 2})
	cb.Binary(nil)
	cb.Binary([]byte{3})
	cb.Flush(&msginterfaces.FlushedResponse{})

	ctx := context.Background()
	var got [][]byte
	for {
		f, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		got = append(got, f)
	}
	if len(got) != 2 || got[0][1] != 2 || got[1][0] != 3 {
		t.Errorf("unexpected frames %v", got)
	}
}

func TestSpeakCallback_ErrorIsTerminal(t *testing.T) {
	s := tts.NewChanStream(8, nil)
	cb := &speakCallback{stream: s}

	cb.Binary([]byte{1})
	cb.Error(&msginterfaces.ErrorResponse{ErrMsg: "rate limited"})
	cb.Binary([]byte{2})

	if _, err := s.Next(context.Background()); err != nil {
		t.Fatalf("expected buffered frame, got %v", err)
	}
	_, err := s.Next(context.Background())
	if err == nil || err == io.EOF {
		t.Errorf("expected terminal error, got %v", err)
	}
}
