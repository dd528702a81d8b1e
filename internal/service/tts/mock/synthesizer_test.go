package mock

import (
	"context"
	"errors"
	"io"
	"testing"

	"ai-call-orchestrator-service/internal/service/tts"
)

func drain(t *testing.T, s tts.Stream) (int, error) {
	t.Helper()
	n := 0
	for {
		_, err := s.Next(context.Background())
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

func TestSynthesizer_FramePerWord(t *testing.T) {
	s := New()
	st, err := s.Synthesize(context.Background(), tts.Request{Text: "we open at nine"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	n, err := drain(t, st)
	if err != nil || n != 4 {
		t.Errorf("expected 4 frames, got %d (%v)", n, err)
	}
	if s.Pulled() != 4 || len(s.Requests()) != 1 {
		t.Errorf("unexpected bookkeeping: pulled=%d requests=%d", s.Pulled(), len(s.Requests()))
	}
}

func TestSynthesizer_Err(t *testing.T) {
	s := New()
	s.Err = tts.ErrAdapterUnavailable
	if _, err := s.Synthesize(context.Background(), tts.Request{Text: "hi"}); !errors.Is(err, tts.ErrAdapterUnavailable) {
		t.Errorf("expected ErrAdapterUnavailable, got %v", err)
	}
}

func TestSynthesizer_FailAfter(t *testing.T) {
	s := New()
	s.Frames = 10
	s.FailAfter = 3
	st, _ := s.Synthesize(context.Background(), tts.Request{Text: "x"})

	n, err := drain(t, st)
	if n != 3 || !errors.Is(err, ErrMidStream) {
		t.Errorf("expected 3 frames then ErrMidStream, got %d, %v", n, err)
	}
}

func TestSynthesizer_OnFrameAndClose(t *testing.T) {
	s := New()
	s.Frames = 5
	var seen []int
	s.OnFrame = func(n int) { seen = append(seen, n) }

	st, _ := s.Synthesize(context.Background(), tts.Request{Text: "x"})
	st.Next(context.Background())
	st.Next(context.Background())
	st.Close()
	st.Close()

	if _, err := st.Next(context.Background()); err != io.EOF {
		t.Errorf("expected io.EOF after close, got %v", err)
	}
	if len(seen) != 2 || seen[1] != 2 {
		t.Errorf("unexpected hook calls %v", seen)
	}
	if s.Closed() != 1 {
		t.Errorf("expected 1 close, got %d", s.Closed())
	}
}
