package tts

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in         string
		enc        string
		rate       int
		frameBytes int
	}{
		{"ulaw_8000", "ulaw", 8000, 160},
		{"mulaw_8000", "ulaw", 8000, 160},
		{"pcm_16000", "pcm", 16000, 640},
		{"PCM_24000", "pcm", 24000, 960},
		{"mp3_44100", "mp3", 44100, 0},
		{"", "ulaw", 8000, 160},
		{"garbage", "ulaw", 8000, 160},
		{"alaw_x", "alaw", 8000, 160},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			f := ParseFormat(tt.in)
			if f.Encoding != tt.enc || f.SampleRateHz != tt.rate {
				t.Errorf("ParseFormat(%q) = %+v", tt.in, f)
			}
			if f.FrameBytes() != tt.frameBytes {
				t.Errorf("FrameBytes = %d, want %d", f.FrameBytes(), tt.frameBytes)
			}
		})
	}
}

func TestChanStream_DeliversThenEOF(t *testing.T) {
	s := NewChanStream(0, nil)
	go func() {
		s.Push([]byte{1})
		s.Push([]byte{2})
		s.Finish(nil)
	}()

	ctx := context.Background()
	for want := byte(1); want <= 2; want++ {
		f, err := s.Next(ctx)
		if err != nil || f[0] != want {
			t.Fatalf("frame %d: got %v %v", want, f, err)
		}
	}
	if _, err := s.Next(ctx); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestChanStream_TerminalError(t *testing.T) {
	boom := errors.New("socket dropped")
	s := NewChanStream(4, nil)
	s.Push([]byte{1})
	s.Finish(boom)
	s.Finish(nil)

	if _, err := s.Next(context.Background()); err != nil {
		t.Fatalf("buffered frame must still be delivered, got %v", err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, boom) {
		t.Errorf("expected terminal error, got %v", err)
	}
}

func TestChanStream_CloseUnblocksProducer(t *testing.T) {
	stopped := make(chan struct{})
	s := NewChanStream(0, func() { close(stopped) })

	pushed := make(chan bool, 1)
	go func() { pushed <- s.Push([]byte{1}) }()

	s.Close()
	s.Close()

	select {
	case ok := <-pushed:
		if ok {
			t.Error("push after close must report false")
		}
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after close")
	}
	select {
	case <-stopped:
	default:
		t.Error("expected stop hook called")
	}
}

func TestChanStream_NextHonorsContext(t *testing.T) {
	s := NewChanStream(0, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := s.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
