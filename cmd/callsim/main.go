// callsim runs one call through an in-process orchestrator with scripted
// transcription and synthesis, streaming a WAV file (or silence) as the
// caller's audio.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/observability/logging"
	"ai-call-orchestrator-service/internal/service/llm"
	"ai-call-orchestrator-service/internal/service/llm/gemini"
	llmmock "ai-call-orchestrator-service/internal/service/llm/mock"
	"ai-call-orchestrator-service/internal/service/orchestrator"
	"ai-call-orchestrator-service/internal/service/stt"
	sttmock "ai-call-orchestrator-service/internal/service/stt/mock"
	"ai-call-orchestrator-service/internal/service/telephony"
	ttsmock "ai-call-orchestrator-service/internal/service/tts/mock"
)

// WAV header is 44 bytes for standard PCM files
const wavHeaderSize = 44

// 100ms of 8kHz 16-bit mono
const (
	chunkSize       = 1600
	chunkIntervalMs = 100
)

func main() {
	audioFile := flag.String("audio", "", "Path to WAV file (8kHz 16-bit mono PCM); empty streams silence")
	callID := flag.String("call", "sim-"+time.Now().Format("150405"), "Call ID")
	tenantID := flag.String("tenant", "tenant-demo", "Tenant ID")
	seconds := flag.Int("seconds", 20, "Seconds of silence to stream when no audio file is given")
	framesPerStep := flag.Int("frames-per-step", 5, "Frames per scripted transcription step")
	realtime := flag.Bool("realtime", true, "Pace frames in real time")
	llmProvider := flag.String("llm", "mock", "Turn generator: mock or gemini (GEMINI_API_KEY)")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	ctx := context.Background()
	gen, err := newGenerator(ctx, *llmProvider)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create turn generator")
	}

	script := sttmock.New(nil)
	script.FramesPerStep = *framesPerStep

	cfg := orchestrator.DefaultConfig()
	cfg.AudioEncoding = orchestrator.EncodingPCM16
	o := orchestrator.New(cfg, orchestrator.Deps{
		STT: func() stt.Adapter { return script },
		TTS: ttsmock.New(),
		LLM: gen,
	})
	o.Subscribe(orchestrator.ObserverFunc(printEvent))

	agent := models.AgentConfig{
		Name:     "Ava",
		Language: "English",
		Greeting: "Hi, thanks for calling Sunny Dental. How can I help?",
		Fallback: "Sorry, could you say that again?",
		Latency:  models.LatencyFast,
		Safety:   models.SafetyRules{NoMedicalAdvice: true, ConfirmBeforeBooking: true},
	}
	if _, err := o.BeginSession(ctx, orchestrator.BeginRequest{
		CallID:   *callID,
		TenantID: *tenantID,
		AgentID:  "sim-agent",
		Agent:    agent,
		Sink:     telephony.DiscardSink{},
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to begin session")
	}
	if err := o.RequestGreeting(*callID); err != nil {
		log.Warn().Err(err).Msg("Greeting rejected")
	}

	frames, err := openFrames(*audioFile, *seconds)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audio")
	}
	defer frames.Close()

	start := time.Now()
	var chunkNum int
	chunk := make([]byte, chunkSize)
	for {
		n, err := io.ReadFull(frames, chunk)
		if n == 0 || (err != nil && err != io.ErrUnexpectedEOF) {
			break
		}
		chunkNum++
		o.SubmitInboundAudio(*callID, append(models.AudioFrame(nil), chunk[:n]...))
		if _, live := o.Snapshot(*callID); !live {
			break
		}
		if *realtime {
			time.Sleep(chunkIntervalMs * time.Millisecond)
		}
	}
	log.Info().Int("chunks", chunkNum).Dur("elapsed", time.Since(start)).Msg("Finished streaming")

	stats, err := o.EndSession(*callID, orchestrator.ReasonCompleted)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to end session")
	}
	out, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(out))
}

func newGenerator(ctx context.Context, provider string) (llm.Generator, error) {
	switch provider {
	case "gemini":
		return gemini.New(ctx, os.Getenv("GEMINI_API_KEY"), os.Getenv("LLM_MODEL"))
	case "mock", "":
		return llmmock.New(
			"Sure, I can help with that. What day works best for you?",
			"We're open nine to five, Monday to Friday.",
			"Great, I've noted tomorrow at ten. Anything else?",
		), nil
	default:
		return nil, fmt.Errorf("unknown turn generator %q", provider)
	}
}

func printEvent(ev models.CallEvent) {
	e := log.Info().Str("event", string(ev.EventType)).Str("callId", ev.CallID)
	if ev.Text != "" {
		e = e.Str("text", ev.Text)
	}
	if ev.Reason != "" {
		e = e.Str("reason", ev.Reason)
	}
	if ev.Credits != 0 {
		e = e.Int64("credits", ev.Credits).Int64("total", ev.Total)
	}
	e.Msg("Call event")
}

type silence struct{ remaining int }

func (s *silence) Read(p []byte) (int, error) {
	if s.remaining <= 0 {
		return 0, io.EOF
	}
	n := min(len(p), s.remaining)
	clear(p[:n])
	s.remaining -= n
	return n, nil
}

func (s *silence) Close() error { return nil }

// openFrames returns the PCM payload of a WAV file, or silence.
func openFrames(path string, seconds int) (io.ReadCloser, error) {
	if path == "" {
		return &silence{remaining: seconds * 16000}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	header := make([]byte, wavHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		f.Close()
		return nil, fmt.Errorf("read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		f.Close()
		return nil, fmt.Errorf("%s is not a WAV file", path)
	}

	audioFormat := binary.LittleEndian.Uint16(header[20:22])
	numChannels := binary.LittleEndian.Uint16(header[22:24])
	sampleRate := binary.LittleEndian.Uint32(header[24:28])
	bitsPerSample := binary.LittleEndian.Uint16(header[34:36])
	log.Info().
		Uint16("format", audioFormat).
		Uint16("channels", numChannels).
		Uint32("sampleRate", sampleRate).
		Uint16("bitsPerSample", bitsPerSample).
		Msg("WAV file")

	if audioFormat != 1 || bitsPerSample != 16 {
		f.Close()
		return nil, fmt.Errorf("only 16-bit PCM is supported")
	}
	if sampleRate != 8000 {
		log.Warn().Uint32("sampleRate", sampleRate).Msg("Expected 8000 Hz audio")
	}
	return f, nil
}
