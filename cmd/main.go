package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ai-call-orchestrator-service/internal/app"
	"ai-call-orchestrator-service/internal/config"
	"ai-call-orchestrator-service/internal/events"
	apihttp "ai-call-orchestrator-service/internal/http"
	"ai-call-orchestrator-service/internal/observability"
	"ai-call-orchestrator-service/internal/observability/metrics"
	"ai-call-orchestrator-service/internal/service/llm"
	"ai-call-orchestrator-service/internal/service/llm/gemini"
	"ai-call-orchestrator-service/internal/service/llm/openai"
	"ai-call-orchestrator-service/internal/service/orchestrator"
	"ai-call-orchestrator-service/internal/service/stt"
	sttdeepgram "ai-call-orchestrator-service/internal/service/stt/deepgram"
	sttgoogle "ai-call-orchestrator-service/internal/service/stt/google"
	sttmock "ai-call-orchestrator-service/internal/service/stt/mock"
	"ai-call-orchestrator-service/internal/service/telephony"
	"ai-call-orchestrator-service/internal/service/telephony/twilio"
	"ai-call-orchestrator-service/internal/service/tts"
	ttsdeepgram "ai-call-orchestrator-service/internal/service/tts/deepgram"
	"ai-call-orchestrator-service/internal/service/tts/elevenlabs"
	ttsmock "ai-call-orchestrator-service/internal/service/tts/mock"
	"ai-call-orchestrator-service/internal/store"
)

const healthServiceName = "ai.call.orchestrator.CallOrchestrator"

func main() {
	cfg := config.Load()
	application := app.New(cfg)
	m := metrics.DefaultMetrics
	ctx := context.Background()

	publisher := events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicTelemetry: cfg.Kafka.TopicTelemetry,
		TopicSummary:   cfg.Kafka.TopicSummary,
		Principal:      cfg.Kafka.Principal,
	})
	defer publisher.Close()

	sinks := []orchestrator.SummarySink{publisher}
	if cfg.Store.DatabaseURL != "" {
		st, err := store.Open(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to open summary store")
		}
		defer st.Close()
		sinks = append(sinks, st)
	} else {
		log.Info().Msg("DATABASE_URL not set, summaries are not persisted")
	}

	sttFactory, closeSTT, err := newTranscription(ctx, cfg.STT)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create transcription provider")
	}
	defer closeSTT.Close()

	synth, err := newSynthesis(cfg.TTS)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create synthesis provider")
	}

	// without a turn generator every BeginSession fails fast
	gen, err := newGenerator(ctx, cfg.LLM)
	if err != nil {
		log.Error().Err(err).Str("provider", cfg.LLM.Provider).Msg("Turn generator unavailable, calls will be rejected")
		gen = nil
	}

	var phone telephony.Controller = telephony.NopController{}
	if cfg.Twilio.AccountSID != "" {
		tw, err := twilio.New(twilio.Config{
			AccountSID:    cfg.Twilio.AccountSID,
			AuthToken:     cfg.Twilio.AuthToken,
			FromNumber:    cfg.Twilio.FromNumber,
			PublicBaseURL: cfg.Twilio.PublicBaseURL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Twilio client")
		}
		phone = tw
	} else {
		log.Warn().Msg("Twilio not configured, carrier-side hangups are skipped")
	}

	o := orchestrator.New(orchestrator.Config{
		MaxDuration:      cfg.Call.MaxDuration,
		SilenceThreshold: cfg.Call.SilenceThreshold,
		CreditsPerMinute: cfg.Call.CreditsPerMinute,
		TokenUnitSize:    cfg.Call.TokenUnitSize,
		HistoryWindow:    cfg.Call.HistoryWindow,
		TurnTimeout:      cfg.Call.TurnTimeout,
		SynthesisTimeout: cfg.Call.SynthesisTimeout,
		OpenTimeout:      cfg.Call.OpenTimeout,
		EndTimeout:       cfg.Call.EndTimeout,
		VADThreshold:     cfg.Call.VADThreshold,
		AudioEncoding:    cfg.Call.AudioEncoding,
		OutputFormat:     cfg.TTS.OutputFormat,
		STT: stt.Options{
			Language:       cfg.STT.LanguageCode,
			Model:          cfg.STT.Model,
			EndpointingMs:  cfg.STT.EndpointingMs,
			SampleRateHz:   cfg.STT.SampleRateHz,
			Encoding:       cfg.STT.AudioEncoding,
			InterimResults: cfg.STT.InterimResults,
		},
	}, orchestrator.Deps{
		STT:       sttFactory,
		TTS:       synth,
		LLM:       gen,
		Telephony: phone,
		Sinks:     sinks,
		Metrics:   m,
	})
	o.Subscribe(publisher)

	media := apihttp.NewMediaHandler(o, cfg.Agent.ID, cfg.Agent.AgentConfig())
	router := apihttp.NewRouter(application, apihttp.Options{
		Calls:   o,
		Media:   twilio.NewBridge(media),
		Metrics: promhttp.Handler(),
	})
	httpServer := observability.NewServer(cfg.Service.HTTPAddr, router)

	lis, err := net.Listen("tcp", ":"+cfg.Service.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Str("port", cfg.Service.GRPCPort).Msg("Failed to listen")
	}
	server := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	// grpcurl and friends
	reflection.Register(server)

	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Application start failed")
	}
	httpServer.Start()
	go func() {
		log.Info().Str("port", cfg.Service.GRPCPort).Msg("gRPC health server started")
		if err := server.Serve(lis); err != nil {
			log.Fatal().Err(err).Msg("gRPC serve failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	application.Shutdown()
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(healthServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Not every session ended before the deadline")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown failed")
	}
	server.GracefulStop()
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newTranscription selects the transcription provider. The closer releases
// process-wide clients at shutdown.
func newTranscription(ctx context.Context, cfg config.STTConfig) (stt.Factory, io.Closer, error) {
	policy := stt.ReconnectPolicy{MaxAttempts: cfg.MaxReconnects, Unit: cfg.ReconnectUnit}

	switch strings.ToLower(cfg.Provider) {
	case "deepgram":
		if cfg.DeepgramAPIKey == "" {
			log.Warn().Msg("DEEPGRAM_API_KEY missing, calls will run degraded")
		}
		return stt.NewFactory(sttdeepgram.NewDialer(sttdeepgram.DefaultConfig(cfg.DeepgramAPIKey)), policy), nopCloser{}, nil
	case "google":
		gcfg := sttgoogle.DefaultConfig()
		gcfg.LanguageCode = cfg.LanguageCode
		gcfg.SampleRateHz = cfg.SampleRateHz
		gcfg.InterimResults = cfg.InterimResults
		gcfg.AudioEncoding = cfg.AudioEncoding
		d, err := sttgoogle.New(ctx, gcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("google speech client: %w", err)
		}
		return stt.NewFactory(d, policy), d, nil
	case "mock":
		log.Warn().Msg("Using scripted mock transcription")
		return sttmock.Factory(nil), nopCloser{}, nil
	case "none", "":
		log.Warn().Msg("No transcription provider, calls run degraded")
		return nil, nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown STT_PROVIDER %q", cfg.Provider)
	}
}

func newSynthesis(cfg config.TTSConfig) (tts.Synthesizer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "elevenlabs":
		return elevenlabs.New(elevenlabs.Config{APIKey: cfg.ElevenLabsAPIKey, ModelID: cfg.ElevenLabsModel}), nil
	case "deepgram":
		return ttsdeepgram.New(ttsdeepgram.Config{APIKey: cfg.DeepgramAPIKey, Model: cfg.DeepgramModel}), nil
	case "mock":
		log.Warn().Msg("Using mock synthesis")
		return ttsmock.New(), nil
	case "none", "":
		log.Warn().Msg("No synthesis provider, calls run text-only")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown TTS_PROVIDER %q", cfg.Provider)
	}
}

func newGenerator(ctx context.Context, cfg config.LLMConfig) (llm.Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gemini":
		return gemini.New(ctx, cfg.GeminiAPIKey, cfg.Model)
	case "openai":
		return openai.New(openai.Config{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL, Model: cfg.Model})
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.Provider)
	}
}
