package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"ai-call-orchestrator-service/internal/models"
)

type ServiceConfig struct {
	Principal string
	GRPCPort  string
	HTTPAddr  string
	Env       string
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// CallPolicy holds the per-call limits and metering rules.
type CallPolicy struct {
	MaxDuration      time.Duration
	SilenceThreshold time.Duration
	CreditsPerMinute int64
	TokenUnitSize    int64
	HistoryWindow    int
	TurnTimeout      time.Duration
	SynthesisTimeout time.Duration
	OpenTimeout      time.Duration
	EndTimeout       time.Duration
	VADThreshold     float64
	AudioEncoding    string
}

type STTConfig struct {
	Provider       string
	LanguageCode   string
	Model          string
	SampleRateHz   int
	AudioEncoding  string
	EndpointingMs  int
	InterimResults bool
	MaxReconnects  int
	ReconnectUnit  time.Duration
	DeepgramAPIKey string
}

type TTSConfig struct {
	Provider         string
	OutputFormat     string
	ElevenLabsAPIKey string
	ElevenLabsModel  string
	DeepgramAPIKey   string
	DeepgramModel    string
}

type LLMConfig struct {
	Provider      string
	Model         string
	GeminiAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

type TwilioConfig struct {
	AccountSID    string
	AuthToken     string
	FromNumber    string
	PublicBaseURL string
}

type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	TopicTelemetry string
	TopicSummary   string
	Principal      string
}

type StoreConfig struct {
	DatabaseURL string
}

// AgentDefaults seeds the agent used for inbound media streams that do not
// carry their own configuration.
type AgentDefaults struct {
	ID           string
	Name         string
	Language     string
	Instructions string
	Greeting     string
	Fallback     string
	VoiceID      string
	Latency      string
	SafetyRules  []string
}

// AgentConfig converts the defaults into the snapshot a session begins with.
// Known safety rules: no_legal_advice, no_medical_advice, confirm_before_booking,
// handoff_on_confusion.
func (a AgentDefaults) AgentConfig() models.AgentConfig {
	var safety models.SafetyRules
	for _, r := range a.SafetyRules {
		switch strings.ToLower(strings.TrimSpace(r)) {
		case "no_legal_advice":
			safety.NoLegalAdvice = true
		case "no_medical_advice":
			safety.NoMedicalAdvice = true
		case "confirm_before_booking":
			safety.ConfirmBeforeBooking = true
		case "handoff_on_confusion":
			safety.HandoffOnConfusion = true
		default:
			log.Warn().Str("rule", r).Msg("Ignoring unknown agent safety rule")
		}
	}
	return models.AgentConfig{
		Name:         a.Name,
		Language:     a.Language,
		Instructions: a.Instructions,
		Greeting:     a.Greeting,
		Fallback:     a.Fallback,
		VoiceID:      a.VoiceID,
		Latency:      models.ParseLatencyPreference(a.Latency),
		Safety:       safety,
	}
}

type Configuration struct {
	Service       ServiceConfig
	Observability ObservabilityConfig
	Call          CallPolicy
	STT           STTConfig
	TTS           TTSConfig
	LLM           LLMConfig
	Twilio        TwilioConfig
	Kafka         KafkaConfig
	Store         StoreConfig
	Agent         AgentDefaults
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present.
func Load() *Configuration {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Could not load .env file")
	}

	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-call-orchestrator")

	return &Configuration{
		Service: ServiceConfig{
			Principal: principal,
			GRPCPort:  envOrDefault("GRPC_PORT", "50051"),
			HTTPAddr:  envOrDefault("HTTP_ADDR", ":8080"),
			Env:       envOrDefault("ENV", "prod"),
		},
		Observability: ObservabilityConfig{
			LogLevel:  envOrDefault("LOG_LEVEL", "info"),
			LogFormat: envOrDefault("LOG_FORMAT", "json"),
		},
		Call: CallPolicy{
			MaxDuration:      envOrDefaultDuration("CALL_MAX_DURATION", 600*time.Second),
			SilenceThreshold: envOrDefaultDuration("CALL_SILENCE_THRESHOLD", 1500*time.Millisecond),
			CreditsPerMinute: int64(envOrDefaultInt("CALL_CREDITS_PER_MINUTE", 10)),
			TokenUnitSize:    int64(envOrDefaultInt("CALL_TOKEN_UNIT_SIZE", 1000)),
			HistoryWindow:    envOrDefaultInt("CALL_HISTORY_WINDOW", 10),
			TurnTimeout:      envOrDefaultDuration("CALL_TURN_TIMEOUT", 20*time.Second),
			SynthesisTimeout: envOrDefaultDuration("CALL_SYNTHESIS_TIMEOUT", 30*time.Second),
			OpenTimeout:      envOrDefaultDuration("CALL_OPEN_TIMEOUT", 10*time.Second),
			EndTimeout:       envOrDefaultDuration("CALL_END_TIMEOUT", 5*time.Second),
			VADThreshold:     envOrDefaultFloat("CALL_VAD_THRESHOLD", 10),
			AudioEncoding:    envOrDefault("CALL_AUDIO_ENCODING", "pcm8"),
		},
		STT: STTConfig{
			Provider:       envOrDefault("STT_PROVIDER", "mock"),
			LanguageCode:   envOrDefault("STT_LANGUAGE_CODE", "en-US"),
			Model:          envOrDefault("STT_MODEL", "nova-2-phonecall"),
			SampleRateHz:   envOrDefaultInt("STT_SAMPLE_RATE_HZ", 8000),
			AudioEncoding:  envOrDefault("STT_AUDIO_ENCODING", "MULAW"),
			EndpointingMs:  envOrDefaultInt("STT_ENDPOINTING_MS", 300),
			InterimResults: envOrDefaultBool("STT_INTERIM_RESULTS", true),
			MaxReconnects:  envOrDefaultInt("STT_MAX_RECONNECTS", 3),
			ReconnectUnit:  envOrDefaultDuration("STT_RECONNECT_UNIT", time.Second),
			DeepgramAPIKey: os.Getenv("DEEPGRAM_API_KEY"),
		},
		TTS: TTSConfig{
			Provider:         envOrDefault("TTS_PROVIDER", "mock"),
			OutputFormat:     envOrDefault("TTS_OUTPUT_FORMAT", "ulaw_8000"),
			ElevenLabsAPIKey: os.Getenv("ELEVENLABS_API_KEY"),
			ElevenLabsModel:  envOrDefault("ELEVENLABS_MODEL_ID", "eleven_flash_v2_5"),
			DeepgramAPIKey:   os.Getenv("DEEPGRAM_API_KEY"),
			DeepgramModel:    envOrDefault("DEEPGRAM_TTS_MODEL", "aura-2-thalia-en"),
		},
		LLM: LLMConfig{
			Provider:      envOrDefault("LLM_PROVIDER", "gemini"),
			Model:         os.Getenv("LLM_MODEL"),
			GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
			OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
			OpenAIBaseURL: envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		},
		Twilio: TwilioConfig{
			AccountSID:    os.Getenv("TWILIO_ACCOUNT_SID"),
			AuthToken:     os.Getenv("TWILIO_AUTH_TOKEN"),
			FromNumber:    os.Getenv("TWILIO_FROM_NUMBER"),
			PublicBaseURL: os.Getenv("PUBLIC_BASE_URL"),
		},
		Kafka: KafkaConfig{
			Enabled:        envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:        envOrDefaultList("KAFKA_BROKERS", nil),
			TopicTelemetry: envOrDefault("KAFKA_TOPIC_TELEMETRY", "call.telemetry"),
			TopicSummary:   envOrDefault("KAFKA_TOPIC_SUMMARY", "call.summary"),
			Principal:      envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Store: StoreConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Agent: AgentDefaults{
			ID:           envOrDefault("AGENT_ID", "default-agent"),
			Name:         envOrDefault("AGENT_NAME", "Ava"),
			Language:     envOrDefault("AGENT_LANGUAGE", "English"),
			Instructions: os.Getenv("AGENT_INSTRUCTIONS"),
			Greeting:     envOrDefault("AGENT_GREETING", "Hi, thanks for calling. How can I help you today?"),
			Fallback:     envOrDefault("AGENT_FALLBACK", "Sorry, could you say that again?"),
			VoiceID:      os.Getenv("AGENT_VOICE_ID"),
			Latency:      envOrDefault("AGENT_LATENCY", "BALANCED"),
			SafetyRules:  envOrDefaultList("AGENT_SAFETY_RULES", nil),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
