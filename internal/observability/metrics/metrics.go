// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_call_orchestrator"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal    prometheus.Counter
	SessionsActive   prometheus.Gauge
	SessionsDegraded prometheus.Counter
	SessionsEnded    *prometheus.CounterVec
	SessionDuration  prometheus.Histogram

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	AudioFramesSent     prometheus.Counter

	// Turn-taking metrics
	TranscriptsPartial prometheus.Counter
	TranscriptsFinal   prometheus.Counter
	Turns              *prometheus.CounterVec
	TurnLatency        prometheus.Histogram
	BargeIns           prometheus.Counter
	Silences           prometheus.Counter

	// Metering
	CreditsCharged *prometheus.CounterVec

	// Collaborator metrics
	AdapterErrors *prometheus.CounterVec
	STTReconnects prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewUnregistered builds a metrics set registered against its own registry.
// Tests use it to avoid duplicate registration on the default registerer.
func NewUnregistered() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return newMetrics(promauto.With(reg)), reg
}

func newMetrics(f promauto.Factory) *Metrics {
	return &Metrics{
		SessionsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of call sessions begun",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live call sessions",
		}),
		SessionsDegraded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_degraded_total",
			Help:      "Sessions that started without speech recognition",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of call sessions ended",
		}, []string{"reason"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of call sessions in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 180, 300, 450, 600},
		}),

		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total inbound audio bytes",
		}),
		AudioFramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total inbound audio frames",
		}),
		AudioFramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_sent_total",
			Help:      "Total synthesized audio frames written to callers",
		}),

		TranscriptsPartial: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_partial_total",
			Help:      "Total number of interim transcripts received",
		}),
		TranscriptsFinal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of speech-final transcripts received",
		}),
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Agent turns generated",
		}, []string{"result"}),
		TurnLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_seconds",
			Help:      "Time spent generating an agent turn",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}),
		BargeIns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Times a caller interrupted agent playback",
		}),
		Silences: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "silences_total",
			Help:      "Times the silence threshold was crossed",
		}),

		CreditsCharged: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_charged_total",
			Help:      "Credits metered across all sessions",
		}, []string{"source"}),

		AdapterErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_errors_total",
			Help:      "Errors reported by collaborators",
		}, []string{"adapter", "error_type"}),
		STTReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_reconnects_total",
			Help:      "Transcription stream reconnect attempts",
		}),

		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		GRPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC requests served",
		}, []string{"method", "code"}),
	}
}

// RecordSessionStart records a new session entering the live set.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordDegraded records a session running without transcription.
func (m *Metrics) RecordDegraded() {
	m.SessionsDegraded.Inc()
}

// RecordSessionEnd records a session leaving the live set.
func (m *Metrics) RecordSessionEnd(reason string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionsEnded.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordAudioReceived records inbound audio bytes and frames.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordFrameSent records one synthesized frame forwarded to a caller.
func (m *Metrics) RecordFrameSent() {
	m.AudioFramesSent.Inc()
}

// RecordPartialTranscript records an interim transcript.
func (m *Metrics) RecordPartialTranscript() {
	m.TranscriptsPartial.Inc()
}

// RecordFinalTranscript records a speech-final transcript.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordTurn records a generated turn; result is "ok" or "fallback".
func (m *Metrics) RecordTurn(result string, latencySeconds float64) {
	m.Turns.WithLabelValues(result).Inc()
	m.TurnLatency.Observe(latencySeconds)
}

// RecordBargeIn records a caller interruption.
func (m *Metrics) RecordBargeIn() {
	m.BargeIns.Inc()
}

// RecordSilence records a crossed silence threshold.
func (m *Metrics) RecordSilence() {
	m.Silences.Inc()
}

// RecordCredits records metered credits by source ("time" or "tokens").
func (m *Metrics) RecordCredits(source string, credits int64) {
	if credits <= 0 {
		return
	}
	m.CreditsCharged.WithLabelValues(source).Add(float64(credits))
}

// RecordAdapterError records a collaborator error.
func (m *Metrics) RecordAdapterError(adapter, errorType string) {
	m.AdapterErrors.WithLabelValues(adapter, errorType).Inc()
}

// RecordReconnect records a transcription reconnect attempt.
func (m *Metrics) RecordReconnect() {
	m.STTReconnects.Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordGRPCRequest records a served gRPC request.
func (m *Metrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}
