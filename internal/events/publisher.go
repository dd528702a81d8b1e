// Package events publishes call telemetry and session summaries to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/observability/metrics"
	"ai-call-orchestrator-service/internal/schema"
)

// Publisher publishes call events and session summaries to separate Kafka
// topics. Telemetry is written asynchronously so observers never block the
// call; summaries are written synchronously.
type Publisher struct {
	writerTelemetry *kafka.Writer
	writerSummary   *kafka.Writer
	principal       string
	topicTelemetry  string
	topicSummary    string
	enabled         bool
	validator       *schema.Validator
	metrics         *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	TopicTelemetry string
	TopicSummary   string
	Principal      string
	Enabled        bool
}

// New creates a Kafka publisher. A nil or disabled config yields a
// log-only publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics
	v := schema.New()

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{validator: v, metrics: m}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:      cfg.Principal,
			topicTelemetry: cfg.TopicTelemetry,
			topicSummary:   cfg.TopicSummary,
			validator:      v,
			metrics:        m,
		}
	}

	// longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	topicTelemetry := cfg.TopicTelemetry
	writerTelemetry := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topicTelemetry,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Transport:    transport,
		Completion: func(msgs []kafka.Message, err error) {
			for range msgs {
				m.RecordKafkaPublish(topicTelemetry, "telemetry", err, 0)
			}
			if err != nil {
				log.Error().Err(err).Str("topic", topicTelemetry).Int("messages", len(msgs)).Msg("Failed to write telemetry to Kafka")
			}
		},
	}

	writerSummary := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicSummary,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireAll,
		Transport:    transport,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTelemetry", cfg.TopicTelemetry).
		Str("topicSummary", cfg.TopicSummary).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerTelemetry: writerTelemetry,
		writerSummary:   writerSummary,
		principal:       cfg.Principal,
		topicTelemetry:  cfg.TopicTelemetry,
		topicSummary:    cfg.TopicSummary,
		enabled:         true,
		validator:       v,
		metrics:         m,
	}
}

// OnCallEvent publishes one telemetry event keyed by call ID. Invalid
// events are dropped.
func (p *Publisher) OnCallEvent(ev models.CallEvent) {
	if err := p.validator.Validate(ev); err != nil {
		log.Warn().Err(err).Str("callId", ev.CallID).Str("eventType", string(ev.EventType)).Msg("Dropping invalid call event")
		return
	}
	_ = p.publish(context.Background(), p.writerTelemetry, p.topicTelemetry, string(ev.EventType), ev.CallID, ev)
}

// SaveSummary publishes the session summary to the summary topic.
func (p *Publisher) SaveSummary(ctx context.Context, s models.SessionSummary) error {
	if err := p.validator.Validate(s); err != nil {
		return err
	}
	return p.publish(ctx, p.writerSummary, p.topicSummary, "summary", s.CallID, s)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	// async completions are recorded by the writer callback
	if !writer.Async {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	}
	return nil
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerTelemetry != nil {
		if e := p.writerTelemetry.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing telemetry writer")
			err = e
		}
	}
	if p.writerSummary != nil {
		if e := p.writerSummary.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing summary writer")
			err = e
		}
	}
	return err
}
