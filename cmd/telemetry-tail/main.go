// telemetry-tail consumes the call telemetry and summary topics and prints
// them as they arrive.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/observability/logging"
)

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicTelemetry := flag.String("topic-telemetry", "call.telemetry", "Telemetry topic")
	topicSummary := flag.String("topic-summary", "call.summary", "Summary topic")
	group := flag.String("group", "", "Consumer group; empty reads partition 0 from the last hour")
	callID := flag.String("call", "", "Only show this call")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	for _, topic := range []string{*topicTelemetry, *topicSummary} {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			consume(ctx, strings.Split(*brokers, ","), topic, *group, *callID)
		}(topic)
	}

	log.Info().
		Str("brokers", *brokers).
		Strs("topics", []string{*topicTelemetry, *topicSummary}).
		Msg("Tailing call telemetry")
	wg.Wait()
}

func consume(ctx context.Context, brokers []string, topic, group, callID string) {
	cfg := kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  group,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	if group == "" {
		// partition reader without a consumer group works through port-forwards
		cfg.Partition = 0
	}
	reader := kafka.NewReader(cfg)
	defer reader.Close()

	if group == "" {
		if err := reader.SetOffsetAt(ctx, time.Now().Add(-time.Hour)); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Could not seek to the last hour")
		}
	}

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("topic", topic).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}
		if callID != "" && string(msg.Key) != callID {
			continue
		}
		printMessage(topic, msg)
	}
}

func printMessage(topic string, msg kafka.Message) {
	eventType := ""
	for _, h := range msg.Headers {
		if h.Key == "eventType" {
			eventType = string(h.Value)
		}
	}

	if eventType == "summary" {
		var s models.SessionSummary
		if err := json.Unmarshal(msg.Value, &s); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("Undecodable summary")
			return
		}
		log.Info().
			Str("callId", s.CallID).
			Str("reason", s.Reason).
			Float64("durationSec", s.DurationSec).
			Int64("creditsUsed", s.CreditsUsed).
			Int("lines", len(s.SummaryLines)).
			Msg("Session summary")
		return
	}

	var ev models.CallEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Undecodable call event")
		return
	}
	e := log.Info().
		Str("callId", ev.CallID).
		Str("event", string(ev.EventType)).
		Time("at", time.UnixMilli(ev.Timestamp))
	if ev.Text != "" {
		e = e.Str("text", truncate(ev.Text, 60))
	}
	if ev.SegmentID != "" {
		e = e.Str("segment", ev.SegmentID)
	}
	if ev.Reason != "" {
		e = e.Str("reason", ev.Reason)
	}
	e.Msg("Call event")
}
