package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/observability"
	"ai-call-orchestrator-service/internal/observability/logging"
	"ai-call-orchestrator-service/internal/service/llm"
	"ai-call-orchestrator-service/internal/service/tts"
)

var errEmptyReply = errors.New("turn generator returned no text")

// work runs the session's turns and prompts one at a time until the
// session ends.
func (o *Orchestrator) work(ls *liveSession) {
	for {
		select {
		case <-ls.ctx.Done():
			return
		case j := <-ls.jobs:
			o.run(ls, j)
		}
	}
}

func (o *Orchestrator) run(ls *liveSession, j job) {
	defer o.recoverPanic(ls, "worker")
	if ls.ctx.Err() != nil {
		return
	}
	switch j.kind {
	case jobTurn:
		o.processTurn(ls, j)
	default:
		o.speak(ls, j.text)
	}
}

// processTurn generates the reply to one user utterance and speaks it. A
// failed generation is replaced by the agent's fallback line.
func (o *Orchestrator) processTurn(ls *liveSession, j job) {
	tlog := logging.WithTurn(ls.sess.CallID, ls.sess.TenantID, j.utteranceID)
	window := j.window

	start := time.Now()
	res, err := o.generate(ls, window, j.text)
	text := strings.TrimSpace(res.Text)
	if err == nil && text == "" {
		err = errEmptyReply
	}

	if err != nil {
		if ls.ctx.Err() != nil {
			return
		}
		plog := logging.WithProvider(ls.sess.CallID, ls.sess.TenantID, o.gen.Name())
		plog.Warn().Err(err).Str("turnId", j.utteranceID).Msg("Turn generation failed, using fallback")
		o.metrics.RecordAdapterError("llm", errorType(err))
		o.metrics.RecordTurn("fallback", time.Since(start).Seconds())
		o.emit(ls, models.CallEvent{
			EventType: models.EventAdapterError,
			SegmentID: j.utteranceID,
			Source:    "llm",
			Error:     err.Error(),
		})
		text = fallbackLine(ls.sess.Agent)
		res.ResourceUnits = 0
	} else {
		o.metrics.RecordTurn("ok", time.Since(start).Seconds())
		tlog.Info().
			Int("window", len(window)).
			Int64("units", res.ResourceUnits).
			Dur("latency", time.Since(start)).
			Msg("Turn generated")
	}

	if !o.recordReply(ls, text, res.ResourceUnits) {
		return
	}
	o.speak(ls, text)
}

func (o *Orchestrator) generate(ls *liveSession, window []models.Turn, latest string) (res llm.Result, err error) {
	ctx, cancel := context.WithTimeout(ls.ctx, o.cfg.TurnTimeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "turn.generate",
		observability.CallAttrs(ls.sess.CallID, ls.sess.TenantID)...)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("turn generator panic: %v", r)
		}
		span.SetInt("llm.resource_units", res.ResourceUnits)
		span.End(err)
	}()
	return o.gen.Generate(ctx, window, latest, ls.sess.Agent)
}

func (o *Orchestrator) recordReply(ls *liveSession, text string, units int64) bool {
	ls.gate.RLock()
	defer ls.gate.RUnlock()
	if !ls.sess.State().AcceptsEvents() {
		return false
	}
	ls.sess.AppendTurn(models.RoleAssistant, text)
	ls.sess.AddSummaryLine(agentLine(text))
	if delta := ls.sess.Meter().ChargeUnits(units); delta > 0 {
		o.metered(ls, "tokens", delta)
	}
	return true
}

// speak synthesizes text and plays it to the caller. isSpeaking is checked
// after every frame; a barge-in clears it and playback stops at the next
// check. Synthesis failures end the utterance, never the call.
func (o *Orchestrator) speak(ls *liveSession, text string) {
	if o.synth == nil {
		o.emit(ls, models.CallEvent{
			EventType: models.EventSynthesisUnavailable,
			Text:      text,
			Reason:    "not_configured",
		})
		return
	}

	ctx, cancel := context.WithTimeout(ls.ctx, o.cfg.SynthesisTimeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "speech.synthesize",
		observability.CallAttrs(ls.sess.CallID, ls.sess.TenantID)...)

	stream, err := o.synthesize(ctx, ls, text)
	if err != nil {
		span.End(err)
		if ls.ctx.Err() != nil {
			return
		}
		if errors.Is(err, tts.ErrAdapterUnavailable) {
			ls.log.Warn().Err(err).Msg("Synthesis unavailable, continuing text-only")
			o.emit(ls, models.CallEvent{
				EventType: models.EventSynthesisUnavailable,
				Text:      text,
				Error:     err.Error(),
			})
			return
		}
		ls.log.Warn().Err(err).Msg("Synthesis failed")
		o.metrics.RecordAdapterError("tts", errorType(err))
		o.emit(ls, models.CallEvent{EventType: models.EventAdapterError, Source: "tts", Error: err.Error()})
		return
	}
	defer stream.Close()

	if !o.startSpeaking(ls) {
		span.End(nil)
		return
	}
	o.emit(ls, models.CallEvent{EventType: models.EventAgentSpeakingStart, Text: text})

	sent, err := o.play(ctx, ls, stream)
	interrupted := !ls.sess.StopSpeaking()

	reason := "completed"
	switch {
	case err != nil:
		reason = "error"
		ls.log.Warn().Err(err).Int64("frames", sent).Msg("Playback aborted")
		o.metrics.RecordAdapterError("tts", errorType(err))
		o.emit(ls, models.CallEvent{EventType: models.EventAdapterError, Source: "tts", Error: err.Error()})
	case interrupted:
		reason = "barge_in"
	}
	span.SetInt("audio.frames", sent)
	span.End(err)
	o.emit(ls, models.CallEvent{EventType: models.EventAgentSpeakingEnd, Text: text, Reason: reason})
}

func (o *Orchestrator) synthesize(ctx context.Context, ls *liveSession, text string) (stream tts.Stream, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("synthesizer panic: %v", r)
		}
	}()
	agent := ls.sess.Agent
	return o.synth.Synthesize(ctx, tts.Request{
		VoiceID:      agent.VoiceID,
		Text:         text,
		OutputFormat: o.cfg.OutputFormat,
		LatencyLevel: agent.Latency.OptimizationLevel(),
	})
}

func (o *Orchestrator) startSpeaking(ls *liveSession) bool {
	ls.gate.RLock()
	defer ls.gate.RUnlock()
	if !ls.sess.State().AcceptsEvents() {
		return false
	}
	ls.sess.StartSpeaking()
	return true
}

// play forwards frames until the stream ends or isSpeaking is cleared.
func (o *Orchestrator) play(ctx context.Context, ls *liveSession, stream tts.Stream) (int64, error) {
	var sent int64
	for ls.sess.IsSpeaking() {
		frame, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		if err != nil {
			if ls.ctx.Err() != nil {
				return sent, nil
			}
			return sent, err
		}
		if !ls.sess.IsSpeaking() {
			break
		}
		if err := ls.sink.Write(frame); err != nil {
			return sent, fmt.Errorf("write audio: %w", err)
		}
		sent++
		o.metrics.RecordFrameSent()
	}
	return sent, nil
}

func fallbackLine(agent models.AgentConfig) string {
	if s := strings.TrimSpace(agent.Fallback); s != "" {
		return s
	}
	return defaultFallback
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, llm.ErrGeneratorUnavailable), errors.Is(err, tts.ErrAdapterUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
