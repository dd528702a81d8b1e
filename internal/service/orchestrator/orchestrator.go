// Package orchestrator is the Call Session Orchestrator. It owns the live
// sessions and mediates, per call, between the transcription stream, the
// turn generator, speech synthesis and the telephony leg.
//
// Within one session transcript events are handled in delivery order on the
// adapter's goroutine, turns and greetings are generated and spoken in order
// on a per-session worker, and inbound audio is processed on the caller's
// goroutine. A per-session gate keeps all of them from mutating a session
// once it has begun ending.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/observability/metrics"
	"ai-call-orchestrator-service/internal/service/call"
	"ai-call-orchestrator-service/internal/service/llm"
	"ai-call-orchestrator-service/internal/service/segment"
	"ai-call-orchestrator-service/internal/service/stt"
	"ai-call-orchestrator-service/internal/service/telephony"
	"ai-call-orchestrator-service/internal/service/tts"
)

var (
	ErrAlreadyActive        = errors.New("call already has a live session")
	ErrSessionNotFound      = errors.New("session not found")
	ErrGreetingNotAllowed   = errors.New("greeting not allowed")
	ErrTurnGeneratorMissing = errors.New("turn generator not configured")
)

// Termination reasons set by the orchestrator itself.
const (
	ReasonCompleted   = "completed"
	ReasonMaxDuration = "max_duration"
	ReasonSTTFailure  = "stt_failure"
	ReasonShutdown    = "shutdown"
)

const (
	defaultFallback = "Sorry, I didn't catch that. Could you say it again?"
	endedCacheSize  = 1024
	jobQueueSize    = 32
)

// Config is the call policy applied to every session.
type Config struct {
	MaxDuration      time.Duration
	SilenceThreshold time.Duration
	CreditsPerMinute int64
	TokenUnitSize    int64
	HistoryWindow    int
	TurnTimeout      time.Duration
	SynthesisTimeout time.Duration
	OpenTimeout      time.Duration
	EndTimeout       time.Duration
	// VADThreshold is the barge-in energy threshold in 8-bit amplitude units.
	VADThreshold float64
	// AudioEncoding of inbound frames: pcm8, mulaw or pcm16.
	AudioEncoding string
	OutputFormat  string
	STT           stt.Options
}

func DefaultConfig() Config {
	return Config{
		MaxDuration:      600 * time.Second,
		SilenceThreshold: 1500 * time.Millisecond,
		CreditsPerMinute: 10,
		TokenUnitSize:    1000,
		HistoryWindow:    10,
		TurnTimeout:      20 * time.Second,
		SynthesisTimeout: 30 * time.Second,
		OpenTimeout:      10 * time.Second,
		EndTimeout:       5 * time.Second,
		VADThreshold:     10,
		AudioEncoding:    EncodingPCM8,
		OutputFormat:     "ulaw_8000",
		STT: stt.Options{
			Language:       "en-US",
			EndpointingMs:  300,
			SampleRateHz:   8000,
			Encoding:       "MULAW",
			InterimResults: true,
		},
	}
}

// withDefaults fills zero durations and sizes from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxDuration <= 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = d.SilenceThreshold
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = d.HistoryWindow
	}
	if c.TokenUnitSize <= 0 {
		c.TokenUnitSize = d.TokenUnitSize
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = d.TurnTimeout
	}
	if c.SynthesisTimeout <= 0 {
		c.SynthesisTimeout = d.SynthesisTimeout
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.EndTimeout <= 0 {
		c.EndTimeout = d.EndTimeout
	}
	if c.AudioEncoding == "" {
		c.AudioEncoding = d.AudioEncoding
	}
	return c
}

// SilenceHook is called when the caller has been silent past the threshold.
// A non-empty return is spoken as a re-engagement prompt.
type SilenceHook func(v call.View) string

// Deps are the process-wide collaborators. STT and TTS may be nil: calls
// then run without recognition (degraded) or text-only. LLM is required for
// sessions to begin.
type Deps struct {
	STT       stt.Factory
	TTS       tts.Synthesizer
	LLM       llm.Generator
	Telephony telephony.Controller
	Sinks     []SummarySink
	Metrics   *metrics.Metrics
	Now       func() time.Time
	OnSilence SilenceHook
}

// Orchestrator owns the registry of live sessions.
type Orchestrator struct {
	cfg       Config
	sttNew    stt.Factory
	synth     tts.Synthesizer
	gen       llm.Generator
	phone     telephony.Controller
	sinks     []SummarySink
	metrics   *metrics.Metrics
	now       func() time.Time
	onSilence SilenceHook
	segments  *segment.Generator

	mu    sync.Mutex
	live  map[string]*liveSession
	ended *endedCache

	obsMu     sync.RWMutex
	observers map[int]Observer
	nextObs   int
}

func New(cfg Config, deps Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg.withDefaults(),
		sttNew:    deps.STT,
		synth:     deps.TTS,
		gen:       deps.LLM,
		phone:     deps.Telephony,
		sinks:     deps.Sinks,
		metrics:   deps.Metrics,
		now:       deps.Now,
		onSilence: deps.OnSilence,
		segments:  segment.New(),
		live:      make(map[string]*liveSession),
		ended:     newEndedCache(endedCacheSize),
		observers: make(map[int]Observer),
	}
	if o.phone == nil {
		o.phone = telephony.NopController{}
	}
	if o.metrics == nil {
		o.metrics = metrics.DefaultMetrics
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// BeginRequest identifies a call and the agent handling it.
type BeginRequest struct {
	CallID     string
	TenantID   string
	AgentID    string
	CampaignID string
	Agent      models.AgentConfig
	// Sink receives synthesized audio; nil discards it.
	Sink telephony.AudioSink
}

// BeginSession creates a session, opens its transcription stream and makes
// it ACTIVE. A transcription stream that cannot be opened leaves the session
// degraded rather than failing it. An empty CallID gets a local ID.
func (o *Orchestrator) BeginSession(ctx context.Context, req BeginRequest) (call.View, error) {
	if o.gen == nil {
		return call.View{}, ErrTurnGeneratorMissing
	}
	if req.CallID == "" {
		req.CallID = segment.NewCallID()
	}
	if req.Sink == nil {
		req.Sink = telephony.DiscardSink{}
	}

	sess := call.NewSession(call.Identity{
		CallID:     req.CallID,
		TenantID:   req.TenantID,
		AgentID:    req.AgentID,
		CampaignID: req.CampaignID,
	}, req.Agent, call.Policy{
		CreditsPerMinute: o.cfg.CreditsPerMinute,
		TokenUnitSize:    o.cfg.TokenUnitSize,
	}, o.now())
	ls := newLiveSession(sess, req.Sink, o.segments.Next(req.CallID))

	o.mu.Lock()
	if _, exists := o.live[req.CallID]; exists {
		o.mu.Unlock()
		ls.cancel()
		return call.View{}, fmt.Errorf("%w: %s", ErrAlreadyActive, req.CallID)
	}
	o.live[req.CallID] = ls
	o.ended.remove(req.CallID)
	o.mu.Unlock()
	o.metrics.RecordSessionStart()

	o.openTranscription(ctx, ls)

	if err := sess.Lifecycle().Activate(); err != nil {
		// ended while the stream was opening
		return sess.Snapshot(o.now()), fmt.Errorf("begin %s: %w", req.CallID, err)
	}

	callID := req.CallID
	ls.armWatchdog(o.cfg.MaxDuration-sess.Elapsed(o.now()), func() {
		o.EndSession(callID, ReasonMaxDuration)
	})
	go o.work(ls)

	ev := models.CallEvent{EventType: models.EventSessionStarted}
	if sess.Degraded() {
		ev.Reason = "degraded"
	}
	o.emit(ls, ev)
	ls.log.Info().
		Str("agentId", req.AgentID).
		Bool("degraded", sess.Degraded()).
		Msg("Session active")

	return sess.Snapshot(o.now()), nil
}

func (o *Orchestrator) openTranscription(ctx context.Context, ls *liveSession) {
	if o.sttNew == nil {
		ls.log.Warn().Msg("No transcription provider configured, running degraded")
		o.degrade(ls)
		return
	}

	adapter := o.sttNew()
	openCtx, cancel := context.WithTimeout(ctx, o.cfg.OpenTimeout)
	defer cancel()

	err := safeOpen(openCtx, adapter, o.cfg.STT, &transcriptCallback{o: o, ls: ls})
	if err != nil {
		ls.log.Warn().Err(err).Msg("Transcription stream unavailable, running degraded")
		o.metrics.RecordAdapterError("stt", "open")
		o.emit(ls, models.CallEvent{EventType: models.EventAdapterError, Source: "stt", Error: err.Error()})
		_ = adapter.Close()
		o.degrade(ls)
		return
	}
	if !ls.setAdapter(adapter) {
		// the session ended while Open was in flight
		_ = adapter.Close()
	}
}

func (o *Orchestrator) degrade(ls *liveSession) {
	ls.sess.SetDegraded()
	o.metrics.RecordDegraded()
}

func safeOpen(ctx context.Context, a stt.Adapter, opts stt.Options, cb stt.Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: open panic: %v", stt.ErrAdapterUnavailable, r)
		}
	}()
	return a.Open(ctx, opts, cb)
}

// SubmitInboundAudio processes one caller frame: metering, the duration
// ceiling, barge-in, the silence check and forwarding to transcription.
// Unknown or non-ACTIVE sessions ignore the frame.
func (o *Orchestrator) SubmitInboundAudio(callID string, frame models.AudioFrame) {
	ls := o.lookup(callID)
	if ls == nil {
		return
	}
	defer o.recoverPanic(ls, "audio")

	if o.ingest(ls, frame) {
		o.EndSession(callID, ReasonMaxDuration)
	}
}

// ingest reports whether the session reached its duration ceiling.
func (o *Orchestrator) ingest(ls *liveSession, frame models.AudioFrame) bool {
	ls.gate.RLock()
	defer ls.gate.RUnlock()
	if !ls.sess.State().AcceptsEvents() {
		return false
	}

	now := o.now()
	elapsed := ls.sess.Elapsed(now)
	o.metrics.RecordAudioReceived(len(frame))

	if delta := ls.sess.Meter().ChargeElapsed(elapsed); delta > 0 {
		o.metered(ls, "time", delta)
	}
	if elapsed >= o.cfg.MaxDuration {
		return true
	}

	if ls.sess.IsSpeaking() {
		if VoiceActivity(frame, o.cfg.AudioEncoding, o.cfg.VADThreshold) {
			o.bargeIn(ls)
		}
	} else if ls.sess.CheckSilence(now, o.cfg.SilenceThreshold) {
		o.silence(ls)
	}

	if a := ls.currentAdapter(); a != nil {
		if err := a.SubmitAudio(frame); err != nil && !errors.Is(err, stt.ErrNotConnected) {
			ls.log.Debug().Err(err).Msg("Transcription rejected frame")
		}
	}
	return false
}

// caller holds ls.gate
func (o *Orchestrator) bargeIn(ls *liveSession) {
	if !ls.sess.StopSpeaking() {
		return
	}
	if err := ls.sink.Clear(); err != nil {
		ls.log.Warn().Err(err).Msg("Failed to clear queued audio")
	}
	o.metrics.RecordBargeIn()
	o.emit(ls, models.CallEvent{EventType: models.EventBargeIn})
	ls.log.Info().Msg("Barge-in: caller interrupted agent")
}

// caller holds ls.gate
func (o *Orchestrator) silence(ls *liveSession) {
	o.metrics.RecordSilence()
	o.emit(ls, models.CallEvent{EventType: models.EventUserSilence})
	if o.onSilence == nil {
		return
	}
	prompt := strings.TrimSpace(o.onSilence(ls.sess.Snapshot(o.now())))
	if prompt == "" {
		return
	}
	ls.sess.AppendTurn(models.RoleAssistant, prompt)
	ls.sess.AddSummaryLine(agentLine(prompt))
	ls.enqueue(job{kind: jobPrompt, text: prompt})
}

// caller holds ls.gate
func (o *Orchestrator) metered(ls *liveSession, source string, delta int64) {
	o.metrics.RecordCredits(source, delta)
	o.emit(ls, models.CallEvent{
		EventType: models.EventMeteringDelta,
		Credits:   delta,
		Total:     ls.sess.Meter().Total(),
		Source:    source,
	})
}

// RequestGreeting speaks the agent's greeting as the opening line. It is
// allowed once, before the caller's first turn.
func (o *Orchestrator) RequestGreeting(callID string) error {
	ls := o.lookup(callID)
	if ls == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, callID)
	}

	ls.gate.RLock()
	defer ls.gate.RUnlock()

	if state := ls.sess.State(); !state.AcceptsEvents() {
		return fmt.Errorf("%w: session is %s", ErrGreetingNotAllowed, state)
	}
	greeting := strings.TrimSpace(ls.sess.Agent.Greeting)
	if greeting == "" {
		return fmt.Errorf("%w: agent has no greeting", ErrGreetingNotAllowed)
	}
	if ls.sess.HasUserTurns() || !ls.sess.ClaimGreeting() {
		return fmt.Errorf("%w: conversation already started", ErrGreetingNotAllowed)
	}

	ls.sess.AppendTurn(models.RoleAssistant, greeting)
	ls.sess.AddSummaryLine(agentLine(greeting))
	ls.enqueue(job{kind: jobGreeting, text: greeting})
	return nil
}

// EndSession terminates a call and returns its final stats. Ending a
// session that is already ending or ended returns the same stats. Only a
// call ID that was never seen (or has left the ended cache) is an error.
func (o *Orchestrator) EndSession(callID, reason string) (models.Stats, error) {
	ls := o.lookup(callID)
	if ls == nil {
		if st, ok := o.endedStats(callID); ok {
			return st, nil
		}
		return models.Stats{CallID: callID}, fmt.Errorf("%w: %s", ErrSessionNotFound, callID)
	}
	if reason == "" {
		reason = ReasonCompleted
	}

	ls.gate.Lock()
	first := ls.sess.Lifecycle().BeginEnding(reason)
	ls.gate.Unlock()

	if !first {
		select {
		case <-ls.done:
		case <-time.After(2 * o.cfg.EndTimeout):
			ls.log.Warn().Msg("Timed out waiting for concurrent termination")
		}
		return ls.finalStats(), nil
	}
	return o.finish(ls), nil
}

func (o *Orchestrator) finish(ls *liveSession) models.Stats {
	callID := ls.sess.CallID
	ls.stopWatchdog()
	ls.sess.StopSpeaking()
	ls.cancel()
	o.releaseTranscription(ls)

	endedAt := o.now()
	if delta := ls.sess.Meter().ChargeElapsed(ls.sess.Elapsed(endedAt)); delta > 0 {
		o.metered(ls, "time", delta)
	}
	summary := ls.sess.Summary(endedAt)
	stats := summary.Stats(ls.sess.Transcript())

	if err := ls.sess.Lifecycle().Finish(); err != nil {
		ls.log.Warn().Err(err).Msg("Unexpected lifecycle state at finish")
	}
	o.endCall(ls)

	o.mu.Lock()
	if o.live[callID] == ls {
		delete(o.live, callID)
	}
	o.ended.put(callID, stats)
	o.mu.Unlock()
	ls.complete(stats)

	o.metrics.RecordSessionEnd(summary.Reason, summary.DurationSec)
	o.emit(ls, models.CallEvent{
		EventType: models.EventSessionEnded,
		Reason:    summary.Reason,
		Total:     summary.CreditsUsed,
	})
	ls.log.Info().
		Str("reason", summary.Reason).
		Float64("durationSec", summary.DurationSec).
		Int64("creditsUsed", summary.CreditsUsed).
		Int("turns", len(summary.History)).
		Msg("Session ended")

	o.handOff(ls, summary)
	return stats
}

func (o *Orchestrator) releaseTranscription(ls *liveSession) {
	a := ls.releaseAdapter()
	if a == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			ls.log.Error().Interface("panic", r).Msg("Transcription close panicked")
		}
	}()
	if err := a.Close(); err != nil {
		ls.log.Warn().Err(err).Msg("Transcription close failed")
	}
}

func (o *Orchestrator) endCall(ls *liveSession) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.EndTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			ls.log.Error().Interface("panic", r).Msg("Telephony end call panicked")
		}
	}()

	err := o.phone.EndCall(ctx, ls.sess.CallID)
	switch {
	case err == nil:
	case errors.Is(err, telephony.ErrCallNotActive):
		ls.log.Debug().Msg("Call already ended on carrier side")
	default:
		ls.log.Warn().Err(err).Msg("Failed to end call on carrier side")
		o.metrics.RecordAdapterError("telephony", "end_call")
	}
}

func (o *Orchestrator) handOff(ls *liveSession, summary models.SessionSummary) {
	for _, sink := range o.sinks {
		func() {
			ctx, cancel := context.WithTimeout(context.Background(), o.cfg.EndTimeout)
			defer cancel()
			defer func() {
				if r := recover(); r != nil {
					ls.log.Error().Interface("panic", r).Msg("Summary sink panicked")
				}
			}()
			if err := sink.SaveSummary(ctx, summary); err != nil {
				ls.log.Warn().Err(err).Msg("Summary sink failed")
			}
		}()
	}
}

// Snapshot returns a view of a live session.
func (o *Orchestrator) Snapshot(callID string) (call.View, bool) {
	ls := o.lookup(callID)
	if ls == nil {
		return call.View{}, false
	}
	return ls.sess.Snapshot(o.now()), true
}

// Live returns views of every live session ordered by start time.
func (o *Orchestrator) Live() []call.View {
	o.mu.Lock()
	sessions := make([]*liveSession, 0, len(o.live))
	for _, ls := range o.live {
		sessions = append(sessions, ls)
	}
	o.mu.Unlock()

	now := o.now()
	views := make([]call.View, 0, len(sessions))
	for _, ls := range sessions {
		views = append(views, ls.sess.Snapshot(now))
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].StartedAt.Equal(views[j].StartedAt) {
			return views[i].CallID < views[j].CallID
		}
		return views[i].StartedAt.Before(views[j].StartedAt)
	})
	return views
}

// SetOutcome tags a live session with a terminal outcome.
func (o *Orchestrator) SetOutcome(callID, tag string) error {
	ls := o.lookup(callID)
	if ls == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, callID)
	}
	ls.sess.SetOutcome(tag)
	return nil
}

// Shutdown ends every live session.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	ids := make([]string, 0, len(o.live))
	for id := range o.live {
		ids = append(ids, id)
	}
	o.mu.Unlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.EndSession(id, ReasonShutdown)
	}
	return nil
}

func (o *Orchestrator) lookup(callID string) *liveSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.live[callID]
}

func (o *Orchestrator) endedStats(callID string) (models.Stats, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ended.get(callID)
}

func (o *Orchestrator) recoverPanic(ls *liveSession, where string) {
	if r := recover(); r != nil {
		ls.log.Error().Interface("panic", r).Str("where", where).Msg("Recovered panic in session")
	}
}

func agentLine(text string) string { return "Agent: " + text }
func userLine(text string) string  { return "User: " + text }
