package http

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/service/call"
	"ai-call-orchestrator-service/internal/service/orchestrator"
	"ai-call-orchestrator-service/internal/service/telephony/twilio"
)

// Sessions is the part of the orchestrator a media stream drives.
type Sessions interface {
	BeginSession(ctx context.Context, req orchestrator.BeginRequest) (call.View, error)
	RequestGreeting(callID string) error
	SubmitInboundAudio(callID string, frame models.AudioFrame)
	EndSession(callID, reason string) (models.Stats, error)
}

// MediaHandler maps a Twilio media stream onto one orchestrator session:
// start begins it and greets, media feeds it, stop ends it.
type MediaHandler struct {
	sessions Sessions
	agentID  string
	agent    models.AgentConfig

	mu    sync.Mutex
	sinks map[string]*twilio.MediaSink
}

var _ twilio.Handler = (*MediaHandler)(nil)

func NewMediaHandler(sessions Sessions, agentID string, agent models.AgentConfig) *MediaHandler {
	return &MediaHandler{
		sessions: sessions,
		agentID:  agentID,
		agent:    agent,
		sinks:    make(map[string]*twilio.MediaSink),
	}
}

// OnStart begins the session. Custom stream parameters tenantId, agentId and
// campaignId override the defaults.
func (h *MediaHandler) OnStart(ctx context.Context, start twilio.Start, sink *twilio.MediaSink) error {
	req := orchestrator.BeginRequest{
		CallID:     start.CallSid,
		TenantID:   start.Parameters["tenantId"],
		AgentID:    h.agentID,
		CampaignID: start.Parameters["campaignId"],
		Agent:      h.agent,
		Sink:       sink,
	}
	if id := start.Parameters["agentId"]; id != "" {
		req.AgentID = id
	}

	if _, err := h.sessions.BeginSession(ctx, req); err != nil {
		return err
	}
	h.mu.Lock()
	h.sinks[start.CallSid] = sink
	h.mu.Unlock()

	if err := h.sessions.RequestGreeting(start.CallSid); err != nil && !errors.Is(err, orchestrator.ErrGreetingNotAllowed) {
		log.Warn().Err(err).Str("callId", start.CallSid).Msg("Greeting failed")
	}
	return nil
}

func (h *MediaHandler) OnMedia(callSid string, frame models.AudioFrame) {
	h.sessions.SubmitInboundAudio(callSid, frame)
}

func (h *MediaHandler) OnStop(callSid string) {
	stats, err := h.sessions.EndSession(callSid, orchestrator.ReasonCompleted)
	if err != nil {
		log.Warn().Err(err).Str("callId", callSid).Msg("Media stream stopped for unknown session")
	} else {
		log.Info().
			Str("callId", callSid).
			Str("reason", stats.Reason).
			Int64("creditsUsed", stats.CreditsUsed).
			Msg("Media stream stopped")
	}

	h.mu.Lock()
	sink := h.sinks[callSid]
	delete(h.sinks, callSid)
	h.mu.Unlock()
	if sink != nil {
		sink.Close()
	}
}
