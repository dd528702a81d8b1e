package models

import "time"

// EventType names a telemetry event emitted by the orchestrator.
type EventType string

const (
	EventSessionStarted       EventType = "session.started"
	EventUserSpeaking         EventType = "user.speaking"
	EventTranscriptPartial    EventType = "user.transcript.partial"
	EventTranscriptFinal      EventType = "user.transcript.final"
	EventUserSilence          EventType = "user.silence"
	EventAgentSpeakingStart   EventType = "agent.speaking.start"
	EventAgentSpeakingEnd     EventType = "agent.speaking.end"
	EventBargeIn              EventType = "barge_in"
	EventMeteringDelta        EventType = "metering.delta"
	EventAdapterError         EventType = "adapter.error"
	EventSynthesisUnavailable EventType = "synthesis.unavailable"
	EventSessionEnded         EventType = "session.ended"
)

// CallEvent is the informational telemetry record published for the UI and
// observability layers. None of it is required for the orchestrator to work.
type CallEvent struct {
	EventType  EventType `json:"eventType"`
	CallID     string    `json:"callId"`
	TenantID   string    `json:"tenantId"`
	AgentID    string    `json:"agentId"`
	CampaignID string    `json:"campaignId,omitempty"`
	SegmentID  string    `json:"segmentId,omitempty"`
	Timestamp  int64     `json:"timestamp"`
	Text       string    `json:"text,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Credits    int64     `json:"credits,omitempty"`
	Total      int64     `json:"totalCredits,omitempty"`
	Source     string    `json:"source,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Stats is returned by every session termination.
type Stats struct {
	CallID            string  `json:"callId"`
	Reason            string  `json:"reason,omitempty"`
	DurationSec       float64 `json:"durationSec"`
	CreditsUsed       int64   `json:"creditsUsed"`
	TranscriptSummary string  `json:"transcriptSummary"`
}

// SessionSummary is handed to the persistence collaborators once a session
// has ended.
type SessionSummary struct {
	CallID       string    `json:"callId"`
	TenantID     string    `json:"tenantId"`
	AgentID      string    `json:"agentId"`
	CampaignID   string    `json:"campaignId,omitempty"`
	Reason       string    `json:"reason"`
	Outcome      string    `json:"outcome,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	EndedAt      time.Time `json:"endedAt"`
	DurationSec  float64   `json:"durationSec"`
	CreditsUsed  int64     `json:"creditsUsed"`
	SummaryLines []string  `json:"summaryLines"`
	History      []Turn    `json:"history"`
	Degraded     bool      `json:"degraded"`
}

// Stats projects the summary onto the termination result.
func (s SessionSummary) Stats(joined string) Stats {
	return Stats{
		CallID:            s.CallID,
		Reason:            s.Reason,
		DurationSec:       s.DurationSec,
		CreditsUsed:       s.CreditsUsed,
		TranscriptSummary: joined,
	}
}
