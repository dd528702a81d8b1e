package call

import (
	"strings"
	"sync"
	"time"

	"ai-call-orchestrator-service/internal/models"
)

// Identity names the participants of a call.
type Identity struct {
	CallID     string `json:"callId"`
	TenantID   string `json:"tenantId"`
	AgentID    string `json:"agentId"`
	CampaignID string `json:"campaignId,omitempty"`
}

// Policy is the metering configuration a session is created with.
type Policy struct {
	CreditsPerMinute int64
	TokenUnitSize    int64
}

// Session is the in-memory record of one phone call's conversation.
// All fields are guarded by mu; the lifecycle and meter carry their own locks.
type Session struct {
	Identity
	Agent     models.AgentConfig
	StartedAt time.Time

	lifecycle *Lifecycle
	meter     *Meter

	mu             sync.Mutex
	history        []models.Turn
	isListening    bool
	isSpeaking     bool
	silenceStart   time.Time
	lastUserSpeech time.Time
	summaryLines   []string
	outcome        string
	degraded       bool
	greeted        bool
}

// NewSession creates a session in INITIALIZING with the system turn as the
// first history entry.
func NewSession(id Identity, agent models.AgentConfig, policy Policy, now time.Time) *Session {
	return &Session{
		Identity:  id,
		Agent:     agent,
		StartedAt: now,
		lifecycle: NewLifecycle(),
		meter:     NewMeter(policy.CreditsPerMinute, policy.TokenUnitSize),
		history: []models.Turn{
			{Role: models.RoleSystem, Content: agent.SystemPrompt()},
		},
	}
}

func (s *Session) Lifecycle() *Lifecycle { return s.lifecycle }
func (s *Session) Meter() *Meter         { return s.meter }

// State is shorthand for Lifecycle().State().
func (s *Session) State() State { return s.lifecycle.State() }

// Elapsed returns the wall-clock time since the session started.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if now.Before(s.StartedAt) {
		return 0
	}
	return now.Sub(s.StartedAt)
}

// AppendTurn adds a turn to the end of the history.
func (s *Session) AppendTurn(role models.Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, models.Turn{Role: role, Content: content})
}

// History returns a copy of the full history.
func (s *Session) History() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.Window(s.history, len(s.history))
}

// Window returns a copy of the most recent n history entries.
func (s *Session) Window(n int) []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.Window(s.history, n)
}

// MarkUserSpeech records transcript activity: the caller is talking.
func (s *Session) MarkUserSpeech(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUserSpeech = now
	s.silenceStart = time.Time{}
	s.isListening = true
}

// MarkUtteranceEnd records the end of caller speech and starts the silence clock.
func (s *Session) MarkUtteranceEnd(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isListening = false
	s.silenceStart = now
}

// CheckSilence reports whether the caller has been silent for at least
// threshold while the agent is not speaking. Crossing it clears the marker,
// so it fires once per silence.
func (s *Session) CheckSilence(now time.Time, threshold time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isSpeaking || s.silenceStart.IsZero() {
		return false
	}
	if now.Sub(s.silenceStart) < threshold {
		return false
	}
	s.silenceStart = time.Time{}
	return true
}

// StartSpeaking sets isSpeaking.
func (s *Session) StartSpeaking() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isSpeaking = true
}

// StopSpeaking clears isSpeaking and reports whether it was set.
func (s *Session) StopSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.isSpeaking
	s.isSpeaking = false
	return was
}

func (s *Session) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isSpeaking
}

func (s *Session) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isListening
}

// SilenceStart returns the last end-of-speech time, zero if absent.
func (s *Session) SilenceStart() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.silenceStart
}

// AddSummaryLine appends a line to the outcome transcript summary.
func (s *Session) AddSummaryLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaryLines = append(s.summaryLines, line)
}

// SummaryLines returns a copy of the summary lines.
func (s *Session) SummaryLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.summaryLines...)
}

// Transcript joins the summary lines, one per line.
func (s *Session) Transcript() string {
	return strings.Join(s.SummaryLines(), "\n")
}

// SetOutcome records a terminal outcome tag (e.g. "booked", "voicemail").
func (s *Session) SetOutcome(tag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome = tag
}

func (s *Session) Outcome() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// SetDegraded marks the session as running without speech recognition.
func (s *Session) SetDegraded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degraded = true
}

func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// ClaimGreeting returns true the first time it is called and false after.
func (s *Session) ClaimGreeting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.greeted {
		return false
	}
	s.greeted = true
	return true
}

// HasUserTurns reports whether any caller turn has been recorded.
func (s *Session) HasUserTurns() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.history {
		if t.Role == models.RoleUser {
			return true
		}
	}
	return false
}

// View is a read-only snapshot of a session.
type View struct {
	Identity
	State        string    `json:"state"`
	AgentName    string    `json:"agentName"`
	StartedAt    time.Time `json:"startedAt"`
	ElapsedSec   float64   `json:"elapsedSec"`
	CreditsUsed  int64     `json:"creditsUsed"`
	Turns        int       `json:"turns"`
	IsListening  bool      `json:"isListening"`
	IsSpeaking   bool      `json:"isSpeaking"`
	Degraded     bool      `json:"degraded"`
	Outcome      string    `json:"outcome,omitempty"`
	SummaryLines []string  `json:"summaryLines"`
}

// Snapshot builds a View at now.
func (s *Session) Snapshot(now time.Time) View {
	state := s.lifecycle.State()
	credits := s.meter.Total()

	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		Identity:     s.Identity,
		State:        state.String(),
		AgentName:    s.Agent.Name,
		StartedAt:    s.StartedAt,
		ElapsedSec:   s.Elapsed(now).Seconds(),
		CreditsUsed:  credits,
		Turns:        len(s.history),
		IsListening:  s.isListening,
		IsSpeaking:   s.isSpeaking,
		Degraded:     s.degraded,
		Outcome:      s.outcome,
		SummaryLines: append([]string(nil), s.summaryLines...),
	}
}

// Summary builds the hand-off record for a session that has finished ending.
func (s *Session) Summary(endedAt time.Time) models.SessionSummary {
	reason := s.lifecycle.Reason()
	credits := s.meter.Total()

	s.mu.Lock()
	defer s.mu.Unlock()
	return models.SessionSummary{
		CallID:       s.CallID,
		TenantID:     s.TenantID,
		AgentID:      s.AgentID,
		CampaignID:   s.CampaignID,
		Reason:       reason,
		Outcome:      s.outcome,
		StartedAt:    s.StartedAt,
		EndedAt:      endedAt,
		DurationSec:  s.Elapsed(endedAt).Seconds(),
		CreditsUsed:  credits,
		SummaryLines: append([]string(nil), s.summaryLines...),
		History:      models.Window(s.history, len(s.history)),
		Degraded:     s.degraded,
	}
}
