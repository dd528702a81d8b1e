package models

import (
	"fmt"
	"strings"
)

// LatencyPreference trades synthesis quality for first-byte latency.
type LatencyPreference string

const (
	LatencyFast     LatencyPreference = "FAST"
	LatencyBalanced LatencyPreference = "BALANCED"
	LatencyNatural  LatencyPreference = "NATURAL"
)

// ParseLatencyPreference maps a free-form value to a preference, defaulting to BALANCED.
func ParseLatencyPreference(s string) LatencyPreference {
	switch LatencyPreference(strings.ToUpper(strings.TrimSpace(s))) {
	case LatencyFast:
		return LatencyFast
	case LatencyNatural:
		return LatencyNatural
	default:
		return LatencyBalanced
	}
}

// OptimizationLevel returns the synthesis latency optimization level (0-4,
// higher is faster).
func (l LatencyPreference) OptimizationLevel() int {
	switch l {
	case LatencyFast:
		return 3
	case LatencyNatural:
		return 0
	default:
		return 2
	}
}

// SafetyRules are the boolean guard rails applied to every generated turn.
type SafetyRules struct {
	NoLegalAdvice        bool `json:"noLegalAdvice"`
	NoMedicalAdvice      bool `json:"noMedicalAdvice"`
	ConfirmBeforeBooking bool `json:"confirmBeforeBooking"`
	HandoffOnConfusion   bool `json:"handoffOnConfusion"`
}

// Lines renders the enabled rules as instructions.
func (r SafetyRules) Lines() []string {
	var out []string
	if r.NoLegalAdvice {
		out = append(out, "Never give legal advice; suggest consulting a qualified lawyer instead.")
	}
	if r.NoMedicalAdvice {
		out = append(out, "Never give medical advice; suggest consulting a medical professional instead.")
	}
	if r.ConfirmBeforeBooking {
		out = append(out, "Always confirm the details with the caller before booking anything.")
	}
	if r.HandoffOnConfusion {
		out = append(out, "If the caller seems confused or asks for a person, offer to transfer them to a human.")
	}
	return out
}

// AgentConfig is the snapshot of agent settings taken when a session begins.
type AgentConfig struct {
	Name         string            `json:"name"`
	Language     string            `json:"language"`
	Instructions string            `json:"instructions"`
	Greeting     string            `json:"greeting"`
	Fallback     string            `json:"fallback"`
	VoiceID      string            `json:"voiceId"`
	Latency      LatencyPreference `json:"latency"`
	Safety       SafetyRules       `json:"safety"`
}

// SystemPrompt renders the system turn that opens every dialogue history.
func (c AgentConfig) SystemPrompt() string {
	var b strings.Builder
	name := c.Name
	if name == "" {
		name = "an AI phone agent"
	}
	fmt.Fprintf(&b, "You are %s on a live phone call. Keep replies short and speakable; no markdown.", name)
	if c.Language != "" {
		fmt.Fprintf(&b, " Reply in %s.", c.Language)
	}
	if s := strings.TrimSpace(c.Instructions); s != "" {
		b.WriteString("\n")
		b.WriteString(s)
	}
	for _, line := range c.Safety.Lines() {
		b.WriteString("\n- ")
		b.WriteString(line)
	}
	return b.String()
}
