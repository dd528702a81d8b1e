// Package llm defines the turn generator contract: dialogue history in, the
// agent's next utterance and its resource consumption out.
package llm

import (
	"context"
	"errors"

	"ai-call-orchestrator-service/internal/models"
)

// ErrGeneratorUnavailable - no provider configured or credentials missing.
var ErrGeneratorUnavailable = errors.New("turn generator unavailable")

// Result is one generated agent utterance.
type Result struct {
	Text string
	// ResourceUnits is the provider-reported consumption (tokens).
	ResourceUnits int64
}

// Generator produces the next agent utterance. history is the bounded
// window, oldest first; it ends with the latest user turn.
type Generator interface {
	Name() string
	Generate(ctx context.Context, history []models.Turn, latest string, agent models.AgentConfig) (Result, error)
}

// Prompt splits a window into the system instruction and the dialogue turns.
// When the window no longer holds the system turn, the agent's rendered
// system prompt is used. latest is appended if the window does not already
// end with it.
func Prompt(history []models.Turn, latest string, agent models.AgentConfig) (string, []models.Turn) {
	system := ""
	dialogue := make([]models.Turn, 0, len(history)+1)
	for _, t := range history {
		if t.Role == models.RoleSystem {
			if system == "" {
				system = t.Content
			}
			continue
		}
		dialogue = append(dialogue, t)
	}
	if system == "" {
		system = agent.SystemPrompt()
	}
	if latest != "" {
		n := len(dialogue)
		if n == 0 || dialogue[n-1].Role != models.RoleUser || dialogue[n-1].Content != latest {
			dialogue = append(dialogue, models.Turn{Role: models.RoleUser, Content: latest})
		}
	}
	return system, dialogue
}
