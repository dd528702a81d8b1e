// Package mock provides a scripted turn generator for tests and local runs.
package mock

import (
	"context"
	"fmt"
	"sync"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/service/llm"
)

// Call records one Generate invocation.
type Call struct {
	History []models.Turn
	Latest  string
}

// Generator replies with Replies in order, then echoes the caller.
type Generator struct {
	Replies []string
	Units   int64
	Err     error
	// Block, when set, makes Generate wait for ctx cancellation.
	Block bool

	mu    sync.Mutex
	calls []Call
}

func New(replies ...string) *Generator {
	return &Generator{Replies: replies, Units: 100}
}

func (g *Generator) Name() string { return "mock" }

func (g *Generator) Generate(ctx context.Context, history []models.Turn, latest string, _ models.AgentConfig) (llm.Result, error) {
	g.mu.Lock()
	h := make([]models.Turn, len(history))
	copy(h, history)
	g.calls = append(g.calls, Call{History: h, Latest: latest})
	n := len(g.calls)
	block, err := g.Block, g.Err
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return llm.Result{}, ctx.Err()
	}
	if err != nil {
		return llm.Result{}, err
	}
	if n <= len(g.Replies) {
		return llm.Result{Text: g.Replies[n-1], ResourceUnits: g.Units}, nil
	}
	return llm.Result{Text: fmt.Sprintf("You said: %s", latest), ResourceUnits: g.Units}, nil
}

// Calls returns a copy of the recorded invocations.
func (g *Generator) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}
