// Package gemini provides a Gemini turn generator built on google.golang.org/genai.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/service/llm"
)

const defaultModel = "gemini-2.5-flash"

// contentGenerator is the slice of genai.Models the generator needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Generator implements llm.Generator.
type Generator struct {
	models    contentGenerator
	model     string
	maxTokens int32
}

// New creates the genai client. An empty key is a setup error.
func New(ctx context.Context, apiKey, model string) (*Generator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: gemini api key missing", llm.ErrGeneratorUnavailable)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrGeneratorUnavailable, err)
	}
	return newGenerator(client.Models, model), nil
}

func newGenerator(m contentGenerator, model string) *Generator {
	if model == "" {
		model = defaultModel
	}
	return &Generator{models: m, model: model, maxTokens: 256}
}

func (g *Generator) Name() string { return "gemini" }

// Generate sends the window as contents with the system prompt as the
// system instruction. Assistant turns map to the model role.
func (g *Generator) Generate(ctx context.Context, history []models.Turn, latest string, agent models.AgentConfig) (llm.Result, error) {
	system, dialogue := llm.Prompt(history, latest, agent)

	contents := make([]*genai.Content, 0, len(dialogue))
	for _, t := range dialogue {
		var role genai.Role = genai.RoleUser
		if t.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		MaxOutputTokens:   g.maxTokens,
	})
	if err != nil {
		return llm.Result{}, fmt.Errorf("gemini generate: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return llm.Result{}, fmt.Errorf("gemini: empty response")
	}

	var units int64
	if resp.UsageMetadata != nil {
		units = int64(resp.UsageMetadata.TotalTokenCount)
	}
	return llm.Result{Text: text, ResourceUnits: units}, nil
}
