// Package openai provides a turn generator for OpenAI-compatible chat
// completion endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/service/llm"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
)

type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

type Generator struct {
	cfg    Config
	client *http.Client
}

func New(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key missing", llm.ErrGeneratorUnavailable)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	return &Generator{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (g *Generator) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatCompletionsResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (g *Generator) Generate(ctx context.Context, history []models.Turn, latest string, agent models.AgentConfig) (llm.Result, error) {
	system, dialogue := llm.Prompt(history, latest, agent)

	msgs := make([]chatMessage, 0, len(dialogue)+1)
	msgs = append(msgs, chatMessage{Role: string(models.RoleSystem), Content: system})
	for _, t := range dialogue {
		msgs = append(msgs, chatMessage{Role: string(t.Role), Content: t.Content})
	}

	body, err := json.Marshal(chatCompletionsRequest{
		Model:     g.cfg.Model,
		Messages:  msgs,
		MaxTokens: g.cfg.MaxTokens,
	})
	if err != nil {
		return llm.Result{}, err
	}

	url := strings.TrimRight(g.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return llm.Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return llm.Result{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return llm.Result{}, fmt.Errorf("%w: status %d", llm.ErrGeneratorUnavailable, resp.StatusCode)
		}
		return llm.Result{}, fmt.Errorf("openai status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out chatCompletionsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return llm.Result{}, fmt.Errorf("openai decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return llm.Result{}, fmt.Errorf("openai: no choices")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return llm.Result{}, fmt.Errorf("openai: empty response")
	}
	return llm.Result{Text: text, ResourceUnits: out.Usage.TotalTokens}, nil
}
