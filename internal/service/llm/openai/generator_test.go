package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/service/llm"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, llm.ErrGeneratorUnavailable) {
		t.Fatalf("expected ErrGeneratorUnavailable, got %v", err)
	}
}

func TestGenerate(t *testing.T) {
	var got chatCompletionsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"We open at nine."}}],"usage":{"total_tokens":2500}}`))
	}))
	defer srv.Close()

	g, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "test-model"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	history := []models.Turn{
		{Role: models.RoleSystem, Content: "be brief"},
		{Role: models.RoleAssistant, Content: "Hi"},
		{Role: models.RoleUser, Content: "What are your hours?"},
	}
	res, err := g.Generate(context.Background(), history, "What are your hours?", models.AgentConfig{})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if res.Text != "We open at nine." || res.ResourceUnits != 2500 {
		t.Errorf("unexpected result %+v", res)
	}

	if got.Model != "test-model" {
		t.Errorf("expected model test-model, got %q", got.Model)
	}
	wantRoles := []string{"system", "assistant", "user"}
	if len(got.Messages) != len(wantRoles) {
		t.Fatalf("expected %d messages, got %d", len(wantRoles), len(got.Messages))
	}
	for i, role := range wantRoles {
		if got.Messages[i].Role != role {
			t.Errorf("message %d: expected role %s, got %s", i, role, got.Messages[i].Role)
		}
	}
}

func TestGenerate_HTTPErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		unavailable bool
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`, unavailable: true},
		{name: "server error", status: http.StatusInternalServerError, body: `boom`},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`},
		{name: "bad json", status: http.StatusOK, body: `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			g, _ := New(Config{APIKey: "k", BaseURL: srv.URL})
			_, err := g.Generate(context.Background(), nil, "hello", models.AgentConfig{})
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, llm.ErrGeneratorUnavailable) != tt.unavailable {
				t.Errorf("unavailable = %v, want %v (err %v)", !tt.unavailable, tt.unavailable, err)
			}
		})
	}
}
