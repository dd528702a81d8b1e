package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ai-call-orchestrator-service/internal/app"
	"ai-call-orchestrator-service/internal/config"
	"ai-call-orchestrator-service/internal/models"
	"ai-call-orchestrator-service/internal/service/call"
	"ai-call-orchestrator-service/internal/service/orchestrator"
)

type fakeCalls struct {
	live    []call.View
	ended   []string
	reasons []string
}

func (f *fakeCalls) Live() []call.View { return f.live }

func (f *fakeCalls) Snapshot(callID string) (call.View, bool) {
	for _, v := range f.live {
		if v.CallID == callID {
			return v, true
		}
	}
	return call.View{}, false
}

func (f *fakeCalls) EndSession(callID, reason string) (models.Stats, error) {
	if _, ok := f.Snapshot(callID); !ok {
		return models.Stats{}, fmt.Errorf("%w: %s", orchestrator.ErrSessionNotFound, callID)
	}
	f.ended = append(f.ended, callID)
	f.reasons = append(f.reasons, reason)
	return models.Stats{CallID: callID, Reason: reason, CreditsUsed: 10}, nil
}

func newTestApp(t *testing.T, ready bool) *app.Application {
	t.Helper()
	cfg := &config.Configuration{}
	cfg.Observability.LogLevel = "error"
	a := app.New(cfg)
	if ready {
		_ = a.Start()
	}
	return a
}

func TestRouter_Health(t *testing.T) {
	tests := []struct {
		name   string
		ready  bool
		path   string
		status int
	}{
		{"liveness", false, "/healthz", http.StatusOK},
		{"ready", true, "/readyz", http.StatusOK},
		{"not ready", false, "/readyz", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(newTestApp(t, tt.ready), Options{})
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
		})
	}
}

func TestRouter_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	r := NewRouter(nil, Options{Metrics: metrics})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "# metrics" {
		t.Errorf("unexpected metrics response %d %q", rec.Code, rec.Body.String())
	}
}

func TestRouter_Calls(t *testing.T) {
	calls := &fakeCalls{live: []call.View{
		{Identity: call.Identity{CallID: "call-1", TenantID: "tenant-A"}, State: "ACTIVE"},
		{Identity: call.Identity{CallID: "call-2", TenantID: "tenant-B"}, State: "ACTIVE"},
	}}
	r := NewRouter(nil, Options{Calls: calls})

	t.Run("list", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/calls", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var body struct {
			Calls []call.View `json:"calls"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Calls) != 2 || body.Calls[0].CallID != "call-1" {
			t.Errorf("unexpected calls %+v", body.Calls)
		}
	})

	t.Run("get", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/calls/call-2", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var v call.View
		_ = json.NewDecoder(rec.Body).Decode(&v)
		if v.TenantID != "tenant-B" {
			t.Errorf("unexpected view %+v", v)
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/calls/nope", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("end", func(t *testing.T) {
		tests := []struct {
			name   string
			callID string
			body   string
			status int
			reason string
		}{
			{"default reason", "call-1", "", http.StatusOK, "admin_request"},
			{"explicit reason", "call-2", `{"reason":"operator_hangup"}`, http.StatusOK, "operator_hangup"},
			{"bad body", "call-1", `{`, http.StatusBadRequest, ""},
			{"unknown", "nope", "", http.StatusNotFound, ""},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				before := len(calls.reasons)
				req := httptest.NewRequest(http.MethodPost, "/v1/calls/"+tt.callID+"/end", strings.NewReader(tt.body))
				rec := httptest.NewRecorder()
				r.ServeHTTP(rec, req)
				if rec.Code != tt.status {
					t.Fatalf("expected %d, got %d", tt.status, rec.Code)
				}
				if tt.reason == "" {
					return
				}
				if len(calls.reasons) != before+1 || calls.reasons[before] != tt.reason {
					t.Errorf("expected reason %q, got %v", tt.reason, calls.reasons)
				}
				var st models.Stats
				_ = json.NewDecoder(rec.Body).Decode(&st)
				if st.CallID != tt.callID {
					t.Errorf("unexpected stats %+v", st)
				}
			})
		}
	})
}
