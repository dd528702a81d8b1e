package app

import (
	"testing"

	"ai-call-orchestrator-service/internal/config"
)

func TestApplication_Readiness(t *testing.T) {
	cfg := &config.Configuration{}
	cfg.Observability.LogLevel = "error"

	a := New(cfg)
	if a.Ready() {
		t.Fatal("application must not be ready before Start")
	}
	if err := a.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !a.Ready() || a.StartupTime.IsZero() {
		t.Error("expected ready application with a startup time")
	}
	a.Shutdown()
	if a.Ready() {
		t.Error("application must not be ready after Shutdown")
	}
}
