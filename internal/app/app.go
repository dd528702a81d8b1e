package app

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-call-orchestrator-service/internal/config"
	"ai-call-orchestrator-service/internal/observability/logging"
)

const serviceName = "ai-call-orchestrator-service"

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	ready atomic.Bool
}

// New constructs a new Application from the provided configuration and
// configures the global logger.
func New(cfg *config.Configuration) *Application {
	a := &Application{
		Cfg: cfg,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().Msg("Call orchestrator application created")
	return a
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	format := a.Cfg.Observability.LogFormat
	if a.Cfg.Service.Env == "dev" {
		format = "console"
	}
	logging.Init(logging.Config{
		Level:      a.Cfg.Observability.LogLevel,
		Format:     format,
		TimeFormat: time.RFC3339,
	})

	a.Logger = logging.Logger().With().
		Str("service", serviceName).
		Str("component", "application").
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", a.Cfg.Service.Env).
		Msg("Logger setup completed")
}

// Start marks the application ready to serve traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Call orchestrator starting")

	return nil
}

// Ready reports whether the application accepts new calls.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Shutdown stops accepting new calls.
func (a *Application) Shutdown() {
	a.ready.Store(false)
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().
		Dur("uptime", time.Since(a.StartupTime)).
		Msg("Call orchestrator shutting down")
}
