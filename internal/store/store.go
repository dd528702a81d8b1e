// Package store persists session summaries in Postgres.
package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"

	"ai-call-orchestrator-service/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

var ErrNotFound = errors.New("summary not found")

// querier is the subset of pgxpool.Pool the store uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store writes and reads call summaries.
type Store struct {
	db   querier
	pool *pgxpool.Pool
}

// Open connects to databaseURL, checks the connection and applies pending
// migrations.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: pool, pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info().
		Str("host", cfg.ConnConfig.Host).
		Str("database", cfg.ConnConfig.Database).
		Msg("Summary store ready")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	dir, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, dir)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	for _, r := range results {
		log.Info().
			Str("migration", r.Source.Path).
			Dur("duration", r.Duration).
			Msg("Applied migration")
	}
	return nil
}

const upsertSummary = `
INSERT INTO call_summaries (
    call_id, tenant_id, agent_id, campaign_id, reason, outcome,
    started_at, ended_at, duration_sec, credits_used, degraded,
    summary_lines, history
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (call_id) DO UPDATE SET
    reason = EXCLUDED.reason,
    outcome = EXCLUDED.outcome,
    ended_at = EXCLUDED.ended_at,
    duration_sec = EXCLUDED.duration_sec,
    credits_used = EXCLUDED.credits_used,
    degraded = EXCLUDED.degraded,
    summary_lines = EXCLUDED.summary_lines,
    history = EXCLUDED.history`

// SaveSummary upserts the summary keyed by call ID.
func (s *Store) SaveSummary(ctx context.Context, sum models.SessionSummary) error {
	lines, err := json.Marshal(nonNil(sum.SummaryLines))
	if err != nil {
		return err
	}
	history := sum.History
	if history == nil {
		history = []models.Turn{}
	}
	turns, err := json.Marshal(history)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, upsertSummary,
		sum.CallID, sum.TenantID, sum.AgentID, sum.CampaignID, sum.Reason, sum.Outcome,
		sum.StartedAt, sum.EndedAt, sum.DurationSec, sum.CreditsUsed, sum.Degraded,
		lines, turns,
	)
	if err != nil {
		return fmt.Errorf("save summary %s: %w", sum.CallID, err)
	}
	return nil
}

const selectSummary = `
SELECT call_id, tenant_id, agent_id, campaign_id, reason, outcome,
       started_at, ended_at, duration_sec, credits_used, degraded,
       summary_lines, history
FROM call_summaries WHERE call_id = $1`

// Summary loads the stored summary for callID.
func (s *Store) Summary(ctx context.Context, callID string) (models.SessionSummary, error) {
	var (
		sum          models.SessionSummary
		lines, turns []byte
	)
	err := s.db.QueryRow(ctx, selectSummary, callID).Scan(
		&sum.CallID, &sum.TenantID, &sum.AgentID, &sum.CampaignID, &sum.Reason, &sum.Outcome,
		&sum.StartedAt, &sum.EndedAt, &sum.DurationSec, &sum.CreditsUsed, &sum.Degraded,
		&lines, &turns,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SessionSummary{}, fmt.Errorf("%w: %s", ErrNotFound, callID)
	}
	if err != nil {
		return models.SessionSummary{}, fmt.Errorf("load summary %s: %w", callID, err)
	}
	if err := json.Unmarshal(lines, &sum.SummaryLines); err != nil {
		return models.SessionSummary{}, fmt.Errorf("decode summary lines: %w", err)
	}
	if err := json.Unmarshal(turns, &sum.History); err != nil {
		return models.SessionSummary{}, fmt.Errorf("decode history: %w", err)
	}
	return sum, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func nonNil(lines []string) []string {
	if lines == nil {
		return []string{}
	}
	return lines
}
