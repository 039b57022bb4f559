// Package postgres provides a PostgreSQL-backed telemetry sink. Attempts are
// insert-only; retention and aggregation are left to external tooling.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fablespeak/fablespeak/internal/telemetry"
)

// Compile-time interface check.
var _ telemetry.Sink = (*Sink)(nil)

// schema creates the attempts table when it does not exist yet.
const schema = `
CREATE TABLE IF NOT EXISTS transcription_attempts (
	id             BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	started_at     TIMESTAMPTZ NOT NULL,
	usage_context  TEXT        NOT NULL,
	provider       TEXT        NOT NULL,
	model          TEXT        NOT NULL DEFAULT '',
	success        BOOLEAN     NOT NULL,
	reason         TEXT        NOT NULL DEFAULT '',
	audio_bytes    INTEGER     NOT NULL,
	audio_ms       INTEGER     NOT NULL,
	elapsed_ms     INTEGER     NOT NULL
);
CREATE INDEX IF NOT EXISTS transcription_attempts_started_at_idx
	ON transcription_attempts (started_at);
`

// Sink stores attempt records in PostgreSQL via a pgx connection pool.
// All operations are safe for concurrent use.
type Sink struct {
	pool *pgxpool.Pool
}

// New connects to the database at dsn, ensures the attempts table exists, and
// returns a ready Sink. The caller owns the Sink and must call Close.
func New(ctx context.Context, dsn string) (*Sink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("telemetry postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("telemetry postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("telemetry postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("telemetry postgres: ensure schema: %w", err)
	}

	return &Sink{pool: pool}, nil
}

// RecordAttempt implements telemetry.Sink.
func (s *Sink) RecordAttempt(ctx context.Context, a telemetry.Attempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transcription_attempts
			(started_at, usage_context, provider, model, success, reason, audio_bytes, audio_ms, elapsed_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.At, a.Context, a.Provider, a.Model, a.Success, a.Reason,
		a.AudioBytes, a.AudioDuration.Milliseconds(), a.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("telemetry postgres: insert attempt: %w", err)
	}
	return nil
}

// Ping probes the underlying pool. Used by the health readiness check.
func (s *Sink) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Sink) Close() {
	s.pool.Close()
}
