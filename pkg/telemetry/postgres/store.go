// Package postgres provides the PostgreSQL-backed stage-timing exporter for
// long-term latency monitoring. Each flushed batch becomes one set of rows
// in the stage_timings table, inserted with a single pipelined batch.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/glintlabs/glint/internal/latency"
	"github.com/glintlabs/glint/pkg/telemetry"
)

// Compile-time interface check.
var _ telemetry.Exporter = (*Store)(nil)

// schema creates the stage_timings table. Rows are append-only; retention
// is managed externally.
const schema = `
CREATE TABLE IF NOT EXISTS stage_timings (
    id          BIGSERIAL PRIMARY KEY,
    session_id  TEXT             NOT NULL,
    stage       TEXT             NOT NULL,
    duration_ms DOUBLE PRECISION NOT NULL,
    budget_ms   DOUBLE PRECISION NOT NULL,
    breach      BOOLEAN          NOT NULL,
    recorded_at TIMESTAMPTZ      NOT NULL
);
CREATE INDEX IF NOT EXISTS stage_timings_session_idx
    ON stage_timings (session_id, recorded_at);
`

// Store is the PostgreSQL exporter. It holds a single [pgxpool.Pool] and is
// safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn and ensures
// the stage_timings table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("telemetry postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("telemetry postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("telemetry postgres: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Export inserts the batch as one pipelined pgx batch. Partial failures
// roll up into a single returned error; the caller drops the batch either
// way.
func (s *Store) Export(ctx context.Context, sessionID string, records []latency.StageTiming) error {
	if len(records) == 0 {
		return nil
	}

	const q = `
		INSERT INTO stage_timings
		    (session_id, stage, duration_ms, budget_ms, breach, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	batch := &pgx.Batch{}
	for _, st := range records {
		batch.Queue(q,
			sessionID,
			string(st.Stage),
			float64(st.Duration)/float64(time.Millisecond),
			float64(st.Budget)/float64(time.Millisecond),
			st.Breach,
			st.At,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("telemetry postgres: insert stage timing: %w", err)
		}
	}
	return nil
}

// Ping probes the database connection. Used as a readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
