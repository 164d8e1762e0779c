package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresRecorder writes call records to Postgres via database/sql with
// the pgx stdlib driver.
//
// It assumes the following table exists:
//
//	CREATE TABLE call_records (
//	    call_id      TEXT PRIMARY KEY,
//	    kind         TEXT NOT NULL,
//	    is_group     BOOLEAN NOT NULL,
//	    initiator_id TEXT NOT NULL,
//	    final_state  TEXT NOT NULL,
//	    end_reason   TEXT NOT NULL,
//	    created_at   TIMESTAMPTZ NOT NULL,
//	    answered_at  TIMESTAMPTZ,
//	    ended_at     TIMESTAMPTZ,
//	    duration_sec BIGINT NOT NULL,
//	    signal_count INT NOT NULL,
//	    detail       JSONB NOT NULL
//	);
type PostgresRecorder struct {
	db *sql.DB
}

// PostgresConfig controls pool behavior for the recorder connection
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

func (c PostgresConfig) withDefaults() PostgresConfig {
	out := c
	if out.MaxOpenConns <= 0 {
		out.MaxOpenConns = 10
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 5 * time.Second
	}
	return out
}

// NewPostgresRecorder opens the connection pool and verifies it
func NewPostgresRecorder(ctx context.Context, cfg PostgresConfig) (*PostgresRecorder, error) {
	cfg = cfg.withDefaults()

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresRecorder{db: db}, nil
}

// Record upserts the call summary; detail carries the full record as JSONB
func (r *PostgresRecorder) Record(ctx context.Context, rec CallRecord) error {
	detail, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}

	const q = `
INSERT INTO call_records
    (call_id, kind, is_group, initiator_id, final_state, end_reason,
     created_at, answered_at, ended_at, duration_sec, signal_count, detail)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (call_id) DO UPDATE SET
    final_state  = EXCLUDED.final_state,
    end_reason   = EXCLUDED.end_reason,
    ended_at     = EXCLUDED.ended_at,
    duration_sec = EXCLUDED.duration_sec,
    signal_count = EXCLUDED.signal_count,
    detail       = EXCLUDED.detail
`
	_, err = r.db.ExecContext(ctx, q,
		rec.CallID, rec.Kind, rec.Group, rec.InitiatorID, rec.FinalState,
		rec.EndReason, rec.CreatedAt, rec.AnsweredAt, rec.EndedAt,
		rec.DurationSec, rec.SignalCount, detail,
	)
	if err != nil {
		return fmt.Errorf("insert call record %s: %w", rec.CallID, err)
	}
	return nil
}

// Close releases the connection pool
func (r *PostgresRecorder) Close() error {
	return r.db.Close()
}
