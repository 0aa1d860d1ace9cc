// Package pgstore is the PostgreSQL task registry backend.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"shortsq/internal/config"
)

func NewPool(ctx context.Context, cfg config.Postgres) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id              TEXT PRIMARY KEY,
	seq             BIGSERIAL,
	request_id      TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	progress        DOUBLE PRECISION NOT NULL DEFAULT 0,
	script          TEXT NOT NULL DEFAULT '',
	terms           TEXT[],
	audio_file      TEXT NOT NULL DEFAULT '',
	audio_duration  DOUBLE PRECISION NOT NULL DEFAULT 0,
	subtitle_path   TEXT NOT NULL DEFAULT '',
	materials       TEXT[],
	videos          TEXT[],
	combined_videos TEXT[],
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS tasks_seq_idx ON tasks (seq);
`

// EnsureSchema creates the tasks table when it is missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
