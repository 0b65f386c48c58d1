package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlDictations = `
CREATE TABLE IF NOT EXISTS dictations (
    id             BIGSERIAL    PRIMARY KEY,
    session_id     TEXT         NOT NULL,
    text           TEXT         NOT NULL,
    partial        BOOLEAN      NOT NULL DEFAULT false,
    error          TEXT         NOT NULL DEFAULT '',
    chunks         INTEGER      NOT NULL DEFAULT 0,
    failed_chunks  INTEGER      NOT NULL DEFAULT 0,
    duration_ns    BIGINT       NOT NULL DEFAULT 0,
    started_at     TIMESTAMPTZ  NOT NULL,
    ended_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_dictations_session_id
    ON dictations (session_id);

CREATE INDEX IF NOT EXISTS idx_dictations_ended_at
    ON dictations (ended_at DESC);

CREATE INDEX IF NOT EXISTS idx_dictations_fts
    ON dictations USING GIN (to_tsvector('simple', text));
`

// Migrate creates the dictations table and its indexes. It is idempotent
// and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlDictations); err != nil {
		return fmt.Errorf("history postgres: migrate: %w", err)
	}
	return nil
}
