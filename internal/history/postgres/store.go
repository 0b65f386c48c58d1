// Package postgres provides a PostgreSQL-backed [history.Store].
//
// Entries live in a single dictations table with a GIN full-text index over
// the text column. The 'simple' text search configuration is used because
// dictations may be in any language.
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//	_ = store.Save(ctx, entry)
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/dictate/internal/history"
)

var _ history.Store = (*Store)(nil)

// Store is a [history.Store] backed by a [pgxpool.Pool]. All methods are
// safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("history postgres: parse dsn: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("history postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history postgres: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Save inserts e. Saving the same session twice keeps the later result.
func (s *Store) Save(ctx context.Context, e history.Entry) error {
	const q = `
		INSERT INTO dictations
		    (session_id, text, partial, error, chunks, failed_chunks, duration_ns, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
		    text = EXCLUDED.text,
		    partial = EXCLUDED.partial,
		    error = EXCLUDED.error,
		    chunks = EXCLUDED.chunks,
		    failed_chunks = EXCLUDED.failed_chunks,
		    duration_ns = EXCLUDED.duration_ns,
		    ended_at = EXCLUDED.ended_at`

	endedAt := e.EndedAt
	if endedAt.IsZero() {
		endedAt = time.Now()
	}
	startedAt := e.StartedAt
	if startedAt.IsZero() {
		startedAt = endedAt
	}
	_, err := s.pool.Exec(ctx, q,
		e.SessionID,
		e.Text,
		e.Partial,
		e.Error,
		e.Chunks,
		e.FailedChunks,
		e.Duration.Nanoseconds(),
		startedAt,
		endedAt,
	)
	if err != nil {
		return fmt.Errorf("history postgres: save: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	q := selectColumns + "\nFROM dictations\nORDER BY ended_at DESC"
	var args []any
	if limit > 0 {
		args = append(args, limit)
		q += "\nLIMIT $1"
	}
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history postgres: recent: %w", err)
	}
	return collectEntries(rows)
}

// Search performs a full-text search over the text column. The query is
// passed to plainto_tsquery so no operator syntax is required.
func (s *Store) Search(ctx context.Context, query string, opts history.SearchOpts) ([]history.Entry, error) {
	if strings.TrimSpace(query) == "" {
		return nil, history.ErrEmptyQuery
	}

	args := []any{query}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('simple', text) @@ plainto_tsquery('simple', $1)",
	}
	if !opts.After.IsZero() {
		conditions = append(conditions, "ended_at > "+next(opts.After))
	}
	if !opts.Before.IsZero() {
		conditions = append(conditions, "ended_at < "+next(opts.Before))
	}

	q := selectColumns + "\n" +
		"FROM   dictations\n" +
		"WHERE  " + strings.Join(conditions, "\n  AND  ") + "\n" +
		"ORDER  BY ended_at DESC"
	if opts.Limit > 0 {
		q += "\nLIMIT " + next(opts.Limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history postgres: search: %w", err)
	}
	return collectEntries(rows)
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}

const selectColumns = "SELECT id, session_id, text, partial, error, chunks, failed_chunks, duration_ns, started_at, ended_at"

func collectEntries(rows pgx.Rows) ([]history.Entry, error) {
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (history.Entry, error) {
		var (
			e          history.Entry
			durationNS int64
		)
		if err := row.Scan(
			&e.ID,
			&e.SessionID,
			&e.Text,
			&e.Partial,
			&e.Error,
			&e.Chunks,
			&e.FailedChunks,
			&durationNS,
			&e.StartedAt,
			&e.EndedAt,
		); err != nil {
			return history.Entry{}, err
		}
		e.Duration = time.Duration(durationNS)
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("history postgres: scan rows: %w", err)
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return entries, nil
}
