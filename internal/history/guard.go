package history

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Guard wraps a [Store] and makes all operations non-fatal. If the
// underlying store fails, operations return defaults and log warnings
// instead of propagating errors. [Guard.Degraded] reports whether the most
// recent operation failed.
//
// Ping is passed through unchanged so readiness checks see the real state.
//
// All methods are safe for concurrent use.
type Guard struct {
	store    Store
	log      *slog.Logger
	degraded atomic.Bool
}

var _ Store = (*Guard)(nil)

// NewGuard creates a [Guard] around store. A nil log uses slog.Default.
func NewGuard(store Store, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{store: store, log: log}
}

// Save writes e. On failure the error is logged and swallowed.
func (g *Guard) Save(ctx context.Context, e Entry) error {
	if err := g.store.Save(ctx, e); err != nil {
		g.degraded.Store(true)
		g.log.Warn("history: save failed, result not recorded",
			"session_id", e.SessionID,
			"err", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Recent returns recent entries, or an empty slice on failure.
func (g *Guard) Recent(ctx context.Context, limit int) ([]Entry, error) {
	entries, err := g.store.Recent(ctx, limit)
	if err != nil {
		g.degraded.Store(true)
		g.log.Warn("history: recent failed, returning empty", "limit", limit, "err", err)
		return []Entry{}, nil
	}
	g.degraded.Store(false)
	return entries, nil
}

// Search returns matching entries, or an empty slice on failure.
func (g *Guard) Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error) {
	entries, err := g.store.Search(ctx, query, opts)
	if err != nil {
		g.degraded.Store(true)
		g.log.Warn("history: search failed, returning empty", "query", query, "err", err)
		return []Entry{}, nil
	}
	g.degraded.Store(false)
	return entries, nil
}

// Ping delegates to the underlying store.
func (g *Guard) Ping(ctx context.Context) error {
	return g.store.Ping(ctx)
}

// Degraded reports whether the most recent operation on the store failed.
func (g *Guard) Degraded() bool {
	return g.degraded.Load()
}
