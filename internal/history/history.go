// Package history records finished dictation results so they can be listed
// and searched later with `dictate history`.
//
// The daemon writes through a [Guard], which makes storage failures
// non-fatal: a dictation is never lost because the database is down, it is
// just not recorded.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/dictate/internal/session"
)

// ErrEmptyQuery is returned by Search for a blank query.
var ErrEmptyQuery = errors.New("history: empty search query")

// Entry is one recorded session result.
type Entry struct {
	// ID is assigned by the store.
	ID int64 `json:"id"`

	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Partial   bool   `json:"partial"`

	// Error is the abort cause of a partial result.
	Error string `json:"error,omitempty"`

	Chunks       int           `json:"chunks"`
	FailedChunks int           `json:"failed_chunks"`
	Duration     time.Duration `json:"duration"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      time.Time     `json:"ended_at"`
}

// FromResult converts a session result into an entry.
func FromResult(r session.Result) Entry {
	e := Entry{
		SessionID:    r.SessionID,
		Text:         r.Text,
		Partial:      r.Partial,
		Chunks:       r.Chunks,
		FailedChunks: len(r.FailedChunks),
		Duration:     r.Duration,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	return e
}

// SearchOpts narrows a search.
type SearchOpts struct {
	// After and Before bound EndedAt. Zero values are ignored.
	After  time.Time
	Before time.Time

	// Limit caps the number of entries. Zero means no limit.
	Limit int
}

// Store persists entries.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Save records e.
	Save(ctx context.Context, e Entry) error

	// Recent returns up to limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)

	// Search returns entries whose text matches query, newest first.
	Search(ctx context.Context, query string, opts SearchOpts) ([]Entry, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// Sink adapts a [Store] to [session.Sink]. Empty results are skipped.
type Sink struct {
	Store Store
}

var _ session.Sink = Sink{}

// Deliver saves r.
func (s Sink) Deliver(ctx context.Context, r session.Result) error {
	if r.Text == "" && !r.Partial {
		return nil
	}
	return s.Store.Save(ctx, FromResult(r))
}
