// Package mock provides an in-memory test double for [history.Store].
//
// The store keeps saved entries, records every method call and exposes
// exported *Err fields that make individual methods fail. It is safe for
// concurrent use.
//
//	store := &mock.Store{}
//	store.SaveErr = errors.New("db down")
//	// inject store into the system under test …
//	if got := store.CallCount("Save"); got != 1 { … }
package mock

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/dictate/internal/history"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Store is a configurable in-memory [history.Store].
type Store struct {
	mu      sync.Mutex
	calls   []Call
	entries []history.Entry
	nextID  int64

	SaveErr   error
	RecentErr error
	SearchErr error
	PingErr   error
}

var _ history.Store = (*Store)(nil)

// Save appends e with a fresh ID unless SaveErr is set.
func (s *Store) Save(_ context.Context, e history.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Save", Args: []any{e}})
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.nextID++
	e.ID = s.nextID
	s.entries = append(s.entries, e)
	return nil
}

// Recent returns up to limit saved entries, newest first.
func (s *Store) Recent(_ context.Context, limit int) ([]history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Recent", Args: []any{limit}})
	if s.RecentErr != nil {
		return nil, s.RecentErr
	}
	return newestFirst(s.entries, func(history.Entry) bool { return true }, limit), nil
}

// Search returns saved entries whose text contains query, ignoring case.
func (s *Store) Search(_ context.Context, query string, opts history.SearchOpts) ([]history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Search", Args: []any{query, opts}})
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	if strings.TrimSpace(query) == "" {
		return nil, history.ErrEmptyQuery
	}
	q := strings.ToLower(query)
	match := func(e history.Entry) bool {
		if !opts.After.IsZero() && !e.EndedAt.After(opts.After) {
			return false
		}
		if !opts.Before.IsZero() && !e.EndedAt.Before(opts.Before) {
			return false
		}
		return strings.Contains(strings.ToLower(e.Text), q)
	}
	return newestFirst(s.entries, match, opts.Limit), nil
}

// Ping returns PingErr.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: "Ping"})
	return s.PingErr
}

// Entries returns a copy of the saved entries in save order.
func (s *Store) Entries() []history.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.entries)
}

// Calls returns a copy of all recorded method invocations.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

// CallCount returns how many times the named method was invoked.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func newestFirst(entries []history.Entry, keep func(history.Entry) bool, limit int) []history.Entry {
	out := []history.Entry{}
	for i := len(entries) - 1; i >= 0; i-- {
		if !keep(entries[i]) {
			continue
		}
		out = append(out, entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
