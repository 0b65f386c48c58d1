// Package merge reconciles per-chunk transcripts into one running text.
//
// Chunks overlap in time, so the tail of one transcript and the head of the
// next usually contain the same words. The [Engine] applies transcripts
// strictly in sequence order, buffering early arrivals, and drops the words
// the new transcript shares with the end of the merged text before appending
// the rest.
//
// All methods are safe for concurrent use. Apply does no I/O.
package merge

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/dictate/internal/transcript"
)

const (
	defaultTailWords       = 12
	defaultHeadSlack       = 2
	defaultMinOverlapWords = 1
)

// Delta is the change produced by applying one transcript.
type Delta struct {
	// Seq is the sequence number of the applied transcript.
	Seq uint64

	// Text is the text appended to the merged output by this transcript,
	// after overlap removal. Empty when nothing new was said or the chunk
	// failed.
	Text string

	// MergedText is the full merged output after this delta.
	MergedText string

	// Final is set on the delta of the session's final chunk.
	Final bool

	// Failed mirrors the transcript's Failed flag.
	Failed bool
}

// State is a snapshot of the engine.
type State struct {
	MergedText  string
	LastApplied uint64
	Pending     int
	Failed      []uint64
	Final       bool
}

// Option is a functional option for [New].
type Option func(*Engine)

// WithTailWords sets how many trailing words of the merged text are searched
// for overlap. Defaults to 12.
func WithTailWords(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.tailWords = n
		}
	}
}

// WithHeadSlack sets how far from the chunk boundary an overlap may sit: a
// match may start up to n words into the incoming transcript and end up to n
// words before the end of the merged text. Defaults to 2.
func WithHeadSlack(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.headSlack = n
		}
	}
}

// WithMinOverlapWords sets the shortest run of shared words accepted as
// overlap. Defaults to 1.
func WithMinOverlapWords(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.minOverlap = n
		}
	}
}

// WithEqual replaces exact comparison of normalised words, e.g. with
// phonetic.Matcher.Equal to absorb spelling drift between chunks.
func WithEqual(eq func(a, b string) bool) Option {
	return func(e *Engine) {
		if eq != nil {
			e.equal = eq
		}
	}
}

// WithLogger sets the logger used for ignored transcripts.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// Engine merges transcripts in sequence order.
type Engine struct {
	tailWords  int
	headSlack  int
	minOverlap int
	equal      func(a, b string) bool
	log        *slog.Logger

	mu          sync.Mutex
	words       []transcript.Word
	lastApplied uint64
	pending     map[uint64]transcript.Partial
	failed      []uint64
	final       bool
}

// New creates an Engine with nothing applied.
func New(opts ...Option) *Engine {
	e := &Engine{
		tailWords:  defaultTailWords,
		headSlack:  defaultHeadSlack,
		minOverlap: defaultMinOverlapWords,
		equal:      func(a, b string) bool { return a == b },
		log:        slog.Default(),
		pending:    make(map[uint64]transcript.Partial),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Apply accepts the transcript of one chunk. If it is the next expected
// sequence number it is merged together with any buffered successors, and
// one Delta per merged transcript is returned in order. Otherwise it is
// buffered and Apply returns nil.
//
// Transcripts at or below the last applied sequence, already buffered, or
// arriving after the final chunk was merged are ignored.
func (e *Engine) Apply(p transcript.Partial) []Delta {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p.Seq == 0 || p.Seq <= e.lastApplied {
		e.log.Debug("merge: ignoring stale transcript", "seq", p.Seq, "last_applied", e.lastApplied)
		return nil
	}
	if e.final {
		e.log.Warn("merge: transcript after final chunk", "seq", p.Seq)
		return nil
	}
	if _, dup := e.pending[p.Seq]; dup {
		e.log.Debug("merge: ignoring duplicate transcript", "seq", p.Seq)
		return nil
	}
	e.pending[p.Seq] = p

	var deltas []Delta
	for !e.final {
		next, ok := e.pending[e.lastApplied+1]
		if !ok {
			break
		}
		delete(e.pending, next.Seq)
		deltas = append(deltas, e.applyLocked(next))
	}
	if e.final && len(e.pending) > 0 {
		e.log.Warn("merge: dropping transcripts beyond final chunk", "count", len(e.pending))
		clear(e.pending)
	}
	return deltas
}

// applyLocked merges p, which must be the next sequence number.
func (e *Engine) applyLocked(p transcript.Partial) Delta {
	e.lastApplied = p.Seq
	e.final = p.Final

	d := Delta{Seq: p.Seq, Final: p.Final, Failed: p.Failed}
	if p.Failed {
		e.failed = append(e.failed, p.Seq)
		d.MergedText = transcript.Join(e.words)
		return d
	}

	added := e.appendWords(transcript.Tokenize(p.Text))
	d.Text = transcript.Join(added)
	d.MergedText = transcript.Join(e.words)
	return d
}

// appendWords removes the overlap between the merged tail and incoming and
// appends the remainder. It returns the appended words. Words already merged
// are never rewritten, so the deltas always concatenate to the merged text.
func (e *Engine) appendWords(incoming []transcript.Word) []transcript.Word {
	if len(incoming) == 0 {
		return nil
	}

	tail := e.words[max(len(e.words)-e.tailWords, 0):]
	head := incoming[:min(len(incoming), e.tailWords+e.headSlack)]

	m := longestOverlap(tail, head, e.headSlack, e.equal)
	if !e.accept(m, tail, incoming) {
		e.words = append(e.words, incoming...)
		return incoming
	}

	rest := incoming[m.headEnd+1:]
	e.words = append(e.words, rest...)
	return rest
}

// accept reports whether m is treated as real overlap.
func (e *Engine) accept(m match, tail, incoming []transcript.Word) bool {
	switch {
	case m.length == 0:
		return false
	case m.length == len(incoming):
		// Everything was already said.
		return true
	case m.length < e.minOverlap:
		return false
	case m.length == 1:
		// A lone shared word only counts at the exact chunk boundary.
		return m.headEnd == 0 && m.tailEnd == len(tail)-1
	}
	return true
}

// Text returns the merged text so far.
func (e *Engine) Text() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return transcript.Join(e.words)
}

// LastApplied returns the highest applied sequence number.
func (e *Engine) LastApplied() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastApplied
}

// Done reports whether the final chunk has been merged.
func (e *Engine) Done() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.final
}

// State returns a snapshot of the engine.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		MergedText:  transcript.Join(e.words),
		LastApplied: e.lastApplied,
		Pending:     len(e.pending),
		Failed:      append([]uint64(nil), e.failed...),
		Final:       e.final,
	}
}
