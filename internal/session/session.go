// Package session owns the lifecycle of a dictation session.
//
// A single long-lived [Controller] per process moves between three states:
//
//	Idle --Start--> Recording --Stop--> Finalizing --final merged--> Idle
//
// While recording it wires a [chunker.Chunker], a [dispatch.Dispatcher] and a
// [merge.Engine] together, pushes every merged delta to the [Presenter] and,
// once the final chunk has been merged, publishes a [Result] to the presenter
// and to every [Sink]. Fatal errors (capture failure, rejected credentials, a
// backend that fails every chunk) abort the session; the text merged so far
// is still published, marked Partial.
package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrWong99/dictate/internal/merge"
)

var (
	// ErrSessionActive is returned by [Controller.Start] when a session is
	// already recording or finalizing.
	ErrSessionActive = errors.New("session: a session is already active")

	// ErrNotRecording is returned by [Controller.Stop] outside the Recording
	// state.
	ErrNotRecording = errors.New("session: not recording")

	// ErrNoSession is returned by [Controller.Wait] when no session has run yet.
	ErrNoSession = errors.New("session: no session")

	// ErrAborted is the cause recorded when a session is aborted without a
	// more specific error.
	ErrAborted = errors.New("session: aborted")

	// ErrDispatchExhausted is the cause recorded when every chunk so far has
	// failed and the backend's circuit breaker is open.
	ErrDispatchExhausted = errors.New("session: transcription backend unavailable")

	// ErrFinalizeTimeout is the cause recorded when finalization takes
	// longer than the configured bound.
	ErrFinalizeTimeout = errors.New("session: finalization timed out")
)

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateFinalizing
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so states render by name in
// JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "idle":
		*s = StateIdle
	case "recording":
		*s = StateRecording
	case "finalizing":
		*s = StateFinalizing
	default:
		return errors.New("session: unknown state " + string(b))
	}
	return nil
}

// StateEvent describes one transition.
type StateEvent struct {
	SessionID string
	From      State
	To        State
	At        time.Time

	// Err is the abort cause on a transition to Idle, nil otherwise.
	Err error
}

// Result is the outcome of one session.
type Result struct {
	SessionID string `json:"session_id"`

	// Text is the merged transcript, after vocabulary correction.
	Text string `json:"text"`

	// Partial is set when the session was aborted before its final chunk
	// was merged. Text then holds whatever had been merged.
	Partial bool `json:"partial"`

	// FailedChunks lists the sequence numbers of chunks that contributed no
	// text because their transcription failed.
	FailedChunks []uint64 `json:"failed_chunks,omitempty"`

	// Chunks is the number of chunks the recording was cut into.
	Chunks int `json:"chunks"`

	// Err is the abort cause. Nil for a completed session.
	Err error `json:"-"`

	// Duration is the length of recorded audio.
	Duration time.Duration `json:"duration"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Info identifies a started session.
type Info struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// Status is a snapshot of the controller.
type Status struct {
	State     State     `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	StartedAt time.Time `json:"started_at,omitzero"`

	ChunksSubmitted int `json:"chunks_submitted"`
	ChunksApplied   int `json:"chunks_applied"`
	ChunksFailed    int `json:"chunks_failed"`

	// Text is the merged text so far.
	Text string `json:"text,omitempty"`
}

// Presenter receives live session output. Calls come from the session's
// worker goroutines and must not block; a slow presenter delays merging.
type Presenter interface {
	// State is called on every state transition.
	State(ev StateEvent)

	// Delta is called for every merged chunk, in sequence order.
	Delta(d merge.Delta)

	// Result is called once per session with the terminal result.
	Result(r Result)
}

// Sink persists or forwards a finished result, e.g. to the clipboard or the
// history store.
type Sink interface {
	Deliver(ctx context.Context, r Result) error
}

// NopPresenter ignores all events.
type NopPresenter struct{}

func (NopPresenter) State(StateEvent)  {}
func (NopPresenter) Delta(merge.Delta) {}
func (NopPresenter) Result(Result)     {}

// LogPresenter writes session events to a logger.
type LogPresenter struct {
	Log *slog.Logger
}

func (p LogPresenter) logger() *slog.Logger {
	if p.Log == nil {
		return slog.Default()
	}
	return p.Log
}

// State logs the transition.
func (p LogPresenter) State(ev StateEvent) {
	attrs := []any{"session_id", ev.SessionID, "from", ev.From.String(), "to", ev.To.String()}
	if ev.Err != nil {
		p.logger().Warn("session: state changed", append(attrs, "err", ev.Err)...)
		return
	}
	p.logger().Info("session: state changed", attrs...)
}

// Delta logs the appended fragment at debug level.
func (p LogPresenter) Delta(d merge.Delta) {
	p.logger().Debug("session: delta", "seq", d.Seq, "text", d.Text, "failed", d.Failed, "final", d.Final)
}

// Result logs the outcome.
func (p LogPresenter) Result(r Result) {
	p.logger().Info("session: result",
		"session_id", r.SessionID,
		"chars", len(r.Text),
		"partial", r.Partial,
		"failed_chunks", len(r.FailedChunks),
		"duration", r.Duration,
	)
}

// Presenters fans events out to several presenters in order.
type Presenters []Presenter

func (ps Presenters) State(ev StateEvent) {
	for _, p := range ps {
		p.State(ev)
	}
}

func (ps Presenters) Delta(d merge.Delta) {
	for _, p := range ps {
		p.Delta(d)
	}
}

func (ps Presenters) Result(r Result) {
	for _, p := range ps {
		p.Result(r)
	}
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, r Result) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, r Result) error { return f(ctx, r) }

var (
	_ Presenter = NopPresenter{}
	_ Presenter = LogPresenter{}
	_ Presenter = Presenters(nil)
	_ Sink      = SinkFunc(nil)
)
