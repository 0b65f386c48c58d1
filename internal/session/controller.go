package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/dictate/internal/chunker"
	"github.com/MrWong99/dictate/internal/dispatch"
	"github.com/MrWong99/dictate/internal/merge"
	"github.com/MrWong99/dictate/internal/observe"
	"github.com/MrWong99/dictate/internal/resilience"
	"github.com/MrWong99/dictate/internal/transcript"
	"github.com/MrWong99/dictate/internal/transcript/phonetic"
	"github.com/MrWong99/dictate/pkg/audio"
	"github.com/MrWong99/dictate/pkg/provider/stt"
	"github.com/MrWong99/dictate/pkg/provider/vad"
)

const (
	defaultFinalizeTimeout = 90 * time.Second
	defaultSinkTimeout     = 10 * time.Second
)

// MergeConfig tunes overlap removal.
type MergeConfig struct {
	// TailWords is the number of trailing merged words searched for overlap.
	TailWords int

	// HeadSlack is how many words away from the chunk boundary an overlap
	// may start or end.
	HeadSlack int

	// MinOverlapWords is the shortest shared run accepted as overlap.
	MinOverlapWords int

	// Fuzzy compares words by pronunciation instead of spelling.
	Fuzzy bool
}

// Settings is the engine configuration captured when a session starts.
type Settings struct {
	Chunker    chunker.Config
	Dispatcher dispatch.Config
	Merge      MergeConfig
}

// DefaultSettings returns the default engine configuration.
func DefaultSettings() Settings {
	return Settings{
		Chunker:    chunker.DefaultConfig(),
		Dispatcher: dispatch.DefaultConfig(),
		Merge:      MergeConfig{TailWords: 12, HeadSlack: 2, MinOverlapWords: 1},
	}
}

// Validate reports configuration errors of every component.
func (s Settings) Validate() error {
	var errs []error
	errs = append(errs, s.Chunker.Validate(), s.Dispatcher.Validate())
	if s.Merge.TailWords < 1 {
		errs = append(errs, errors.New("session: merge tail words must be at least 1"))
	}
	if s.Merge.HeadSlack < 0 {
		errs = append(errs, errors.New("session: merge head slack must not be negative"))
	}
	if s.Merge.MinOverlapWords < 1 {
		errs = append(errs, errors.New("session: merge min overlap words must be at least 1"))
	}
	return errors.Join(errs...)
}

func (s Settings) mergeOptions(log *slog.Logger) []merge.Option {
	opts := []merge.Option{
		merge.WithTailWords(s.Merge.TailWords),
		merge.WithHeadSlack(s.Merge.HeadSlack),
		merge.WithMinOverlapWords(s.Merge.MinOverlapWords),
		merge.WithLogger(log),
	}
	if s.Merge.Fuzzy {
		opts = append(opts, merge.WithEqual(phonetic.New().Equal))
	}
	return opts
}

// breakerResetter is implemented by providers that keep circuit breakers
// across sessions, such as [resilience.STTFallback].
type breakerResetter interface{ ResetBreakers() }

// SourceFunc opens a fresh capture source for a new session.
type SourceFunc func(ctx context.Context) (audio.Source, error)

// Config holds the dependencies of a [Controller].
type Config struct {
	// Source opens the capture device. Required.
	Source SourceFunc

	// Provider transcribes chunks. Required.
	Provider stt.Provider

	// Settings is the initial engine configuration. Zero means
	// [DefaultSettings].
	Settings *Settings

	// Presenter receives live output. Defaults to [NopPresenter].
	Presenter Presenter

	// Sinks receive every result after the presenter.
	Sinks []Sink

	// Vocabulary corrects the final text. May be nil.
	Vocabulary *transcript.Vocabulary

	// VAD finds pauses for silence cuts. Defaults to the energy detector.
	VAD vad.Engine

	// FinalizeTimeout bounds the time from the final chunk to the result.
	// When it elapses the session is aborted. Default: 90s.
	FinalizeTimeout time.Duration

	// SinkTimeout bounds each Sink.Deliver call. Default: 10s.
	SinkTimeout time.Duration

	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// Controller runs at most one dictation session at a time. All methods are
// safe for concurrent use.
type Controller struct {
	source          SourceFunc
	provider        stt.Provider
	presenter       Presenter
	sinks           []Sink
	vocab           *transcript.Vocabulary
	vad             vad.Engine
	finalizeTimeout time.Duration
	sinkTimeout     time.Duration
	metrics         *observe.Metrics
	log             *slog.Logger

	mu       sync.Mutex
	state    State
	settings Settings
	cur      *run
	last     *Result
}

// NewController validates cfg and returns an idle Controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Source == nil {
		return nil, errors.New("session: capture source is required")
	}
	if cfg.Provider == nil {
		return nil, errors.New("session: transcription provider is required")
	}
	settings := DefaultSettings()
	if cfg.Settings != nil {
		settings = *cfg.Settings
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		source:          cfg.Source,
		provider:        cfg.Provider,
		presenter:       cfg.Presenter,
		sinks:           cfg.Sinks,
		vocab:           cfg.Vocabulary,
		vad:             cfg.VAD,
		finalizeTimeout: cfg.FinalizeTimeout,
		sinkTimeout:     cfg.SinkTimeout,
		metrics:         cfg.Metrics,
		log:             cfg.Logger,
		settings:        settings,
	}
	if c.presenter == nil {
		c.presenter = NopPresenter{}
	}
	if c.finalizeTimeout <= 0 {
		c.finalizeTimeout = defaultFinalizeTimeout
	}
	if c.sinkTimeout <= 0 {
		c.sinkTimeout = defaultSinkTimeout
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c, nil
}

// Settings returns the configuration the next session will use.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// SetSettings replaces the configuration for sessions started afterwards. A
// running session keeps the settings it started with.
func (c *Controller) SetSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
	return nil
}

// SetVocabulary replaces the vocabulary used to correct the text of sessions
// started afterwards. Nil disables correction.
func (c *Controller) SetVocabulary(v *transcript.Vocabulary) {
	c.mu.Lock()
	c.vocab = v
	c.mu.Unlock()
}

// run is the state of one session.
type run struct {
	id        string
	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	span      trace.Span
	log       *slog.Logger

	chunker *chunker.Chunker
	disp    *dispatch.Dispatcher
	engine  *merge.Engine
	vocab   *transcript.Vocabulary

	submitted atomic.Int64
	resolved  atomic.Int64
	applied   atomic.Int64
	failed    atomic.Int64
	recorded  atomic.Int64
	finished  atomic.Bool

	mu       sync.Mutex
	err      error
	stopAt   time.Time
	watchdog *time.Timer

	done   chan struct{}
	result Result
}

// abort records cause and cancels capture and in-flight requests. The first
// cause wins.
func (r *run) abort(cause error) {
	r.mu.Lock()
	first := r.err == nil
	if first {
		r.err = cause
	}
	r.mu.Unlock()
	if first {
		r.log.Warn("session: aborting", "err", cause)
	}
	r.cancel()
}

func (r *run) cause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Start opens the capture source and begins recording. It returns
// [ErrSessionActive] unless the controller is idle. ctx is used to open the
// source and as the parent of the session's trace; cancelling it later does
// not end the session.
func (c *Controller) Start(ctx context.Context) (Info, error) {
	c.mu.Lock()
	if c.cur != nil {
		id := c.cur.id
		c.mu.Unlock()
		return Info{}, fmt.Errorf("%w (id=%s)", ErrSessionActive, id)
	}

	settings := c.settings
	id := uuid.NewString()
	now := time.Now()

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sctx, span := observe.StartSpan(sctx, "session", trace.WithAttributes(
		attribute.String("session.id", id),
	))
	log := observe.LoggerFrom(sctx, c.log).With("session_id", id)

	fail := func(err error) (Info, error) {
		c.mu.Unlock()
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		span.End()
		cancel()
		return Info{}, err
	}

	r := &run{
		id:        id,
		startedAt: now,
		ctx:       sctx,
		cancel:    cancel,
		span:      span,
		log:       log,
		engine:    merge.New(settings.mergeOptions(log)...),
		vocab:     c.vocab,
		done:      make(chan struct{}),
	}

	ch, err := chunker.New(settings.Chunker,
		chunker.WithLogger(log),
		chunker.WithVAD(c.vad),
		chunker.WithOnCut(func(_ chunker.Chunk, reason chunker.Reason) {
			c.metrics.RecordChunk(sctx, string(reason))
		}),
	)
	if err != nil {
		return fail(fmt.Errorf("session: %w", err))
	}
	r.chunker = ch

	disp, err := dispatch.New(c.provider, settings.Dispatcher,
		dispatch.WithLogger(log),
		dispatch.WithMetrics(c.metrics),
	)
	if err != nil {
		return fail(fmt.Errorf("session: %w", err))
	}
	r.disp = disp
	// Fallback chains keep per-backend breakers across sessions.
	if br, ok := c.provider.(breakerResetter); ok {
		br.ResetBreakers()
	}

	src, err := c.source(sctx)
	if err != nil {
		return fail(fmt.Errorf("session: open capture: %w", err))
	}

	c.cur = r
	c.state = StateRecording
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(sctx, 1)
	log.Info("session started", "provider", stt.NameOf(c.provider))
	c.presenter.State(StateEvent{SessionID: id, From: StateIdle, To: StateRecording, At: now})

	go c.record(r, src)
	go c.mergeLoop(r)

	return Info{SessionID: id, StartedAt: now}, nil
}

// Stop ends the recording. It returns once the final chunk has been queued
// for transcription; the result follows asynchronously through the
// presenter, the sinks and [Controller.Wait]. In-flight requests are not
// cancelled. Stop returns [ErrNotRecording] unless a session is recording.
func (c *Controller) Stop() error {
	c.mu.Lock()
	r := c.cur
	if r == nil || c.state != StateRecording {
		c.mu.Unlock()
		return ErrNotRecording
	}
	c.state = StateFinalizing
	c.mu.Unlock()

	c.enterFinalizing(r)
	r.chunker.Stop()
	return nil
}

// Abort ends the current session immediately. In-flight requests are
// cancelled and the text merged so far is published as a partial result.
// Abort does not wait; use [Controller.Wait] for the result. It is a no-op
// when idle.
func (c *Controller) Abort(cause error) {
	c.mu.Lock()
	r := c.cur
	c.mu.Unlock()
	if r == nil {
		return
	}
	if cause == nil {
		cause = ErrAborted
	}
	r.abort(cause)
}

// Wait blocks until the current session has published its result and
// returns it. When idle it returns the most recent result, or
// [ErrNoSession] if no session has run.
func (c *Controller) Wait(ctx context.Context) (Result, error) {
	c.mu.Lock()
	r, last := c.cur, c.last
	c.mu.Unlock()

	if r == nil {
		if last != nil {
			return *last, nil
		}
		return Result{}, ErrNoSession
	}
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{State: c.state}
	if r := c.cur; r != nil {
		st.SessionID = r.id
		st.StartedAt = r.startedAt
		st.ChunksSubmitted = int(r.submitted.Load())
		st.ChunksApplied = int(r.applied.Load())
		st.ChunksFailed = int(r.failed.Load())
		st.Text = r.engine.Text()
	}
	return st
}

// enterFinalizing moves r to Finalizing and arms the finalization watchdog.
// Stop and the final chunk both call it; the event is sent once.
func (c *Controller) enterFinalizing(r *run) {
	c.mu.Lock()
	if c.cur != r {
		c.mu.Unlock()
		return
	}
	c.state = StateFinalizing
	c.mu.Unlock()

	r.mu.Lock()
	if !r.stopAt.IsZero() {
		r.mu.Unlock()
		return
	}
	r.stopAt = time.Now()
	r.watchdog = time.AfterFunc(c.finalizeTimeout, func() {
		r.abort(fmt.Errorf("%w after %s", ErrFinalizeTimeout, c.finalizeTimeout))
	})
	r.mu.Unlock()

	r.log.Info("session finalizing")
	c.presenter.State(StateEvent{SessionID: r.id, From: StateRecording, To: StateFinalizing, At: time.Now()})
}

// record runs the chunker, submitting every chunk as soon as it is cut, and
// closes the dispatcher once capture has ended.
func (c *Controller) record(r *run, src audio.Source) {
	err := r.chunker.Run(r.ctx, src, func(ch chunker.Chunk) {
		r.submitted.Add(1)
		r.recorded.Store(int64(ch.End))
		r.disp.Submit(r.ctx, ch)
		if ch.Final {
			c.enterFinalizing(r)
		}
	})
	if err != nil && r.ctx.Err() == nil {
		r.abort(err)
	}
	r.disp.Close()
}

// mergeLoop is the only caller of Engine.Apply for r. It publishes the result
// as soon as the final chunk is merged, then drains the remaining results.
func (c *Controller) mergeLoop(r *run) {
	for p := range r.disp.Results() {
		if r.finished.Load() {
			continue
		}
		r.resolved.Add(1)
		if p.Failed {
			r.failed.Add(1)
		}

		start := time.Now()
		deltas := r.engine.Apply(p)
		c.metrics.MergeDuration.Record(r.ctx, time.Since(start).Seconds())

		for _, d := range deltas {
			r.applied.Add(1)
			c.presenter.Delta(d)
		}
		if p.Failed {
			c.checkFatal(r, p.Err)
		}
		if r.engine.Done() {
			c.finish(r)
		}
	}
	c.finish(r)
}

// checkFatal aborts the session when a chunk error means the rest of the
// recording cannot be transcribed either.
func (c *Controller) checkFatal(r *run, err error) {
	switch {
	case errors.Is(err, context.Canceled):
	case dispatch.IsFatal(err):
		r.abort(err)
	case r.failed.Load() == r.resolved.Load() && r.disp.BreakerState() == resilience.StateOpen:
		r.abort(fmt.Errorf("%w: %w", ErrDispatchExhausted, err))
	}
}

// finish publishes r's result and returns the controller to Idle. Only the
// first call has an effect.
func (c *Controller) finish(r *run) {
	if !r.finished.CompareAndSwap(false, true) {
		return
	}

	r.mu.Lock()
	if r.watchdog != nil {
		r.watchdog.Stop()
	}
	stopAt := r.stopAt
	r.mu.Unlock()

	st := r.engine.State()
	cause := r.cause()
	if !st.Final && cause == nil {
		cause = ErrAborted
	}

	text, corrections := r.vocab.Correct(st.MergedText)
	if len(corrections) > 0 {
		r.log.Debug("session: vocabulary corrections", "count", len(corrections))
	}

	res := Result{
		SessionID:    r.id,
		Text:         text,
		Partial:      cause != nil,
		FailedChunks: st.Failed,
		Chunks:       int(r.submitted.Load()),
		Err:          cause,
		Duration:     time.Duration(r.recorded.Load()),
		StartedAt:    r.startedAt,
		EndedAt:      time.Now(),
	}

	ctx := context.WithoutCancel(r.ctx)
	c.presenter.Result(res)
	if !stopAt.IsZero() {
		c.metrics.FinalizeLatency.Record(ctx, time.Since(stopAt).Seconds())
	}
	c.deliver(ctx, r, res)

	outcome := "completed"
	switch {
	case cause != nil && st.LastApplied == 0:
		outcome = "aborted"
	case cause != nil:
		outcome = "partial"
	}
	c.metrics.RecordSession(ctx, outcome, res.Duration)
	c.metrics.ActiveSessions.Add(ctx, -1)
	r.span.SetAttributes(
		attribute.String("session.outcome", outcome),
		attribute.Int("session.chunks", res.Chunks),
	)
	if cause != nil {
		r.span.RecordError(cause)
		r.span.SetStatus(codes.Error, outcome)
	}
	r.span.End()

	c.mu.Lock()
	from := c.state
	c.state = StateIdle
	c.cur = nil
	c.last = &res
	c.mu.Unlock()

	r.result = res
	close(r.done)
	r.cancel()

	r.log.Info("session ended",
		"outcome", outcome,
		"chunks", res.Chunks,
		"failed_chunks", len(res.FailedChunks),
		"duration", res.Duration,
	)
	c.presenter.State(StateEvent{SessionID: r.id, From: from, To: StateIdle, At: res.EndedAt, Err: cause})
}

// deliver hands res to every sink. Sink errors are logged and do not affect
// the result.
func (c *Controller) deliver(ctx context.Context, r *run, res Result) {
	for _, s := range c.sinks {
		sctx, cancel := context.WithTimeout(ctx, c.sinkTimeout)
		if err := s.Deliver(sctx, res); err != nil {
			r.log.Warn("session: sink failed", "sink", fmt.Sprintf("%T", s), "err", err)
		}
		cancel()
	}
}
