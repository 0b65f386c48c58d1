// Package dispatch sends audio chunks to a transcription backend.
//
// A [Dispatcher] accepts chunks as soon as the chunker produces them and
// transcribes several at once, bounded by a weighted semaphore. Each chunk
// resolves to exactly one [transcript.Partial], either through its [Handle]
// or on the [Dispatcher.Results] channel, which the merge worker drains.
// Chunks resolve in completion order, not sequence order.
//
// Transient backend errors are retried with exponential backoff. A chunk that
// fails permanently or runs out of attempts resolves with Failed set and an
// empty text, so one bad chunk never stalls the session. The backend sits
// behind a [resilience.CircuitBreaker]: once it opens, later chunks fail fast.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/dictate/internal/chunker"
	"github.com/MrWong99/dictate/internal/observe"
	"github.com/MrWong99/dictate/internal/resilience"
	"github.com/MrWong99/dictate/internal/transcript"
	"github.com/MrWong99/dictate/pkg/provider/stt"
)

// ErrClosed resolves chunks submitted after [Dispatcher.Close].
var ErrClosed = errors.New("dispatch: dispatcher closed")

// MinAudio is the shortest chunk worth sending. Shorter chunks, usually an
// empty final chunk, resolve with empty text and no backend call.
const MinAudio = 100 * time.Millisecond

// Config controls concurrency, retries and request parameters.
type Config struct {
	// MaxConcurrent bounds requests in flight. Default: 3.
	MaxConcurrent int

	// MaxAttempts is the total number of backend calls per chunk, including
	// the first. Default: 4.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry. It doubles after
	// every retry up to MaxBackoff. Defaults: 500ms and 4s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// RequestTimeout bounds a single attempt. Default: 30s.
	RequestTimeout time.Duration

	// Language, Prompt and Keywords are copied into every request.
	Language string
	Prompt   string
	Keywords []stt.KeywordBoost

	// Breaker configures the circuit breaker around the backend. IsFailure
	// defaults to [resilience.STTBreakerFailure].
	Breaker resilience.CircuitBreakerConfig
}

// DefaultConfig returns the default dispatcher settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  3,
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.MaxConcurrent < 1 {
		errs = append(errs, errors.New("dispatch: max concurrent must be at least 1"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("dispatch: max attempts must be at least 1"))
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < 0 {
		errs = append(errs, errors.New("dispatch: backoff must not be negative"))
	}
	if c.MaxBackoff < c.InitialBackoff {
		errs = append(errs, fmt.Errorf("dispatch: max backoff %s is below initial backoff %s", c.MaxBackoff, c.InitialBackoff))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("dispatch: request timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Option is a functional option for [New].
type Option func(*Dispatcher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithResultBuffer sets the capacity of the Results channel. Defaults to
// MaxConcurrent.
func WithResultBuffer(n int) Option {
	return func(d *Dispatcher) { d.buffer = n }
}

// Handle tracks one submitted chunk.
type Handle struct {
	seq  uint64
	done chan struct{}
	res  transcript.Partial
}

// Seq returns the chunk's sequence number.
func (h *Handle) Seq() uint64 { return h.seq }

// Done is closed once the chunk has resolved.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the resolved partial. ok is false while the chunk is still
// in flight.
func (h *Handle) Result() (p transcript.Partial, ok bool) {
	select {
	case <-h.done:
		return h.res, true
	default:
		return transcript.Partial{}, false
	}
}

// Wait blocks until the chunk resolves or ctx is done.
func (h *Handle) Wait(ctx context.Context) (transcript.Partial, error) {
	select {
	case <-h.done:
		return h.res, nil
	case <-ctx.Done():
		return transcript.Partial{}, ctx.Err()
	}
}

func (h *Handle) resolve(p transcript.Partial) {
	h.res = p
	close(h.done)
}

// Dispatcher transcribes chunks concurrently. It is safe for concurrent use.
// Create one per session.
type Dispatcher struct {
	provider stt.Provider
	name     string
	cfg      Config
	sem      *semaphore.Weighted
	breaker  *resilience.CircuitBreaker
	metrics  *observe.Metrics
	log      *slog.Logger
	buffer   int

	results chan transcript.Partial

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New validates cfg and returns a Dispatcher that sends chunks to p.
func New(p stt.Provider, cfg Config, opts ...Option) (*Dispatcher, error) {
	if p == nil {
		return nil, errors.New("dispatch: provider is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	name := stt.NameOf(p)
	bc := cfg.Breaker
	if bc.Name == "" {
		bc.Name = "stt:" + name
	}
	if bc.IsFailure == nil {
		bc.IsFailure = resilience.STTBreakerFailure
	}
	d := &Dispatcher{
		provider: p,
		name:     name,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		breaker:  resilience.NewCircuitBreaker(bc),
		log:      slog.Default(),
		buffer:   cfg.MaxConcurrent,
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	d.results = make(chan transcript.Partial, max(d.buffer, 0))
	return d, nil
}

// Results delivers every resolved partial except those rejected by a closed
// dispatcher. The consumer must drain it until it is closed by
// [Dispatcher.Close], otherwise in-flight work blocks.
func (d *Dispatcher) Results() <-chan transcript.Partial { return d.results }

// BreakerState reports the state of the backend's circuit breaker.
func (d *Dispatcher) BreakerState() resilience.State { return d.breaker.State() }

// Submit schedules c for transcription and returns immediately. ctx bounds
// the whole chunk: cancelling it aborts waiting, backoff and the request, and
// the chunk resolves as failed.
func (d *Dispatcher) Submit(ctx context.Context, c chunker.Chunk) *Handle {
	h := &Handle{seq: c.Seq, done: make(chan struct{})}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		h.resolve(failed(base(c), fmt.Errorf("dispatch: chunk %d: %w", c.Seq, ErrClosed), 0))
		return h
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		p := d.transcribe(ctx, c)
		h.resolve(p)
		d.results <- p
	}()
	return h
}

// Close rejects further submissions, waits for every in-flight chunk to
// resolve and then closes the Results channel. Calling Close again is a
// no-op.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
	close(d.results)
}

// IsFatal reports whether a chunk error means no later chunk can succeed
// either, which ends the session.
func IsFatal(err error) bool {
	return err != nil && stt.Classify(err) == stt.KindAuth
}

func base(c chunker.Chunk) transcript.Partial {
	return transcript.Partial{Seq: c.Seq, Start: c.Start, End: c.End, Final: c.Final}
}

func failed(p transcript.Partial, err error, attempts int) transcript.Partial {
	p.Text = ""
	p.Failed = true
	p.Err = err
	p.Attempts = attempts
	p.ReceivedAt = time.Now()
	return p
}

// transcribe runs the attempt loop for one chunk. It always returns a
// resolved partial.
func (d *Dispatcher) transcribe(ctx context.Context, c chunker.Chunk) transcript.Partial {
	p := base(c)
	if c.Duration() < MinAudio || len(c.Audio) == 0 {
		p.ReceivedAt = time.Now()
		return p
	}

	ctx, span := observe.StartSpan(ctx, "dispatch.chunk", trace.WithAttributes(
		attribute.Int64("chunk.seq", int64(c.Seq)),
		attribute.Bool("chunk.final", c.Final),
		attribute.String("stt.provider", d.name),
	))
	defer span.End()
	log := observe.LoggerFrom(ctx, d.log).With("seq", c.Seq)

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return d.fail(ctx, span, log, p, fmt.Errorf("dispatch: chunk %d: %w", c.Seq, err), 0)
	}
	defer d.sem.Release(1)
	d.metrics.InFlightRequests.Add(ctx, 1)
	defer d.metrics.InFlightRequests.Add(context.WithoutCancel(ctx), -1)

	req := stt.Request{
		Audio:    c.Audio,
		Format:   c.Format,
		Language: d.cfg.Language,
		Prompt:   d.cfg.Prompt,
		Keywords: d.cfg.Keywords,
	}

	backoff := d.cfg.InitialBackoff
	attempts := 0
	var lastErr error
	for attempts < d.cfg.MaxAttempts {
		if attempts > 0 {
			d.metrics.STTRetries.Add(ctx, 1)
			if err := sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
			backoff = min(backoff*2, d.cfg.MaxBackoff)
		}
		attempts++

		res, err := d.attempt(ctx, req)
		if err == nil {
			p.Text = strings.TrimSpace(res.Text)
			p.Attempts = attempts
			p.ReceivedAt = time.Now()
			span.SetAttributes(attribute.Int("stt.attempts", attempts))
			log.Debug("dispatch: chunk transcribed", "attempts", attempts, "chars", len(p.Text))
			return p
		}
		lastErr = err

		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		if errors.Is(err, resilience.ErrCircuitOpen) || !stt.IsRetryable(err) {
			break
		}
		log.Warn("dispatch: attempt failed, retrying", "attempt", attempts, "backoff", backoff, "err", err)
	}

	return d.fail(ctx, span, log, p, fmt.Errorf("dispatch: chunk %d: %w", c.Seq, lastErr), attempts)
}

// attempt makes one backend call under the per-request timeout and the
// circuit breaker.
func (d *Dispatcher) attempt(ctx context.Context, req stt.Request) (stt.Result, error) {
	actx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	var res stt.Result
	err := d.breaker.Execute(func() error {
		var err error
		res, err = d.provider.Transcribe(actx, req)
		return err
	})

	status := "ok"
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		status = "circuit_open"
	case err != nil:
		status = stt.Classify(err).String()
	}
	d.metrics.RecordSTTRequest(ctx, d.name, status, time.Since(start))
	return res, err
}

func (d *Dispatcher) fail(ctx context.Context, span trace.Span, log *slog.Logger, p transcript.Partial, err error, attempts int) transcript.Partial {
	kind := stt.Classify(err).String()
	if errors.Is(err, context.Canceled) {
		kind = "cancelled"
	}
	d.metrics.RecordChunkFailure(context.WithoutCancel(ctx), kind)
	span.RecordError(err)
	span.SetStatus(codes.Error, kind)
	if errors.Is(err, context.Canceled) {
		log.Debug("dispatch: chunk cancelled", "attempts", attempts)
	} else {
		log.Error("dispatch: chunk failed", "attempts", attempts, "kind", kind, "err", err)
	}
	return failed(p, err, attempts)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
