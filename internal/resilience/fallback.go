package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when no link of a [Chain] produced a result.
var ErrAllFailed = errors.New("all backends failed")

// FallbackConfig configures a [Chain].
type FallbackConfig struct {
	// CircuitBreaker is the template for each link's breaker. Name is set
	// per link.
	CircuitBreaker CircuitBreakerConfig

	// ShouldFailover decides whether an error from one link moves on to the
	// next. Errors it rejects are returned immediately. Default: always.
	ShouldFailover func(error) bool

	// Logger receives failover messages. Default: slog.Default().
	Logger *slog.Logger
}

type link[T any] struct {
	name    string
	backend T
	breaker *CircuitBreaker
}

// Chain is an ordered list of interchangeable backends, each behind its own
// circuit breaker. Calls go to the first link whose breaker admits them.
//
// Add every link before the first [Call]; after that a Chain is safe for
// concurrent use.
type Chain[T any] struct {
	links []link[T]
	cfg   FallbackConfig
	log   *slog.Logger
}

// NewChain creates a [Chain] whose first link is primary.
func NewChain[T any](name string, primary T, cfg FallbackConfig) *Chain[T] {
	if cfg.ShouldFailover == nil {
		cfg.ShouldFailover = func(error) bool { return true }
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Chain[T]{cfg: cfg, log: log}
	c.Add(name, primary)
	return c
}

// Add appends a link tried after all existing ones.
func (c *Chain[T]) Add(name string, backend T) {
	bc := c.cfg.CircuitBreaker
	bc.Name = name
	c.links = append(c.links, link[T]{name: name, backend: backend, breaker: NewCircuitBreaker(bc)})
}

// Names returns the link names in call order.
func (c *Chain[T]) Names() []string {
	names := make([]string, 0, len(c.links))
	for _, l := range c.links {
		names = append(names, l.name)
	}
	return names
}

// States returns each link's breaker state keyed by link name.
func (c *Chain[T]) States() map[string]State {
	out := make(map[string]State, len(c.links))
	for _, l := range c.links {
		out[l.name] = l.breaker.State()
	}
	return out
}

// Reset closes every link's breaker.
func (c *Chain[T]) Reset() {
	for _, l := range c.links {
		l.breaker.Reset()
	}
}

// Call runs fn against the links of c in order and returns the first
// success. Links with an open breaker are skipped. A cancelled ctx stops the
// walk before the next link.
//
// When every link fails the error wraps [ErrAllFailed] and the last link's
// error, so callers can still classify the underlying failure.
func Call[T, R any](ctx context.Context, c *Chain[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
		tried   int
	)
	for i, l := range c.links {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var out R
		err := l.breaker.Execute(func() error {
			var err error
			out, err = fn(ctx, l.backend)
			return err
		})
		if err == nil {
			if i > 0 {
				c.log.Info("served by fallback backend", "backend", l.name, "position", i)
			}
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			c.log.Debug("backend skipped, circuit open", "backend", l.name)
			continue
		}
		tried++
		if !c.cfg.ShouldFailover(err) {
			return zero, err
		}
		if i < len(c.links)-1 {
			c.log.Warn("backend failed, trying next", "backend", l.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w (%d of %d tried): %w", ErrAllFailed, tried, len(c.links), lastErr)
}
