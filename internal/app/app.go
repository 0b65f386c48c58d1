// Package app wires all dictate subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control API until the context ends, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSource,
// WithHistoryStore, WithNotifier, WithClipboardWriter). When an option is
// not provided, New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/dictate/internal/clipboard"
	"github.com/MrWong99/dictate/internal/config"
	"github.com/MrWong99/dictate/internal/control"
	"github.com/MrWong99/dictate/internal/health"
	"github.com/MrWong99/dictate/internal/history"
	"github.com/MrWong99/dictate/internal/history/postgres"
	"github.com/MrWong99/dictate/internal/merge"
	"github.com/MrWong99/dictate/internal/notify"
	"github.com/MrWong99/dictate/internal/observe"
	"github.com/MrWong99/dictate/internal/session"
	"github.com/MrWong99/dictate/internal/transcript"
	"github.com/MrWong99/dictate/internal/transcript/phonetic"
	"github.com/MrWong99/dictate/pkg/audio"
	"github.com/MrWong99/dictate/pkg/audio/portaudio"
	"github.com/MrWong99/dictate/pkg/provider/stt"
	"github.com/MrWong99/dictate/pkg/provider/vad"
)

// ErrShutdown is the abort cause of a session interrupted by daemon
// shutdown.
var ErrShutdown = errors.New("app: daemon shutting down")

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry. STT is required; a nil VAD selects the
// energy detector.
type Providers struct {
	STT stt.Provider
	VAD vad.Engine
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics
	scrape    http.Handler

	source     session.SourceFunc
	store      history.Store
	guard      *history.Guard
	notifySend notify.SendFunc
	clipWrite  func(string) error

	notifier   *notify.Presenter
	feed       *control.Feed
	notifyOn   atomic.Bool
	clipOn     atomic.Bool
	controller *session.Controller
	control    *control.Server

	// mu guards cfg after construction; the config watcher replaces it.
	mu sync.Mutex

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource replaces microphone capture.
func WithSource(fn session.SourceFunc) Option {
	return func(a *App) { a.source = fn }
}

// WithHistoryStore injects a history store instead of connecting to
// history.dsn.
func WithHistoryStore(s history.Store) Option {
	return func(a *App) { a.store = s }
}

// WithNotifier replaces desktop notifications.
func WithNotifier(send notify.SendFunc) Option {
	return func(a *App) { a.notifySend = send }
}

// WithClipboardWriter replaces the system clipboard.
func WithClipboardWriter(write func(string) error) Option {
	return func(a *App) { a.clipWrite = write }
}

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry records into t's instruments and serves its registry on
// server.listen_addr.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) {
		a.metrics = t.Metrics
		a.scrape = t.Handler()
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevel hands the handler's level variable to the app so that config
// reloads can change the log level.
func WithLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New connects to the history database when history.dsn is set and fails
// if it is unreachable.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil {
		return nil, errors.New("app: an STT provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.source == nil {
		a.source = microphone(cfg.Capture)
	}

	// ── 1. History store ─────────────────────────────────────────────────
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}

	// ── 2. Session controller with its outputs ───────────────────────────
	if err := a.initController(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init session: %w", err)
	}

	// ── 3. Control API ───────────────────────────────────────────────────
	a.initControl()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// microphone opens a fresh PortAudio capture per session.
func microphone(c config.CaptureConfig) session.SourceFunc {
	return func(context.Context) (audio.Source, error) {
		return portaudio.New(
			portaudio.WithDevice(c.Device),
			portaudio.WithSampleRate(c.SampleRate),
			portaudio.WithChannels(c.Channels),
			portaudio.WithFrameDuration(c.FrameDuration),
		), nil
	}
}

// initHistory connects the PostgreSQL store or wraps an injected one.
func (a *App) initHistory(ctx context.Context) error {
	if a.store == nil {
		dsn := a.cfg.History.DSN
		if dsn == "" {
			return nil
		}
		store, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		a.log.Info("history enabled")
	}
	a.guard = history.NewGuard(a.store, a.log)
	return nil
}

// initController builds presenters, sinks and the session controller.
func (a *App) initController() error {
	out := a.cfg.Output
	a.notifyOn.Store(out.NotifyEnabled())
	a.clipOn.Store(out.ClipboardEnabled())

	notifyOpts := []notify.Option{
		notify.WithPreview(out.NotifyPreview),
		notify.WithLogger(a.log),
	}
	if a.notifySend != nil {
		notifyOpts = append(notifyOpts, notify.WithSender(a.notifySend))
	}
	a.notifier = notify.New(notifyOpts...)
	a.closers = append(a.closers, func() error {
		a.notifier.Close()
		return nil
	})

	a.feed = control.NewFeed(0, a.log)

	presenter := session.Presenters{
		session.LogPresenter{Log: a.log},
		gatedPresenter{p: a.notifier, on: &a.notifyOn},
		a.feed,
	}

	sinks := []session.Sink{
		gatedSink{s: clipboard.Sink{Write: a.clipWrite}, on: &a.clipOn},
	}
	if a.guard != nil {
		sinks = append(sinks, history.Sink{Store: a.guard})
	}

	settings := a.cfg.Settings()
	ctl, err := session.NewController(session.Config{
		Source:     a.source,
		Provider:   a.providers.STT,
		Settings:   &settings,
		Presenter:  presenter,
		Sinks:      sinks,
		Vocabulary: vocabulary(a.cfg.Vocabulary),
		VAD:        a.providers.VAD,
		Metrics:    a.metrics,
		Logger:     a.log,
	})
	if err != nil {
		return err
	}
	a.controller = ctl
	return nil
}

// initControl builds the control API with its readiness checks.
func (a *App) initControl() {
	checks := []health.Checker{
		health.Configured("stt", a.providers.STT != nil, "no STT provider"),
	}
	if a.guard != nil {
		checks = append(checks, health.PingChecker("history", a.guard))
	}
	a.control = control.NewServer(a.controller,
		control.WithHealth(health.New(checks...)),
		control.WithFeed(a.feed),
		control.WithMetrics(a.metrics),
		control.WithLogger(a.log),
	)
}

func vocabulary(terms []string) *transcript.Vocabulary {
	if len(terms) == 0 {
		return nil
	}
	return transcript.NewVocabulary(phonetic.New(), terms)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Controller returns the session controller.
func (a *App) Controller() *session.Controller { return a.controller }

// Handler returns the control API handler, for tests and in-process use.
func (a *App) Handler() http.Handler { return a.control.Handler() }

// Feed returns the live event feed served on /events.
func (a *App) Feed() *control.Feed { return a.feed }

// History returns the guarded history store, or nil when history is
// disabled.
func (a *App) History() history.Store {
	if a.guard == nil {
		return nil
	}
	return a.guard
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the control socket, and the metrics endpoint when
// server.listen_addr is set, until ctx is cancelled. It returns nil after a
// clean stop.
func (a *App) Run(ctx context.Context) error {
	a.mu.Lock()
	socket := a.cfg.Control.Socket
	addr := a.cfg.Server.ListenAddr
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.control.Serve(gctx, socket)
	})
	switch {
	case addr != "" && a.scrape != nil:
		g.Go(func() error {
			return a.serveMetrics(gctx, addr)
		})
	case addr != "":
		a.log.Warn("server.listen_addr set but telemetry is not initialised, metrics disabled", "addr", addr)
	}

	a.log.Info("dictate daemon ready", "socket", socket, "metrics_addr", addr, "provider", stt.NameOf(a.providers.STT))
	return g.Wait()
}

// serveMetrics exposes /metrics on addr.
func (a *App) serveMetrics(ctx context.Context, addr string) error {
	r := chi.NewRouter()
	r.Handle("/metrics", a.scrape)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: metrics listen %q: %w", addr, err)
	}
	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	a.log.Info("metrics listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return fmt.Errorf("app: metrics serve: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Transcribe runs one session on the configured source until the source
// ends and returns the result. It is meant for file sources. When ctx ends
// first the session is aborted and the partial result returned.
func (a *App) Transcribe(ctx context.Context) (session.Result, error) {
	if _, err := a.controller.Start(ctx); err != nil {
		return session.Result{}, err
	}
	res, err := a.controller.Wait(ctx)
	if err != nil {
		a.controller.Abort(context.Cause(ctx))
		res, err = a.controller.Wait(context.WithoutCancel(ctx))
		if err != nil {
			return session.Result{}, err
		}
	}
	return res, res.Err
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig takes over the hot-reloadable parts of newCfg and returns the
// diff against the previous config. Engine and vocabulary changes apply to
// the next session.
func (a *App) ApplyConfig(newCfg *config.Config) (config.ConfigDiff, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := config.Diff(a.cfg, newCfg)
	if d.Empty() {
		return d, nil
	}

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(SlogLevel(d.NewLogLevel))
	}
	if d.EngineChanged || d.VocabularyChanged {
		if err := a.controller.SetSettings(newCfg.Settings()); err != nil {
			return d, fmt.Errorf("app: apply engine settings: %w", err)
		}
	}
	if d.VocabularyChanged {
		a.controller.SetVocabulary(vocabulary(newCfg.Vocabulary))
	}
	if d.OutputChanged {
		a.notifyOn.Store(newCfg.Output.NotifyEnabled())
		a.clipOn.Store(newCfg.Output.ClipboardEnabled())
		a.notifier.SetPreview(newCfg.Output.NotifyPreview)
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config changes need a daemon restart", "sections", d.RestartRequired)
	}

	// Restart-only sections keep their running values.
	keep := *a.cfg
	next := *newCfg
	a.cfg = &next
	a.cfg.Server.ListenAddr = keep.Server.ListenAddr
	a.cfg.Server.LogFormat = keep.Server.LogFormat
	a.cfg.Control = keep.Control
	a.cfg.Capture.Device = keep.Capture.Device
	a.cfg.Capture.SampleRate = keep.Capture.SampleRate
	a.cfg.Capture.Channels = keep.Capture.Channels
	a.cfg.Capture.FrameDuration = keep.Capture.FrameDuration
	a.cfg.Providers = keep.Providers
	a.cfg.Providers.STT.Language = newCfg.Providers.STT.Language
	a.cfg.Providers.STT.Prompt = newCfg.Providers.STT.Prompt
	a.cfg.History = keep.History
	return d, nil
}

// SlogLevel converts a config log level.
func SlogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown aborts a running session, waits for its partial result to reach
// the sinks and then runs the closers in order. It respects the context
// deadline: if ctx expires first, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if st := a.controller.Status(); st.State != session.StateIdle {
			a.controller.Abort(ErrShutdown)
			if _, err := a.controller.Wait(ctx); err != nil {
				a.log.Warn("session did not finish before shutdown", "session_id", st.SessionID, "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for _, c := range a.closers {
		_ = c()
	}
}

// ─── Output gates ────────────────────────────────────────────────────────────

// gatedPresenter forwards to p while on is set.
type gatedPresenter struct {
	p  session.Presenter
	on *atomic.Bool
}

func (g gatedPresenter) State(ev session.StateEvent) {
	if g.on.Load() {
		g.p.State(ev)
	}
}

func (g gatedPresenter) Delta(d merge.Delta) {
	if g.on.Load() {
		g.p.Delta(d)
	}
}

func (g gatedPresenter) Result(r session.Result) {
	if g.on.Load() {
		g.p.Result(r)
	}
}

// gatedSink forwards to s while on is set.
type gatedSink struct {
	s  session.Sink
	on *atomic.Bool
}

func (g gatedSink) Deliver(ctx context.Context, r session.Result) error {
	if !g.on.Load() {
		return nil
	}
	return g.s.Deliver(ctx, r)
}
