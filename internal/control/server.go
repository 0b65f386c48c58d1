// Package control exposes the session controller over a local HTTP API on a
// Unix socket, and provides the client the CLI uses to talk to a running
// daemon.
//
// Routes:
//
//	GET  /session          current status
//	POST /session/start    start recording
//	POST /session/stop     stop recording (?wait=true blocks for the result)
//	POST /session/toggle   start when idle, stop when recording
//	POST /session/abort    abort the active session
//	GET  /session/result   wait for the current or last result
//	GET  /events           websocket stream of state, delta and result events
//	GET  /healthz, /readyz
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/dictate/internal/health"
	"github.com/MrWong99/dictate/internal/observe"
	"github.com/MrWong99/dictate/internal/session"
)

// Controller is the part of [session.Controller] the API drives.
type Controller interface {
	Start(ctx context.Context) (session.Info, error)
	Stop() error
	Abort(cause error)
	Wait(ctx context.Context) (session.Result, error)
	Status() session.Status
}

var _ Controller = (*session.Controller)(nil)

// ErrAbortRequested is the abort cause recorded for /session/abort.
var ErrAbortRequested = errors.New("control: abort requested")

// Action names the effect of a toggle.
type Action string

const (
	ActionStarted Action = "started"
	ActionStopped Action = "stopped"
)

// ToggleResponse is the body of /session/toggle.
type ToggleResponse struct {
	Action Action       `json:"action"`
	Info   session.Info `json:"info"`
}

// ResultResponse carries a [session.Result] with its error rendered as text.
type ResultResponse struct {
	session.Result
	Error string `json:"error,omitempty"`
}

func newResultResponse(r session.Result) ResultResponse {
	resp := ResultResponse{Result: r}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server serves the control API.
type Server struct {
	ctl     Controller
	health  *health.Handler
	feed    *Feed
	metrics *observe.Metrics
	log     *slog.Logger

	// resultTimeout bounds ?wait=true and /session/result.
	resultTimeout time.Duration
}

// Option is a functional option for [NewServer].
type Option func(*Server)

// WithHealth mounts /healthz and /readyz.
func WithHealth(h *health.Handler) Option { return func(s *Server) { s.health = h } }

// WithFeed serves f on /events. The feed must also be registered as a
// presenter on the session controller.
func WithFeed(f *Feed) Option { return func(s *Server) { s.feed = f } }

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.log = l } }

// WithResultTimeout bounds how long result requests block. Default: 2m.
func WithResultTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.resultTimeout = d
		}
	}
}

// NewServer returns a server driving ctl.
func NewServer(ctl Controller, opts ...Option) *Server {
	s := &Server{
		ctl:           ctl,
		log:           slog.Default(),
		resultTimeout: 2 * time.Minute,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the API's router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(observe.Middleware(s.metrics))

	if s.health != nil {
		s.health.Register(r)
	}
	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.handleStatus)
		r.Post("/start", s.handleStart)
		r.Post("/stop", s.handleStop)
		r.Post("/toggle", s.handleToggle)
		r.Post("/abort", s.handleAbort)
		r.Get("/result", s.handleResult)
	})
	r.Get("/events", s.handleEvents)
	return r
}

// Serve listens on the Unix socket at path until ctx is cancelled. A stale
// socket file from a crashed daemon is removed first; a socket that still
// accepts connections means another daemon is running.
func (s *Server) Serve(ctx context.Context, path string) error {
	if err := removeStale(path); err != nil {
		return err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("control: listen %q: %w", path, err)
	}
	defer os.Remove(path)
	if err := os.Chmod(path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("control: chmod %q: %w", path, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.log.Info("control: listening", "socket", path)

	select {
	case err := <-errc:
		return fmt.Errorf("control: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("control: shutdown: %w", err)
	}
	return nil
}

func removeStale(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		conn.Close()
		return fmt.Errorf("control: %q is in use; is another daemon running?", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("control: remove stale socket: %w", err)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	info, err := s.ctl.Start(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Stop(); err != nil {
		s.writeError(w, err)
		return
	}
	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, s.ctl.Status())
		return
	}
	s.writeResult(w, r)
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	switch s.ctl.Status().State {
	case session.StateRecording:
		if err := s.ctl.Stop(); err != nil {
			s.writeError(w, err)
			return
		}
		st := s.ctl.Status()
		writeJSON(w, http.StatusAccepted, ToggleResponse{
			Action: ActionStopped,
			Info:   session.Info{SessionID: st.SessionID, StartedAt: st.StartedAt},
		})
	default:
		info, err := s.ctl.Start(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ToggleResponse{Action: ActionStarted, Info: info})
	}
}

func (s *Server) handleAbort(w http.ResponseWriter, _ *http.Request) {
	s.ctl.Abort(ErrAbortRequested)
	writeJSON(w, http.StatusAccepted, s.ctl.Status())
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, r)
}

func (s *Server) writeResult(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.resultTimeout)
	defer cancel()
	res, err := s.ctl.Wait(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newResultResponse(res))
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionActive), errors.Is(err, session.ErrNotRecording):
		status = http.StatusConflict
	case errors.Is(err, session.ErrNoSession):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	default:
		s.log.Warn("control: request failed", "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
