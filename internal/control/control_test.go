package control

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/dictate/internal/health"
	"github.com/MrWong99/dictate/internal/observe"
	"github.com/MrWong99/dictate/internal/session"
)

// fakeController records calls and follows the session state machine.
type fakeController struct {
	mu      sync.Mutex
	state   session.State
	id      string
	result  *session.Result
	aborted []error
	starts  int
	stops   int
}

var _ Controller = (*fakeController)(nil)

func (f *fakeController) Start(context.Context) (session.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != session.StateIdle {
		return session.Info{}, session.ErrSessionActive
	}
	f.starts++
	f.state = session.StateRecording
	f.id = "s-1"
	return session.Info{SessionID: f.id, StartedAt: time.Unix(100, 0).UTC()}, nil
}

func (f *fakeController) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != session.StateRecording {
		return session.ErrNotRecording
	}
	f.stops++
	f.state = session.StateIdle
	f.result = &session.Result{SessionID: f.id, Text: "hello world", Chunks: 2}
	return nil
}

func (f *fakeController) Abort(cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted = append(f.aborted, cause)
	if f.state != session.StateIdle {
		f.state = session.StateIdle
		f.result = &session.Result{SessionID: f.id, Text: "hel", Partial: true, Err: cause}
	}
}

func (f *fakeController) Wait(context.Context) (session.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.result == nil {
		return session.Result{}, session.ErrNoSession
	}
	return *f.result, nil
}

func (f *fakeController) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return session.Status{State: f.state, SessionID: f.id}
}

func newTestServer(t *testing.T, ctl Controller, opts ...Option) *Client {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	srv := NewServer(ctl, append([]Option{WithMetrics(m)}, opts...)...)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return NewHTTPClient(ts.URL, ts.Client())
}

func TestServer_StartStop(t *testing.T) {
	t.Parallel()
	ctl := &fakeController{}
	c := newTestServer(t, ctl)
	ctx := context.Background()

	info, err := c.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info.SessionID != "s-1" {
		t.Errorf("info = %+v", info)
	}

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != session.StateRecording || st.SessionID != "s-1" {
		t.Errorf("status = %+v", st)
	}

	_, err = c.Start(ctx)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("second Start err = %v, want 409", err)
	}

	res, err := c.StopAndWait(ctx)
	if err != nil {
		t.Fatalf("StopAndWait: %v", err)
	}
	if res.Text != "hello world" || res.Chunks != 2 || res.Error != "" {
		t.Errorf("result = %+v", res)
	}

	_, err = c.Stop(ctx)
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Errorf("Stop while idle err = %v, want 409", err)
	}
}

func TestServer_Toggle(t *testing.T) {
	t.Parallel()
	ctl := &fakeController{}
	c := newTestServer(t, ctl)
	ctx := context.Background()

	first, err := c.Toggle(ctx)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if first.Action != ActionStarted || first.Info.SessionID != "s-1" {
		t.Errorf("first toggle = %+v", first)
	}

	second, err := c.Toggle(ctx)
	if err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if second.Action != ActionStopped {
		t.Errorf("second toggle = %+v", second)
	}
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.starts != 1 || ctl.stops != 1 {
		t.Errorf("starts=%d stops=%d", ctl.starts, ctl.stops)
	}
}

func TestServer_ToggleWhileFinalizing(t *testing.T) {
	t.Parallel()
	ctl := &fakeController{state: session.StateFinalizing}
	c := newTestServer(t, ctl)

	_, err := c.Toggle(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("err = %v, want 409", err)
	}
}

func TestServer_Abort(t *testing.T) {
	t.Parallel()
	ctl := &fakeController{}
	c := newTestServer(t, ctl)
	ctx := context.Background()

	if _, err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st, err := c.Abort(ctx)
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if st.State != session.StateIdle {
		t.Errorf("status after abort = %+v", st)
	}
	ctl.mu.Lock()
	aborted := ctl.aborted
	ctl.mu.Unlock()
	if len(aborted) != 1 || !errors.Is(aborted[0], ErrAbortRequested) {
		t.Errorf("aborted = %v", aborted)
	}

	res, err := c.Result(ctx)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if !res.Partial || res.Error != ErrAbortRequested.Error() {
		t.Errorf("result = %+v", res)
	}
}

func TestServer_ResultWithoutSession(t *testing.T) {
	t.Parallel()
	c := newTestServer(t, &fakeController{})

	_, err := c.Result(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want 404", err)
	}
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	m, _ := observe.NewMetrics(noop.NewMeterProvider())
	srv := NewServer(&fakeController{},
		WithMetrics(m),
		WithHealth(health.New(health.Configured("stt", false, "no provider"))),
	)

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.path, rec.Code, tt.want)
		}
	}
}

func TestServe_UnixSocket(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "dictate")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "ctl.sock")

	m, _ := observe.NewMetrics(noop.NewMeterProvider())
	srv := NewServer(&fakeController{}, WithMetrics(m))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, path) }()

	c := NewClient(path)
	var st session.Status
	deadline := time.Now().Add(2 * time.Second)
	for {
		st, err = c.Status(context.Background())
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Status over socket: %v", err)
	}
	if st.State != session.StateIdle {
		t.Errorf("status = %+v", st)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat socket: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("socket mode = %o, want 600", perm)
	}

	// A second server on the same live socket must refuse to start.
	if err := NewServer(&fakeController{}, WithMetrics(m)).Serve(context.Background(), path); err == nil {
		t.Error("second Serve on a live socket succeeded")
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Serve: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("socket not removed after shutdown: %v", err)
	}
}

func TestClient_DaemonNotRunning(t *testing.T) {
	t.Parallel()
	c := NewClient(filepath.Join(t.TempDir(), "missing.sock"))
	if _, err := c.Status(context.Background()); !errors.Is(err, ErrDaemonNotRunning) {
		t.Errorf("err = %v, want ErrDaemonNotRunning", err)
	}
}

func TestServe_RemovesStaleSocket(t *testing.T) {
	t.Parallel()
	dir, err := os.MkdirTemp("", "dictate")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "ctl.sock")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	m, _ := observe.NewMetrics(noop.NewMeterProvider())
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- NewServer(&fakeController{}, WithMetrics(m)).Serve(ctx, path) }()

	c := NewClient(path)
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err = c.Status(context.Background())
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Serve: %v", err)
	}
}
