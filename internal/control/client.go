package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"

	"github.com/MrWong99/dictate/internal/session"
)

// ErrDaemonNotRunning is returned by [Client] methods when nothing listens
// on the control socket.
var ErrDaemonNotRunning = errors.New("control: daemon is not running")

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control: daemon returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to a daemon's control API.
type Client struct {
	hc   *http.Client
	base string
}

// NewClient returns a client for the Unix socket at path.
func NewClient(path string) *Client {
	tr := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}
	return &Client{hc: &http.Client{Transport: tr}, base: "http://dictate"}
}

// NewHTTPClient returns a client for a TCP base URL, e.g. an httptest server.
func NewHTTPClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{hc: hc, base: baseURL}
}

// Status returns the daemon's session status.
func (c *Client) Status(ctx context.Context) (session.Status, error) {
	var st session.Status
	err := c.do(ctx, http.MethodGet, "/session", &st)
	return st, err
}

// Start starts a recording.
func (c *Client) Start(ctx context.Context) (session.Info, error) {
	var info session.Info
	err := c.do(ctx, http.MethodPost, "/session/start", &info)
	return info, err
}

// Stop stops the recording without waiting for transcription.
func (c *Client) Stop(ctx context.Context) (session.Status, error) {
	var st session.Status
	err := c.do(ctx, http.MethodPost, "/session/stop", &st)
	return st, err
}

// StopAndWait stops the recording and blocks until the result is ready.
func (c *Client) StopAndWait(ctx context.Context) (ResultResponse, error) {
	var res ResultResponse
	err := c.do(ctx, http.MethodPost, "/session/stop?wait=true", &res)
	return res, err
}

// Toggle starts a recording when idle and stops it when recording.
func (c *Client) Toggle(ctx context.Context) (ToggleResponse, error) {
	var resp ToggleResponse
	err := c.do(ctx, http.MethodPost, "/session/toggle", &resp)
	return resp, err
}

// Abort aborts the active session.
func (c *Client) Abort(ctx context.Context) (session.Status, error) {
	var st session.Status
	err := c.do(ctx, http.MethodPost, "/session/abort", &st)
	return st, err
}

// Result waits for the current session's result, or returns the last one.
func (c *Client) Result(ctx context.Context) (ResultResponse, error) {
	var res ResultResponse
	err := c.do(ctx, http.MethodGet, "/session/result", &res)
	return res, err
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("control: build request: %w", err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		if isNotRunning(err) {
			return ErrDaemonNotRunning
		}
		return fmt.Errorf("control: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("control: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e errorResponse
		if json.Unmarshal(body, &e) != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("control: decode response: %w", err)
	}
	return nil
}

func isNotRunning(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOENT)
}
