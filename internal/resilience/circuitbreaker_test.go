package resilience

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("backend unavailable")

// fakeClock drives a breaker's notion of time.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func clockedBreaker(cfg CircuitBreakerConfig) (*CircuitBreaker, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clk.now
	return cb, clk
}

// step is one action in a breaker scenario: a call returning err, or a clock
// advance when wait is set.
type step struct {
	err       error
	wait      time.Duration
	wantOpen  bool // the call is rejected with ErrCircuitOpen
	wantState State
}

func TestCircuitBreaker_Scenarios(t *testing.T) {
	t.Parallel()

	cfg := CircuitBreakerConfig{Name: "openai", MaxFailures: 2, ResetTimeout: time.Minute, HalfOpenMax: 2}
	tests := []struct {
		name  string
		steps []step
	}{
		{
			name: "opens after consecutive failures",
			steps: []step{
				{err: errTest, wantState: StateClosed},
				{err: errTest, wantState: StateOpen},
				{wantOpen: true, wantState: StateOpen},
			},
		},
		{
			name: "success clears the failure count",
			steps: []step{
				{err: errTest, wantState: StateClosed},
				{wantState: StateClosed},
				{err: errTest, wantState: StateClosed},
				{err: errTest, wantState: StateOpen},
			},
		},
		{
			name: "half-open after the reset timeout",
			steps: []step{
				{err: errTest, wantState: StateClosed},
				{err: errTest, wantState: StateOpen},
				{wait: 30 * time.Second, wantState: StateOpen},
				{wait: 30 * time.Second, wantState: StateHalfOpen},
			},
		},
		{
			name: "probes close the breaker",
			steps: []step{
				{err: errTest, wantState: StateClosed},
				{err: errTest, wantState: StateOpen},
				{wait: time.Minute, wantState: StateHalfOpen},
				{wantState: StateHalfOpen},
				{wantState: StateClosed},
			},
		},
		{
			name: "failed probe reopens",
			steps: []step{
				{err: errTest, wantState: StateClosed},
				{err: errTest, wantState: StateOpen},
				{wait: time.Minute, wantState: StateHalfOpen},
				{err: errTest, wantState: StateOpen},
				{wantOpen: true, wantState: StateOpen},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cb, clk := clockedBreaker(cfg)
			for i, s := range tt.steps {
				if s.wait > 0 {
					clk.advance(s.wait)
				} else {
					called := false
					err := cb.Execute(func() error {
						called = true
						return s.err
					})
					if s.wantOpen {
						if !errors.Is(err, ErrCircuitOpen) || called {
							t.Fatalf("step %d: err = %v called = %v, want rejection", i, err, called)
						}
					} else if !errors.Is(err, s.err) {
						t.Fatalf("step %d: err = %v, want %v", i, err, s.err)
					}
				}
				if got := cb.State(); got != s.wantState {
					t.Fatalf("step %d: state = %v, want %v", i, got, s.wantState)
				}
			}
		})
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	if cb.maxFailures != 5 || cb.resetTimeout != 30*time.Second || cb.halfOpenMax != 3 {
		t.Errorf("defaults = %d/%s/%d, want 5/30s/3", cb.maxFailures, cb.resetTimeout, cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()

	cb, clk := clockedBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Minute, HalfOpenMax: 1})
	_ = cb.Execute(func() error { return errTest })
	clk.advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed after the probe succeeded", cb.State())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb, _ := clockedBreaker(CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	_ = cb.Execute(func() error { return errTest })
	if cb.State() != StateOpen {
		t.Fatal("expected open")
	}
	cb.Reset()
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("after Reset: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(99):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}

func TestCircuitBreaker_IsFailureFiltersErrors(t *testing.T) {
	t.Parallel()

	malformed := errors.New("malformed chunk")
	cb, clk := clockedBreaker(CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Minute,
		HalfOpenMax:  1,
		IsFailure:    func(err error) bool { return !errors.Is(err, malformed) },
	})

	for range 5 {
		if err := cb.Execute(func() error { return malformed }); !errors.Is(err, malformed) {
			t.Fatalf("err = %v, want the neutral error passed through", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after neutral errors", cb.State())
	}

	_ = cb.Execute(func() error { return errTest })
	_ = cb.Execute(func() error { return errTest })
	clk.advance(time.Minute)

	// A neutral probe result leaves the probe slot free.
	_ = cb.Execute(func() error { return malformed })
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe after neutral result: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	t.Parallel()

	type transition struct{ from, to State }
	var got []transition

	cb, clk := clockedBreaker(CircuitBreakerConfig{
		Name:         "deepgram",
		MaxFailures:  1,
		ResetTimeout: time.Hour,
		HalfOpenMax:  1,
		OnStateChange: func(name string, from, to State) {
			if name != "deepgram" {
				t.Errorf("name = %q", name)
			}
			got = append(got, transition{from, to})
		},
	})

	_ = cb.Execute(func() error { return errTest })
	clk.advance(2 * time.Hour)
	_ = cb.Execute(func() error { return nil })

	want := []transition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
}
