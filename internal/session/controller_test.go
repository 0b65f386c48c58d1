package session

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/dictate/internal/chunker"
	"github.com/MrWong99/dictate/internal/merge"
	"github.com/MrWong99/dictate/internal/observe"
	"github.com/MrWong99/dictate/internal/resilience"
	"github.com/MrWong99/dictate/internal/transcript"
	"github.com/MrWong99/dictate/internal/transcript/phonetic"
	"github.com/MrWong99/dictate/pkg/audio"
	audiomock "github.com/MrWong99/dictate/pkg/audio/mock"
	"github.com/MrWong99/dictate/pkg/provider/stt"
	sttmock "github.com/MrWong99/dictate/pkg/provider/stt/mock"
)

// The test recordings are built from 250ms slots. Every sample in slot n
// has the value n*100, and the fake backend "hears" one word wn per slot, so
// overlapping chunks transcribe their shared slots identically.
const slot = 250 * time.Millisecond

func slotFrames(from, to int) []audio.Frame {
	per := audio.STTFormat.Bytes(slot)
	var frames []audio.Frame
	for n := from; n <= to; n++ {
		pcm := make([]byte, per)
		for i := 0; i < per; i += 2 {
			binary.LittleEndian.PutUint16(pcm[i:], uint16(n*100))
		}
		// Two frames per slot.
		frames = append(frames,
			audio.Frame{Data: pcm[:per/2], SampleRate: 16000, Channels: 1},
			audio.Frame{Data: pcm[per/2:], SampleRate: 16000, Channels: 1},
		)
	}
	return frames
}

// hear decodes the slot words in pcm.
func hear(pcm []byte) []int {
	var slots []int
	for i := 0; i+1 < len(pcm); i += 2 {
		n := int(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 100
		if len(slots) == 0 || slots[len(slots)-1] != n {
			slots = append(slots, n)
		}
	}
	return slots
}

func words(slots []int) string {
	parts := make([]string, len(slots))
	for i, n := range slots {
		parts[i] = fmt.Sprintf("w%d", n)
	}
	return strings.Join(parts, " ")
}

func wordRange(from, to int) string {
	var slots []int
	for n := from; n <= to; n++ {
		slots = append(slots, n)
	}
	return words(slots)
}

// reply overrides the fake backend's answer.
type reply struct {
	res stt.Result
	err error
}

// backend returns a provider that transcribes slot words. hook, when set,
// runs first; a non-nil reply replaces the response.
func backend(hook func(ctx context.Context, slots []int) *reply) *sttmock.Provider {
	return &sttmock.Provider{
		TranscribeFunc: func(ctx context.Context, req stt.Request) (stt.Result, error) {
			slots := hear(req.Audio)
			if hook != nil {
				if r := hook(ctx, slots); r != nil {
					return r.res, r.err
				}
			}
			return stt.Result{Text: words(slots)}, nil
		},
	}
}

type recorder struct {
	mu      sync.Mutex
	states  []StateEvent
	deltas  []merge.Delta
	results []Result
}

func (r *recorder) State(ev StateEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, ev)
}

func (r *recorder) Delta(d merge.Delta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deltas = append(r.deltas, d)
}

func (r *recorder) Result(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recorder) transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.states {
		out = append(out, ev.From.String()+">"+ev.To.String())
	}
	return out
}

var _ Presenter = (*recorder)(nil)

func testSettings() *Settings {
	s := DefaultSettings()
	s.Chunker = chunker.Config{ChunkDuration: time.Second, OverlapDuration: slot}
	s.Dispatcher.InitialBackoff = time.Millisecond
	s.Dispatcher.MaxBackoff = 2 * time.Millisecond
	s.Dispatcher.RequestTimeout = 5 * time.Second
	return &s
}

type fixture struct {
	ctrl *Controller
	src  *audiomock.Source
	rec  *recorder
}

func newFixture(t *testing.T, src *audiomock.Source, p stt.Provider, mutate func(*Config)) *fixture {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	rec := &recorder{}
	cfg := Config{
		Source:    func(context.Context) (audio.Source, error) { return src, nil },
		Provider:  p,
		Settings:  testSettings(),
		Presenter: rec,
		Metrics:   m,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ctrl, err := NewController(cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return &fixture{ctrl: ctrl, src: src, rec: rec}
}

func (f *fixture) wait(t *testing.T) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := f.ctrl.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return res
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func push(src *audiomock.Source, frames []audio.Frame) {
	for _, fr := range frames {
		src.Push(fr)
	}
}

func TestController_EndOfInput(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{Frames: slotFrames(1, 10)}
	f := newFixture(t, src, backend(nil), nil)

	info, err := f.ctrl.Start(context.Background())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info.SessionID == "" || info.StartedAt.IsZero() {
		t.Errorf("Info = %+v", info)
	}

	res := f.wait(t)
	if res.Text != wordRange(1, 10) {
		t.Errorf("Text = %q, want %q", res.Text, wordRange(1, 10))
	}
	if res.Partial || res.Err != nil {
		t.Errorf("Partial = %v, Err = %v", res.Partial, res.Err)
	}
	if res.Chunks != 4 || res.Duration != 2500*time.Millisecond {
		t.Errorf("Chunks = %d, Duration = %s", res.Chunks, res.Duration)
	}
	if res.SessionID != info.SessionID {
		t.Errorf("SessionID = %q, want %q", res.SessionID, info.SessionID)
	}

	want := []string{"idle>recording", "recording>finalizing", "finalizing>idle"}
	waitFor(t, "idle event", func() bool { return len(f.rec.transitions()) == 3 })
	if got := f.rec.transitions(); !slices.Equal(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	if len(f.rec.deltas) != 4 {
		t.Fatalf("deltas = %d, want 4", len(f.rec.deltas))
	}
	for i, d := range f.rec.deltas {
		if d.Seq != uint64(i+1) {
			t.Errorf("delta %d has seq %d", i, d.Seq)
		}
	}
	if last := f.rec.deltas[3]; !last.Final || last.MergedText != res.Text {
		t.Errorf("last delta = %+v", last)
	}
	if len(f.rec.results) != 1 || f.rec.results[0].Text != res.Text {
		t.Errorf("presenter results = %+v", f.rec.results)
	}
}

func TestController_StopFlushesFinalChunk(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{KeepOpen: true}
	f := newFixture(t, src, backend(nil), nil)

	if _, err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if st := f.ctrl.Status(); st.State != StateRecording {
		t.Fatalf("State = %v, want recording", st.State)
	}

	// 1.75s cuts two chunks; the final one repeats the last overlap slot.
	push(src, slotFrames(1, 7))
	waitFor(t, "two chunks", func() bool { return f.ctrl.Status().ChunksSubmitted == 2 })

	if err := f.ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	res := f.wait(t)
	if res.Text != wordRange(1, 7) {
		t.Errorf("Text = %q, want %q", res.Text, wordRange(1, 7))
	}
	if res.Partial || res.Chunks != 3 {
		t.Errorf("Partial = %v, Chunks = %d", res.Partial, res.Chunks)
	}
	if st := f.ctrl.Status(); st.State != StateIdle || st.SessionID != "" {
		t.Errorf("Status after result = %+v", st)
	}
}

func TestController_AnyCompletionOrder(t *testing.T) {
	t.Parallel()

	// Earlier chunks answer later.
	p := backend(func(_ context.Context, slots []int) *reply {
		time.Sleep(time.Duration(12-slots[0]) * 3 * time.Millisecond)
		return nil
	})
	src := &audiomock.Source{Frames: slotFrames(1, 10)}
	f := newFixture(t, src, p, nil)

	if _, err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	res := f.wait(t)
	if res.Text != wordRange(1, 10) {
		t.Errorf("Text = %q, want %q", res.Text, wordRange(1, 10))
	}
}

func TestController_FailedChunkDoesNotBlock(t *testing.T) {
	t.Parallel()

	// Chunk 2 covers slots 4-7.
	p := backend(func(_ context.Context, slots []int) *reply {
		if slots[0] == 4 {
			return &reply{err: stt.NewStatusError("mock", http.StatusUnsupportedMediaType, nil)}
		}
		return nil
	})
	src := &audiomock.Source{Frames: slotFrames(1, 10)}
	f := newFixture(t, src, p, nil)

	if _, err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	res := f.wait(t)
	if want := "w1 w2 w3 w4 w7 w8 w9 w10"; res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
	if res.Partial || res.Err != nil {
		t.Errorf("a permanent chunk failure ended the session: %v", res.Err)
	}
	if !slices.Equal(res.FailedChunks, []uint64{2}) {
		t.Errorf("FailedChunks = %v, want [2]", res.FailedChunks)
	}
}

func TestController_AuthFailureAborts(t *testing.T) {
	t.Parallel()

	p := backend(func(_ context.Context, slots []int) *reply {
		if slots[0] == 4 {
			// Let chunk 1 resolve before the session aborts.
			time.Sleep(20 * time.Millisecond)
			return &reply{err: stt.NewStatusError("mock", http.StatusUnauthorized, nil)}
		}
		return nil
	})
	src := &audiomock.Source{Frames: slotFrames(1, 10)}
	f := newFixture(t, src, p, nil)

	if _, err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	res := f.wait(t)
	if !res.Partial {
		t.Error("Partial = false after auth failure")
	}
	if stt.Classify(res.Err) != stt.KindAuth {
		t.Errorf("Err = %v, want an auth error", res.Err)
	}
	if !strings.HasPrefix(res.Text, wordRange(1, 4)) {
		t.Errorf("Text = %q, want the first chunk kept", res.Text)
	}
	if f.ctrl.Status().State != StateIdle {
		t.Error("controller not idle after abort")
	}
}

func TestController_CaptureFailureKeepsText(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{KeepOpen: true, Device: "mic"}
	f := newFixture(t, src, backend(nil), nil)

	if _, err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	push(src, slotFrames(1, 4))
	waitFor(t, "first chunk merged", func() bool { return f.ctrl.Status().ChunksApplied == 1 })
	src.Fail(errors.New("device unplugged"))

	res := f.wait(t)
	var cf *audio.CaptureFailure
	if !errors.As(res.Err, &cf) || cf.Device != "mic" {
		t.Fatalf("Err = %v, want a capture failure", res.Err)
	}
	if !res.Partial || res.Text != wordRange(1, 4) {
		t.Errorf("Partial = %v, Text = %q", res.Partial, res.Text)
	}

	var last StateEvent
	waitFor(t, "idle event", func() bool {
		f.rec.mu.Lock()
		defer f.rec.mu.Unlock()
		last = f.rec.states[len(f.rec.states)-1]
		return last.To == StateIdle
	})
	if last.Err == nil {
		t.Error("idle event carries no abort cause")
	}
}

func TestController_StopDoesNotWaitForTranscription(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	p := backend(func(ctx context.Context, _ []int) *reply {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return &reply{err: ctx.Err()}
		}
	})
	src := &audiomock.Source{KeepOpen: true}
	f := newFixture(t, src, p, nil)

	if _, err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	push(src, slotFrames(1, 4))
	waitFor(t, "first chunk", func() bool { return f.ctrl.Status().ChunksSubmitted == 1 })

	stopped := make(chan error, 1)
	go func() { stopped <- f.ctrl.Stop() }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on transcription")
	}

	if st := f.ctrl.Status(); st.State != StateFinalizing {
		t.Errorf("State = %v, want finalizing", st.State)
	}
	if err := f.ctrl.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("second Stop = %v, want ErrNotRecording", err)
	}

	close(release)
	res := f.wait(t)
	if res.Text != wordRange(1, 4) || res.Partial {
		t.Errorf("result = %+v", res)
	}
}

func TestController_Abort(t *testing.T) {
	t.Parallel()

	p := backend(func(ctx context.Context, _ []int) *reply {
		<-ctx.Done()
		return &reply{err: ctx.Err()}
	})
	src := &audiomock.Source{KeepOpen: true}
	f := newFixture(t, src, p, nil)

	if _, err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	push(src, slotFrames(1, 4))
	waitFor(t, "first chunk", func() bool { return f.ctrl.Status().ChunksSubmitted == 1 })

	f.ctrl.Abort(nil)
	res := f.wait(t)
	if !res.Partial || !errors.Is(res.Err, ErrAborted) {
		t.Errorf("result = %+v, want partial with ErrAborted", res)
	}
	if !slices.Equal(res.FailedChunks, []uint64{1}) {
		t.Errorf("FailedChunks = %v, want [1]", res.FailedChunks)
	}

	f.ctrl.Abort(nil) // no-op when idle
	if f.ctrl.Status().State != StateIdle {
		t.Error("not idle after abort")
	}
}

func TestController_BackendExhaustion(t *testing.T) {
	t.Parallel()

	p := &sttmock.Provider{Err: stt.NewStatusError("mock", http.StatusServiceUnavailable, nil)}
	src := &audiomock.Source{KeepOpen: true}
	f := newFixture(t, src, p, func(cfg *Config) {
		cfg.Settings.Dispatcher.MaxAttempts = 1
		cfg.Settings.Dispatcher.Breaker = resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour}
	})

	if _, err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	push(src, slotFrames(1, 4))

	res := f.wait(t)
	if !res.Partial || !errors.Is(res.Err, ErrDispatchExhausted) {
		t.Errorf("result = %+v, want ErrDispatchExhausted", res)
	}
}

func TestController_ResetsFallbackBreakers(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{Err: stt.NewStatusError("openai", http.StatusServiceUnavailable, nil)}
	fb := resilience.NewSTTFallback(primary, "openai", resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fb.AddFallback("whisper", backend(nil))

	f := newFixture(t, nil, fb, func(cfg *Config) {
		cfg.Source = func(context.Context) (audio.Source, error) {
			return &audiomock.Source{Frames: slotFrames(1, 2)}, nil
		}
	})

	for session := 1; session <= 2; session++ {
		if _, err := f.ctrl.Start(context.Background()); err != nil {
			t.Fatalf("session %d: Start: %v", session, err)
		}
		if res := f.wait(t); res.Text != "w1 w2" {
			t.Fatalf("session %d: Text = %q, want the fallback's transcript", session, res.Text)
		}
		waitFor(t, "idle", func() bool { return f.ctrl.Status().State == StateIdle })

		// The primary's breaker opened during the session but is closed
		// again at the next start, so every session tries it once.
		if got := primary.CallCount(); got != session {
			t.Errorf("after session %d: primary calls = %d, want %d", session, got, session)
		}
	}
}

func TestController_FinalizeTimeout(t *testing.T) {
	t.Parallel()

	p := backend(func(ctx context.Context, _ []int) *reply {
		<-ctx.Done()
		return &reply{err: ctx.Err()}
	})
	src := &audiomock.Source{Frames: slotFrames(1, 2)}
	f := newFixture(t, src, p, func(cfg *Config) {
		cfg.FinalizeTimeout = 20 * time.Millisecond
	})

	if _, err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	res := f.wait(t)
	if !res.Partial || !errors.Is(res.Err, ErrFinalizeTimeout) {
		t.Errorf("result = %+v, want ErrFinalizeTimeout", res)
	}
}

func TestController_StateErrors(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{KeepOpen: true}
	f := newFixture(t, src, backend(nil), nil)

	if _, err := f.ctrl.Wait(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Wait before any session = %v, want ErrNoSession", err)
	}
	if err := f.ctrl.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Errorf("Stop while idle = %v, want ErrNotRecording", err)
	}

	if _, err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.ctrl.Start(context.Background()); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second Start = %v, want ErrSessionActive", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.ctrl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait while recording = %v, want deadline exceeded", err)
	}

	if err := f.ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	first := f.wait(t)

	// Wait while idle returns the last result.
	again, err := f.ctrl.Wait(context.Background())
	if err != nil || again.SessionID != first.SessionID {
		t.Errorf("Wait after session = %+v, %v", again, err)
	}
}

func TestController_StartSourceError(t *testing.T) {
	t.Parallel()

	openErr := errors.New("no such device")
	f := newFixture(t, nil, backend(nil), func(cfg *Config) {
		cfg.Source = func(context.Context) (audio.Source, error) { return nil, openErr }
	})

	if _, err := f.ctrl.Start(context.Background()); !errors.Is(err, openErr) {
		t.Fatalf("Start = %v, want %v", err, openErr)
	}
	if st := f.ctrl.Status(); st.State != StateIdle {
		t.Errorf("State = %v, want idle", st.State)
	}
	if len(f.rec.transitions()) != 0 {
		t.Errorf("presenter saw %v for a session that never started", f.rec.transitions())
	}
}

func TestController_SinksAndVocabulary(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var delivered []Result
	good := SinkFunc(func(_ context.Context, r Result) error {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, r)
		return nil
	})
	bad := SinkFunc(func(context.Context, Result) error { return errors.New("clipboard unavailable") })

	p := &sttmock.Provider{Result: stt.Result{Text: "check grafanna now"}}
	src := &audiomock.Source{Frames: slotFrames(1, 2)}
	f := newFixture(t, src, p, func(cfg *Config) {
		cfg.Sinks = []Sink{bad, good}
		cfg.Vocabulary = transcript.NewVocabulary(phonetic.New(), []string{"Grafana"})
	})

	if _, err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	res := f.wait(t)
	if res.Text != "check Grafana now" {
		t.Errorf("Text = %q", res.Text)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0].Text != res.Text {
		t.Errorf("delivered = %+v", delivered)
	}
}

func TestController_SettingsApplyToNextSession(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{Frames: slotFrames(1, 10)}
	f := newFixture(t, src, backend(nil), nil)

	bad := f.ctrl.Settings()
	bad.Chunker.OverlapDuration = bad.Chunker.ChunkDuration
	if err := f.ctrl.SetSettings(bad); err == nil {
		t.Error("SetSettings accepted an overlap as long as the chunk")
	}

	next := f.ctrl.Settings()
	next.Chunker.ChunkDuration = 2 * time.Second
	if err := f.ctrl.SetSettings(next); err != nil {
		t.Fatalf("SetSettings: %v", err)
	}

	if _, err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	res := f.wait(t)
	if res.Text != wordRange(1, 10) {
		t.Errorf("Text = %q", res.Text)
	}
	// 2s chunks over 2.5s: [0,2], [1.75,2.5] final.
	if res.Chunks != 2 {
		t.Errorf("Chunks = %d, want 2", res.Chunks)
	}
}

func TestSettings_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Settings) {}},
		{name: "no tail", mutate: func(s *Settings) { s.Merge.TailWords = 0 }, wantErr: true},
		{name: "negative slack", mutate: func(s *Settings) { s.Merge.HeadSlack = -1 }, wantErr: true},
		{name: "no min overlap", mutate: func(s *Settings) { s.Merge.MinOverlapWords = 0 }, wantErr: true},
		{name: "bad chunker", mutate: func(s *Settings) { s.Chunker.ChunkDuration = 0 }, wantErr: true},
		{name: "bad dispatcher", mutate: func(s *Settings) { s.Dispatcher.MaxConcurrent = 0 }, wantErr: true},
		{name: "fuzzy", mutate: func(s *Settings) { s.Merge.Fuzzy = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := DefaultSettings()
			tt.mutate(&s)
			if err := s.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewController_RequiresDependencies(t *testing.T) {
	t.Parallel()

	src := func(context.Context) (audio.Source, error) { return &audiomock.Source{}, nil }
	if _, err := NewController(Config{Provider: &sttmock.Provider{}}); err == nil {
		t.Error("NewController without source succeeded")
	}
	if _, err := NewController(Config{Source: src}); err == nil {
		t.Error("NewController without provider succeeded")
	}
}

func TestState_Text(t *testing.T) {
	t.Parallel()

	for _, s := range []State{StateIdle, StateRecording, StateFinalizing} {
		b, err := s.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText: %v", err)
		}
		var got State
		if err := got.UnmarshalText(b); err != nil || got != s {
			t.Errorf("round trip %v = %v, %v", s, got, err)
		}
	}
	var s State
	if err := s.UnmarshalText([]byte("paused")); err == nil {
		t.Error("UnmarshalText accepted an unknown state")
	}
}
