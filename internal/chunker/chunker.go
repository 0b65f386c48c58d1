// Package chunker slices a live recording into overlapping audio chunks.
//
// A [Chunker] reads frames from an [audio.Source], converts them to
// [audio.STTFormat], and emits a [Chunk] every time the current window reaches
// the configured chunk duration. Each chunk after the first starts
// OverlapDuration before the previous one ended, so a word cut at a boundary
// is heard whole by at least one chunk. With silence cutting enabled a chunk
// is also emitted early at a pause in speech.
//
// [Chunker.Stop] ends the recording: exactly one chunk with Final set is
// emitted, covering the overlap plus everything since the last boundary. The
// final chunk is emitted even when it holds no audio.
//
// Audio only ever lives in memory.
package chunker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/dictate/pkg/audio"
	"github.com/MrWong99/dictate/pkg/provider/vad"
	"github.com/MrWong99/dictate/pkg/provider/vad/energy"
)

// Chunk is one slice of the recording. It is immutable once emitted.
type Chunk struct {
	// Seq is 1 for the first chunk of a session and increases by one per chunk.
	Seq uint64

	// Start and End delimit the chunk relative to the start of the recording.
	Start time.Duration
	End   time.Duration

	// Audio is 16-bit little-endian PCM in Format.
	Audio []byte

	// Format is always [audio.STTFormat].
	Format audio.Format

	// Final marks the last chunk of the recording.
	Final bool
}

// Duration returns End - Start.
func (c Chunk) Duration() time.Duration { return c.End - c.Start }

// Reason records why a chunk was cut.
type Reason string

const (
	ReasonDuration    Reason = "duration"
	ReasonSilence     Reason = "silence"
	ReasonStop        Reason = "stop"
	ReasonEndOfInput  Reason = "end_of_input"
	ReasonMaxDuration Reason = "max_duration"
)

// Config controls chunk boundaries.
type Config struct {
	// ChunkDuration is the length of a chunk, including its leading overlap.
	ChunkDuration time.Duration

	// OverlapDuration is the audio shared by consecutive chunks. Must be less
	// than ChunkDuration.
	OverlapDuration time.Duration

	// SilenceCut enables early cuts at pauses.
	SilenceCut bool

	// SilenceDuration is how long a pause must last to trigger an early cut.
	SilenceDuration time.Duration

	// SilenceThreshold is the RMS level below which audio counts as silence.
	SilenceThreshold float64

	// MinChunkDuration is the shortest chunk an early cut may produce.
	MinChunkDuration time.Duration

	// MaxDuration ends the recording as if Stop was called. Zero disables it.
	MaxDuration time.Duration
}

// DefaultConfig returns the default chunking parameters.
func DefaultConfig() Config {
	return Config{
		ChunkDuration:    8 * time.Second,
		OverlapDuration:  2 * time.Second,
		SilenceDuration:  700 * time.Millisecond,
		SilenceThreshold: 300,
		MinChunkDuration: 3 * time.Second,
		MaxDuration:      10 * time.Minute,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.ChunkDuration <= 0 {
		errs = append(errs, errors.New("chunker: chunk duration must be positive"))
	}
	if c.OverlapDuration < 0 {
		errs = append(errs, errors.New("chunker: overlap duration must not be negative"))
	}
	if c.OverlapDuration >= c.ChunkDuration {
		errs = append(errs, fmt.Errorf("chunker: overlap duration %s must be less than chunk duration %s", c.OverlapDuration, c.ChunkDuration))
	}
	if c.SilenceCut {
		if c.SilenceDuration <= 0 {
			errs = append(errs, errors.New("chunker: silence duration must be positive"))
		}
		if c.MinChunkDuration <= c.OverlapDuration {
			errs = append(errs, errors.New("chunker: min chunk duration must exceed overlap duration"))
		}
	}
	if c.MaxDuration < 0 {
		errs = append(errs, errors.New("chunker: max duration must not be negative"))
	}
	return errors.Join(errs...)
}

// Option is a functional option for [New].
type Option func(*Chunker)

// WithVAD sets the engine used to find pauses. Defaults to the energy
// detector.
func WithVAD(e vad.Engine) Option {
	return func(c *Chunker) {
		c.vadEngine = e
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Chunker) {
		c.log = l
	}
}

// WithOnCut registers a callback invoked with the reason for every emitted
// chunk. It runs on the Run goroutine.
func WithOnCut(fn func(Chunk, Reason)) Option {
	return func(c *Chunker) {
		c.onCut = fn
	}
}

// Chunker turns one recording into chunks. It is single-use: create a new
// Chunker per session.
type Chunker struct {
	cfg       Config
	format    audio.Format
	vadEngine vad.Engine
	log       *slog.Logger
	onCut     func(Chunk, Reason)

	stopOnce sync.Once
	stop     chan struct{}
	finished chan struct{}

	mu      sync.Mutex
	running bool

	// Run goroutine state.
	conv        audio.FormatConverter
	vadSess     vad.SessionHandle
	buf         []byte
	start       time.Duration
	total       int
	seq         uint64
	silence     time.Duration
	heardSpeech bool
}

// New validates cfg and returns a Chunker.
func New(cfg Config, opts ...Option) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Chunker{
		cfg:      cfg,
		format:   audio.STTFormat,
		log:      slog.Default(),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.vadEngine == nil {
		c.vadEngine = energy.New()
	}
	c.conv.Target = c.format
	c.conv.Logger = c.log
	return c, nil
}

// Run captures from src until Stop, end of input, MaxDuration, a capture
// failure, or ctx cancellation, calling emit for every chunk in order. Run
// starts and closes src.
//
// After Stop, end of input or MaxDuration, the final chunk is emitted and Run
// returns nil. A capture failure returns the source's error, normally an
// [*audio.CaptureFailure], without emitting further chunks. Cancellation
// returns ctx.Err().
func (c *Chunker) Run(ctx context.Context, src audio.Source, emit func(Chunk)) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("chunker: Run called twice")
	}
	c.running = true
	c.mu.Unlock()
	defer close(c.finished)

	if c.cfg.SilenceCut {
		sess, err := c.vadEngine.NewSession(vad.Config{
			SampleRate:       c.format.SampleRate,
			SpeechThreshold:  c.cfg.SilenceThreshold,
			SilenceThreshold: c.cfg.SilenceThreshold,
		})
		if err != nil {
			return fmt.Errorf("chunker: create vad session: %w", err)
		}
		c.vadSess = sess
		defer sess.Close()
	}

	frames, err := src.Start(ctx)
	if err != nil {
		_ = src.Close()
		return fmt.Errorf("chunker: start capture: %w", err)
	}
	defer func() {
		_ = src.Close()
		audio.Drain(frames)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			c.emitFinal(emit, ReasonStop)
			return nil
		case f, ok := <-frames:
			if !ok {
				if err := src.Err(); err != nil {
					c.log.Warn("chunker: capture failed", "err", err, "chunks", c.seq)
					return err
				}
				c.emitFinal(emit, ReasonEndOfInput)
				return nil
			}
			if c.push(f, emit) {
				c.log.Info("chunker: max duration reached", "max_duration", c.cfg.MaxDuration)
				c.emitFinal(emit, ReasonMaxDuration)
				return nil
			}
		}
	}
}

// Stop ends the recording. It returns once the final chunk has been passed
// to emit or Run has returned for another reason. Calling Stop before Run
// makes Run emit an empty final chunk immediately. Stop is idempotent.
func (c *Chunker) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if running {
		<-c.finished
	}
}

// Elapsed returns the recorded duration. Only valid after Run has returned.
func (c *Chunker) Elapsed() time.Duration {
	return c.format.Duration(c.total)
}

// push appends one frame and emits chunks that became due. It reports
// whether MaxDuration was reached.
func (c *Chunker) push(f audio.Frame, emit func(Chunk)) bool {
	f = c.conv.Convert(f)
	data := f.Data
	if len(data) == 0 {
		return false
	}

	if c.cfg.MaxDuration > 0 {
		remaining := c.format.Bytes(c.cfg.MaxDuration) - c.total
		if remaining <= 0 {
			return true
		}
		if len(data) > remaining {
			data = data[:remaining]
		}
	}

	// A frame can span a boundary, so feed it in pieces.
	for len(data) > 0 {
		room := c.format.Bytes(c.cfg.ChunkDuration) - len(c.buf)
		n := min(room, len(data))
		c.buf = append(c.buf, data[:n]...)
		c.total += n
		c.trackSilence(data[:n])
		data = data[n:]

		if len(c.buf) >= c.format.Bytes(c.cfg.ChunkDuration) {
			c.cut(emit, false, ReasonDuration)
		} else if c.silenceDue() {
			c.cut(emit, false, ReasonSilence)
		}
	}

	return c.cfg.MaxDuration > 0 && c.total >= c.format.Bytes(c.cfg.MaxDuration)
}

// trackSilence updates the pause detector with pcm.
func (c *Chunker) trackSilence(pcm []byte) {
	if c.vadSess == nil {
		return
	}
	ev, err := c.vadSess.ProcessFrame(pcm)
	if err != nil {
		c.log.Debug("chunker: vad failed", "err", err)
		return
	}
	if ev.IsSpeech() {
		c.heardSpeech = true
		c.silence = 0
		return
	}
	c.silence += c.format.Duration(len(pcm))
}

// silenceDue reports whether a pause after speech allows an early cut.
func (c *Chunker) silenceDue() bool {
	if c.vadSess == nil || !c.heardSpeech {
		return false
	}
	return c.silence >= c.cfg.SilenceDuration &&
		c.format.Duration(len(c.buf)) >= c.cfg.MinChunkDuration
}

// cut emits the buffered window and keeps its last OverlapDuration as the
// start of the next window.
func (c *Chunker) cut(emit func(Chunk), final bool, reason Reason) {
	c.seq++
	end := c.format.Duration(c.total)
	ch := Chunk{
		Seq:    c.seq,
		Start:  c.start,
		End:    end,
		Audio:  append([]byte(nil), c.buf...),
		Format: c.format,
		Final:  final,
	}

	keep := min(c.format.Bytes(c.cfg.OverlapDuration), len(c.buf))
	c.buf = append(c.buf[:0], c.buf[len(c.buf)-keep:]...)
	c.start = end - c.format.Duration(keep)
	c.silence = 0
	c.heardSpeech = false
	if c.vadSess != nil {
		c.vadSess.Reset()
	}

	c.log.Debug("chunker: chunk cut",
		"seq", ch.Seq,
		"start", ch.Start,
		"end", ch.End,
		"reason", reason,
		"final", final,
	)
	if c.onCut != nil {
		c.onCut(ch, reason)
	}
	emit(ch)
}

// emitFinal emits the terminal chunk.
func (c *Chunker) emitFinal(emit func(Chunk), reason Reason) {
	c.cut(emit, true, reason)
}
