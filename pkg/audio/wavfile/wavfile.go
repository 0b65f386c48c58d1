// Package wavfile implements [audio.Source] by replaying a WAV file. It lets
// the dictation engine run end-to-end on recorded audio, either as fast as
// possible or paced at real time to mimic a microphone.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/dictate/pkg/audio"
)

const defaultFrameDuration = 100 * time.Millisecond

// ErrInvalidFile is returned when the input is not a PCM WAV file.
var ErrInvalidFile = errors.New("wavfile: not a valid PCM WAV file")

// Option is a functional option for configuring a [Source].
type Option func(*Source)

// WithRealtime paces frame delivery to wall-clock time.
func WithRealtime(enabled bool) Option {
	return func(s *Source) { s.realtime = enabled }
}

// WithFrameDuration sets the amount of audio per delivered frame. Default: 100ms.
func WithFrameDuration(d time.Duration) Option {
	return func(s *Source) { s.frameDuration = d }
}

// Source replays a WAV stream.
type Source struct {
	name          string
	r             io.ReadSeeker
	closer        io.Closer
	realtime      bool
	frameDuration time.Duration

	mu        sync.Mutex
	err       error
	done      chan struct{}
	closeOnce sync.Once
}

var _ audio.Source = (*Source)(nil)

// Open returns a source reading the WAV file at path.
func Open(path string, opts ...Option) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	s := New(path, f, opts...)
	s.closer = f
	return s, nil
}

// New returns a source reading WAV data from r. name is used in errors.
func New(name string, r io.ReadSeeker, opts ...Option) *Source {
	s := &Source{
		name:          name,
		r:             r,
		frameDuration: defaultFrameDuration,
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start validates the header and begins delivering frames.
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	dec := wav.NewDecoder(s.r)
	if !dec.IsValidFile() {
		return nil, &audio.CaptureFailure{Device: s.name, Err: ErrInvalidFile}
	}
	dec.ReadInfo()
	if dec.WavAudioFormat != 1 {
		return nil, &audio.CaptureFailure{Device: s.name, Err: fmt.Errorf("%w: format tag %d", ErrInvalidFile, dec.WavAudioFormat)}
	}

	rate := int(dec.SampleRate)
	channels := int(dec.NumChans)
	depth := int(dec.BitDepth)
	framesPerBuffer := max(int(int64(rate)*int64(s.frameDuration)/int64(time.Second)), 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:   make([]int, framesPerBuffer*channels),
	}

	out := make(chan audio.Frame, 16)
	go func() {
		defer close(out)

		var elapsed time.Duration
		var ticker *time.Ticker
		if s.realtime {
			ticker = time.NewTicker(s.frameDuration)
			defer ticker.Stop()
		}

		for {
			n, err := dec.PCMBuffer(buf)
			if err != nil {
				s.setErr(&audio.CaptureFailure{Device: s.name, Err: err})
				return
			}
			if n == 0 {
				return
			}

			frame := audio.Frame{
				Data:       toPCM16(buf.Data[:n], depth),
				SampleRate: rate,
				Channels:   channels,
				Timestamp:  elapsed,
			}
			elapsed += time.Duration(int64(n/channels) * int64(time.Second) / int64(rate))

			if ticker != nil {
				select {
				case <-ticker.C:
				case <-s.done:
					return
				case <-ctx.Done():
					return
				}
			}

			select {
			case out <- frame:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Err implements [audio.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops replay and closes the underlying file, if any.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

func (s *Source) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// toPCM16 converts decoded integer samples of the given bit depth to
// little-endian int16 PCM.
func toPCM16(samples []int, depth int) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		switch {
		case depth == 8:
			// 8-bit WAV is unsigned.
			v = (v - 128) << 8
		case depth > 16:
			v >>= depth - 16
		}
		out[i*2] = byte(int16(v))
		out[i*2+1] = byte(int16(v) >> 8)
	}
	return out
}
