// Package audio defines the capture abstraction and PCM helpers used by the
// dictation engine.
//
// The primary abstraction is [Source]: a capture backend (microphone, WAV
// file replay, test mock) that delivers a stream of [Frame] values until it
// is closed or fails. Failures are reported as [*CaptureFailure] so callers
// can distinguish a broken device from a clean end of stream.
//
// Implementations live in sub-packages (audio/portaudio, audio/wavfile,
// audio/mock).
package audio

import (
	"context"
	"fmt"
)

// Source is a capture backend.
//
// Implementations must be safe for concurrent use: Close may be called from
// a different goroutine than the one reading frames.
type Source interface {
	// Start begins capturing and returns a channel of frames. The channel is
	// closed when capture ends, either because Close was called, the
	// underlying stream reached its end, or capture failed. After the channel
	// is closed, Err reports the failure (nil on a clean end).
	//
	// ctx governs the whole capture; cancelling it stops capture as if Close
	// had been called.
	Start(ctx context.Context) (<-chan Frame, error)

	// Err returns the capture failure that ended the stream, or nil.
	Err() error

	// Close stops capture and releases the device. Safe to call more than once.
	Close() error
}

// CaptureFailure reports a device or backend error from a [Source]. It is
// fatal to the recording session that owns the source.
type CaptureFailure struct {
	// Device names the capture device or file, if known.
	Device string

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *CaptureFailure) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("audio: capture failure: %v", e.Err)
	}
	return fmt.Sprintf("audio: capture failure on %q: %v", e.Device, e.Err)
}

// Unwrap returns the underlying error.
func (e *CaptureFailure) Unwrap() error { return e.Err }

// Drain discards everything left on ch until it is closed, releasing a
// producer blocked on send after its consumer stopped reading.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}

// Device describes an available input device.
type Device struct {
	Index             int
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}
