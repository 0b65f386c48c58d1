// Package energy implements [vad.Engine] with a root-mean-square level
// detector. Thresholds in [vad.Config] are RMS values on the 16-bit sample
// scale (0–32767); around 300 separates room noise from speech for a typical
// desktop microphone.
//
// A frame at or above SpeechThreshold starts or continues speech. Speech ends
// only when a frame drops below SilenceThreshold, so levels between the two
// thresholds keep the current state.
package energy

import (
	"sync"

	"github.com/MrWong99/dictate/pkg/audio"
	"github.com/MrWong99/dictate/pkg/provider/vad"
)

// Compile-time assertions.
var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)

// Engine creates energy-based VAD sessions. The zero value is ready to use.
type Engine struct{}

// New returns an Engine.
func New() *Engine { return &Engine{} }

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{cfg: cfg}, nil
}

// Session tracks speech state for one stream. It is safe for concurrent use.
type Session struct {
	cfg vad.Config

	mu       sync.Mutex
	speaking bool
	closed   bool
}

// ProcessFrame implements [vad.SessionHandle]. Frames of any length are
// accepted; an empty frame is silence.
func (s *Session) ProcessFrame(frame []byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, vad.ErrClosed
	}

	level := audio.RMS(frame)
	ev := vad.VADEvent{Probability: level}
	switch {
	case level >= s.cfg.SpeechThreshold:
		if s.speaking {
			ev.Type = vad.VADSpeechContinue
		} else {
			ev.Type = vad.VADSpeechStart
		}
		s.speaking = true
	case level < s.cfg.SilenceThreshold:
		if s.speaking {
			ev.Type = vad.VADSpeechEnd
		} else {
			ev.Type = vad.VADSilence
		}
		s.speaking = false
	default:
		if s.speaking {
			ev.Type = vad.VADSpeechContinue
		} else {
			ev.Type = vad.VADSilence
		}
	}
	return ev, nil
}

// Reset implements [vad.SessionHandle].
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
}

// Close implements [vad.SessionHandle].
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
