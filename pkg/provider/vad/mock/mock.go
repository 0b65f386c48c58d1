// Package mock provides a scripted vad.Engine for tests.
//
// The engine classifies frames by their position in the stream rather than
// by content, so tests can place pauses without synthesising audio levels:
//
//	eng := &mock.Engine{Speech: []bool{true, true, false, false}}
//	c, _ := chunker.New(cfg, chunker.WithVAD(eng))
package mock

import (
	"sync"

	"github.com/MrWong99/dictate/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Speech marks, by frame index within a session, which frames are
	// speech. Frames past the end are classified as Tail.
	Speech []bool
	Tail   bool

	// NewSessionErr is returned by NewSession when set.
	NewSessionErr error

	// FrameErr is returned by every ProcessFrame when set.
	FrameErr error

	// Configs records the config of every NewSession call.
	Configs []vad.Config

	// Sessions records every session handed out.
	Sessions []*Session
}

var _ vad.Engine = (*Engine)(nil)

// NewSession records cfg and returns a fresh scripted session.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Configs = append(e.Configs, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	s := &Session{eng: e}
	e.Sessions = append(e.Sessions, s)
	return s, nil
}

func (e *Engine) speech(i int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i < len(e.Speech) {
		return e.Speech[i]
	}
	return e.Tail
}

// Session is the handle returned by [Engine.NewSession]. Its frame counter
// keeps running across Reset, which only clears the speaking state.
type Session struct {
	eng *Engine

	mu       sync.Mutex
	frames   int
	speaking bool
	resets   int
	closed   bool
}

var _ vad.SessionHandle = (*Session)(nil)

// ProcessFrame classifies the next frame from the engine's script.
func (s *Session) ProcessFrame([]byte) (vad.VADEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return vad.VADEvent{}, vad.ErrClosed
	}
	if s.eng.FrameErr != nil {
		return vad.VADEvent{}, s.eng.FrameErr
	}
	speech := s.eng.speech(s.frames)
	s.frames++

	var ev vad.VADEvent
	switch {
	case speech && !s.speaking:
		ev.Type = vad.VADSpeechStart
	case speech:
		ev.Type = vad.VADSpeechContinue
	case s.speaking:
		ev.Type = vad.VADSpeechEnd
	default:
		ev.Type = vad.VADSilence
	}
	if speech {
		ev.Probability = 1
	}
	s.speaking = speech
	return ev, nil
}

// Reset clears the speaking state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.speaking = false
	s.resets++
}

// Close marks the session closed. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Frames returns the number of frames processed.
func (s *Session) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Resets returns how often Reset was called.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
