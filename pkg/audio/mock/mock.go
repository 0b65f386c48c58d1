// Package mock provides an in-memory implementation of [audio.Source] for
// use in unit tests.
//
// The mock is safe for concurrent use. It records calls so tests can assert
// on them, and exposes fields that control its behaviour.
//
// Typical usage:
//
//	src := &mock.Source{Frames: frames, KeepOpen: true}
//	ch, _ := src.Start(ctx)
//	src.Push(extraFrame)          // live audio
//	src.Fail(errors.New("gone"))  // simulate a device error
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/dictate/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Device is reported in CaptureFailure errors.
	Device string

	// Frames are delivered in order immediately after Start.
	Frames []audio.Frame

	// StartErr, when non-nil, is returned by Start.
	StartErr error

	// FailErr, when non-nil, ends the stream with a CaptureFailure wrapping it
	// once Frames have been delivered.
	FailErr error

	// KeepOpen keeps the stream open after Frames until Close, Fail, or
	// context cancellation, like a live microphone.
	KeepOpen bool

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	err       error
	push      chan audio.Frame
	fail      chan error
	done      chan struct{}
	closeOnce sync.Once
}

var _ audio.Source = (*Source)(nil)

// Start implements [audio.Source].
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	s.mu.Lock()
	s.CallCountStart++
	if s.StartErr != nil {
		err := s.StartErr
		s.mu.Unlock()
		return nil, err
	}
	frames := append([]audio.Frame(nil), s.Frames...)
	failErr, keepOpen := s.FailErr, s.KeepOpen
	s.push = make(chan audio.Frame)
	s.fail = make(chan error, 1)
	s.done = make(chan struct{})
	push, fail, done := s.push, s.fail, s.done
	s.mu.Unlock()

	out := make(chan audio.Frame, len(frames)+1)
	go func() {
		defer close(out)
		send := func(f audio.Frame) bool {
			select {
			case out <- f:
				return true
			case <-done:
				return false
			case <-ctx.Done():
				return false
			}
		}
		for _, f := range frames {
			if !send(f) {
				return
			}
		}
		if failErr != nil {
			s.setErr(failErr)
			return
		}
		if !keepOpen {
			return
		}
		for {
			select {
			case f := <-push:
				if !send(f) {
					return
				}
			case err := <-fail:
				s.setErr(err)
				return
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Push delivers f on a stream started with KeepOpen. It blocks until the
// frame is accepted or the stream ends.
func (s *Source) Push(f audio.Frame) {
	s.mu.Lock()
	push, done := s.push, s.done
	s.mu.Unlock()
	if push == nil {
		return
	}
	select {
	case push <- f:
	case <-done:
	}
}

// Fail ends a KeepOpen stream with a CaptureFailure wrapping err.
func (s *Source) Fail(err error) {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail == nil {
		return
	}
	select {
	case fail <- err:
	default:
	}
}

// Err implements [audio.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	done := s.done
	s.mu.Unlock()
	if done != nil {
		s.closeOnce.Do(func() { close(done) })
	}
	return nil
}

func (s *Source) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = &audio.CaptureFailure{Device: s.Device, Err: err}
}
