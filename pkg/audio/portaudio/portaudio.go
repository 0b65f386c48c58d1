// Package portaudio implements [audio.Source] on top of the PortAudio C
// library for live microphone capture.
//
// Frames are captured as 16-bit PCM at the requested rate. When the device
// cannot open at that rate the caller is expected to convert downstream
// (see [audio.FormatConverter]).
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/dictate/pkg/audio"
)

const (
	defaultSampleRate    = 16000
	defaultChannels      = 1
	defaultFrameDuration = 20 * time.Millisecond
)

// Option is a functional option for configuring a [Source].
type Option func(*Source)

// WithDevice selects the input device by index or by (case-insensitive)
// substring of its name. Empty selects the system default.
func WithDevice(device string) Option {
	return func(s *Source) { s.device = device }
}

// WithSampleRate sets the capture sample rate in Hz. Default: 16000.
func WithSampleRate(rate int) Option {
	return func(s *Source) { s.sampleRate = rate }
}

// WithChannels sets the number of input channels. Default: 1.
func WithChannels(n int) Option {
	return func(s *Source) { s.channels = n }
}

// WithFrameDuration sets the size of each captured buffer. Default: 20ms.
func WithFrameDuration(d time.Duration) Option {
	return func(s *Source) { s.frameDuration = d }
}

// Source captures audio from a PortAudio input device.
type Source struct {
	device        string
	sampleRate    int
	channels      int
	frameDuration time.Duration

	mu        sync.Mutex
	err       error
	done      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
}

var _ audio.Source = (*Source)(nil)

// New returns a microphone source. The device is opened by [Source.Start].
func New(opts ...Option) *Source {
	s := &Source{
		sampleRate:    defaultSampleRate,
		channels:      defaultChannels,
		frameDuration: defaultFrameDuration,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start initialises PortAudio, opens the input stream and begins capture.
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, &audio.CaptureFailure{Device: s.device, Err: fmt.Errorf("initialize: %w", err)}
	}

	dev, err := findDevice(s.device)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, &audio.CaptureFailure{Device: s.device, Err: err}
	}

	framesPerBuffer := int(int64(s.sampleRate) * int64(s.frameDuration) / int64(time.Second))
	buf := make([]int16, framesPerBuffer*s.channels)

	params := portaudio.LowLatencyParameters(dev, nil)
	params.Input.Channels = s.channels
	params.SampleRate = float64(s.sampleRate)
	params.FramesPerBuffer = framesPerBuffer

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, &audio.CaptureFailure{Device: dev.Name, Err: fmt.Errorf("open stream: %w", err)}
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, &audio.CaptureFailure{Device: dev.Name, Err: fmt.Errorf("start stream: %w", err)}
	}

	slog.Info("portaudio: capture started",
		"device", dev.Name,
		"sample_rate", s.sampleRate,
		"channels", s.channels,
	)

	s.mu.Lock()
	s.err = nil
	s.done = make(chan struct{})
	s.finished = make(chan struct{})
	s.closeOnce = sync.Once{}
	done, finished := s.done, s.finished
	s.mu.Unlock()

	out := make(chan audio.Frame, 64)
	go func() {
		defer close(finished)
		defer close(out)
		defer func() {
			_ = stream.Stop()
			_ = stream.Close()
			_ = portaudio.Terminate()
		}()

		var elapsed time.Duration
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			default:
			}

			if err := stream.Read(); err != nil {
				if errors.Is(err, portaudio.InputOverflowed) {
					slog.Warn("portaudio: input overflowed, samples dropped", "device", dev.Name)
					continue
				}
				s.setErr(&audio.CaptureFailure{Device: dev.Name, Err: fmt.Errorf("read: %w", err)})
				return
			}

			data := make([]byte, len(buf)*2)
			for i, v := range buf {
				data[i*2] = byte(v)
				data[i*2+1] = byte(v >> 8)
			}
			frame := audio.Frame{
				Data:       data,
				SampleRate: s.sampleRate,
				Channels:   s.channels,
				Timestamp:  elapsed,
			}
			elapsed += s.frameDuration

			select {
			case out <- frame:
			case <-done:
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

// Close stops capture and waits for the device to be released.
func (s *Source) Close() error {
	s.mu.Lock()
	done, finished := s.done, s.finished
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	s.closeOnce.Do(func() { close(done) })
	<-finished
	return nil
}

func (s *Source) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Devices lists the available input devices.
func Devices() ([]audio.Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	defer portaudio.Terminate()

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	var out []audio.Device
	for _, d := range infos {
		if d.MaxInputChannels < 1 {
			continue
		}
		out = append(out, audio.Device{
			Index:             d.Index,
			Name:              d.Name,
			MaxInputChannels:  d.MaxInputChannels,
			DefaultSampleRate: d.DefaultSampleRate,
			Default:           def != nil && def.Index == d.Index,
		})
	}
	return out, nil
}

// findDevice resolves a device selector. Must be called after Initialize.
func findDevice(selector string) (*portaudio.DeviceInfo, error) {
	if selector == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}
		return dev, nil
	}

	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if idx, convErr := strconv.Atoi(selector); convErr == nil {
		for _, d := range infos {
			if d.Index == idx && d.MaxInputChannels > 0 {
				return d, nil
			}
		}
		return nil, fmt.Errorf("no input device with index %d", idx)
	}
	needle := strings.ToLower(selector)
	for _, d := range infos {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), needle) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input device matching %q", selector)
}
