package audio

import (
	"strconv"
	"time"
)

// Frame is a single block of PCM audio as delivered by a capture [Source].
// Data is little-endian signed 16-bit PCM, interleaved when Channels > 1.
type Frame struct {
	// PCM audio data.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for a typical sound card, 16000 for STT).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// STTFormat is the canonical capture format for transcription: mono 16 kHz
// signed 16-bit PCM.
var STTFormat = Format{SampleRate: 16000, Channels: 1}

// BytesPerSecond returns the byte rate of 16-bit PCM in format f.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Bytes returns the number of PCM bytes covering d in format f, aligned to
// a whole sample frame.
func (f Format) Bytes(d time.Duration) int {
	frame := f.Channels * 2
	if frame <= 0 {
		return 0
	}
	n := int(int64(d) * int64(f.BytesPerSecond()) / int64(time.Second))
	return n - n%frame
}

// Duration returns the playback duration of n PCM bytes in format f.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	layout := "mono"
	switch {
	case f.Channels == 2:
		layout = "stereo"
	case f.Channels > 2:
		layout = strconv.Itoa(f.Channels) + "ch"
	}
	return strconv.Itoa(f.SampleRate) + "Hz " + layout
}
