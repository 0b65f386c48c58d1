package audio

import (
	"encoding/binary"
	"log/slog"
	"math"
)

// FormatConverter brings capture frames to Target, normally [STTFormat].
// Multi-channel input is averaged to mono and then linearly resampled, so
// Target must be mono. Frames whose byte length is not a whole number of
// sample frames are dropped.
//
// A FormatConverter belongs to a single stream and is not safe for
// concurrent use.
type FormatConverter struct {
	Target Format

	// Logger receives the one-time conversion notice and drop warnings.
	// Default: slog.Default().
	Logger *slog.Logger

	announced bool
	dropped   int
}

// Convert returns f in the target format. Frames already in the target
// format are returned as is, sharing their buffer.
func (c *FormatConverter) Convert(f Frame) Frame {
	channels := max(f.Channels, 1)
	out := Frame{SampleRate: c.Target.SampleRate, Channels: 1, Timestamp: f.Timestamp}

	if len(f.Data)%(2*channels) != 0 {
		c.dropped++
		if c.dropped == 1 {
			c.logger().Warn("audio: dropping misaligned frame",
				"bytes", len(f.Data),
				"format", Format{SampleRate: f.SampleRate, Channels: channels}.String(),
			)
		}
		return out
	}
	if channels == 1 && f.SampleRate == c.Target.SampleRate {
		return f
	}

	if !c.announced {
		c.announced = true
		c.logger().Debug("audio: converting capture format",
			"from", Format{SampleRate: f.SampleRate, Channels: channels}.String(),
			"to", c.Target.String(),
		)
	}
	s := Downmix(Samples(f.Data), channels)
	s = Resample(s, f.SampleRate, c.Target.SampleRate)
	out.Data = PCM(s)
	return out
}

// Dropped returns the number of misaligned frames discarded so far.
func (c *FormatConverter) Dropped() int { return c.dropped }

func (c *FormatConverter) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Samples decodes little-endian signed 16-bit PCM. A trailing odd byte is
// ignored.
func Samples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return out
}

// PCM encodes samples as little-endian signed 16-bit PCM.
func PCM(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// Downmix averages interleaved channels into one. Partial trailing sample
// frames are ignored.
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	out := make([]int16, len(samples)/channels)
	for i := range out {
		var sum int32
		for _, s := range samples[i*channels : (i+1)*channels] {
			sum += int32(s)
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// Resample converts mono samples from rate from to rate to by linear
// interpolation. Invalid or equal rates return the input.
func Resample(samples []int16, from, to int) []int16 {
	if from <= 0 || to <= 0 || from == to || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]int16, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(math.Round(float64(samples[j])*(1-frac) + float64(samples[j+1])*frac))
	}
	return out
}
