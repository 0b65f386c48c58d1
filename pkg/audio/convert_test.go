package audio_test

import (
	"bytes"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/dictate/pkg/audio"
)

func TestSamplesPCM(t *testing.T) {
	t.Parallel()

	in := []int16{0, 1, -1, 32767, -32768}
	pcm := audio.PCM(in)
	if !bytes.Equal(pcm[:6], []byte{0, 0, 1, 0, 0xff, 0xff}) {
		t.Errorf("PCM = % x", pcm[:6])
	}
	if got := audio.Samples(append(pcm, 7)); !slices.Equal(got, in) {
		t.Errorf("Samples = %v, want %v (odd byte ignored)", got, in)
	}
}

func TestDownmix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []int16
		channels int
		want     []int16
	}{
		{"stereo", []int16{100, 200, -100, -200}, 2, []int16{150, -150}},
		{"stereo at full scale", []int16{32767, 32767, -32768, -32768}, 2, []int16{32767, -32768}},
		{"four channels", []int16{4, 8, 12, 16}, 4, []int16{10}},
		{"partial sample frame", []int16{2, 4, 6}, 2, []int16{3}},
		{"mono", []int16{1, 2, 3}, 1, []int16{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := audio.Downmix(tt.in, tt.channels); !slices.Equal(got, tt.want) {
				t.Errorf("Downmix = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestResample(t *testing.T) {
	t.Parallel()

	ramp := make([]int16, 480)
	for i := range ramp {
		ramp[i] = int16(i * 10)
	}
	tests := []struct {
		name     string
		from, to int
		wantLen  int
	}{
		{"same rate", 16000, 16000, 480},
		{"48k to 16k", 48000, 16000, 160},
		{"44.1k to 16k", 44100, 16000, 174},
		{"8k to 16k", 8000, 16000, 960},
		{"invalid rate", 0, 16000, 480},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := audio.Resample(ramp, tt.from, tt.to)
			if len(got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(got), tt.wantLen)
			}
			if !slices.IsSorted(got) {
				t.Error("resampled ramp is not monotonic")
			}
		})
	}

	// Downsampling by an integer factor picks every third sample.
	if got := audio.Resample([]int16{0, 1, 2, 3, 4, 5}, 48000, 16000); !slices.Equal(got, []int16{0, 3}) {
		t.Errorf("48k to 16k = %v, want [0 3]", got)
	}
	// Upsampling interpolates and holds the final sample.
	if got := audio.Resample([]int16{0, 100}, 8000, 16000); !slices.Equal(got, []int16{0, 50, 100, 100}) {
		t.Errorf("8k to 16k = %v, want [0 50 100 100]", got)
	}
}

func TestFormatConverter(t *testing.T) {
	t.Parallel()

	constant := func(n int, v int16) []byte {
		s := make([]int16, n)
		for i := range s {
			s[i] = v
		}
		return audio.PCM(s)
	}
	tests := []struct {
		name        string
		in          audio.Frame
		wantSamples int
		wantValue   int16
	}{
		{"already 16k mono", audio.Frame{Data: constant(160, 7), SampleRate: 16000, Channels: 1}, 160, 7},
		{"48k stereo", audio.Frame{Data: constant(960, 1000), SampleRate: 48000, Channels: 2}, 160, 1000},
		{"44.1k mono", audio.Frame{Data: constant(441, -250), SampleRate: 44100, Channels: 1}, 160, -250},
		{"channels unset", audio.Frame{Data: constant(160, 3), SampleRate: 16000}, 160, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			conv := audio.FormatConverter{Target: audio.STTFormat}
			tt.in.Timestamp = 2 * time.Second
			out := conv.Convert(tt.in)
			if out.SampleRate != 16000 || max(out.Channels, 1) != 1 || out.Timestamp != 2*time.Second {
				t.Fatalf("frame = %dHz/%dch at %s", out.SampleRate, out.Channels, out.Timestamp)
			}
			s := audio.Samples(out.Data)
			if len(s) != tt.wantSamples {
				t.Fatalf("samples = %d, want %d", len(s), tt.wantSamples)
			}
			for i, v := range s {
				if v != tt.wantValue {
					t.Fatalf("sample %d = %d, want %d", i, v, tt.wantValue)
				}
			}
		})
	}
}

func TestFormatConverter_PassthroughSharesBuffer(t *testing.T) {
	t.Parallel()
	conv := audio.FormatConverter{Target: audio.STTFormat}
	in := audio.Frame{Data: audio.PCM([]int16{1, 2}), SampleRate: 16000, Channels: 1}
	if out := conv.Convert(in); &out.Data[0] != &in.Data[0] {
		t.Error("matching format was copied")
	}
}

func TestFormatConverter_DropsMisaligned(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	conv := audio.FormatConverter{
		Target: audio.STTFormat,
		Logger: slog.New(slog.NewTextHandler(&logs, nil)),
	}
	for _, data := range [][]byte{{1, 2, 3}, {1, 2, 3, 4, 5, 6}} {
		out := conv.Convert(audio.Frame{Data: data, SampleRate: 48000, Channels: 2})
		if len(out.Data) != 0 {
			t.Errorf("%d bytes: got %d bytes out, want the frame dropped", len(data), len(out.Data))
		}
	}
	if conv.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", conv.Dropped())
	}
	if n := strings.Count(logs.String(), "misaligned"); n != 1 {
		t.Errorf("warned %d times, want once", n)
	}
}

func TestFormat(t *testing.T) {
	t.Parallel()

	f := audio.STTFormat
	if got := f.Bytes(2 * time.Second); got != 64000 {
		t.Errorf("Bytes(2s) = %d, want 64000", got)
	}
	if got := f.Duration(16000); got != 500*time.Millisecond {
		t.Errorf("Duration(16000) = %v, want 500ms", got)
	}
	if got := f.Bytes(time.Millisecond / 3); got%2 != 0 {
		t.Errorf("Bytes not sample aligned: %d", got)
	}
	for format, want := range map[audio.Format]string{
		audio.STTFormat: "16000Hz mono",
		{SampleRate: 48000, Channels: 2}: "48000Hz stereo",
		{SampleRate: 44100, Channels: 6}: "44100Hz 6ch",
	} {
		if got := format.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}
