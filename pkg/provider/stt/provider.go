// Package stt defines the Provider interface for speech-to-text backends.
//
// A Provider wraps a transcription service (e.g., the OpenAI audio API, a
// local whisper.cpp server, or Deepgram) behind a single request/response
// call: one bounded audio chunk in, one transcript out. The dictation engine
// chunks and schedules audio itself, so providers never need to keep state
// across calls.
//
// Errors returned by providers should be [*Error] values so callers can tell
// transient failures (worth retrying) from permanent ones. [Classify] maps any
// error, wrapped or not, to a [Kind].
//
// Implementations must be safe for concurrent use; the dispatcher calls
// Transcribe from several goroutines at once.
package stt

import (
	"context"

	"github.com/MrWong99/dictate/pkg/audio"
)

// Request is a single transcription call.
type Request struct {
	// Audio is little-endian signed 16-bit PCM in Format.
	Audio []byte

	// Format describes Audio. The engine always sends [audio.STTFormat].
	Format audio.Format

	// Language is a BCP-47 / ISO-639-1 hint (e.g., "en"). Empty lets the
	// backend auto-detect.
	Language string

	// Prompt is free text that biases recognition (previous sentence, domain
	// vocabulary). Backends that don't support prompts ignore it.
	Prompt string

	// Keywords are vocabulary hints for backends with keyword boosting.
	Keywords []KeywordBoost
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe sends one audio chunk and returns its transcript. The call
	// must honour ctx cancellation and deadlines.
	//
	// An empty Result.Text with a nil error means the chunk held no speech.
	Transcribe(ctx context.Context, req Request) (Result, error)
}

// Namer is implemented by providers that can report a stable name for logs
// and metrics.
type Namer interface {
	Name() string
}

// NameOf returns p's name when it implements [Namer], otherwise "unknown".
func NameOf(p Provider) string {
	if n, ok := p.(Namer); ok {
		return n.Name()
	}
	return "unknown"
}
