package resilience

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/dictate/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// transcription backends. Each backend has its own circuit breaker.
//
// Cancellation and errors that no other backend can fix (the chunk itself is
// malformed) are returned without trying the next backend.
type STTFallback struct {
	chain *Chain[stt.Provider]
}

// Compile-time interface assertions.
var (
	_ stt.Provider = (*STTFallback)(nil)
	_ stt.Namer    = (*STTFallback)(nil)
)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
// cfg.ShouldFailover is replaced by the transcription-specific policy.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	cfg.ShouldFailover = sttShouldFailover
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = STTBreakerFailure
	}
	return &STTFallback{chain: NewChain(primaryName, primary, cfg)}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.chain.Add(name, provider)
}

// Transcribe sends req to the first healthy backend, moving to the next one
// on transient or auth failures.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	return Call(ctx, f.chain, func(ctx context.Context, p stt.Provider) (stt.Result, error) {
		return p.Transcribe(ctx, req)
	})
}

// Name implements [stt.Namer], e.g. "openai>deepgram".
func (f *STTFallback) Name() string {
	return strings.Join(f.chain.Names(), ">")
}

// Breakers reports each backend's breaker state.
func (f *STTFallback) Breakers() map[string]State { return f.chain.States() }

// ResetBreakers closes every backend's breaker. The session controller calls
// it when a session starts.
func (f *STTFallback) ResetBreakers() { f.chain.Reset() }

// STTBreakerFailure reports whether a transcription error says something about
// the backend's health. Cancellations and permanent per-request errors do not.
func STTBreakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return stt.Classify(err) != stt.KindPermanent
}

func sttShouldFailover(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return stt.Classify(err) != stt.KindPermanent
}
