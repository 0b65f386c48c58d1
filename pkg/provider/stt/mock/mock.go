// Package mock provides a test double for the stt.Provider interface.
//
// Responses are scripted per call or computed by a function. Every call is
// recorded so tests can assert on what the caller sent.
//
// Example:
//
//	p := &mock.Provider{
//	    TranscribeFunc: func(_ context.Context, req stt.Request) (stt.Result, error) {
//	        return stt.Result{Text: "hello"}, nil
//	    },
//	}
//	res, _ := p.Transcribe(ctx, stt.Request{Audio: pcm})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/dictate/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Req is the request passed to Transcribe, with Audio copied.
	Req stt.Request
}

// Response is one scripted result for Provider.Responses.
type Response struct {
	Result stt.Result
	Err    error
}

// Provider is a mock implementation of stt.Provider.
//
// Precedence: TranscribeFunc, then Responses (consumed in order, the last one
// repeats), then Result/Err.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// TranscribeFunc, if set, computes the response.
	TranscribeFunc func(ctx context.Context, req stt.Request) (stt.Result, error)

	// Responses are returned in call order.
	Responses []Response

	// Result and Err are returned when nothing else is configured.
	Result stt.Result
	Err    error

	// TranscribeCalls records every call to Transcribe.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured response.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Result, error) {
	p.mu.Lock()
	cp := req
	cp.Audio = append([]byte(nil), req.Audio...)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Req: cp})
	n := len(p.TranscribeCalls)
	fn := p.TranscribeFunc
	var scripted *Response
	if len(p.Responses) > 0 {
		r := p.Responses[min(n, len(p.Responses))-1]
		scripted = &r
	}
	res, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if scripted != nil {
		return scripted.Result, scripted.Err
	}
	return res, err
}

// Name implements stt.Namer.
func (p *Provider) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranscribeCall(nil), p.TranscribeCalls...)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var (
	_ stt.Provider = (*Provider)(nil)
	_ stt.Namer    = (*Provider)(nil)
)
