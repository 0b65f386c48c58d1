package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Kind classifies a transcription failure.
type Kind int

const (
	// KindTransient failures (timeouts, 5xx, rate limits, network errors) may
	// succeed on retry.
	KindTransient Kind = iota

	// KindPermanent failures (malformed audio, bad request) will fail again.
	KindPermanent

	// KindAuth failures (missing or rejected credentials) affect every
	// request to the backend, not just the current chunk.
	KindAuth
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// ErrEmptyAudio is returned when a request carries no audio.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Error is a classified provider failure.
type Error struct {
	// Provider names the backend that failed.
	Provider string

	// Kind is the failure class.
	Kind Kind

	// StatusCode is the HTTP status, when the failure came from an HTTP response.
	StatusCode int

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (HTTP %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Provider, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// NewStatusError builds an [*Error] from an HTTP status code.
func NewStatusError(provider string, status int, err error) *Error {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	return &Error{Provider: provider, Kind: ClassifyStatus(status), StatusCode: status, Err: err}
}

// ClassifyStatus maps an HTTP status code to a failure kind.
func ClassifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusPaymentRequired:
		return KindAuth
	case status == http.StatusRequestTimeout, status == http.StatusTooEarly, status == http.StatusTooManyRequests:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindPermanent
	default:
		return KindTransient
	}
}

// Classify returns the failure kind of err. Classified [*Error] values keep
// their kind; otherwise deadlines, network errors and truncated responses
// count as transient, and cancellation or empty audio as permanent. Anything
// unrecognised is assumed transient so it gets a bounded number of retries.
func Classify(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, ErrEmptyAudio):
		return KindPermanent
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindTransient
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	return err != nil && Classify(err) == KindTransient
}
