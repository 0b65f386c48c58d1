// Package observe provides application-wide observability primitives for
// dictate: OpenTelemetry metrics, tracing, trace-correlated logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. The daemon
// calls [Init], which exports them to a Prometheus registry served by
// [Telemetry.Handler]. Components fall back to [DefaultMetrics] on the
// global provider; tests build their own with [NewMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all dictate metrics.
const meterName = "github.com/MrWong99/dictate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks the latency of a single transcription attempt. Use
	// with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	STTDuration metric.Float64Histogram

	// MergeDuration tracks how long one Apply call on the merge engine takes.
	MergeDuration metric.Float64Histogram

	// FinalizeLatency tracks the time from Stop until the final result is
	// published.
	FinalizeLatency metric.Float64Histogram

	// SessionDuration tracks recorded audio length per session. Use with
	// attribute:
	//   attribute.String("outcome", ...)
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// Chunks counts chunks emitted by the chunker. Use with attribute:
	//   attribute.String("reason", ...)
	Chunks metric.Int64Counter

	// STTRetries counts transcription attempts after the first.
	STTRetries metric.Int64Counter

	// ChunkFailures counts chunks that resolved as failed. Use with attribute:
	//   attribute.String("kind", ...)
	ChunkFailures metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions is 1 while a dictation session is recording or
	// finalizing.
	ActiveSessions metric.Int64UpDownCounter

	// InFlightRequests tracks transcription requests currently holding a
	// dispatcher slot.
	InFlightRequests metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks control API request time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// cloud transcription round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// mergeBuckets covers the sub-millisecond range of in-memory merging.
var mergeBuckets = []float64{
	0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01,
}

// sessionBuckets covers recordings up to the ten-minute ceiling.
var sessionBuckets = []float64{
	1, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("dictate.stt.duration",
		metric.WithDescription("Latency of one speech-to-text attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MergeDuration, err = m.Float64Histogram("dictate.merge.duration",
		metric.WithDescription("Time spent merging one transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(mergeBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FinalizeLatency, err = m.Float64Histogram("dictate.finalize.latency",
		metric.WithDescription("Time from stop request to published result."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("dictate.session.duration",
		metric.WithDescription("Recorded audio per session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Chunks, err = m.Int64Counter("dictate.chunks",
		metric.WithDescription("Audio chunks emitted by cut reason."),
	); err != nil {
		return nil, err
	}
	if met.STTRetries, err = m.Int64Counter("dictate.stt.retries",
		metric.WithDescription("Transcription attempts beyond the first."),
	); err != nil {
		return nil, err
	}
	if met.ChunkFailures, err = m.Int64Counter("dictate.stt.failures",
		metric.WithDescription("Chunks whose transcription failed, by error kind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("dictate.provider.requests",
		metric.WithDescription("Total provider API requests by provider and status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("dictate.sessions.active",
		metric.WithDescription("Dictation sessions currently recording or finalizing."),
	); err != nil {
		return nil, err
	}
	if met.InFlightRequests, err = m.Int64UpDownCounter("dictate.stt.in_flight",
		metric.WithDescription("Transcription requests holding a dispatch slot."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("dictate.http.request.duration",
		metric.WithDescription("Control API request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSTTRequest records one transcription attempt: the request counter
// and the latency histogram share the provider and status attributes.
func (m *Metrics) RecordSTTRequest(ctx context.Context, provider, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.STTDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordChunk counts an emitted chunk.
func (m *Metrics) RecordChunk(ctx context.Context, reason string) {
	m.Chunks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordChunkFailure counts a failed chunk.
func (m *Metrics) RecordChunkFailure(ctx context.Context, kind string) {
	m.ChunkFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSession records the end of a session.
func (m *Metrics) RecordSession(ctx context.Context, outcome string, recorded time.Duration) {
	m.SessionDuration.Record(ctx, recorded.Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}
