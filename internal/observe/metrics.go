// Package observe provides observability primitives for sonoscribe:
// OpenTelemetry metrics, tracing, and HTTP middleware that ties them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/sonoscribe/sonoscribe"

// Metrics holds all OpenTelemetry metric instruments for the daemon.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TranscriptionDuration tracks per-window inference latency. Use with
	// attribute.String("engine", "final"|"partial"|"pipeline").
	TranscriptionDuration metric.Float64Histogram

	// ChunksRouted counts audio chunks delivered to the transcription feed.
	ChunksRouted metric.Int64Counter

	// Segments counts produced transcript segments. Use with
	// attribute.String("kind", "final"|"partial").
	Segments metric.Int64Counter

	// PipelinePauses counts breaker trips of the transcription pipeline.
	PipelinePauses metric.Int64Counter

	// CycleErrors counts failed transcription cycles.
	CycleErrors metric.Int64Counter

	// Subscribers tracks connected live-transcript WebSocket clients.
	Subscribers metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method", ...), attribute.String("path", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// whisper inference over 3 s windows.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("sonoscribe.transcription.duration",
		metric.WithDescription("Per-window transcription latency by engine."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChunksRouted, err = m.Int64Counter("sonoscribe.chunks.routed",
		metric.WithDescription("Audio chunks routed to the transcription feed."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("sonoscribe.segments",
		metric.WithDescription("Transcript segments produced, by kind."),
	); err != nil {
		return nil, err
	}
	if met.PipelinePauses, err = m.Int64Counter("sonoscribe.pipeline.pauses",
		metric.WithDescription("Times the transcription pipeline paused after repeated failures."),
	); err != nil {
		return nil, err
	}
	if met.CycleErrors, err = m.Int64Counter("sonoscribe.cycle.errors",
		metric.WithDescription("Failed transcription cycles."),
	); err != nil {
		return nil, err
	}
	if met.Subscribers, err = m.Int64UpDownCounter("sonoscribe.subscribers",
		metric.WithDescription("Connected live-transcript subscribers."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("sonoscribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// RecordTranscription records one engine inference over a window.
func (m *Metrics) RecordTranscription(ctx context.Context, engine string, d time.Duration) {
	m.TranscriptionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("engine", engine)))
}

// RecordChunk counts one routed chunk.
func (m *Metrics) RecordChunk(ctx context.Context) {
	m.ChunksRouted.Add(ctx, 1)
}

// RecordSegments counts produced segments of one kind.
func (m *Metrics) RecordSegments(ctx context.Context, kind string, n int64) {
	if n == 0 {
		return
	}
	m.Segments.Add(ctx, n,
		metric.WithAttributes(attribute.String("kind", kind)))
}
