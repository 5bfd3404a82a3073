// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, tracing helpers, structured logging, and HTTP
// middleware for the ops endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/pkruczek/vetsono"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// StageDuration tracks pipeline stage latency. Use with attribute:
	//   attribute.String("stage", ...) — transcribe, facts, impression,
	//   analysis, report.
	StageDuration metric.Float64Histogram

	// TranscriptionRunDuration tracks the latency of a single STT run,
	// including the wide-beam retry. Use with attribute:
	//   attribute.Int("beam_size", ...)
	TranscriptionRunDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...),
	//   attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors by provider and kind.
	ProviderErrors metric.Int64Counter

	// ParseRetries counts extraction calls that needed the corrective
	// second attempt. Use with attribute: attribute.String("stage", ...)
	ParseRetries metric.Int64Counter

	// Fallbacks counts deterministic fallbacks (synthesis disclaimer,
	// boilerplate recommendations). Use with attribute:
	//   attribute.String("stage", ...)
	Fallbacks metric.Int64Counter

	// TranscriptQuality distributes the quality score of adopted
	// transcripts.
	TranscriptQuality metric.Int64Histogram

	// ExamsProcessed counts completed pipeline runs by final status.
	ExamsProcessed metric.Int64Counter

	// ActiveExams tracks the number of exams currently in the pipeline.
	ActiveExams metric.Int64UpDownCounter

	// HTTPRequestDuration tracks ops endpoint request latency by method
	// and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries in seconds. Stages run
// batch LLM and STT calls, so the range is wider than a request-serving
// profile.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// scoreBuckets covers the 0–100 quality score range.
var scoreBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.StageDuration, err = m.Float64Histogram("vetsono.stage.duration",
		metric.WithDescription("Latency of one pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscriptionRunDuration, err = m.Float64Histogram("vetsono.transcription.run.duration",
		metric.WithDescription("Latency of a single speech-to-text run."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("vetsono.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("vetsono.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ParseRetries, err = m.Int64Counter("vetsono.parse.retries",
		metric.WithDescription("Extraction calls that needed the corrective retry."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("vetsono.fallbacks",
		metric.WithDescription("Deterministic fallbacks taken by stage."),
	); err != nil {
		return nil, err
	}
	if met.ExamsProcessed, err = m.Int64Counter("vetsono.exams.processed",
		metric.WithDescription("Completed pipeline runs by final status."),
	); err != nil {
		return nil, err
	}

	if met.TranscriptQuality, err = m.Int64Histogram("vetsono.transcript.quality",
		metric.WithDescription("Quality score of adopted transcripts."),
		metric.WithExplicitBucketBoundaries(scoreBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ActiveExams, err = m.Int64UpDownCounter("vetsono.active_exams",
		metric.WithDescription("Exams currently in the pipeline."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("vetsono.http.request.duration",
		metric.WithDescription("Ops endpoint request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordStage records one stage's duration in seconds.
func (m *Metrics) RecordStage(ctx context.Context, stage string, seconds float64) {
	m.StageDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordParseRetry records a corrective extraction retry for a stage.
func (m *Metrics) RecordParseRetry(ctx context.Context, stage string) {
	m.ParseRetries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordExamProcessed records a completed pipeline run with its final
// status ("ok" or "failed").
func (m *Metrics) RecordExamProcessed(ctx context.Context, status string) {
	m.ExamsProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordFallback records a deterministic fallback taken by a stage.
func (m *Metrics) RecordFallback(ctx context.Context, stage string) {
	m.Fallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
