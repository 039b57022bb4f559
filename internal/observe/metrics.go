// Package observe provides application-wide observability primitives for
// Fablespeak: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all Fablespeak metrics.
const meterName = "github.com/fablespeak/fablespeak"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks per-attempt provider latency. Use with
	// attributes: provider, usage_context, status.
	TranscriptionDuration metric.Float64Histogram

	// JudgeDuration tracks Match/Judgment Engine latency per verdict.
	JudgeDuration metric.Float64Histogram

	// TurnDuration tracks full turn latency, first chunk to final event.
	TurnDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: method, path.
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts transcription attempts. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("usage_context", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts failed transcription attempts. Use with
	// attributes: provider, usage_context.
	ProviderErrors metric.Int64Counter

	// Verdicts counts judgments by match type and narrative tag.
	Verdicts metric.Int64Counter

	// Events counts outbound protocol events by event name.
	Events metric.Int64Counter

	// RejectedChunks counts audio chunks refused by a byte cap. Use with
	// attribute: cap ("chunk", "session", "buffer").
	RejectedChunks metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live streaming sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for speech-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("fablespeak.transcription.duration",
		metric.WithDescription("Latency of individual transcription provider attempts."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JudgeDuration, err = m.Float64Histogram("fablespeak.judge.duration",
		metric.WithDescription("Latency of transcript judgment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("fablespeak.turn.duration",
		metric.WithDescription("Duration of a full speak-and-be-judged turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("fablespeak.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("fablespeak.provider.requests",
		metric.WithDescription("Total transcription attempts by provider, usage context, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("fablespeak.provider.errors",
		metric.WithDescription("Total failed transcription attempts by provider and usage context."),
	); err != nil {
		return nil, err
	}
	if met.Verdicts, err = m.Int64Counter("fablespeak.judge.verdicts",
		metric.WithDescription("Total judgments by match type and narrative tag."),
	); err != nil {
		return nil, err
	}
	if met.Events, err = m.Int64Counter("fablespeak.protocol.events",
		metric.WithDescription("Total outbound protocol events by event name."),
	); err != nil {
		return nil, err
	}
	if met.RejectedChunks, err = m.Int64Counter("fablespeak.session.rejected_chunks",
		metric.WithDescription("Audio chunks rejected by a byte cap."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("fablespeak.active_sessions",
		metric.WithDescription("Number of live streaming sessions."),
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

// RecordProviderAttempt records one transcription attempt with the standard
// attribute set, incrementing the error counter for failures.
func (m *Metrics) RecordProviderAttempt(ctx context.Context, provider, usageContext, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("usage_context", usageContext),
		attribute.String("status", status),
	)
	m.ProviderRequests.Add(ctx, 1, attrs)
	m.TranscriptionDuration.Record(ctx, seconds, attrs)
	if status != "ok" {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("usage_context", usageContext),
		))
	}
}

// RecordVerdict records one judgment outcome.
func (m *Metrics) RecordVerdict(ctx context.Context, matchType, tag string, seconds float64) {
	m.Verdicts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("match", matchType),
		attribute.String("tag", tag),
	))
	m.JudgeDuration.Record(ctx, seconds)
}

// RecordEvent records one outbound protocol event.
func (m *Metrics) RecordEvent(ctx context.Context, event string) {
	m.Events.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

// RecordRejectedChunk records a chunk refused by the named byte cap.
func (m *Metrics) RecordRejectedChunk(ctx context.Context, capName string) {
	m.RejectedChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("cap", capName)))
}
