// Package observe provides application-wide observability primitives for
// Tasmee: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Tasmee metrics.
const meterName = "github.com/hifzlab/tasmee"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Session histograms ---

	// SessionDuration tracks wall-clock duration of verification sessions
	// from READY to their terminal state.
	SessionDuration metric.Float64Histogram

	// SessionAccuracy tracks the final accuracy percentage of completed
	// sessions.
	SessionAccuracy metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts transcription provider streams. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("role", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// VerifiedWords counts settled word verdicts. Use with attribute:
	//   attribute.String("verdict", ...) ("correct" or "error")
	VerifiedWords metric.Int64Counter

	// Failovers counts primary-to-backup provider switches.
	Failovers metric.Int64Counter

	// DroppedFrames counts audio frames discarded because a session queue
	// was full.
	DroppedFrames metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("role", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live verification sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// request-scale latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for whole
// recitation sessions, which run from a few seconds to many minutes.
var sessionBuckets = []float64{
	1, 5, 10, 30, 60, 120, 300, 600, 1800,
}

// accuracyBuckets defines histogram bucket boundaries (in percent) for final
// session accuracy.
var accuracyBuckets = []float64{
	10, 25, 50, 70, 80, 90, 95, 99, 100,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("tasmee.session.duration",
		metric.WithDescription("Wall-clock duration of verification sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionAccuracy, err = m.Float64Histogram("tasmee.session.accuracy",
		metric.WithDescription("Final accuracy percentage of completed sessions."),
		metric.WithUnit("%"),
		metric.WithExplicitBucketBoundaries(accuracyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("tasmee.provider.requests",
		metric.WithDescription("Total transcription streams by provider, role, and status."),
	); err != nil {
		return nil, err
	}
	if met.VerifiedWords, err = m.Int64Counter("tasmee.words.verified",
		metric.WithDescription("Total settled word verdicts by verdict."),
	); err != nil {
		return nil, err
	}
	if met.Failovers, err = m.Int64Counter("tasmee.session.failovers",
		metric.WithDescription("Total primary-to-backup provider switches."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("tasmee.audio.dropped_frames",
		metric.WithDescription("Total audio frames discarded due to full session queues."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("tasmee.provider.errors",
		metric.WithDescription("Total provider failures by provider and role."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("tasmee.active_sessions",
		metric.WithDescription("Number of live verification sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("tasmee.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// stream counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, role, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("role", role),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, role string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("role", role),
		),
	)
}

// RecordVerifiedWords records settled word verdicts, split by outcome. Zero
// counts are skipped so empty updates do not create data points.
func (m *Metrics) RecordVerifiedWords(ctx context.Context, correct, wrong int64) {
	if correct > 0 {
		m.VerifiedWords.Add(ctx, correct,
			metric.WithAttributes(attribute.String("verdict", "correct")),
		)
	}
	if wrong > 0 {
		m.VerifiedWords.Add(ctx, wrong,
			metric.WithAttributes(attribute.String("verdict", "error")),
		)
	}
}

// RecordSessionResult records the duration and accuracy histograms for a
// finished verification session.
func (m *Metrics) RecordSessionResult(ctx context.Context, seconds, accuracy float64) {
	m.SessionDuration.Record(ctx, seconds)
	m.SessionAccuracy.Record(ctx, accuracy)
}
