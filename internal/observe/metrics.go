// Package observe provides application-wide observability primitives for
// chipi: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all chipi metrics.
const meterName = "github.com/chytonpide/chipi"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per turn phase ---

	// CaptureDuration tracks one listen phase, from opening the microphone
	// to the recognizer's answer.
	CaptureDuration metric.Float64Histogram

	// InferenceDuration tracks reasoning backend latency.
	InferenceDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// PlaybackDuration tracks how long a clip took to play.
	PlaybackDuration metric.Float64Histogram

	// TurnDuration tracks a full listen→infer→speak turn.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// TurnOutcomes counts finished turns. Use with attribute:
	//   attribute.String("outcome", ...)
	TurnOutcomes metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// SensorReadings counts readings posted to the telemetry server. Use
	// with attribute:
	//   attribute.String("status", ...)
	SensorReadings metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// GestureFaults counts swallowed actuator errors.
	GestureFaults metric.Int64Counter

	// --- Gauges ---

	// StreamSubscribers tracks live websocket subscribers of the sensor feed.
	StreamSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for the
// voice loop. Listen phases and playback run for several seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.CaptureDuration, "chipi.capture.duration", "Latency of one listen phase."},
		{&met.InferenceDuration, "chipi.inference.duration", "Latency of the reasoning backend."},
		{&met.SynthesisDuration, "chipi.synthesis.duration", "Latency of text-to-speech synthesis."},
		{&met.PlaybackDuration, "chipi.playback.duration", "Duration of audio playback."},
		{&met.TurnDuration, "chipi.turn.duration", "Duration of a full conversation turn."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	// Counters.
	if met.TurnOutcomes, err = m.Int64Counter("chipi.turn.outcomes",
		metric.WithDescription("Total finished turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("chipi.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.SensorReadings, err = m.Int64Counter("chipi.sensor.readings",
		metric.WithDescription("Total sensor readings received by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("chipi.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.GestureFaults, err = m.Int64Counter("chipi.gesture.faults",
		metric.WithDescription("Total actuator faults swallowed by the gesture controller."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.StreamSubscribers, err = m.Int64UpDownCounter("chipi.sensor.stream_subscribers",
		metric.WithDescription("Number of live sensor stream subscribers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("chipi.http.request.duration",
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordTurn records the outcome and duration of a finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.TurnOutcomes.Add(ctx, 1, attrs)
	m.TurnDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordGestureFault counts a swallowed actuator error.
func (m *Metrics) RecordGestureFault(ctx context.Context, motion string) {
	m.GestureFaults.Add(ctx, 1, metric.WithAttributes(attribute.String("motion", motion)))
}

// RecordSensorReading counts a posted sensor reading.
func (m *Metrics) RecordSensorReading(ctx context.Context, status string) {
	m.SensorReadings.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
