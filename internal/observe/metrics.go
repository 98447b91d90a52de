// Package observe provides application-wide observability primitives for
// hearguard: OpenTelemetry metrics, tracing, and the Prometheus exporter
// bridge.
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

// meterName is the instrumentation scope name used for all hearguard metrics.
const meterName = "github.com/hearguard/hearguard"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// AnalysisDuration tracks per-frame analysis latency. The 100 ms
	// budget sits in the middle of the bucket range so overruns are
	// visible in the histogram shape.
	AnalysisDuration metric.Float64Histogram

	// FramesAnalyzed counts completed analyses. Use with attributes:
	//   attribute.String("mode", ...), attribute.Bool("hazardous", ...)
	FramesAnalyzed metric.Int64Counter

	// FramesSkipped counts frames dropped for invalid sample data.
	FramesSkipped metric.Int64Counter

	// FramesDropped counts frames discarded by queue backpressure.
	FramesDropped metric.Int64Counter

	// TransformFailures counts weighting-transform failures that forced
	// the fallback path.
	TransformFailures metric.Int64Counter

	// AnalysisOverruns counts analyses that exceeded the per-frame budget.
	AnalysisOverruns metric.Int64Counter

	// AlertActivations counts INACTIVE → ACTIVE transitions.
	AlertActivations metric.Int64Counter

	// Vibrations counts emitted haptic pulse events.
	Vibrations metric.Int64Counter

	// DegradedMode tracks whether the pipeline currently runs degraded
	// (0 or 1 per degradation kind).
	DegradedMode metric.Int64UpDownCounter

	// QueueDepth tracks the number of frames waiting for analysis.
	QueueDepth metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) around the
// 100 ms per-frame analysis budget.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AnalysisDuration, err = m.Float64Histogram("hearguard.analysis.duration",
		metric.WithDescription("Per-frame analysis latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FramesAnalyzed, err = m.Int64Counter("hearguard.frames.analyzed",
		metric.WithDescription("Total frames analysed by mode and hazard classification."),
	); err != nil {
		return nil, err
	}
	if met.FramesSkipped, err = m.Int64Counter("hearguard.frames.skipped",
		metric.WithDescription("Total frames skipped due to invalid sample data."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("hearguard.frames.dropped",
		metric.WithDescription("Total frames dropped by queue backpressure."),
	); err != nil {
		return nil, err
	}
	if met.TransformFailures, err = m.Int64Counter("hearguard.transform.failures",
		metric.WithDescription("Total weighting-transform failures recovered via fallback."),
	); err != nil {
		return nil, err
	}
	if met.AnalysisOverruns, err = m.Int64Counter("hearguard.analysis.overruns",
		metric.WithDescription("Total analyses exceeding the per-frame time budget."),
	); err != nil {
		return nil, err
	}
	if met.AlertActivations, err = m.Int64Counter("hearguard.alert.activations",
		metric.WithDescription("Total alert activations."),
	); err != nil {
		return nil, err
	}
	if met.Vibrations, err = m.Int64Counter("hearguard.alert.vibrations",
		metric.WithDescription("Total haptic pulse events emitted."),
	); err != nil {
		return nil, err
	}

	if met.DegradedMode, err = m.Int64UpDownCounter("hearguard.degraded_mode",
		metric.WithDescription("Whether the pipeline currently runs in a degraded mode."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("hearguard.queue.depth",
		metric.WithDescription("Frames currently waiting for analysis."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Subsequent calls return the
// same pointer. Panics if instrument creation fails (should not happen with
// the global provider).
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

// RecordAnalysis records one completed analysis: its latency and the
// analyzed-frames counter with mode and hazard attributes.
func (m *Metrics) RecordAnalysis(ctx context.Context, seconds float64, mode string, hazardous bool) {
	m.AnalysisDuration.Record(ctx, seconds)
	m.FramesAnalyzed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.Bool("hazardous", hazardous),
		),
	)
}
