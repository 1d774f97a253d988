// Package observe provides OpenTelemetry metrics for the capture pipeline.
//
// Instruments are created through the OpenTelemetry Metrics API. [InitProvider]
// installs a Prometheus exporter bridge so the serve command can expose them on
// /metrics. A package-level [DefaultMetrics] instance uses the global meter
// provider; tests should use [NewMetrics] with their own provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/audiolibrelab/soundsentry"

// Metrics holds the instruments recorded by capture sessions. All fields are
// safe for concurrent use.
type Metrics struct {
	// Chunks counts audio chunks read from the capture device.
	Chunks metric.Int64Counter

	// BytesWritten counts raw PCM bytes appended to recording files.
	BytesWritten metric.Int64Counter

	// Loudness records the RMS level of every chunk.
	Loudness metric.Float64Histogram

	// StateChanges counts detection transitions. Use with attribute:
	//   attribute.String("state", ...)
	StateChanges metric.Int64Counter

	// WriteFailures counts capture loops terminated by an output error.
	WriteFailures metric.Int64Counter

	// ActiveSessions tracks the number of running capture loops.
	ActiveSessions metric.Int64UpDownCounter

	// StopDuration tracks how long stopping a session takes.
	StopDuration metric.Float64Histogram
}

// loudnessBuckets spans the 16-bit RMS range, denser near the default threshold.
var loudnessBuckets = []float64{
	10, 25, 50, 75, 100, 150, 250, 500, 1000, 2500, 5000, 10000, 20000,
}

// stopBuckets are in seconds.
var stopBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Chunks, err = m.Int64Counter("soundsentry.chunks",
		metric.WithDescription("Audio chunks read from the capture device."),
	); err != nil {
		return nil, err
	}
	if met.BytesWritten, err = m.Int64Counter("soundsentry.bytes_written",
		metric.WithDescription("Raw PCM bytes appended to recording files."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Loudness, err = m.Float64Histogram("soundsentry.loudness",
		metric.WithDescription("RMS level of each captured chunk on the 16-bit PCM scale."),
		metric.WithExplicitBucketBoundaries(loudnessBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StateChanges, err = m.Int64Counter("soundsentry.state_changes",
		metric.WithDescription("Detection state transitions by new state."),
	); err != nil {
		return nil, err
	}
	if met.WriteFailures, err = m.Int64Counter("soundsentry.write_failures",
		metric.WithDescription("Capture loops terminated by a write error."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("soundsentry.active_sessions",
		metric.WithDescription("Number of running capture loops."),
	); err != nil {
		return nil, err
	}
	if met.StopDuration, err = m.Float64Histogram("soundsentry.stop.duration",
		metric.WithDescription("Time taken to stop a capture session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(stopBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Call [InitProvider] before the
// first use if the metrics should be exported.
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

// RecordChunk records one processed chunk.
func (m *Metrics) RecordChunk(ctx context.Context, bytes int, level float64) {
	m.Chunks.Add(ctx, 1)
	m.BytesWritten.Add(ctx, int64(bytes))
	m.Loudness.Record(ctx, level)
}

// RecordStateChange records a detection transition into state.
func (m *Metrics) RecordStateChange(ctx context.Context, state string) {
	m.StateChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}
