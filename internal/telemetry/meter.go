// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "hlsforge/jobs"

// Instrument names mirror the Prometheus collectors of the same meaning.
const (
	JobTransitionsInstrument = "hlsforge.job.transitions"
	JobRunDurationInstrument = "hlsforge.job.run.duration"
)

// RecordJobTransition counts one committed state change on the global meter
// provider. The provider is looked up per call so a late SetMeterProvider
// takes effect.
func RecordJobTransition(ctx context.Context, from, to string) {
	meter := otel.GetMeterProvider().Meter(meterName)
	counter, err := meter.Int64Counter(JobTransitionsInstrument,
		metric.WithDescription("Job state transitions"))
	if err != nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordJobRun records the RUNNING-to-terminal wall time of one job.
func RecordJobRun(ctx context.Context, state, reason string, seconds float64) {
	meter := otel.GetMeterProvider().Meter(meterName)
	hist, err := meter.Float64Histogram(JobRunDurationInstrument,
		metric.WithDescription("Wall time from RUNNING to a terminal state"),
		metric.WithUnit("s"))
	if err != nil {
		return
	}
	attrs := []attribute.KeyValue{attribute.String(JobStateKey, state)}
	if reason != "" {
		attrs = append(attrs, attribute.String(JobReasonKey, reason))
	}
	hist.Record(ctx, seconds, metric.WithAttributes(attrs...))
}
