// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys shared by job spans.
const (
	JobIDKey       = "job.id"
	JobStateKey    = "job.state"
	JobSourceKey   = "job.source_path"
	JobReasonKey   = "job.failure_reason"
	JobExitCodeKey = "job.exit_code"
	JobDurationKey = "job.duration_ms"
)

// JobAttributes describes the job a span works on.
func JobAttributes(id, source string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobIDKey, id),
		attribute.String(JobSourceKey, source),
	}
}

// RecordOutcome annotates span with the terminal state of a run. A non-empty
// reason marks the span as an error.
func RecordOutcome(span trace.Span, state, reason string, exitCode int, durationMS int64) {
	span.SetAttributes(
		attribute.String(JobStateKey, state),
		attribute.Int64(JobDurationKey, durationMS),
	)
	if reason == "" {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.SetAttributes(
		attribute.String(JobReasonKey, reason),
		attribute.Int(JobExitCodeKey, exitCode),
	)
	span.SetStatus(codes.Error, reason)
}
