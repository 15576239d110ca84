// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsforge_events_published_total",
		Help: "Job lifecycle events handed to the event sink",
	}, []string{"sink", "result"}) // result=success|error|dropped

	configReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsforge_config_reloads_total",
		Help: "Configuration file reload attempts",
	}, []string{"result"}) // result=applied|invalid|error

	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsforge_uploads_total",
		Help: "Multipart uploads by outcome",
	}, []string{"outcome"})

	uploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlsforge_upload_bytes_total",
		Help: "Bytes written by accepted uploads",
	})
)

func IncEventPublished(sink, result string) { eventsPublished.WithLabelValues(sink, result).Inc() }

func IncConfigReload(result string) { configReloads.WithLabelValues(result).Inc() }

func RecordUpload(outcome string, bytes int64) {
	uploadsTotal.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		uploadBytes.Add(float64(bytes))
	}
}

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hlsforge_circuit_breaker_state",
		Help: "Circuit breaker position: 0 closed, 0.5 half-open, 1 open",
	}, []string{"name"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsforge_circuit_breaker_trips_total",
		Help: "Circuit breaker transitions into the open state",
	}, []string{"name", "reason"})
)

// SetCircuitBreakerState mirrors a breaker position into the gauge.
func SetCircuitBreakerState(name, state string) {
	v := 0.0
	switch state {
	case "open":
		v = 1
	case "half-open":
		v = 0.5
	}
	breakerState.WithLabelValues(name).Set(v)
}

func RecordCircuitBreakerTrip(name, reason string) { breakerTrips.WithLabelValues(name, reason).Inc() }
