// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics holds the process-wide Prometheus collectors for the job
// lifecycle and the transcoder processes it spawns.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsforge_jobs_submitted_total",
		Help: "Submissions by outcome",
	}, []string{"outcome"}) // outcome=accepted|invalid|rate_limited|scheduling|error

	jobTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsforge_job_transitions_total",
		Help: "Job state transitions",
	}, []string{"from", "to"})

	jobFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsforge_job_failures_total",
		Help: "Jobs that reached FAILED, by reason",
	}, []string{"reason"})

	jobRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hlsforge_job_run_duration_seconds",
		Help:    "Wall time from RUNNING to a terminal state",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 14), // 0.5s to ~68min
	}, []string{"state"})

	jobCancels = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsforge_job_cancels_total",
		Help: "Cancel requests by outcome",
	}, []string{"outcome"}) // outcome=cancelled|already_running|already_terminal|not_found

	invariantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsforge_invariant_violations_total",
		Help: "Internal invariant violations",
	}, []string{"rule"})
)

func IncJobSubmitted(outcome string) { jobsSubmitted.WithLabelValues(outcome).Inc() }

func IncJobTransition(from, to string) { jobTransitions.WithLabelValues(from, to).Inc() }

func IncJobFailure(reason string) { jobFailures.WithLabelValues(reason).Inc() }

func ObserveJobRun(state string, seconds float64) {
	jobRunDuration.WithLabelValues(state).Observe(seconds)
}

func IncJobCancel(outcome string) { jobCancels.WithLabelValues(outcome).Inc() }

// RecordInvariantViolation counts a broken internal rule. Expected to stay at zero.
func RecordInvariantViolation(rule string) { invariantViolations.WithLabelValues(rule).Inc() }

var jobsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hlsforge_jobs_recovered_total",
	Help: "Unfinished jobs settled at startup",
}, []string{"action"}) // action=requeued|interrupted|unscheduled

func IncJobRecovered(action string) { jobsRecovered.WithLabelValues(action).Inc() }
