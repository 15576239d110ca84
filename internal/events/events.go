// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package events publishes job lifecycle transitions to external consumers.
package events

import (
	"context"
	"time"

	"github.com/ManuGH/hlsforge/internal/jobs"
)

// DefaultTopic is the Kafka topic used when none is configured.
const DefaultTopic = "hlsforge.job-events"

// Event is one observed state transition.
type Event struct {
	JobID  string     `json:"jobId"`
	From   jobs.State `json:"from"`
	To     jobs.State `json:"to"`
	Reason string     `json:"reason,omitempty"`
	At     time.Time  `json:"at"`
}

// FromTransition builds the event for a job that just moved out of from.
func FromTransition(from jobs.State, j jobs.Job) Event {
	ev := Event{JobID: j.ID, From: from, To: j.State, At: time.Now().UTC()}
	switch {
	case j.CompletedAt != nil:
		ev.At = *j.CompletedAt
	case j.StartedAt != nil && j.State == jobs.StateRunning:
		ev.At = *j.StartedAt
	}
	if j.Failure != nil {
		ev.Reason = string(j.Failure.Reason)
	}
	return ev
}

// Publisher delivers events. Delivery failures are reported but never change
// job state.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

func (Nop) Close() error { return nil }
