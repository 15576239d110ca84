// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"fmt"
	"time"
)

// transitions is the complete edge set. Anything absent is illegal.
var transitions = map[State]map[State]struct{}{
	StateQueued: {
		StateRunning: {},
		StateFailed:  {},
	},
	StateRunning: {
		StateDone:   {},
		StateFailed: {},
	},
}

// CanTransition reports whether to is a legal successor of from.
func CanTransition(from, to State) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Apply validates and applies a transition to j in place. Every store backend
// funnels mutation through Apply so the rules cannot drift between them.
func Apply(j *Job, to State, d Details, now time.Time) error {
	from := j.State
	if d.From != "" && d.From != from {
		return fmt.Errorf("%w: expected %s, job is %s", ErrInvalidTransition, d.From, from)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}

	// Millisecond precision is what every backend can round-trip.
	now = now.UTC().Truncate(time.Millisecond)
	switch to {
	case StateRunning:
		if d.Failure != nil || d.Result != nil {
			return fmt.Errorf("%w: %s carries no details", ErrInvalidDetails, to)
		}
		j.StartedAt = &now
	case StateDone:
		if d.Result == nil || d.Result.ManifestPath == "" || d.Failure != nil {
			return fmt.Errorf("%w: %s requires a result and no failure", ErrInvalidDetails, to)
		}
		r := *d.Result
		j.Result = &r
		j.CompletedAt = &now
	case StateFailed:
		if d.Failure == nil || d.Failure.Reason == "" || d.Result != nil {
			return fmt.Errorf("%w: %s requires a failure reason and no result", ErrInvalidDetails, to)
		}
		f := *d.Failure
		j.Failure = &f
		j.CompletedAt = &now
	}
	j.State = to
	return nil
}
