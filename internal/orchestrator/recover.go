// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"fmt"
	"slices"

	"github.com/ManuGH/hlsforge/internal/jobs"
	"github.com/ManuGH/hlsforge/internal/jobs/store"
	"github.com/ManuGH/hlsforge/internal/log"
	"github.com/ManuGH/hlsforge/internal/metrics"
)

// RecoveryReport counts what Recover did.
type RecoveryReport struct {
	Requeued    int
	Interrupted int
	Unscheduled int
}

// Recover settles jobs a previous process left unfinished in a durable
// store. RUNNING jobs have lost their process and fail with reason internal.
// QUEUED jobs are handed to the pool again, oldest first; those the pool
// refuses fail with reason scheduling. Call it once, before serving requests.
func (o *Orchestrator) Recover(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport

	running, err := o.store.List(ctx, store.Filter{States: []jobs.State{jobs.StateRunning}})
	if err != nil {
		return rep, fmt.Errorf("list running jobs: %w", err)
	}
	for _, j := range running {
		_, err := o.transition(ctx, j.ID, jobs.StateRunning, jobs.StateFailed, jobs.Details{
			Failure: &jobs.Failure{Reason: jobs.ReasonInternal, Message: "interrupted by restart"},
		})
		if err != nil {
			return rep, fmt.Errorf("fail interrupted job %s: %w", j.ID, err)
		}
		metrics.IncJobRecovered("interrupted")
		rep.Interrupted++
	}

	queued, err := o.store.List(ctx, store.Filter{States: []jobs.State{jobs.StateQueued}})
	if err != nil {
		return rep, fmt.Errorf("list queued jobs: %w", err)
	}
	// List is newest first; the pool must see them in submission order.
	slices.Reverse(queued)
	for _, j := range queued {
		if _, err := o.schedule(ctx, j.ID); err != nil {
			metrics.IncJobRecovered("unscheduled")
			rep.Unscheduled++
			continue
		}
		metrics.IncJobRecovered("requeued")
		rep.Requeued++
	}

	o.logger.Info().
		Str(log.FieldEvent, "orchestrator.recovered").
		Int("requeued", rep.Requeued).
		Int("interrupted", rep.Interrupted).
		Int("unscheduled", rep.Unscheduled).
		Msg("reconciled jobs from previous run")
	return rep, nil
}
