// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store holds the job table. Backends differ in durability only; the
// lifecycle rules live in jobs.Apply and are enforced identically by all of them.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ManuGH/hlsforge/internal/jobs"
	"github.com/ManuGH/hlsforge/internal/log"
)

// maxIDAttempts bounds id regeneration after a collision. Reaching it means
// the id source is broken, which is an internal invariant violation.
const maxIDAttempts = 3

// Store is the system-of-record for transcode jobs.
//
// All mutation for one job id is serialized by the backend; callers never
// need their own locking.
type Store interface {
	// Create allocates a fresh id and inserts the job in QUEUED.
	Create(ctx context.Context, n jobs.NewJob) (jobs.Job, error)
	// Get returns jobs.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (jobs.Job, error)
	// Transition applies one state machine edge and returns the updated job.
	Transition(ctx context.Context, id string, to jobs.State, d jobs.Details) (jobs.Job, error)
	// List returns jobs newest first.
	List(ctx context.Context, f Filter) ([]jobs.Job, error)
	Ping(ctx context.Context) error
	Close() error
}

// Filter narrows List results. Zero value returns everything.
type Filter struct {
	States []jobs.State
	Limit  int
}

func (f Filter) match(j jobs.Job) bool {
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if j.State == s {
			return true
		}
	}
	return false
}

// IDFunc generates job identifiers.
type IDFunc func() string

// NewID returns a random UUIDv4 string.
func NewID() string {
	return uuid.NewString()
}

type insertFunc func(ctx context.Context, j jobs.Job) error

// create is the shared Create loop: generate, insert, regenerate on collision.
func create(ctx context.Context, ids IDFunc, insert insertFunc, n jobs.NewJob, now time.Time) (jobs.Job, error) {
	for attempt := 1; attempt <= maxIDAttempts; attempt++ {
		j := n.Build(ids(), now)
		err := insert(ctx, j)
		if err == nil {
			return j, nil
		}
		if !errors.Is(err, jobs.ErrDuplicateID) {
			return jobs.Job{}, err
		}
		logger := log.WithComponent("store")
		logger.Error().
			Str(log.FieldEvent, "invariant.violation").
			Str(log.FieldJobID, j.ID).
			Int("attempt", attempt).
			Msg("job id collision")
	}
	return jobs.Job{}, fmt.Errorf("create job: %w after %d attempts", jobs.ErrDuplicateID, maxIDAttempts)
}

// sortAndLimit orders jobs newest first (id as tie-break) and applies the limit.
func sortAndLimit(list []jobs.Job, limit int) []jobs.Job {
	sort.Slice(list, func(a, b int) bool {
		if list[a].CreatedAt.Equal(list[b].CreatedAt) {
			return list[a].ID > list[b].ID
		}
		return list[a].CreatedAt.After(list[b].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}
