// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/hlsforge/internal/jobs"
)

// MemoryStore keeps jobs in process memory. It is the default backend:
// jobs do not survive a restart.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*jobs.Job

	ids IDFunc
	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*jobs.Job),
		ids:  NewID,
		now:  time.Now,
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Create(ctx context.Context, n jobs.NewJob) (jobs.Job, error) {
	return create(ctx, m.ids, m.insert, n, m.now())
}

func (m *MemoryStore) insert(ctx context.Context, j jobs.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[j.ID]; exists {
		return jobs.ErrDuplicateID
	}
	cp := j.Clone()
	m.jobs[j.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (jobs.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return jobs.Job{}, jobs.ErrNotFound
	}
	return j.Clone(), nil
}

func (m *MemoryStore) Transition(ctx context.Context, id string, to jobs.State, d jobs.Details) (jobs.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.jobs[id]
	if !ok {
		return jobs.Job{}, jobs.ErrNotFound
	}
	// Work on a copy so a rejected transition leaves the record untouched.
	next := cur.Clone()
	if err := jobs.Apply(&next, to, d, m.now()); err != nil {
		return jobs.Job{}, err
	}
	m.jobs[id] = &next
	return next.Clone(), nil
}

func (m *MemoryStore) List(ctx context.Context, f Filter) ([]jobs.Job, error) {
	m.mu.Lock()
	out := make([]jobs.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if f.match(*j) {
			out = append(out, j.Clone())
		}
	}
	m.mu.Unlock()
	return sortAndLimit(out, f.Limit), nil
}
