// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ManuGH/hlsforge/internal/jobs"
)

var (
	storeOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsforge_store_ops_total",
			Help: "Total job store operations",
		},
		[]string{"backend", "op", "result"}, // result=success/not_found/error
	)
	storeLat = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hlsforge_store_op_seconds",
			Help:    "Job store operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)
)

// instrumentedStore wraps any Store to capture metrics.
type instrumentedStore struct {
	inner   Store
	backend string
}

func NewInstrumentedStore(inner Store, backend string) Store {
	return &instrumentedStore{inner: inner, backend: backend}
}

func (i *instrumentedStore) observe(op string, start time.Time, err error) {
	res := "success"
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		res = "not_found"
	case err != nil:
		res = "error"
	}
	storeOps.WithLabelValues(i.backend, op, res).Inc()
	storeLat.WithLabelValues(i.backend, op).Observe(time.Since(start).Seconds())
}

func (i *instrumentedStore) Create(ctx context.Context, n jobs.NewJob) (j jobs.Job, err error) {
	start := time.Now()
	defer func() { i.observe("create", start, err) }()
	return i.inner.Create(ctx, n)
}

func (i *instrumentedStore) Get(ctx context.Context, id string) (j jobs.Job, err error) {
	start := time.Now()
	defer func() { i.observe("get", start, err) }()
	return i.inner.Get(ctx, id)
}

func (i *instrumentedStore) Transition(ctx context.Context, id string, to jobs.State, d jobs.Details) (j jobs.Job, err error) {
	start := time.Now()
	defer func() { i.observe("transition", start, err) }()
	return i.inner.Transition(ctx, id, to, d)
}

func (i *instrumentedStore) List(ctx context.Context, f Filter) (list []jobs.Job, err error) {
	start := time.Now()
	defer func() { i.observe("list", start, err) }()
	return i.inner.List(ctx, f)
}

func (i *instrumentedStore) Ping(ctx context.Context) error { return i.inner.Ping(ctx) }

func (i *instrumentedStore) Close() error { return i.inner.Close() }
