// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/hlsforge/internal/jobs"
	"github.com/ManuGH/hlsforge/internal/jobs/store"
	"github.com/ManuGH/hlsforge/internal/orchestrator"
)

// fakeService keeps statuses in memory and lets tests force errors.
type fakeService struct {
	mu        sync.Mutex
	seq       int
	statuses  map[string]orchestrator.Status
	submitted []orchestrator.SubmitRequest
	submitErr error
	listErr   error
}

func newFakeService() *fakeService {
	return &fakeService{statuses: map[string]orchestrator.Status{}}
}

func (f *fakeService) Submit(_ context.Context, req orchestrator.SubmitRequest) (jobs.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return jobs.Job{}, f.submitErr
	}
	f.seq++
	id := fmt.Sprintf("job-%d", f.seq)
	created := time.Date(2025, 1, 1, 0, 0, f.seq, 0, time.UTC)
	f.statuses[id] = orchestrator.Status{JobID: id, State: jobs.StateQueued, SourcePath: req.SourcePath, CreatedAt: created}
	return jobs.Job{ID: id, State: jobs.StateQueued, SourcePath: req.SourcePath, CreatedAt: created}, nil
}

func (f *fakeService) put(st orchestrator.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[st.JobID] = st
}

func (f *fakeService) GetStatus(_ context.Context, id string) (orchestrator.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[id]
	if !ok {
		return orchestrator.Status{}, jobs.ErrNotFound
	}
	return st, nil
}

func (f *fakeService) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[id]
	switch {
	case !ok:
		return jobs.ErrNotFound
	case st.State == jobs.StateRunning:
		return jobs.ErrAlreadyRunning
	case st.State.IsTerminal():
		return jobs.ErrAlreadyTerminal
	}
	done := st.CreatedAt.Add(time.Second)
	st.State = jobs.StateFailed
	st.CompletedAt = &done
	st.Failure = &jobs.Failure{Reason: jobs.ReasonCancelled}
	f.statuses[id] = st
	return nil
}

func (f *fakeService) List(_ context.Context, flt store.Filter) ([]orchestrator.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []orchestrator.Status
	for _, st := range f.statuses {
		if len(flt.States) > 0 {
			match := false
			for _, s := range flt.States {
				match = match || st.State == s
			}
			if !match {
				continue
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if flt.Limit > 0 && len(out) > flt.Limit {
		out = out[:flt.Limit]
	}
	return out, nil
}

func (f *fakeService) ManifestURL(id string) string {
	return "http://localhost:8000/uploads/courses/" + id + "/index.m3u8"
}

func newTestHandler(t *testing.T, svc JobService) (http.Handler, string) {
	t.Helper()
	uploads := t.TempDir()
	s := New(Config{
		UploadsDir:     uploads,
		MaxUploadBytes: 1 << 20,
		AllowedOrigins: []string{"http://localhost:5173"},
		Version:        "test",
	}, svc, nil)
	return s.Handler(), uploads
}

func do(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
