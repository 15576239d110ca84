// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ManuGH/hlsforge/internal/events"
	"github.com/ManuGH/hlsforge/internal/jobs"
	"github.com/ManuGH/hlsforge/internal/jobs/store"
	"github.com/ManuGH/hlsforge/internal/pool"
	"github.com/ManuGH/hlsforge/internal/transcoder"
)

// stepRunner blocks each run until a token arrives on release (or ctx ends)
// and then returns outcome(j).
type stepRunner struct {
	started chan string
	release chan struct{}
	outcome func(j jobs.Job) transcoder.Outcome

	cur, peak atomic.Int32
}

func newStepRunner() *stepRunner {
	return &stepRunner{
		started: make(chan string, 64),
		release: make(chan struct{}),
		outcome: func(j jobs.Job) transcoder.Outcome {
			return transcoder.Outcome{Result: &jobs.Result{ManifestPath: transcoder.ManifestPath(j.OutputDir)}}
		},
	}
}

func (r *stepRunner) Run(ctx context.Context, j jobs.Job) transcoder.Outcome {
	n := r.cur.Add(1)
	defer r.cur.Add(-1)
	for {
		old := r.peak.Load()
		if n <= old || r.peak.CompareAndSwap(old, n) {
			break
		}
	}
	r.started <- j.ID
	select {
	case <-r.release:
	case <-ctx.Done():
		return transcoder.Outcome{Failure: &jobs.Failure{Reason: jobs.ReasonCancelled}}
	}
	return r.outcome(j)
}

func (r *stepRunner) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case id := <-r.started:
		return id
	case <-time.After(5 * time.Second):
		t.Fatal("runner was not started")
		return ""
	}
}

// recorder captures published events.
type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
	return nil
}

func (r *recorder) Close() error { return nil }

func (r *recorder) forJob(id string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.evs {
		if ev.JobID == id {
			out = append(out, fmt.Sprintf("%s->%s", ev.From, ev.To))
		}
	}
	return out
}

type fixture struct {
	o      *Orchestrator
	pool   *pool.Pool
	store  store.Store
	events *recorder
	dir    string
}

func newFixture(t *testing.T, size, maxQueue int, runner Runner, mutate ...func(*Config)) *fixture {
	t.Helper()
	return newFixtureWithStore(t, store.NewMemoryStore(), size, maxQueue, runner, mutate...)
}

func newFixtureWithStore(t *testing.T, st store.Store, size, maxQueue int, runner Runner, mutate ...func(*Config)) *fixture {
	t.Helper()
	dir := t.TempDir()
	p, err := pool.New(size, maxQueue)
	require.NoError(t, err)
	rec := &recorder{}
	cfg := Config{UploadsDir: dir, PublicBaseURL: "http://localhost:8000"}
	for _, m := range mutate {
		m(&cfg)
	}
	f := &fixture{o: New(cfg, st, p, runner, rec), pool: p, store: st, events: rec, dir: dir}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.o.Shutdown(ctx)
	})
	return f
}

func (f *fixture) source(t *testing.T, name string) string {
	t.Helper()
	p := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(p, []byte("fake media payload"), 0o600))
	return p
}

func (f *fixture) waitState(t *testing.T, id string, want jobs.State) Status {
	t.Helper()
	var st Status
	require.Eventually(t, func() bool {
		var err error
		st, err = f.o.GetStatus(context.Background(), id)
		return err == nil && st.State == want
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
	return st
}

func TestSubmit_ReturnsQueuedAndCompletes(t *testing.T) {
	r := newStepRunner()
	f := newFixture(t, 1, 0, r)
	ctx := context.Background()

	j, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "clip.mp4"), ContentType: "video/mp4"})
	require.NoError(t, err)
	assert.Equal(t, jobs.StateQueued, j.State)
	assert.Equal(t, filepath.Join(f.dir, "courses", j.ID), j.OutputDir)

	st, err := f.o.GetStatus(ctx, j.ID)
	require.NoError(t, err)
	assert.Contains(t, []jobs.State{jobs.StateQueued, jobs.StateRunning}, st.State)

	r.waitStarted(t)
	f.waitState(t, j.ID, jobs.StateRunning)
	r.release <- struct{}{}

	done := f.waitState(t, j.ID, jobs.StateDone)
	assert.Equal(t, "http://localhost:8000/uploads/courses/"+j.ID+"/index.m3u8", done.ManifestURL)
	assert.Equal(t, filepath.Join(j.OutputDir, "index.m3u8"), done.ResultRef)
	assert.Nil(t, done.Failure)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(j.OutputDir, SidecarName))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	raw, err := os.ReadFile(filepath.Join(j.OutputDir, SidecarName))
	require.NoError(t, err)
	var side jobs.Job
	require.NoError(t, json.Unmarshal(raw, &side))
	assert.Equal(t, jobs.StateDone, side.State)
	assert.Equal(t, j.ID, side.ID)

	assert.Equal(t, []string{"->QUEUED", "QUEUED->RUNNING", "RUNNING->DONE"}, f.events.forJob(j.ID))
}

func TestSubmit_QueuedWhilePoolBusy(t *testing.T) {
	r := newStepRunner()
	f := newFixture(t, 1, 0, r)
	ctx := context.Background()

	first, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "a.mp4")})
	require.NoError(t, err)
	r.waitStarted(t)

	second, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "b.mp4")})
	require.NoError(t, err)
	st, err := f.o.GetStatus(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateQueued, st.State)

	r.release <- struct{}{}
	f.waitState(t, first.ID, jobs.StateDone)
	r.waitStarted(t)
	r.release <- struct{}{}
	f.waitState(t, second.ID, jobs.StateDone)
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t, 1, 0, newStepRunner())
	ctx := context.Background()

	empty := filepath.Join(f.dir, "empty.mp4")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	cases := map[string]string{
		"missing path": "",
		"not found":    filepath.Join(f.dir, "nope.mp4"),
		"empty file":   empty,
		"directory":    f.dir,
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.o.Submit(ctx, SubmitRequest{SourcePath: p})
			require.Error(t, err)
			assert.True(t, jobs.IsValidation(err), "got %v", err)
		})
	}

	list, err := f.o.List(ctx, store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list, "validation failures must not create jobs")
}

func TestSubmit_SourceRootConfinement(t *testing.T) {
	r := newStepRunner()
	f := newFixture(t, 1, 0, r, func(c *Config) { c.SourceRoot = c.UploadsDir })
	ctx := context.Background()

	outside := filepath.Join(t.TempDir(), "outside.mp4")
	require.NoError(t, os.WriteFile(outside, []byte("fake media payload"), 0o600))
	link := filepath.Join(f.dir, "link.mp4")
	require.NoError(t, os.Symlink(outside, link))

	for name, p := range map[string]string{
		"absolute outside": outside,
		"dot-dot escape":   filepath.Join(f.dir, "..", filepath.Base(filepath.Dir(outside)), "outside.mp4"),
		"symlink out":      link,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.o.Submit(ctx, SubmitRequest{SourcePath: p})
			var verr *jobs.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, "sourcePath", verr.Field)
			assert.Equal(t, "is outside the uploads directory", verr.Reason)
		})
	}

	j, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "inside.mp4")})
	require.NoError(t, err)
	r.waitStarted(t)
	r.release <- struct{}{}
	f.waitState(t, j.ID, jobs.StateDone)
}

func TestSubmit_FIFOWithSingleSlot(t *testing.T) {
	r := newStepRunner()
	f := newFixture(t, 1, 0, r)
	ctx := context.Background()

	first, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "clip.mp4")})
	require.NoError(t, err)
	second, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "clip2.mp4")})
	require.NoError(t, err)

	assert.Equal(t, first.ID, r.waitStarted(t))
	f.waitState(t, first.ID, jobs.StateRunning)

	st, err := f.o.GetStatus(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateQueued, st.State, "second stays queued while first runs")

	r.release <- struct{}{}
	firstDone := f.waitState(t, first.ID, jobs.StateDone)

	assert.Equal(t, second.ID, r.waitStarted(t))
	secondRunning := f.waitState(t, second.ID, jobs.StateRunning)
	assert.False(t, secondRunning.StartedAt.Before(*firstDone.CompletedAt))

	r.release <- struct{}{}
	f.waitState(t, second.ID, jobs.StateDone)
}

func TestSubmit_BoundedConcurrencyAndMonotonicStates(t *testing.T) {
	const size = 2
	r := newStepRunner()
	f := newFixture(t, size, 0, r)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 6; i++ {
		j, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, fmt.Sprintf("v%d.mp4", i))})
		require.NoError(t, err)
		ids = append(ids, j.ID)
	}

	rank := map[jobs.State]int{jobs.StateQueued: 0, jobs.StateRunning: 1, jobs.StateDone: 2, jobs.StateFailed: 2}
	last := make(map[string]jobs.State)
	observe := func() int {
		running := 0
		for _, id := range ids {
			st, err := f.o.GetStatus(ctx, id)
			require.NoError(t, err)
			if prev, ok := last[id]; ok {
				require.GreaterOrEqual(t, rank[st.State], rank[prev], "state went backwards for %s", id)
				if prev.IsTerminal() {
					require.Equal(t, prev, st.State)
				}
			}
			last[id] = st.State
			if st.State == jobs.StateRunning {
				running++
			}
		}
		return running
	}

	for released := 0; released < len(ids); released++ {
		r.waitStarted(t)
		assert.LessOrEqual(t, observe(), size)
		r.release <- struct{}{}
		assert.LessOrEqual(t, observe(), size)
	}
	for _, id := range ids {
		f.waitState(t, id, jobs.StateDone)
	}
	observe()
	assert.LessOrEqual(t, r.peak.Load(), int32(size))
}

func TestCancel(t *testing.T) {
	r := newStepRunner()
	f := newFixture(t, 1, 0, r)
	ctx := context.Background()

	running, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "a.mp4")})
	require.NoError(t, err)
	r.waitStarted(t)
	queued, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "b.mp4")})
	require.NoError(t, err)

	require.NoError(t, f.o.Cancel(ctx, queued.ID))
	st, err := f.o.GetStatus(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, st.State)
	require.NotNil(t, st.Failure)
	assert.Equal(t, jobs.ReasonCancelled, st.Failure.Reason)
	assert.Nil(t, st.StartedAt)

	before, err := f.o.GetStatus(ctx, running.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, f.o.Cancel(ctx, running.ID), jobs.ErrAlreadyRunning)
	after, err := f.o.GetStatus(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	assert.ErrorIs(t, f.o.Cancel(ctx, queued.ID), jobs.ErrAlreadyTerminal)
	assert.ErrorIs(t, f.o.Cancel(ctx, "no-such-job"), jobs.ErrNotFound)

	_, err = f.o.GetStatus(ctx, "no-such-job")
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	r.release <- struct{}{}
	f.waitState(t, running.ID, jobs.StateDone)
}

func TestSubmit_SchedulingFailures(t *testing.T) {
	t.Run("queue full", func(t *testing.T) {
		r := newStepRunner()
		f := newFixture(t, 1, 1, r)
		ctx := context.Background()

		_, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "a.mp4")})
		require.NoError(t, err)
		r.waitStarted(t)
		_, err = f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "b.mp4")})
		require.NoError(t, err)

		j, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "c.mp4")})
		require.Error(t, err)
		assert.True(t, jobs.IsScheduling(err))
		assert.ErrorIs(t, err, pool.ErrQueueFull)
		assert.Equal(t, jobs.StateFailed, j.State)
		assert.Equal(t, jobs.ReasonScheduling, j.Failure.Reason)

		r.release <- struct{}{}
		r.waitStarted(t)
		r.release <- struct{}{}
	})

	t.Run("after shutdown", func(t *testing.T) {
		f := newFixture(t, 1, 0, newStepRunner())
		ctx := context.Background()
		require.NoError(t, f.o.Shutdown(ctx))

		j, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "a.mp4")})
		var se *jobs.SchedulingError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, j.ID, se.JobID)
		assert.ErrorIs(t, err, pool.ErrShutdown)

		st, err := f.o.GetStatus(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StateFailed, st.State)
		assert.Equal(t, jobs.ReasonScheduling, st.Failure.Reason)
	})
}

func TestSubmit_RateLimited(t *testing.T) {
	r := newStepRunner()
	f := newFixture(t, 1, 0, r, func(c *Config) {
		c.SubmitRate = 0.001
		c.SubmitBurst = 1
	})
	ctx := context.Background()

	_, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "a.mp4")})
	require.NoError(t, err)
	_, err = f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "b.mp4")})
	assert.ErrorIs(t, err, jobs.ErrRateLimited)

	r.waitStarted(t)
	r.release <- struct{}{}
}

func TestShutdown_FailsQueuedAndStopsRunning(t *testing.T) {
	r := newStepRunner()
	f := newFixture(t, 1, 0, r)
	ctx := context.Background()

	running, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "a.mp4")})
	require.NoError(t, err)
	r.waitStarted(t)
	queued, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "b.mp4")})
	require.NoError(t, err)

	sctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.o.Shutdown(sctx), context.DeadlineExceeded)

	st, err := f.o.GetStatus(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, st.State)
	assert.Equal(t, jobs.ReasonScheduling, st.Failure.Reason)

	st, err = f.o.GetStatus(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, st.State)
	assert.Equal(t, jobs.ReasonCancelled, st.Failure.Reason)
}

func TestRunFailure_RecordsReasonAndSpan(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)))

	r := newStepRunner()
	r.outcome = func(jobs.Job) transcoder.Outcome {
		return transcoder.Outcome{Failure: &jobs.Failure{Reason: jobs.ReasonProcessError, ExitCode: 1, Diagnostics: "moov atom not found"}}
	}
	f := newFixture(t, 1, 0, r)
	ctx := context.Background()

	j, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "a.mp4")})
	require.NoError(t, err)
	r.waitStarted(t)
	r.release <- struct{}{}

	st := f.waitState(t, j.ID, jobs.StateFailed)
	assert.Equal(t, jobs.ReasonProcessError, st.Failure.Reason)
	assert.Equal(t, 1, st.Failure.ExitCode)
	assert.Equal(t, "moov atom not found", st.Failure.Diagnostics)
	assert.Empty(t, st.ManifestURL)

	_, err = os.Stat(filepath.Join(j.OutputDir, SidecarName))
	assert.True(t, os.IsNotExist(err))

	require.Eventually(t, func() bool {
		for _, s := range spans.Ended() {
			if s.Name() == "transcode.run" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManifestURL(t *testing.T) {
	o := New(Config{UploadsDir: "/srv/uploads", PublicBaseURL: "https://media.example.com"}, store.NewMemoryStore(), nil, nil, nil)
	assert.Equal(t, "https://media.example.com/uploads/courses/abc/index.m3u8", o.ManifestURL("abc"))
	assert.Equal(t, filepath.Join("/srv/uploads", "courses", "abc"), o.OutputDir("abc"))
}

// slowStartStore holds the QUEUED->RUNNING write until gate is closed, which
// widens the window between the pool popping a unit and the job starting.
type slowStartStore struct {
	store.Store
	entered chan string
	gate    chan struct{}
}

func (s *slowStartStore) Transition(ctx context.Context, id string, to jobs.State, d jobs.Details) (jobs.Job, error) {
	if to == jobs.StateRunning {
		s.entered <- id
		<-s.gate
	}
	return s.Store.Transition(ctx, id, to, d)
}

func TestCancel_WinsAgainstDispatchInFlight(t *testing.T) {
	r := newStepRunner()
	st := &slowStartStore{Store: store.NewMemoryStore(), entered: make(chan string, 1), gate: make(chan struct{})}
	f := newFixtureWithStore(t, st, 1, 0, r)
	ctx := context.Background()

	j, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "a.mp4")})
	require.NoError(t, err)

	select {
	case id := <-st.entered:
		require.Equal(t, j.ID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("unit was not dispatched")
	}
	before, err := f.o.GetStatus(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, jobs.StateQueued, before.State)

	require.NoError(t, f.o.Cancel(ctx, j.ID))
	close(st.gate)

	after := f.waitState(t, j.ID, jobs.StateFailed)
	assert.Equal(t, jobs.ReasonCancelled, after.Failure.Reason)
	assert.Nil(t, after.StartedAt)

	require.Eventually(t, func() bool { return f.pool.Running() == 0 }, 2*time.Second, 5*time.Millisecond)
	select {
	case id := <-r.started:
		t.Fatalf("runner started for cancelled job %s", id)
	default:
	}
	assert.Equal(t, []string{"->QUEUED", "QUEUED->FAILED"}, f.events.forJob(j.ID))
}

func TestCancel_LosesAgainstCommittedStart(t *testing.T) {
	r := newStepRunner()
	st := &slowStartStore{Store: store.NewMemoryStore(), entered: make(chan string, 1), gate: make(chan struct{})}
	close(st.gate)
	f := newFixtureWithStore(t, st, 1, 0, r)
	ctx := context.Background()

	j, err := f.o.Submit(ctx, SubmitRequest{SourcePath: f.source(t, "a.mp4")})
	require.NoError(t, err)
	<-st.entered
	r.waitStarted(t)

	assert.ErrorIs(t, f.o.Cancel(ctx, j.ID), jobs.ErrAlreadyRunning)
	cur, err := f.o.GetStatus(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateRunning, cur.State)

	r.release <- struct{}{}
	f.waitState(t, j.ID, jobs.StateDone)
}

func TestRecover_SettlesJobsFromPreviousRun(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "jobs.db")
	newJob := func(src string) jobs.NewJob {
		return jobs.NewJob{SourcePath: src, OutputDir: func(id string) string { return filepath.Join(t.TempDir(), id) }}
	}

	// Previous process: one job mid-run, two waiting, then it dies.
	prev, err := store.OpenSQLiteStore(dbPath, store.DefaultSQLiteConfig())
	require.NoError(t, err)
	interrupted, err := prev.Create(ctx, newJob("/media/a.mp4"))
	require.NoError(t, err)
	_, err = prev.Transition(ctx, interrupted.ID, jobs.StateRunning, jobs.Details{})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	older, err := prev.Create(ctx, newJob("/media/b.mp4"))
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	newer, err := prev.Create(ctx, newJob("/media/c.mp4"))
	require.NoError(t, err)
	require.NoError(t, prev.Close())

	st, err := store.OpenSQLiteStore(dbPath, store.DefaultSQLiteConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	r := newStepRunner()
	f := newFixtureWithStore(t, st, 1, 0, r)

	rep, err := f.o.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Requeued: 2, Interrupted: 1}, rep)

	failed, err := f.o.GetStatus(ctx, interrupted.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, failed.State)
	assert.Equal(t, jobs.ReasonInternal, failed.Failure.Reason)
	assert.Equal(t, "interrupted by restart", failed.Failure.Message)

	assert.Equal(t, older.ID, r.waitStarted(t), "oldest queued job runs first")
	require.NoError(t, f.o.Cancel(ctx, newer.ID), "recovered queued job is cancellable")

	r.release <- struct{}{}
	f.waitState(t, older.ID, jobs.StateDone)
	cancelled, err := f.o.GetStatus(ctx, newer.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.ReasonCancelled, cancelled.Failure.Reason)
}

func TestRecover_QueueLimitFailsOverflow(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	var ids []string
	for i := 0; i < 3; i++ {
		j, err := st.Create(ctx, jobs.NewJob{SourcePath: "/media/x.mp4", OutputDir: func(id string) string { return "/out/" + id }})
		require.NoError(t, err)
		ids = append(ids, j.ID)
		time.Sleep(2 * time.Millisecond)
	}

	r := newStepRunner()
	f := newFixtureWithStore(t, st, 1, 1, r)
	rep, err := f.o.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecoveryReport{Requeued: 2, Unscheduled: 1}, rep)

	last, err := f.o.GetStatus(ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, last.State)
	assert.Equal(t, jobs.ReasonScheduling, last.Failure.Reason)

	r.waitStarted(t)
	r.release <- struct{}{}
	r.waitStarted(t)
	r.release <- struct{}{}
}
