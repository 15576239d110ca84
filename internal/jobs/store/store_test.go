// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/hlsforge/internal/jobs"
)

// backendCase builds a fresh store with injectable id and clock sources.
type backendCase struct {
	name string
	open func(t *testing.T, ids IDFunc, now func() time.Time) Store
}

func backends() []backendCase {
	return []backendCase{
		{"memory", func(t *testing.T, ids IDFunc, now func() time.Time) Store {
			s := NewMemoryStore()
			s.ids, s.now = ids, now
			return s
		}},
		{"sqlite", func(t *testing.T, ids IDFunc, now func() time.Time) Store {
			s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "jobs.db"), DefaultSQLiteConfig())
			require.NoError(t, err)
			s.ids, s.now = ids, now
			return s
		}},
		{"badger", func(t *testing.T, ids IDFunc, now func() time.Time) Store {
			s, err := OpenBadgerStore("")
			require.NoError(t, err)
			s.ids, s.now = ids, now
			return s
		}},
		{"redis", func(t *testing.T, ids IDFunc, now func() time.Time) Store {
			mr := miniredis.RunT(t)
			s := newRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
			s.ids, s.now = ids, now
			return s
		}},
	}
}

// stepClock advances one second per call.
func stepClock() func() time.Time {
	var n atomic.Int64
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

func seqIDs(ids ...string) IDFunc {
	var mu sync.Mutex
	i := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		id := ids[i%len(ids)]
		i++
		return id
	}
}

func newJob(src string) jobs.NewJob {
	return jobs.NewJob{
		SourcePath:  src,
		ContentType: "video/mp4",
		OutputDir:   func(id string) string { return "/data/courses/" + id },
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, bc backendCase)) {
	for _, bc := range backends() {
		t.Run(bc.name, func(t *testing.T) {
			fn(t, bc)
		})
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	forEachBackend(t, func(t *testing.T, bc backendCase) {
		ctx := context.Background()
		s := bc.open(t, NewID, stepClock())
		t.Cleanup(func() { _ = s.Close() })

		created, err := s.Create(ctx, newJob("/data/file-1.mp4"))
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, jobs.StateQueued, created.State)
		assert.Equal(t, "/data/courses/"+created.ID, created.OutputDir)
		assert.Nil(t, created.StartedAt)
		assert.Nil(t, created.Failure)
		assert.Nil(t, created.Result)

		got, err := s.Get(ctx, created.ID)
		require.NoError(t, err)
		if diff := cmp.Diff(created, got); diff != "" {
			t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
		}

		_, err = s.Get(ctx, "does-not-exist")
		assert.ErrorIs(t, err, jobs.ErrNotFound)
		assert.NoError(t, s.Ping(ctx))
	})
}

func TestStore_Lifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, bc backendCase) {
		ctx := context.Background()
		s := bc.open(t, NewID, stepClock())
		t.Cleanup(func() { _ = s.Close() })

		j, err := s.Create(ctx, newJob("/data/a.mp4"))
		require.NoError(t, err)

		running, err := s.Transition(ctx, j.ID, jobs.StateRunning, jobs.Details{})
		require.NoError(t, err)
		assert.Equal(t, jobs.StateRunning, running.State)
		require.NotNil(t, running.StartedAt)
		assert.True(t, running.StartedAt.After(j.CreatedAt))

		res := &jobs.Result{ManifestPath: j.OutputDir + "/index.m3u8", ManifestURL: "http://localhost:8000/uploads/courses/" + j.ID + "/index.m3u8"}
		done, err := s.Transition(ctx, j.ID, jobs.StateDone, jobs.Details{Result: res})
		require.NoError(t, err)
		assert.Equal(t, jobs.StateDone, done.State)
		require.NotNil(t, done.CompletedAt)
		assert.Equal(t, *res, *done.Result)
		assert.Nil(t, done.Failure)

		got, err := s.Get(ctx, j.ID)
		require.NoError(t, err)
		if diff := cmp.Diff(done, got); diff != "" {
			t.Fatalf("stored job mismatch (-want +got):\n%s", diff)
		}

		// Terminal: every further edge is rejected and the record is untouched.
		_, err = s.Transition(ctx, j.ID, jobs.StateFailed, jobs.Details{Failure: &jobs.Failure{Reason: jobs.ReasonCancelled}})
		assert.ErrorIs(t, err, jobs.ErrInvalidTransition)
		again, err := s.Get(ctx, j.ID)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(done, again))
	})
}

func TestStore_TransitionRejections(t *testing.T) {
	forEachBackend(t, func(t *testing.T, bc backendCase) {
		ctx := context.Background()
		s := bc.open(t, NewID, stepClock())
		t.Cleanup(func() { _ = s.Close() })

		j, err := s.Create(ctx, newJob("/data/b.mp4"))
		require.NoError(t, err)

		_, err = s.Transition(ctx, "missing", jobs.StateRunning, jobs.Details{})
		assert.ErrorIs(t, err, jobs.ErrNotFound)

		_, err = s.Transition(ctx, j.ID, jobs.StateDone, jobs.Details{Result: &jobs.Result{ManifestPath: "x"}})
		assert.ErrorIs(t, err, jobs.ErrInvalidTransition)

		_, err = s.Transition(ctx, j.ID, jobs.StateFailed, jobs.Details{})
		assert.ErrorIs(t, err, jobs.ErrInvalidDetails)

		got, err := s.Get(ctx, j.ID)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(j, got))

		failed, err := s.Transition(ctx, j.ID, jobs.StateFailed, jobs.Details{Failure: &jobs.Failure{Reason: jobs.ReasonCancelled}})
		require.NoError(t, err)
		assert.Equal(t, jobs.ReasonCancelled, failed.Failure.Reason)
		assert.Nil(t, failed.StartedAt)
		assert.NotNil(t, failed.CompletedAt)
	})
}

func TestStore_ListOrderingFilterLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, bc backendCase) {
		ctx := context.Background()
		s := bc.open(t, NewID, stepClock())
		t.Cleanup(func() { _ = s.Close() })

		var ids []string
		for _, src := range []string{"/a.mp4", "/b.mp4", "/c.mp4"} {
			j, err := s.Create(ctx, newJob(src))
			require.NoError(t, err)
			ids = append(ids, j.ID)
		}
		_, err := s.Transition(ctx, ids[1], jobs.StateRunning, jobs.Details{})
		require.NoError(t, err)

		all, err := s.List(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{ids[2], ids[1], ids[0]}, []string{all[0].ID, all[1].ID, all[2].ID})

		queued, err := s.List(ctx, Filter{States: []jobs.State{jobs.StateQueued}})
		require.NoError(t, err)
		require.Len(t, queued, 2)
		assert.Equal(t, ids[2], queued[0].ID)
		assert.Equal(t, ids[0], queued[1].ID)

		limited, err := s.List(ctx, Filter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, limited, 1)
		assert.Equal(t, ids[2], limited[0].ID)
	})
}

func TestStore_IDCollisionRetries(t *testing.T) {
	forEachBackend(t, func(t *testing.T, bc backendCase) {
		ctx := context.Background()
		s := bc.open(t, seqIDs("dup", "dup", "fresh"), stepClock())
		t.Cleanup(func() { _ = s.Close() })

		first, err := s.Create(ctx, newJob("/a.mp4"))
		require.NoError(t, err)
		assert.Equal(t, "dup", first.ID)

		second, err := s.Create(ctx, newJob("/b.mp4"))
		require.NoError(t, err)
		assert.Equal(t, "fresh", second.ID)

		// The original record is not overwritten by the collision.
		got, err := s.Get(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, "/a.mp4", got.SourcePath)
	})
}

func TestStore_IDCollisionExhausted(t *testing.T) {
	forEachBackend(t, func(t *testing.T, bc backendCase) {
		ctx := context.Background()
		s := bc.open(t, seqIDs("same"), stepClock())
		t.Cleanup(func() { _ = s.Close() })

		_, err := s.Create(ctx, newJob("/a.mp4"))
		require.NoError(t, err)
		_, err = s.Create(ctx, newJob("/b.mp4"))
		assert.ErrorIs(t, err, jobs.ErrDuplicateID)
	})
}

func TestStore_ConcurrentTransitionSingleWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, bc backendCase) {
		ctx := context.Background()
		s := bc.open(t, NewID, time.Now)
		t.Cleanup(func() { _ = s.Close() })

		j, err := s.Create(ctx, newJob("/a.mp4"))
		require.NoError(t, err)

		const n = 8
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Transition(ctx, j.ID, jobs.StateRunning, jobs.Details{}); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}

func TestStore_CancelRacesStart(t *testing.T) {
	forEachBackend(t, func(t *testing.T, bc backendCase) {
		ctx := context.Background()
		s := bc.open(t, NewID, time.Now)
		t.Cleanup(func() { _ = s.Close() })

		j, err := s.Create(ctx, newJob("/a.mp4"))
		require.NoError(t, err)

		var startErr, cancelErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, startErr = s.Transition(ctx, j.ID, jobs.StateRunning, jobs.Details{From: jobs.StateQueued})
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = s.Transition(ctx, j.ID, jobs.StateFailed, jobs.Details{
				From:    jobs.StateQueued,
				Failure: &jobs.Failure{Reason: jobs.ReasonCancelled},
			})
		}()
		wg.Wait()

		require.True(t, (startErr == nil) != (cancelErr == nil), "start=%v cancel=%v", startErr, cancelErr)
		got, err := s.Get(ctx, j.ID)
		require.NoError(t, err)
		if startErr == nil {
			assert.Equal(t, jobs.StateRunning, got.State)
			assert.ErrorIs(t, cancelErr, jobs.ErrInvalidTransition)
		} else {
			assert.Equal(t, jobs.StateFailed, got.State)
			assert.ErrorIs(t, startErr, jobs.ErrInvalidTransition)
		}
	})
}

func TestRedisStore_InsertIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := newRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	s.ids = seqIDs("orphan")
	t.Cleanup(func() { _ = s.Close() })

	// A corrupt index makes ZADD fail inside the insert.
	require.NoError(t, mr.Set(redisIndexKey, "not-a-zset"))

	_, err := s.Create(ctx, newJob("/a.mp4"))
	require.Error(t, err)
	assert.False(t, mr.Exists(redisKeyPrefix+"orphan"), "job written without its index entry")
	_, err = s.Get(ctx, "orphan")
	assert.ErrorIs(t, err, jobs.ErrNotFound)

	mr.Del(redisIndexKey)
	j, err := s.Create(ctx, newJob("/a.mp4"))
	require.NoError(t, err)
	list, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, j.ID, list[0].ID)
}

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cases := []Config{
		{Backend: ""},
		{Backend: "memory"},
		{Backend: "SQLite", Path: filepath.Join(dir, "nested", "jobs.db")},
		{Backend: "badger", Path: filepath.Join(dir, "badger")},
	}
	for _, cfg := range cases {
		s, err := Open(ctx, cfg)
		require.NoError(t, err, cfg.Backend)
		assert.NoError(t, s.Ping(ctx))
		require.NoError(t, s.Close())
	}

	mr := miniredis.RunT(t)
	s, err := Open(ctx, Config{Backend: "redis", Redis: RedisConfig{Addr: mr.Addr()}})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Config{Backend: "etcd"})
	assert.Error(t, err)
	_, err = Open(ctx, Config{Backend: "sqlite"})
	assert.Error(t, err)
}
