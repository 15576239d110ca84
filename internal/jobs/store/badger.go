// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ManuGH/hlsforge/internal/jobs"
)

// badgerConflictRetries bounds optimistic-transaction retries in Transition.
const badgerConflictRetries = 5

var badgerJobPrefix = []byte("job:")

// BadgerStore keeps one JSON document per job under "job:<id>".
type BadgerStore struct {
	db *badger.DB

	ids IDFunc
	now func() time.Time
}

// OpenBadgerStore opens a Badger database in dir. An empty dir opens an
// in-memory instance.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open failed: %w", err)
	}
	return &BadgerStore{db: db, ids: NewID, now: time.Now}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger: database closed")
	}
	return nil
}

func badgerKey(id string) []byte {
	return append(append([]byte(nil), badgerJobPrefix...), id...)
}

func (s *BadgerStore) Create(ctx context.Context, n jobs.NewJob) (jobs.Job, error) {
	return create(ctx, s.ids, s.insert, n, s.now())
}

func (s *BadgerStore) insert(ctx context.Context, j jobs.Job) error {
	buf, err := json.Marshal(j)
	if err != nil {
		return err
	}
	key := badgerKey(j.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return jobs.ErrDuplicateID
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, buf)
	})
}

func readJob(txn *badger.Txn, key []byte) (jobs.Job, error) {
	var out jobs.Job
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return out, jobs.ErrNotFound
	}
	if err != nil {
		return out, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &out)
	})
	return out, err
}

func (s *BadgerStore) Get(ctx context.Context, id string) (jobs.Job, error) {
	var out jobs.Job
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = readJob(txn, badgerKey(id))
		return err
	})
	return out, err
}

func (s *BadgerStore) Transition(ctx context.Context, id string, to jobs.State, d jobs.Details) (jobs.Job, error) {
	key := badgerKey(id)
	var out jobs.Job
	for attempt := 0; attempt < badgerConflictRetries; attempt++ {
		err := s.db.Update(func(txn *badger.Txn) error {
			j, err := readJob(txn, key)
			if err != nil {
				return err
			}
			if err := jobs.Apply(&j, to, d, s.now()); err != nil {
				return err
			}
			buf, err := json.Marshal(j)
			if err != nil {
				return err
			}
			out = j
			return txn.Set(key, buf)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return jobs.Job{}, err
		}
		return out, nil
	}
	return jobs.Job{}, fmt.Errorf("badger: transition %s: %w", id, badger.ErrConflict)
}

func (s *BadgerStore) List(ctx context.Context, f Filter) ([]jobs.Job, error) {
	var out []jobs.Job
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = badgerJobPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var j jobs.Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &j)
			}); err != nil {
				return err
			}
			if f.match(j) {
				out = append(out, j)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortAndLimit(out, f.Limit), nil
}
