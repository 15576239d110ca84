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

	"github.com/redis/go-redis/v9"

	"github.com/ManuGH/hlsforge/internal/jobs"
)

const (
	redisKeyPrefix = "hlsforge:job:"
	redisIndexKey  = "hlsforge:jobs"

	redisWatchRetries = 5
)

// insertScript writes the index entry and the job in one atomic step. ZADD
// runs first so a failure there leaves nothing behind.
var insertScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
}

// RedisStore keeps each job as a JSON string plus a creation-time sorted set
// used by List. Transitions use WATCH/MULTI so concurrent writers to the same
// job serialize optimistically.
type RedisStore struct {
	client *redis.Client

	ids IDFunc
	now func() time.Time
}

// OpenRedisStore connects and pings the server.
func OpenRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return newRedisStore(client), nil
}

func newRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ids: NewID, now: time.Now}
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStore) Create(ctx context.Context, n jobs.NewJob) (jobs.Job, error) {
	return create(ctx, s.ids, s.insert, n, s.now())
}

func (s *RedisStore) insert(ctx context.Context, j jobs.Job) error {
	buf, err := json.Marshal(j)
	if err != nil {
		return err
	}
	inserted, err := insertScript.Run(ctx, s.client,
		[]string{redisKeyPrefix + j.ID, redisIndexKey},
		buf, j.CreatedAt.UnixMilli(), j.ID,
	).Int()
	if err != nil {
		return fmt.Errorf("redis insert: %w", err)
	}
	if inserted == 0 {
		return jobs.ErrDuplicateID
	}
	return nil
}

func decodeRedisJob(raw string) (jobs.Job, error) {
	var j jobs.Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return jobs.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return j, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (jobs.Job, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return jobs.Job{}, jobs.ErrNotFound
	}
	if err != nil {
		return jobs.Job{}, err
	}
	return decodeRedisJob(raw)
}

func (s *RedisStore) Transition(ctx context.Context, id string, to jobs.State, d jobs.Details) (jobs.Job, error) {
	key := redisKeyPrefix + id
	var out jobs.Job

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return jobs.ErrNotFound
		}
		if err != nil {
			return err
		}
		j, err := decodeRedisJob(raw)
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
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, 0)
			return nil
		})
		if err == nil {
			out = j
		}
		return err
	}

	for attempt := 0; attempt < redisWatchRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return jobs.Job{}, err
		}
		return out, nil
	}
	return jobs.Job{}, fmt.Errorf("redis: transition %s: %w", id, redis.TxFailedErr)
}

func (s *RedisStore) List(ctx context.Context, f Filter) ([]jobs.Job, error) {
	ids, err := s.client.ZRevRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisKeyPrefix + id
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]jobs.Job, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		j, err := decodeRedisJob(raw)
		if err != nil {
			return nil, err
		}
		if f.match(j) {
			out = append(out, j)
		}
	}
	return sortAndLimit(out, f.Limit), nil
}
