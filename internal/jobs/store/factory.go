// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// Config selects and parameterizes a backend.
type Config struct {
	Backend string
	// Path is the SQLite file or the Badger directory.
	Path  string
	Redis RedisConfig
}

// Open builds the configured backend wrapped with metrics.
func Open(ctx context.Context, cfg Config) (Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendMemory
	}

	var (
		s   Store
		err error
	)
	switch backend {
	case BackendMemory:
		s = NewMemoryStore()
	case BackendSQLite:
		if err = ensureParent(cfg.Path); err != nil {
			return nil, err
		}
		s, err = OpenSQLiteStore(cfg.Path, DefaultSQLiteConfig())
	case BackendBadger:
		if cfg.Path == "" {
			return nil, fmt.Errorf("store: badger backend requires a path")
		}
		if err = os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("store: create badger dir: %w", err)
		}
		s, err = OpenBadgerStore(cfg.Path)
	case BackendRedis:
		s, err = OpenRedisStore(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewInstrumentedStore(s, backend), nil
}

func ensureParent(path string) error {
	if path == "" {
		return fmt.Errorf("store: sqlite backend requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("store: create sqlite dir: %w", err)
	}
	return nil
}
