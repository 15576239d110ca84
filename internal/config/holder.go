// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ManuGH/hlsforge/internal/log"
	"github.com/ManuGH/hlsforge/internal/metrics"
)

const reloadDebounce = 500 * time.Millisecond

// Holder owns the live configuration and reloads it when the file changes.
// Only settings that can change without a restart are acted on by
// listeners; the rest are logged.
type Holder struct {
	mu      sync.RWMutex
	current AppConfig
	loader  *Loader
	logger  zerolog.Logger

	listenMu  sync.RWMutex
	listeners []chan<- AppConfig
}

func NewHolder(initial AppConfig, loader *Loader) *Holder {
	return &Holder{
		current: initial,
		loader:  loader,
		logger:  log.WithComponent("config"),
	}
}

// Get returns a copy of the current configuration.
func (h *Holder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.Clone()
}

// RegisterListener receives every successfully reloaded config. Sends are
// non-blocking; a full channel misses the update.
func (h *Holder) RegisterListener(ch chan<- AppConfig) {
	h.listenMu.Lock()
	defer h.listenMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

// Reload re-reads the file. On any error the current config is kept.
func (h *Holder) Reload() error {
	h.logger.Info().Str(log.FieldEvent, "config.reload_start").Msg("reloading configuration")

	next, err := h.loader.Load()
	if err != nil {
		metrics.IncConfigReload("invalid")
		h.logger.Error().Err(err).Str(log.FieldEvent, "config.reload_failed").Msg("new configuration rejected, keeping current")
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	old := h.current
	h.current = next
	h.mu.Unlock()

	h.logChanges(old, next)
	h.notify(next)
	metrics.IncConfigReload("applied")
	h.logger.Info().Str(log.FieldEvent, "config.reload_success").Msg("configuration reloaded")
	return nil
}

func (h *Holder) notify(cfg AppConfig) {
	h.listenMu.RLock()
	defer h.listenMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg.Clone():
		default:
			h.logger.Warn().Str(log.FieldEvent, "config.listener_skip").Msg("listener channel full, update skipped")
		}
	}
}

func (h *Holder) logChanges(old, next AppConfig) {
	if old.Log.Level != next.Log.Level {
		h.logger.Info().Str("old", old.Log.Level).Str("new", next.Log.Level).Msg("config changed: log.level")
	}
	if old.Transcode.Timeout != next.Transcode.Timeout {
		h.logger.Info().Dur("old", old.Transcode.Timeout).Dur("new", next.Transcode.Timeout).Msg("config changed: transcode.timeout")
	}
	restart := map[string]bool{
		"server.listen":     old.Server.Listen != next.Server.Listen,
		"server.uploadsDir": old.Server.UploadsDir != next.Server.UploadsDir,
		"store":             old.Store != next.Store,
		"transcode.workers": old.Transcode.Workers != next.Transcode.Workers,
	}
	for field, changed := range restart {
		if changed {
			h.logger.Warn().Str("field", field).Msg("config change requires a restart to take effect")
		}
	}
}

// Watch reloads on file changes until ctx is done. The parent directory is
// watched so editors that replace the file by rename are still seen.
func (h *Holder) Watch(ctx context.Context) error {
	if h.loader.Path == "" {
		h.logger.Info().Str(log.FieldEvent, "config.watcher_disabled").Msg("no config file, watcher disabled")
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	target := filepath.Clean(h.loader.Path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	h.logger.Info().Str(log.FieldEvent, "config.watcher_started").Str(log.FieldPath, target).Msg("watching config file")

	var debounce *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str(log.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			_ = h.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			metrics.IncConfigReload("error")
			h.logger.Error().Err(err).Str(log.FieldEvent, "config.watcher_error").Msg("config watcher error")
		}
	}
}
