// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/hlsforge/internal/config"
	"github.com/ManuGH/hlsforge/internal/log"
)

// ReloadFunc applies the settings that can change without a restart.
type ReloadFunc func(cfg config.AppConfig)

// App owns the long-lived runtime: config watching, reload wiring and the
// server lifecycle delegated to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	holder       *config.Holder
	apply        ReloadFunc
	reloadSignal os.Signal
}

// NewApp creates a new App. holder and apply may be nil.
func NewApp(logger zerolog.Logger, manager Manager, holder *config.Holder, apply ReloadFunc) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		holder:       holder,
		apply:        apply,
		reloadSignal: syscall.SIGHUP,
	}
}

// Manager exposes the server manager, mainly for its bound address.
func (a *App) Manager() Manager { return a.manager }

// Run blocks until ctx is cancelled or the server fails, and returns after
// the shutdown sequence has finished.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.holder != nil {
		// The watcher is best-effort; a failure leaves SIGHUP reloads working.
		g.Go(func() error {
			if err := a.holder.Watch(ctx); err != nil {
				a.logger.Warn().Err(err).Str(log.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
			}
			return nil
		})

		if a.apply != nil {
			applyCh := make(chan config.AppConfig, 1)
			a.holder.RegisterListener(applyCh)
			g.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return nil
					case cfg := <-applyCh:
						a.apply(cfg)
					}
				}
			})
		}

		if a.reloadSignal != nil {
			g.Go(func() error {
				hup := make(chan os.Signal, 1)
				signal.Notify(hup, a.reloadSignal)
				defer signal.Stop(hup)
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-hup:
						a.logger.Info().
							Str(log.FieldEvent, "config.reload_signal").
							Str("signal", a.reloadSignal.String()).
							Msg("received reload signal, reloading config")
						_ = a.holder.Reload()
					}
				}
			})
		}
	}

	g.Go(func() error {
		return a.manager.Start(ctx)
	})

	return g.Wait()
}
