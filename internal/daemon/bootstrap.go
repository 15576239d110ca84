// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuGH/hlsforge/internal/api"
	"github.com/ManuGH/hlsforge/internal/config"
	"github.com/ManuGH/hlsforge/internal/events"
	"github.com/ManuGH/hlsforge/internal/health"
	"github.com/ManuGH/hlsforge/internal/jobs/store"
	"github.com/ManuGH/hlsforge/internal/log"
	"github.com/ManuGH/hlsforge/internal/orchestrator"
	"github.com/ManuGH/hlsforge/internal/pool"
	"github.com/ManuGH/hlsforge/internal/telemetry"
	"github.com/ManuGH/hlsforge/internal/transcoder"
)

// ServiceName identifies the process in traces and logs.
const ServiceName = "hlsforge"

// Build assembles every component from the holder's current config. On error
// everything already opened is released again.
func Build(ctx context.Context, holder *config.Holder, version string) (app *App, err error) {
	cfg := holder.Get()
	logger := log.WithComponent("daemon")

	var cleanups []func(context.Context) error
	defer func() {
		if err == nil {
			return
		}
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		for i := len(cleanups) - 1; i >= 0; i-- {
			_ = cleanups[i](closeCtx)
		}
	}()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    ServiceName,
		ServiceVersion: version,
		ExporterType:   cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	cleanups = append(cleanups, tp.Shutdown)

	if err = health.PerformStartupChecks(ctx, cfg); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, store.Config{
		Backend: cfg.Store.Backend,
		Path:    cfg.Store.Path,
		Redis: store.RedisConfig{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	cleanups = append(cleanups, func(context.Context) error { return st.Close() })

	pub, err := newPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}
	cleanups = append(cleanups, func(context.Context) error { return pub.Close() })

	p, err := pool.New(cfg.Transcode.Workers, cfg.Transcode.QueueLimit)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	runner := transcoder.NewRunner(transcoder.Config{
		FFmpegBin:      cfg.Transcode.FFmpegBin,
		SegmentSeconds: cfg.Transcode.SegmentSeconds,
		Timeout:        cfg.Transcode.Timeout,
		KillGrace:      cfg.Transcode.KillGrace,
	})

	sourceRoot := ""
	if cfg.Transcode.ConfineSources {
		sourceRoot = cfg.Server.UploadsDir
	}
	orch := orchestrator.New(orchestrator.Config{
		UploadsDir:    cfg.Server.UploadsDir,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		SubmitRate:    cfg.Transcode.SubmitRate,
		SubmitBurst:   cfg.Transcode.SubmitBurst,
		SourceRoot:    sourceRoot,
	}, st, p, runner, pub)
	cleanups = append(cleanups, orch.Shutdown)

	// Durable stores may hold jobs from the previous run; settle them before
	// the API accepts new work.
	if _, err = orch.Recover(ctx); err != nil {
		return nil, fmt.Errorf("recover jobs: %w", err)
	}

	hm := health.NewManager(version)
	hm.RegisterChecker(health.NewPingChecker("store", st.Ping))
	hm.RegisterChecker(health.NewBinaryChecker("ffmpeg", func() bool { return runner.Available() == nil }))
	hm.RegisterChecker(health.NewDirChecker("uploads", cfg.Server.UploadsDir))

	tracingService := ""
	if cfg.Tracing.Enabled {
		tracingService = ServiceName
	}
	srv := api.New(api.Config{
		UploadsDir:     cfg.Server.UploadsDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		AllowedOrigins: cfg.Server.CORSOrigins,
		RateLimitRPM:   cfg.Server.RateLimitRPM,
		TracingService: tracingService,
		Version:        version,
	}, orch, hm)

	mgr, err := NewManager(ServerConfig{
		ListenAddr:      cfg.Server.Listen,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, Deps{Logger: logger, Handler: srv.Handler()})
	if err != nil {
		return nil, err
	}

	// LIFO: jobs are settled before their sinks close; spans flush last.
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	mgr.RegisterShutdownHook("store", func(context.Context) error { return st.Close() })
	mgr.RegisterShutdownHook("events", func(context.Context) error { return pub.Close() })
	mgr.RegisterShutdownHook("orchestrator", orch.Shutdown)

	logger.Info().
		Str(log.FieldEvent, "daemon.built").
		Str("store_backend", cfg.Store.Backend).
		Int("workers", cfg.Transcode.Workers).
		Bool("kafka", len(cfg.Events.KafkaBrokers) > 0).
		Bool("tracing", cfg.Tracing.Enabled).
		Msg("components assembled")

	return NewApp(logger, mgr, holder, applyReload(runner)), nil
}

const (
	publishFailureThreshold = 5
	publishCooldown         = 30 * time.Second
	publishBuffer           = 1024
	publishTimeout          = 5 * time.Second
)

func newPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.Nop{}, nil
	}
	pub, err := events.NewKafkaPublisher(events.KafkaConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
	})
	if err != nil {
		return nil, fmt.Errorf("init kafka publisher: %w", err)
	}
	guarded := events.NewGuarded(pub, publishFailureThreshold, publishCooldown)
	return events.NewAsync(guarded, publishBuffer, publishTimeout), nil
}

type timeoutSetter interface {
	SetTimeout(d time.Duration)
}

// applyReload covers the hot-reloadable settings: log level and the
// per-job timeout for runs started afterwards.
func applyReload(runner timeoutSetter) ReloadFunc {
	logger := log.WithComponent("daemon")
	return func(cfg config.AppConfig) {
		if !log.SetLevel(cfg.Log.Level) {
			logger.Warn().Str("level", cfg.Log.Level).Msg("ignoring unknown log level")
		}
		runner.SetTimeout(cfg.Transcode.Timeout)
		logger.Info().
			Str(log.FieldEvent, "config.applied").
			Str("level", cfg.Log.Level).
			Dur("transcode_timeout", cfg.Transcode.Timeout).
			Msg("reloaded settings applied")
	}
}
