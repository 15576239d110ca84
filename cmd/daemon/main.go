// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command daemon runs the hlsforge transcode service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/hlsforge/internal/config"
	"github.com/ManuGH/hlsforge/internal/daemon"
	"github.com/ManuGH/hlsforge/internal/log"
	"github.com/ManuGH/hlsforge/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) > 0 && args[0] == "healthcheck" {
		return runHealthcheckCLI(args[1:], stdout, stderr)
	}

	fs := flag.NewFlagSet("hlsforge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showVersion := fs.Bool("version", false, "print version and exit")
	configPath := fs.String("config", os.Getenv("HLSF_CONFIG"), "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		_, _ = fmt.Fprintln(stdout, version.String())
		return 0
	}

	// Safe defaults until the config is loaded.
	log.Configure(log.Config{Level: "info", Output: stderr, Service: daemon.ServiceName, Version: version.Version})
	logger := log.WithComponent("main")

	loader := config.NewLoader(strings.TrimSpace(*configPath))
	cfg, err := loader.Load()
	if err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "config.invalid").Msg("failed to load configuration")
		return 1
	}
	log.Configure(log.Config{Level: cfg.Log.Level, Output: stderr, Service: daemon.ServiceName, Version: version.Version})
	logger = log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str(log.FieldEvent, "daemon.starting").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("listen", cfg.Server.Listen).
		Str(log.FieldBaseURL, cfg.Server.PublicBaseURL).
		Msg("starting hlsforge")

	app, err := daemon.Build(ctx, config.NewHolder(cfg, loader), version.Version)
	if err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "daemon.build_failed").Msg("failed to start")
		return 1
	}
	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "daemon.failed").Msg("daemon exited with error")
		return 1
	}
	logger.Info().Str(log.FieldEvent, "daemon.stopped").Msg("hlsforge stopped")
	return 0
}
