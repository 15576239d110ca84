// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/ManuGH/hlsforge/internal/config"
	"github.com/ManuGH/hlsforge/internal/log"
)

// PerformStartupChecks prepares and validates the environment before the
// server starts. The uploads root is created when missing; a missing ffmpeg is
// only reported, since jobs then fail individually with "start failed".
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Server.UploadsDir, 0o755); err != nil {
		return fmt.Errorf("create uploads directory: %w", err)
	}
	if err := checkWritableDir(cfg.Server.UploadsDir); err != nil {
		return fmt.Errorf("uploads directory check failed: %w", err)
	}

	if path, err := exec.LookPath(cfg.Transcode.FFmpegBin); err != nil {
		logger.Warn().
			Str(log.FieldEvent, "startup.ffmpeg_missing").
			Str("ffmpeg_bin", cfg.Transcode.FFmpegBin).
			Msg("transcoder binary not found; jobs will fail until it is installed")
	} else {
		logger.Info().
			Str(log.FieldEvent, "startup.ffmpeg_found").
			Str(log.FieldPath, path).
			Msg("transcoder binary resolved")
	}

	logger.Info().Str(log.FieldEvent, "startup.checks_passed").Msg("startup checks passed")
	return nil
}
