// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/hlsforge/internal/jobs"
	"github.com/ManuGH/hlsforge/internal/log"
	"github.com/ManuGH/hlsforge/internal/metrics"
	"github.com/ManuGH/hlsforge/internal/procgroup"
)

// Config parameterizes a Runner.
type Config struct {
	// FFmpegBin is the executable name or path.
	FFmpegBin      string
	SegmentSeconds int
	// Timeout bounds one run. Zero disables it.
	Timeout time.Duration
	// KillGrace is the wait between SIGTERM and SIGKILL.
	KillGrace time.Duration
}

// Outcome is the classified result of one run. Exactly one of Result and
// Failure is set.
type Outcome struct {
	Result   *jobs.Result
	Failure  *jobs.Failure
	Duration time.Duration
}

// State is the terminal job state the outcome maps to.
func (o Outcome) State() jobs.State {
	if o.Failure != nil {
		return jobs.StateFailed
	}
	return jobs.StateDone
}

// Details converts the outcome into a transition payload.
func (o Outcome) Details() jobs.Details {
	return jobs.Details{Result: o.Result, Failure: o.Failure}
}

// Runner executes ffmpeg for a job.
type Runner struct {
	bin       string
	segment   int
	grace     time.Duration
	timeout   atomic.Int64
	logger    zerolog.Logger
	lookupBin func(string) (string, error)
}

// NewRunner applies defaults to cfg.
func NewRunner(cfg Config) *Runner {
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if cfg.SegmentSeconds <= 0 {
		cfg.SegmentSeconds = DefaultSegmentSeconds
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	r := &Runner{
		bin:       cfg.FFmpegBin,
		segment:   cfg.SegmentSeconds,
		grace:     cfg.KillGrace,
		logger:    log.WithComponent("transcoder"),
		lookupBin: exec.LookPath,
	}
	r.SetTimeout(cfg.Timeout)
	return r
}

// SetTimeout changes the timeout for runs started afterwards.
func (r *Runner) SetTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	r.timeout.Store(int64(d))
}

func (r *Runner) Timeout() time.Duration {
	return time.Duration(r.timeout.Load())
}

// Available checks that the ffmpeg binary resolves.
func (r *Runner) Available() error {
	if _, err := r.lookupBin(r.bin); err != nil {
		return fmt.Errorf("ffmpeg binary %q: %w", r.bin, err)
	}
	return nil
}

// Run transcodes j.SourcePath into j.OutputDir and blocks until the process
// group is gone. The caller owns creating the output directory. Cancelling
// ctx stops the process the same way a timeout does.
func (r *Runner) Run(ctx context.Context, j jobs.Job) Outcome {
	start := time.Now()
	logger := r.logger.With().Str(log.FieldJobID, j.ID).Logger()

	args := BuildArgs(j.SourcePath, j.OutputDir, r.segment)
	cmd := exec.Command(r.bin, args...) // #nosec G204 -- argv list, no shell
	procgroup.Set(cmd)
	diag := newTailBuffer(DiagnosticsLimit)
	cmd.Stdout = diag
	cmd.Stderr = diag
	// A grandchild holding the pipes open must not stall Wait forever.
	cmd.WaitDelay = r.grace

	if err := cmd.Start(); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "transcode.start_failed").Msg("ffmpeg failed to start")
		metrics.IncTranscoderExit(string(jobs.ReasonStartFailed))
		return Outcome{
			Failure:  &jobs.Failure{Reason: jobs.ReasonStartFailed, Message: err.Error()},
			Duration: time.Since(start),
		}
	}
	pid := cmd.Process.Pid
	logger.Info().
		Str(log.FieldEvent, "transcode.start").
		Int(log.FieldPID, pid).
		Str(log.FieldSourcePath, j.SourcePath).
		Str(log.FieldOutputDir, j.OutputDir).
		Msg("ffmpeg started")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var timeoutC <-chan time.Time
	if d := r.Timeout(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeoutC = timer.C
	}

	var out Outcome
	select {
	case err := <-waitCh:
		out = r.classify(j, err, diag)
	case <-timeoutC:
		logger.Warn().Str(log.FieldEvent, "transcode.timeout").Int(log.FieldPID, pid).Dur("timeout", r.Timeout()).Msg("ffmpeg timed out")
		_ = procgroup.Terminate(cmd, waitCh, r.grace)
		out = Outcome{Failure: &jobs.Failure{
			Reason:      jobs.ReasonTimeout,
			Message:     fmt.Sprintf("exceeded %s", r.Timeout()),
			Diagnostics: diag.String(),
		}}
	case <-ctx.Done():
		logger.Warn().Str(log.FieldEvent, "transcode.aborted").Int(log.FieldPID, pid).Msg("ffmpeg stopped by shutdown")
		_ = procgroup.Terminate(cmd, waitCh, r.grace)
		out = Outcome{Failure: &jobs.Failure{
			Reason:      jobs.ReasonCancelled,
			Message:     "stopped during shutdown",
			Diagnostics: diag.String(),
		}}
	}
	out.Duration = time.Since(start)

	label := "done"
	ev := logger.Info()
	if out.Failure != nil {
		label = string(out.Failure.Reason)
		ev = logger.Warn().Str(log.FieldReason, label).Int(log.FieldExitCode, out.Failure.ExitCode)
	}
	metrics.IncTranscoderExit(label)
	ev.Str(log.FieldEvent, "transcode.exit").
		Int(log.FieldPID, pid).
		Dur("duration", out.Duration).
		Int64("output_bytes", diag.Written()).
		Msg("ffmpeg finished")
	return out
}

func (r *Runner) classify(j jobs.Job, waitErr error, diag *tailBuffer) Outcome {
	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		f := &jobs.Failure{
			Reason:      jobs.ReasonProcessError,
			Message:     waitErr.Error(),
			Diagnostics: diag.String(),
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			f.ExitCode = exitErr.ExitCode()
		}
		return Outcome{Failure: f}
	}

	manifest := ManifestPath(j.OutputDir)
	fi, err := os.Stat(manifest)
	switch {
	case err != nil:
		return Outcome{Failure: &jobs.Failure{
			Reason:      jobs.ReasonMissingOutput,
			Message:     fmt.Sprintf("manifest not found: %v", err),
			Diagnostics: diag.String(),
		}}
	case !fi.Mode().IsRegular() || fi.Size() == 0:
		return Outcome{Failure: &jobs.Failure{
			Reason:      jobs.ReasonMissingOutput,
			Message:     "manifest is empty",
			Diagnostics: diag.String(),
		}}
	}
	return Outcome{Result: &jobs.Result{ManifestPath: manifest}}
}
