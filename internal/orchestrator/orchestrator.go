// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package orchestrator accepts transcode submissions, schedules them on the
// worker pool and records every lifecycle transition in the job store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ManuGH/hlsforge/internal/events"
	"github.com/ManuGH/hlsforge/internal/jobs"
	"github.com/ManuGH/hlsforge/internal/jobs/store"
	"github.com/ManuGH/hlsforge/internal/log"
	"github.com/ManuGH/hlsforge/internal/metrics"
	"github.com/ManuGH/hlsforge/internal/pool"
	"github.com/ManuGH/hlsforge/internal/telemetry"
	"github.com/ManuGH/hlsforge/internal/transcoder"
)

// CoursesDir is the subdirectory of the uploads root holding job outputs.
const CoursesDir = "courses"

const publishTimeout = 5 * time.Second

// Runner executes one job to completion.
type Runner interface {
	Run(ctx context.Context, j jobs.Job) transcoder.Outcome
}

// Scheduler is the subset of *pool.Pool the orchestrator drives.
type Scheduler interface {
	Enqueue(id string, fn pool.Unit) error
	Cancel(id string) bool
	Shutdown(ctx context.Context) ([]string, error)
}

// Config parameterizes an Orchestrator.
type Config struct {
	// UploadsDir is the root of the served tree; outputs land in
	// <UploadsDir>/courses/<jobID>.
	UploadsDir string
	// PublicBaseURL prefixes manifest URLs, e.g. http://localhost:8000.
	PublicBaseURL string
	// SubmitRate is submissions per second; 0 disables the limiter.
	SubmitRate  float64
	SubmitBurst int
	// SourceRoot, when set, confines source paths to that directory tree.
	SourceRoot string
}

// SubmitRequest is one transcode submission.
type SubmitRequest struct {
	SourcePath  string
	ContentType string
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	store     store.Store
	scheduler Scheduler
	runner    Runner
	events    events.Publisher
	limiter   *rate.Limiter
	tracer    trace.Tracer
	logger    zerolog.Logger
}

func New(cfg Config, st store.Store, sched Scheduler, runner Runner, pub events.Publisher) *Orchestrator {
	if pub == nil {
		pub = events.Nop{}
	}
	o := &Orchestrator{
		cfg:       cfg,
		store:     st,
		scheduler: sched,
		runner:    runner,
		events:    pub,
		tracer:    telemetry.Tracer("hlsforge/orchestrator"),
		logger:    log.WithComponent("orchestrator"),
	}
	if cfg.SubmitRate > 0 {
		burst := cfg.SubmitBurst
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), burst)
	}
	return o
}

// OutputDir is the directory owned by job id.
func (o *Orchestrator) OutputDir(id string) string {
	return filepath.Join(o.cfg.UploadsDir, CoursesDir, id)
}

// ManifestURL is the client-facing playlist URL for job id.
func (o *Orchestrator) ManifestURL(id string) string {
	return o.cfg.PublicBaseURL + "/" + path.Join("uploads", CoursesDir, url.PathEscape(id), transcoder.ManifestName)
}

// Submit validates the source, creates a QUEUED job and schedules it. It
// never waits for transcoding. A *jobs.SchedulingError comes back together
// with the (already FAILED) job.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (jobs.Job, error) {
	if err := validateSource(req.SourcePath, o.cfg.SourceRoot); err != nil {
		metrics.IncJobSubmitted("invalid")
		return jobs.Job{}, err
	}
	if o.limiter != nil && !o.limiter.Allow() {
		metrics.IncJobSubmitted("rate_limited")
		return jobs.Job{}, jobs.ErrRateLimited
	}

	j, err := o.store.Create(ctx, jobs.NewJob{
		SourcePath:  req.SourcePath,
		ContentType: req.ContentType,
		OutputDir:   o.OutputDir,
	})
	if err != nil {
		metrics.IncJobSubmitted("error")
		if errors.Is(err, jobs.ErrDuplicateID) {
			metrics.RecordInvariantViolation("duplicate_id")
		}
		return jobs.Job{}, fmt.Errorf("create job: %w", err)
	}

	o.logger.Info().
		Str(log.FieldJobID, j.ID).
		Str(log.FieldEvent, "job.created").
		Str(log.FieldSourcePath, j.SourcePath).
		Str(log.FieldOutputDir, j.OutputDir).
		Msg("job created")
	o.publish(events.Event{JobID: j.ID, To: jobs.StateQueued, At: j.CreatedAt})

	if failed, err := o.schedule(ctx, j.ID); err != nil {
		metrics.IncJobSubmitted("scheduling")
		if failed.ID == "" {
			return j, err
		}
		return failed, err
	}

	metrics.IncJobSubmitted("accepted")
	return j, nil
}

// schedule hands a QUEUED job to the pool. When the pool refuses it the job
// is failed with reason scheduling and returned with a *jobs.SchedulingError.
func (o *Orchestrator) schedule(ctx context.Context, id string) (jobs.Job, error) {
	err := o.scheduler.Enqueue(id, func(ctx context.Context) { o.runJob(ctx, id) })
	if err == nil {
		return jobs.Job{}, nil
	}
	if errors.Is(err, pool.ErrDuplicate) {
		metrics.RecordInvariantViolation("duplicate_schedule")
		o.logger.Error().
			Str(log.FieldEvent, "invariant.violation").
			Str(log.FieldJobID, id).
			Err(err).
			Msg("job id already scheduled")
	}
	failed, terr := o.transition(context.WithoutCancel(ctx), id, jobs.StateQueued, jobs.StateFailed, jobs.Details{
		Failure: &jobs.Failure{Reason: jobs.ReasonScheduling, Message: err.Error()},
	})
	if terr != nil {
		return jobs.Job{}, &jobs.SchedulingError{JobID: id, Err: errors.Join(err, terr)}
	}
	return failed, &jobs.SchedulingError{JobID: id, Err: err}
}

// GetStatus is a pure store read.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (Status, error) {
	j, err := o.store.Get(ctx, id)
	if err != nil {
		return Status{}, err
	}
	return StatusOf(j), nil
}

// Cancel withdraws a job that has not been dispatched yet. Dispatched jobs
// return jobs.ErrAlreadyRunning, finished ones jobs.ErrAlreadyTerminal.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	j, err := o.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			metrics.IncJobCancel("not_found")
		}
		return err
	}
	if j.State.IsTerminal() {
		metrics.IncJobCancel("already_terminal")
		return jobs.ErrAlreadyTerminal
	}

	// A false return covers a unit the pool has already popped but whose
	// QUEUED->RUNNING edge is not committed yet. The conditional store
	// transition below decides that race: exactly one side wins.
	withdrawn := o.scheduler.Cancel(id)

	_, err = o.apply(ctx, id, jobs.StateQueued, jobs.StateFailed, jobs.Details{
		Failure: &jobs.Failure{Reason: jobs.ReasonCancelled, Message: "cancelled before dispatch"},
	})
	switch {
	case err == nil:
		metrics.IncJobCancel("cancelled")
		return nil
	case !errors.Is(err, jobs.ErrInvalidTransition):
		o.reportTransitionError(id, jobs.StateQueued, jobs.StateFailed, err)
		return err
	case withdrawn:
		// Nobody else may move a withdrawn job.
		o.reportTransitionError(id, jobs.StateQueued, jobs.StateFailed, err)
		return err
	}

	if cur, gerr := o.store.Get(ctx, id); gerr == nil && cur.State.IsTerminal() {
		metrics.IncJobCancel("already_terminal")
		return jobs.ErrAlreadyTerminal
	}
	metrics.IncJobCancel("already_running")
	return jobs.ErrAlreadyRunning
}

// List returns jobs newest first.
func (o *Orchestrator) List(ctx context.Context, f store.Filter) ([]Status, error) {
	list, err := o.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(list))
	for _, j := range list {
		out = append(out, StatusOf(j))
	}
	return out, nil
}

// Shutdown stops scheduling and fails every job still waiting in the pool.
// Running jobs get until ctx expires; after that their processes are stopped.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	dropped, err := o.scheduler.Shutdown(ctx)
	for _, id := range dropped {
		_, terr := o.transition(context.WithoutCancel(ctx), id, jobs.StateQueued, jobs.StateFailed, jobs.Details{
			Failure: &jobs.Failure{Reason: jobs.ReasonScheduling, Message: "dropped at shutdown"},
		})
		if terr != nil {
			o.logger.Error().Err(terr).Str(log.FieldJobID, id).Msg("failed to fail dropped job")
		}
	}
	o.logger.Info().
		Str(log.FieldEvent, "orchestrator.shutdown").
		Int("dropped", len(dropped)).
		Msg("orchestrator stopped")
	return err
}

// runJob is the pool unit for one job.
func (o *Orchestrator) runJob(ctx context.Context, id string) {
	ctx = log.ContextWithJobID(ctx, id)
	storeCtx := context.WithoutCancel(ctx)

	ctx, span := o.tracer.Start(ctx, "transcode.run", trace.WithAttributes(telemetry.JobAttributes(id, "")...))
	defer span.End()

	j, err := o.apply(storeCtx, id, jobs.StateQueued, jobs.StateRunning, jobs.Details{})
	if err != nil {
		if o.cancelledBeforeStart(storeCtx, id, err) {
			telemetry.RecordOutcome(span, string(jobs.StateFailed), string(jobs.ReasonCancelled), 0, 0)
			return
		}
		o.reportTransitionError(id, jobs.StateQueued, jobs.StateRunning, err)
		telemetry.RecordOutcome(span, "", string(jobs.ReasonInternal), 0, 0)
		return
	}
	span.SetAttributes(telemetry.JobAttributes(j.ID, j.SourcePath)...)

	if err := os.MkdirAll(j.OutputDir, 0o750); err != nil {
		o.finish(storeCtx, span, j, transcoder.Outcome{Failure: &jobs.Failure{
			Reason:  jobs.ReasonInternal,
			Message: fmt.Sprintf("create output dir: %v", err),
		}})
		return
	}

	out := o.runner.Run(ctx, j)
	if out.Result != nil {
		out.Result.ManifestURL = o.ManifestURL(j.ID)
	}
	o.finish(storeCtx, span, j, out)
}

func (o *Orchestrator) finish(ctx context.Context, span trace.Span, j jobs.Job, out transcoder.Outcome) {
	final, err := o.transition(ctx, j.ID, jobs.StateRunning, out.State(), out.Details())
	if err != nil {
		telemetry.RecordOutcome(span, "", string(jobs.ReasonInternal), 0, out.Duration.Milliseconds())
		return
	}

	reason, exit := "", 0
	if final.Failure != nil {
		reason, exit = string(final.Failure.Reason), final.Failure.ExitCode
	}
	if final.StartedAt != nil && final.CompletedAt != nil {
		secs := final.CompletedAt.Sub(*final.StartedAt).Seconds()
		metrics.ObserveJobRun(string(final.State), secs)
		telemetry.RecordJobRun(ctx, string(final.State), reason, secs)
	}
	telemetry.RecordOutcome(span, string(final.State), reason, exit, out.Duration.Milliseconds())

	if final.State == jobs.StateDone {
		if err := writeSidecar(final); err != nil {
			o.logger.Warn().Err(err).Str(log.FieldJobID, final.ID).Msg("job.json sidecar not written")
		}
	}
}

// transition is apply for edges only the orchestrator drives: any rejection
// is an invariant violation.
func (o *Orchestrator) transition(ctx context.Context, id string, from, to jobs.State, d jobs.Details) (jobs.Job, error) {
	j, err := o.apply(ctx, id, from, to, d)
	if err != nil {
		o.reportTransitionError(id, from, to, err)
	}
	return j, err
}

// cancelledBeforeStart reports whether a rejected QUEUED->RUNNING edge lost
// the race against Cancel.
func (o *Orchestrator) cancelledBeforeStart(ctx context.Context, id string, err error) bool {
	if !errors.Is(err, jobs.ErrInvalidTransition) {
		return false
	}
	cur, gerr := o.store.Get(ctx, id)
	if gerr != nil || cur.State != jobs.StateFailed || cur.Failure == nil || cur.Failure.Reason != jobs.ReasonCancelled {
		return false
	}
	o.logger.Debug().
		Str(log.FieldEvent, "job.cancelled_before_start").
		Str(log.FieldJobID, id).
		Msg("job cancelled while being dispatched")
	return true
}

func (o *Orchestrator) reportTransitionError(id string, from, to jobs.State, err error) {
	if errors.Is(err, jobs.ErrInvalidTransition) || errors.Is(err, jobs.ErrInvalidDetails) {
		metrics.RecordInvariantViolation("illegal_transition")
		o.logger.Error().
			Err(err).
			Str(log.FieldEvent, "invariant.violation").
			Str(log.FieldJobID, id).
			Str(log.FieldOldState, string(from)).
			Str(log.FieldNewState, string(to)).
			Msg("illegal job transition")
		return
	}
	o.logger.Error().Err(err).Str(log.FieldJobID, id).Msg("job transition failed")
}

// apply moves id from -> to, conditional on the job still being in from, and
// reports the committed edge to logs, metrics and the event sink.
func (o *Orchestrator) apply(ctx context.Context, id string, from, to jobs.State, d jobs.Details) (jobs.Job, error) {
	d.From = from
	j, err := o.store.Transition(ctx, id, to, d)
	if err != nil {
		return jobs.Job{}, err
	}

	metrics.IncJobTransition(string(from), string(to))
	telemetry.RecordJobTransition(ctx, string(from), string(to))
	ev := o.logger.Info().
		Str(log.FieldEvent, "job.transition").
		Str(log.FieldJobID, id).
		Str(log.FieldOldState, string(from)).
		Str(log.FieldNewState, string(to))
	if j.Failure != nil {
		metrics.IncJobFailure(string(j.Failure.Reason))
		ev = ev.Str(log.FieldReason, string(j.Failure.Reason))
		if j.Failure.ExitCode != 0 {
			ev = ev.Int(log.FieldExitCode, j.Failure.ExitCode)
		}
	}
	if j.Result != nil {
		ev = ev.Str(log.FieldPlaylistPath, j.Result.ManifestPath)
	}
	ev.Msg("job state changed")

	o.publish(events.FromTransition(from, j))
	return j, nil
}

func (o *Orchestrator) publish(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	// Delivery problems are logged by the publisher; job state never depends on them.
	_ = o.events.Publish(ctx, ev)
}

func validateSource(p, root string) error {
	if p == "" {
		return &jobs.ValidationError{Field: "sourcePath", Reason: "is required"}
	}
	if root != "" && !within(root, p) {
		return &jobs.ValidationError{Field: "sourcePath", Reason: "is outside the uploads directory"}
	}
	fi, err := os.Stat(p)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return &jobs.ValidationError{Field: "sourcePath", Reason: "does not exist"}
	case err != nil:
		return &jobs.ValidationError{Field: "sourcePath", Reason: fmt.Sprintf("cannot be read: %v", err)}
	case !fi.Mode().IsRegular():
		return &jobs.ValidationError{Field: "sourcePath", Reason: "is not a regular file"}
	case fi.Size() == 0:
		return &jobs.ValidationError{Field: "sourcePath", Reason: "is empty"}
	}
	return nil
}

// within reports whether p resolves to a location under root. Symlinks are
// followed on both sides so a link inside root cannot point out of it.
func within(root, p string) bool {
	r, err := resolve(root)
	if err != nil {
		return false
	}
	target, err := resolve(p)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(r, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func resolve(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}
