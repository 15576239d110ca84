// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package jobs defines the transcode job record, its lifecycle state machine
// and the error taxonomy shared by the store, pool and orchestrator.
package jobs

import "time"

// State is the client-visible lifecycle of a job.
type State string

const (
	StateQueued  State = "QUEUED"
	StateRunning State = "RUNNING"
	StateDone    State = "DONE"
	StateFailed  State = "FAILED"
)

// IsTerminal returns true if no transition may leave the state.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateQueued, StateRunning, StateDone, StateFailed:
		return true
	}
	return false
}

// Reason is a compact, stable failure signal. Metrics labels and API clients
// depend on these strings.
type Reason string

const (
	ReasonCancelled     Reason = "cancelled"
	ReasonTimeout       Reason = "timeout"
	ReasonMissingOutput Reason = "missing output"
	ReasonProcessError  Reason = "process error"
	ReasonStartFailed   Reason = "start failed"
	ReasonScheduling    Reason = "scheduling"
	ReasonInternal      Reason = "internal"
)

// Failure is populated if and only if the job is FAILED.
type Failure struct {
	Reason      Reason `json:"reason"`
	ExitCode    int    `json:"exitCode,omitempty"`
	Diagnostics string `json:"diagnostics,omitempty"`
	Message     string `json:"message,omitempty"`
}

// Result is populated if and only if the job is DONE.
type Result struct {
	ManifestPath string `json:"manifestPath"`
	ManifestURL  string `json:"manifestUrl,omitempty"`
}

// Job is the store's source of truth for one transcode request.
type Job struct {
	ID          string     `json:"id"`
	SourcePath  string     `json:"sourcePath"`
	OutputDir   string     `json:"outputDir"`
	ContentType string     `json:"contentType,omitempty"`
	State       State      `json:"state"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Failure     *Failure   `json:"failure,omitempty"`
	Result      *Result    `json:"result,omitempty"`
}

// NewJob carries the caller-supplied fields of a job about to be created.
// OutputDir is derived from the generated id by the OutputDirFunc.
type NewJob struct {
	SourcePath  string
	ContentType string
	OutputDir   func(id string) string
}

// Details are the state-specific payloads attached by a transition.
type Details struct {
	// From, when set, makes the transition conditional: it is rejected with
	// ErrInvalidTransition unless the job is currently in From.
	From    State
	Failure *Failure
	Result  *Result
}

// Clone returns a deep copy so callers never share pointers with a store.
func (j Job) Clone() Job {
	cp := j
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	if j.Failure != nil {
		f := *j.Failure
		cp.Failure = &f
	}
	if j.Result != nil {
		r := *j.Result
		cp.Result = &r
	}
	return cp
}

// Build materialises a QUEUED job for the given id.
func (n NewJob) Build(id string, now time.Time) Job {
	out := ""
	if n.OutputDir != nil {
		out = n.OutputDir(id)
	}
	return Job{
		ID:          id,
		SourcePath:  n.SourcePath,
		OutputDir:   out,
		ContentType: n.ContentType,
		State:       StateQueued,
		CreatedAt:   now.UTC().Truncate(time.Millisecond),
	}
}
