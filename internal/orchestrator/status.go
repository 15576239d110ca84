// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package orchestrator

import (
	"time"

	"github.com/ManuGH/hlsforge/internal/jobs"
)

// Status is the caller-facing view of a job.
type Status struct {
	JobID       string        `json:"jobId"`
	State       jobs.State    `json:"state"`
	SourcePath  string        `json:"sourcePath"`
	CreatedAt   time.Time     `json:"createdAt"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	ResultRef   string        `json:"resultRef,omitempty"`
	ManifestURL string        `json:"manifestUrl,omitempty"`
	Failure     *jobs.Failure `json:"failureDetail,omitempty"`
}

// StatusOf projects a stored job.
func StatusOf(j jobs.Job) Status {
	s := Status{
		JobID:       j.ID,
		State:       j.State,
		SourcePath:  j.SourcePath,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		Failure:     j.Failure,
	}
	if j.Result != nil {
		s.ResultRef = j.Result.ManifestPath
		s.ManifestURL = j.Result.ManifestURL
	}
	return s
}
