// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown job ids; no state changes.
	ErrNotFound = errors.New("job not found")
	// ErrInvalidTransition marks an illegal state machine edge.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvalidDetails marks a transition whose payload breaks the
	// result-iff-done / failure-iff-failed invariant.
	ErrInvalidDetails = errors.New("invalid transition details")
	// ErrDuplicateID is returned by a store insert that collides.
	ErrDuplicateID = errors.New("duplicate job id")
	// ErrAlreadyRunning is returned when cancelling a dispatched job.
	ErrAlreadyRunning = errors.New("job already running")
	// ErrAlreadyTerminal is returned when cancelling a finished job.
	ErrAlreadyTerminal = errors.New("job already terminal")
	// ErrRateLimited is returned when submissions exceed the admission rate.
	ErrRateLimited = errors.New("submission rate exceeded")
)

// ValidationError rejects a submission synchronously; no job is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SchedulingError reports that a created job could not be handed to the pool.
// The job exists and has already been moved to FAILED.
type SchedulingError struct {
	JobID string
	Err   error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("schedule job %s: %v", e.JobID, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsScheduling reports whether err is (or wraps) a SchedulingError.
func IsScheduling(err error) bool {
	var s *SchedulingError
	return errors.As(err, &s)
}
