// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ManuGH/hlsforge/internal/api/middleware"
	"github.com/ManuGH/hlsforge/internal/jobs"
	"github.com/ManuGH/hlsforge/internal/log"
)

// Stable machine-readable problem codes.
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeAlreadyRunning   = "ALREADY_RUNNING"
	CodeAlreadyTerminal  = "ALREADY_TERMINAL"
	CodeRateLimited      = "RATE_LIMITED"
	CodeSchedulingFailed = "SCHEDULING_FAILED"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeInternal         = "INTERNAL"
)

// writeProblem writes an RFC 7807 problem details response.
// Reserved keys in extra are ignored.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string, extra map[string]any) {
	reqID := log.RequestIDFromContext(r.Context())
	if reqID == "" {
		reqID = w.Header().Get(middleware.HeaderRequestID)
	}

	res := map[string]any{
		"type":      "about:blank",
		"title":     http.StatusText(status),
		"status":    status,
		"code":      code,
		"requestId": reqID,
		"instance":  r.URL.EscapedPath(),
	}
	if detail != "" {
		res["detail"] = detail
	}
	for k, v := range extra {
		switch k {
		case "type", "title", "status", "detail", "instance", "code", "requestId":
			continue
		}
		res[k] = v
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		log.L().Error().Err(err).Str("code", code).Int("status", status).Msg("failed to encode problem response")
	}
}

// writeError maps a domain error onto its problem response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *jobs.ValidationError
		serr *jobs.SchedulingError
		merr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		writeProblem(w, r, http.StatusBadRequest, CodeValidationFailed, verr.Error(), map[string]any{"field": verr.Field})
	case errors.As(err, &serr):
		writeProblem(w, r, http.StatusServiceUnavailable, CodeSchedulingFailed, "job could not be scheduled", map[string]any{"jobId": serr.JobID})
	case errors.As(err, &merr):
		writeProblem(w, r, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, err.Error(), nil)
	case errors.Is(err, jobs.ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		writeProblem(w, r, http.StatusTooManyRequests, CodeRateLimited, err.Error(), nil)
	case errors.Is(err, jobs.ErrNotFound):
		writeProblem(w, r, http.StatusNotFound, CodeNotFound, err.Error(), nil)
	case errors.Is(err, jobs.ErrAlreadyRunning):
		writeProblem(w, r, http.StatusConflict, CodeAlreadyRunning, err.Error(), nil)
	case errors.Is(err, jobs.ErrAlreadyTerminal):
		writeProblem(w, r, http.StatusConflict, CodeAlreadyTerminal, err.Error(), nil)
	default:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().
			Err(err).
			Str(log.FieldEvent, "api.internal_error").
			Str(log.FieldPath, r.URL.Path).
			Msg("request failed")
		writeProblem(w, r, http.StatusInternalServerError, CodeInternal, "internal error", nil)
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Msg("failed to encode response")
	}
}
