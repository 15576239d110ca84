// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/hlsforge/internal/jobs"
	"github.com/ManuGH/hlsforge/internal/jobs/store"
	"github.com/ManuGH/hlsforge/internal/orchestrator"
)

const (
	maxSubmitBody    = 64 << 10
	defaultListLimit = 100
	maxListLimit     = 1000
)

type submitRequest struct {
	SourcePath  string `json:"sourcePath"`
	ContentType string `json:"contentType,omitempty"`
}

type jobRef struct {
	JobID string     `json:"jobId"`
	State jobs.State `json:"state"`
}

type jobList struct {
	Jobs []orchestrator.Status `json:"jobs"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody))
	if err := dec.Decode(&req); err != nil {
		var merr *http.MaxBytesError
		if errors.As(err, &merr) {
			writeError(w, r, err)
			return
		}
		if errors.Is(err, io.EOF) {
			writeError(w, r, &jobs.ValidationError{Field: "body", Reason: "is required"})
			return
		}
		writeError(w, r, &jobs.ValidationError{Field: "body", Reason: "is not valid JSON"})
		return
	}

	j, err := s.jobs.Submit(r.Context(), orchestrator.SubmitRequest{
		SourcePath:  req.SourcePath,
		ContentType: req.ContentType,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+j.ID)
	writeJSON(w, r, http.StatusAccepted, jobRef{JobID: j.ID, State: j.State})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	st, err := s.jobs.GetStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, st)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.jobs.Cancel(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.jobs.GetStatus(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, jobRef{JobID: st.JobID, State: st.State})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.jobs.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []orchestrator.Status{}
	}
	writeJSON(w, r, http.StatusOK, jobList{Jobs: list})
}

// parseFilter accepts repeated or comma-separated state values.
func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	f := store.Filter{Limit: defaultListLimit}

	for _, raw := range q["state"] {
		for _, part := range strings.Split(raw, ",") {
			st := jobs.State(strings.ToUpper(strings.TrimSpace(part)))
			if st == "" {
				continue
			}
			if !st.Valid() {
				return f, &jobs.ValidationError{Field: "state", Reason: "must be one of QUEUED, RUNNING, DONE, FAILED"}
			}
			f.States = append(f.States, st)
		}
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			return f, &jobs.ValidationError{Field: "limit", Reason: "must be between 1 and " + strconv.Itoa(maxListLimit)}
		}
		f.Limit = n
	}
	return f, nil
}
