// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// jobStatus mirrors the daemon's job status document.
type jobStatus struct {
	JobID       string     `json:"jobId"`
	State       string     `json:"state"`
	SourcePath  string     `json:"sourcePath"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ResultRef   string     `json:"resultRef,omitempty"`
	ManifestURL string     `json:"manifestUrl,omitempty"`
	Failure     *struct {
		Reason      string `json:"reason"`
		ExitCode    int    `json:"exitCode,omitempty"`
		Diagnostics string `json:"diagnostics,omitempty"`
		Message     string `json:"message,omitempty"`
	} `json:"failureDetail,omitempty"`
}

func (s jobStatus) terminal() bool {
	return s.State == "DONE" || s.State == "FAILED"
}

type jobRef struct {
	JobID    string `json:"jobId"`
	State    string `json:"state"`
	FileName string `json:"fileName,omitempty"`
	VideoURL string `json:"videoUrl,omitempty"`
}

// apiError is a decoded problem response.
type apiError struct {
	Status int
	Code   string `json:"code"`
	Detail string `json:"detail"`
	JobID  string `json:"jobId"`
}

func (e *apiError) Error() string {
	msg := fmt.Sprintf("%s (HTTP %d)", e.Code, e.Status)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.JobID != "" {
		msg += " [job " + e.JobID + "]"
	}
	return msg
}

type client struct {
	base string
	http *http.Client
}

func newClient(base string, timeout time.Duration) *client {
	return &client{
		base: strings.TrimSuffix(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

func (c *client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *client) submit(ctx context.Context, sourcePath, contentType string) (jobRef, error) {
	body, err := json.Marshal(map[string]string{"sourcePath": sourcePath, "contentType": contentType})
	if err != nil {
		return jobRef{}, err
	}
	var ref jobRef
	err = c.do(ctx, http.MethodPost, "/jobs", "application/json", bytes.NewReader(body), &ref)
	return ref, err
}

func (c *client) upload(ctx context.Context, path string) (jobRef, error) {
	f, err := os.Open(path) // #nosec G304 -- user-selected file
	if err != nil {
		return jobRef{}, err
	}
	defer func() { _ = f.Close() }()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	var ref jobRef
	err = c.do(ctx, http.MethodPost, "/upload", mw.FormDataContentType(), pr, &ref)
	_ = pr.Close()
	return ref, err
}

func (c *client) status(ctx context.Context, id string) (jobStatus, error) {
	var st jobStatus
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), "", nil, &st)
	return st, err
}

func (c *client) cancel(ctx context.Context, id string) (jobRef, error) {
	var ref jobRef
	err := c.do(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(id), "", nil, &ref)
	return ref, err
}

func (c *client) list(ctx context.Context, states []string, limit int) ([]jobStatus, error) {
	q := url.Values{}
	for _, s := range states {
		q.Add("state", s)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out struct {
		Jobs []jobStatus `json:"jobs"`
	}
	err := c.do(ctx, http.MethodGet, path, "", nil, &out)
	return out.Jobs, err
}

// wait polls until the job is terminal or ctx ends.
func (c *client) wait(ctx context.Context, id string, every time.Duration) (jobStatus, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		st, err := c.status(ctx, id)
		if err != nil {
			return st, err
		}
		if st.terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}
