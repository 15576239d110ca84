// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/ManuGH/hlsforge/internal/jobs"
	"github.com/ManuGH/hlsforge/internal/log"
	"github.com/ManuGH/hlsforge/internal/metrics"
	"github.com/ManuGH/hlsforge/internal/orchestrator"
)

const (
	uploadField     = "file"
	maxExtLen       = 10
	multipartMemory = 32 << 20
)

type uploadResponse struct {
	JobID    string     `json:"jobId"`
	State    jobs.State `json:"state"`
	FileName string     `json:"fileName"`
	VideoURL string     `json:"videoUrl"`
}

// handleUpload stores the multipart "file" part as file-<uuid><ext> under
// the uploads root and submits it for transcoding.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "upload")
	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		metrics.RecordUpload("rejected", 0)
		var merr *http.MaxBytesError
		if errors.As(err, &merr) {
			writeError(w, r, err)
			return
		}
		writeError(w, r, &jobs.ValidationError{Field: uploadField, Reason: "request is not a valid multipart form"})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	src, header, err := r.FormFile(uploadField)
	if err != nil {
		metrics.RecordUpload("rejected", 0)
		writeError(w, r, &jobs.ValidationError{Field: uploadField, Reason: "is required"})
		return
	}
	defer func() { _ = src.Close() }()

	name := "file-" + uuid.NewString() + safeExt(header.Filename)
	dst := filepath.Join(s.cfg.UploadsDir, name)
	n, err := saveUpload(dst, src)
	if err != nil {
		metrics.RecordUpload("error", n)
		writeError(w, r, fmt.Errorf("store upload: %w", err))
		return
	}
	logger.Info().
		Str(log.FieldEvent, "upload.stored").
		Str(log.FieldPath, dst).
		Int64("bytes", n).
		Msg("upload stored")

	j, err := s.jobs.Submit(r.Context(), orchestrator.SubmitRequest{
		SourcePath:  dst,
		ContentType: header.Header.Get("Content-Type"),
	})
	if err != nil {
		if jobs.IsValidation(err) || errors.Is(err, jobs.ErrRateLimited) {
			_ = os.Remove(dst)
		}
		metrics.RecordUpload("rejected", n)
		writeError(w, r, err)
		return
	}

	metrics.RecordUpload("accepted", n)
	w.Header().Set("Location", "/jobs/"+j.ID)
	writeJSON(w, r, http.StatusAccepted, uploadResponse{
		JobID:    j.ID,
		State:    j.State,
		FileName: name,
		VideoURL: s.jobs.ManifestURL(j.ID),
	})
}

// safeExt keeps the client's extension only when it is short and alphanumeric.
// Names carrying control characters get no extension at all.
func safeExt(filename string) string {
	base := norm.NFC.String(filepath.Base(filename))
	if strings.ContainsFunc(base, unicode.IsControl) {
		return ""
	}
	ext := strings.ToLower(filepath.Ext(base))
	if len(ext) < 2 || len(ext) > maxExtLen {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}

func saveUpload(dst string, src io.Reader) (int64, error) {
	// #nosec G304 -- dst is built from a generated name under the uploads root.
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return n, err
	}
	return n, nil
}
