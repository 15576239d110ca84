// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the HTTP surface of hlsforge: job submission and status,
// uploads, static serving of outputs, health checks and metrics.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/hlsforge/internal/api/middleware"
	"github.com/ManuGH/hlsforge/internal/health"
	"github.com/ManuGH/hlsforge/internal/jobs"
	"github.com/ManuGH/hlsforge/internal/jobs/store"
	"github.com/ManuGH/hlsforge/internal/orchestrator"
)

// JobService is the orchestrator surface the handlers use.
type JobService interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (jobs.Job, error)
	GetStatus(ctx context.Context, id string) (orchestrator.Status, error)
	Cancel(ctx context.Context, id string) error
	List(ctx context.Context, f store.Filter) ([]orchestrator.Status, error)
	ManifestURL(id string) string
}

// Config parameterizes the HTTP surface.
type Config struct {
	UploadsDir     string
	MaxUploadBytes int64
	AllowedOrigins []string
	RateLimitRPM   int
	// TracingService names HTTP spans; empty disables HTTP tracing.
	TracingService string
	Version        string
}

// Server holds the handler dependencies.
type Server struct {
	cfg    Config
	jobs   JobService
	health *health.Manager
}

// New builds a Server. A nil health manager answers health endpoints without checks.
func New(cfg Config, svc JobService, hm *health.Manager) *Server {
	if hm == nil {
		hm = health.NewManager(cfg.Version)
	}
	return &Server{cfg: cfg, jobs: svc, health: hm}
}

// Handler returns the routed handler with the ingress middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		AllowedOrigins: s.cfg.AllowedOrigins,
		EnableMetrics:  true,
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
		RateLimitRPM:   s.cfg.RateLimitRPM,
	})

	r.Get("/", s.handleGreeting)
	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", serveOpenAPI)

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGetJob)
		r.Delete("/{id}", s.handleCancel)
	})
	r.Post("/upload", s.handleUpload)
	r.Method(http.MethodGet, "/uploads/*", http.StripPrefix("/uploads", uploadsHandler(s.cfg.UploadsDir)))
	r.Method(http.MethodHead, "/uploads/*", http.StripPrefix("/uploads", uploadsHandler(s.cfg.UploadsDir)))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, CodeNotFound, "no such route", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "", nil)
	})
	return r
}

func (s *Server) handleGreeting(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{
		"message": "hlsforge is up",
		"version": s.cfg.Version,
	})
}
