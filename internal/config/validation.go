// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// FieldError names one invalid setting.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Message)
}

// Validate checks cfg and normalizes values in place: the public base URL
// host is converted to its ASCII (punycode) form and loses any trailing slash.
func (c *AppConfig) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Server.Listen == "" {
		add("server.listen", "must not be empty")
	}
	if base, err := normalizeBaseURL(c.Server.PublicBaseURL); err != nil {
		add("server.publicBaseUrl", "%v", err)
	} else {
		c.Server.PublicBaseURL = base
	}
	if c.Server.UploadsDir == "" {
		add("server.uploadsDir", "must not be empty")
	}
	if c.Server.MaxUploadBytes <= 0 {
		add("server.maxUploadBytes", "must be > 0")
	}
	if c.Server.RateLimitRPM < 0 {
		add("server.rateLimitRpm", "must be >= 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		add("server.shutdownTimeout", "must be > 0")
	}

	t := c.Transcode
	if t.FFmpegBin == "" {
		add("transcode.ffmpegBin", "must not be empty")
	}
	if t.Workers < 1 {
		add("transcode.workers", "must be >= 1, got %d", t.Workers)
	}
	if t.QueueLimit < 0 {
		add("transcode.queueLimit", "must be >= 0")
	}
	if t.Timeout < 0 {
		add("transcode.timeout", "must be >= 0")
	}
	if t.KillGrace <= 0 {
		add("transcode.killGrace", "must be > 0")
	}
	if t.SegmentSeconds < 1 {
		add("transcode.segmentSeconds", "must be >= 1")
	}
	if t.SubmitRate < 0 {
		add("transcode.submitRate", "must be >= 0")
	}
	if t.SubmitRate > 0 && t.SubmitBurst < 1 {
		add("transcode.submitBurst", "must be >= 1 when submitRate is set")
	}

	switch strings.ToLower(c.Store.Backend) {
	case "memory":
	case "sqlite", "badger":
		if c.Store.Path == "" {
			add("store.path", "required for the %s backend", c.Store.Backend)
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			add("store.redisAddr", "required for the redis backend")
		}
	default:
		add("store.backend", "unknown backend %q (memory, sqlite, badger, redis)", c.Store.Backend)
	}

	if len(c.Events.KafkaBrokers) > 0 && c.Events.KafkaTopic == "" {
		add("events.kafkaTopic", "required when kafkaBrokers is set")
	}

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		add("log.level", "unknown level %q", c.Log.Level)
	}

	if c.Tracing.Enabled {
		if c.Tracing.Exporter != "grpc" && c.Tracing.Exporter != "http" {
			add("tracing.exporter", "must be grpc or http")
		}
		if c.Tracing.Endpoint == "" {
			add("tracing.endpoint", "required when tracing is enabled")
		}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.samplingRate", "must be within [0, 1]")
	}

	return errors.Join(errs...)
}

func normalizeBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", errors.New("host is required")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", errors.New("query and fragment are not allowed")
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", fmt.Errorf("invalid host %q: %w", host, err)
		}
		host = ascii
	}
	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		u.Host = "[" + host + "]"
	} else {
		u.Host = host
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}
