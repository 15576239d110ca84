// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/hlsforge/internal/log"
)

// lookup returns the raw value of key if it is set and non-empty, logging
// the decision. Sensitive values are never logged.
func lookup(logger zerolog.Logger, key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
		return "", false
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitive(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Str("value", v)
	}
	ev.Msg("using environment variable")
	return v, true
}

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "password") || strings.Contains(k, "token") || strings.Contains(k, "secret")
}

func invalid(logger zerolog.Logger, key, value, kind string) {
	logger.Warn().
		Str("key", key).
		Str("value", value).
		Msgf("invalid %s in environment variable, using default", kind)
}

// ParseString reads a string from the environment or returns defaultValue.
func ParseString(key, defaultValue string) string {
	if v, ok := lookup(log.WithComponent("config"), key); ok {
		return v
	}
	return defaultValue
}

// ParseInt reads an integer, falling back to defaultValue on parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		invalid(logger, key, v, "integer")
		return defaultValue
	}
	return i
}

// ParseInt64 reads a 64-bit integer, falling back to defaultValue on parse errors.
func ParseInt64(key string, defaultValue int64) int64 {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		invalid(logger, key, v, "integer")
		return defaultValue
	}
	return i
}

// ParseDuration reads a Go duration such as "90s".
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		invalid(logger, key, v, "duration")
		return defaultValue
	}
	return d
}

// ParseBool accepts true/false, 1/0 and yes/no, case-insensitively.
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	invalid(logger, key, v, "boolean")
	return defaultValue
}

// ParseFloat reads a float64.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	v, ok := lookup(logger, key)
	if !ok {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		invalid(logger, key, v, "float")
		return defaultValue
	}
	return f
}

// ParseList reads a comma-separated list, dropping blank entries.
func ParseList(key string, defaultValue []string) []string {
	v, ok := lookup(log.WithComponent("config"), key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// applyEnv overlays HLSF_* variables onto cfg. Unset variables keep the
// value already in cfg.
func applyEnv(cfg *AppConfig) {
	s := &cfg.Server
	s.Listen = ParseString("HLSF_LISTEN", s.Listen)
	s.PublicBaseURL = ParseString("HLSF_PUBLIC_BASE_URL", s.PublicBaseURL)
	s.UploadsDir = ParseString("HLSF_UPLOADS_DIR", s.UploadsDir)
	s.MaxUploadBytes = ParseInt64("HLSF_MAX_UPLOAD_BYTES", s.MaxUploadBytes)
	s.CORSOrigins = ParseList("HLSF_CORS_ORIGINS", s.CORSOrigins)
	s.RateLimitRPM = ParseInt("HLSF_RATE_LIMIT_RPM", s.RateLimitRPM)
	s.ShutdownTimeout = ParseDuration("HLSF_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	t := &cfg.Transcode
	t.FFmpegBin = ParseString("HLSF_FFMPEG_BIN", t.FFmpegBin)
	t.Workers = ParseInt("HLSF_WORKERS", t.Workers)
	t.QueueLimit = ParseInt("HLSF_QUEUE_LIMIT", t.QueueLimit)
	t.Timeout = ParseDuration("HLSF_TRANSCODE_TIMEOUT", t.Timeout)
	t.KillGrace = ParseDuration("HLSF_KILL_GRACE", t.KillGrace)
	t.SegmentSeconds = ParseInt("HLSF_SEGMENT_SECONDS", t.SegmentSeconds)
	t.SubmitRate = ParseFloat("HLSF_SUBMIT_RATE", t.SubmitRate)
	t.SubmitBurst = ParseInt("HLSF_SUBMIT_BURST", t.SubmitBurst)
	t.ConfineSources = ParseBool("HLSF_CONFINE_SOURCES", t.ConfineSources)

	st := &cfg.Store
	st.Backend = ParseString("HLSF_STORE_BACKEND", st.Backend)
	st.Path = ParseString("HLSF_STORE_PATH", st.Path)
	st.RedisAddr = ParseString("HLSF_REDIS_ADDR", st.RedisAddr)
	st.RedisPassword = ParseString("HLSF_REDIS_PASSWORD", st.RedisPassword)
	st.RedisDB = ParseInt("HLSF_REDIS_DB", st.RedisDB)

	cfg.Events.KafkaBrokers = ParseList("HLSF_KAFKA_BROKERS", cfg.Events.KafkaBrokers)
	cfg.Events.KafkaTopic = ParseString("HLSF_KAFKA_TOPIC", cfg.Events.KafkaTopic)

	cfg.Log.Level = ParseString("HLSF_LOG_LEVEL", cfg.Log.Level)

	tr := &cfg.Tracing
	tr.Enabled = ParseBool("HLSF_TRACING_ENABLED", tr.Enabled)
	tr.Exporter = ParseString("HLSF_TRACING_EXPORTER", tr.Exporter)
	tr.Endpoint = ParseString("HLSF_TRACING_ENDPOINT", tr.Endpoint)
	tr.SamplingRate = ParseFloat("HLSF_TRACING_SAMPLE_RATE", tr.SamplingRate)
}
