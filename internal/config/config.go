// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration: built-in defaults, then an
// optional strict YAML file, then HLSF_* environment overrides.
package config

import "time"

// AppConfig is the complete daemon configuration.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Transcode TranscodeConfig `yaml:"transcode"`
	Store     StoreConfig     `yaml:"store"`
	Events    EventsConfig    `yaml:"events"`
	Log       LogConfig       `yaml:"log"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
	// PublicBaseURL prefixes manifest URLs handed to clients.
	PublicBaseURL   string        `yaml:"publicBaseUrl"`
	UploadsDir      string        `yaml:"uploadsDir"`
	MaxUploadBytes  int64         `yaml:"maxUploadBytes"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
	RateLimitRPM    int           `yaml:"rateLimitRpm"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type TranscodeConfig struct {
	FFmpegBin      string        `yaml:"ffmpegBin"`
	Workers        int           `yaml:"workers"`
	QueueLimit     int           `yaml:"queueLimit"`
	Timeout        time.Duration `yaml:"timeout"`
	KillGrace      time.Duration `yaml:"killGrace"`
	SegmentSeconds int           `yaml:"segmentSeconds"`
	// SubmitRate is accepted submissions per second; 0 disables admission limiting.
	SubmitRate  float64 `yaml:"submitRate"`
	SubmitBurst int     `yaml:"submitBurst"`
	// ConfineSources rejects source paths outside server.uploadsDir.
	ConfineSources bool `yaml:"confineSources"`
}

type StoreConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`
}

type EventsConfig struct {
	KafkaBrokers []string `yaml:"kafkaBrokers"`
	KafkaTopic   string   `yaml:"kafkaTopic"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}

// Default returns the built-in configuration.
func Default() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Listen:          ":8000",
			PublicBaseURL:   "http://localhost:8000",
			UploadsDir:      "uploads",
			MaxUploadBytes:  2 << 30,
			CORSOrigins:     []string{"http://localhost:8000", "http://localhost:5173"},
			RateLimitRPM:    600,
			ShutdownTimeout: 30 * time.Second,
		},
		Transcode: TranscodeConfig{
			FFmpegBin:      "ffmpeg",
			Workers:        2,
			QueueLimit:     0,
			Timeout:        2 * time.Hour,
			KillGrace:      5 * time.Second,
			SegmentSeconds: 10,
			SubmitRate:     5,
			SubmitBurst:    20,
		},
		Store: StoreConfig{
			Backend:   "memory",
			Path:      "data/jobs.db",
			RedisAddr: "localhost:6379",
		},
		Events: EventsConfig{
			KafkaTopic: "hlsforge.job-events",
		},
		Log: LogConfig{Level: "info"},
		Tracing: TracingConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// Clone returns a copy that shares no slices with c.
func (c AppConfig) Clone() AppConfig {
	out := c
	out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	out.Events.KafkaBrokers = append([]string(nil), c.Events.KafkaBrokers...)
	return out
}
