// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Loader builds an AppConfig from defaults, an optional file and the environment.
type Loader struct {
	// Path is the YAML file. Empty means environment-only.
	Path string
}

func NewLoader(path string) *Loader {
	return &Loader{Path: path}
}

// Load returns a validated configuration.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Default()
	if l.Path != "" {
		if err := loadFile(l.Path, &cfg); err != nil {
			return AppConfig{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// loadFile decodes path over cfg. Unknown keys and multiple documents are
// rejected.
func loadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}
