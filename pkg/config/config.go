// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the scribe client configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level scribe configuration.
type Config struct {
	Backend   BackendConfig `yaml:"backend"`
	Logging   LoggingConfig `yaml:"logging"`
	Transport string        `yaml:"transport"`
}

// BackendConfig locates the assistant service.
type BackendConfig struct {
	BaseURL        string        `yaml:"base_url"`
	StreamBase     string        `yaml:"stream_base"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// LoggingConfig mirrors pkg/logging's knobs.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:        "http://localhost:8080",
			CommandTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Transport: "sse",
	}
}

// Load reads path and merges it over the defaults. A missing file is
// not an error; the defaults apply unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(&cfg)
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// DefaultPath is ~/.config/scribe/config.yaml, or the relative
// fallback when the home directory cannot be resolved.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "scribe.yaml"
	}
	return filepath.Join(home, ".config", "scribe", "config.yaml")
}

func applyDefaults(cfg *Config) {
	defaults := Default()
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = defaults.Backend.BaseURL
	}
	if cfg.Backend.StreamBase == "" {
		cfg.Backend.StreamBase = cfg.Backend.BaseURL
	}
	if cfg.Backend.CommandTimeout <= 0 {
		cfg.Backend.CommandTimeout = defaults.Backend.CommandTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Transport == "" {
		cfg.Transport = defaults.Transport
	}
}
