// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/internal/catalog"
	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/internal/util"
)

type FeedbackConfig struct {
	// Storage: where category files, staged files and archives live
	Storage StorageConfig `yaml:"storage"`

	// Runner: shells used to run catalog commands
	Runner RunnerConfig `yaml:"runner"`

	// Permission: bounded wait for auxiliary path permissions
	Permission PermissionConfig `yaml:"permission"`

	// Catalog: overrides the built-in Android catalog when non-empty
	Catalog []catalog.Definition `yaml:"catalog,omitempty" validate:"omitempty,dive"`

	// ClearAfterCollect: reset the device log buffers after a good bundle
	ClearAfterCollect bool `yaml:"clear_after_collect"`

	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Upload  UploadConfig  `yaml:"upload"`
	Server  ServerConfig  `yaml:"server"`
}

type StorageConfig struct {
	// Dir is created on demand, e.g. ~/.aleutian/feedback
	Dir string `yaml:"dir" validate:"required"`

	// RetentionDays for the prune command; 0 means 30
	RetentionDays int `yaml:"retention_days" validate:"gte=0"`
}

type RunnerConfig struct {
	Shell         string `yaml:"shell" validate:"required"`          // e.g. sh
	ElevatedShell string `yaml:"elevated_shell" validate:"required"` // e.g. su
	Elevated      bool   `yaml:"elevated"`

	// Timeout bounds one command, e.g. 2m. Raised to at least 5s.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

type PermissionConfig struct {
	Retries  int           `yaml:"retries" validate:"gte=0,lte=10"`
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=auto text json"`
	Dir    string `yaml:"dir,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type TracingConfig struct {
	// Endpoint: OTLP gRPC collector. Empty falls back to
	// OTEL_EXPORTER_OTLP_ENDPOINT, then to no tracing.
	Endpoint string `yaml:"endpoint,omitempty"`
	Insecure bool   `yaml:"insecure"`
}

type UploadConfig struct {
	Bucket          string `yaml:"bucket,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	CredentialsFile string `yaml:"credentials_file,omitempty"`
}

type ServerConfig struct {
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"` // e.g. 127.0.0.1:8089
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() FeedbackConfig {
	return FeedbackConfig{
		Storage: StorageConfig{
			Dir:           defaultStorageDir(),
			RetentionDays: 30,
		},
		Runner: RunnerConfig{
			Shell:         "sh",
			ElevatedShell: "su",
			Timeout:       util.DefaultProcessTimeout,
		},
		Permission: PermissionConfig{
			Retries:  util.DefaultPermissionRetries,
			Interval: util.DefaultPermissionRetryInterval,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Tracing: TracingConfig{
			Insecure: true,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8089",
		},
	}
}

// EffectiveCatalog returns the configured catalog, or the built-in Android
// catalog when none is configured.
func (c FeedbackConfig) EffectiveCatalog() (catalog.Catalog, error) {
	if len(c.Catalog) == 0 {
		return catalog.DefaultAndroid(), nil
	}
	return catalog.FromDefinitions(c.Catalog)
}

// ClearCommands returns the log-buffer clear commands when enabled.
func (c FeedbackConfig) ClearCommands() []string {
	if !c.ClearAfterCollect {
		return nil
	}
	return catalog.ClearCommands()
}

// Timeouts returns the runner and permission timings with bounds applied.
func (c FeedbackConfig) Timeouts() util.TimeoutConfig {
	return util.TimeoutConfig{
		Process:                 c.Runner.Timeout,
		PermissionRetryInterval: c.Permission.Interval,
		PermissionRetries:       c.Permission.Retries,
	}.Validated()
}

func defaultStorageDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "aleutian-feedback")
	}
	return filepath.Join(home, ".aleutian", "feedback")
}
