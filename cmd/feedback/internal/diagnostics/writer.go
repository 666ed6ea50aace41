// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/internal/catalog"
	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/internal/infra/process"
	"github.com/AleutianAI/AleutianFeedback/pkg/logging"
)

const (
	// RecordSeparator follows every command's output in a category file,
	// including commands that printed nothing.
	RecordSeparator = "\r\n***********************************\r\n\r\n"

	// TimestampLayout is the second-resolution, lexicographically sortable
	// stamp used in every output file name.
	TimestampLayout = "2006-01-02_15-04-05"

	// CategoryFileExt is the extension of category files.
	CategoryFileExt = ".txt"
)

// CategoryFile is a written category output file.
type CategoryFile struct {
	Path      string
	Prefix    string
	CreatedAt time.Time
}

// CategoryFileName returns <prefix><timestamp>.txt for t.
func CategoryFileName(prefix string, t time.Time) string {
	return prefix + t.Format(TimestampLayout) + CategoryFileExt
}

// CategoryFileWriter runs a category's commands and persists their output.
//
// # Description
//
// Commands run in declared order through the ShellRunner. Each command's
// stdout, when present, is appended to a buffer followed by
// RecordSeparator. The buffer is then written in one step: to a temporary
// file in the output directory, synced, and renamed into place.
//
// # Limitations
//
//   - File names have second resolution. Two writes of the same prefix in
//     the same second overwrite each other.
//   - Output is held in memory until the file is written.
//
// # Thread Safety
//
// Safe for concurrent use on distinct output directories.
type CategoryFileWriter struct {
	runner   process.ShellRunner
	clock    Clock
	metrics  PipelineMetrics
	logger   *logging.Logger
	elevated bool
}

// NewCategoryFileWriter creates a writer. Nil clock, metrics or logger
// fall back to the system clock, the in-memory metrics and a no-op logger.
func NewCategoryFileWriter(runner process.ShellRunner, clock Clock, metrics PipelineMetrics, logger *logging.Logger, elevated bool) *CategoryFileWriter {
	if clock == nil {
		clock = SystemClock{}
	}
	if metrics == nil {
		metrics = NewNoOpPipelineMetrics()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &CategoryFileWriter{
		runner:   runner,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
		elevated: elevated,
	}
}

// Write runs every command of category and writes the category file into
// outputDir.
//
// # Outputs
//
//   - *CategoryFile: The written file. Nil on error.
//   - error: Wraps ErrIOFailure. When a command could not be executed the
//     error also wraps ErrExecutionFailed and the command's
//     *util.CommandError. No file exists after an error.
func (w *CategoryFileWriter) Write(ctx context.Context, category catalog.Category, outputDir string) (*CategoryFile, error) {
	start := w.clock.Now()
	prefix := category.Prefix()

	content, err := w.collect(ctx, category)
	if err == nil {
		var cf *CategoryFile
		cf, err = w.persist(prefix, content, outputDir)
		if err == nil {
			w.metrics.RecordCategory(prefix, true, w.clock.Now().Sub(start))
			w.logger.Debug("category file written",
				"category", prefix,
				"path", cf.Path,
				"bytes", len(content))
			return cf, nil
		}
	}

	w.metrics.RecordCategory(prefix, false, w.clock.Now().Sub(start))
	return nil, err
}

func (w *CategoryFileWriter) collect(ctx context.Context, category catalog.Category) (string, error) {
	var buf strings.Builder
	for _, command := range category.Commands() {
		outcome := w.runner.Run(ctx, command, w.elevated, true)
		if outcome.Failed {
			w.logger.Warn("diagnostic command failed",
				"category", category.Prefix(),
				"command", command,
				"error", outcome.Err)
			return "", fmt.Errorf("%w: category %s: %w", ErrIOFailure, category.Prefix(), outcome.Err)
		}
		if outcome.ExitCode != 0 {
			w.logger.Debug("diagnostic command exited non-zero",
				"category", category.Prefix(),
				"command", command,
				"exit_code", outcome.ExitCode)
		}
		buf.WriteString(outcome.SuccessText())
		buf.WriteString(RecordSeparator)
	}
	return buf.String(), nil
}

func (w *CategoryFileWriter) persist(prefix, content, outputDir string) (*CategoryFile, error) {
	createdAt := w.clock.Now().Truncate(time.Second)
	finalPath := filepath.Join(outputDir, CategoryFileName(prefix, createdAt))

	tmp, err := os.CreateTemp(outputDir, "."+prefix+"*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrIOFailure, finalPath, err)
	}
	tmpPath := tmp.Name()

	fail := func(op string, cause error) (*CategoryFile, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: %s %s: %w", ErrIOFailure, op, finalPath, cause)
	}

	if _, err := tmp.WriteString(content); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		return fail("close", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: rename %s: %w", ErrIOFailure, finalPath, err)
	}

	return &CategoryFile{Path: finalPath, Prefix: prefix, CreatedAt: createdAt}, nil
}
