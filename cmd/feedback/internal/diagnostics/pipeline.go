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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/internal/catalog"
	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/internal/infra/process"
	"github.com/AleutianAI/AleutianFeedback/pkg/logging"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// PipelineConfig holds the static settings of a FeedbackPipeline.
type PipelineConfig struct {
	// StorageDir holds every intermediate and final artifact. Created if
	// missing.
	StorageDir string

	// Catalog lists the categories to collect. Must not be empty.
	Catalog catalog.Catalog

	// Elevated runs catalog commands through the superuser shell.
	Elevated bool

	// Permission bounds the wait for auxiliary path permissions.
	Permission RetryPolicy

	// ClearCommands run after a successful bundle when non-empty. Their
	// failures are logged only.
	ClearCommands []string
}

// PipelineDeps holds the collaborators of a FeedbackPipeline. Only Runner
// is required.
type PipelineDeps struct {
	Runner    process.ShellRunner
	Checker   PermissionChecker
	Clock     Clock
	Assembler ArchiveAssembler
	Lock      process.RunLocker
	Metrics   PipelineMetrics
	Tracer    PipelineTracer
	Logger    *logging.Logger
}

// -----------------------------------------------------------------------------
// Pipeline
// -----------------------------------------------------------------------------

// FeedbackPipeline produces feedback bundles.
//
// # Description
//
// Generate writes one category file per catalog category, stages any
// auxiliary files, zips the lot into feedback_<ts>.zip and removes every
// intermediate file. The caller sees an archive or an error, never a
// partial result.
//
// # Failure Policy
//
//   - A category failure aborts the run at once: later categories and all
//     auxiliary roots are skipped.
//   - Auxiliary failures are per-path and never abort the run.
//   - An archive failure ends the run.
//   - Cleanup runs on every exit path. Its errors are logged and counted
//     but never change the result.
//
// # Thread Safety
//
// Safe for concurrent use. Runs are serialized: in-process by a weight-1
// semaphore and across processes by the storage directory lock.
type FeedbackPipeline struct {
	config    PipelineConfig
	runner    process.ShellRunner
	clock     Clock
	writer    *CategoryFileWriter
	collector *AuxiliaryCollector
	assembler ArchiveAssembler
	lock      process.RunLocker
	metrics   PipelineMetrics
	tracer    PipelineTracer
	logger    *logging.Logger
	sem       *semaphore.Weighted
}

// NewFeedbackPipeline validates config, creates the storage directory and
// wires the stage components.
//
// # Outputs
//
//   - *FeedbackPipeline: Ready pipeline.
//   - error: Non-nil if the catalog is empty, no runner is given, or the
//     storage directory cannot be created.
func NewFeedbackPipeline(config PipelineConfig, deps PipelineDeps) (*FeedbackPipeline, error) {
	if config.StorageDir == "" {
		return nil, errors.New("storage directory is required")
	}
	if config.Catalog.Len() == 0 {
		return nil, catalog.ErrEmptyCatalog
	}
	if deps.Runner == nil {
		return nil, errors.New("shell runner is required")
	}
	if err := os.MkdirAll(config.StorageDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", config.StorageDir, err)
	}

	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NewNoOpPipelineMetrics()
	}
	if deps.Tracer == nil {
		deps.Tracer = NewNoOpPipelineTracer()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if deps.Assembler == nil {
		deps.Assembler = NewZipArchiveAssembler(deps.Logger)
	}
	if deps.Lock == nil {
		deps.Lock = process.NewRunLock(process.RunLockConfig{LockDir: config.StorageDir})
	}

	return &FeedbackPipeline{
		config:    config,
		runner:    deps.Runner,
		clock:     deps.Clock,
		writer:    NewCategoryFileWriter(deps.Runner, deps.Clock, deps.Metrics, deps.Logger, config.Elevated),
		collector: NewAuxiliaryCollector(config.StorageDir, deps.Checker, deps.Clock, config.Permission, deps.Metrics, deps.Logger),
		assembler: deps.Assembler,
		lock:      deps.Lock,
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
		logger:    deps.Logger,
		sem:       semaphore.NewWeighted(1),
	}, nil
}

// Catalog returns the catalog this pipeline collects.
func (p *FeedbackPipeline) Catalog() catalog.Catalog {
	return p.config.Catalog
}

// StorageDir returns the artifact directory.
func (p *FeedbackPipeline) StorageDir() string {
	return p.config.StorageDir
}

// Generate runs the pipeline once.
//
// # Inputs
//
//   - ctx: Cancels waiting for the run slot, running commands and the
//     permission wait. A cancelled run cleans up like any failed run.
//   - auxiliaryRoots: Optional paths whose files join the archive, in
//     order.
//
// # Outputs
//
//   - *ArchiveBundle: The archive, on success.
//   - error: A *StageError wrapping ErrIOFailure (and ErrExecutionFailed
//     for command failures) or ErrArchiveFailure; ErrRunInProgress when
//     another process holds the storage directory; ctx.Err() when
//     cancelled before the run started.
func (p *FeedbackPipeline) Generate(ctx context.Context, auxiliaryRoots []string) (*ArchiveBundle, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	if err := p.lock.Acquire(); err != nil {
		p.metrics.RecordRun(RunLocked, 0, 0)
		var held *process.ErrLockHeld
		if errors.As(err, &held) {
			return nil, fmt.Errorf("%w: %w", ErrRunInProgress, err)
		}
		return nil, err
	}
	defer func() {
		if err := p.lock.Release(); err != nil {
			p.logger.Warn("failed to release run lock", "error", err)
		}
	}()

	runID := uuid.NewString()
	startedAt := p.clock.Now()
	logger := p.logger.With("run_id", runID)

	ctx, finishRun := p.tracer.StartSpan(ctx, "feedback.generate", map[string]string{
		"run_id":          runID,
		"categories":      fmt.Sprint(p.config.Catalog.Len()),
		"auxiliary_roots": fmt.Sprint(len(auxiliaryRoots)),
	})

	files := NewRunFileSet()
	bundle, err := p.run(ctx, logger, files, auxiliaryRoots)

	logger.Debug("pipeline stage", "stage", StageCleaningUp, "files", files.Len())
	if cerr := files.Release(); cerr != nil {
		p.metrics.RecordCleanupError()
		logger.Warn("cleanup incomplete", "error", cerr)
	}

	duration := p.clock.Now().Sub(startedAt)
	finishRun(err)

	if err != nil {
		p.metrics.RecordRun(runResult(ctx, err), duration, 0)
		logger.Error("feedback bundle failed",
			"stage", FailedStage(err),
			"error", err,
			"trace_id", p.tracer.TraceID(ctx))
		return nil, err
	}

	bundle.RunID = runID
	bundle.CreatedAt = startedAt
	p.metrics.RecordRun(RunSuccess, duration, bundle.SizeBytes)
	logger.Info("feedback bundle ready",
		"stage", StageDone,
		"path", bundle.Path,
		"members", bundle.MemberCount,
		"bytes", bundle.SizeBytes,
		"duration", duration)

	p.clearLogBuffers(ctx, logger)
	return bundle, nil
}

// run performs the collecting and assembling stages. Every intermediate
// file is registered with files as soon as it exists.
func (p *FeedbackPipeline) run(ctx context.Context, logger *logging.Logger, files *RunFileSet, auxiliaryRoots []string) (*ArchiveBundle, error) {
	archivePath := filepath.Join(p.config.StorageDir, ArchiveFileName(p.clock.Now()))

	logger.Debug("pipeline stage", "stage", StageCollectingCategories)
	for _, category := range p.config.Catalog.Categories() {
		if err := ctx.Err(); err != nil {
			return nil, &StageError{Stage: StageCollectingCategories, Category: category.Prefix(), Err: err}
		}

		spanCtx, finish := p.tracer.StartSpan(ctx, "feedback.category", map[string]string{
			"category": category.Prefix(),
		})
		cf, err := p.writer.Write(spanCtx, category, p.config.StorageDir)
		finish(err)
		if err != nil {
			return nil, &StageError{Stage: StageCollectingCategories, Category: category.Prefix(), Err: err}
		}
		files.Register(cf.Path)
	}

	if len(auxiliaryRoots) > 0 {
		logger.Debug("pipeline stage", "stage", StageCollectingAuxiliaries, "roots", len(auxiliaryRoots))
		for _, root := range auxiliaryRoots {
			spanCtx, finish := p.tracer.StartSpan(ctx, "feedback.auxiliary", map[string]string{
				"path": root,
			})
			staged := p.collector.Collect(spanCtx, root)
			for _, aux := range staged {
				files.Register(aux.StagedPath)
			}
			finish(nil)
			logger.Debug("auxiliary root collected", "path", root, "files", len(staged))
		}
	}

	logger.Debug("pipeline stage", "stage", StageAssembling, "files", files.Len())
	spanCtx, finish := p.tracer.StartSpan(ctx, "feedback.assemble", map[string]string{
		"path": archivePath,
	})
	bundle, err := p.assembler.Assemble(spanCtx, files.Paths(), archivePath)
	finish(err)
	if err != nil {
		return nil, &StageError{Stage: StageAssembling, Err: err}
	}
	return bundle, nil
}

// clearLogBuffers runs the configured clear commands after a successful
// bundle so the next bundle starts from fresh buffers.
func (p *FeedbackPipeline) clearLogBuffers(ctx context.Context, logger *logging.Logger) {
	for _, command := range p.config.ClearCommands {
		outcome := p.runner.Run(ctx, command, p.config.Elevated, false)
		if outcome.Failed {
			logger.Warn("log buffer clear failed", "command", command, "error", outcome.Err)
		}
	}
}

// GenerateFeedbackBundle runs the pipeline and returns the archive path,
// or "" when no archive was produced. Failures are logged by Generate.
func (p *FeedbackPipeline) GenerateFeedbackBundle(ctx context.Context, auxiliaryPaths ...string) string {
	bundle, err := p.Generate(ctx, auxiliaryPaths)
	if err != nil {
		return ""
	}
	return bundle.Path
}

func runResult(ctx context.Context, err error) RunResult {
	switch {
	case ctx.Err() != nil:
		return RunCancelled
	case errors.Is(err, ErrArchiveFailure):
		return RunArchiveFailure
	default:
		return RunCategoryFailure
	}
}
