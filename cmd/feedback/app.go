// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/config"
	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/gcs"
	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/internal/diagnostics"
	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/internal/infra/process"
	"github.com/AleutianAI/AleutianFeedback/pkg/logging"
)

const serviceName = "aleutian-feedback"

// tracerShutdownTimeout bounds the final span flush on exit.
const tracerShutdownTimeout = 5 * time.Second

// uploaderFactory builds the archive uploader. Tests replace it.
var uploaderFactory = func(ctx context.Context, cfg config.UploadConfig) (gcs.Uploader, error) {
	return gcs.NewClient(ctx, cfg.Bucket, cfg.Prefix, cfg.CredentialsFile)
}

// app holds everything a command needs, built once from the config.
type app struct {
	cfg      *config.FeedbackConfig
	logger   *logging.Logger
	metrics  diagnostics.PipelineMetrics
	tracer   diagnostics.PipelineTracer
	pipeline *diagnostics.FeedbackPipeline
	store    *diagnostics.ArchiveStore

	// metricsHandler serves /metrics; nil when metrics are disabled.
	metricsHandler http.Handler
}

// newApp wires logger, metrics, tracer, runner, pipeline and store from cfg.
func newApp(ctx context.Context, cfg *config.FeedbackConfig) (*app, error) {
	logger := newCLILogger(cfg)
	a := &app{cfg: cfg, logger: logger}

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics := diagnostics.NewPrometheusPipelineMetricsWith(reg)
		if err := metrics.Register(); err != nil {
			a.close()
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		a.metrics = metrics
		a.metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	} else {
		a.metrics = diagnostics.NewNoOpPipelineMetrics()
	}

	tracer, err := diagnostics.NewDefaultPipelineTracer(ctx, diagnostics.TracerConfig{
		ServiceName: serviceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		tracer = diagnostics.NewNoOpPipelineTracer()
	}
	a.tracer = tracer

	cat, err := cfg.EffectiveCatalog()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	timeouts := cfg.Timeouts()
	runner := process.NewDefaultShellRunner(process.ShellConfig{
		Shell:         cfg.Runner.Shell,
		ElevatedShell: cfg.Runner.ElevatedShell,
		Timeout:       timeouts.Process,
	})

	pipeline, err := diagnostics.NewFeedbackPipeline(diagnostics.PipelineConfig{
		StorageDir: cfg.Storage.Dir,
		Catalog:    cat,
		Elevated:   cfg.Runner.Elevated,
		Permission: diagnostics.RetryPolicy{
			Interval: timeouts.PermissionRetryInterval,
			Retries:  timeouts.PermissionRetries,
		},
		ClearCommands: cfg.ClearCommands(),
	}, diagnostics.PipelineDeps{
		Runner:  runner,
		Checker: diagnostics.UnixPermissionChecker{},
		Metrics: a.metrics,
		Tracer:  a.tracer,
		Logger:  logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.pipeline = pipeline
	a.store = diagnostics.NewArchiveStore(cfg.Storage.Dir, nil, a.metrics)

	return a, nil
}

// newCLILogger builds the stderr (and optional file) logger from cfg.
func newCLILogger(cfg *config.FeedbackConfig) *logging.Logger {
	return logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: serviceName,
		Format:  logging.Format(cfg.Logging.Format),
	})
}

// uploader returns an uploader for the configured bucket.
func (a *app) uploader(ctx context.Context) (gcs.Uploader, error) {
	if a.cfg.Upload.Bucket == "" {
		return nil, errors.New("upload.bucket is not set in the config")
	}
	return uploaderFactory(ctx, a.cfg.Upload)
}

// upload sends one archive and closes the client afterwards when it can be
// closed.
func (a *app) upload(ctx context.Context, path string) (string, error) {
	up, err := a.uploader(ctx)
	if err != nil {
		return "", err
	}
	if c, ok := up.(interface{ Close() error }); ok {
		defer c.Close()
	}

	url, err := up.Upload(ctx, path)
	if err != nil {
		a.logger.Error("archive upload failed", "path", path, "error", err)
		return "", err
	}
	a.logger.Info("archive uploaded", "path", path, "url", url)
	return url, nil
}

// close flushes the tracer and closes the logger.
func (a *app) close() {
	if a.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), tracerShutdownTimeout)
		defer cancel()
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", "error", err)
		}
	}
	_ = a.logger.Close()
}
