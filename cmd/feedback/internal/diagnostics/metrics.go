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
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// -----------------------------------------------------------------------------
// Interface
// -----------------------------------------------------------------------------

// PipelineMetrics records feedback pipeline activity.
//
// # Description
//
// Two implementations exist: NoOpPipelineMetrics keeps counters in memory
// for tests and for runs with metrics disabled; PrometheusPipelineMetrics
// exports them for scraping by the serve command.
//
// # Metrics Exported
//
//   - aleutian_feedback_runs_total{result}
//   - aleutian_feedback_run_duration_seconds{result}
//   - aleutian_feedback_archive_size_bytes
//   - aleutian_feedback_categories_total{prefix,result}
//   - aleutian_feedback_category_duration_seconds{prefix}
//   - aleutian_feedback_auxiliary_files_total{result}
//   - aleutian_feedback_cleanup_errors_total
//   - aleutian_feedback_pruned_total
//   - aleutian_feedback_stored_archives
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type PipelineMetrics interface {
	// RecordRun records one completed run. sizeBytes is 0 for failures.
	RecordRun(result RunResult, duration time.Duration, sizeBytes int64)

	// RecordCategory records one category write.
	RecordCategory(prefix string, success bool, duration time.Duration)

	// RecordAuxiliary records the fate of one auxiliary node.
	RecordAuxiliary(result AuxiliaryResult)

	// RecordCleanupError records a failed intermediate file removal.
	RecordCleanupError()

	// RecordPruned records archives removed by retention.
	RecordPruned(count int)

	// RecordStoredCount records the number of archives on disk.
	RecordStoredCount(count int)

	// Register registers the collectors. Safe to call more than once.
	Register() error
}

// RunResult labels the outcome of a run.
type RunResult string

const (
	RunSuccess         RunResult = "success"
	RunCategoryFailure RunResult = "category_failure"
	RunArchiveFailure  RunResult = "archive_failure"
	RunCancelled       RunResult = "cancelled"
	RunLocked          RunResult = "locked"
)

// AuxiliaryResult labels the fate of one auxiliary node.
type AuxiliaryResult string

const (
	AuxiliaryStaged     AuxiliaryResult = "staged"
	AuxiliaryCopyFailed AuxiliaryResult = "copy_failed"
	AuxiliaryUnreadable AuxiliaryResult = "unreadable"
	AuxiliarySkipped    AuxiliaryResult = "skipped"
)

const (
	metricsNamespace = "aleutian"
	metricsSubsystem = "feedback"
)

// -----------------------------------------------------------------------------
// NoOp
// -----------------------------------------------------------------------------

// NoOpPipelineMetrics counts in memory and exports nothing.
type NoOpPipelineMetrics struct {
	runsTotal       atomic.Int64
	runsSucceeded   atomic.Int64
	categoriesTotal atomic.Int64
	categoryFails   atomic.Int64
	auxStaged       atomic.Int64
	auxFailed       atomic.Int64
	cleanupErrors   atomic.Int64
	prunedTotal     atomic.Int64
	storedCount     atomic.Int64
	lastSizeBytes   atomic.Int64
}

// NewNoOpPipelineMetrics creates an in-memory metrics sink.
func NewNoOpPipelineMetrics() *NoOpPipelineMetrics {
	return &NoOpPipelineMetrics{}
}

func (m *NoOpPipelineMetrics) RecordRun(result RunResult, duration time.Duration, sizeBytes int64) {
	m.runsTotal.Add(1)
	if result == RunSuccess {
		m.runsSucceeded.Add(1)
	}
	m.lastSizeBytes.Store(sizeBytes)
}

func (m *NoOpPipelineMetrics) RecordCategory(prefix string, success bool, duration time.Duration) {
	m.categoriesTotal.Add(1)
	if !success {
		m.categoryFails.Add(1)
	}
}

func (m *NoOpPipelineMetrics) RecordAuxiliary(result AuxiliaryResult) {
	if result == AuxiliaryStaged {
		m.auxStaged.Add(1)
		return
	}
	m.auxFailed.Add(1)
}

func (m *NoOpPipelineMetrics) RecordCleanupError() { m.cleanupErrors.Add(1) }

func (m *NoOpPipelineMetrics) RecordPruned(count int) { m.prunedTotal.Add(int64(count)) }

func (m *NoOpPipelineMetrics) RecordStoredCount(count int) { m.storedCount.Store(int64(count)) }

func (m *NoOpPipelineMetrics) Register() error { return nil }

// RunsTotal returns the number of recorded runs.
func (m *NoOpPipelineMetrics) RunsTotal() int64 { return m.runsTotal.Load() }

// RunsSucceeded returns the number of successful runs.
func (m *NoOpPipelineMetrics) RunsSucceeded() int64 { return m.runsSucceeded.Load() }

// CategoriesTotal returns the number of category writes.
func (m *NoOpPipelineMetrics) CategoriesTotal() int64 { return m.categoriesTotal.Load() }

// CategoryFailures returns the number of failed category writes.
func (m *NoOpPipelineMetrics) CategoryFailures() int64 { return m.categoryFails.Load() }

// AuxiliaryStaged returns the number of staged auxiliary files.
func (m *NoOpPipelineMetrics) AuxiliaryStaged() int64 { return m.auxStaged.Load() }

// AuxiliaryFailed returns the number of auxiliary nodes not staged.
func (m *NoOpPipelineMetrics) AuxiliaryFailed() int64 { return m.auxFailed.Load() }

// CleanupErrors returns the number of failed removals.
func (m *NoOpPipelineMetrics) CleanupErrors() int64 { return m.cleanupErrors.Load() }

// PrunedTotal returns the number of pruned archives.
func (m *NoOpPipelineMetrics) PrunedTotal() int64 { return m.prunedTotal.Load() }

// StoredCount returns the last recorded archive count.
func (m *NoOpPipelineMetrics) StoredCount() int64 { return m.storedCount.Load() }

// -----------------------------------------------------------------------------
// Prometheus
// -----------------------------------------------------------------------------

// PrometheusPipelineMetrics exports pipeline metrics to Prometheus.
type PrometheusPipelineMetrics struct {
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	archiveSize      prometheus.Histogram
	categoriesTotal  *prometheus.CounterVec
	categoryDuration *prometheus.HistogramVec
	auxiliaryTotal   *prometheus.CounterVec
	cleanupErrors    prometheus.Counter
	prunedTotal      prometheus.Counter
	storedCount      prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
	mu         sync.Mutex
}

// NewPrometheusPipelineMetrics creates collectors that register with the
// default Prometheus registry.
func NewPrometheusPipelineMetrics() *PrometheusPipelineMetrics {
	return NewPrometheusPipelineMetricsWith(prometheus.DefaultRegisterer)
}

// NewPrometheusPipelineMetricsWith creates collectors that register with
// reg. Tests pass a fresh prometheus.NewRegistry().
func NewPrometheusPipelineMetricsWith(reg prometheus.Registerer) *PrometheusPipelineMetrics {
	return &PrometheusPipelineMetrics{
		registerer: reg,

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "runs_total",
				Help:      "Total number of feedback bundle runs by result",
			},
			[]string{"result"},
		),

		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "run_duration_seconds",
				Help:      "Duration of feedback bundle runs in seconds",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"result"},
		),

		archiveSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "archive_size_bytes",
				Help:      "Size of produced feedback archives in bytes",
				Buckets:   []float64{10240, 102400, 1048576, 10485760, 104857600},
			},
		),

		categoriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "categories_total",
				Help:      "Total number of category files attempted by prefix and result",
			},
			[]string{"prefix", "result"},
		),

		categoryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "category_duration_seconds",
				Help:      "Time spent running one category's commands",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"prefix"},
		),

		auxiliaryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "auxiliary_files_total",
				Help:      "Auxiliary nodes visited by result",
			},
			[]string{"result"},
		),

		cleanupErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "cleanup_errors_total",
				Help:      "Intermediate files that could not be removed",
			},
		),

		prunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "pruned_total",
				Help:      "Archives removed by the retention policy",
			},
		),

		storedCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "stored_archives",
				Help:      "Archives currently in the storage directory",
			},
		),
	}
}

func (m *PrometheusPipelineMetrics) RecordRun(result RunResult, duration time.Duration, sizeBytes int64) {
	label := string(result)
	m.runsTotal.WithLabelValues(label).Inc()
	m.runDuration.WithLabelValues(label).Observe(duration.Seconds())
	if result == RunSuccess {
		m.archiveSize.Observe(float64(sizeBytes))
	}
}

func (m *PrometheusPipelineMetrics) RecordCategory(prefix string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.categoriesTotal.WithLabelValues(prefix, result).Inc()
	m.categoryDuration.WithLabelValues(prefix).Observe(duration.Seconds())
}

func (m *PrometheusPipelineMetrics) RecordAuxiliary(result AuxiliaryResult) {
	m.auxiliaryTotal.WithLabelValues(string(result)).Inc()
}

func (m *PrometheusPipelineMetrics) RecordCleanupError() {
	m.cleanupErrors.Inc()
}

func (m *PrometheusPipelineMetrics) RecordPruned(count int) {
	m.prunedTotal.Add(float64(count))
}

func (m *PrometheusPipelineMetrics) RecordStoredCount(count int) {
	m.storedCount.Set(float64(count))
}

// Register registers every collector with the configured registerer.
// Repeated calls are no-ops.
func (m *PrometheusPipelineMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.runsTotal,
		m.runDuration,
		m.archiveSize,
		m.categoriesTotal,
		m.categoryDuration,
		m.auxiliaryTotal,
		m.cleanupErrors,
		m.prunedTotal,
		m.storedCount,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			return err
		}
	}

	m.registered = true
	return nil
}

// -----------------------------------------------------------------------------
// Factory
// -----------------------------------------------------------------------------

// NewDefaultPipelineMetrics returns Prometheus metrics when enabled and the
// in-memory sink otherwise.
func NewDefaultPipelineMetrics(enablePrometheus bool) PipelineMetrics {
	if enablePrometheus {
		return NewPrometheusPipelineMetrics()
	}
	return NewNoOpPipelineMetrics()
}

var _ PipelineMetrics = (*NoOpPipelineMetrics)(nil)
var _ PipelineMetrics = (*PrometheusPipelineMetrics)(nil)
