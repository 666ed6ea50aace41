// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package diagnostics builds feedback bundles: one compressed archive holding
the output of a catalog of diagnostic shell commands plus any auxiliary
files the caller asks to include.

# Pipeline

A run moves through fixed stages:

	collecting_categories -> collecting_auxiliaries -> assembling -> cleaning_up -> done

  - CategoryFileWriter runs each category's commands and writes one
    timestamped text file per category. A command that cannot be executed
    aborts the whole run.
  - AuxiliaryCollector walks caller-supplied paths depth-first, waits a
    bounded number of times for read permission, and stages every regular
    file it finds. Failures here are per-path and never abort the run.
  - ZipArchiveAssembler compresses the staged set into feedback_<ts>.zip.
  - RunFileSet deletes every intermediate file on every exit path.

The caller only ever sees an archive path or a failure. No partial archive
and no intermediate file outlives a run.

# Concurrency

FeedbackPipeline serializes runs in-process with a semaphore and across
processes with a flock on the storage directory. Inside a run everything
is sequential so the archive manifest is deterministic.

# Observability

Each stage gets a span from PipelineTracer and feeds PipelineMetrics.
Prometheus and OpenTelemetry implementations are provided alongside no-op
variants for tests and disabled configurations.
*/
package diagnostics
