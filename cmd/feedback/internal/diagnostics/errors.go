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
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/internal/infra/process"
)

// Error taxonomy. Stage errors wrap one of these so callers can classify a
// failure with errors.Is.
var (
	// ErrExecutionFailed means a diagnostic command could not be run.
	ErrExecutionFailed = process.ErrExecutionFailed

	// ErrIOFailure means a category file could not be produced.
	ErrIOFailure = errors.New("category file could not be written")

	// ErrPathUnreadable means an auxiliary path yielded no files because
	// it could not be read. Logged, never returned from a run.
	ErrPathUnreadable = errors.New("auxiliary path unreadable")

	// ErrArchiveFailure means the archive could not be produced.
	ErrArchiveFailure = errors.New("archive could not be produced")

	// ErrRunInProgress means another process holds the storage directory.
	ErrRunInProgress = errors.New("another feedback run is in progress")
)

// Stage names a step of a pipeline run.
type Stage string

const (
	StageCollectingCategories  Stage = "collecting_categories"
	StageCollectingAuxiliaries Stage = "collecting_auxiliaries"
	StageAssembling            Stage = "assembling"
	StageCleaningUp            Stage = "cleaning_up"
	StageDone                  Stage = "done"
)

// StageError records which stage, and for category failures which
// category, ended a run.
type StageError struct {
	Stage    Stage
	Category string
	Err      error
}

func (e *StageError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Stage, e.Category, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage recorded in err, or "" if err carries no
// StageError.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
