// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package util holds small helpers shared by the feedback bundler's
// internal packages: the command error type and timeout policy.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Command Error Type
// =============================================================================

// CommandError describes a diagnostic command that could not be run.
//
// # Description
//
// Carries the command string, whether it was sent to the elevated shell,
// the exit code (-1 when the process never started or was killed), any
// captured stderr, and the underlying error. Supports errors.Is/As through
// Unwrap.
//
// # Example
//
//	err := NewCommandError("/system/bin/dmesg", false, -1, "", exec.ErrNotFound)
//	fmt.Println(err) // "/system/bin/dmesg (exit -1): executable file not found in $PATH"
//
//	var cmdErr *CommandError
//	if errors.As(err, &cmdErr) && cmdErr.TimedOut {
//	    // the command hung past its deadline
//	}
type CommandError struct {
	// Command is the raw catalog command string.
	Command string

	// Elevated is true when the command went through the superuser shell.
	Elevated bool

	// ExitCode is the process exit status, or -1 if unavailable.
	ExitCode int

	// Stderr is the trimmed standard error output, if any was captured.
	Stderr string

	// TimedOut is true when the per-command deadline killed the process.
	TimedOut bool

	// Wrapped is the underlying error.
	Wrapped error
}

// Error formats the failure as "command (exit N): detail".
func (e *CommandError) Error() string {
	prefix := e.Command
	if e.Elevated {
		prefix = "su: " + prefix
	}
	switch {
	case e.TimedOut:
		return fmt.Sprintf("%s (exit %d): timed out", prefix, e.ExitCode)
	case e.Stderr != "":
		return fmt.Sprintf("%s (exit %d): %s", prefix, e.ExitCode, e.Stderr)
	case e.Wrapped != nil:
		return fmt.Sprintf("%s (exit %d): %v", prefix, e.ExitCode, e.Wrapped)
	default:
		return fmt.Sprintf("%s (exit %d)", prefix, e.ExitCode)
	}
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// HasStderr reports whether stderr was captured.
func (e *CommandError) HasStderr() bool {
	return e.Stderr != ""
}

var _ error = (*CommandError)(nil)

// NewCommandError builds a CommandError with trimmed stderr.
func NewCommandError(cmd string, elevated bool, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		Elevated: elevated,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}

// ExtractStderr walks the error chain and returns the first captured
// stderr, or "" if none of the wrapped errors carry one.
func ExtractStderr(err error) string {
	var cmdErr *CommandError
	for err != nil {
		if errors.As(err, &cmdErr) {
			if cmdErr.HasStderr() {
				return cmdErr.Stderr
			}
			err = cmdErr.Wrapped
			continue
		}
		return ""
	}
	return ""
}
