// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/internal/util"
)

// ErrExecutionFailed marks a diagnostic command that could not be run or
// whose output could not be captured.
var ErrExecutionFailed = errors.New("execution failed")

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// ShellRunner executes diagnostic command strings.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple goroutines.
type ShellRunner interface {
	// Run executes one command and reports what it printed.
	//
	// # Description
	//
	// Spawns exactly one shell process, feeds it the command, and blocks
	// until the process exits, the configured timeout elapses, or ctx is
	// cancelled.
	//
	// # Inputs
	//
	//   - ctx: Cancellation for the child process
	//   - command: Fully-formed command string, passed through untouched
	//   - elevated: Send the command to the superuser shell instead
	//   - capture: Capture stdout/stderr; when false both are discarded
	//
	// # Outputs
	//
	//   - CommandOutcome: Captured text and the execution-failure flag
	//
	// # Limitations
	//
	//   - Output is fully buffered in memory
	Run(ctx context.Context, command string, elevated, capture bool) CommandOutcome
}

// CommandOutcome is the result of one command invocation.
type CommandOutcome struct {
	// Stdout is the captured standard output as CRLF-joined lines, or nil
	// when nothing was printed or capture was disabled.
	Stdout *string

	// Stderr is the captured standard error in the same form as Stdout.
	Stderr *string

	// ExitCode is the process exit status, or -1 if it never exited
	// normally.
	ExitCode int

	// Failed is set when the command could not be executed at all.
	Failed bool

	// Err explains a failure. It wraps ErrExecutionFailed and a
	// *util.CommandError. Nil unless Failed is set.
	Err error
}

// SuccessText returns Stdout or "" when there was none.
func (o CommandOutcome) SuccessText() string {
	if o.Stdout == nil {
		return ""
	}
	return *o.Stdout
}

// Succeeded builds a successful outcome with the given stdout. An empty
// string produces a nil Stdout, matching what the runner does for a
// silent command.
func Succeeded(stdout string) CommandOutcome {
	return CommandOutcome{Stdout: textOrNil(stdout)}
}

// FailedOutcome builds a failed outcome for command with the given cause.
func FailedOutcome(command string, elevated bool, cause error) CommandOutcome {
	cmdErr := util.NewCommandError(command, elevated, -1, "", cause)
	return CommandOutcome{
		ExitCode: -1,
		Failed:   true,
		Err:      fmt.Errorf("%w: %w", ErrExecutionFailed, cmdErr),
	}
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// ShellConfig selects the shells and the per-command deadline.
type ShellConfig struct {
	// Shell runs unprivileged commands. Default: "sh".
	Shell string

	// ElevatedShell runs privileged commands. Default: "su".
	ElevatedShell string

	// Timeout bounds one command. Default: util.DefaultProcessTimeout.
	Timeout time.Duration

	// WaitDelay is how long to wait for output pipes to close after the
	// shell exits or is killed. Default: one second.
	WaitDelay time.Duration
}

// DefaultShellConfig returns the configuration used on a device shell.
func DefaultShellConfig() ShellConfig {
	return ShellConfig{
		Shell:         "sh",
		ElevatedShell: "su",
		Timeout:       util.DefaultProcessTimeout,
		WaitDelay:     time.Second,
	}
}

func (c ShellConfig) withDefaults() ShellConfig {
	d := DefaultShellConfig()
	if c.Shell == "" {
		c.Shell = d.Shell
	}
	if c.ElevatedShell == "" {
		c.ElevatedShell = d.ElevatedShell
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.WaitDelay <= 0 {
		c.WaitDelay = d.WaitDelay
	}
	return c
}

// -----------------------------------------------------------------------------
// Implementation
// -----------------------------------------------------------------------------

// DefaultShellRunner implements ShellRunner with os/exec.
type DefaultShellRunner struct {
	config ShellConfig
}

// NewDefaultShellRunner creates a runner. Zero fields in config take their
// defaults.
func NewDefaultShellRunner(config ShellConfig) *DefaultShellRunner {
	return &DefaultShellRunner{config: config.withDefaults()}
}

// Config returns the effective configuration.
func (r *DefaultShellRunner) Config() ShellConfig {
	return r.config
}

// Run executes command through the configured shell.
func (r *DefaultShellRunner) Run(ctx context.Context, command string, elevated, capture bool) CommandOutcome {
	shell := r.config.Shell
	if elevated {
		shell = r.config.ElevatedShell
	}

	runCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, shell)
	cmd.Stdin = strings.NewReader(command + "\nexit\n")
	cmd.WaitDelay = r.config.WaitDelay

	var stdout, stderr bytes.Buffer
	if capture {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	err := cmd.Run()

	outcome := CommandOutcome{ExitCode: -1}
	if capture {
		outcome.Stdout = joinLines(stdout.Bytes())
		outcome.Stderr = joinLines(stderr.Bytes())
	}

	if cmd.ProcessState != nil && cmd.ProcessState.Exited() {
		outcome.ExitCode = cmd.ProcessState.ExitCode()
	}

	if exitedNormally(runCtx, err, cmd) {
		return outcome
	}

	cmdErr := util.NewCommandError(command, elevated, outcome.ExitCode, stderr.String(), err)
	cmdErr.TimedOut = errors.Is(runCtx.Err(), context.DeadlineExceeded)

	outcome.Failed = true
	outcome.Err = fmt.Errorf("%w: %w", ErrExecutionFailed, cmdErr)
	return outcome
}

// exitedNormally reports whether the shell ran to its own exit. A non-zero
// status counts; being killed by the deadline, a signal, or a start error
// does not. ErrWaitDelay after a normal exit means a background child kept
// the output pipes open, which is not the command's failure.
func exitedNormally(ctx context.Context, err error, cmd *exec.Cmd) bool {
	if ctx.Err() != nil {
		return false
	}
	if err == nil {
		return true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Exited()
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		return cmd.ProcessState != nil && cmd.ProcessState.Exited()
	}
	return false
}

// joinLines converts raw output into CRLF-joined lines without a trailing
// terminator. Empty output yields nil.
func joinLines(raw []byte) *string {
	if len(raw) == 0 {
		return nil
	}
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	return textOrNil(strings.ReplaceAll(text, "\n", "\r\n"))
}

func textOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Compile-time interface compliance check.
var _ ShellRunner = (*DefaultShellRunner)(nil)
