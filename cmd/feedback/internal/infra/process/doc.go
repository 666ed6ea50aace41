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
Package process runs diagnostic shell commands and serializes bundler runs.

# Overview

This package contains two components:

  - ShellRunner: executes one opaque command string through a shell,
    optionally the superuser shell, and captures its output
  - RunLock: an advisory file lock that keeps two bundler processes from
    sharing a staging directory at the same time

# ShellRunner

Catalog commands are fully-formed strings such as
"/system/bin/logcat -b system -b main -d -v tag -v time". They are written
to the standard input of the shell process followed by "exit", exactly as
a user would type them into an adb shell, so the runner never tokenizes
or escapes anything:

	runner := process.NewDefaultShellRunner(process.DefaultShellConfig())
	outcome := runner.Run(ctx, "/system/bin/dmesg", false, true)
	if outcome.Failed {
	    return fmt.Errorf("kernel category: %w", outcome.Err)
	}

A command that starts and exits is never a failure, whatever its exit
status: diagnostic tools routinely exit non-zero after printing partial
data. Only a process that cannot be started, is killed, or outlives its
timeout is reported as Failed.

For testing, use MockShellRunner:

	mock := &process.MockShellRunner{
	    RunFunc: func(ctx context.Context, command string, elevated, capture bool) process.CommandOutcome {
	        return process.Succeeded("mock output")
	    },
	}

# RunLock

	lock := process.NewRunLock(process.RunLockConfig{LockDir: storageDir})
	if err := lock.Acquire(); err != nil {
	    return err
	}
	defer lock.Release()

# Thread Safety

  - ShellRunner implementations are safe for concurrent use
  - RunLock is NOT safe for concurrent use from multiple goroutines

# Limitations

  - RunLock uses flock(2) advisory locks and is Unix-only
*/
package process
