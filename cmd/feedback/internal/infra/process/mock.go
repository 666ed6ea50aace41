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
	"context"
	"sync"
)

// -----------------------------------------------------------------------------
// Mock Implementation for Testing
// -----------------------------------------------------------------------------

// MockShellRunner is a test double for ShellRunner.
//
// Configure the mock by setting RunFunc before use. If RunFunc is nil and
// Run is called, it panics.
//
// # Examples
//
//	mock := &MockShellRunner{
//	    RunFunc: func(ctx context.Context, command string, elevated, capture bool) CommandOutcome {
//	        if command == "/system/bin/dmesg" {
//	            return FailedOutcome(command, elevated, exec.ErrNotFound)
//	        }
//	        return Succeeded("ok")
//	    },
//	}
type MockShellRunner struct {
	// RunFunc is called when Run is invoked.
	RunFunc func(ctx context.Context, command string, elevated, capture bool) CommandOutcome

	// Calls records all invocations for verification.
	Calls []ShellRunnerCall

	mu sync.Mutex
}

// ShellRunnerCall records a single Run invocation.
type ShellRunnerCall struct {
	Command  string
	Elevated bool
	Capture  bool
}

// Run records the call and delegates to RunFunc.
func (m *MockShellRunner) Run(ctx context.Context, command string, elevated, capture bool) CommandOutcome {
	m.mu.Lock()
	m.Calls = append(m.Calls, ShellRunnerCall{
		Command:  command,
		Elevated: elevated,
		Capture:  capture,
	})
	fn := m.RunFunc
	m.mu.Unlock()

	if fn == nil {
		panic("MockShellRunner.RunFunc not set")
	}
	return fn(ctx, command, elevated, capture)
}

// Commands returns the command strings in call order.
func (m *MockShellRunner) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		result[i] = c.Command
	}
	return result
}

// Reset clears all recorded calls.
func (m *MockShellRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// EchoShellRunner returns a MockShellRunner whose output is looked up in
// outputs by command string. Unknown commands succeed silently.
func EchoShellRunner(outputs map[string]string) *MockShellRunner {
	return &MockShellRunner{
		RunFunc: func(ctx context.Context, command string, elevated, capture bool) CommandOutcome {
			return Succeeded(outputs[command])
		},
	}
}

var _ ShellRunner = (*MockShellRunner)(nil)
