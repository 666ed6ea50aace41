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
	"sync"
)

// MockPermissionChecker is a configurable PermissionChecker for tests.
//
// CanAccessFunc decides each answer; every call is recorded.
type MockPermissionChecker struct {
	CanAccessFunc func(path string, isDir bool) bool

	Calls []PermissionCall
	mu    sync.Mutex
}

// PermissionCall records one CanAccess call.
type PermissionCall struct {
	Path  string
	IsDir bool
}

// CanAccess records the call and delegates to CanAccessFunc. With no
// function set every path is accessible.
func (m *MockPermissionChecker) CanAccess(path string, isDir bool) bool {
	m.mu.Lock()
	m.Calls = append(m.Calls, PermissionCall{Path: path, IsDir: isDir})
	fn := m.CanAccessFunc
	m.mu.Unlock()

	if fn == nil {
		return true
	}
	return fn(path, isDir)
}

// CallsFor returns how many times path was checked.
func (m *MockPermissionChecker) CallsFor(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c.Path == path {
			n++
		}
	}
	return n
}

// MockArchiveAssembler is a configurable ArchiveAssembler for tests.
type MockArchiveAssembler struct {
	AssembleFunc func(ctx context.Context, files []string, archivePath string) (*ArchiveBundle, error)

	Calls []AssembleCall
	mu    sync.Mutex
}

// AssembleCall records one Assemble call.
type AssembleCall struct {
	Files       []string
	ArchivePath string
}

// Assemble records the call and delegates to AssembleFunc.
func (m *MockArchiveAssembler) Assemble(ctx context.Context, files []string, archivePath string) (*ArchiveBundle, error) {
	m.mu.Lock()
	copied := make([]string, len(files))
	copy(copied, files)
	m.Calls = append(m.Calls, AssembleCall{Files: copied, ArchivePath: archivePath})
	fn := m.AssembleFunc
	m.mu.Unlock()

	if fn == nil {
		panic("MockArchiveAssembler.AssembleFunc not set")
	}
	return fn(ctx, files, archivePath)
}

var (
	_ PermissionChecker = (*MockPermissionChecker)(nil)
	_ ArchiveAssembler  = (*MockArchiveAssembler)(nil)
)
