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
	"os"
	"sync"
)

// RunFileSet tracks the intermediate files of one run and deletes them
// on Release.
//
// # Description
//
// The pipeline registers every category file and staged auxiliary file as
// soon as it exists, then defers Release. That makes cleanup independent
// of which stage the run ended in.
//
// # Thread Safety
//
// Safe for concurrent use.
type RunFileSet struct {
	mu       sync.Mutex
	paths    []string
	seen     map[string]struct{}
	released bool
}

// NewRunFileSet returns an empty set.
func NewRunFileSet() *RunFileSet {
	return &RunFileSet{seen: make(map[string]struct{})}
}

// Register adds path to the set. Duplicate paths are ignored. Registering
// after Release removes the file immediately so nothing escapes cleanup.
func (s *RunFileSet) Register(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		_ = os.Remove(path)
		return
	}
	if _, ok := s.seen[path]; ok {
		return
	}
	s.seen[path] = struct{}{}
	s.paths = append(s.paths, path)
}

// Paths returns the registered paths in registration order.
func (s *RunFileSet) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.paths))
	copy(out, s.paths)
	return out
}

// Len returns the number of registered paths.
func (s *RunFileSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.paths)
}

// Release deletes every registered file. Files that are already gone are
// not an error. Every removal is attempted; the failures are joined.
// Calling Release more than once is a no-op.
func (s *RunFileSet) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil
	}
	s.released = true

	var errs []error
	for _, p := range s.paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
		}
	}
	s.paths = nil
	return errors.Join(errs...)
}
