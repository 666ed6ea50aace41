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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultRetentionDays is how long archives are kept by Prune.
const DefaultRetentionDays = 30

// ArchiveEntry describes an archive on disk.
type ArchiveEntry struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	SizeBytes int64     `json:"size_bytes"`
	ModTime   time.Time `json:"mod_time"`
}

// ArchiveStore lists and prunes finished archives in the storage
// directory. Only feedback_*.zip files are considered; intermediate files
// and lock files are never touched.
type ArchiveStore struct {
	dir     string
	clock   Clock
	metrics PipelineMetrics
	mu      sync.Mutex
}

// NewArchiveStore creates a store over dir.
func NewArchiveStore(dir string, clock Clock, metrics PipelineMetrics) *ArchiveStore {
	if clock == nil {
		clock = SystemClock{}
	}
	if metrics == nil {
		metrics = NewNoOpPipelineMetrics()
	}
	return &ArchiveStore{dir: dir, clock: clock, metrics: metrics}
}

// Dir returns the storage directory.
func (s *ArchiveStore) Dir() string {
	return s.dir
}

// List returns archives newest first. limit <= 0 means all.
func (s *ArchiveStore) List(ctx context.Context, limit int) ([]ArchiveEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	archives, err := s.scan()
	if err != nil {
		return nil, err
	}
	s.metrics.RecordStoredCount(len(archives))

	sort.Slice(archives, func(i, j int) bool {
		if archives[i].ModTime.Equal(archives[j].ModTime) {
			return archives[i].Name > archives[j].Name
		}
		return archives[i].ModTime.After(archives[j].ModTime)
	})

	if limit > 0 && len(archives) > limit {
		archives = archives[:limit]
	}
	return archives, nil
}

// Prune deletes archives older than retentionDays and returns how many
// were removed. retentionDays <= 0 uses DefaultRetentionDays.
func (s *ArchiveStore) Prune(ctx context.Context, retentionDays int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	cutoff := s.clock.Now().AddDate(0, 0, -retentionDays)

	archives, err := s.scan()
	if err != nil {
		return 0, err
	}

	var deleted int
	for _, a := range archives {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if !a.ModTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(a.Path); err != nil {
			s.metrics.RecordPruned(deleted)
			return deleted, fmt.Errorf("failed to delete %s: %w", a.Name, err)
		}
		deleted++
	}

	s.metrics.RecordPruned(deleted)
	s.metrics.RecordStoredCount(len(archives) - deleted)
	return deleted, nil
}

func (s *ArchiveStore) scan() ([]ArchiveEntry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list storage directory: %w", err)
	}

	var archives []ArchiveEntry
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if !IsArchiveName(name) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		archives = append(archives, ArchiveEntry{
			Path:      filepath.Join(s.dir, name),
			Name:      name,
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
	}
	return archives, nil
}

// IsArchiveName reports whether name looks like a finished archive.
func IsArchiveName(name string) bool {
	return strings.HasPrefix(name, ArchivePrefix) && strings.HasSuffix(name, ArchiveExt)
}
