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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/AleutianAI/AleutianFeedback/pkg/logging"
)

const (
	// ArchivePrefix starts every archive name.
	ArchivePrefix = "feedback_"

	// ArchiveExt is the archive extension.
	ArchiveExt = ".zip"
)

// ArchiveFileName returns feedback_<timestamp>.zip for t.
func ArchiveFileName(t time.Time) string {
	return ArchivePrefix + t.Format(TimestampLayout) + ArchiveExt
}

// ArchiveBundle is the deliverable of a successful run.
type ArchiveBundle struct {
	Path        string    `json:"path"`
	CreatedAt   time.Time `json:"created_at"`
	MemberCount int       `json:"member_count"`
	SizeBytes   int64     `json:"size_bytes"`
	RunID       string    `json:"run_id,omitempty"`
}

// ArchiveAssembler compresses a set of files into one archive.
type ArchiveAssembler interface {
	// Assemble writes files into archivePath. On error no file exists at
	// archivePath. Inputs are never modified or removed.
	Assemble(ctx context.Context, files []string, archivePath string) (*ArchiveBundle, error)
}

// ZipArchiveAssembler writes deflate-compressed zip archives.
//
// # Description
//
// Every input becomes one member named by its base name. The archive is
// written to a hidden temporary file next to archivePath and renamed into
// place once the central directory is flushed, so an interrupted run
// never leaves a truncated feedback_*.zip behind.
//
// # Limitations
//
//   - Two inputs with the same base name are rejected rather than
//     silently shadowing each other.
type ZipArchiveAssembler struct {
	logger *logging.Logger
}

// NewZipArchiveAssembler creates an assembler.
func NewZipArchiveAssembler(logger *logging.Logger) *ZipArchiveAssembler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ZipArchiveAssembler{logger: logger}
}

// Assemble compresses files into archivePath.
//
// # Outputs
//
//   - *ArchiveBundle: Path, member count and size. CreatedAt and RunID
//     are left for the caller.
//   - error: Wraps ErrArchiveFailure.
func (a *ZipArchiveAssembler) Assemble(ctx context.Context, files []string, archivePath string) (*ArchiveBundle, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no input files", ErrArchiveFailure)
	}

	dir := filepath.Dir(archivePath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(archivePath)+"*.tmp")
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrArchiveFailure, archivePath, err)
	}
	tmpPath := tmp.Name()

	fail := func(cause error) (*ArchiveBundle, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: %s: %w", ErrArchiveFailure, archivePath, cause)
	}

	zw := zip.NewWriter(tmp)
	names := make(map[string]string, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			_ = zw.Close()
			return fail(err)
		}
		name := filepath.Base(path)
		if prev, dup := names[name]; dup {
			_ = zw.Close()
			return fail(fmt.Errorf("duplicate member %q from %s and %s", name, prev, path))
		}
		names[name] = path

		if err := addMember(zw, path, name); err != nil {
			_ = zw.Close()
			return fail(err)
		}
	}

	if err := zw.Close(); err != nil {
		return fail(fmt.Errorf("finalize: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("sync: %w", err))
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: close %s: %w", ErrArchiveFailure, archivePath, err)
	}
	if err := os.Rename(tmpPath, archivePath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: rename %s: %w", ErrArchiveFailure, archivePath, err)
	}

	info, err := os.Stat(archivePath)
	if err != nil {
		_ = os.Remove(archivePath)
		return nil, fmt.Errorf("%w: stat %s: %w", ErrArchiveFailure, archivePath, err)
	}

	a.logger.Debug("archive written",
		"path", archivePath,
		"members", len(files),
		"bytes", info.Size())

	return &ArchiveBundle{
		Path:        archivePath,
		MemberCount: len(files),
		SizeBytes:   info.Size(),
	}, nil
}

func addMember(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return errors.New(path + " is not a regular file")
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header for %s: %w", path, err)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("compress %s: %w", name, err)
	}
	return nil
}

var _ ArchiveAssembler = (*ZipArchiveAssembler)(nil)
