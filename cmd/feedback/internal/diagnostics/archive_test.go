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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZipArchiveAssembler_Assemble(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	a := filepath.Join(src, "k_2026-03-14_09-26-53.txt")
	b := filepath.Join(src, "app.log")
	writeFile(t, a, "A"+RecordSeparator)
	writeFile(t, b, strings.Repeat("log line\n", 500))
	archivePath := filepath.Join(out, ArchiveFileName(testEpoch))

	bundle, err := NewZipArchiveAssembler(nil).Assemble(context.Background(), []string{a, b}, archivePath)
	require.NoError(t, err)

	assert.Equal(t, archivePath, bundle.Path)
	assert.Equal(t, 2, bundle.MemberCount)
	info, err := os.Stat(archivePath)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), bundle.SizeBytes)

	members := readZip(t, archivePath)
	assert.Equal(t, []string{"app.log", "k_2026-03-14_09-26-53.txt"}, keys(members))
	assert.Equal(t, "A"+RecordSeparator, members["k_2026-03-14_09-26-53.txt"])

	r, err := zip.OpenReader(archivePath)
	require.NoError(t, err)
	defer r.Close()
	for _, f := range r.File {
		assert.Equal(t, zip.Deflate, f.Method)
	}

	// Inputs are left for the pipeline to clean up.
	_, err = os.Stat(a)
	assert.NoError(t, err)
	assert.Equal(t, []string{ArchiveFileName(testEpoch)}, artifacts(t, out))
}

func TestZipArchiveAssembler_Failures(t *testing.T) {
	src := t.TempDir()
	good := filepath.Join(src, "good.txt")
	writeFile(t, good, "g")
	other := filepath.Join(t.TempDir(), "good.txt")
	writeFile(t, other, "dup")

	tests := []struct {
		name  string
		files []string
	}{
		{"no files", nil},
		{"missing member", []string{good, filepath.Join(src, "gone.txt")}},
		{"directory member", []string{good, src}},
		{"duplicate base name", []string{good, other}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := t.TempDir()
			archivePath := filepath.Join(out, "feedback_x.zip")

			bundle, err := NewZipArchiveAssembler(nil).Assemble(context.Background(), tt.files, archivePath)

			assert.Nil(t, bundle)
			assert.True(t, errors.Is(err, ErrArchiveFailure), "got %v", err)
			assert.Empty(t, artifacts(t, out), "no partial archive may remain")
		})
	}
}

func TestZipArchiveAssembler_UnwritableDestination(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, src, "a")

	_, err := NewZipArchiveAssembler(nil).Assemble(context.Background(), []string{src}, filepath.Join(t.TempDir(), "missing", "feedback_x.zip"))

	assert.ErrorIs(t, err, ErrArchiveFailure)
}

func TestZipArchiveAssembler_CancelledContext(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.txt")
	writeFile(t, src, "a")
	out := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewZipArchiveAssembler(nil).Assemble(ctx, []string{src}, filepath.Join(out, "feedback_x.zip"))

	assert.ErrorIs(t, err, ErrArchiveFailure)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, artifacts(t, out))
}
