// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/config"
	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/gcs"
	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/internal/catalog"
)

const testCatalogYAML = `
catalog:
  - prefix: logcat_
    commands: ["echo boot completed", "echo wakelock released"]
  - prefix: kernel_
    commands: ["echo Linux 6.1"]
`

// writeTestConfig writes a config rooted in a temp dir and returns its
// path and storage dir.
func writeTestConfig(t *testing.T, shell, extra string) (string, string) {
	t.Helper()
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	root := t.TempDir()
	storage := filepath.Join(root, "store")
	body := fmt.Sprintf(`
storage:
  dir: %s
runner:
  shell: %s
  elevated_shell: %s
  timeout: 10s
permission:
  retries: 0
  interval: 10ms
logging:
  level: error
  format: text
%s`, storage, shell, shell, extra)

	path := filepath.Join(root, "feedback.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path, storage
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func zipMembers(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	members := make(map[string]string)
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		members[f.Name] = string(data)
	}
	return members
}

func storedFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".feedback.") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// uploaderFunc adapts a function to gcs.Uploader.
type uploaderFunc func(ctx context.Context, path string) (string, error)

func (f uploaderFunc) Upload(ctx context.Context, path string) (string, error) { return f(ctx, path) }

var _ gcs.Uploader = uploaderFunc(nil)

func fakeUploader(t *testing.T, fn func(ctx context.Context, path string) (string, error)) *[]config.UploadConfig {
	t.Helper()
	var seen []config.UploadConfig
	orig := uploaderFactory
	uploaderFactory = func(ctx context.Context, cfg config.UploadConfig) (gcs.Uploader, error) {
		seen = append(seen, cfg)
		return uploaderFunc(fn), nil
	}
	t.Cleanup(func() { uploaderFactory = orig })
	return &seen
}

// =============================================================================
// collect
// =============================================================================

func TestCollect_WritesArchive(t *testing.T) {
	cfgPath, storage := writeTestConfig(t, "sh", testCatalogYAML)

	aux := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(aux, "anr_trace.txt"), []byte("ANR in com.example"), 0644))

	out, err := runCLI(t, "--config", cfgPath, "collect", "--aux", aux)
	require.NoError(t, err)

	archive := strings.TrimSpace(out)
	assert.Equal(t, storage, filepath.Dir(archive))
	assert.True(t, strings.HasPrefix(filepath.Base(archive), "feedback_"))

	members := zipMembers(t, archive)
	require.Len(t, members, 3)
	assert.Equal(t, "ANR in com.example", members["anr_trace.txt"])

	var logcat string
	for name, content := range members {
		if strings.HasPrefix(name, "logcat_") {
			logcat = content
		}
	}
	assert.Contains(t, logcat, "boot completed")
	assert.Contains(t, logcat, "wakelock released")

	assert.Equal(t, []string{filepath.Base(archive)}, storedFiles(t, storage))
}

func TestCollect_FailureProducesNothing(t *testing.T) {
	cfgPath, storage := writeTestConfig(t, "/nonexistent/shell", testCatalogYAML)

	out, err := runCLI(t, "--config", cfgPath, "collect")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errNoArchive))
	assert.Empty(t, out)
	assert.Empty(t, storedFiles(t, storage))
}

func TestCollect_Upload(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "sh", testCatalogYAML+`
upload:
  bucket: device-feedback
  prefix: lab
`)
	seen := fakeUploader(t, func(ctx context.Context, path string) (string, error) {
		return "gs://device-feedback/lab/" + filepath.Base(path), nil
	})

	out, err := runCLI(t, "--config", cfgPath, "collect", "--upload")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "gs://device-feedback/lab/"+filepath.Base(lines[0]), lines[1])
	require.Len(t, *seen, 1)
	assert.Equal(t, "device-feedback", (*seen)[0].Bucket)
}

func TestCollect_MissingExplicitConfig(t *testing.T) {
	_, err := runCLI(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "collect")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

// =============================================================================
// catalog
// =============================================================================

func TestCatalog_PrintsConfiguredCatalog(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "sh", testCatalogYAML)

	out, err := runCLI(t, "--config", cfgPath, "catalog")
	require.NoError(t, err)
	assert.Contains(t, out, "prefix: logcat_")
	assert.Contains(t, out, "echo wakelock released")
	assert.Less(t, strings.Index(out, "logcat_"), strings.Index(out, "kernel_"))
}

func TestCatalog_DefaultsToAndroid(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "sh", "")

	out, err := runCLI(t, "--config", cfgPath, "catalog")
	require.NoError(t, err)
	for _, prefix := range []string{"logcat_", "kernel_", "dumpsys_", "wakeup_reasons_", "kmsg_", "anr_"} {
		assert.Contains(t, out, "prefix: "+prefix)
	}
}

// =============================================================================
// list / prune
// =============================================================================

func seedStoredArchive(t *testing.T, dir, name string, age time.Duration) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0750))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("zip"), 0644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestList(t *testing.T) {
	cfgPath, storage := writeTestConfig(t, "sh", "")

	out, err := runCLI(t, "--config", cfgPath, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No feedback archives found.")

	seedStoredArchive(t, storage, "feedback_2026-03-12_00-00-00.zip", 48*time.Hour)
	seedStoredArchive(t, storage, "feedback_2026-03-13_00-00-00.zip", 24*time.Hour)

	out, err = runCLI(t, "--config", cfgPath, "list", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "feedback_2026-03-13_00-00-00.zip")
	assert.NotContains(t, out, "feedback_2026-03-12_00-00-00.zip")
}

func TestPrune(t *testing.T) {
	cfgPath, storage := writeTestConfig(t, "sh", "")
	seedStoredArchive(t, storage, "feedback_2026-01-01_00-00-00.zip", 40*24*time.Hour)
	seedStoredArchive(t, storage, "feedback_2026-03-10_00-00-00.zip", 5*24*time.Hour)

	out, err := runCLI(t, "--config", cfgPath, "prune")
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 1 archive(s)")
	assert.Equal(t, []string{"feedback_2026-03-10_00-00-00.zip"}, storedFiles(t, storage))

	out, err = runCLI(t, "--config", cfgPath, "prune", "--days", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 1 archive(s)")
	assert.Empty(t, storedFiles(t, storage))
}

// =============================================================================
// upload
// =============================================================================

func TestUpload(t *testing.T) {
	cfgPath, storage := writeTestConfig(t, "sh", `
upload:
  bucket: device-feedback
`)
	seedStoredArchive(t, storage, "feedback_2026-03-13_00-00-00.zip", time.Hour)
	archive := filepath.Join(storage, "feedback_2026-03-13_00-00-00.zip")

	var uploaded []string
	fakeUploader(t, func(ctx context.Context, path string) (string, error) {
		uploaded = append(uploaded, path)
		return "gs://device-feedback/" + filepath.Base(path), nil
	})

	out, err := runCLI(t, "--config", cfgPath, "upload", archive)
	require.NoError(t, err)
	assert.Equal(t, "gs://device-feedback/feedback_2026-03-13_00-00-00.zip\n", out)
	assert.Equal(t, []string{archive}, uploaded)
}

func TestUpload_Errors(t *testing.T) {
	cfgPath, storage := writeTestConfig(t, "sh", "")
	seedStoredArchive(t, storage, "feedback_2026-03-13_00-00-00.zip", time.Hour)

	_, err := runCLI(t, "--config", cfgPath, "upload", filepath.Join(storage, "missing.zip"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot read archive")

	_, err = runCLI(t, "--config", cfgPath, "upload", storage)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a directory")

	_, err = runCLI(t, "--config", cfgPath, "upload", filepath.Join(storage, "feedback_2026-03-13_00-00-00.zip"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload.bucket")

	_, err = runCLI(t, "--config", cfgPath, "upload")
	require.Error(t, err)
}

// =============================================================================
// app wiring
// =============================================================================

func TestNewApp_MetricsEnabled(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "sh", "metrics:\n  enabled: true\n")
	cfg, err := config.Load(cfgPath, nil)
	require.NoError(t, err)

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.close()
	assert.NotNil(t, a.metricsHandler)

	b, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer b.close()
	assert.NotNil(t, b.metricsHandler)
}

func TestNewApp_InvalidCatalog(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "sh", "")
	cfg, err := config.Load(cfgPath, nil)
	require.NoError(t, err)

	cfg.Catalog = []catalog.Definition{
		{Prefix: "logcat_", Commands: []string{"echo a"}},
		{Prefix: "logcat_", Commands: []string{"echo b"}},
	}
	_, err = newApp(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid catalog")
}

func TestLoad_RejectsDuplicateCatalogPrefix(t *testing.T) {
	cfgPath, _ := writeTestConfig(t, "sh", `
catalog:
  - prefix: logcat_
    commands: ["echo a"]
  - prefix: logcat_
    commands: ["echo b"]
`)
	_, err := runCLI(t, "--config", cfgPath, "catalog")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog")
}
