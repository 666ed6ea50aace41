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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/internal/catalog"
	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/internal/infra/process"
	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/internal/util"
)

func TestCategoryFileName(t *testing.T) {
	assert.Equal(t, "logcat_2026-03-14_09-26-53.txt", CategoryFileName("logcat_", testEpoch))
	assert.Equal(t, "feedback_2026-03-14_09-26-53.zip", ArchiveFileName(testEpoch))
}

func TestCategoryFileWriter_ContentLayout(t *testing.T) {
	dir := t.TempDir()
	runner := process.EchoShellRunner(map[string]string{
		"echo A": "A",
		"echo B": "B",
	})
	w := NewCategoryFileWriter(runner, NewFakeClock(testEpoch), nil, nil, false)

	cf, err := w.Write(context.Background(), catalog.MustCategory("k_", "echo A", "echo B"), dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "k_2026-03-14_09-26-53.txt"), cf.Path)
	assert.Equal(t, "k_", cf.Prefix)
	assert.Equal(t, testEpoch, cf.CreatedAt)

	data, err := os.ReadFile(cf.Path)
	require.NoError(t, err)
	assert.Equal(t, "A"+RecordSeparator+"B"+RecordSeparator, string(data))
	assert.Equal(t, []string{"k_2026-03-14_09-26-53.txt"}, artifacts(t, dir))
}

func TestCategoryFileWriter_SeparatorPerCommand(t *testing.T) {
	tests := []struct {
		name     string
		commands []string
		outputs  map[string]string
	}{
		{"all empty", []string{"a", "b", "c"}, nil},
		{"mixed", []string{"a", "b", "c", "d"}, map[string]string{"b": "out", "d": "x\r\ny"}},
		{"single", []string{"a"}, map[string]string{"a": "only"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			w := NewCategoryFileWriter(process.EchoShellRunner(tt.outputs), NewFakeClock(testEpoch), nil, nil, false)

			cf, err := w.Write(context.Background(), catalog.MustCategory("s_", tt.commands...), dir)
			require.NoError(t, err)

			data, err := os.ReadFile(cf.Path)
			require.NoError(t, err)
			assert.Equal(t, len(tt.commands), strings.Count(string(data), RecordSeparator))
		})
	}
}

func TestCategoryFileWriter_DeterministicOrder(t *testing.T) {
	commands := []string{"c3", "c1", "c2"}
	runner := &process.MockShellRunner{
		RunFunc: func(ctx context.Context, command string, elevated, capture bool) process.CommandOutcome {
			return process.Succeeded("out-" + command)
		},
	}
	w := NewCategoryFileWriter(runner, NewFakeClock(testEpoch), nil, nil, false)
	cat := catalog.MustCategory("o_", commands...)

	var contents []string
	for i := 0; i < 2; i++ {
		cf, err := w.Write(context.Background(), cat, t.TempDir())
		require.NoError(t, err)
		data, err := os.ReadFile(cf.Path)
		require.NoError(t, err)
		contents = append(contents, string(data))
	}

	assert.Equal(t, contents[0], contents[1])
	assert.Equal(t, append(commands, commands...), runner.Commands())
	assert.Less(t, strings.Index(contents[0], "out-c3"), strings.Index(contents[0], "out-c1"))
	assert.Less(t, strings.Index(contents[0], "out-c1"), strings.Index(contents[0], "out-c2"))
}

func TestCategoryFileWriter_ExecutionFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	runner := &process.MockShellRunner{
		RunFunc: func(ctx context.Context, command string, elevated, capture bool) process.CommandOutcome {
			if command == "broken" {
				return process.FailedOutcome(command, elevated, errors.New("exec: not found"))
			}
			return process.Succeeded("ok")
		},
	}
	metrics := NewNoOpPipelineMetrics()
	w := NewCategoryFileWriter(runner, NewFakeClock(testEpoch), metrics, nil, true)

	cf, err := w.Write(context.Background(), catalog.MustCategory("f_", "first", "broken", "never"), dir)

	require.Error(t, err)
	assert.Nil(t, cf)
	assert.True(t, errors.Is(err, ErrIOFailure))
	assert.True(t, errors.Is(err, ErrExecutionFailed))

	var cmdErr *util.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "broken", cmdErr.Command)
	assert.True(t, cmdErr.Elevated)

	assert.Equal(t, []string{"first", "broken"}, runner.Commands())
	assert.Empty(t, artifacts(t, dir))
	assert.Equal(t, int64(1), metrics.CategoryFailures())
}

func TestCategoryFileWriter_NonZeroExitKeepsOutput(t *testing.T) {
	dir := t.TempDir()
	runner := &process.MockShellRunner{
		RunFunc: func(ctx context.Context, command string, elevated, capture bool) process.CommandOutcome {
			out := process.Succeeded("partial")
			out.ExitCode = 1
			return out
		},
	}
	w := NewCategoryFileWriter(runner, NewFakeClock(testEpoch), nil, nil, false)

	cf, err := w.Write(context.Background(), catalog.MustCategory("p_", "dmesg"), dir)
	require.NoError(t, err)

	data, err := os.ReadFile(cf.Path)
	require.NoError(t, err)
	assert.Equal(t, "partial"+RecordSeparator, string(data))
}

func TestCategoryFileWriter_UnwritableDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	w := NewCategoryFileWriter(process.EchoShellRunner(nil), NewFakeClock(testEpoch), nil, nil, false)

	_, err := w.Write(context.Background(), catalog.MustCategory("k_", "echo"), dir)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIOFailure))
	assert.False(t, errors.Is(err, ErrExecutionFailed))
}

func TestCategoryFileWriter_RunsWithCaptureAndElevation(t *testing.T) {
	runner := process.EchoShellRunner(nil)
	w := NewCategoryFileWriter(runner, NewFakeClock(testEpoch), nil, nil, true)

	_, err := w.Write(context.Background(), catalog.MustCategory("k_", "id"), t.TempDir())
	require.NoError(t, err)

	require.Len(t, runner.Calls, 1)
	assert.True(t, runner.Calls[0].Elevated)
	assert.True(t, runner.Calls[0].Capture)
}
