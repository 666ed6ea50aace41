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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunFileSet_Release(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	writeFile(t, a, "a")
	writeFile(t, b, "b")

	set := NewRunFileSet()
	set.Register(a)
	set.Register(b)
	set.Register(a)
	set.Register(filepath.Join(dir, "never-created.txt"))

	assert.Equal(t, 3, set.Len())
	assert.Equal(t, []string{a, b, filepath.Join(dir, "never-created.txt")}, set.Paths())

	require.NoError(t, set.Release())
	assert.Empty(t, artifacts(t, dir))
	assert.Equal(t, 0, set.Len())

	require.NoError(t, set.Release())
}

func TestRunFileSet_RegisterAfterReleaseRemoves(t *testing.T) {
	dir := t.TempDir()
	late := filepath.Join(dir, "late.txt")
	writeFile(t, late, "x")

	set := NewRunFileSet()
	require.NoError(t, set.Release())
	set.Register(late)

	_, err := os.Stat(late)
	assert.True(t, os.IsNotExist(err))
}

func TestRunFileSet_ReleaseReportsFailures(t *testing.T) {
	dir := t.TempDir()
	busy := filepath.Join(dir, "busy")
	require.NoError(t, os.Mkdir(busy, 0755))
	writeFile(t, filepath.Join(busy, "child"), "c")
	ok := filepath.Join(dir, "ok.txt")
	writeFile(t, ok, "ok")

	set := NewRunFileSet()
	set.Register(busy)
	set.Register(ok)

	err := set.Release()
	require.Error(t, err)
	assert.Contains(t, err.Error(), busy)

	_, statErr := os.Stat(ok)
	assert.True(t, os.IsNotExist(statErr), "remaining files are still removed")
}

func TestFakeClock(t *testing.T) {
	clock := NewFakeClock(testEpoch)
	require.NoError(t, clock.Sleep(context.Background(), time.Second))
	clock.Advance(time.Minute)

	assert.Equal(t, testEpoch.Add(61*time.Second), clock.Now())
	assert.Equal(t, []time.Duration{time.Second}, clock.Sleeps())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, clock.Sleep(ctx, time.Second), context.Canceled)
}

func TestSystemClock_SleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := SystemClock{}.Sleep(ctx, time.Hour)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
	assert.NoError(t, SystemClock{}.Sleep(context.Background(), time.Millisecond))
}
