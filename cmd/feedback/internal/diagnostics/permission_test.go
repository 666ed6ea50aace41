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

func TestWaitForPermission_RetryBound(t *testing.T) {
	policy := RetryPolicy{Interval: 200 * time.Millisecond, Retries: 2}

	tests := []struct {
		name        string
		grantOn     int // 0 = never
		wantGranted bool
		wantChecks  int
		wantSleeps  int
	}{
		{"granted immediately", 1, true, 1, 0},
		{"granted on last attempt", 3, true, 3, 2},
		{"never granted", 0, false, 3, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			checker := PermissionFunc(func(path string, isDir bool) bool {
				calls++
				return tt.grantOn != 0 && calls >= tt.grantOn
			})
			clock := NewFakeClock(testEpoch)

			granted, checks, err := waitForPermission(context.Background(), checker, clock, policy, "/x", true)

			require.NoError(t, err)
			assert.Equal(t, tt.wantGranted, granted)
			assert.Equal(t, tt.wantChecks, checks)
			assert.Equal(t, tt.wantChecks, calls)
			assert.Len(t, clock.Sleeps(), tt.wantSleeps)
			for _, d := range clock.Sleeps() {
				assert.Equal(t, 200*time.Millisecond, d)
			}
		})
	}
}

func TestWaitForPermission_NegativeRetriesChecksOnce(t *testing.T) {
	calls := 0
	checker := PermissionFunc(func(string, bool) bool { calls++; return false })

	granted, checks, err := waitForPermission(context.Background(), checker, NewFakeClock(testEpoch), RetryPolicy{Retries: -3}, "/x", false)

	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, 1, checks)
	assert.Equal(t, 1, calls)
}

func TestWaitForPermission_CancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	checker := PermissionFunc(func(string, bool) bool { return false })

	granted, checks, err := waitForPermission(ctx, checker, NewFakeClock(testEpoch), DefaultRetryPolicy(), "/x", false)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, granted)
	assert.Equal(t, 1, checks)
}

func TestWaitForPermission_SystemClockTerminates(t *testing.T) {
	checker := PermissionFunc(func(string, bool) bool { return false })
	start := time.Now()

	granted, checks, err := waitForPermission(context.Background(), checker, SystemClock{}, RetryPolicy{Interval: 5 * time.Millisecond, Retries: 2}, "/x", false)

	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, 3, checks)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 200*time.Millisecond, p.Interval)
	assert.Equal(t, 2, p.Retries)
}

func TestUnixPermissionChecker(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	writeFile(t, file, "x")

	var checker UnixPermissionChecker
	assert.True(t, checker.CanAccess(dir, true))
	assert.True(t, checker.CanAccess(file, false))
	assert.False(t, checker.CanAccess(filepath.Join(dir, "missing"), false))

	if os.Geteuid() == 0 {
		t.Skip("root bypasses permission bits")
	}
	require.NoError(t, os.Chmod(file, 0))
	assert.False(t, checker.CanAccess(file, false))
}
