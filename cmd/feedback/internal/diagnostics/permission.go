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
	"time"

	"golang.org/x/sys/unix"

	"github.com/AleutianAI/AleutianFeedback/cmd/feedback/internal/util"
)

// PermissionChecker reports whether the current process may read a path.
// Directories additionally need search (execute) permission.
type PermissionChecker interface {
	CanAccess(path string, isDir bool) bool
}

// UnixPermissionChecker checks access with access(2).
type UnixPermissionChecker struct{}

// CanAccess asks the kernel whether path is readable, and for directories
// also searchable, with the real user and group IDs.
func (UnixPermissionChecker) CanAccess(path string, isDir bool) bool {
	mode := uint32(unix.R_OK)
	if isDir {
		mode |= unix.X_OK
	}
	return unix.Access(path, mode) == nil
}

// PermissionFunc adapts a function to PermissionChecker.
type PermissionFunc func(path string, isDir bool) bool

// CanAccess calls f.
func (f PermissionFunc) CanAccess(path string, isDir bool) bool { return f(path, isDir) }

// RetryPolicy bounds the wait for a permission grant that may still be
// landing elsewhere on the host.
type RetryPolicy struct {
	// Interval is the sleep between checks.
	Interval time.Duration

	// Retries is the number of re-checks after the first denial, so a
	// node sees at most Retries+1 checks.
	Retries int
}

// DefaultRetryPolicy waits 200ms up to two times.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Interval: util.DefaultPermissionRetryInterval,
		Retries:  util.DefaultPermissionRetries,
	}
}

// waitForPermission checks path up to policy.Retries+1 times, sleeping
// policy.Interval between checks. It returns whether access was granted
// and how many checks were made. A non-nil error means ctx ended while
// sleeping.
func waitForPermission(ctx context.Context, checker PermissionChecker, clock Clock, policy RetryPolicy, path string, isDir bool) (bool, int, error) {
	retries := max(policy.Retries, 0)
	for attempt := 1; ; attempt++ {
		if checker.CanAccess(path, isDir) {
			return true, attempt, nil
		}
		if attempt > retries {
			return false, attempt, nil
		}
		if err := clock.Sleep(ctx, policy.Interval); err != nil {
			return false, attempt, err
		}
	}
}

var (
	_ PermissionChecker = UnixPermissionChecker{}
	_ PermissionChecker = PermissionFunc(nil)
)
