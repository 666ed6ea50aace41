// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import "time"

// =============================================================================
// Timeout Constants
// =============================================================================

const (
	// MinProcessTimeout is the floor for a single diagnostic command.
	// Full dumpsys output on a busy device regularly needs several seconds.
	MinProcessTimeout = 5 * time.Second

	// DefaultProcessTimeout bounds one diagnostic command. A wedged
	// logcat or dumpsys is killed and reported as an execution failure.
	DefaultProcessTimeout = 2 * time.Minute

	// DefaultPermissionRetryInterval is the pause between permission checks
	// while a grant completes elsewhere on the host.
	DefaultPermissionRetryInterval = 200 * time.Millisecond

	// DefaultPermissionRetries is how many times a node is re-checked after
	// the first failed check.
	DefaultPermissionRetries = 2

	// MaxPermissionRetries caps the configured retry budget so that a bad
	// config cannot stall collection indefinitely.
	MaxPermissionRetries = 10

	// DefaultHTTPShutdownTimeout bounds graceful shutdown of serve mode.
	DefaultHTTPShutdownTimeout = 10 * time.Second
)

// =============================================================================
// TimeoutConfig
// =============================================================================

// TimeoutConfig groups the durations the bundler waits on.
type TimeoutConfig struct {
	// Process bounds one diagnostic command.
	Process time.Duration

	// PermissionRetryInterval is the sleep between permission checks.
	PermissionRetryInterval time.Duration

	// PermissionRetries is the retry budget per filesystem node.
	PermissionRetries int
}

// NewTimeoutConfig returns the defaults.
func NewTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{
		Process:                 DefaultProcessTimeout,
		PermissionRetryInterval: DefaultPermissionRetryInterval,
		PermissionRetries:       DefaultPermissionRetries,
	}
}

// Validated returns a copy with every field clamped to a usable value.
//
// # Description
//
// Process timeouts below MinProcessTimeout are raised to it; zero means
// the default. A negative retry interval becomes the default, zero is
// kept (tests and impatient callers use it). Retries are clamped to
// [0, MaxPermissionRetries].
func (c TimeoutConfig) Validated() TimeoutConfig {
	out := TimeoutConfig{
		Process:                 EnforceMinTimeout(EnforceDefaultTimeout(c.Process, DefaultProcessTimeout), MinProcessTimeout),
		PermissionRetryInterval: c.PermissionRetryInterval,
		PermissionRetries:       c.PermissionRetries,
	}
	if out.PermissionRetryInterval < 0 {
		out.PermissionRetryInterval = DefaultPermissionRetryInterval
	}
	if out.PermissionRetries < 0 {
		out.PermissionRetries = 0
	}
	if out.PermissionRetries > MaxPermissionRetries {
		out.PermissionRetries = MaxPermissionRetries
	}
	return out
}

// EnforceMinTimeout returns minimum when requested is unset or too small.
func EnforceMinTimeout(requested, minimum time.Duration) time.Duration {
	if requested <= 0 || requested < minimum {
		return minimum
	}
	return requested
}

// EnforceDefaultTimeout returns defaultVal when requested is unset.
func EnforceDefaultTimeout(requested, defaultVal time.Duration) time.Duration {
	if requested <= 0 {
		return defaultVal
	}
	return requested
}
