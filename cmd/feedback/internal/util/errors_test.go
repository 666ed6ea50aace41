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

import (
	"errors"
	"fmt"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// CommandError.Error() Tests
// =============================================================================

func TestCommandError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *CommandError
		want string
	}{
		{
			name: "stderr wins over wrapped",
			err:  NewCommandError("/system/bin/dmesg", false, 1, "  permission denied\n", errors.New("exit status 1")),
			want: "/system/bin/dmesg (exit 1): permission denied",
		},
		{
			name: "wrapped only",
			err:  NewCommandError("logcat -d", false, -1, "", exec.ErrNotFound),
			want: "logcat -d (exit -1): " + exec.ErrNotFound.Error(),
		},
		{
			name: "elevated prefix",
			err:  NewCommandError("cat /proc/last_kmsg", true, 2, "", nil),
			want: "su: cat /proc/last_kmsg (exit 2)",
		},
		{
			name: "timed out",
			err: &CommandError{
				Command:  "dumpsys",
				ExitCode: -1,
				TimedOut: true,
				Stderr:   "partial",
			},
			want: "dumpsys (exit -1): timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestCommandError_Unwrap(t *testing.T) {
	err := fmt.Errorf("category logcat_: %w", NewCommandError("logcat", false, -1, "", exec.ErrNotFound))

	assert.True(t, errors.Is(err, exec.ErrNotFound))

	var cmdErr *CommandError
	if assert.True(t, errors.As(err, &cmdErr)) {
		assert.Equal(t, "logcat", cmdErr.Command)
		assert.False(t, cmdErr.HasStderr())
	}
}

// =============================================================================
// ExtractStderr Tests
// =============================================================================

func TestExtractStderr(t *testing.T) {
	inner := NewCommandError("dmesg", false, 1, "klogctl: Operation not permitted", nil)
	outer := NewCommandError("su", true, 1, "", inner)

	assert.Equal(t, "klogctl: Operation not permitted", ExtractStderr(fmt.Errorf("wrap: %w", outer)))
	assert.Equal(t, "", ExtractStderr(errors.New("plain")))
	assert.Equal(t, "", ExtractStderr(nil))
}
