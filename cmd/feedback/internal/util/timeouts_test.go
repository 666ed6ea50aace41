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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewTimeoutConfig_Defaults(t *testing.T) {
	cfg := NewTimeoutConfig()

	assert.Equal(t, DefaultProcessTimeout, cfg.Process)
	assert.Equal(t, DefaultPermissionRetryInterval, cfg.PermissionRetryInterval)
	assert.Equal(t, DefaultPermissionRetries, cfg.PermissionRetries)
}

func TestTimeoutConfig_Validated(t *testing.T) {
	tests := []struct {
		name string
		in   TimeoutConfig
		want TimeoutConfig
	}{
		{
			name: "zero process uses default",
			in:   TimeoutConfig{},
			want: TimeoutConfig{Process: DefaultProcessTimeout},
		},
		{
			name: "tiny process raised to minimum",
			in:   TimeoutConfig{Process: time.Millisecond, PermissionRetries: 2},
			want: TimeoutConfig{Process: MinProcessTimeout, PermissionRetries: 2},
		},
		{
			name: "negative interval and retries corrected",
			in:   TimeoutConfig{Process: time.Minute, PermissionRetryInterval: -1, PermissionRetries: -3},
			want: TimeoutConfig{Process: time.Minute, PermissionRetryInterval: DefaultPermissionRetryInterval},
		},
		{
			name: "retries capped",
			in:   TimeoutConfig{Process: time.Minute, PermissionRetries: 1000},
			want: TimeoutConfig{Process: time.Minute, PermissionRetries: MaxPermissionRetries},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Validated())
		})
	}
}

func TestEnforceMinTimeout(t *testing.T) {
	assert.Equal(t, 5*time.Second, EnforceMinTimeout(0, 5*time.Second))
	assert.Equal(t, 5*time.Second, EnforceMinTimeout(time.Second, 5*time.Second))
	assert.Equal(t, time.Minute, EnforceMinTimeout(time.Minute, 5*time.Second))
}
