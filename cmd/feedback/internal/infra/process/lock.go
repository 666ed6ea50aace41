// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// RunLocker guards a staging directory against concurrent bundler runs.
type RunLocker interface {
	// Acquire takes the lock without blocking. It returns *ErrLockHeld
	// when another process holds it.
	Acquire() error

	// Release drops the lock. Safe to call when not held.
	Release() error

	// IsHeld reports whether this instance holds the lock.
	IsHeld() bool
}

// RunLockConfig locates the lock file.
type RunLockConfig struct {
	// LockDir is where the lock and pid files live. Normally the staging
	// directory itself. Default: os.TempDir().
	LockDir string

	// LockName is the base name for both files. Default: ".feedback".
	LockName string
}

// RunLock is a flock(2)-based RunLocker. The holder's PID is written next
// to the lock file so a contending process can say who is running.
type RunLock struct {
	config   RunLockConfig
	lockPath string
	pidPath  string
	lockFile *os.File
	held     bool
}

// NewRunLock creates an unacquired lock.
func NewRunLock(config RunLockConfig) *RunLock {
	if config.LockDir == "" {
		config.LockDir = os.TempDir()
	}
	if config.LockName == "" {
		config.LockName = ".feedback"
	}
	return &RunLock{
		config:   config,
		lockPath: filepath.Join(config.LockDir, config.LockName+".lock"),
		pidPath:  filepath.Join(config.LockDir, config.LockName+".pid"),
	}
}

// Acquire attempts to take the exclusive lock.
//
// # Description
//
// Opens (creating if needed) the lock file and applies a non-blocking
// exclusive flock. Re-acquiring a held lock is a no-op.
//
// # Outputs
//
//   - error: *ErrLockHeld when another process owns the lock, or a
//     wrapped I/O error
func (p *RunLock) Acquire() error {
	if p.held {
		return nil
	}

	f, err := os.OpenFile(p.lockPath, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return fmt.Errorf("failed to create lock file %s: %w", p.lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return &ErrLockHeld{HolderPID: p.readHolderPID(), LockPath: p.lockPath}
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	p.lockFile = f
	p.held = true

	// The PID file is informational only.
	_ = os.WriteFile(p.pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0640)

	return nil
}

// Release drops the lock and removes the PID file.
func (p *RunLock) Release() error {
	if !p.held || p.lockFile == nil {
		return nil
	}

	_ = os.Remove(p.pidPath)

	err := unix.Flock(int(p.lockFile.Fd()), unix.LOCK_UN)
	p.lockFile.Close()
	p.lockFile = nil
	p.held = false

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// IsHeld reports whether this instance holds the lock.
func (p *RunLock) IsHeld() bool {
	return p.held
}

// LockPath returns the lock file path.
func (p *RunLock) LockPath() string {
	return p.lockPath
}

// PIDPath returns the holder PID file path.
func (p *RunLock) PIDPath() string {
	return p.pidPath
}

func (p *RunLock) readHolderPID() int {
	data, err := os.ReadFile(p.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// ErrLockHeld is returned by Acquire when another process holds the lock.
type ErrLockHeld struct {
	HolderPID int
	LockPath  string
}

func (e *ErrLockHeld) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("another feedback run is in progress (PID %d)", e.HolderPID)
	}
	return fmt.Sprintf("another feedback run is in progress (check: lsof %s)", e.LockPath)
}

// NoopRunLock never contends. Used when the caller already serializes
// runs, for example a single pipeline instance inside serve mode tests.
type NoopRunLock struct {
	held bool
}

// Acquire marks the lock held.
func (n *NoopRunLock) Acquire() error { n.held = true; return nil }

// Release marks the lock free.
func (n *NoopRunLock) Release() error { n.held = false; return nil }

// IsHeld reports the flag.
func (n *NoopRunLock) IsHeld() bool { return n.held }

var (
	_ RunLocker = (*RunLock)(nil)
	_ RunLocker = (*NoopRunLock)(nil)
)
