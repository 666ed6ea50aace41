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
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianFeedback/pkg/logging"
)

// maxStagingSuffix bounds the numeric suffixes tried for a colliding
// staged name.
const maxStagingSuffix = 1000

// AuxiliaryFile is a caller-supplied file copied into the staging area.
type AuxiliaryFile struct {
	SourcePath string
	StagedPath string
}

// AuxiliaryCollector finds and stages files under caller-supplied roots.
//
// # Description
//
// Collect walks a root depth-first in name order. Before inspecting each
// node it waits, within RetryPolicy, for read permission (plus search
// permission on directories). When the wait runs out it carries on
// best-effort with whatever access it has. Each regular file found is
// copied into the staging directory under its base name.
//
// # Failure Policy
//
// Nothing here aborts collection. A node that still cannot be stat'ed
// after the permission wait, or cannot be listed, contributes nothing
// (ErrPathUnreadable, logged). A file that cannot be copied is logged and
// skipped. Collection stops early only when ctx ends, returning what was
// staged so far.
//
// # Limitations
//
//   - Symbolic links to directories are not followed, which keeps the walk
//     finite on cyclic trees. Links to regular files are staged.
//   - Devices, sockets and pipes are skipped.
//   - A base name already present in the staging directory gets a numeric
//     suffix: "app.log" becomes "app_1.log".
type AuxiliaryCollector struct {
	stagingDir string
	checker    PermissionChecker
	clock      Clock
	policy     RetryPolicy
	metrics    PipelineMetrics
	logger     *logging.Logger
}

// NewAuxiliaryCollector creates a collector staging into stagingDir.
// Nil dependencies get the same defaults as NewCategoryFileWriter, plus
// UnixPermissionChecker.
func NewAuxiliaryCollector(stagingDir string, checker PermissionChecker, clock Clock, policy RetryPolicy, metrics PipelineMetrics, logger *logging.Logger) *AuxiliaryCollector {
	if checker == nil {
		checker = UnixPermissionChecker{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if metrics == nil {
		metrics = NewNoOpPipelineMetrics()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &AuxiliaryCollector{
		stagingDir: stagingDir,
		checker:    checker,
		clock:      clock,
		policy:     policy,
		metrics:    metrics,
		logger:     logger,
	}
}

// Collect stages every regular file under root. It never returns an
// error; see the type documentation for the failure policy.
func (c *AuxiliaryCollector) Collect(ctx context.Context, root string) []AuxiliaryFile {
	var staged []AuxiliaryFile
	c.walk(ctx, filepath.Clean(root), &staged)
	return staged
}

func (c *AuxiliaryCollector) walk(ctx context.Context, path string, staged *[]AuxiliaryFile) {
	if ctx.Err() != nil {
		return
	}

	// A node that cannot be inspected yet gets the bounded permission wait
	// before it is given up on; a pending grant can surface as EACCES or
	// ENOENT.
	waited := false
	info, err := os.Lstat(path)
	if err != nil {
		if _, _, werr := waitForPermission(ctx, c.checker, c.clock, c.policy, path, false); werr != nil {
			return
		}
		waited = true
		if info, err = os.Lstat(path); err != nil {
			c.unreadable(path, err)
			return
		}
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Stat(path)
		if err != nil {
			c.unreadable(path, err)
			return
		}
		if target.IsDir() {
			c.skip(path, "symlink to directory")
			return
		}
		info = target
	}

	isDir := info.IsDir()
	if isDir && c.isStagingDir(path) {
		c.skip(path, "staging directory")
		return
	}
	if !isDir && !info.Mode().IsRegular() {
		c.skip(path, "not a regular file")
		return
	}

	// A file already waited on above needs no second wait; a directory
	// still needs search permission.
	if !waited || isDir {
		granted, attempts, err := waitForPermission(ctx, c.checker, c.clock, c.policy, path, isDir)
		if err != nil {
			return
		}
		if !granted {
			c.logger.Warn("permission not granted, continuing best-effort",
				"path", path,
				"checks", attempts)
		}
	}

	if !isDir {
		c.stage(path, staged)
		return
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		c.unreadable(path, err)
		return
	}
	for _, entry := range entries {
		c.walk(ctx, filepath.Join(path, entry.Name()), staged)
	}
}

func (c *AuxiliaryCollector) stage(source string, staged *[]AuxiliaryFile) {
	dest, err := c.copyToStaging(source)
	if err != nil {
		c.metrics.RecordAuxiliary(AuxiliaryCopyFailed)
		c.logger.Warn("auxiliary file not staged",
			"path", source,
			"error", err)
		return
	}
	c.metrics.RecordAuxiliary(AuxiliaryStaged)
	*staged = append(*staged, AuxiliaryFile{SourcePath: source, StagedPath: dest})
}

// copyToStaging copies source into the staging directory. The destination
// is claimed with O_EXCL so it can never replace a category file, another
// staged file or anything else already there.
func (c *AuxiliaryCollector) copyToStaging(source string) (string, error) {
	in, err := os.Open(source)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, dest, err := c.claimStagingName(filepath.Base(source))
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return "", fmt.Errorf("copy to %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("close %s: %w", dest, err)
	}
	return dest, nil
}

func (c *AuxiliaryCollector) claimStagingName(base string) (*os.File, string, error) {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem, ext = base, ""
	}

	for i := 0; i <= maxStagingSuffix; i++ {
		name := base
		if i > 0 {
			name = stem + "_" + strconv.Itoa(i) + ext
		}
		dest := filepath.Join(c.stagingDir, name)
		f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
		if err == nil {
			return f, dest, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("no free staging name for %s", base)
}

func (c *AuxiliaryCollector) isStagingDir(path string) bool {
	a, err1 := filepath.Abs(path)
	b, err2 := filepath.Abs(c.stagingDir)
	return err1 == nil && err2 == nil && a == b
}

func (c *AuxiliaryCollector) unreadable(path string, err error) {
	c.metrics.RecordAuxiliary(AuxiliaryUnreadable)
	c.logger.Warn("auxiliary path skipped",
		"path", path,
		"error", fmt.Errorf("%w: %w", ErrPathUnreadable, err))
}

func (c *AuxiliaryCollector) skip(path, reason string) {
	c.metrics.RecordAuxiliary(AuxiliarySkipped)
	c.logger.Debug("auxiliary path ignored",
		"path", path,
		"reason", reason)
}
