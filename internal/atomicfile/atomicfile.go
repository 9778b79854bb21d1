// SPDX-License-Identifier: LGPL-3.0-or-later
// Copyright (C) 2026 Vute Tech LTD
// Copyright (C) 2026 Bor contributors

// Package atomicfile provides the write-temp-then-rename primitive used
// by every persisted-state component in the agent: config, kill-switch
// state, incidents, license artifacts, and threat-feed bundles.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Write creates dir (mode 0755) if needed, writes data to a temporary
// sibling of target, then renames it into place. The rename is atomic
// on the same filesystem, so readers never observe a partially written
// file.
func Write(target string, data []byte) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".aidefender-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file to %s: %w", target, err)
	}
	return nil
}

// Replace is like Write but additionally rescues any pre-existing file
// at target: it is stashed aside with a ".bak" suffix before the
// rename, and the backup is removed only once the rename succeeds. If
// the write or rename fails, the original file at target is restored
// from the backup so callers never observe data loss on a failed
// replace.
func Replace(target string, data []byte) error {
	backup := target + ".bak"
	hadOriginal := false

	if _, err := os.Stat(target); err == nil {
		if err := os.Rename(target, backup); err != nil {
			return fmt.Errorf("stash existing %s: %w", target, err)
		}
		hadOriginal = true
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", target, err)
	}

	if err := Write(target, data); err != nil {
		if hadOriginal {
			// Best effort: restore the stashed original.
			_ = os.Rename(backup, target)
		}
		return err
	}

	if hadOriginal {
		if err := os.Remove(backup); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove backup %s: %w", backup, err)
		}
	}
	return nil
}
