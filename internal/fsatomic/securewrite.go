// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package fsatomic provides crash-safe file persistence for the supervisor's
// on-disk state: the write-temp-fsync-rename pattern used by the Registry and
// by projectstate's manifest rewrite.
package fsatomic

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrReadOnly is returned when a write is attempted against a read-only target.
var ErrReadOnly = errors.New("fsatomic: write operations disabled (read-only mode)")

// WriteOptions configures an atomic write.
type WriteOptions struct {
	// CreateBackup writes a .bak copy of the previous file content before overwriting.
	CreateBackup bool
	// Permissions sets the file mode of the written file. Defaults to 0600.
	Permissions os.FileMode
	// ReadOnly short-circuits the write with ErrReadOnly without touching the filesystem.
	ReadOnly bool
}

// DefaultWriteOptions returns the conservative default: no backup, owner-only permissions.
func DefaultWriteOptions() *WriteOptions {
	return &WriteOptions{Permissions: 0600}
}

// Write atomically persists data to path: it writes to a uniquely named temp
// file in the same directory, fsyncs it, renames it over path, then fsyncs
// the directory so the rename itself survives a crash. Any reader of path
// observes either the previous complete content or the new complete content,
// never a partial write.
func Write(path string, data []byte, opts *WriteOptions) error {
	if opts == nil {
		opts = DefaultWriteOptions()
	}
	if opts.ReadOnly {
		return ErrReadOnly
	}

	// Ensure permissions have a sensible default
	if opts.Permissions == 0 {
		opts.Permissions = 0600
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Generate unique temp file name
	tempPath := fmt.Sprintf("%s.tmp.%s", path, uuid.New().String())

	// Create temp file with restricted permissions
	tempFile, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, opts.Permissions)
	if err != nil {
		return fmt.Errorf("failed to create temp file %s: %w", tempPath, err)
	}

	// Track whether we need to clean up the temp file
	cleanupTemp := true
	defer func() {
		if cleanupTemp {
			os.Remove(tempPath)
		}
	}()

	// Write data to temp file
	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	// Sync to disk before rename to ensure durability
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}

	// Close the file before rename
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Create backup if requested and target file exists
	if opts.CreateBackup {
		if _, err := os.Stat(path); err == nil {
			backupPath := path + ".bak"
			if err := copyFile(path, backupPath, opts.Permissions); err != nil {
				fmt.Fprintf(os.Stderr, "fsatomic: warning: backup of %s failed: %v\n", path, err)
			}
		}
	}

	// Atomic rename - this is the critical operation
	// On Unix: rename() is atomic within the same filesystem
	// On Windows: os.Rename() is atomic on NTFS for same-volume operations
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to target: %w", err)
	}

	// Rename succeeded, don't clean up temp file (it's now the target)
	cleanupTemp = false

	// Sync the directory to ensure the rename is durable
	// This is important for crash consistency on some filesystems
	if err := syncDir(dir); err != nil {
		// Log warning but don't fail - the file was written successfully
		fmt.Fprintf(os.Stderr, "fsatomic: warning: directory sync for %s failed: %v\n", dir, err)
	}

	return nil
}

// copyFile copies a file from src to dst with the specified permissions.
func copyFile(src, dst string, perm os.FileMode) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}

	if err := dstFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync destination file: %w", err)
	}

	return nil
}

// syncDir syncs a directory to ensure metadata changes are persisted.
// This is a best-effort operation and may not be supported on all platforms.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// WriteJSON marshals v with indentation and writes it atomically via Write.
func WriteJSON(path string, v interface{}, opts *WriteOptions) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("fsatomic: marshal json: %w", err)
	}
	data = append(data, '\n')
	return Write(path, data, opts)
}
