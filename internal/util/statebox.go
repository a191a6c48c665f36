// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package util provides small filesystem and permission helpers shared
// across the supervisor's packages.
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Home resolves and caches the supervisor's canonical state directory
// (`~/.piv` by default). Every component that touches the registry, the
// intervention log, or a pid file resolves its path through a Home instead
// of hardcoding `~/.piv`, so tests can redirect it with PIV_HOME.
type Home struct {
	mu       sync.RWMutex
	rootPath string
	readOnly bool
}

// NewHome resolves the state directory from PIV_HOME (default "~/.piv") and
// the read-only flag from PIV_READONLY=1.
func NewHome() (*Home, error) {
	root := os.Getenv("PIV_HOME")
	if root == "" {
		root = "~/.piv"
	}
	resolved, err := ExpandPath(root)
	if err != nil {
		return nil, fmt.Errorf("resolve state directory: %w", err)
	}
	return &Home{
		rootPath: resolved,
		readOnly: os.Getenv("PIV_READONLY") == "1",
	}, nil
}

// RootPath returns the resolved state directory.
func (h *Home) RootPath() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rootPath
}

// IsReadOnly reports whether write operations against the state directory
// are disabled.
func (h *Home) IsReadOnly() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readOnly
}

// RegistryPath returns the canonical path to the registry file.
func (h *Home) RegistryPath() string {
	return filepath.Join(h.RootPath(), "registry.yaml")
}

// InterventionLogPath returns the canonical path to the human-readable
// intervention log.
func (h *Home) InterventionLogPath() string {
	return filepath.Join(h.RootPath(), "improvement-log.md")
}

// InterventionDBPath returns the path to the structured sidecar record of
// the intervention log.
func (h *Home) InterventionDBPath() string {
	return filepath.Join(h.RootPath(), "improvement-log.db")
}

// PidFilePath returns the path to the monitor loop's pid file.
func (h *Home) PidFilePath() string {
	return filepath.Join(h.RootPath(), "monitor.pid")
}

// ResolvePath joins a relative path with the state directory root. A path
// that is already absolute or starts with "~" is expanded and returned as-is.
func (h *Home) ResolvePath(relativePath string) string {
	if relativePath == "" {
		return h.RootPath()
	}
	if strings.HasPrefix(relativePath, "~") || filepath.IsAbs(relativePath) {
		cleaned, err := ExpandPath(relativePath)
		if err != nil {
			return filepath.Clean(relativePath)
		}
		return cleaned
	}
	return filepath.Join(h.RootPath(), relativePath)
}

// EnsureDir creates path with 0700 permissions if it does not already exist.
func (h *Home) EnsureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path exists but is not a directory: %s", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// ExpandPath expands a leading "~" to the current user's home directory and
// cleans the result. It has no library-worthy logic of its own; the rest of
// the ecosystem reaches for shell-level tilde expansion, which is not
// available when the process invokes filesystem calls directly.
func ExpandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return filepath.Clean(path), nil
}
