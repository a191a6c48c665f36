// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewHome_DefaultPath(t *testing.T) {
	os.Unsetenv("PIV_HOME")
	os.Unsetenv("PIV_READONLY")

	h, err := NewHome()
	if err != nil {
		t.Fatalf("NewHome() failed: %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get home directory: %v", err)
	}
	expected := filepath.Join(home, ".piv")

	if h.RootPath() != expected {
		t.Errorf("expected root path %s, got %s", expected, h.RootPath())
	}
	if h.IsReadOnly() {
		t.Error("expected read-only to be false by default")
	}
}

func TestNewHome_EnvVarOverride(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("PIV_HOME", tempDir)
	t.Setenv("PIV_READONLY", "1")

	h, err := NewHome()
	if err != nil {
		t.Fatalf("NewHome() failed: %v", err)
	}
	if h.RootPath() != tempDir {
		t.Errorf("expected root path %s, got %s", tempDir, h.RootPath())
	}
	if !h.IsReadOnly() {
		t.Error("expected read-only to be true")
	}
}

func TestHome_CanonicalPaths(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("PIV_HOME", tempDir)
	t.Setenv("PIV_READONLY", "0")

	h, err := NewHome()
	if err != nil {
		t.Fatalf("NewHome() failed: %v", err)
	}

	if got, want := h.RegistryPath(), filepath.Join(tempDir, "registry.yaml"); got != want {
		t.Errorf("RegistryPath() = %s, want %s", got, want)
	}
	if got, want := h.InterventionLogPath(), filepath.Join(tempDir, "improvement-log.md"); got != want {
		t.Errorf("InterventionLogPath() = %s, want %s", got, want)
	}
	if got, want := h.PidFilePath(), filepath.Join(tempDir, "monitor.pid"); got != want {
		t.Errorf("PidFilePath() = %s, want %s", got, want)
	}
}

func TestHome_ResolvePath(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("PIV_HOME", tempDir)
	t.Setenv("PIV_READONLY", "0")

	h, err := NewHome()
	if err != nil {
		t.Fatalf("NewHome() failed: %v", err)
	}

	if got, want := h.ResolvePath("sub/file.txt"), filepath.Join(tempDir, "sub/file.txt"); got != want {
		t.Errorf("ResolvePath(relative) = %s, want %s", got, want)
	}
	if got, want := h.ResolvePath("/abs/path"), "/abs/path"; got != want {
		t.Errorf("ResolvePath(absolute) = %s, want %s", got, want)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get home directory: %v", err)
	}

	got, err := ExpandPath("~/foo/bar")
	if err != nil {
		t.Fatalf("ExpandPath() failed: %v", err)
	}
	if want := filepath.Join(home, "foo/bar"); got != want {
		t.Errorf("ExpandPath(~/foo/bar) = %s, want %s", got, want)
	}

	if got, err := ExpandPath("/already/absolute"); err != nil || got != "/already/absolute" {
		t.Errorf("ExpandPath(absolute) = %s, %v", got, err)
	}
}
