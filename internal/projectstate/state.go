// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package projectstate reads the project-local state the orchestrator
// writes: the failures manifest and the tail of its session output log. The
// supervisor never writes the output log, and writes the manifest only
// through ResolveFailure (an atomic whole-file rewrite); no file lock is
// taken on this path.
//
// Manifest decode uses goccy/go-yaml rather than gopkg.in/yaml.v3: every
// running project's manifest is re-read once per monitor cycle, the same
// hot-read-path tradeoff the teacher makes in its own skills registry and
// Lua plugin loader.
package projectstate

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	yaml "github.com/goccy/go-yaml"

	"github.com/traylinx/piv-supervisor/internal/fsatomic"
	svtypes "github.com/traylinx/piv-supervisor/internal/supervisor/types"
)

// ManifestFileName is the canonical project-local state file name, relative
// to the project root.
const ManifestFileName = ".agents/manifest.yaml"

// SessionOutputFileName is the canonical orchestrator output log, relative
// to the project root, tailed for the agent-waiting-for-input heuristic.
const SessionOutputFileName = ".agents/session-output.log"

// Manifest is the parsed shape of the project-local state file.
type Manifest struct {
	Failures []svtypes.FailureEntry `yaml:"failures"`
}

// ManifestPath joins a project root with the canonical manifest file name.
func ManifestPath(projectPath string) string {
	return filepath.Join(projectPath, ManifestFileName)
}

// SessionOutputPath joins a project root with the canonical session output log name.
func SessionOutputPath(projectPath string) string {
	return filepath.Join(projectPath, SessionOutputFileName)
}

// ReadManifest reads and parses a project's manifest. A missing file is
// treated as "no pending failures", not an error, matching the classifier's
// edge-case rule in the design.
func ReadManifest(projectPath string) (Manifest, error) {
	data, err := os.ReadFile(ManifestPath(projectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{}, nil
		}
		return Manifest{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// PendingFailures returns only the entries with resolution == pending, the
// only ones visible to the classifier.
func (m Manifest) PendingFailures() []svtypes.FailureEntry {
	var out []svtypes.FailureEntry
	for _, f := range m.Failures {
		if f.Resolution == svtypes.ResolutionPending {
			out = append(out, f)
		}
	}
	return out
}

// LatestPending returns the most recently timestamped pending failure, if any.
func (m Manifest) LatestPending() (svtypes.FailureEntry, bool) {
	pending := m.PendingFailures()
	if len(pending) == 0 {
		return svtypes.FailureEntry{}, false
	}
	latest := pending[0]
	for _, f := range pending[1:] {
		if f.Timestamp.After(latest.Timestamp) {
			latest = f
		}
	}
	return latest, true
}

// TailBytes is how much of the session output log is read for the
// question-detection heuristic. Reading the whole file would be wasteful
// for a long-running orchestrator session; a few kilobytes is enough tail
// context to see the last emitted prompt.
const TailBytes = 4096

// ResolveFailure rewrites the most recent pending failure entry matching
// category to resolution, atomically rewriting the whole manifest file. This
// is the one write the supervisor makes into orchestrator-owned state: §4.5
// Phase E requires the pending Failure entry's resolution to move to
// auto_fixed/rolled_back/escalated as the direct result of an intervention,
// so the write goes through the same temp-file-fsync-rename discipline as
// the Registry rather than a raw in-place edit.
func ResolveFailure(projectPath string, category svtypes.FailureCategory, resolution svtypes.FailureResolution) error {
	path := ManifestPath(projectPath)
	m, err := ReadManifest(projectPath)
	if err != nil {
		return fmt.Errorf("projectstate: read manifest for resolve: %w", err)
	}

	idx := -1
	var latest time.Time
	for i, f := range m.Failures {
		if f.Category != category || f.Resolution != svtypes.ResolutionPending {
			continue
		}
		if idx == -1 || f.Timestamp.After(latest) {
			idx = i
			latest = f.Timestamp
		}
	}
	if idx == -1 {
		return nil
	}
	m.Failures[idx].Resolution = resolution

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("projectstate: marshal manifest: %w", err)
	}
	if err := fsatomic.Write(path, data, &fsatomic.WriteOptions{Permissions: 0600}); err != nil {
		return fmt.Errorf("projectstate: write manifest: %w", err)
	}
	return nil
}

// ReadOutputTail returns up to TailBytes of the end of a project's session
// output log. A missing file returns ("", false) so callers can skip rule 4
// of the classifier's decision table without treating it as an error.
func ReadOutputTail(projectPath string) (string, bool) {
	path := SessionOutputPath(projectPath)
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", false
	}

	offset := int64(0)
	if info.Size() > TailBytes {
		offset = info.Size() - TailBytes
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", false
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return "", false
	}
	return string(data), true
}
