// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package projectstate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svtypes "github.com/traylinx/piv-supervisor/internal/supervisor/types"
)

func TestReadManifest_MissingFileIsNotError(t *testing.T) {
	m, err := ReadManifest(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, m.Failures)
	assert.Empty(t, m.PendingFailures())
}

func TestReadManifest_PendingFailuresFilter(t *testing.T) {
	dir := t.TempDir()
	manifestPath := ManifestPath(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(manifestPath), 0700))

	content := `
failures:
  - command: "npm test"
    phase: 2
    category: test_failure
    detail: "assertion failed"
    retryCount: 0
    maxRetries: 3
    resolution: pending
    timestamp: 2026-07-29T09:00:00Z
  - command: "npm build"
    phase: 1
    category: build_error
    detail: "resolved earlier"
    retryCount: 1
    maxRetries: 3
    resolution: auto_fixed
    timestamp: 2026-07-29T08:00:00Z
`
	require.NoError(t, os.WriteFile(manifestPath, []byte(content), 0600))

	m, err := ReadManifest(dir)
	require.NoError(t, err)
	require.Len(t, m.Failures, 2)

	pending := m.PendingFailures()
	require.Len(t, pending, 1)
	assert.Equal(t, svtypes.FailureTestFailure, pending[0].Category)

	latest, ok := m.LatestPending()
	require.True(t, ok)
	assert.Equal(t, "npm test", latest.Command)
}

func TestLatestPending_PicksMostRecentTimestamp(t *testing.T) {
	older := svtypes.FailureEntry{Command: "a", Resolution: svtypes.ResolutionPending, Timestamp: time.Now().Add(-time.Hour)}
	newer := svtypes.FailureEntry{Command: "b", Resolution: svtypes.ResolutionPending, Timestamp: time.Now()}
	m := Manifest{Failures: []svtypes.FailureEntry{older, newer}}

	latest, ok := m.LatestPending()
	require.True(t, ok)
	assert.Equal(t, "b", latest.Command)
}

func TestReadOutputTail_MissingFile(t *testing.T) {
	_, ok := ReadOutputTail(t.TempDir())
	assert.False(t, ok)
}

func TestReadOutputTail_ReturnsTailOnly(t *testing.T) {
	dir := t.TempDir()
	path := SessionOutputPath(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))

	big := make([]byte, TailBytes*2)
	for i := range big {
		big[i] = 'x'
	}
	copy(big[len(big)-5:], []byte("done?"))
	require.NoError(t, os.WriteFile(path, big, 0600))

	tail, ok := ReadOutputTail(dir)
	require.True(t, ok)
	assert.LessOrEqual(t, len(tail), TailBytes)
	assert.Contains(t, tail, "done?")
}
