// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gitutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
		_, err := wt.Add(name)
		require.NoError(t, err)
	}

	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Unix(0, 0)},
	})
	require.NoError(t, err)

	return dir
}

func TestDiff_DetectsModifiedFile(t *testing.T) {
	dir := initRepo(t, map[string]string{"main.go": "line1\nline2\nline3\n"})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("line1\nCHANGED\nline3\n"), 0644))

	changed, err := Diff(dir)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	require.Equal(t, "main.go", changed[0].Path)
	require.Equal(t, 2, changed[0].LinesChanged) // one removed, one added
}

func TestDiff_NoChangesIsEmpty(t *testing.T) {
	dir := initRepo(t, map[string]string{"main.go": "line1\n"})
	changed, err := Diff(dir)
	require.NoError(t, err)
	require.Empty(t, changed)
}

func TestRevert_RestoresHeadContent(t *testing.T) {
	dir := initRepo(t, map[string]string{"main.go": "original\n"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("broken\n"), 0644))

	require.NoError(t, Revert(dir, "main.go"))

	data, err := os.ReadFile(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	require.Equal(t, "original\n", string(data))
}

func TestTotalLinesChangedAndFileCount(t *testing.T) {
	dir := initRepo(t, map[string]string{"a.go": "1\n2\n", "b.go": "x\n"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte("1\n2\n3\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.go"), []byte("y\n"), 0644))

	changed, err := Diff(dir)
	require.NoError(t, err)
	require.Equal(t, 2, FileCount(changed))
	require.Equal(t, 3, TotalLinesChanged(changed)) // +1 a.go line, +1/-1 b.go line
}
