// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package gitutil wraps go-git for the two operations the Interventor's
// hot-fix validation needs against a project's (or the framework's)
// working copy: counting how many files and lines an AI fix session
// changed, and reverting a single file back to its HEAD content when
// validation fails. The teacher's go.mod carries go-git for its
// bridge-agent git integration; this package is the supervisor's own use
// of the same dependency for a different purpose.
package gitutil

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
)

// ChangedFile describes one file whose worktree content differs from HEAD.
type ChangedFile struct {
	Path         string
	LinesChanged int
}

// Diff opens the repository at repoPath and reports every file that
// differs from HEAD along with an approximate added+removed line count,
// used by Phase D's independent verification: "exactly one file changed...
// total added+removed lines ≤ 30".
func Diff(repoPath string) ([]ChangedFile, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("gitutil: open %s: %w", repoPath, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("gitutil: worktree: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("gitutil: status: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("gitutil: head: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("gitutil: head commit: %w", err)
	}

	var out []ChangedFile
	for path, s := range status {
		if s.Worktree == git.Unmodified && s.Staging == git.Unmodified {
			continue
		}

		headContent, _ := readBlobAtPath(commit, path) // empty for a newly added file
		currentContent, err := readWorkingFile(repoPath, path)
		if err != nil {
			// Deleted file: everything in HEAD's copy counts as removed.
			out = append(out, ChangedFile{Path: path, LinesChanged: countLines(headContent)})
			continue
		}

		out = append(out, ChangedFile{
			Path:         path,
			LinesChanged: lineDiffCount(headContent, currentContent),
		})
	}

	return out, nil
}

// Revert discards uncommitted changes to relPath, restoring its HEAD
// content, used when hot-fix validation fails: "the supervisor reverts the
// working copy (discard uncommitted changes for that file)".
func Revert(repoPath, relPath string) error {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return fmt.Errorf("gitutil: open %s: %w", repoPath, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("gitutil: worktree: %w", err)
	}

	return checkoutFile(repo, wt, relPath)
}

// checkoutFile restores a single path from HEAD, leaving every other
// uncommitted change in the worktree untouched — a plain `go-git` Checkout
// call operates on the whole tree, so the path is restored by writing
// HEAD's blob content directly.
func checkoutFile(repo *git.Repository, wt *git.Worktree, relPath string) error {
	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("gitutil: head: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return fmt.Errorf("gitutil: head commit: %w", err)
	}

	content, err := readBlobAtPath(commit, relPath)
	if err != nil {
		return fmt.Errorf("gitutil: read HEAD content for %s: %w", relPath, err)
	}

	f, err := wt.Filesystem.Create(relPath)
	if err != nil {
		return fmt.Errorf("gitutil: open %s for revert: %w", relPath, err)
	}
	defer f.Close()

	if _, err := f.Write([]byte(content)); err != nil {
		return fmt.Errorf("gitutil: write reverted content to %s: %w", relPath, err)
	}
	return nil
}

func readBlobAtPath(commit *object.Commit, path string) (string, error) {
	tree, err := commit.Tree()
	if err != nil {
		return "", err
	}
	file, err := tree.File(path)
	if err != nil {
		if err == object.ErrFileNotFound {
			return "", nil
		}
		return "", err
	}
	return file.Contents()
}

func readWorkingFile(repoPath, relPath string) (string, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", err
	}
	f, err := wt.Filesystem.Open(relPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return len(strings.Split(strings.TrimRight(s, "\n"), "\n"))
}

// lineDiffCount approximates added+removed lines between two file versions
// via longest-common-subsequence length over lines — the same notion of
// "lines changed" a `diff` line count reports, without shelling out to the
// system `git` binary.
func lineDiffCount(a, b string) int {
	aLines := splitLines(a)
	bLines := splitLines(b)
	lcs := lcsLength(aLines, bLines)
	return (len(aLines) - lcs) + (len(bLines) - lcs)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func lcsLength(a, b []string) int {
	n, m := len(a), len(b)
	prev := make([]int, m+1)
	cur := make([]int, m+1)
	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[m]
}

// FileCount is a small convenience over Diff used by callers that only
// need the precondition check ("file count = 1").
func FileCount(files []ChangedFile) int {
	return len(files)
}

// TotalLinesChanged sums LinesChanged across files.
func TotalLinesChanged(files []ChangedFile) int {
	total := 0
	for _, f := range files {
		total += f.LinesChanged
	}
	return total
}

