// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package interventor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/piv-supervisor/internal/aidriver"
	"github.com/traylinx/piv-supervisor/internal/registry"
	svtypes "github.com/traylinx/piv-supervisor/internal/supervisor/types"
)

type fakeDriver struct {
	results []aidriver.Result
	errs    []error
	calls   int
}

func (f *fakeDriver) Run(ctx context.Context, spec aidriver.Spec) (aidriver.Result, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], err
	}
	return aidriver.Result{}, err
}

func diagnosisResult(location, targetFile string, lineStart, lineEnd int) aidriver.Result {
	payload, _ := json.Marshal(map[string]any{
		"bug_location":       location,
		"root_cause":         "off-by-one in the retry loop",
		"target_file":        targetFile,
		"line_range_start":   lineStart,
		"line_range_end":     lineEnd,
		"recommended_change": "fix the loop bound",
		"confidence":         "high",
	})
	return aidriver.Result{
		SessionID:        "diag-1",
		Subtype:          aidriver.SubtypeSuccess,
		StructuredOutput: payload,
		CostUSD:          0.01,
	}
}

func initGitRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		_, err := wt.Add(name)
		require.NoError(t, err)
	}

	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Unix(0, 0)},
	})
	require.NoError(t, err)

	return dir
}

func fixSessionResult(validationPassed bool) aidriver.Result {
	payload, _ := json.Marshal(map[string]any{
		"validation_passed": validationPassed,
		"validation_output": "ran the package's existing tests",
	})
	return aidriver.Result{
		SessionID:        "fix-1",
		Subtype:          aidriver.SubtypeSuccess,
		StructuredOutput: payload,
		CostUSD:          0.02,
	}
}

// TestIntervene_FrameworkBugValidatesAgainstFrameworkSourceDir guards
// against fix() diffing/reverting project.Path for a framework_bug
// diagnosis, whose target file lives under FrameworkSourceDir instead.
// project.Path is deliberately a bare (non-git) directory here: if fix()
// mistakenly used it for gitutil.Diff, opening the repo would fail and
// the fix would be reported as failed rather than validated, so the
// propagation path (spec.md §8's cross-project framework fix) would
// never be reachable.
func TestIntervene_FrameworkBugValidatesAgainstFrameworkSourceDir(t *testing.T) {
	frameworkDir := initGitRepo(t, map[string]string{"shared/util.go": "line1\nline2\n"})
	targetFile := filepath.Join(frameworkDir, "shared", "util.go")

	driver := &fakeDriver{results: []aidriver.Result{
		diagnosisResult("framework_bug", targetFile, 1, 1),
		fixSessionResult(true),
	}}
	iv := New(driver, nil, nil, Config{
		DiagnosisBudgetUSD: 10, FixBudgetUSD: 10, DiagnosisMaxTurns: 5, FixMaxTurns: 5,
		Timeout: time.Second, FrameworkSourceDir: frameworkDir,
	})

	project := registry.Project{Name: "demo", Path: t.TempDir()}
	stall := svtypes.StallClassification{
		Project: "demo", StallType: svtypes.StallExecutionError,
		PendingFailure: &svtypes.FailureEntry{Category: svtypes.FailureBuildError, Detail: "shared util broke"},
	}

	require.NoError(t, os.WriteFile(targetFile, []byte("line1\nCHANGED\n"), 0644))

	result := iv.Intervene(context.Background(), project, stall, nil)

	require.NotNil(t, result.Diagnosis)
	assert.Equal(t, svtypes.BugFramework, result.Diagnosis.Location)
	require.NotNil(t, result.HotFix)
	assert.True(t, result.HotFix.ValidationPassed)
	assert.True(t, result.Success)
	assert.False(t, result.Escalated)
	assert.Equal(t, []string{"shared/util.go"}, result.FrameworkFilesChanged)
}

// TestIntervene_FrameworkBugRevertsAgainstFrameworkSourceDir mirrors the
// above for the failure path: an oversized change in the framework repo
// must be reverted there, not against project.Path.
func TestIntervene_FrameworkBugRevertsAgainstFrameworkSourceDir(t *testing.T) {
	frameworkDir := initGitRepo(t, map[string]string{"shared/util.go": "line1\nline2\n"})
	targetFile := filepath.Join(frameworkDir, "shared", "util.go")

	driver := &fakeDriver{results: []aidriver.Result{
		diagnosisResult("framework_bug", targetFile, 1, 1),
		fixSessionResult(false),
	}}
	iv := New(driver, nil, nil, Config{
		DiagnosisBudgetUSD: 10, FixBudgetUSD: 10, DiagnosisMaxTurns: 5, FixMaxTurns: 5,
		Timeout: time.Second, FrameworkSourceDir: frameworkDir,
	})

	project := registry.Project{Name: "demo", Path: t.TempDir()}
	stall := svtypes.StallClassification{
		Project: "demo", StallType: svtypes.StallExecutionError,
		PendingFailure: &svtypes.FailureEntry{Category: svtypes.FailureBuildError, Detail: "shared util broke"},
	}

	require.NoError(t, os.WriteFile(targetFile, []byte("line1\nCHANGED\n"), 0644))

	result := iv.Intervene(context.Background(), project, stall, nil)

	require.NotNil(t, result.HotFix)
	assert.False(t, result.HotFix.ValidationPassed)
	assert.True(t, result.HotFix.RevertPerformed)
	assert.True(t, result.Escalated)

	data, err := os.ReadFile(targetFile)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2\n", string(data), "revert must restore the framework file, not touch project.Path")
}

func TestIntervene_HumanRequiredEscalatesWithoutFixSession(t *testing.T) {
	driver := &fakeDriver{results: []aidriver.Result{diagnosisResult("human_required", "", 0, 0)}}
	iv := New(driver, nil, nil, Config{DiagnosisBudgetUSD: 10, FixBudgetUSD: 10, DiagnosisMaxTurns: 5, FixMaxTurns: 5, Timeout: time.Second})

	project := registry.Project{Name: "demo", Path: "/tmp/demo"}
	stall := svtypes.StallClassification{
		Project:   "demo",
		StallType: svtypes.StallExecutionError,
		PendingFailure: &svtypes.FailureEntry{
			Command: "npm test", Phase: 2, Category: svtypes.FailureTestFailure, Detail: "assertion failed",
		},
	}

	result := iv.Intervene(context.Background(), project, stall, nil)

	assert.True(t, result.Escalated)
	assert.False(t, result.Success)
	require.NotNil(t, result.Diagnosis)
	assert.Equal(t, svtypes.BugHumanRequired, result.Diagnosis.Location)
	assert.Equal(t, 1, driver.calls, "fix session must not be spawned for human_required")
}

func TestIntervene_NoPendingFailureEscalatesImmediately(t *testing.T) {
	iv := New(&fakeDriver{}, nil, nil, Config{})
	project := registry.Project{Name: "demo", Path: "/tmp/demo"}
	stall := svtypes.StallClassification{Project: "demo", StallType: svtypes.StallExecutionError}

	result := iv.Intervene(context.Background(), project, stall, nil)

	assert.True(t, result.Escalated)
	assert.False(t, result.Success)
}

func TestIntervene_AlreadyAttemptedSkipsFixSession(t *testing.T) {
	driver := &fakeDriver{results: []aidriver.Result{diagnosisResult("project_bug", "main.go", 10, 12)}}
	iv := New(driver, nil, nil, Config{DiagnosisBudgetUSD: 10, FixBudgetUSD: 10, DiagnosisMaxTurns: 5, FixMaxTurns: 5, Timeout: time.Second})

	project := registry.Project{Name: "demo", Path: "/tmp/demo"}
	stall := svtypes.StallClassification{
		Project: "demo", StallType: svtypes.StallExecutionError,
		PendingFailure: &svtypes.FailureEntry{Category: svtypes.FailureBuildError, Detail: "build broke"},
	}
	attempted := map[AttemptKey]bool{
		{Project: "demo", File: "main.go", Category: svtypes.FailureBuildError}: true,
	}

	result := iv.Intervene(context.Background(), project, stall, attempted)

	assert.True(t, result.Escalated)
	assert.Equal(t, 1, driver.calls, "fix session must not be spawned when already attempted")
}

func TestShouldAttemptFix(t *testing.T) {
	base := svtypes.DiagnosticResult{Location: svtypes.BugProject, TargetFile: "a.go", RecommendedChange: "do x"}

	assert.True(t, shouldAttemptFix(base, 10, false))
	assert.False(t, shouldAttemptFix(base, 31, false), "too many estimated lines")
	assert.False(t, shouldAttemptFix(base, 10, true), "already attempted")

	humanRequired := base
	humanRequired.Location = svtypes.BugHumanRequired
	assert.False(t, shouldAttemptFix(humanRequired, 10, false))

	noTarget := base
	noTarget.TargetFile = ""
	assert.False(t, shouldAttemptFix(noTarget, 10, false))
}

func TestEstimateChangeLines(t *testing.T) {
	assert.Equal(t, 0, estimateChangeLines(svtypes.DiagnosticResult{}))
	assert.Equal(t, 3, estimateChangeLines(svtypes.DiagnosticResult{LineRangeStart: 10, LineRangeEnd: 12}))
	assert.Equal(t, 0, estimateChangeLines(svtypes.DiagnosticResult{LineRangeStart: 10, LineRangeEnd: 5}))
}

func TestCredentialLike(t *testing.T) {
	assert.True(t, credentialLike("missing API key for the upstream service"))
	assert.True(t, credentialLike("AUTH token expired"))
	assert.False(t, credentialLike("nil pointer dereference in parser"))
}

func TestWithinDir(t *testing.T) {
	assert.True(t, withinDir("/home/user/project", "/home/user/project/internal/foo.go"))
	assert.False(t, withinDir("/home/user/project", "/home/user/other/foo.go"))
	assert.False(t, withinDir("", "/home/user/project/foo.go"))
}

func TestBuildDiagnosisPrompt_IncludesFailureDetailAndPriorFixes(t *testing.T) {
	project := registry.Project{Name: "demo", Path: "/tmp/demo"}
	failure := svtypes.FailureEntry{Command: "go test ./...", Phase: 3, Category: svtypes.FailureTestFailure, Detail: "TestFoo failed"}

	prompt := buildDiagnosisPrompt(project, failure, "Prior fixes (non-authoritative context, may not apply here):\n- bumped timeout\n")

	assert.Contains(t, prompt, "demo")
	assert.Contains(t, prompt, "TestFoo failed")
	assert.Contains(t, prompt, "bumped timeout")
	assert.Contains(t, prompt, "bug_location")
}

func TestBuildFixPrompt_IncludesDiagnosisFields(t *testing.T) {
	diag := svtypes.DiagnosticResult{TargetFile: "main.go", RootCause: "off by one", RecommendedChange: "fix the loop bound"}

	prompt := buildFixPrompt(diag)

	assert.Contains(t, prompt, "main.go")
	assert.Contains(t, prompt, "off by one")
	assert.Contains(t, prompt, "fix the loop bound")
	assert.Contains(t, prompt, "validation_passed")
}
