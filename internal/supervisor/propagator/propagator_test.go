// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package propagator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/piv-supervisor/internal/registry"
	svtypes "github.com/traylinx/piv-supervisor/internal/supervisor/types"
)

type fakeRestarter struct {
	nextPid int
	fail    map[string]bool
}

func (f *fakeRestarter) Restart(project registry.Project) (int, error) {
	if f.fail[project.Name] {
		return 0, assertErr
	}
	f.nextPid++
	return f.nextPid, nil
}

var assertErr = os.ErrInvalid

func setupProjects(t *testing.T) (string, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
	regPath := filepath.Join(dir, "registry.yaml")

	reg := registry.New(regPath)
	for _, name := range []string{"a", "b", "c"} {
		projectDir := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(projectDir, 0755))
		reg.Projects[name] = registry.Project{Name: name, Path: projectDir, Status: registry.StatusRunning, PivCommandsVersion: "v1"}
	}
	require.NoError(t, reg.Write())
	return regPath, reg
}

func TestPropagate_CopiesBumpsAndRestarts(t *testing.T) {
	regPath, _ := setupProjects(t)
	reg, err := registry.Read(regPath)
	require.NoError(t, err)

	frameworkDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(frameworkDir, "commands"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(frameworkDir, "commands", "validate-implementation.md"), []byte("fixed content"), 0644))

	restarter := &fakeRestarter{}
	p := New(reg, regPath, frameworkDir, restarter)

	result := p.Propagate([]string{"commands/validate-implementation.md"}, "v2")

	assert.Len(t, result.Projects, 3)
	assert.Equal(t, 3, result.ProjectsRestarted)
	for _, outcome := range result.Projects {
		assert.Equal(t, svtypes.PropagationUpdated, outcome.Outcome)
	}

	updated, err := registry.Read(regPath)
	require.NoError(t, err)
	for _, name := range []string{"a", "b", "c"} {
		proj := updated.Projects[name]
		assert.Equal(t, "v2", proj.PivCommandsVersion)
		require.NotNil(t, proj.OrchestratorPid)

		content, err := os.ReadFile(filepath.Join(proj.Path, "commands", "validate-implementation.md"))
		require.NoError(t, err)
		assert.Equal(t, "fixed content", string(content))
	}
}

func TestPropagate_SkipsProjectsAlreadyAtTargetVersion(t *testing.T) {
	regPath, _ := setupProjects(t)
	reg, err := registry.Read(regPath)
	require.NoError(t, err)

	p := New(reg, regPath, t.TempDir(), &fakeRestarter{})
	result := p.Propagate(nil, "v1")

	assert.Empty(t, result.Projects)
}

func TestPropagate_RestartFailureDoesNotAbortOtherProjects(t *testing.T) {
	regPath, _ := setupProjects(t)
	reg, err := registry.Read(regPath)
	require.NoError(t, err)

	frameworkDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(frameworkDir, "fix.md"), []byte("content"), 0644))

	restarter := &fakeRestarter{fail: map[string]bool{"b": true}}
	p := New(reg, regPath, frameworkDir, restarter)

	result := p.Propagate([]string{"fix.md"}, "v2")

	outcomes := map[string]svtypes.PropagationOutcome{}
	for _, o := range result.Projects {
		outcomes[o.Project] = o.Outcome
	}
	assert.Equal(t, svtypes.PropagationUpdated, outcomes["a"])
	assert.Equal(t, svtypes.PropagationRestartFailed, outcomes["b"])
	assert.Equal(t, svtypes.PropagationUpdated, outcomes["c"])
}
