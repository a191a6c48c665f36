// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/piv-supervisor/internal/registry"
)

func TestDefaultArgs(t *testing.T) {
	project := registry.Project{Path: "/tmp/acme"}

	assert.Equal(t, []string{"--project", "/tmp/acme"}, DefaultArgs(project, false))
	assert.Equal(t, []string{"--project", "/tmp/acme", PreambleArg}, DefaultArgs(project, true))
}

func TestPidAlive(t *testing.T) {
	assert.True(t, PidAlive(os.Getpid()))
	assert.False(t, PidAlive(0))
	assert.False(t, PidAlive(-1))
}

func TestRestarter_Restart_SpawnsDetachedProcess(t *testing.T) {
	dir := t.TempDir()
	logDir := filepath.Join(dir, "logs")

	r := New("/bin/sh", logDir)
	r.BuildArgs = func(project registry.Project, preamble bool) []string {
		return []string{"-c", "exit 0"}
	}

	project := registry.Project{Name: "acme", Path: dir}

	pid, err := r.Restart(project, false)
	require.NoError(t, err)
	assert.Greater(t, pid, 0)

	_, err = os.Stat(filepath.Join(logDir, "acme.log"))
	assert.NoError(t, err)
}

func TestRestarter_Restart_KillsPriorLivePid(t *testing.T) {
	dir := t.TempDir()

	// Spawn a long-lived placeholder process to stand in for a "live"
	// prior orchestrator pid.
	prior := exec.Command("sleep", "30")
	require.NoError(t, prior.Start())
	defer prior.Process.Kill()
	// Reap it once killed, as Restart does for the processes it spawns, so
	// the dead placeholder does not linger as a zombie answering signal 0.
	go func() { _ = prior.Wait() }()

	r := New("/bin/sh", "")
	r.BuildArgs = func(project registry.Project, preamble bool) []string {
		return []string{"-c", "exit 0"}
	}

	priorPid := prior.Process.Pid
	project := registry.Project{Name: "acme", Path: dir, OrchestratorPid: &priorPid}

	_, err := r.Restart(project, false)
	require.NoError(t, err)

	assert.False(t, PidAlive(priorPid))
}
