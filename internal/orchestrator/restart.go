// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package orchestrator spawns and kills the per-project orchestrator
// processes the supervisor watches (spec.md §1: deliberately out of scope
// beyond "accept restart via process spawn"). It implements the
// monitor.Restarter collaborator interface (the propagator reaches it
// through the monitor's restarterAdapter), grounded on internal/aidriver's
// subprocess-spawn shape but
// detached and fire-and-forget per spec.md §5: the supervisor starts the
// orchestrator, records its pid, and never cmd.Wait()s on it.
package orchestrator

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/piv-supervisor/internal/registry"
)

// PreambleArg is the argument spec.md §4.2 describes as "an argument
// indicating 'inject autonomous preamble'"; the supervisor never mutates
// the orchestrator's prompts itself (§9's open question), it only changes
// the spawn arguments.
const PreambleArg = "--autonomous-preamble"

// Restarter spawns a configured orchestrator binary detached from the
// supervisor process, one per project, and kills a project's prior
// orchestrator pid (if still alive) before spawning the replacement.
type Restarter struct {
	// Command is the orchestrator binary invoked for every project,
	// e.g. the path to the per-project orchestrator entrypoint copied in
	// by bootstrap.Init.
	Command string
	// BuildArgs translates a project and the preamble flag into CLI
	// arguments for Command. Defaults to DefaultArgs when nil.
	BuildArgs func(project registry.Project, preamble bool) []string
	// LogDir is where each spawned orchestrator's stdout/stderr is
	// redirected, one file per project, so a detached process's output
	// isn't lost once the supervisor returns control to its own cycle.
	LogDir string
}

// New constructs a Restarter with DefaultArgs.
func New(command, logDir string) *Restarter {
	return &Restarter{Command: command, BuildArgs: DefaultArgs, LogDir: logDir}
}

// DefaultArgs invokes the orchestrator with its project directory and,
// when requested, the preamble-injection flag.
func DefaultArgs(project registry.Project, preamble bool) []string {
	args := []string{"--project", project.Path}
	if preamble {
		args = append(args, PreambleArg)
	}
	return args
}

// Restart kills project's live orchestrator pid, if any, and spawns a fresh
// detached orchestrator process, returning its new pid.
func (r *Restarter) Restart(project registry.Project, preamble bool) (int, error) {
	if project.OrchestratorPid != nil && PidAlive(*project.OrchestratorPid) {
		if err := killProcess(*project.OrchestratorPid); err != nil {
			log.Warnf("orchestrator: %s: kill prior pid %d: %v", project.Name, *project.OrchestratorPid, err)
		}
	}

	buildArgs := r.BuildArgs
	if buildArgs == nil {
		buildArgs = DefaultArgs
	}

	cmd := exec.Command(r.Command, buildArgs(project, preamble)...)
	cmd.Dir = project.Path
	cmd.Env = os.Environ()
	cmd.SysProcAttr = detachedAttr()

	if r.LogDir != "" {
		if err := os.MkdirAll(r.LogDir, 0755); err != nil {
			return 0, fmt.Errorf("orchestrator: create log dir: %w", err)
		}
		logPath := filepath.Join(r.LogDir, project.Name+".log")
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return 0, fmt.Errorf("orchestrator: open log file: %w", err)
		}
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("orchestrator: %s: spawn: %w", project.Name, err)
	}

	// Fire-and-forget: release resources tied to the child without
	// blocking on its exit, matching §5's "the supervisor never wait()s
	// on an orchestrator".
	go func(p *os.Process) {
		_, _ = p.Wait()
	}(cmd.Process)

	return cmd.Process.Pid, nil
}

// PidAlive is a non-blocking signal(0)-style liveness probe, duplicated
// from monitor.PidAlive here so this package has no import-cycle back onto
// the monitor package that consumes it.
func PidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

func killProcess(pid int) error {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return err
	}
	// Give the orchestrator a short grace period before a restart spawns
	// its replacement, avoiding two copies racing over the same project
	// directory.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !PidAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	if PidAlive(pid) {
		return syscall.Kill(pid, syscall.SIGKILL)
	}
	return nil
}

func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
