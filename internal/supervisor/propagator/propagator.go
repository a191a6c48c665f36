// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package propagator distributes a validated framework hot fix to every
// registered project whose framework version trails the canonical one,
// restarting each project's orchestrator afterward. The file-copy step is
// adapted from the teacher's fsatomic copyFile helper, generalized from a
// single backup copy to an arbitrary set of relative paths copied from one
// tree root to another.
package propagator

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/piv-supervisor/internal/registry"
	svtypes "github.com/traylinx/piv-supervisor/internal/supervisor/types"
)

// Restarter is the collaborator that actually spawns and kills orchestrator
// processes, injected so the Propagator itself stays free of process
// management concerns. The Monitor Loop's own Restarter also takes a
// preamble flag; it supplies this one through its restarterAdapter.
type Restarter interface {
	// Restart kills project's live orchestrator pid (if any) and spawns a
	// fresh one, returning the new pid.
	Restart(project registry.Project) (pid int, err error)
}

// Propagator copies validated framework fixes out to stale projects.
type Propagator struct {
	Registry           *registry.Registry
	RegistryPath       string
	FrameworkSourceDir string
	Restarter          Restarter
}

// New constructs a Propagator.
func New(reg *registry.Registry, registryPath, frameworkSourceDir string, restarter Restarter) *Propagator {
	return &Propagator{Registry: reg, RegistryPath: registryPath, FrameworkSourceDir: frameworkSourceDir, Restarter: restarter}
}

// Propagate copies relFiles (paths relative to FrameworkSourceDir) into
// every registered project whose PivCommandsVersion differs from
// newVersion, bumps that project's Registry row to newVersion, and restarts
// its orchestrator. Per spec.md §4.7, projects are processed sequentially
// and one project's failure never aborts the rest.
func (p *Propagator) Propagate(relFiles []string, newVersion string) svtypes.PropagationResult {
	result := svtypes.PropagationResult{FilesPropagated: append([]string{}, relFiles...)}

	for _, project := range p.Registry.List() {
		if project.PivCommandsVersion == newVersion {
			continue
		}

		outcome := p.propagateOne(project, relFiles, newVersion)
		result.Projects = append(result.Projects, outcome)
		if outcome.Outcome == svtypes.PropagationUpdated {
			result.ProjectsRestarted++
		}
	}

	return result
}

func (p *Propagator) propagateOne(project registry.Project, relFiles []string, newVersion string) svtypes.ProjectPropagationResult {
	for _, rel := range relFiles {
		src := filepath.Join(p.FrameworkSourceDir, rel)
		dst := filepath.Join(project.Path, rel)
		if err := copyFile(src, dst); err != nil {
			log.Warnf("propagator: %s: copy %s: %v", project.Name, rel, err)
			return svtypes.ProjectPropagationResult{Project: project.Name, Outcome: svtypes.PropagationFailed, Detail: err.Error()}
		}
	}

	if err := registry.BumpVersion(p.RegistryPath, project.Name, newVersion); err != nil {
		log.Warnf("propagator: %s: bump version: %v", project.Name, err)
		return svtypes.ProjectPropagationResult{Project: project.Name, Outcome: svtypes.PropagationFailed, Detail: err.Error()}
	}

	if p.Restarter == nil {
		return svtypes.ProjectPropagationResult{Project: project.Name, Outcome: svtypes.PropagationUpdated, Detail: "files copied and version bumped; no restarter configured"}
	}

	pid, err := p.Restarter.Restart(project)
	if err != nil {
		log.Warnf("propagator: %s: restart: %v", project.Name, err)
		return svtypes.ProjectPropagationResult{Project: project.Name, Outcome: svtypes.PropagationRestartFailed, Detail: err.Error()}
	}

	if err := registry.UpdateHeartbeat(p.RegistryPath, project.Name, nil, registry.StatusRunning, &pid, ""); err != nil {
		log.Warnf("propagator: %s: update heartbeat after restart: %v", project.Name, err)
		return svtypes.ProjectPropagationResult{Project: project.Name, Outcome: svtypes.PropagationRestartFailed, Detail: err.Error()}
	}

	return svtypes.ProjectPropagationResult{Project: project.Name, Outcome: svtypes.PropagationUpdated, Detail: fmt.Sprintf("propagated and restarted (pid=%d)", pid)}
}

// copyFile copies src to dst, creating dst's parent directory if needed and
// preserving src's file mode, mirroring the teacher's fsatomic.copyFile but
// without the backup-file side effect that helper has (propagation always
// wants the destination replaced outright).
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("propagator: stat %s: %w", src, err)
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("propagator: open %s: %w", src, err)
	}
	defer srcFile.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return fmt.Errorf("propagator: mkdir for %s: %w", dst, err)
	}

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return fmt.Errorf("propagator: create %s: %w", dst, err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("propagator: copy %s to %s: %w", src, dst, err)
	}
	return dstFile.Sync()
}
