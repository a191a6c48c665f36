// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package registry is the single source of truth for the set of projects the
// supervisor manages: their path, framework version, and latest heartbeat.
// It generalizes the teacher's in-memory, refcounted model registry
// (internal/registry/model_registry.go in the source tree this was adapted
// from) to a YAML file under the user's home directory, guarded by an
// advisory OS file lock across the read-modify-write window and persisted
// with fsatomic's temp-file-fsync-rename pattern.
package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/traylinx/piv-supervisor/internal/fsatomic"
)

// Status is the closed set of Project lifecycle states.
type Status string

const (
	StatusRunning  Status = "running"
	StatusIdle     Status = "idle"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Project is one managed project's registry row.
type Project struct {
	Name                string     `yaml:"name"`
	Path                string     `yaml:"path"`
	Status              Status     `yaml:"status"`
	Heartbeat           time.Time  `yaml:"heartbeat"`
	CurrentPhase        *int       `yaml:"currentPhase"`
	LastCompletedPhase  *int       `yaml:"lastCompletedPhase"`
	PivCommandsVersion  string     `yaml:"pivCommandsVersion"`
	OrchestratorPid     *int       `yaml:"orchestratorPid"`
	RegisteredAt        time.Time  `yaml:"registeredAt"`
}

// fileFormat is the on-disk shape of the registry YAML file.
type fileFormat struct {
	Projects    map[string]Project `yaml:"projects"`
	LastUpdated time.Time          `yaml:"lastUpdated"`
}

// Registry is the in-memory snapshot of one read of the registry file, plus
// the path it was (or will be) persisted to.
type Registry struct {
	Projects    map[string]Project
	LastUpdated time.Time

	path string
}

// ErrCorrupted is returned by Read when the registry file exists but does not
// parse as valid YAML. Per the design, this is fatal for the current cycle —
// never silently truncated or auto-repaired.
var ErrCorrupted = errors.New("registry: file is present but does not parse (corrupted)")

// New returns an empty Registry bound to path, ready to be written.
func New(path string) *Registry {
	return &Registry{Projects: map[string]Project{}, path: path}
}

// Read loads the registry file at path. A missing file is not an error: it
// yields an empty Registry, matching a freshly initialized supervisor.
func Read(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(path), nil
		}
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}

	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupted, path, err)
	}
	if ff.Projects == nil {
		ff.Projects = map[string]Project{}
	}
	return &Registry{Projects: ff.Projects, LastUpdated: ff.LastUpdated, path: path}, nil
}

// Write atomically persists the registry to its bound path.
func (r *Registry) Write() error {
	ff := fileFormat{Projects: r.Projects, LastUpdated: time.Now().UTC()}
	data, err := yaml.Marshal(ff)
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}
	if err := fsatomic.Write(r.path, data, &fsatomic.WriteOptions{Permissions: 0600}); err != nil {
		return fmt.Errorf("registry: write %s: %w", r.path, err)
	}
	r.LastUpdated = ff.LastUpdated
	return nil
}

// FindByName returns the project with the given name, if registered.
func (r *Registry) FindByName(name string) (Project, bool) {
	p, ok := r.Projects[name]
	return p, ok
}

// FindByPath returns the first project whose Path matches, if any.
func (r *Registry) FindByPath(path string) (Project, bool) {
	for _, p := range r.Projects {
		if p.Path == path {
			return p, true
		}
	}
	return Project{}, false
}

// ListRunning returns every project with Status == StatusRunning, sorted by
// name for deterministic iteration order across a monitor cycle.
func (r *Registry) ListRunning() []Project {
	var out []Project
	for _, p := range r.Projects {
		if p.Status == StatusRunning {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// List returns every registered project, sorted by name.
func (r *Registry) List() []Project {
	out := make([]Project, 0, len(r.Projects))
	for _, p := range r.Projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// lockFile is an advisory OS-level file lock held only across the
// read-modify-write window of a composed operation. It is released before
// fsatomic.Write performs its own rename, since the rename itself is already
// atomic and does not need the lock.
type lockFile struct {
	f *os.File
}

func acquireLock(registryPath string, timeout time.Duration) (*lockFile, error) {
	lockPath := registryPath + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("registry: open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			return &lockFile{f: f}, nil
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, fmt.Errorf("registry: acquire lock on %s: timed out after %s", lockPath, timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (l *lockFile) release() {
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	_ = l.f.Close()
}

// DefaultLockTimeout is how long a composed operation waits to acquire the
// registry file lock before giving up on this cycle for this project.
const DefaultLockTimeout = 5 * time.Second

// WithLock runs fn against a freshly read Registry, holding an advisory file
// lock for the duration of the read-modify-write window, then writes the
// result. fn mutates r in place and returns an error to abort without
// writing. This is the building block register/deregister/update_heartbeat/
// bump_version all compose from.
func WithLock(path string, timeout time.Duration, fn func(r *Registry) error) error {
	lock, err := acquireLock(path, timeout)
	if err != nil {
		return err
	}

	r, err := Read(path)
	if err != nil {
		lock.release()
		return err
	}
	if err := fn(r); err != nil {
		lock.release()
		return err
	}

	// The rename itself is atomic without the lock; release before writing so
	// a slow fsync never holds other processes' lock acquisition attempts.
	lock.release()

	if err := r.Write(); err != nil {
		return err
	}
	return nil
}

// Register adds or replaces a project row under a held lock.
func Register(path string, p Project) error {
	return WithLock(path, DefaultLockTimeout, func(r *Registry) error {
		r.Projects[p.Name] = p
		return nil
	})
}

// Deregister removes a project row under a held lock. Missing projects are a no-op.
func Deregister(path, name string) error {
	return WithLock(path, DefaultLockTimeout, func(r *Registry) error {
		delete(r.Projects, name)
		return nil
	})
}

// UpdateHeartbeat refreshes a project's liveness fields under a held lock.
// phase and pid may be nil to leave the field(s) unset (idle orchestrators,
// crashed processes). version is only applied when non-empty.
func UpdateHeartbeat(path, name string, phase *int, status Status, pid *int, version string) error {
	return WithLock(path, DefaultLockTimeout, func(r *Registry) error {
		p, ok := r.Projects[name]
		if !ok {
			return fmt.Errorf("registry: update_heartbeat: project %q not registered", name)
		}
		p.Heartbeat = time.Now().UTC()
		p.CurrentPhase = phase
		p.Status = status
		p.OrchestratorPid = pid
		if version != "" {
			p.PivCommandsVersion = version
		}
		r.Projects[name] = p
		return nil
	})
}

// BumpVersion sets a project's framework version under a held lock.
func BumpVersion(path, name, newVersion string) error {
	return WithLock(path, DefaultLockTimeout, func(r *Registry) error {
		p, ok := r.Projects[name]
		if !ok {
			return fmt.Errorf("registry: bump_version: project %q not registered", name)
		}
		p.PivCommandsVersion = newVersion
		r.Projects[name] = p
		return nil
	})
}

// LogLockSkip records (at warn level) that this cycle is skipping a project
// because the registry lock could not be acquired in time — per the design,
// this is a transient condition handled by trying again next cycle, not a
// cycle-wide failure.
func LogLockSkip(project string, err error) {
	log.Warnf("registry: skipping %s this cycle, lock unavailable: %v", project, err)
}
