// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	svtypes "github.com/traylinx/piv-supervisor/internal/supervisor/types"
)

// Metrics tracks cumulative Monitor Loop activity for observability,
// grounded on the teacher's internal/superbrain/metrics.Metrics: atomic
// counters for cheap concurrent increments, a map-backed breakdown by
// stall type, and a Snapshot that copies the stall-type map under its lock
// so callers never see a torn map; each counter is loaded atomically on its
// own, not as one consistent set.
type Metrics struct {
	cyclesRun         atomic.Int64
	projectsEvaluated atomic.Int64
	restarts          atomic.Int64
	restartsPreamble  atomic.Int64
	diagnoses         atomic.Int64
	hotFixesApplied   atomic.Int64
	hotFixesReverted  atomic.Int64
	escalations       atomic.Int64
	propagationsRun   atomic.Int64

	byStallMu sync.RWMutex
	byStall   map[svtypes.StallType]int64

	startTime time.Time
}

// NewMetrics constructs an empty Metrics with its start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		byStall:   make(map[svtypes.StallType]int64),
		startTime: time.Now(),
	}
}

func (m *Metrics) recordStall(t svtypes.StallType) {
	m.byStallMu.Lock()
	defer m.byStallMu.Unlock()
	m.byStall[t]++
}

// MetricsSnapshot is a point-in-time, JSON-friendly view of Metrics.
type MetricsSnapshot struct {
	CyclesRun            int64                        `json:"cycles_run"`
	ProjectsEvaluated    int64                        `json:"projects_evaluated"`
	Restarts             int64                        `json:"restarts"`
	RestartsWithPreamble int64                        `json:"restarts_with_preamble"`
	Diagnoses            int64                        `json:"diagnoses"`
	HotFixesApplied      int64                        `json:"hot_fixes_applied"`
	HotFixesReverted     int64                        `json:"hot_fixes_reverted"`
	Escalations          int64                        `json:"escalations"`
	PropagationsRun      int64                        `json:"propagations_run"`
	ByStallType          map[svtypes.StallType]int64   `json:"by_stall_type"`
	UptimeSeconds        int64                        `json:"uptime_seconds"`
	Timestamp            time.Time                    `json:"timestamp"`
}

// Snapshot returns a copy of the current metrics, safe for concurrent use.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.byStallMu.RLock()
	byStall := make(map[svtypes.StallType]int64, len(m.byStall))
	for k, v := range m.byStall {
		byStall[k] = v
	}
	m.byStallMu.RUnlock()

	return MetricsSnapshot{
		CyclesRun:           m.cyclesRun.Load(),
		ProjectsEvaluated:   m.projectsEvaluated.Load(),
		Restarts:            m.restarts.Load(),
		RestartsWithPreamble: m.restartsPreamble.Load(),
		Diagnoses:           m.diagnoses.Load(),
		HotFixesApplied:     m.hotFixesApplied.Load(),
		HotFixesReverted:    m.hotFixesReverted.Load(),
		Escalations:         m.escalations.Load(),
		PropagationsRun:     m.propagationsRun.Load(),
		ByStallType:         byStall,
		UptimeSeconds:       int64(time.Since(m.startTime).Seconds()),
		Timestamp:           time.Now(),
	}
}
