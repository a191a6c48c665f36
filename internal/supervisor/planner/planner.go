// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package planner maps a stall classification and an attempt count to
// exactly one recovery action. It is pure, mirroring the decision-table
// shape of the teacher's recovery.RestartManager but closed over the four
// stall types instead of open-ended provider corrective flags.
package planner

import (
	"fmt"

	svtypes "github.com/traylinx/piv-supervisor/internal/supervisor/types"
)

// Plan implements the table in the design: orchestrator_crashed always
// restarts; session_hung and agent_waiting_for_input retry up to
// maxAttempts before escalating; execution_error always diagnoses (the
// Interventor, not the Planner, produces execution_error's escalation).
func Plan(c svtypes.StallClassification, attemptsSoFar, maxAttempts int) svtypes.RecoveryAction {
	base := svtypes.RecoveryAction{
		Project:       c.Project,
		StallType:     c.StallType,
		AttemptsSoFar: attemptsSoFar,
	}

	switch c.StallType {
	case svtypes.StallOrchestratorCrashed:
		base.Type = svtypes.ActionRestart
		base.Detail = "orchestrator process is not alive; restarting"
		return base

	case svtypes.StallSessionHung:
		if attemptsSoFar >= maxAttempts {
			base.Type = svtypes.ActionEscalate
			base.Detail = fmt.Sprintf("session_hung restarted %d times with no progress", attemptsSoFar)
			return base
		}
		base.Type = svtypes.ActionRestart
		base.Detail = fmt.Sprintf("session_hung, restart attempt %d/%d", attemptsSoFar+1, maxAttempts)
		return base

	case svtypes.StallAgentWaitingForInput:
		if attemptsSoFar >= maxAttempts {
			base.Type = svtypes.ActionEscalate
			base.Detail = fmt.Sprintf("agent_waiting_for_input recurred %d times; prompt is not resolving the ambiguity", attemptsSoFar)
			return base
		}
		base.Type = svtypes.ActionRestartWithPreamble
		base.Detail = fmt.Sprintf("agent_waiting_for_input, restart-with-preamble attempt %d/%d", attemptsSoFar+1, maxAttempts)
		return base

	case svtypes.StallExecutionError:
		base.Type = svtypes.ActionDiagnose
		base.Detail = "pending failure entry; driving the interventor"
		return base

	default:
		// Closed by construction (§7 "classifier disagreement cannot occur");
		// treat anything unrecognized as session_hung at the current attempt.
		return Plan(svtypes.StallClassification{
			Project:   c.Project,
			StallType: svtypes.StallSessionHung,
		}, attemptsSoFar, maxAttempts)
	}
}

// AttemptKey identifies the in-memory restart-attempt counter scope: one
// counter per (project, stall type), reset on supervisor restart by virtue
// of living only in process memory.
type AttemptKey struct {
	Project   string
	StallType svtypes.StallType
}

// Counters tracks restart attempts per (project, stall type) for the
// lifetime of one supervisor process. Never persisted — see the design's
// note that persisting these requires a decay policy the spec does not
// define.
type Counters struct {
	m map[AttemptKey]int
}

// NewCounters returns an empty attempt-counter set.
func NewCounters() *Counters {
	return &Counters{m: make(map[AttemptKey]int)}
}

// Get returns the current attempt count for a (project, stall type) pair.
func (c *Counters) Get(project string, stallType svtypes.StallType) int {
	return c.m[AttemptKey{Project: project, StallType: stallType}]
}

// Increment bumps the attempt count for a (project, stall type) pair and
// returns the new value.
func (c *Counters) Increment(project string, stallType svtypes.StallType) int {
	key := AttemptKey{Project: project, StallType: stallType}
	c.m[key]++
	return c.m[key]
}

// Reset clears the attempt count for a (project, stall type) pair, used
// once a project returns to healthy so a later unrelated stall starts at
// attempt zero again.
func (c *Counters) Reset(project string, stallType svtypes.StallType) {
	delete(c.m, AttemptKey{Project: project, StallType: stallType})
}

// ResetProject clears every stall type's counter for a project, used when a
// cycle finds the project healthy.
func (c *Counters) ResetProject(project string) {
	for k := range c.m {
		if k.Project == project {
			delete(c.m, k)
		}
	}
}
