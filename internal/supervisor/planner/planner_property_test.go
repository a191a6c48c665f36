// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package planner

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	svtypes "github.com/traylinx/piv-supervisor/internal/supervisor/types"
)

// stallTypeGen draws from the closed StallType set plus one value outside
// it, exercising the default-case recursion the design calls out as
// unreachable in practice (§7) but still required to resolve to something.
func stallTypeGen() gopter.Gen {
	return gen.OneConstOf(
		svtypes.StallOrchestratorCrashed,
		svtypes.StallSessionHung,
		svtypes.StallAgentWaitingForInput,
		svtypes.StallExecutionError,
		svtypes.StallType("unrecognized_stall_type"),
	).Map(func(v interface{}) svtypes.StallType { return v.(svtypes.StallType) })
}

// TestPlan_IsTotal checks spec.md §8 property #3: Plan resolves every
// (StallType, attemptsSoFar, maxAttempts) combination to exactly one
// RecoveryActionType drawn from the closed set, and never panics.
func TestPlan_IsTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	validActions := map[svtypes.RecoveryActionType]bool{
		svtypes.ActionRestart:             true,
		svtypes.ActionRestartWithPreamble: true,
		svtypes.ActionDiagnose:            true,
		svtypes.ActionEscalate:            true,
	}

	properties.Property("Plan always returns exactly one valid action", prop.ForAll(
		func(stallType svtypes.StallType, attemptsSoFar, maxAttempts int) bool {
			classification := svtypes.StallClassification{Project: "acme", StallType: stallType}
			action := Plan(classification, attemptsSoFar, maxAttempts)
			return validActions[action.Type] && action.Project == "acme"
		},
		stallTypeGen(),
		gen.IntRange(0, 50),
		gen.IntRange(0, 50),
	))

	properties.Property("orchestrator_crashed always restarts regardless of attempt count", prop.ForAll(
		func(attemptsSoFar, maxAttempts int) bool {
			action := Plan(svtypes.StallClassification{
				Project:   "acme",
				StallType: svtypes.StallOrchestratorCrashed,
			}, attemptsSoFar, maxAttempts)
			return action.Type == svtypes.ActionRestart
		},
		gen.IntRange(0, 50),
		gen.IntRange(0, 50),
	))

	properties.Property("execution_error always diagnoses regardless of attempt count", prop.ForAll(
		func(attemptsSoFar, maxAttempts int) bool {
			action := Plan(svtypes.StallClassification{
				Project:   "acme",
				StallType: svtypes.StallExecutionError,
			}, attemptsSoFar, maxAttempts)
			return action.Type == svtypes.ActionDiagnose
		},
		gen.IntRange(0, 50),
		gen.IntRange(0, 50),
	))

	properties.Property("retryable stall types escalate once attemptsSoFar reaches maxAttempts", prop.ForAll(
		func(maxAttempts int) bool {
			for _, st := range []svtypes.StallType{svtypes.StallSessionHung, svtypes.StallAgentWaitingForInput} {
				action := Plan(svtypes.StallClassification{Project: "acme", StallType: st}, maxAttempts, maxAttempts)
				if action.Type != svtypes.ActionEscalate {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t)
}
