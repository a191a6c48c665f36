// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package classifier decides whether a project is stalled and, if so, into
// which of four categories. It is pure over its inputs — no I/O — mirroring
// the heartbeat/silence-detection shape of the teacher's overwatch monitor
// but generalized from "one AI session" to "one registered project".
package classifier

import (
	"strings"
	"time"

	"github.com/traylinx/piv-supervisor/internal/registry"
	svtypes "github.com/traylinx/piv-supervisor/internal/supervisor/types"
)

// LivenessProbe reports whether a pid is alive without blocking or
// affecting the process (an os.signal(0)-style probe). Injected so the
// classifier stays pure and testable.
type LivenessProbe func(pid int) bool

// Inputs bundles everything the classifier needs for one project, so Classify
// stays a single-call pure function over an explicit argument list.
type Inputs struct {
	Project          registry.Project
	Now              time.Time
	PendingFailures  []svtypes.FailureEntry
	PidAlive         bool
	OutputTail       string
	OutputTailExists bool
}

// Config carries the thresholds the decision table depends on.
type Config struct {
	HeartbeatStale time.Duration

	// Heuristic overrides rule 4 (question detection). Nil means
	// DefaultHeuristic. Set to a Chain to try a configured policy
	// expression and/or a per-project Lua plugin before falling back.
	Heuristic QuestionHeuristic
}

// DefaultConfig matches the spec's documented defaults.
func DefaultConfig() Config {
	return Config{HeartbeatStale: 900 * time.Second}
}

// Features is the read-only view of one classification pass exposed to
// overridable question-detection strategies, so a policy expression or Lua
// script can reason about more than the raw output tail.
type Features struct {
	Project         string
	HeartbeatAgeMS  int64
	PidAlive        bool
	FailureCategory string // "" when there is no pending failure
	OutputTail      string
}

// QuestionHeuristic decides whether Features indicate the agent is waiting
// on a question. decided reports whether this strategy reached an opinion;
// false lets the next strategy in a Chain run, so the planner never changes
// when a new strategy is added.
type QuestionHeuristic interface {
	LooksLikeQuestion(f Features) (isQuestion, decided bool)
}

// DefaultHeuristic is the built-in regex-and-phrase-based detector. It
// always decides.
type DefaultHeuristic struct{}

// LooksLikeQuestion implements QuestionHeuristic.
func (DefaultHeuristic) LooksLikeQuestion(f Features) (bool, bool) {
	return looksLikeQuestion(f.OutputTail), true
}

// Chain tries each strategy in order and returns the first one that
// decides, falling back to DefaultHeuristic if none do.
type Chain []QuestionHeuristic

// LooksLikeQuestion implements QuestionHeuristic.
func (c Chain) LooksLikeQuestion(f Features) (bool, bool) {
	for _, h := range c {
		if h == nil {
			continue
		}
		if result, decided := h.LooksLikeQuestion(f); decided {
			return result, true
		}
	}
	return DefaultHeuristic{}.LooksLikeQuestion(f)
}

// Classify implements the five-rule decision table from the design,
// evaluated in order with first-match-wins. A nil result means healthy.
func Classify(in Inputs, cfg Config) *svtypes.StallClassification {
	age := in.Now.Sub(in.Project.Heartbeat)
	if age < 0 {
		// Clock skew: never synthesize a stall from a heartbeat that looks
		// like it's in the future.
		age = 0
	}

	if age < cfg.HeartbeatStale {
		return nil
	}

	ageMS := age.Milliseconds()

	if !in.PidAlive {
		return &svtypes.StallClassification{
			Project:        in.Project.Name,
			StallType:      svtypes.StallOrchestratorCrashed,
			Confidence:     svtypes.ConfidenceHigh,
			HeartbeatAgeMS: ageMS,
			Detail:         "heartbeat stale and orchestrator pid is not alive",
		}
	}

	if len(in.PendingFailures) > 0 {
		latest := latestPendingFailure(in.PendingFailures)
		return &svtypes.StallClassification{
			Project:        in.Project.Name,
			StallType:      svtypes.StallExecutionError,
			Confidence:     svtypes.ConfidenceHigh,
			HeartbeatAgeMS: ageMS,
			Detail:         "pending failure: " + string(latest.Category),
			PendingFailure: &latest,
		}
	}

	if in.OutputTailExists {
		heuristic := cfg.Heuristic
		if heuristic == nil {
			heuristic = DefaultHeuristic{}
		}
		category := ""
		if len(in.PendingFailures) > 0 {
			category = string(latestPendingFailure(in.PendingFailures).Category)
		}
		features := Features{
			Project:         in.Project.Name,
			HeartbeatAgeMS:  ageMS,
			PidAlive:        in.PidAlive,
			FailureCategory: category,
			OutputTail:      in.OutputTail,
		}
		if isQuestion, _ := heuristic.LooksLikeQuestion(features); isQuestion {
			return &svtypes.StallClassification{
				Project:        in.Project.Name,
				StallType:      svtypes.StallAgentWaitingForInput,
				Confidence:     svtypes.ConfidenceMedium,
				HeartbeatAgeMS: ageMS,
				Detail:         "session output tail ends with a question-like pattern",
			}
		}
	}

	return &svtypes.StallClassification{
		Project:        in.Project.Name,
		StallType:      svtypes.StallSessionHung,
		Confidence:     svtypes.ConfidenceMedium,
		HeartbeatAgeMS: ageMS,
		Detail:         "heartbeat stale, pid alive, no pending failure or question detected",
	}
}

func latestPendingFailure(entries []svtypes.FailureEntry) svtypes.FailureEntry {
	latest := entries[0]
	for _, e := range entries[1:] {
		if e.Timestamp.After(latest.Timestamp) {
			latest = e
		}
	}
	return latest
}

// looksLikeQuestion is the overridable question-detection heuristic for
// agent_waiting_for_input. It is deliberately a free function over plain
// text so a future implementation can swap the signal without touching the
// planner or monitor loop, per the design's guidance to keep this rule
// overridable.
func looksLikeQuestion(tail string) bool {
	trimmed := strings.TrimRight(tail, " \t\r\n")
	if trimmed == "" {
		return false
	}
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	lastLine := trimmed
	if idx := strings.LastIndexByte(trimmed, '\n'); idx >= 0 {
		lastLine = trimmed[idx+1:]
	}
	lower := strings.ToLower(strings.TrimSpace(lastLine))
	for _, marker := range []string{"(y/n)", "(yes/no)", "please confirm", "do you want", "proceed?", "continue?"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
