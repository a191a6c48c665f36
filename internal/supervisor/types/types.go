// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package types holds the closed-sum result types shared between the
// classifier, planner, and interventor. Kept in a leaf package so none of
// registry, classifier, planner, or interventor need to import one another
// just to share a result shape.
package types

import "time"

// StallType is the closed set of ways a project can be found non-healthy.
type StallType string

const (
	StallOrchestratorCrashed  StallType = "orchestrator_crashed"
	StallAgentWaitingForInput StallType = "agent_waiting_for_input"
	StallExecutionError       StallType = "execution_error"
	StallSessionHung          StallType = "session_hung"
)

// Confidence qualifies how certain a StallClassification is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// StallClassification is the Classifier's verdict for one project at one
// point in time. A healthy project never has one constructed for it; the
// classifier signals health with Classification == nil.
type StallClassification struct {
	Project          string
	StallType        StallType
	Confidence       Confidence
	HeartbeatAgeMS   int64
	Detail           string
	PendingFailure   *FailureEntry // set when StallType == StallExecutionError
}

// FailureCategory is a closed taxonomy of the orchestrator's reported error
// kinds. The classifier and interventor both switch on it; it is never
// freeform text.
type FailureCategory string

const (
	FailureTestFailure     FailureCategory = "test_failure"
	FailureBuildError      FailureCategory = "build_error"
	FailureTypeCheckError  FailureCategory = "type_check_error"
	FailureCredentialError FailureCategory = "credential_error"
	FailureToolError       FailureCategory = "tool_error"
	FailureUnknown         FailureCategory = "unknown"
)

// FailureResolution is the closed set of terminal states a FailureEntry can
// reach. Only resolution == pending entries are visible to the classifier.
type FailureResolution string

const (
	ResolutionPending    FailureResolution = "pending"
	ResolutionAutoFixed  FailureResolution = "auto_fixed"
	ResolutionRolledBack FailureResolution = "rolled_back"
	ResolutionEscalated  FailureResolution = "escalated"
)

// FailureEntry is one row of a project-local state file's `failures` sequence.
type FailureEntry struct {
	Command     string            `yaml:"command"`
	Phase       int               `yaml:"phase"`
	Category    FailureCategory   `yaml:"category"`
	Detail      string            `yaml:"detail"`
	RetryCount  int               `yaml:"retryCount"`
	MaxRetries  int               `yaml:"maxRetries"`
	Resolution  FailureResolution `yaml:"resolution"`
	Timestamp   time.Time         `yaml:"timestamp"`
}

// RecoveryActionType is the closed set of actions the Recovery Planner can emit.
type RecoveryActionType string

const (
	ActionRestart             RecoveryActionType = "restart"
	ActionRestartWithPreamble RecoveryActionType = "restart_with_preamble"
	ActionDiagnose            RecoveryActionType = "diagnose"
	ActionEscalate            RecoveryActionType = "escalate"
)

// RecoveryAction is the Planner's single verdict for one cycle's (project,
// classification) pair.
type RecoveryAction struct {
	Type          RecoveryActionType
	Project       string
	StallType     StallType
	AttemptsSoFar int
	Detail        string
}

// BugLocation is the closed set of diagnosis outcomes.
type BugLocation string

const (
	BugFramework     BugLocation = "framework_bug"
	BugProject       BugLocation = "project_bug"
	BugHumanRequired BugLocation = "human_required"
	BugAmbiguous     BugLocation = "ambiguous"
)

// DiagnosticResult is the Interventor's read-only session output.
type DiagnosticResult struct {
	Location            BugLocation
	RootCause           string
	TargetFile          string
	LineRangeStart      int
	LineRangeEnd        int
	RecommendedChange   string
	Confidence          Confidence
	CostUSD             float64
	AISessionID         string
}

// HotFixResult is the Interventor's write-session output, post-validation.
type HotFixResult struct {
	Success          bool
	FileModified     string
	LinesChanged     int
	ValidationPassed bool
	ValidationOutput string
	CostUSD          float64
	RevertPerformed  bool
}

// InterventionResult is the overall outcome of driving the Interventor for
// one project, folding in the diagnosis and (if attempted) the hot fix.
type InterventionResult struct {
	Success     bool
	Escalated   bool
	Diagnosis   *DiagnosticResult
	HotFix      *HotFixResult
	MemoryIDsRecalled []string
	MemoryIDWritten   string
	Detail      string

	// FrameworkFilesChanged is non-empty when a validated hot fix landed in
	// the canonical framework directory, so the Monitor Loop knows to
	// drive the Propagator (§4.5 Phase E) with exactly these relative
	// paths.
	FrameworkFilesChanged []string
}

// PropagationOutcome is the closed set of per-project results of a propagation pass.
type PropagationOutcome string

const (
	PropagationUpdated       PropagationOutcome = "updated"
	PropagationSkipped       PropagationOutcome = "skipped"
	PropagationFailed        PropagationOutcome = "failed"
	PropagationRestartFailed PropagationOutcome = "restart_failed"
)

// ProjectPropagationResult is one project's outcome within a PropagationResult.
type ProjectPropagationResult struct {
	Project string
	Outcome PropagationOutcome
	Detail  string
}

// PropagationResult is the Propagator's output for one dispatch.
type PropagationResult struct {
	Projects          []ProjectPropagationResult
	FilesPropagated   []string
	ProjectsRestarted int
}

// CycleResult summarizes one Monitor Loop cycle, returned by run_once and
// used by tests asserting against S1-S6.
type CycleResult struct {
	ProjectsEvaluated int
	ActionsTaken      map[string]RecoveryActionType
	Escalations       int
	StartedAt         time.Time
	FinishedAt        time.Time
}

// EscalationIssued reports whether any escalation happened this cycle; the
// `monitor --once` CLI exit code depends on it.
func (c CycleResult) EscalationIssued() bool {
	return c.Escalations > 0
}
