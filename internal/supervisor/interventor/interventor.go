// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package interventor drives the two-phase AI diagnosis-then-fix pipeline
// for an execution_error stall: a read-only diagnosis session, a
// fix-or-escalate decision, and a conditional bounded write session with
// independent validation. Structurally mirrors the teacher's two-stage
// InternalDoctor.Diagnose (pattern match, then AI fallback) generalized to
// "diagnosis is always AI-driven" — there is no pattern-only path for
// project-level execution errors — while keeping the teacher's prompt
// convention ("respond with a JSON object containing: ...") and tolerant
// extractJSON-style parsing, here done with gjson instead of extractJSON.
package interventor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/traylinx/piv-supervisor/internal/aidriver"
	"github.com/traylinx/piv-supervisor/internal/gitutil"
	"github.com/traylinx/piv-supervisor/internal/memory"
	"github.com/traylinx/piv-supervisor/internal/projectstate"
	"github.com/traylinx/piv-supervisor/internal/registry"
	svtypes "github.com/traylinx/piv-supervisor/internal/supervisor/types"
	"github.com/traylinx/piv-supervisor/internal/tokencost"
)

// Config carries the Interventor's budget, turn, and timeout knobs, one
// field per spec.md §4.5 Phase B/D parameter.
type Config struct {
	DiagnosisBudgetUSD    float64
	FixBudgetUSD          float64
	DiagnosisMaxTurns     int
	FixMaxTurns           int
	Timeout               time.Duration
	Model                 string
	FrameworkSourceDir    string
	MemorySearchThreshold float64
	MemorySearchLimit     int
}

// AttemptKey identifies a (project, target file, error category) tuple
// already attempted and failed within the current cycle, per Phase C's
// "has not already been attempted and failed in this cycle's log"
// precondition. The Monitor Loop owns the map across a cycle's sequential
// project loop; the Interventor only reads it.
type AttemptKey struct {
	Project  string
	File     string
	Category svtypes.FailureCategory
}

// Interventor holds the collaborators needed to drive one project's
// diagnosis-then-fix pipeline.
type Interventor struct {
	Driver   aidriver.Driver
	Memory   *memory.Client // nil disables Phase A and the Phase E store
	Registry *registry.Registry
	Config   Config
}

// New constructs an Interventor.
func New(driver aidriver.Driver, mem *memory.Client, reg *registry.Registry, cfg Config) *Interventor {
	return &Interventor{Driver: driver, Memory: mem, Registry: reg, Config: cfg}
}

var errBudgetExceeded = fmt.Errorf("interventor: estimated cost exceeds configured budget")

// Intervene runs Phases A-E for one project's execution_error stall and
// returns the overall InterventionResult. attempted is read for Phase C and
// is not mutated; the Monitor Loop records this call's outcome into it
// afterward so a later project in the same cycle observing the same
// (project, file, category) sees it.
func (iv *Interventor) Intervene(ctx context.Context, project registry.Project, stall svtypes.StallClassification, attempted map[AttemptKey]bool) svtypes.InterventionResult {
	if stall.PendingFailure == nil {
		return svtypes.InterventionResult{Success: false, Escalated: true, Detail: "execution_error classification without a pending failure"}
	}
	failure := *stall.PendingFailure

	priorFixesBlock, recalledIDs := iv.recall(ctx, project.Name, failure)

	diag, err := iv.diagnose(ctx, project, failure, priorFixesBlock)
	if err != nil {
		log.Warnf("interventor: %s: diagnosis failed: %v", project.Name, err)
		return svtypes.InterventionResult{
			Success: false, Escalated: true,
			Diagnosis:         &diag,
			MemoryIDsRecalled: recalledIDs,
			Detail:            "diagnosis session failed or exceeded budget/timeout: " + err.Error(),
		}
	}

	if diag.Location == svtypes.BugHumanRequired {
		return svtypes.InterventionResult{
			Success: false, Escalated: true,
			Diagnosis:         &diag,
			MemoryIDsRecalled: recalledIDs,
			Detail:            "diagnosis classified as human_required: " + diag.RootCause,
		}
	}

	estimatedLines := estimateChangeLines(diag)
	key := AttemptKey{Project: project.Name, File: diag.TargetFile, Category: failure.Category}
	if !shouldAttemptFix(diag, estimatedLines, attempted[key]) {
		return svtypes.InterventionResult{
			Success: false, Escalated: true,
			Diagnosis:         &diag,
			MemoryIDsRecalled: recalledIDs,
			Detail:            "fix preconditions not met, falling through to escalation: " + diag.RootCause,
		}
	}

	hotFix, err := iv.fix(ctx, project, diag)
	if err != nil {
		log.Warnf("interventor: %s: fix session failed: %v", project.Name, err)
		return svtypes.InterventionResult{
			Success: false, Escalated: true,
			Diagnosis:         &diag,
			HotFix:            &hotFix,
			MemoryIDsRecalled: recalledIDs,
			Detail:            "fix session failed or exceeded budget/timeout: " + err.Error(),
		}
	}

	result := svtypes.InterventionResult{
		Success:           hotFix.ValidationPassed,
		Escalated:         !hotFix.ValidationPassed,
		Diagnosis:         &diag,
		HotFix:            &hotFix,
		MemoryIDsRecalled: recalledIDs,
	}

	if !hotFix.ValidationPassed {
		result.Detail = "hot fix failed independent validation, working copy reverted"
		return result
	}

	result.Detail = "hot fix validated"

	if diag.Location == svtypes.BugFramework {
		result.FrameworkFilesChanged = []string{hotFix.FileModified}
	}

	if iv.Memory != nil {
		id := iv.Memory.Store(ctx, memory.FixRecord{
			ContainerTag: project.Name,
			Content:      diag.RootCause + "\n\n" + diag.RecommendedChange,
			Metadata: map[string]string{
				"error_category": string(failure.Category),
				"target_file":    hotFix.FileModified,
				"bug_location":   string(diag.Location),
			},
		})
		result.MemoryIDWritten = id
	}

	return result
}

// recall implements Phase A: a scoped search (this project's container tag,
// filtered to the failing category) plus an unscoped cross-project search
// above MemorySearchThreshold, combined into at most 5 records and rendered
// as a "prior fixes" prompt block. Any Memory failure yields an empty
// block, never an error — Memory is advisory per spec.md §4.5.
func (iv *Interventor) recall(ctx context.Context, project string, failure svtypes.FailureEntry) (string, []string) {
	if iv.Memory == nil {
		return "", nil
	}

	query := failure.Detail
	if len(query) > 200 {
		query = query[:200]
	}

	scoped := iv.Memory.Search(ctx, memory.SearchQuery{
		Query:        query,
		ContainerTag: project,
		Filters:      map[string]string{"error_category": string(failure.Category)},
		Limit:        5,
	})
	unscoped := iv.Memory.Search(ctx, memory.SearchQuery{
		Query:     query,
		Threshold: iv.Config.MemorySearchThreshold,
		Limit:     iv.Config.MemorySearchLimit,
	})

	combined := append(append([]memory.FixRecord{}, scoped...), unscoped...)
	if len(combined) > 5 {
		combined = combined[:5]
	}
	if len(combined) == 0 {
		return "", nil
	}

	var sb strings.Builder
	ids := make([]string, 0, len(combined))
	sb.WriteString("Prior fixes (non-authoritative context, may not apply here):\n")
	for _, r := range combined {
		sb.WriteString("- " + r.Content + "\n")
		ids = append(ids, r.ID)
	}
	return sb.String(), ids
}

// diagnose implements Phase B: spawn a read-only AI session, parse its
// structured result, and re-check the bug-location classification the
// prompt asked for against the rules the supervisor itself enforces.
func (iv *Interventor) diagnose(ctx context.Context, project registry.Project, failure svtypes.FailureEntry, priorFixes string) (svtypes.DiagnosticResult, error) {
	prompt := buildDiagnosisPrompt(project, failure, priorFixes)

	if !tokencost.FitsBudget(iv.Config.Model, prompt, iv.Config.DiagnosisMaxTurns, iv.Config.DiagnosisBudgetUSD) {
		return svtypes.DiagnosticResult{Location: svtypes.BugHumanRequired, RootCause: "estimated diagnosis prompt cost exceeds budget"}, errBudgetExceeded
	}

	result, err := iv.Driver.Run(ctx, aidriver.Spec{
		Prompt:        prompt,
		WorkingDir:    project.Path,
		ToolAllowList: []string{"file-read", "glob", "grep"},
		Model:         iv.Config.Model,
		BudgetUSD:     iv.Config.DiagnosisBudgetUSD,
		MaxTurns:      iv.Config.DiagnosisMaxTurns,
		Timeout:       iv.Config.Timeout,
	})
	if err != nil {
		return svtypes.DiagnosticResult{Location: svtypes.BugHumanRequired}, err
	}
	if !result.Succeeded() {
		return svtypes.DiagnosticResult{Location: svtypes.BugHumanRequired, CostUSD: result.CostUSD, AISessionID: result.SessionID},
			fmt.Errorf("interventor: diagnosis session ended %s", result.Subtype)
	}

	diag := parseDiagnosis(result)
	diag.CostUSD = result.CostUSD
	diag.AISessionID = result.SessionID

	diag.Location = iv.reclassify(diag, failure, project)
	return diag, nil
}

// parseDiagnosis extracts the diagnosis fields from the session's terminal
// structured_output payload using gjson, mirroring the teacher's tolerant
// extractJSON parsing without needing to locate a JSON substring first —
// the driver has already isolated the "result" event's payload.
func parseDiagnosis(result aidriver.Result) svtypes.DiagnosticResult {
	raw := result.StructuredOutput
	return svtypes.DiagnosticResult{
		Location:          svtypes.BugLocation(gjson.GetBytes(raw, "bug_location").String()),
		RootCause:         gjson.GetBytes(raw, "root_cause").String(),
		TargetFile:        gjson.GetBytes(raw, "target_file").String(),
		LineRangeStart:    int(gjson.GetBytes(raw, "line_range_start").Int()),
		LineRangeEnd:      int(gjson.GetBytes(raw, "line_range_end").Int()),
		RecommendedChange: gjson.GetBytes(raw, "recommended_change").String(),
		Confidence:         svtypes.Confidence(gjson.GetBytes(raw, "confidence").String()),
	}
}

// reclassify re-derives the bug location per spec.md §4.5 Phase B rules,
// re-checked by the supervisor regardless of what the AI session reported —
// the prompt-level classification is a hint, not a trusted verdict. The one
// reported value kept as-is is human_required: it is never turned into a
// fixable location.
func (iv *Interventor) reclassify(diag svtypes.DiagnosticResult, failure svtypes.FailureEntry, project registry.Project) svtypes.BugLocation {
	if diag.Location == svtypes.BugHumanRequired || credentialLike(diag.RootCause) {
		return svtypes.BugHumanRequired
	}
	if diag.TargetFile == "" {
		return svtypes.BugAmbiguous
	}
	if iv.Config.FrameworkSourceDir != "" && withinDir(iv.Config.FrameworkSourceDir, diag.TargetFile) {
		return svtypes.BugFramework
	}
	if iv.observedInMultipleProjects(failure.Category, failure.Phase, time.Now()) {
		return svtypes.BugFramework
	}
	if withinDir(project.Path, diag.TargetFile) {
		return svtypes.BugProject
	}
	return svtypes.BugAmbiguous
}

func withinDir(dir, path string) bool {
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func credentialLike(rootCause string) bool {
	lower := strings.ToLower(rootCause)
	for _, marker := range []string{"credential", "auth", "api key", "environment variable", "env var", "secret", "token expired"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// observedInMultipleProjects implements the cross-project framework-bug
// override: the same failure category at the same phase observed in at
// least two registered projects' state files within the last 24h.
func (iv *Interventor) observedInMultipleProjects(category svtypes.FailureCategory, phase int, now time.Time) bool {
	if iv.Registry == nil {
		return false
	}
	seen := 0
	for _, p := range iv.Registry.Projects {
		manifest, err := projectstate.ReadManifest(p.Path)
		if err != nil {
			continue
		}
		for _, f := range manifest.Failures {
			if f.Category == category && f.Phase == phase && now.Sub(f.Timestamp) <= 24*time.Hour {
				seen++
				break
			}
		}
		if seen >= 2 {
			return true
		}
	}
	return false
}

// estimateChangeLines approximates the fix's size from the diagnosis's
// reported line range, used by Phase C's "estimated lines <= 30" gate
// before a fix session is even spawned.
func estimateChangeLines(diag svtypes.DiagnosticResult) int {
	if diag.LineRangeEnd <= 0 || diag.LineRangeEnd < diag.LineRangeStart {
		return 0
	}
	return diag.LineRangeEnd - diag.LineRangeStart + 1
}

// shouldAttemptFix implements Phase C's fix-or-escalate gate.
func shouldAttemptFix(diag svtypes.DiagnosticResult, estimatedLines int, alreadyAttempted bool) bool {
	if diag.Location != svtypes.BugFramework && diag.Location != svtypes.BugProject && diag.Location != svtypes.BugAmbiguous {
		return false
	}
	if diag.TargetFile == "" || diag.RecommendedChange == "" {
		return false
	}
	if estimatedLines > 30 {
		return false
	}
	if alreadyAttempted {
		return false
	}
	return true
}

// fix implements Phase D: a write-capable AI session followed by the
// supervisor's own independent validation (file count, line count, and the
// fix session's self-reported validation run), reverting the working copy
// on any failure.
func (iv *Interventor) fix(ctx context.Context, project registry.Project, diag svtypes.DiagnosticResult) (svtypes.HotFixResult, error) {
	prompt := buildFixPrompt(diag)

	if !tokencost.FitsBudget(iv.Config.Model, prompt, iv.Config.FixMaxTurns, iv.Config.FixBudgetUSD) {
		return svtypes.HotFixResult{}, errBudgetExceeded
	}

	result, err := iv.Driver.Run(ctx, aidriver.Spec{
		Prompt:        prompt,
		WorkingDir:    project.Path,
		ToolAllowList: []string{"file-read", "glob", "grep", "file-edit", "file-write", "shell-execute"},
		Model:         iv.Config.Model,
		BudgetUSD:     iv.Config.FixBudgetUSD,
		MaxTurns:      iv.Config.FixMaxTurns,
		Timeout:       iv.Config.Timeout,
	})
	if err != nil {
		return svtypes.HotFixResult{}, err
	}
	if !result.Succeeded() {
		return svtypes.HotFixResult{CostUSD: result.CostUSD}, fmt.Errorf("interventor: fix session ended %s", result.Subtype)
	}

	repoRoot := project.Path
	if diag.Location == svtypes.BugFramework {
		repoRoot = iv.Config.FrameworkSourceDir
	}

	changed, err := gitutil.Diff(repoRoot)
	if err != nil {
		return svtypes.HotFixResult{CostUSD: result.CostUSD}, fmt.Errorf("interventor: diff after fix session: %w", err)
	}

	fileCount := gitutil.FileCount(changed)
	linesChanged := gitutil.TotalLinesChanged(changed)
	sessionValidated := gjson.GetBytes(result.StructuredOutput, "validation_passed").Bool()

	validationPassed := fileCount == 1 && linesChanged <= 30 && sessionValidated

	hotFix := svtypes.HotFixResult{
		LinesChanged:      linesChanged,
		ValidationOutput:  gjson.GetBytes(result.StructuredOutput, "validation_output").String(),
		CostUSD:           result.CostUSD,
		ValidationPassed:  validationPassed,
	}
	if fileCount == 1 {
		hotFix.FileModified = changed[0].Path
	}

	if !validationPassed {
		for _, f := range changed {
			if revertErr := gitutil.Revert(repoRoot, f.Path); revertErr != nil {
				log.Warnf("interventor: %s: revert %s failed: %v", project.Name, f.Path, revertErr)
			}
		}
		hotFix.RevertPerformed = true
		return hotFix, nil
	}

	hotFix.Success = true
	return hotFix, nil
}

func buildDiagnosisPrompt(project registry.Project, failure svtypes.FailureEntry, priorFixes string) string {
	var sb strings.Builder
	sb.WriteString("You are diagnosing a stalled development session for project \"" + project.Name + "\".\n\n")
	if priorFixes != "" {
		sb.WriteString(priorFixes + "\n")
	}
	fmt.Fprintf(&sb, "Pending failure:\n- command: %s\n- phase: %d\n- category: %s\n- detail: %s\n\n",
		failure.Command, failure.Phase, failure.Category, failure.Detail)
	sb.WriteString("Read the project-local state file (.agents/manifest.yaml) and any referenced progress or validation artifacts. Trace the most recent pending failure to a specific file and line.\n\n")
	sb.WriteString(`Respond with a JSON object containing:
{
  "bug_location": "one of: framework_bug, project_bug, human_required, ambiguous",
  "root_cause": "brief description of what went wrong",
  "target_file": "path to the file responsible",
  "line_range_start": 0,
  "line_range_end": 0,
  "recommended_change": "precise, testable description of the fix",
  "confidence": "one of: high, medium, low"
}

Only respond with the JSON object, no additional text.`)
	return sb.String()
}

func buildFixPrompt(diag svtypes.DiagnosticResult) string {
	var sb strings.Builder
	sb.WriteString("Apply the following diagnosed fix. Change only the named file. Do not exceed 30 lines of diff.\n\n")
	fmt.Fprintf(&sb, "Target file: %s\nRoot cause: %s\nRecommended change: %s\n\n",
		diag.TargetFile, diag.RootCause, diag.RecommendedChange)
	sb.WriteString("After making the change, run the project's type-check and unit-test commands to validate it.\n\n")
	sb.WriteString(`Respond with a JSON object containing:
{
  "validation_passed": true or false,
  "validation_output": "combined output of the type-check and test commands"
}

Only respond with the JSON object, no additional text.`)
	return sb.String()
}
