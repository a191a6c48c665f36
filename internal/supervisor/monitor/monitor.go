// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package monitor is the top-level cycle scheduler: it owns the periodic
// tick, the pid file, and the sequential per-project dispatch of
// classification, planning, intervention, propagation, and logging.
// Grounded on the teacher's cmd/server/heartbeat.go signal-handling shape
// (signal.NotifyContext over SIGINT/SIGTERM) generalized from one HTTP
// server's lifecycle to a periodic batch-cycle daemon.
package monitor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/piv-supervisor/internal/auditlog"
	"github.com/traylinx/piv-supervisor/internal/config"
	"github.com/traylinx/piv-supervisor/internal/credfingerprint"
	"github.com/traylinx/piv-supervisor/internal/memory"
	"github.com/traylinx/piv-supervisor/internal/projectstate"
	"github.com/traylinx/piv-supervisor/internal/registry"
	"github.com/traylinx/piv-supervisor/internal/supervisor/classifier"
	"github.com/traylinx/piv-supervisor/internal/supervisor/interventor"
	"github.com/traylinx/piv-supervisor/internal/supervisor/planner"
	"github.com/traylinx/piv-supervisor/internal/supervisor/propagator"
	svtypes "github.com/traylinx/piv-supervisor/internal/supervisor/types"
	"github.com/traylinx/piv-supervisor/internal/telegram"
)

// Restarter spawns and kills orchestrator processes on the monitor's
// behalf. internal/supervisor/propagator declares its own preamble-less
// Restarter; restarterAdapter bridges this one to it.
type Restarter interface {
	// Restart kills project's live orchestrator pid (if any) and spawns a
	// fresh one. preamble requests the orchestrator be invoked with the
	// "inject autonomous preamble" argument (§4.2's restart_with_preamble).
	Restart(project registry.Project, preamble bool) (pid int, err error)
}

// PidAlive is a non-blocking os.signal(0)-style liveness probe, the
// default implementation of classifier.LivenessProbe.
func PidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

// Monitor owns one supervisor process's collaborators and drives cycles
// against them.
type Monitor struct {
	Config     config.Config
	Restarter  Restarter
	Interventor *interventor.Interventor
	AuditLog   *auditlog.Log
	Telegram   *telegram.Client
	Memory     *memory.Client
	Liveness   classifier.LivenessProbe
	ClassifierConfig classifier.Config

	// cfgMu guards Config and ClassifierConfig against a concurrent Reload
	// (triggered by config.WatchReload) racing the cycle goroutine's reads.
	cfgMu sync.RWMutex

	// telegramFingerprint / memoryFingerprint record a bcrypt hash of the
	// credential Reload last saw, so a later Reload can detect rotation
	// without ever keeping the plaintext secret around longer than needed.
	telegramFingerprint string
	memoryFingerprint   string

	counters  *planner.Counters
	attempted map[interventor.AttemptKey]bool

	// Metrics accumulates cycle activity for the optional /metrics HTTP
	// endpoint (internal/httpapi). New always sets it and the cycle code
	// assumes it is non-nil; callers that never wire an httpapi.Server pay
	// nothing beyond the atomic increments.
	Metrics *Metrics
}

// New constructs a Monitor. attempted starts empty every process lifetime,
// matching §9's "supervisor restart is a clean slate for backoff".
func New(cfg config.Config, restarter Restarter, iv *interventor.Interventor, auditLog *auditlog.Log, tg *telegram.Client, mem *memory.Client, liveness classifier.LivenessProbe, classifierCfg classifier.Config) *Monitor {
	if liveness == nil {
		liveness = PidAlive
	}
	telegramFP, err := credfingerprint.Fingerprint(cfg.TelegramBotToken)
	if err != nil {
		log.Warnf("monitor: fingerprint telegram credential: %v", err)
	}
	memoryFP, err := credfingerprint.Fingerprint(cfg.MemoryAPIKey)
	if err != nil {
		log.Warnf("monitor: fingerprint memory credential: %v", err)
	}
	return &Monitor{
		Config:              cfg,
		Restarter:           restarter,
		Interventor:         iv,
		AuditLog:            auditLog,
		Telegram:            tg,
		Memory:              mem,
		Liveness:            liveness,
		ClassifierConfig:    classifierCfg,
		telegramFingerprint: telegramFP,
		memoryFingerprint:   memoryFP,
		counters:            planner.NewCounters(),
		attempted:           make(map[interventor.AttemptKey]bool),
		Metrics:             NewMetrics(),
	}
}

// config returns a snapshot of the current Config, safe to call while
// Reload is concurrently updating it.
func (m *Monitor) config() config.Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.Config
}

// classifierConfig returns a snapshot of the current ClassifierConfig.
func (m *Monitor) classifierConfig() classifier.Config {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.ClassifierConfig
}

// Reload replaces the live Config, carrying cfg's HeartbeatStaleMS into
// ClassifierConfig so a `.env` edit picked up by config.WatchReload takes
// effect on the next cycle without restarting the supervisor process. The
// configured QuestionHeuristic (policy expression / Lua plugin chain) is
// left untouched — it is wired once at startup, not reloadable.
func (m *Monitor) Reload(cfg config.Config) {
	m.cfgMu.Lock()
	if credfingerprint.Rotated(m.telegramFingerprint, cfg.TelegramBotToken) {
		m.noteCredentialRotation("telegram_bot_token")
	}
	if credfingerprint.Rotated(m.memoryFingerprint, cfg.MemoryAPIKey) {
		m.noteCredentialRotation("memory_api_key")
	}
	if fp, err := credfingerprint.Fingerprint(cfg.TelegramBotToken); err == nil {
		m.telegramFingerprint = fp
	}
	if fp, err := credfingerprint.Fingerprint(cfg.MemoryAPIKey); err == nil {
		m.memoryFingerprint = fp
	}
	m.Config = cfg
	m.ClassifierConfig.HeartbeatStale = cfg.HeartbeatStale()
	m.cfgMu.Unlock()
}

// noteCredentialRotation records that a credential changed between two
// config.WatchReload-triggered reloads. It only ever writes a fingerprint
// comparison result to the Intervention Log, never the credential itself.
// Called with cfgMu held.
func (m *Monitor) noteCredentialRotation(credential string) {
	log.Infof("monitor: %s rotated via config reload", credential)
	m.appendLog(auditlog.Entry{
		Project: "_supervisor",
		Action:  "credential_rotated",
		Outcome: credential + " changed since the last config reload",
	})
}

// RunOnce executes exactly one full cycle: §4.2's per-cycle algorithm over
// every project with status == running, sequentially.
func (m *Monitor) RunOnce(ctx context.Context) svtypes.CycleResult {
	result := svtypes.CycleResult{StartedAt: time.Now().UTC(), ActionsTaken: map[string]svtypes.RecoveryActionType{}}
	m.Metrics.cyclesRun.Add(1)

	reg, err := registry.Read(m.config().RegistryPath)
	if err != nil {
		log.Errorf("monitor: registry read failed, aborting this cycle: %v", err)
		result.FinishedAt = time.Now().UTC()
		return result
	}

	// Refresh the Interventor's registry snapshot so Phase B's cross-project
	// framework-bug check (§4.5) sees projects registered since the
	// supervisor started, not just the set present at construction time.
	if m.Interventor != nil {
		m.Interventor.Registry = reg
	}

	for _, project := range reg.ListRunning() {
		select {
		case <-ctx.Done():
			result.FinishedAt = time.Now().UTC()
			return result
		default:
		}

		result.ProjectsEvaluated++
		m.Metrics.projectsEvaluated.Add(1)
		m.runProject(ctx, project, &result)
	}

	result.FinishedAt = time.Now().UTC()
	return result
}

func (m *Monitor) runProject(ctx context.Context, project registry.Project, result *svtypes.CycleResult) {
	manifest, err := projectstate.ReadManifest(project.Path)
	if err != nil {
		log.Warnf("monitor: %s: read manifest: %v", project.Name, err)
	}
	tail, tailExists := projectstate.ReadOutputTail(project.Path)

	pid := 0
	if project.OrchestratorPid != nil {
		pid = *project.OrchestratorPid
	}

	classification := classifier.Classify(classifier.Inputs{
		Project:          project,
		Now:              time.Now(),
		PendingFailures:  manifest.PendingFailures(),
		PidAlive:         m.Liveness(pid),
		OutputTail:       tail,
		OutputTailExists: tailExists,
	}, m.classifierConfig())

	if classification == nil {
		m.counters.ResetProject(project.Name)
		return
	}
	m.Metrics.recordStall(classification.StallType)

	attempts := m.counters.Get(project.Name, classification.StallType)
	action := planner.Plan(*classification, attempts, m.config().MaxRestartAttempts)
	result.ActionsTaken[project.Name] = action.Type

	switch action.Type {
	case svtypes.ActionRestart:
		m.counters.Increment(project.Name, classification.StallType)
		m.dispatchRestart(project, false, action, result)
	case svtypes.ActionRestartWithPreamble:
		m.counters.Increment(project.Name, classification.StallType)
		m.dispatchRestart(project, true, action, result)
	case svtypes.ActionDiagnose:
		m.dispatchDiagnose(ctx, project, *classification, result)
	case svtypes.ActionEscalate:
		m.dispatchEscalate(project, *classification, action.Detail, result)
	}
}

func (m *Monitor) dispatchRestart(project registry.Project, preamble bool, action svtypes.RecoveryAction, result *svtypes.CycleResult) {
	if preamble {
		m.Metrics.restartsPreamble.Add(1)
	} else {
		m.Metrics.restarts.Add(1)
	}
	entry := auditlog.Entry{Project: project.Name, StallType: string(action.StallType), Action: string(action.Type)}

	if m.Restarter == nil {
		entry.Outcome = "no restarter configured; skipped"
		m.appendLog(entry)
		return
	}

	pid, err := m.Restarter.Restart(project, preamble)
	if err != nil {
		entry.Outcome = "restart failed: " + err.Error()
		m.appendLog(entry)
		return
	}

	if err := registry.UpdateHeartbeat(m.config().RegistryPath, project.Name, project.CurrentPhase, registry.StatusRunning, &pid, ""); err != nil {
		log.Warnf("monitor: %s: update heartbeat after restart: %v", project.Name, err)
	}

	entry.Outcome = fmt.Sprintf("restarted orchestrator (pid=%d)", pid)
	m.appendLog(entry)
}

func (m *Monitor) dispatchDiagnose(ctx context.Context, project registry.Project, classification svtypes.StallClassification, result *svtypes.CycleResult) {
	m.Metrics.diagnoses.Add(1)
	if m.Interventor == nil || classification.PendingFailure == nil {
		m.dispatchEscalate(project, classification, "no interventor configured or no pending failure", result)
		return
	}

	ivCtx, cancel := context.WithTimeout(ctx, m.config().InterventionTimeout())
	defer cancel()

	iresult := m.Interventor.Intervene(ivCtx, project, classification, m.attempted)

	failure := *classification.PendingFailure
	key := interventor.AttemptKey{Project: project.Name, Category: failure.Category}
	if iresult.Diagnosis != nil {
		key.File = iresult.Diagnosis.TargetFile
	}
	if !iresult.Success {
		m.attempted[key] = true
	}

	entry := auditlog.Entry{
		Project:           project.Name,
		StallType:         string(classification.StallType),
		Action:            string(svtypes.ActionDiagnose),
		MemoryIDsRecalled: iresult.MemoryIDsRecalled,
		MemoryIDWritten:   iresult.MemoryIDWritten,
	}
	if iresult.Diagnosis != nil {
		entry.RootCause = iresult.Diagnosis.RootCause
		entry.TargetFile = iresult.Diagnosis.TargetFile
		entry.CostUSD += iresult.Diagnosis.CostUSD
	}
	if iresult.HotFix != nil {
		entry.CostUSD += iresult.HotFix.CostUSD
	}

	switch {
	case iresult.Success:
		m.Metrics.hotFixesApplied.Add(1)
		entry.Outcome = "hot fix validated: " + iresult.Detail
		if err := projectstate.ResolveFailure(project.Path, failure.Category, svtypes.ResolutionAutoFixed); err != nil {
			log.Warnf("monitor: %s: resolve failure auto_fixed: %v", project.Name, err)
		}
		cfg := m.config()
		if len(iresult.FrameworkFilesChanged) > 0 && cfg.FrameworkSourceDir != "" {
			m.Metrics.propagationsRun.Add(1)
			prop := propagator.New(mustReadRegistry(cfg.RegistryPath), cfg.RegistryPath, cfg.FrameworkSourceDir, restarterAdapter{m.Restarter})
			propResult := prop.Propagate(iresult.FrameworkFilesChanged, newFrameworkVersion(iresult.FrameworkFilesChanged))
			for _, p := range propResult.Projects {
				log.Infof("monitor: propagation to %s: %s (%s)", p.Project, p.Outcome, p.Detail)
			}
		}
	case iresult.HotFix != nil && iresult.HotFix.RevertPerformed:
		m.Metrics.hotFixesReverted.Add(1)
		entry.Outcome = "hot fix failed validation, reverted: " + iresult.Detail
		if err := projectstate.ResolveFailure(project.Path, failure.Category, svtypes.ResolutionRolledBack); err != nil {
			log.Warnf("monitor: %s: resolve failure rolled_back: %v", project.Name, err)
		}
		m.escalateTelegram(project, classification, entry.Outcome)
		result.Escalations++
		m.Metrics.escalations.Add(1)
	default:
		entry.Outcome = "escalated: " + iresult.Detail
		if err := projectstate.ResolveFailure(project.Path, failure.Category, svtypes.ResolutionEscalated); err != nil {
			log.Warnf("monitor: %s: resolve failure escalated: %v", project.Name, err)
		}
		m.escalateTelegram(project, classification, entry.Outcome)
		result.Escalations++
		m.Metrics.escalations.Add(1)
	}

	m.appendLog(entry)
}

func (m *Monitor) dispatchEscalate(project registry.Project, classification svtypes.StallClassification, detail string, result *svtypes.CycleResult) {
	if classification.PendingFailure != nil {
		if err := projectstate.ResolveFailure(project.Path, classification.PendingFailure.Category, svtypes.ResolutionEscalated); err != nil {
			log.Warnf("monitor: %s: resolve failure escalated: %v", project.Name, err)
		}
	}

	m.escalateTelegram(project, classification, detail)
	result.Escalations++
	m.Metrics.escalations.Add(1)

	m.appendLog(auditlog.Entry{
		Project:   project.Name,
		StallType: string(classification.StallType),
		Action:    string(svtypes.ActionEscalate),
		Outcome:   "escalated: " + detail,
	})
}

func (m *Monitor) escalateTelegram(project registry.Project, classification svtypes.StallClassification, detail string) {
	if m.Telegram == nil {
		return
	}
	text := telegram.FormatEscalation(project.Name, project.CurrentPhase, string(classification.StallType), detail, m.counters.Get(project.Name, classification.StallType))
	if err := m.Telegram.Send(context.Background(), text); err != nil {
		log.Errorf("monitor: %s: telegram escalation failed: %v", project.Name, err)
	}
}

func (m *Monitor) appendLog(e auditlog.Entry) {
	if m.AuditLog == nil {
		return
	}
	if err := m.AuditLog.Append(e); err != nil {
		log.Errorf("monitor: intervention log append failed: %v", err)
	}
}

func mustReadRegistry(path string) *registry.Registry {
	reg, err := registry.Read(path)
	if err != nil {
		log.Errorf("monitor: re-read registry for propagation: %v", err)
		return registry.New(path)
	}
	return reg
}

// newFrameworkVersion derives a new canonical version string from the set of
// changed framework files. A timestamp-based suffix is sufficient here: the
// Propagator's only contract is "differs from every stale project's current
// version", not any particular format.
func newFrameworkVersion(changedFiles []string) string {
	return "hotfix-" + strconv.FormatInt(time.Now().UTC().UnixNano(), 36)
}

type restarterAdapter struct {
	r Restarter
}

func (a restarterAdapter) Restart(project registry.Project) (int, error) {
	if a.r == nil {
		return 0, fmt.Errorf("monitor: no restarter configured for propagation")
	}
	return a.r.Restart(project, false)
}

// WritePidFile writes the current process's pid to path, used by Start on entry
// and removed on clean exit.
func WritePidFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0600)
}

// RemovePidFile removes the pid file, tolerating it already being gone.
func RemovePidFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Start runs RunOnce on a fixed interval until ctx is cancelled, writing a
// pid file on entry and removing it on clean exit. Per §4.2, if a cycle
// overruns the interval, the next cycle starts immediately after; cycles
// never overlap because the wait for the next one starts only once RunOnce
// returns.
func (m *Monitor) Start(ctx context.Context) error {
	if err := WritePidFile(m.config().PidFilePath); err != nil {
		return fmt.Errorf("monitor: write pid file: %w", err)
	}
	defer func() {
		if err := RemovePidFile(m.config().PidFilePath); err != nil {
			log.Warnf("monitor: remove pid file: %v", err)
		}
	}()

	interval := m.config().MonitorInterval()
	for {
		started := time.Now()
		m.RunOnce(ctx)

		wait := interval - time.Since(started)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
