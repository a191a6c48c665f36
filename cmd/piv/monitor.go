// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/traylinx/piv-supervisor/internal/aidriver"
	"github.com/traylinx/piv-supervisor/internal/auditlog"
	"github.com/traylinx/piv-supervisor/internal/classifierplugin"
	"github.com/traylinx/piv-supervisor/internal/config"
	"github.com/traylinx/piv-supervisor/internal/httpapi"
	"github.com/traylinx/piv-supervisor/internal/logging"
	"github.com/traylinx/piv-supervisor/internal/memory"
	"github.com/traylinx/piv-supervisor/internal/orchestrator"
	"github.com/traylinx/piv-supervisor/internal/policy"
	"github.com/traylinx/piv-supervisor/internal/registry"
	"github.com/traylinx/piv-supervisor/internal/supervisor/classifier"
	"github.com/traylinx/piv-supervisor/internal/supervisor/interventor"
	"github.com/traylinx/piv-supervisor/internal/supervisor/monitor"
	"github.com/traylinx/piv-supervisor/internal/telegram"
	"github.com/traylinx/piv-supervisor/internal/util"
)

// handleMonitorCommand implements `monitor` and `monitor --once` (spec.md
// §6 and §4.2): builds every collaborator from config.Load, then either runs
// the periodic loop until a termination signal or runs exactly one cycle.
func handleMonitorCommand(args []string) {
	flagSet := flag.NewFlagSet("monitor", flag.ExitOnError)
	once := flagSet.Bool("once", false, "Run exactly one cycle and exit")
	logToFile := flagSet.Bool("log-file", false, "Write logs to a rotating file under PIV_HOME/logs instead of stdout")
	if err := flagSet.Parse(args); err != nil {
		os.Exit(2)
	}

	home, err := util.NewHome()
	if err != nil {
		fatalf("piv monitor: %v", err)
	}
	if err := home.EnsureDir(home.RootPath()); err != nil {
		fatalf("piv monitor: %v", err)
	}

	if *logToFile {
		if err := logging.ConfigureLogOutput(filepath.Join(home.RootPath(), "logs"), true); err != nil {
			fatalf("piv monitor: %v", err)
		}
		defer logging.Close()
	}

	cfg, err := config.Load(home.RootPath())
	if err != nil {
		fatalf("piv monitor: load config: %v", err)
	}

	m, err := buildMonitor(cfg, home.RootPath())
	if err != nil {
		fatalf("piv monitor: %v", err)
	}

	if !*once {
		watcher, err := config.WatchReload(home.RootPath(), m.Reload)
		if err != nil {
			log.Warnf("piv monitor: config hot-reload disabled: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !*once && cfg.MetricsAddr != "" {
		api := httpapi.New(cfg.MetricsAddr, m, time.Now())
		go func() {
			if err := api.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("piv monitor: metrics server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := api.Shutdown(shutdownCtx); err != nil {
				log.Warnf("piv monitor: metrics server shutdown: %v", err)
			}
		}()
	}

	if *once {
		result := m.RunOnce(ctx)
		log.Infof("piv monitor --once: evaluated %d project(s), %d escalation(s)", result.ProjectsEvaluated, result.Escalations)
		if result.EscalationIssued() {
			os.Exit(3)
		}
		return
	}

	if err := m.Start(ctx); err != nil {
		fatalf("piv monitor: %v", err)
	}
}

// buildMonitor wires every collaborator the Monitor Loop needs from one
// resolved config.Config, per spec.md §2's data-flow diagram.
func buildMonitor(cfg config.Config, home string) (*monitor.Monitor, error) {
	reg, err := registry.Read(cfg.RegistryPath)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	auditLog, err := auditlog.Open(cfg.InterventionLogPath, cfg.InterventionDBPath)
	if err != nil {
		return nil, fmt.Errorf("open intervention log: %w", err)
	}

	tgClient, _ := telegram.New(cfg.TelegramBotToken, cfg.TelegramChatID)
	memClient, _ := memory.New(cfg.MemoryBaseURL, cfg.MemoryAPIKey)

	driver := aidriver.NewSubprocessDriver(cfg.AIDriverCommand, buildAIDriverArgs)

	iv := interventor.New(driver, memClient, reg, interventor.Config{
		DiagnosisBudgetUSD:    cfg.DiagnosisBudgetUSD,
		FixBudgetUSD:          cfg.FixBudgetUSD,
		DiagnosisMaxTurns:     cfg.DiagnosisMaxTurns,
		FixMaxTurns:           cfg.FixMaxTurns,
		Timeout:               cfg.InterventionTimeout(),
		Model:                 cfg.AIModel,
		FrameworkSourceDir:    cfg.FrameworkSourceDir,
		MemorySearchThreshold: cfg.MemorySearchThreshold,
		MemorySearchLimit:     cfg.MemorySearchLimit,
	})

	restarter := orchestrator.New(cfg.AIDriverCommand, filepath.Join(home, "logs", "orchestrators"))

	classifierCfg := classifier.DefaultConfig()
	classifierCfg.HeartbeatStale = cfg.HeartbeatStale()
	classifierCfg.Heuristic = buildQuestionHeuristic(cfg, reg)

	return monitor.New(cfg, restarter, iv, auditLog, tgClient, memClient, orchestrator.PidAlive, classifierCfg), nil
}

// buildQuestionHeuristic assembles the three-strategy chain spec.md §4.3's
// design notes describe: a configured expr-lang policy, then a per-project
// Lua plugin, then the built-in regex default (classifier.Chain falls back
// to DefaultHeuristic automatically when neither decides).
func buildQuestionHeuristic(cfg config.Config, reg *registry.Registry) classifier.QuestionHeuristic {
	var chain classifier.Chain

	if cfg.PolicyExpression != "" {
		eval, err := policy.NewEvaluator(cfg.PolicyExpression)
		if err != nil {
			log.Warnf("piv monitor: compile PIV_POLICY_EXPRESSION: %v", err)
		} else {
			chain = append(chain, eval)
		}
	}

	if cfg.Plugins.Enabled {
		engine := classifierplugin.NewEngine()
		for _, p := range reg.List() {
			if err := engine.LoadProject(p.Name, filepath.Join(p.Path, ".agents")); err != nil {
				log.Warnf("piv monitor: %s: load classifier plugin: %v", p.Name, err)
			}
		}
		chain = append(chain, engine)
	}

	if len(chain) == 0 {
		return nil
	}
	return chain
}

// buildAIDriverArgs translates an aidriver.Spec into flags for the
// configured AI session CLI, grounded on the same print/stream-json/
// allowed-tools flag surface the teacher's bridge-agent and doctor.go
// collaborators assume for a single-turn scripted session.
func buildAIDriverArgs(spec aidriver.Spec) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--model", spec.Model,
		"--max-turns", strconv.Itoa(spec.MaxTurns),
	}
	for _, tool := range spec.ToolAllowList {
		args = append(args, "--allowedTools", tool)
	}
	args = append(args, spec.Prompt)
	return args
}
