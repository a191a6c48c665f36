// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config holds the supervisor's runtime configuration: the
// PIV_* environment variables documented in the spec, loaded with
// sensible defaults and optionally overridden from a `.env` file in
// the state directory.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fully resolved supervisor configuration for one run.
// Every field has a spec-documented default; callers never need to
// special-case a zero value.
type Config struct {
	// MonitorIntervalMS is how often the Monitor Loop runs a full cycle.
	MonitorIntervalMS int64
	// HeartbeatStaleMS is the Classifier's staleness threshold.
	HeartbeatStaleMS int64
	// MaxRestartAttempts bounds session_hung/agent_waiting_for_input retries
	// before the Recovery Planner escalates.
	MaxRestartAttempts int

	// DiagnosisBudgetUSD / FixBudgetUSD cap AI session spend per phase.
	DiagnosisBudgetUSD float64
	FixBudgetUSD       float64
	// DiagnosisMaxTurns / FixMaxTurns cap AI session turns per phase.
	DiagnosisMaxTurns int
	FixMaxTurns       int
	// InterventionTimeoutMS bounds both AI session phases' wall-clock time.
	InterventionTimeoutMS int64

	// MemorySearchThreshold is the minimum similarity score kept from an
	// unscoped cross-project memory search.
	MemorySearchThreshold float64
	// MemorySearchLimit caps how many fix records a search returns.
	MemorySearchLimit int

	// TelegramBotToken / TelegramChatID enable the Telegram escalation
	// channel when both are non-empty. Unset disables it silently.
	TelegramBotToken string
	TelegramChatID   string

	// MemoryBaseURL / MemoryAPIKey enable the Memory client when the base
	// URL is non-empty. Unset disables it silently (best-effort only).
	MemoryBaseURL string
	MemoryAPIKey  string

	// RegistryPath, InterventionLogPath, InterventionDBPath, PidFilePath are
	// resolved from PIV_HOME (default ~/.piv) unless overridden directly.
	RegistryPath        string
	InterventionLogPath string
	InterventionDBPath  string
	PidFilePath         string

	// FrameworkSourceDir is the canonical dev-kit directory the Propagator
	// copies framework-level fixes from.
	FrameworkSourceDir string

	// Plugins configures the optional Lua classifier-override hook.
	Plugins PluginConfig

	// PolicyExpression is an optional expr-lang boolean expression
	// evaluated against classifier.Features to override question
	// detection before the Lua plugin or regex default are consulted.
	PolicyExpression string

	// AIDriverCommand is the external AI session binary the Interventor
	// shells out to for both diagnosis and fix sessions.
	AIDriverCommand string
	// AIModel names the model passed to every AI session.
	AIModel string

	// MetricsAddr, if non-empty, is the listen address for the local
	// observability HTTP API (/healthz, /metrics). Empty disables it.
	MetricsAddr string
}

// PluginConfig controls the optional Lua-scripted classifier override,
// adapted from the teacher's LUA plugin system to a single well-known hook
// point (question-detection) instead of a general plugin bus.
type PluginConfig struct {
	// Enabled toggles loading a Lua override for agent_waiting_for_input detection.
	Enabled bool
	// ScriptPath holds the raw PIV_CLASSIFIER_PLUGIN value. The plugin engine
	// does not read it: it loads each project's `.agents/classifier.lua`.
	ScriptPath string
}

func (c Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalMS) * time.Millisecond
}

func (c Config) HeartbeatStale() time.Duration {
	return time.Duration(c.HeartbeatStaleMS) * time.Millisecond
}

func (c Config) InterventionTimeout() time.Duration {
	return time.Duration(c.InterventionTimeoutMS) * time.Millisecond
}

// Default returns the spec's documented defaults before any environment
// override is applied.
func Default(home string) Config {
	return Config{
		MonitorIntervalMS:     900_000,
		HeartbeatStaleMS:      900_000,
		MaxRestartAttempts:    3,
		DiagnosisBudgetUSD:    0.50,
		FixBudgetUSD:          2.00,
		DiagnosisMaxTurns:     15,
		FixMaxTurns:           30,
		InterventionTimeoutMS: 300_000,
		MemorySearchThreshold: 0.4,
		MemorySearchLimit:     5,
		RegistryPath:          home + "/registry.yaml",
		InterventionLogPath:   home + "/improvement-log.md",
		InterventionDBPath:    home + "/improvement-log.db",
		PidFilePath:           home + "/monitor.pid",
		AIDriverCommand:       "claude",
		AIModel:               "claude-sonnet-4.5",
	}
}

// Load resolves a Config from PIV_HOME's `.env` file (if present, loaded
// with godotenv so operators can drop credentials there without exporting
// them into the shell) and then the process environment, which always
// wins over `.env`.
func Load(home string) (Config, error) {
	envFile := home + "/.env"
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, err
		}
	}

	cfg := Default(home)

	cfg.MonitorIntervalMS = envInt64("PIV_MONITOR_INTERVAL_MS", cfg.MonitorIntervalMS)
	cfg.HeartbeatStaleMS = envInt64("PIV_HEARTBEAT_STALE_MS", cfg.HeartbeatStaleMS)
	cfg.MaxRestartAttempts = int(envInt64("PIV_MAX_RESTART_ATTEMPTS", int64(cfg.MaxRestartAttempts)))
	cfg.DiagnosisBudgetUSD = envFloat("PIV_DIAGNOSIS_BUDGET_USD", cfg.DiagnosisBudgetUSD)
	cfg.FixBudgetUSD = envFloat("PIV_FIX_BUDGET_USD", cfg.FixBudgetUSD)
	cfg.DiagnosisMaxTurns = int(envInt64("PIV_DIAGNOSIS_MAX_TURNS", int64(cfg.DiagnosisMaxTurns)))
	cfg.FixMaxTurns = int(envInt64("PIV_FIX_MAX_TURNS", int64(cfg.FixMaxTurns)))
	cfg.InterventionTimeoutMS = envInt64("PIV_INTERVENTION_TIMEOUT_MS", cfg.InterventionTimeoutMS)
	cfg.MemorySearchThreshold = envFloat("PIV_MEMORY_SEARCH_THRESHOLD", cfg.MemorySearchThreshold)
	cfg.MemorySearchLimit = int(envInt64("PIV_MEMORY_SEARCH_LIMIT", int64(cfg.MemorySearchLimit)))

	cfg.TelegramBotToken = os.Getenv("PIV_TELEGRAM_BOT_TOKEN")
	cfg.TelegramChatID = os.Getenv("PIV_TELEGRAM_CHAT_ID")
	cfg.MemoryBaseURL = os.Getenv("PIV_MEMORY_BASE_URL")
	cfg.MemoryAPIKey = os.Getenv("PIV_MEMORY_API_KEY")
	cfg.FrameworkSourceDir = os.Getenv("PIV_FRAMEWORK_SOURCE_DIR")

	if v := os.Getenv("PIV_REGISTRY_PATH"); v != "" {
		cfg.RegistryPath = v
	}
	if v := os.Getenv("PIV_INTERVENTION_LOG_PATH"); v != "" {
		cfg.InterventionLogPath = v
	}
	if v := os.Getenv("PIV_INTERVENTION_DB_PATH"); v != "" {
		cfg.InterventionDBPath = v
	}
	if v := os.Getenv("PIV_PID_FILE_PATH"); v != "" {
		cfg.PidFilePath = v
	}

	cfg.Plugins.Enabled = os.Getenv("PIV_CLASSIFIER_PLUGIN") != ""
	cfg.Plugins.ScriptPath = os.Getenv("PIV_CLASSIFIER_PLUGIN")

	cfg.PolicyExpression = os.Getenv("PIV_POLICY_EXPRESSION")
	if v := os.Getenv("PIV_AI_DRIVER_COMMAND"); v != "" {
		cfg.AIDriverCommand = v
	}
	if v := os.Getenv("PIV_AI_MODEL"); v != "" {
		cfg.AIModel = v
	}

	cfg.MetricsAddr = os.Getenv("PIV_METRICS_ADDR")

	return cfg, nil
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
