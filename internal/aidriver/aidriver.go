// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package aidriver defines the supervisor's collaborator interface onto the
// external AI session driver (§1 and §6: deliberately out of scope, the
// supervisor only supplies a prompt, a budget, a turn cap, a tool
// allow-list, and a working directory, then parses a structured terminal
// result). A Driver is how the Interventor runs both its diagnosis and fix
// sessions; the default implementation shells out to a configured CLI and
// streams newline-delimited JSON events, grounded on the teacher's
// doctor.go callAIModel request/response shape generalized from one HTTP
// round trip to a long-lived subprocess conversation.
package aidriver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// ResultSubtype is the closed set of terminal outcomes a session can end
// with. The supervisor never retries on budget/turn exhaustion — per the
// spec those are terminal for the cycle.
type ResultSubtype string

const (
	SubtypeSuccess             ResultSubtype = "success"
	SubtypeErrorMaxTurns       ResultSubtype = "error_max_turns"
	SubtypeErrorDuringExecution ResultSubtype = "error_during_execution"
	SubtypeErrorMaxBudgetUSD   ResultSubtype = "error_max_budget_usd"
)

// Spec describes one AI session the supervisor wants run.
type Spec struct {
	Prompt        string
	WorkingDir    string
	ToolAllowList []string
	Model         string
	BudgetUSD     float64
	MaxTurns      int
	Timeout       time.Duration
}

// Result is the terminal "result" event the supervisor waits for.
type Result struct {
	SessionID        string
	Subtype          ResultSubtype
	StructuredOutput json.RawMessage
	CostUSD          float64
	Stderr           string
}

// Succeeded reports whether the session reached subtype == success.
func (r Result) Succeeded() bool {
	return r.Subtype == SubtypeSuccess
}

// Driver spawns one AI session per call and returns its terminal result.
// Only one Driver session is ever in flight at a time (§5: "Only one AI
// session is active at a time") — Driver implementations do not need to be
// safe for concurrent Run calls racing each other, though they must honor
// ctx cancellation promptly since the monitor's shutdown path relies on it.
type Driver interface {
	Run(ctx context.Context, spec Spec) (Result, error)
}

// ErrProcessCrashed wraps a non-zero/abnormal subprocess exit so callers can
// distinguish "the driver process itself died" from a well-formed
// error_during_execution result.
var ErrProcessCrashed = errors.New("aidriver: child process crashed")

// SubprocessDriver runs the AI session driver as an external CLI, configured
// once via NewSubprocessDriver, and parses newline-delimited JSON events
// from its stdout looking for a terminal record with `"type":"result"`.
type SubprocessDriver struct {
	// Command is the binary invoked for every session, e.g. the path to a
	// vendor-provided single-session CLI. Args are appended per-call with
	// the prompt, tool allow-list, model, budget, and turn cap encoded as
	// flags; the exact flag surface is collaborator-specific and is
	// supplied by the caller as a template function to avoid hardcoding a
	// single vendor's CLI contract into this package.
	Command string
	BuildArgs func(spec Spec) []string
}

// NewSubprocessDriver returns a Driver that shells out to command, using
// buildArgs to translate a Spec into CLI flags for that particular AI
// session binary.
func NewSubprocessDriver(command string, buildArgs func(spec Spec) []string) *SubprocessDriver {
	return &SubprocessDriver{Command: command, BuildArgs: buildArgs}
}

// Run spawns the configured command, streams its stdout looking for the
// terminal result event, and enforces spec.Timeout as a hard wall-clock
// bound via ctx.
func (d *SubprocessDriver) Run(ctx context.Context, spec Spec) (Result, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{}
	if d.BuildArgs != nil {
		args = d.BuildArgs(spec)
	}

	cmd := exec.CommandContext(ctx, d.Command, args...)
	cmd.Dir = spec.WorkingDir
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("aidriver: stdout pipe: %w", err)
	}
	var stderrBuf stderrCapture
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("aidriver: start: %w", err)
	}

	var result Result
	var resultFound bool

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if !gjson.ValidBytes(line) {
			continue
		}
		if gjson.GetBytes(line, "type").String() != "result" {
			continue
		}
		result = Result{
			SessionID:        gjson.GetBytes(line, "session_id").String(),
			Subtype:          ResultSubtype(gjson.GetBytes(line, "subtype").String()),
			StructuredOutput: json.RawMessage(gjson.GetBytes(line, "structured_output").Raw),
			CostUSD:          gjson.GetBytes(line, "cost_usd").Float(),
		}
		resultFound = true
	}

	waitErr := cmd.Wait()
	result.Stderr = stderrBuf.String()

	if ctx.Err() == context.DeadlineExceeded {
		return result, fmt.Errorf("aidriver: session exceeded timeout %s: %w", timeout, ctx.Err())
	}

	if waitErr != nil && !resultFound {
		log.Warnf("aidriver: process exited with error and no result event: %v", waitErr)
		return result, fmt.Errorf("%w: %v (stderr: %s)", ErrProcessCrashed, waitErr, result.Stderr)
	}

	if !resultFound {
		return result, errors.New("aidriver: process exited without a terminal result event")
	}

	return result, nil
}

// stderrCapture is an io.Writer collecting a subprocess's stderr for
// inclusion in a crash error, per §7 "AI driver child process crashed:
// escalate, including the child's stderr in the log."
type stderrCapture struct {
	buf []byte
}

func (s *stderrCapture) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *stderrCapture) String() string {
	return string(s.buf)
}
