// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package policy evaluates a user-configured expr-lang expression against
// classifier features to override the built-in question-detection rule,
// adapted from the teacher's steering.ConditionEvaluator (which compiles
// and caches expr-lang programs against a routing context struct). Here the
// "routing context" is narrowed to the supervisor's classifier.Features.
package policy

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/traylinx/piv-supervisor/internal/supervisor/classifier"
)

// Evaluator compiles and caches a single expr-lang program, following the
// teacher's per-condition program cache but scoped to one configured
// expression rather than many per-rule conditions.
type Evaluator struct {
	mu         sync.Mutex
	expression string
	program    *vm.Program
	compileErr error
}

// NewEvaluator compiles expression against classifier.Features immediately
// so a bad expression surfaces at config-load time rather than mid-cycle.
// An empty expression produces an Evaluator that never decides.
func NewEvaluator(expression string) (*Evaluator, error) {
	e := &Evaluator{expression: expression}
	if expression == "" {
		return e, nil
	}
	program, err := expr.Compile(expression, expr.Env(classifier.Features{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("policy: compile %q: %w", expression, err)
	}
	e.program = program
	return e, nil
}

// LooksLikeQuestion implements classifier.QuestionHeuristic. It never
// decides when no expression was configured or the expression errors at
// runtime, letting the chain fall through to the next strategy.
func (e *Evaluator) LooksLikeQuestion(f classifier.Features) (isQuestion, decided bool) {
	e.mu.Lock()
	program := e.program
	e.mu.Unlock()

	if program == nil {
		return false, false
	}

	output, err := expr.Run(program, f)
	if err != nil {
		return false, false
	}
	result, ok := output.(bool)
	if !ok {
		return false, false
	}
	return result, true
}
