// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/piv-supervisor/internal/supervisor/classifier"
)

func TestEvaluator_EmptyExpressionNeverDecides(t *testing.T) {
	e, err := NewEvaluator("")
	require.NoError(t, err)

	_, decided := e.LooksLikeQuestion(classifier.Features{OutputTail: "ready?"})
	assert.False(t, decided)
}

func TestEvaluator_EvaluatesFeatures(t *testing.T) {
	e, err := NewEvaluator(`FailureCategory == "" && PidAlive && HeartbeatAgeMS > 1000`)
	require.NoError(t, err)

	isQuestion, decided := e.LooksLikeQuestion(classifier.Features{
		PidAlive:       true,
		HeartbeatAgeMS: 2000,
	})
	assert.True(t, decided)
	assert.True(t, isQuestion)

	isQuestion, decided = e.LooksLikeQuestion(classifier.Features{
		PidAlive:        true,
		HeartbeatAgeMS:  2000,
		FailureCategory: "project_bug",
	})
	assert.True(t, decided)
	assert.False(t, isQuestion)
}

func TestNewEvaluator_InvalidExpressionErrors(t *testing.T) {
	_, err := NewEvaluator("this is not valid expr syntax (((")
	assert.Error(t, err)
}

func TestNewEvaluator_NonBoolExpressionFailsToCompile(t *testing.T) {
	// expr.AsBool() at compile time rejects this, so compilation itself fails.
	_, err := NewEvaluator(`OutputTail`)
	assert.Error(t, err)
}
