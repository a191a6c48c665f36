// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package classifierplugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traylinx/piv-supervisor/internal/supervisor/classifier"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, scriptFileName), []byte(body), 0644))
	return dir
}

func TestEngine_MissingScriptNeverDecides(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.LoadProject("demo", t.TempDir()))

	_, decided := e.LooksLikeQuestion(classifier.Features{Project: "demo"})
	assert.False(t, decided)
}

func TestEngine_ClassifyReturnsTrue(t *testing.T) {
	dir := writeScript(t, `function classify(f)
  return f.output_tail == "proceed?"
end`)
	e := NewEngine()
	require.NoError(t, e.LoadProject("demo", dir))

	isQuestion, decided := e.LooksLikeQuestion(classifier.Features{Project: "demo", OutputTail: "proceed?"})
	assert.True(t, decided)
	assert.True(t, isQuestion)

	isQuestion, decided = e.LooksLikeQuestion(classifier.Features{Project: "demo", OutputTail: "nope"})
	assert.True(t, decided)
	assert.False(t, isQuestion)
}

func TestEngine_NoClassifyFunctionNeverDecides(t *testing.T) {
	dir := writeScript(t, `local x = 1`)
	e := NewEngine()
	require.NoError(t, e.LoadProject("demo", dir))

	_, decided := e.LooksLikeQuestion(classifier.Features{Project: "demo"})
	assert.False(t, decided)
}

func TestEngine_RuntimeErrorNeverDecides(t *testing.T) {
	dir := writeScript(t, `function classify(f)
  error("boom")
end`)
	e := NewEngine()
	require.NoError(t, e.LoadProject("demo", dir))

	_, decided := e.LooksLikeQuestion(classifier.Features{Project: "demo"})
	assert.False(t, decided)
}

func TestEngine_UnknownProjectNeverDecides(t *testing.T) {
	e := NewEngine()
	_, decided := e.LooksLikeQuestion(classifier.Features{Project: "other"})
	assert.False(t, decided)
}
