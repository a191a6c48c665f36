// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package classifierplugin loads an optional per-project Lua script
// (".agents/classifier.lua") that can contribute a vote on whether a
// stalled session is waiting on a question, adapted from the teacher's
// plugin.LuaEngine: same sandboxed-state-pool idiom (SkipOpenLibs, only
// base/table/string/math reopened, dofile and loadfile removed), but
// scoped to a single-script single-hook plugin rather than a directory of
// request/response plugins.
package classifierplugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/traylinx/piv-supervisor/internal/supervisor/classifier"
)

const scriptFileName = "classifier.lua"

// Engine loads and runs per-project classify() overrides. A project with no
// classifier.lua in its .agents directory is simply not registered and
// LooksLikeQuestion never decides for it.
type Engine struct {
	pool    sync.Pool
	mu      sync.RWMutex
	scripts map[string]*lua.FunctionProto // project name -> compiled chunk
}

// NewEngine constructs an Engine with an empty script set.
func NewEngine() *Engine {
	e := &Engine{scripts: make(map[string]*lua.FunctionProto)}
	e.pool = sync.Pool{
		New: func() any {
			L := lua.NewState(lua.Options{SkipOpenLibs: true})
			lua.OpenBase(L)
			lua.OpenTable(L)
			lua.OpenString(L)
			lua.OpenMath(L)
			L.SetGlobal("dofile", lua.LNil)
			L.SetGlobal("loadfile", lua.LNil)
			return L
		},
	}
	return e
}

// LoadProject compiles agentsDir/classifier.lua for project, if present. A
// missing file is not an error: the project simply has no override.
func (e *Engine) LoadProject(project, agentsDir string) error {
	path := filepath.Join(agentsDir, scriptFileName)
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("classifierplugin: read %s: %w", path, err)
	}

	L := e.getState()
	defer e.putState(L)

	fn, err := L.LoadString(string(content))
	if err != nil {
		return fmt.Errorf("classifierplugin: compile %s: %w", path, err)
	}

	e.mu.Lock()
	e.scripts[project] = fn.Proto
	e.mu.Unlock()
	return nil
}

func (e *Engine) getState() *lua.LState {
	return e.pool.Get().(*lua.LState)
}

func (e *Engine) putState(L *lua.LState) {
	L.SetTop(0)
	e.pool.Put(L)
}

// LooksLikeQuestion implements classifier.QuestionHeuristic. It runs the
// project's classify(features) function, if loaded, and treats any Lua
// error or a returned nil as "no opinion" rather than failing the cycle.
func (e *Engine) LooksLikeQuestion(f classifier.Features) (isQuestion, decided bool) {
	e.mu.RLock()
	proto, ok := e.scripts[f.Project]
	e.mu.RUnlock()
	if !ok {
		return false, false
	}

	L := e.getState()
	defer e.putState(L)

	fn := L.NewFunctionFromProto(proto)
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		log.Warnf("classifierplugin: %s: loading chunk: %v", f.Project, err)
		return false, false
	}
	L.Pop(1) // discard the chunk's own return value, if any

	classifyFn := L.GetGlobal("classify")
	if classifyFn.Type() != lua.LTFunction {
		log.Debugf("classifierplugin: %s: classifier.lua does not define classify()", f.Project)
		return false, false
	}

	L.Push(classifyFn)
	L.Push(featuresToTable(L, f))
	if err := L.PCall(1, 1, nil); err != nil {
		log.Warnf("classifierplugin: %s: classify() error: %v", f.Project, err)
		return false, false
	}

	result := L.Get(-1)
	L.Pop(1)
	switch v := result.(type) {
	case lua.LBool:
		return bool(v), true
	default:
		return false, false
	}
}

func featuresToTable(L *lua.LState, f classifier.Features) *lua.LTable {
	tbl := L.NewTable()
	L.SetField(tbl, "project", lua.LString(f.Project))
	L.SetField(tbl, "heartbeat_age_ms", lua.LNumber(f.HeartbeatAgeMS))
	L.SetField(tbl, "pid_alive", lua.LBool(f.PidAlive))
	L.SetField(tbl, "failure_category", lua.LString(f.FailureCategory))
	L.SetField(tbl, "output_tail", lua.LString(f.OutputTail))
	return tbl
}
