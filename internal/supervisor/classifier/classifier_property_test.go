// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package classifier

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/traylinx/piv-supervisor/internal/registry"
)

// inputsGen draws a classifier.Inputs with a heartbeat age in [0, 2000s] so
// both sides of the staleness threshold get exercised, and a handful of
// fixed output tails so both question-like and non-question-like text are
// covered.
func inputsGen(now time.Time) gopter.Gen {
	tails := []string{
		"",
		"done.",
		"Should I proceed with the migration?",
		"Waiting for confirmation (y/n)",
		"build succeeded\nall tests passed",
	}

	return gopter.CombineGens(
		gen.IntRange(0, 2000),
		gen.Bool(),
		gen.OneConstOf(tails[0], tails[1], tails[2], tails[3], tails[4]),
		gen.Bool(),
	).Map(func(vs []interface{}) Inputs {
		ageSeconds := vs[0].(int)
		pidAlive := vs[1].(bool)
		tail := vs[2].(string)
		tailExists := vs[3].(bool)

		return Inputs{
			Project: registry.Project{
				Name:      "acme",
				Heartbeat: now.Add(-time.Duration(ageSeconds) * time.Second),
			},
			Now:              now,
			PidAlive:         pidAlive,
			OutputTail:       tail,
			OutputTailExists: tailExists,
		}
	})
}

// TestClassify_IsPure checks spec.md §8 property #2: calling Classify twice
// with the same Inputs and Config always produces the same verdict.
func TestClassify_IsPure(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	cfg := DefaultConfig()

	properties.Property("Classify is deterministic over identical inputs", prop.ForAll(
		func(in Inputs) bool {
			first := Classify(in, cfg)
			second := Classify(in, cfg)

			if (first == nil) != (second == nil) {
				return false
			}
			if first == nil {
				return true
			}
			return *first == *second
		},
		inputsGen(now),
	))

	properties.TestingRun(t)
}
