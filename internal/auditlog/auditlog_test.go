// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package auditlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppend_TextLengthNeverDecreases(t *testing.T) {
	dir := t.TempDir()
	textPath := filepath.Join(dir, "improvement-log.md")
	dbPath := filepath.Join(dir, "improvement-log.db")

	log, err := Open(textPath, dbPath)
	require.NoError(t, err)
	defer log.Close()

	var lastLen int64
	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(Entry{
			Project: "acme",
			Action:  "restart",
			Outcome: "restarted orchestrator",
		}))
		newLen := log.TextLen()
		require.GreaterOrEqual(t, newLen, lastLen)
		lastLen = newLen
	}

	data, err := os.ReadFile(textPath)
	require.NoError(t, err)
	require.EqualValues(t, lastLen, len(data))
}

func TestAppend_ReopenPreservesPriorBytes(t *testing.T) {
	dir := t.TempDir()
	textPath := filepath.Join(dir, "improvement-log.md")
	dbPath := filepath.Join(dir, "improvement-log.db")

	log1, err := Open(textPath, dbPath)
	require.NoError(t, err)
	require.NoError(t, log1.Append(Entry{Project: "acme", Action: "restart", Outcome: "ok"}))
	require.NoError(t, log1.Close())

	before, err := os.ReadFile(textPath)
	require.NoError(t, err)

	log2, err := Open(textPath, dbPath)
	require.NoError(t, err)
	defer log2.Close()
	require.NoError(t, log2.Append(Entry{Project: "beta", Action: "escalate", Outcome: "escalated"}))

	after, err := os.ReadFile(textPath)
	require.NoError(t, err)
	require.Equal(t, string(before), string(after[:len(before)]))
}
