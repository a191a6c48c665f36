// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package auditlog

import (
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestInsertRecord_ExecutesExpectedStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := Entry{
		Timestamp:         time.Date(2026, 7, 29, 9, 0, 0, 0, time.UTC),
		Project:           "acme",
		StallType:         "execution_error",
		Action:            "diagnose",
		Outcome:           "hot fix validated",
		RootCause:         "nil pointer in validator",
		TargetFile:        "internal/validate/validate.go",
		CostUSD:           1.23,
		MemoryIDsRecalled: []string{"rec-1", "rec-2"},
		MemoryIDWritten:   "rec-3",
	}

	mock.ExpectExec("INSERT INTO intervention_log").
		WithArgs(
			e.Timestamp.Format(time.RFC3339), e.Project, e.StallType, e.Action, e.Outcome,
			e.RootCause, e.TargetFile, e.CostUSD, "rec-1,rec-2", e.MemoryIDWritten,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, insertRecord(db, e))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRecord_PropagatesDriverError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	e := Entry{Project: "acme", Action: "restart", Outcome: "restarted orchestrator"}

	mock.ExpectExec("INSERT INTO intervention_log").
		WillReturnError(errors.New("database is locked"))

	err = insertRecord(db, e)
	require.Error(t, err)
	require.Contains(t, err.Error(), "database is locked")
	require.NoError(t, mock.ExpectationsWereMet())
}
