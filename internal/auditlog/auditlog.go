// Copyright 2026 The switchAILocal Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package auditlog is the Intervention Log: an append-only human-readable
// text file plus a parallel structured sqlite record, grounded on the
// teacher's audit.Logger (JSON-lines-to-a-rotating-file shape). The text
// file is rotated with `gopkg.in/natefinch/lumberjack.v2`, exactly as the teacher's audit.Logger
// rotates its own file: rotation moves the current file to a numbered
// backup and starts a fresh one, it never rewrites bytes in place, so the
// invariant #7 byte-length check is tracked as a monotonic in-process
// counter of total bytes ever appended (the log's logical length) rather
// than the physical active file's size, which is allowed to reset across a
// rotation boundary.
package auditlog

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	_ "github.com/mattn/go-sqlite3"
)

// Entry is one cycle-action's record, written to both the text log and the
// structured sidecar.
type Entry struct {
	Timestamp         time.Time
	Project           string
	StallType         string
	Action            string
	Outcome           string
	RootCause         string
	TargetFile        string
	CostUSD           float64
	MemoryIDsRecalled []string
	MemoryIDWritten   string
}

// Log owns the text file (opened O_APPEND) and the structured sqlite
// sidecar. Both are written by a single process (the supervisor), so no
// cross-process locking is needed here — only an in-process mutex guarding
// the two writes against each other.
type Log struct {
	mu      sync.Mutex
	textF   *lumberjack.Logger
	db      *sql.DB
	textLen int64
}

// textLogMaxSizeMB is generous enough that a project's improvement log
// rotates only after genuinely heavy intervention activity, not mid-review.
const textLogMaxSizeMB = 64

// Open opens (creating if absent) the text log at textPath and the sqlite
// sidecar at dbPath, creating the sidecar's table if it does not exist.
func Open(textPath, dbPath string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(textPath), 0700); err != nil {
		return nil, fmt.Errorf("auditlog: create dir for %s: %w", textPath, err)
	}

	lj := &lumberjack.Logger{
		Filename: textPath,
		MaxSize:  textLogMaxSizeMB,
		Compress: false,
	}

	var existing int64
	if info, err := os.Stat(textPath); err == nil {
		existing = info.Size()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open sqlite %s: %w", dbPath, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditlog: create schema: %w", err)
	}

	return &Log{textF: lj, db: db, textLen: existing}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS intervention_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	project TEXT NOT NULL,
	stall_type TEXT NOT NULL,
	action TEXT NOT NULL,
	outcome TEXT NOT NULL,
	root_cause TEXT,
	target_file TEXT,
	cost_usd REAL,
	memory_ids_recalled TEXT,
	memory_id_written TEXT
);
`

// Append writes one entry to both the text log and the structured sidecar.
// Per the spec this never fails the cycle that called it in a way that
// would lose the cycle's own outcome: callers log but do not abort a
// recovery dispatch solely because the audit write failed.
func (l *Log) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	line := formatLine(e)
	n, textErr := l.textF.Write([]byte(line))
	l.textLen += int64(n)

	if err := insertRecord(l.db, e); err != nil {
		return fmt.Errorf("auditlog: insert structured record: %w", err)
	}
	if textErr != nil {
		return fmt.Errorf("auditlog: append text: %w", textErr)
	}
	return nil
}

const insertSQL = `INSERT INTO intervention_log
	(timestamp, project, stall_type, action, outcome, root_cause, target_file, cost_usd, memory_ids_recalled, memory_id_written)
 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// insertRecord writes one Entry to the structured sidecar. Split out from
// Append so it can be exercised directly against a github.com/DATA-DOG/go-sqlmock
// driver in tests, without needing a real sqlite file to assert the
// statement shape and its error-propagation path.
func insertRecord(db *sql.DB, e Entry) error {
	_, err := db.Exec(
		insertSQL,
		e.Timestamp.Format(time.RFC3339), e.Project, e.StallType, e.Action, e.Outcome,
		e.RootCause, e.TargetFile, e.CostUSD, joinIDs(e.MemoryIDsRecalled), e.MemoryIDWritten,
	)
	return err
}

func formatLine(e Entry) string {
	line := fmt.Sprintf("## %s — %s\n", e.Timestamp.Format(time.RFC3339), e.Project)
	line += fmt.Sprintf("- stall type: %s\n- action: %s\n- outcome: %s\n", e.StallType, e.Action, e.Outcome)
	if e.RootCause != "" {
		line += fmt.Sprintf("- root cause: %s\n", e.RootCause)
	}
	if e.TargetFile != "" {
		line += fmt.Sprintf("- target file: %s\n", e.TargetFile)
	}
	if e.CostUSD != 0 {
		line += fmt.Sprintf("- cost: $%.4f\n", e.CostUSD)
	}
	if len(e.MemoryIDsRecalled) > 0 {
		line += fmt.Sprintf("- memory ids recalled: %s\n", joinIDs(e.MemoryIDsRecalled))
	}
	if e.MemoryIDWritten != "" {
		line += fmt.Sprintf("- memory id written: %s\n", e.MemoryIDWritten)
	}
	return line + "\n"
}

func joinIDs(ids []string) string {
	out := ""
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += id
	}
	return out
}

// TextLen returns the total bytes appended to the text log across this
// Log's lifetime, used by tests asserting invariant #7 (append-only: length
// never decreases) — it is the log's logical length, not the active
// rotated file's physical size.
func (l *Log) TextLen() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.textLen
}

// Close releases the text file handle and the sqlite connection.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	dbErr := l.db.Close()
	fErr := l.textF.Close()
	if dbErr != nil {
		return dbErr
	}
	return fErr
}
