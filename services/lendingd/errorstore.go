package main

import (
	"context"
	"database/sql"
	"log/slog"

	_ "modernc.org/sqlite"

	"vaultlend/core/lending"
)

// ErrorStore persists engine error contexts to SQLite so the audit
// trail outlives the in-memory ring and daemon restarts. It satisfies
// the engine's error sink.
type ErrorStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewErrorStore opens (and migrates) the audit database at path.
func NewErrorStore(path string, logger *slog.Logger) (*ErrorStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	store := &ErrorStore{db: db, log: logger}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *ErrorStore) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS error_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            occurred_at INTEGER NOT NULL,
            principal TEXT,
            function TEXT NOT NULL,
            code TEXT NOT NULL,
            class TEXT NOT NULL,
            detail TEXT,
            recovery_attempted INTEGER NOT NULL DEFAULT 0,
            recovery_succeeded INTEGER NOT NULL DEFAULT 0
        );`,
		`CREATE INDEX IF NOT EXISTS idx_error_log_code ON error_log(code);`,
		`CREATE TABLE IF NOT EXISTS recovery_stats (
            code TEXT PRIMARY KEY,
            attempts INTEGER NOT NULL DEFAULT 0,
            successes INTEGER NOT NULL DEFAULT 0,
            last_attempt_at INTEGER NOT NULL DEFAULT 0
        );`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database handle.
func (s *ErrorStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordError appends the context to the audit log and, when a recovery
// ran, folds it into the per-code stats. Storage faults are logged and
// swallowed; a degraded audit store must never block the engine.
func (s *ErrorStore) RecordError(ctx lending.ErrorContext) {
	if s == nil || s.db == nil {
		return
	}
	const stmt = `INSERT INTO error_log(occurred_at, principal, function, code, class, detail, recovery_attempted, recovery_succeeded) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.Exec(stmt, ctx.Timestamp, ctx.Principal, ctx.Function, ctx.Code, ctx.Class, ctx.Detail, boolToInt(ctx.RecoveryAttempted), boolToInt(ctx.RecoverySucceeded)); err != nil {
		s.log.Warn("error audit insert failed", "error", err)
		return
	}
	if !ctx.RecoveryAttempted {
		return
	}
	const upsert = `INSERT INTO recovery_stats(code, attempts, successes, last_attempt_at) VALUES (?, 1, ?, ?)
        ON CONFLICT(code) DO UPDATE SET attempts = attempts + 1, successes = successes + excluded.successes, last_attempt_at = excluded.last_attempt_at`
	if _, err := s.db.Exec(upsert, ctx.Code, boolToInt(ctx.RecoverySucceeded), ctx.Timestamp); err != nil {
		s.log.Warn("recovery stats update failed", "error", err)
	}
}

// RecentErrors returns up to n audit rows, newest first.
func (s *ErrorStore) RecentErrors(ctx context.Context, n int) ([]lending.ErrorContext, error) {
	const query = `SELECT occurred_at, principal, function, code, class, detail, recovery_attempted, recovery_succeeded FROM error_log ORDER BY id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []lending.ErrorContext
	for rows.Next() {
		var entry lending.ErrorContext
		var attempted, succeeded int
		if err := rows.Scan(&entry.Timestamp, &entry.Principal, &entry.Function, &entry.Code, &entry.Class, &entry.Detail, &attempted, &succeeded); err != nil {
			return nil, err
		}
		entry.RecoveryAttempted = attempted == 1
		entry.RecoverySucceeded = succeeded == 1
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RecoveryStat is one per-code recovery aggregate.
type RecoveryStat struct {
	Code          string
	Attempts      uint64
	Successes     uint64
	LastAttemptAt uint64
}

// RecoveryStats returns the per-code recovery aggregates ordered by
// code.
func (s *ErrorStore) RecoveryStats(ctx context.Context) ([]RecoveryStat, error) {
	const query = `SELECT code, attempts, successes, last_attempt_at FROM recovery_stats ORDER BY code`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RecoveryStat
	for rows.Next() {
		var stat RecoveryStat
		if err := rows.Scan(&stat.Code, &stat.Attempts, &stat.Successes, &stat.LastAttemptAt); err != nil {
			return nil, err
		}
		out = append(out, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
