// Package store persists continuity sessions and run traces in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"warden-ai/internal/domain"
)

// SQLiteStore implements domain.SessionStore and domain.RunRecorder.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database at dbPath and runs the schema
// migration.
func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	// WAL mode for better concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS continuity_sessions (
			group_key  TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS run_traces (
			run_id            TEXT PRIMARY KEY,
			group_key         TEXT NOT NULL,
			channel_id        TEXT NOT NULL DEFAULT '',
			user_id           TEXT NOT NULL DEFAULT '',
			is_main           INTEGER NOT NULL DEFAULT 0,
			is_scheduled      INTEGER NOT NULL DEFAULT 0,
			status            TEXT NOT NULL,
			class             TEXT NOT NULL,
			error             TEXT NOT NULL DEFAULT '',
			model             TEXT NOT NULL DEFAULT '',
			tokens_prompt     INTEGER NOT NULL DEFAULT 0,
			tokens_completion INTEGER NOT NULL DEFAULT 0,
			latency_ms        INTEGER NOT NULL DEFAULT 0,
			started_at        TEXT NOT NULL,
			finished_at       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_run_traces_group ON run_traces(group_key, started_at)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveContinuity implements domain.SessionStore.
func (s *SQLiteStore) SaveContinuity(ctx context.Context, groupKey, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO continuity_sessions (group_key, session_id, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(group_key) DO UPDATE SET session_id = excluded.session_id, updated_at = excluded.updated_at`,
		groupKey, sessionID, time.Now().UTC().Format(time.RFC3339Nano),
	)
	return domain.WrapOp("store: save continuity", err)
}

// Continuity implements domain.SessionStore.
func (s *SQLiteStore) Continuity(ctx context.Context, groupKey string) (string, error) {
	var sessionID string
	err := s.db.QueryRowContext(ctx,
		"SELECT session_id FROM continuity_sessions WHERE group_key = ?", groupKey,
	).Scan(&sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.NewSubSystemError("store", "Store.Continuity", domain.ErrNotFound, groupKey)
	}
	if err != nil {
		return "", domain.WrapOp("store: load continuity", err)
	}
	return sessionID, nil
}

// Finalize implements domain.RunRecorder: one row per run attempt.
func (s *SQLiteStore) Finalize(ctx context.Context, rt domain.RunTrace) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO run_traces (
			run_id, group_key, channel_id, user_id, is_main, is_scheduled,
			status, class, error, model, tokens_prompt, tokens_completion,
			latency_ms, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rt.RunID, rt.GroupKey, rt.ChannelID, rt.UserID,
		boolToInt(rt.IsMain), boolToInt(rt.IsScheduled),
		string(rt.Status), rt.Class, rt.Error, rt.Model,
		rt.TokensPrompt, rt.TokensCompletion, rt.LatencyMs,
		rt.StartedAt.UTC().Format(time.RFC3339Nano),
		rt.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	return domain.WrapOp("store: finalize run", err)
}

// TraceCount returns the number of recorded run traces, optionally scoped
// to a group. Intended for tests and diagnostics.
func (s *SQLiteStore) TraceCount(ctx context.Context, groupKey string) (int, error) {
	var n int
	var err error
	if groupKey == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM run_traces").Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM run_traces WHERE group_key = ?", groupKey).Scan(&n)
	}
	return n, domain.WrapOp("store: trace count", err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
