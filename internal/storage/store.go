// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrClosed        = errors.New("store is closed")
	ErrInvalidRole   = errors.New("invalid turn role")
	ErrDatabaseError = errors.New("database error")
)

// =============================================================================
// TYPES
// =============================================================================

// RoleUser and RoleModel are the only roles a turn may carry. They
// match the generation API's wire format so history can be relayed
// without translation.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ConvKey identifies a conversation: a chat, optionally scoped further
// by a forum topic. ThreadID zero means the chat has no topic.
type ConvKey struct {
	ChatID   int64
	ThreadID int64
}

func (k ConvKey) String() string {
	if k.ThreadID == 0 {
		return fmt.Sprintf("chat:%d", k.ChatID)
	}
	return fmt.Sprintf("chat:%d/topic:%d", k.ChatID, k.ThreadID)
}

// Turn is one stored message in a conversation.
type Turn struct {
	Role    string
	Content string
}

// =============================================================================
// STORE
// =============================================================================

// DefaultHistoryLimit bounds how many turns History returns when the
// caller passes no explicit limit.
const DefaultHistoryLimit = 50

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id   INTEGER NOT NULL,
	thread_id INTEGER NOT NULL DEFAULT 0,
	role      TEXT NOT NULL CHECK(role IN ('user', 'model')),
	content   TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_chat_thread ON conversations (chat_id, thread_id);

CREATE TABLE IF NOT EXISTS models (
	chat_id   INTEGER NOT NULL,
	thread_id INTEGER NOT NULL DEFAULT 0,
	model     TEXT NOT NULL,
	PRIMARY KEY (chat_id, thread_id)
);
`

// Store is the SQLite-backed conversation store.
type Store struct {
	db     *sql.DB
	closed bool
}

// Open opens (creating if needed) the conversation database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database. Further operations return
// ErrClosed. Close is idempotent.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// =============================================================================
// HISTORY OPERATIONS
// =============================================================================

// AppendTurn records one turn for the given conversation key.
func (s *Store) AppendTurn(ctx context.Context, key ConvKey, role, content string) error {
	if s.closed {
		return ErrClosed
	}
	if role != RoleUser && role != RoleModel {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (chat_id, thread_id, role, content) VALUES (?, ?, ?, ?)",
		key.ChatID, key.ThreadID, role, content,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// History returns the most recent turns for a key in chronological
// order. A limit of zero or less falls back to DefaultHistoryLimit.
func (s *Store) History(ctx context.Context, key ConvKey, limit int) ([]Turn, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM (
			SELECT role, content, id
			FROM conversations
			WHERE chat_id = ? AND thread_id = ?
			ORDER BY id DESC
			LIMIT ?
		) latest ORDER BY id ASC`,
		key.ChatID, key.ThreadID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return turns, nil
}

// ClearHistory deletes all turns for a key and returns how many were
// removed.
func (s *Store) ClearHistory(ctx context.Context, key ConvKey) (int64, error) {
	if s.closed {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM conversations WHERE chat_id = ? AND thread_id = ?",
		key.ChatID, key.ThreadID,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return n, nil
}

// =============================================================================
// MODEL SELECTION
// =============================================================================

// Model returns the model selected for a key, if any.
func (s *Store) Model(ctx context.Context, key ConvKey) (string, bool, error) {
	if s.closed {
		return "", false, ErrClosed
	}
	var model string
	err := s.db.QueryRowContext(ctx,
		"SELECT model FROM models WHERE chat_id = ? AND thread_id = ?",
		key.ChatID, key.ThreadID,
	).Scan(&model)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return model, true, nil
}

// SetModel records the model selection for a key, replacing any
// previous choice.
func (s *Store) SetModel(ctx context.Context, key ConvKey, model string) error {
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO models (chat_id, thread_id, model) VALUES (?, ?, ?)
		ON CONFLICT(chat_id, thread_id) DO UPDATE SET model = excluded.model`,
		key.ChatID, key.ThreadID, model,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}
