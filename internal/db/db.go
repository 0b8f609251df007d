// Package db provides SQLite database access for opsinbox.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB handle with migration and transaction helpers.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{DB: conn}, nil
}

// OpenInMemory opens a private in-memory database, used in tests.
func OpenInMemory() (*DB, error) {
	conn, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	// A single connection keeps the in-memory database alive.
	conn.SetMaxOpenConns(1)
	return &DB{DB: conn}, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS threads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		client_id INTEGER,
		participants_json TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_read_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL,
		thread_id INTEGER NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		direction TEXT NOT NULL CHECK (direction IN ('inbound', 'outbound')),
		text TEXT NOT NULL DEFAULT '',
		speech_text TEXT NOT NULL DEFAULT '',
		sender_handle TEXT NOT NULL DEFAULT '',
		sender_name TEXT NOT NULL DEFAULT '',
		reaction TEXT NOT NULL DEFAULT '',
		correlation_id TEXT NOT NULL DEFAULT '',
		team_member_id INTEGER,
		created_at TEXT NOT NULL,
		UNIQUE (thread_id, message_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_thread_created
		ON messages (thread_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS attachments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		url TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_attachments_message
		ON attachments (message_id)`,
	`CREATE TABLE IF NOT EXISTS thread_notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		thread_id INTEGER NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		source_text TEXT NOT NULL DEFAULT '',
		message_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_thread_notes_thread
		ON thread_notes (thread_id)`,
	`CREATE TABLE IF NOT EXISTS creators (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS team_members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL
	)`,
}

// MigrateUp applies all schema statements and returns how many ran.
func (db *DB) MigrateUp(ctx context.Context) (int, error) {
	applied := 0
	for _, stmt := range migrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return applied, fmt.Errorf("migration %d failed: %w", applied, err)
		}
		applied++
	}
	return applied, nil
}

// Transaction runs fn inside a transaction, rolling back on error.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("rollback after %v: %w", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}
