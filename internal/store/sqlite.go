// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/group/study-chat persistence with automatic schema creation

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL UNIQUE,
			scope_type TEXT NOT NULL,
			scope_id TEXT NOT NULL,
			participants_json TEXT NOT NULL,
			last_interaction DATETIME NOT NULL,
			created_at DATETIME NOT NULL,

			CHECK (scope_type IN ('group', 'study'))
		);

		CREATE INDEX IF NOT EXISTS idx_conversations_last_interaction
			ON conversations(last_interaction);

		CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role TEXT NOT NULL,
			parts_json TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),

			CHECK (role IN ('user', 'model'))
		);

		CREATE INDEX IF NOT EXISTS idx_turns_conversation
			ON turns(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL UNIQUE,
			profile_pic TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS groups (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			admin_id TEXT NOT NULL,
			image_url TEXT NOT NULL DEFAULT '',
			agent_id TEXT NOT NULL DEFAULT '',
			study_agent_id TEXT NOT NULL DEFAULT '',
			lesson_plan_json TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (admin_id) REFERENCES users(id)
		);

		CREATE TABLE IF NOT EXISTS group_members (
			group_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			PRIMARY KEY (group_id, user_id),
			FOREIGN KEY (group_id) REFERENCES groups(id),
			FOREIGN KEY (user_id) REFERENCES users(id)
		);

		CREATE INDEX IF NOT EXISTS idx_group_members_user
			ON group_members(user_id);

		CREATE TABLE IF NOT EXISTS group_messages (
			id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			text TEXT NOT NULL,
			image_ref TEXT NOT NULL DEFAULT '',
			is_assistant INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (group_id) REFERENCES groups(id)
		);

		CREATE INDEX IF NOT EXISTS idx_group_messages_group
			ON group_messages(group_id, created_at);

		CREATE TABLE IF NOT EXISTS study_chats (
			id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL,
			topic TEXT NOT NULL,
			ai_context TEXT NOT NULL DEFAULT '',
			quiz_json TEXT,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (group_id) REFERENCES groups(id),

			UNIQUE(group_id, topic)
		);

		CREATE TABLE IF NOT EXISTS study_messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			sender_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES study_chats(id),

			CHECK (role IN ('user', 'assistant', 'system'))
		);

		CREATE INDEX IF NOT EXISTS idx_study_messages_chat
			ON study_messages(chat_id, created_at);

		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			group_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			content_type TEXT NOT NULL,
			blob_ref TEXT NOT NULL,
			uploaded_by TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (group_id) REFERENCES groups(id)
		);

		CREATE INDEX IF NOT EXISTS idx_documents_group
			ON documents(group_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// timeFormat is the column format for all timestamps. Nanosecond precision
// keeps message and turn ordering stable when several writes land within the
// same second.
const timeFormat = "2006-01-02T15:04:05.999999999Z07:00"

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string itself
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
