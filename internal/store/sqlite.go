// ABOUTME: SQLite implementation of dealdesk persistence using modernc.org/sqlite
// ABOUTME: Opens the database, creates the schema, and owns the connection lifecycle

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

// SQLiteStore provides durable storage for threads, messages, chat events,
// summaries and the retry queue. It is an explicitly constructed handle:
// opened once at process start and closed at shutdown.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
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

	// Enable foreign keys so thread messages cascade-delete with their thread
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
		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			sender_id TEXT NOT NULL,
			creator_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			waiting_for TEXT NOT NULL DEFAULT 'creator',
			topic_summary TEXT NOT NULL,
			last_sender_message TEXT,
			last_creator_response TEXT,
			created_at DATETIME NOT NULL,
			last_activity_at DATETIME NOT NULL,

			CHECK (status IN ('open', 'resolved', 'expired')),
			CHECK (waiting_for IN ('creator', 'sender'))
		);

		-- At most one open thread per sender/creator pair. Concurrent
		-- creation races resolve to a single winner via this index.
		CREATE UNIQUE INDEX IF NOT EXISTS idx_threads_open_pair
			ON threads(sender_id, creator_id) WHERE status = 'open';

		CREATE INDEX IF NOT EXISTS idx_threads_status_activity
			ON threads(status, last_activity_at);

		CREATE INDEX IF NOT EXISTS idx_threads_creator_status
			ON threads(creator_id, status);

		CREATE TABLE IF NOT EXISTS thread_messages (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			author_type TEXT NOT NULL,
			message TEXT NOT NULL,
			delivered INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,

			CHECK (author_type IN ('sender', 'creator'))
		);

		CREATE INDEX IF NOT EXISTS idx_thread_messages_thread_delivered
			ON thread_messages(thread_id, delivered);

		CREATE INDEX IF NOT EXISTS idx_thread_messages_thread_created
			ON thread_messages(thread_id, created_at);

		CREATE TABLE IF NOT EXISTS chat_events (
			id TEXT PRIMARY KEY,
			pair_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			author_id TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			token_count INTEGER NOT NULL,
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,

			CHECK (role IN ('human', 'ai'))
		);

		CREATE INDEX IF NOT EXISTS idx_chat_events_key
			ON chat_events(pair_id, conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS summaries (
			pair_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			summary TEXT NOT NULL,
			high_facts TEXT NOT NULL DEFAULT '[]',
			medium_facts TEXT NOT NULL DEFAULT '[]',
			low_discarded INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL,

			PRIMARY KEY (pair_id, conversation_id)
		);

		CREATE TABLE IF NOT EXISTS retry_jobs (
			id TEXT PRIMARY KEY,
			pair_id TEXT NOT NULL,
			party_a TEXT NOT NULL,
			party_b TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			next_retry_at DATETIME NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_retry_jobs_next_retry
			ON retry_jobs(next_retry_at);

		CREATE TABLE IF NOT EXISTS retry_dead_letters (
			id TEXT PRIMARY KEY,
			pair_id TEXT NOT NULL,
			party_a TEXT NOT NULL,
			party_b TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			attempt_count INTEGER NOT NULL,
			last_error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			failed_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_retry_dead_letters_failed
			ON retry_dead_letters(failed_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}
