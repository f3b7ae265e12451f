// ABOUTME: Negotiation thread persistence: creation, turn-taking updates, expiry
// ABOUTME: Thread create and add-message are single transactions spanning thread and message rows

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// timeFormat is a fixed-width RFC3339 variant with nanoseconds. Fixed width
// keeps lexicographic order equal to chronological order for UTC values,
// which message FIFO queries depend on.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

const threadColumns = `id, sender_id, creator_id, conversation_id, status, waiting_for,
	       topic_summary, last_sender_message, last_creator_response,
	       created_at, last_activity_at`

// CreateThread atomically inserts a thread and its first message as one
// transaction. The whole operation is all-or-nothing. Returns
// ErrDuplicateThread when an open thread for the pair already exists.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *Thread, initial *ThreadMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO threads (id, sender_id, creator_id, conversation_id, status, waiting_for,
			topic_summary, last_sender_message, created_at, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		thread.ID,
		thread.SenderID,
		thread.CreatorID,
		thread.ConversationID,
		string(thread.Status),
		string(thread.WaitingFor),
		thread.TopicSummary,
		thread.LastSenderMessage,
		formatTime(thread.CreatedAt),
		formatTime(thread.LastActivityAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateThread
		}
		return fmt.Errorf("inserting thread: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO thread_messages (id, thread_id, author_type, message, delivered, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`,
		initial.ID,
		thread.ID,
		string(initial.AuthorType),
		initial.Message,
		formatTime(initial.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting initial message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing thread creation: %w", err)
	}

	s.logger.Debug("created thread",
		"thread_id", thread.ID,
		"sender_id", thread.SenderID,
		"creator_id", thread.CreatorID)
	return nil
}

// GetThread retrieves a thread by ID.
// Returns ErrNotFound if the thread doesn't exist.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE id = ?
	`, id)
	return scanThread(row)
}

// GetActiveThread returns the most recently created open thread for a
// sender/creator pair. Returns ErrNotFound when the pair has no open thread.
func (s *SQLiteStore) GetActiveThread(ctx context.Context, senderID, creatorID string) (*Thread, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE sender_id = ? AND creator_id = ? AND status = ?
		ORDER BY created_at DESC
		LIMIT 1
	`, senderID, creatorID, string(ThreadStatusOpen))
	return scanThread(row)
}

// OpenThreadsForCreator returns all open threads for a creator ordered by
// most recent activity first.
func (s *SQLiteStore) OpenThreadsForCreator(ctx context.Context, creatorID string) ([]*Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threadColumns+`
		FROM threads
		WHERE creator_id = ? AND status = ?
		ORDER BY last_activity_at DESC
	`, creatorID, string(ThreadStatusOpen))
	if err != nil {
		return nil, fmt.Errorf("querying threads for creator: %w", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, thread)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating thread rows: %w", err)
	}
	return threads, nil
}

// AddMessage inserts a message and, in the same transaction, updates the
// thread's matching last-message field, flips waiting_for to the other
// party, and refreshes last_activity_at. Returns ErrNotFound if the thread
// does not exist.
func (s *SQLiteStore) AddMessage(ctx context.Context, msg *ThreadMessage) error {
	updateField := "last_creator_response"
	if msg.AuthorType == AuthorSender {
		updateField = "last_sender_message"
	}
	newWaitingFor := msg.AuthorType.Opposite()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE threads
		SET `+updateField+` = ?,
		    waiting_for = ?,
		    last_activity_at = ?
		WHERE id = ?
	`,
		msg.Message,
		string(newWaitingFor),
		formatTime(msg.CreatedAt),
		msg.ThreadID,
	)
	if err != nil {
		return fmt.Errorf("updating thread turn state: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO thread_messages (id, thread_id, author_type, message, delivered, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`,
		msg.ID,
		msg.ThreadID,
		string(msg.AuthorType),
		msg.Message,
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message: %w", err)
	}

	s.logger.Debug("added thread message",
		"thread_id", msg.ThreadID,
		"message_id", msg.ID,
		"author_type", msg.AuthorType)
	return nil
}

// UpdateThreadStatus writes the status unconditionally and refreshes the
// activity timestamp. Returns false if the thread id does not exist, true
// otherwise. Callers are responsible for only calling this on open threads.
func (s *SQLiteStore) UpdateThreadStatus(ctx context.Context, threadID string, status ThreadStatus) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE threads
		SET status = ?, last_activity_at = ?
		WHERE id = ?
	`, string(status), formatTime(time.Now()), threadID)
	if err != nil {
		return false, fmt.Errorf("updating thread status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	s.logger.Info("updated thread status", "thread_id", threadID, "status", status)
	return true, nil
}

// ExpireOldThreads transitions every open thread whose last activity is
// older than the cutoff to expired. Returns the number of threads affected.
// Idempotent: resolved and already-expired threads are never touched.
func (s *SQLiteStore) ExpireOldThreads(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	result, err := s.db.ExecContext(ctx, `
		UPDATE threads
		SET status = ?
		WHERE status = ? AND last_activity_at < ?
	`, string(ThreadStatusExpired), string(ThreadStatusOpen), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("expiring threads: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Info("expired stale threads", "count", rowsAffected, "older_than", olderThan)
	}
	return int(rowsAffected), nil
}

// OpenCountForCreator returns the number of open threads for a creator.
// Soft-fail read path: storage errors degrade to zero rather than
// propagating.
func (s *SQLiteStore) OpenCountForCreator(ctx context.Context, creatorID string) int {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM threads
		WHERE creator_id = ? AND status = ?
	`, creatorID, string(ThreadStatusOpen)).Scan(&count)
	if err != nil {
		s.logger.Error("counting open threads failed", "creator_id", creatorID, "error", err)
		return 0
	}
	return count
}

// WaitingForCreatorCount returns the number of open threads where the
// creator owes the next response. Soft-fail read path, degrades to zero.
func (s *SQLiteStore) WaitingForCreatorCount(ctx context.Context, creatorID string) int {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM threads
		WHERE creator_id = ? AND status = ? AND waiting_for = ?
	`, creatorID, string(ThreadStatusOpen), string(AuthorCreator)).Scan(&count)
	if err != nil {
		s.logger.Error("counting waiting threads failed", "creator_id", creatorID, "error", err)
		return 0
	}
	return count
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*Thread, error) {
	var thread Thread
	var status, waitingFor string
	var createdAtStr, lastActivityStr string

	err := row.Scan(
		&thread.ID,
		&thread.SenderID,
		&thread.CreatorID,
		&thread.ConversationID,
		&status,
		&waitingFor,
		&thread.TopicSummary,
		&thread.LastSenderMessage,
		&thread.LastCreatorResponse,
		&createdAtStr,
		&lastActivityStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning thread row: %w", err)
	}

	thread.Status = ThreadStatus(status)
	thread.WaitingFor = AuthorType(waitingFor)

	thread.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	thread.LastActivityAt, err = parseTime(lastActivityStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_activity_at: %w", err)
	}

	return &thread, nil
}
