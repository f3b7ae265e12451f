// ABOUTME: Per-thread message delivery queue queries
// ABOUTME: Pull-based undelivered fetch per direction plus idempotent delivery acknowledgment

package store

import (
	"context"
	"database/sql"
	"fmt"
)

const messageColumns = `id, thread_id, author_type, message, delivered, created_at`

// UndeliveredMessages returns messages authored by the party opposite
// forAuthor that have not been delivered yet, oldest first. This is the
// pull-based delivery channel: each party polls for the other's messages.
func (s *SQLiteStore) UndeliveredMessages(ctx context.Context, threadID string, forAuthor AuthorType) ([]*ThreadMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM thread_messages
		WHERE thread_id = ? AND author_type = ? AND delivered = 0
		ORDER BY created_at ASC
	`, threadID, string(forAuthor.Opposite()))
	if err != nil {
		return nil, fmt.Errorf("querying undelivered messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

// MarkMessageDelivered sets delivered unconditionally. Returns true
// whenever the row exists, regardless of prior delivered state: this is an
// idempotent acknowledgment, not a single-fire guard. Callers must not use
// the return value to detect first delivery.
func (s *SQLiteStore) MarkMessageDelivered(ctx context.Context, messageID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE thread_messages
		SET delivered = 1
		WHERE id = ?
	`, messageID)
	if err != nil {
		return false, fmt.Errorf("marking message delivered: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}

	s.logger.Debug("marked message delivered", "message_id", messageID)
	return true, nil
}

// RecentMessages returns the last limit messages of a thread in
// chronological order. Read-only; used for building summarizer context.
func (s *SQLiteStore) RecentMessages(ctx context.Context, threadID string, limit int) ([]*ThreadMessage, error) {
	if limit <= 0 {
		limit = 10
	}

	// Pick the N most recent rows, then re-order ascending so callers
	// receive messages in conversation order.
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM (
			SELECT `+messageColumns+`
			FROM thread_messages
			WHERE thread_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		)
		ORDER BY created_at ASC
	`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	defer rows.Close()

	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]*ThreadMessage, error) {
	var messages []*ThreadMessage
	for rows.Next() {
		var msg ThreadMessage
		var authorType, createdAtStr string
		var delivered int

		if err := rows.Scan(&msg.ID, &msg.ThreadID, &authorType, &msg.Message, &delivered, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.AuthorType = AuthorType(authorType)
		msg.Delivered = delivered != 0

		var err error
		msg.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}
	return messages, nil
}
