// ABOUTME: Conversation event log, the raw material for summarization
// ABOUTME: Active counts and token sums drive the compaction trigger; deletes implement compaction

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// PairID derives a stable identifier for an unordered party pair.
// The pair is sorted first so PairID(a, b) == PairID(b, a).
func PairID(partyA, partyB string) string {
	lo, hi := strings.TrimSpace(partyA), strings.TrimSpace(partyB)
	if lo > hi {
		lo, hi = hi, lo
	}
	digest := sha256.Sum256([]byte(lo + "::" + hi))
	return hex.EncodeToString(digest[:])[:16]
}

// EstimateTokens is the crude token estimate used when no count is supplied
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// LogChatEvent persists a conversation event. A zero TokenCount is replaced
// with an estimate from the text length.
func (s *SQLiteStore) LogChatEvent(ctx context.Context, event *ChatEvent) error {
	tokenCount := event.TokenCount
	if tokenCount <= 0 {
		tokenCount = EstimateTokens(event.Text)
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_events (id, pair_id, conversation_id, author_id, role, text, token_count, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)
	`,
		event.ID,
		event.PairID,
		event.ConversationID,
		event.AuthorID,
		string(event.Role),
		event.Text,
		tokenCount,
		formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("inserting chat event: %w", err)
	}

	s.logger.Debug("logged chat event",
		"event_id", event.ID,
		"pair_id", event.PairID,
		"conversation_id", event.ConversationID,
		"tokens", tokenCount)
	return nil
}

// CountActiveEvents returns the number of undeleted events for a
// conversation key.
func (s *SQLiteStore) CountActiveEvents(ctx context.Context, pairID, conversationID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chat_events
		WHERE pair_id = ? AND conversation_id = ? AND deleted = 0
	`, pairID, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting active events: %w", err)
	}
	return count, nil
}

// SumActiveTokens returns the cumulative token estimate of undeleted events
// for a conversation key.
func (s *SQLiteStore) SumActiveTokens(ctx context.Context, pairID, conversationID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(token_count), 0) FROM chat_events
		WHERE pair_id = ? AND conversation_id = ? AND deleted = 0
	`, pairID, conversationID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing active tokens: %w", err)
	}
	return total, nil
}

// RecentChatEvents returns up to limit undeleted events for a conversation
// key in chronological order.
func (s *SQLiteStore) RecentChatEvents(ctx context.Context, pairID, conversationID string, limit int) ([]*ChatEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pair_id, conversation_id, author_id, role, text, token_count, deleted, created_at
		FROM (
			SELECT id, pair_id, conversation_id, author_id, role, text, token_count, deleted, created_at
			FROM chat_events
			WHERE pair_id = ? AND conversation_id = ? AND deleted = 0
			ORDER BY created_at DESC
			LIMIT ?
		)
		ORDER BY created_at ASC
	`, pairID, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying chat events: %w", err)
	}
	defer rows.Close()

	var events []*ChatEvent
	for rows.Next() {
		var event ChatEvent
		var role, createdAtStr string
		var deleted int

		if err := rows.Scan(
			&event.ID,
			&event.PairID,
			&event.ConversationID,
			&event.AuthorID,
			&role,
			&event.Text,
			&event.TokenCount,
			&deleted,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning chat event row: %w", err)
		}

		event.Role = ChatEventRole(role)
		event.Deleted = deleted != 0
		event.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing event created_at: %w", err)
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chat event rows: %w", err)
	}
	return events, nil
}

// DeleteChatEvents removes the identified events. Used by compaction after
// a summary is durably persisted. Returns the number of rows deleted.
func (s *SQLiteStore) DeleteChatEvents(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_events WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting chat events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	s.logger.Debug("deleted chat events", "count", rowsAffected)
	return int(rowsAffected), nil
}
