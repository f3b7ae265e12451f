// ABOUTME: Durable conversation summaries with prioritized fact lists
// ABOUTME: One summary row per conversation key, replaced atomically on each compaction

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SaveSummary upserts the summary for a conversation key. The previous
// summary for the key, if any, is replaced in one statement so readers
// never observe a key without a summary mid-compaction.
func (s *SQLiteStore) SaveSummary(ctx context.Context, summary *Summary) error {
	highJSON, err := json.Marshal(summary.HighFacts)
	if err != nil {
		return fmt.Errorf("encoding high facts: %w", err)
	}
	mediumJSON, err := json.Marshal(summary.MediumFacts)
	if err != nil {
		return fmt.Errorf("encoding medium facts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO summaries (pair_id, conversation_id, summary, high_facts, medium_facts, low_discarded, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (pair_id, conversation_id) DO UPDATE SET
			summary = excluded.summary,
			high_facts = excluded.high_facts,
			medium_facts = excluded.medium_facts,
			low_discarded = excluded.low_discarded,
			updated_at = excluded.updated_at
	`,
		summary.PairID,
		summary.ConversationID,
		summary.Summary,
		string(highJSON),
		string(mediumJSON),
		summary.LowDiscarded,
		formatTime(summary.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving summary: %w", err)
	}

	s.logger.Debug("saved summary",
		"pair_id", summary.PairID,
		"conversation_id", summary.ConversationID,
		"high_facts", len(summary.HighFacts),
		"medium_facts", len(summary.MediumFacts))
	return nil
}

// GetSummary retrieves the summary for a conversation key.
// Returns ErrNotFound when the key has never been summarized.
func (s *SQLiteStore) GetSummary(ctx context.Context, pairID, conversationID string) (*Summary, error) {
	var summary Summary
	var highJSON, mediumJSON, updatedAtStr string

	err := s.db.QueryRowContext(ctx, `
		SELECT pair_id, conversation_id, summary, high_facts, medium_facts, low_discarded, updated_at
		FROM summaries
		WHERE pair_id = ? AND conversation_id = ?
	`, pairID, conversationID).Scan(
		&summary.PairID,
		&summary.ConversationID,
		&summary.Summary,
		&highJSON,
		&mediumJSON,
		&summary.LowDiscarded,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying summary: %w", err)
	}

	if err := json.Unmarshal([]byte(highJSON), &summary.HighFacts); err != nil {
		return nil, fmt.Errorf("decoding high facts: %w", err)
	}
	if err := json.Unmarshal([]byte(mediumJSON), &summary.MediumFacts); err != nil {
		return nil, fmt.Errorf("decoding medium facts: %w", err)
	}

	summary.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &summary, nil
}
