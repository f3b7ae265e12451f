// ABOUTME: Durable retry queue for failed summarization triggers
// ABOUTME: Due jobs feed the retry worker; exhausted jobs move to the dead-letter table

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const retryJobColumns = `id, pair_id, party_a, party_b, conversation_id, attempt_count,
	       next_retry_at, last_error, created_at, updated_at`

// EnqueueRetry inserts a pending retry job scheduled for nextRetryAt
func (s *SQLiteStore) EnqueueRetry(ctx context.Context, job *RetryJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retry_jobs (id, pair_id, party_a, party_b, conversation_id,
			attempt_count, next_retry_at, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.PairID,
		job.PartyA,
		job.PartyB,
		job.ConversationID,
		job.AttemptCount,
		formatTime(job.NextRetryAt),
		job.LastError,
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("enqueueing retry job: %w", err)
	}

	s.logger.Info("enqueued summarization retry",
		"job_id", job.ID,
		"pair_id", job.PairID,
		"next_retry_at", job.NextRetryAt)
	return nil
}

// DueRetries returns up to limit jobs whose next_retry_at has passed,
// oldest due first.
func (s *SQLiteStore) DueRetries(ctx context.Context, limit int) ([]*RetryJob, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+retryJobColumns+`
		FROM retry_jobs
		WHERE next_retry_at <= ?
		ORDER BY next_retry_at ASC
		LIMIT ?
	`, formatTime(time.Now()), limit)
	if err != nil {
		return nil, fmt.Errorf("querying due retries: %w", err)
	}
	defer rows.Close()

	var jobs []*RetryJob
	for rows.Next() {
		job, err := scanRetryJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating retry rows: %w", err)
	}
	return jobs, nil
}

// UpdateRetryAttempt increments the attempt count and reschedules the job.
// Returns ErrNotFound if the job no longer exists.
func (s *SQLiteStore) UpdateRetryAttempt(ctx context.Context, jobID string, nextRetryAt time.Time, lastError string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE retry_jobs
		SET attempt_count = attempt_count + 1,
		    next_retry_at = ?,
		    last_error = ?,
		    updated_at = ?
		WHERE id = ?
	`, formatTime(nextRetryAt), lastError, formatTime(time.Now()), jobID)
	if err != nil {
		return fmt.Errorf("updating retry attempt: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveRetry deletes a job from the queue. Called on success, including
// vacuous success when the conversation has no active events left.
func (s *SQLiteStore) RemoveRetry(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM retry_jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("removing retry job: %w", err)
	}
	return nil
}

// DeadLetterRetry moves an exhausted job to the dead-letter table with its
// final error, in one transaction. Returns ErrNotFound if the job does not
// exist.
func (s *SQLiteStore) DeadLetterRetry(ctx context.Context, jobID string, lastError string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+retryJobColumns+`
		FROM retry_jobs
		WHERE id = ?
	`, jobID)
	job, err := scanRetryJob(row)
	if err != nil {
		return err
	}

	finalError := lastError
	if finalError == "" {
		finalError = job.LastError
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO retry_dead_letters (id, pair_id, party_a, party_b, conversation_id,
			attempt_count, last_error, created_at, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		job.PairID,
		job.PartyA,
		job.PartyB,
		job.ConversationID,
		job.AttemptCount+1,
		finalError,
		formatTime(job.CreatedAt),
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM retry_jobs WHERE id = ?`, jobID); err != nil {
		return fmt.Errorf("removing exhausted retry job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing dead letter move: %w", err)
	}

	s.logger.Warn("retry job moved to dead letters",
		"job_id", jobID,
		"attempts", job.AttemptCount+1)
	return nil
}

// ListDeadLetters returns parked jobs, most recently failed first
func (s *SQLiteStore) ListDeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pair_id, party_a, party_b, conversation_id, attempt_count,
		       last_error, created_at, failed_at
		FROM retry_dead_letters
		ORDER BY failed_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying dead letters: %w", err)
	}
	defer rows.Close()

	var letters []*DeadLetter
	for rows.Next() {
		var dl DeadLetter
		var createdAtStr, failedAtStr string

		if err := rows.Scan(
			&dl.ID,
			&dl.PairID,
			&dl.PartyA,
			&dl.PartyB,
			&dl.ConversationID,
			&dl.AttemptCount,
			&dl.LastError,
			&createdAtStr,
			&failedAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning dead letter row: %w", err)
		}

		dl.CreatedAt, err = parseTime(createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		dl.FailedAt, err = parseTime(failedAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing failed_at: %w", err)
		}

		letters = append(letters, &dl)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dead letter rows: %w", err)
	}
	return letters, nil
}

// GetRetryQueueStats returns queue depth counters for operator inspection
func (s *SQLiteStore) GetRetryQueueStats(ctx context.Context) (*RetryQueueStats, error) {
	stats := &RetryQueueStats{}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM retry_jobs`).Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("counting retry jobs: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM retry_jobs WHERE next_retry_at <= ?`,
		formatTime(time.Now())).Scan(&stats.Due); err != nil {
		return nil, fmt.Errorf("counting due retry jobs: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM retry_dead_letters`).Scan(&stats.DeadTotal); err != nil {
		return nil, fmt.Errorf("counting dead letters: %w", err)
	}

	return stats, nil
}

func scanRetryJob(row rowScanner) (*RetryJob, error) {
	var job RetryJob
	var nextRetryStr, createdAtStr, updatedAtStr string

	err := row.Scan(
		&job.ID,
		&job.PairID,
		&job.PartyA,
		&job.PartyB,
		&job.ConversationID,
		&job.AttemptCount,
		&nextRetryStr,
		&job.LastError,
		&createdAtStr,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning retry job row: %w", err)
	}

	job.NextRetryAt, err = parseTime(nextRetryStr)
	if err != nil {
		return nil, fmt.Errorf("parsing next_retry_at: %w", err)
	}
	job.CreatedAt, err = parseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	job.UpdatedAt, err = parseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &job, nil
}
