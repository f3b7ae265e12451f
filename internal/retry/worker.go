// ABOUTME: Durable retry worker for failed summarizations
// ABOUTME: Escalating backoff, vacuous success on empty keys, dead-lettering

package retry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/siamak-p/dealdesk/internal/store"
	"github.com/siamak-p/dealdesk/internal/summarize"
)

// Default backoff schedule: 5 minutes, 1 hour, 4 hours. Attempts past the
// end of the table reuse the last delay.
var DefaultDelays = []time.Duration{
	5 * time.Minute,
	1 * time.Hour,
	4 * time.Hour,
}

const (
	DefaultMaxAttempts = 3
	DefaultInterval    = 5 * time.Minute
	DefaultBatchSize   = 10
)

// Store defines what the worker needs from storage
type Store interface {
	DueRetries(ctx context.Context, limit int) ([]*store.RetryJob, error)
	UpdateRetryAttempt(ctx context.Context, jobID string, nextRetryAt time.Time, lastError string) error
	RemoveRetry(ctx context.Context, jobID string) error
	DeadLetterRetry(ctx context.Context, jobID, lastError string) error
	CountActiveEvents(ctx context.Context, pairID, conversationID string) (int, error)
}

// Coordinator is the synchronous summarization entry point the worker
// drives. A summarize.ErrLockUnavailable result means the key is busy and
// the job should simply wait for its next due time.
type Coordinator interface {
	Summarize(ctx context.Context, key summarize.Key) error
}

// Options configures the worker's polling and backoff behavior
type Options struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Delays      []time.Duration
}

// RunStats reports the outcome of one queue pass
type RunStats struct {
	Processed   int `json:"processed"`
	Succeeded   int `json:"succeeded"`
	FailedAgain int `json:"failed_again"`
	DeadLetters int `json:"dead_letters"`
}

// Worker periodically drains due retry jobs and re-attempts their
// summarizations. Jobs that keep failing are rescheduled with escalating
// backoff until MaxAttempts, then parked in the dead-letter table.
type Worker struct {
	store       Store
	coordinator Coordinator
	opts        Options
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a retry worker
func New(st Store, coordinator Coordinator, opts Options, logger *slog.Logger) *Worker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if len(opts.Delays) == 0 {
		opts.Delays = DefaultDelays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:       st,
		coordinator: coordinator,
		opts:        opts,
		logger:      logger.With("component", "retry"),
	}
}

// Start launches the polling loop. Safe to call once; subsequent calls
// while running are no-ops.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.done = make(chan struct{})
	w.wg.Add(1)
	go w.run()
	w.logger.Info("retry worker started",
		"interval", w.opts.Interval,
		"max_attempts", w.opts.MaxAttempts)
}

// Stop halts the polling loop and waits for an in-flight pass to finish
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.done)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("retry worker stopped")
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), w.opts.Interval)
			stats, err := w.RunOnce(ctx)
			cancel()
			if err != nil {
				w.logger.Error("retry pass failed", "error", err)
			} else if stats.Processed > 0 {
				w.logger.Info("retry pass complete",
					"processed", stats.Processed,
					"succeeded", stats.Succeeded,
					"failed_again", stats.FailedAgain,
					"dead_letters", stats.DeadLetters)
			}
		}
	}
}

// RunOnce drains one batch of due jobs and reports what happened to them.
// Exposed so operators can force a pass without waiting for the ticker.
func (w *Worker) RunOnce(ctx context.Context) (*RunStats, error) {
	jobs, err := w.store.DueRetries(ctx, w.opts.BatchSize)
	if err != nil {
		return nil, err
	}

	stats := &RunStats{}
	for _, job := range jobs {
		stats.Processed++
		w.processJob(ctx, job, stats)
	}
	return stats, nil
}

func (w *Worker) processJob(ctx context.Context, job *store.RetryJob, stats *RunStats) {
	logger := w.logger.With("job_id", job.ID, "pair_id", job.PairID, "attempt", job.AttemptCount)

	// The backlog may have been compacted by a live trigger since the job
	// was queued. Nothing left to summarize counts as success.
	count, err := w.store.CountActiveEvents(ctx, job.PairID, job.ConversationID)
	if err != nil {
		logger.Error("failed to count active events", "error", err)
		w.reschedule(ctx, job, err, stats)
		return
	}
	if count == 0 {
		logger.Info("retry resolved, no active events remain")
		if err := w.store.RemoveRetry(ctx, job.ID); err != nil {
			logger.Error("failed to remove completed retry", "error", err)
		}
		stats.Succeeded++
		return
	}

	if w.coordinator == nil {
		// No coordinator wired; leave the job queued for a deployment
		// that has one.
		stats.Processed--
		return
	}

	err = w.coordinator.Summarize(ctx, summarize.Key{
		PartyA:         job.PartyA,
		PartyB:         job.PartyB,
		ConversationID: job.ConversationID,
	})
	if err == nil {
		logger.Info("retry succeeded")
		if err := w.store.RemoveRetry(ctx, job.ID); err != nil {
			logger.Error("failed to remove completed retry", "error", err)
		}
		stats.Succeeded++
		return
	}
	if errors.Is(err, summarize.ErrLockUnavailable) {
		// Someone else is summarizing this key right now. Leave the job
		// untouched; it stays due and the next pass re-checks it.
		logger.Debug("retry deferred, key busy")
		stats.Processed--
		return
	}

	logger.Warn("retry attempt failed", "error", err)
	w.reschedule(ctx, job, err, stats)
}

// reschedule applies escalating backoff to a failed job, or dead-letters
// it once the attempt budget is spent.
func (w *Worker) reschedule(ctx context.Context, job *store.RetryJob, cause error, stats *RunStats) {
	newAttempt := job.AttemptCount + 1
	if newAttempt >= w.opts.MaxAttempts {
		if err := w.store.DeadLetterRetry(ctx, job.ID, cause.Error()); err != nil {
			w.logger.Error("failed to dead-letter retry", "job_id", job.ID, "error", err)
			return
		}
		w.logger.Warn("retry moved to dead letters",
			"job_id", job.ID,
			"pair_id", job.PairID,
			"attempts", newAttempt)
		stats.DeadLetters++
		return
	}

	delay := w.opts.Delays[len(w.opts.Delays)-1]
	if newAttempt < len(w.opts.Delays) {
		delay = w.opts.Delays[newAttempt]
	}
	if err := w.store.UpdateRetryAttempt(ctx, job.ID, time.Now().Add(delay), cause.Error()); err != nil {
		w.logger.Error("failed to reschedule retry", "job_id", job.ID, "error", err)
		return
	}
	stats.FailedAgain++
}
