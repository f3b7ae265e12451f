// ABOUTME: Summarization coordinator: trigger checks, per-key exclusion, compaction
// ABOUTME: Failures become retry jobs; the trigger caller never sees them

package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/siamak-p/dealdesk/internal/store"
)

// ErrLockUnavailable signals that another summarization already holds the
// conversation key. It is a control-flow signal meaning "skip this
// attempt", not a failure: the next natural trigger will retry.
var ErrLockUnavailable = errors.New("summarization already in progress for key")

// DefaultMinTokens is the cumulative token estimate that triggers
// compaction regardless of message count.
const DefaultMinTokens = 300

// Key identifies one conversation between two parties
type Key struct {
	PartyA         string
	PartyB         string
	ConversationID string
}

// PairID returns the order-independent pair identifier for the key
func (k Key) PairID() string {
	return store.PairID(k.PartyA, k.PartyB)
}

func (k Key) lockKey() string {
	return k.PairID() + "::" + k.ConversationID
}

// AuthoredMessage is one ordered (author, text) pair handed to the summarizer
type AuthoredMessage struct {
	Author string
	Text   string
}

// Result is what the external summarizer produces: a summary in two forms
// plus a prioritized fact list. High and medium priority facts are
// retained; low priority facts are discarded.
type Result struct {
	SummaryText  string
	CleanSummary string
	HighFacts    []string
	MediumFacts  []string
	LowFacts     []string
}

// Summarizer is the external collaborator that compresses a message run.
// It receives the previous summary (empty on first compaction) for
// continuity.
type Summarizer interface {
	SummarizeWithFacts(ctx context.Context, previousSummary string, messages []AuthoredMessage, partyA, partyB string) (*Result, error)
}

// Store defines what the coordinator needs from storage
type Store interface {
	CountActiveEvents(ctx context.Context, pairID, conversationID string) (int, error)
	SumActiveTokens(ctx context.Context, pairID, conversationID string) (int, error)
	RecentChatEvents(ctx context.Context, pairID, conversationID string, limit int) ([]*store.ChatEvent, error)
	DeleteChatEvents(ctx context.Context, ids []string) (int, error)
	GetSummary(ctx context.Context, pairID, conversationID string) (*store.Summary, error)
	SaveSummary(ctx context.Context, summary *store.Summary) error
	EnqueueRetry(ctx context.Context, job *store.RetryJob) error
}

// Locker is the keyed mutual-exclusion primitive. Acquire must not block:
// callers get an immediate busy signal instead of waiting.
type Locker interface {
	TryAcquire(key string) bool
	Release(key string)
}

// Options configures the coordinator's trigger thresholds and retry delay
type Options struct {
	// MessageThreshold triggers compaction at this many active events.
	// Zero disables count-based triggering entirely.
	MessageThreshold int
	// MinTokens triggers compaction at this cumulative token estimate.
	// Defaults to DefaultMinTokens.
	MinTokens int
	// HistoryLimit caps how many events one compaction consumes
	HistoryLimit int
	// RetryDelay is the backoff applied to the first retry of a failed run
	RetryDelay time.Duration
}

// Coordinator decides when a conversation needs compression and performs
// the compaction: summarize, persist, delete the summarized source events.
// At most one summarization runs per conversation key, enforced by the
// keyed lock.
type Coordinator struct {
	store      Store
	summarizer Summarizer
	locks      Locker
	opts       Options
	logger     *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a coordinator
func New(st Store, summarizer Summarizer, locks Locker, opts Options, logger *slog.Logger) *Coordinator {
	if opts.MinTokens <= 0 {
		opts.MinTokens = DefaultMinTokens
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:      st,
		summarizer: summarizer,
		locks:      locks,
		opts:       opts,
		logger:     logger.With("component", "summarize"),
	}
}

// CheckAndTrigger evaluates the trigger condition for the key and, if met,
// spawns a tracked background summarization. Fire-and-forget: failures of
// the background run are converted into retry jobs and never surface here.
// The only errors returned are from the threshold check itself.
func (c *Coordinator) CheckAndTrigger(ctx context.Context, key Key) error {
	if c.summarizer == nil || c.opts.MessageThreshold <= 0 {
		return nil
	}

	pairID := key.PairID()
	count, err := c.store.CountActiveEvents(ctx, pairID, key.ConversationID)
	if err != nil {
		return fmt.Errorf("counting active events: %w", err)
	}
	tokens, err := c.store.SumActiveTokens(ctx, pairID, key.ConversationID)
	if err != nil {
		return fmt.Errorf("summing active tokens: %w", err)
	}

	needs := count >= c.opts.MessageThreshold || tokens >= c.opts.MinTokens
	c.logger.Debug("summarization trigger check",
		"pair_id", pairID,
		"conversation_id", key.ConversationID,
		"count", count,
		"tokens", tokens,
		"threshold_count", c.opts.MessageThreshold,
		"threshold_tokens", c.opts.MinTokens,
		"needs", needs)
	if !needs {
		return nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()

		// Detached context: the triggering request may finish long before
		// the summarizer does.
		runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		err := c.Summarize(runCtx, key)
		switch {
		case err == nil:
		case errors.Is(err, ErrLockUnavailable):
			c.logger.Debug("summarization skipped, key busy",
				"pair_id", pairID,
				"conversation_id", key.ConversationID)
		default:
			c.logger.Error("background summarization failed",
				"pair_id", pairID,
				"conversation_id", key.ConversationID,
				"error", err)
			c.enqueueRetry(key, err)
		}
	}()

	return nil
}

// Summarize runs one compaction for the key synchronously. Returns
// ErrLockUnavailable without side effects when another run holds the key.
// The lock only guards the key, never the storage layer, and is always
// released, including on failure.
func (c *Coordinator) Summarize(ctx context.Context, key Key) error {
	if c.summarizer == nil {
		return nil
	}

	lockKey := key.lockKey()
	if !c.locks.TryAcquire(lockKey) {
		return ErrLockUnavailable
	}
	defer c.locks.Release(lockKey)

	pairID := key.PairID()
	events, err := c.store.RecentChatEvents(ctx, pairID, key.ConversationID, c.opts.HistoryLimit)
	if err != nil {
		return fmt.Errorf("fetching events: %w", err)
	}
	if len(events) == 0 {
		c.logger.Debug("nothing to summarize", "pair_id", pairID)
		return nil
	}

	// Previous summary for continuity; never having one is fine
	previousSummary := ""
	prev, err := c.store.GetSummary(ctx, pairID, key.ConversationID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("fetching previous summary: %w", err)
	}
	if prev != nil {
		previousSummary = prev.Summary
	}

	messages := make([]AuthoredMessage, 0, len(events))
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
		if e.Text == "" {
			continue
		}
		messages = append(messages, AuthoredMessage{Author: e.AuthorID, Text: e.Text})
	}

	result, err := c.summarizer.SummarizeWithFacts(ctx, previousSummary, messages, key.PartyA, key.PartyB)
	if err != nil {
		return fmt.Errorf("summarizer: %w", err)
	}
	if result == nil || result.CleanSummary == "" {
		c.logger.Info("summarizer returned empty summary, skipping",
			"pair_id", pairID,
			"conversation_id", key.ConversationID)
		return nil
	}

	if err := c.store.SaveSummary(ctx, &store.Summary{
		PairID:         pairID,
		ConversationID: key.ConversationID,
		Summary:        result.CleanSummary,
		HighFacts:      result.HighFacts,
		MediumFacts:    result.MediumFacts,
		LowDiscarded:   len(result.LowFacts),
		UpdatedAt:      time.Now(),
	}); err != nil {
		return fmt.Errorf("persisting summary: %w", err)
	}

	// Compaction is best-effort: the summary is already durable, so a
	// failed delete only means the next run re-covers some events.
	deleted, err := c.store.DeleteChatEvents(ctx, ids)
	if err != nil {
		c.logger.Error("compaction delete failed",
			"pair_id", pairID,
			"conversation_id", key.ConversationID,
			"error", err)
	}

	c.logger.Info("summarization complete",
		"pair_id", pairID,
		"conversation_id", key.ConversationID,
		"messages", len(messages),
		"deleted", deleted,
		"high_facts", len(result.HighFacts),
		"medium_facts", len(result.MediumFacts),
		"low_discarded", len(result.LowFacts))
	return nil
}

// enqueueRetry records a failed run in the durable retry queue with the
// first backoff delay. Uses a detached context so enqueueing survives the
// failed run's cancellation.
func (c *Coordinator) enqueueRetry(key Key, cause error) {
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	now := time.Now()
	job := &store.RetryJob{
		ID:             fmt.Sprintf("rty-%s", uuid.New().String()),
		PairID:         key.PairID(),
		PartyA:         key.PartyA,
		PartyB:         key.PartyB,
		ConversationID: key.ConversationID,
		AttemptCount:   0,
		NextRetryAt:    now.Add(c.opts.RetryDelay),
		LastError:      truncateError(cause),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.store.EnqueueRetry(saveCtx, job); err != nil {
		c.logger.Error("failed to enqueue summarization retry",
			"pair_id", job.PairID,
			"conversation_id", key.ConversationID,
			"error", err)
	}
}

// Close refuses new triggers and waits for in-flight background runs to
// drain, or until ctx expires.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// truncateError bounds stored error text the way the retry queue expects
func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}
