package retry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siamak-p/dealdesk/internal/store"
	"github.com/siamak-p/dealdesk/internal/summarize"
)

type fakeCoordinator struct {
	mu    sync.Mutex
	calls []summarize.Key
	err   error
}

func (f *fakeCoordinator) Summarize(ctx context.Context, key summarize.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	return f.err
}

func (f *fakeCoordinator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func setupWorker(t *testing.T, coordinator Coordinator, opts Options) (*Worker, *store.SQLiteStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		st.Close()
	})

	return New(st, coordinator, opts, nil), st
}

func enqueueDueJob(t *testing.T, st *store.SQLiteStore, id string, attempts int) *store.RetryJob {
	t.Helper()
	job := &store.RetryJob{
		ID:             id,
		PairID:         summarize.Key{PartyA: "alice", PartyB: "bob"}.PairID(),
		PartyA:         "alice",
		PartyB:         "bob",
		ConversationID: "conv-1",
		AttemptCount:   attempts,
		NextRetryAt:    time.Now().Add(-time.Minute),
		LastError:      "model down",
	}
	require.NoError(t, st.EnqueueRetry(context.Background(), job))
	return job
}

func logBacklog(t *testing.T, st *store.SQLiteStore, pairID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, st.LogChatEvent(context.Background(), &store.ChatEvent{
			ID:             fmt.Sprintf("evt-%d-%d", time.Now().UnixNano(), i),
			PairID:         pairID,
			ConversationID: "conv-1",
			AuthorID:       "alice",
			Role:           store.RoleHuman,
			Text:           fmt.Sprintf("message %d", i),
			CreatedAt:      time.Now().UTC(),
		}))
	}
}

func TestWorker_RunOnce_Empty(t *testing.T) {
	coordinator := &fakeCoordinator{}
	w, _ := setupWorker(t, coordinator, Options{})

	stats, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processed)
	assert.Equal(t, 0, coordinator.callCount())
}

func TestWorker_RunOnce_VacuousSuccess(t *testing.T) {
	coordinator := &fakeCoordinator{}
	w, st := setupWorker(t, coordinator, Options{})
	ctx := context.Background()

	// Job is due but a live trigger already compacted the backlog
	enqueueDueJob(t, st, "rty-1", 0)

	stats, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, 0, coordinator.callCount(), "empty backlog must not reach the coordinator")

	queue, err := st.GetRetryQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, queue.Total)
}

func TestWorker_RunOnce_Success(t *testing.T) {
	coordinator := &fakeCoordinator{}
	w, st := setupWorker(t, coordinator, Options{})
	ctx := context.Background()

	job := enqueueDueJob(t, st, "rty-1", 0)
	logBacklog(t, st, job.PairID, 2)

	stats, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	require.Equal(t, 1, coordinator.callCount())
	assert.Equal(t, "alice", coordinator.calls[0].PartyA)
	assert.Equal(t, "bob", coordinator.calls[0].PartyB)
	assert.Equal(t, "conv-1", coordinator.calls[0].ConversationID)

	queue, err := st.GetRetryQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, queue.Total)
}

func TestWorker_RunOnce_FailureReschedulesWithBackoff(t *testing.T) {
	coordinator := &fakeCoordinator{err: errors.New("still down")}
	w, st := setupWorker(t, coordinator, Options{})
	ctx := context.Background()

	job := enqueueDueJob(t, st, "rty-1", 0)
	logBacklog(t, st, job.PairID, 2)

	stats, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FailedAgain)
	assert.Equal(t, 0, stats.DeadLetters)

	// Attempt 0 -> 1 lands on the second backoff step, so the job is no
	// longer due but still queued.
	due, err := st.DueRetries(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)
	queue, err := st.GetRetryQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queue.Total)
}

func TestWorker_RunOnce_DeadLettersAtMaxAttempts(t *testing.T) {
	coordinator := &fakeCoordinator{err: errors.New("permanently broken")}
	w, st := setupWorker(t, coordinator, Options{})
	ctx := context.Background()

	job := enqueueDueJob(t, st, "rty-1", 2)
	logBacklog(t, st, job.PairID, 2)

	stats, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DeadLetters)
	assert.Equal(t, 0, stats.FailedAgain)

	queue, err := st.GetRetryQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, queue.Total)
	assert.Equal(t, 1, queue.DeadTotal)

	dead, err := st.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, "rty-1", dead[0].ID)
	assert.Equal(t, "permanently broken", dead[0].LastError)
}

func TestWorker_RunOnce_LockBusyLeavesJob(t *testing.T) {
	coordinator := &fakeCoordinator{err: summarize.ErrLockUnavailable}
	w, st := setupWorker(t, coordinator, Options{})
	ctx := context.Background()

	job := enqueueDueJob(t, st, "rty-1", 0)
	logBacklog(t, st, job.PairID, 2)

	stats, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processed, "busy keys do not count as processed")
	assert.Equal(t, 0, stats.FailedAgain)

	// Job untouched: still due, attempt count unchanged
	due, err := st.DueRetries(ctx, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 0, due[0].AttemptCount)
}

func TestWorker_RunOnce_BatchLimit(t *testing.T) {
	coordinator := &fakeCoordinator{}
	w, st := setupWorker(t, coordinator, Options{BatchSize: 2})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		enqueueDueJob(t, st, fmt.Sprintf("rty-%d", i), 0)
	}

	stats, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)

	queue, err := st.GetRetryQueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queue.Total)
}

func TestWorker_StartStop(t *testing.T) {
	coordinator := &fakeCoordinator{}
	w, st := setupWorker(t, coordinator, Options{Interval: 10 * time.Millisecond})

	job := enqueueDueJob(t, st, "rty-1", 0)
	logBacklog(t, st, job.PairID, 2)

	w.Start()
	w.Start() // second call is a no-op

	require.Eventually(t, func() bool {
		return coordinator.callCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	w.Stop()
	w.Stop()
}
