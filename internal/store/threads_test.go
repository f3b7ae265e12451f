package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// newTestThread builds a fresh open thread with its first message
func newTestThread(id, senderID, creatorID string) (*Thread, *ThreadMessage) {
	now := time.Now().UTC()
	first := "can you lend me 500?"
	thread := &Thread{
		ID:                id,
		SenderID:          senderID,
		CreatorID:         creatorID,
		ConversationID:    "conv-1",
		Status:            ThreadStatusOpen,
		WaitingFor:        AuthorCreator,
		TopicSummary:      "loan request",
		LastSenderMessage: &first,
		CreatedAt:         now,
		LastActivityAt:    now,
	}
	msg := &ThreadMessage{
		ID:         "msg-" + id,
		ThreadID:   id,
		AuthorType: AuthorSender,
		Message:    first,
		CreatedAt:  now,
	}
	return thread, msg
}

func TestStore_CreateThread(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	thread, msg := newTestThread("thr-1", "sender-1", "creator-1")
	require.NoError(t, store.CreateThread(ctx, thread, msg))

	retrieved, err := store.GetThread(ctx, "thr-1")
	require.NoError(t, err)
	assert.Equal(t, "thr-1", retrieved.ID)
	assert.Equal(t, ThreadStatusOpen, retrieved.Status)
	assert.Equal(t, AuthorCreator, retrieved.WaitingFor)
	assert.Equal(t, "loan request", retrieved.TopicSummary)
	require.NotNil(t, retrieved.LastSenderMessage)
	assert.Equal(t, "can you lend me 500?", *retrieved.LastSenderMessage)
	assert.Nil(t, retrieved.LastCreatorResponse)

	// The first message must exist alongside the thread
	msgs, err := store.RecentMessages(ctx, "thr-1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, AuthorSender, msgs[0].AuthorType)
	assert.False(t, msgs[0].Delivered)
}

func TestStore_CreateThread_DuplicateOpenPair(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	thread, msg := newTestThread("thr-1", "sender-1", "creator-1")
	require.NoError(t, store.CreateThread(ctx, thread, msg))

	second, secondMsg := newTestThread("thr-2", "sender-1", "creator-1")
	err := store.CreateThread(ctx, second, secondMsg)
	assert.ErrorIs(t, err, ErrDuplicateThread)

	// Losing transaction must leave nothing behind
	_, err = store.GetThread(ctx, "thr-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CreateThread_AllowedAfterResolve(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	thread, msg := newTestThread("thr-1", "sender-1", "creator-1")
	require.NoError(t, store.CreateThread(ctx, thread, msg))

	ok, err := store.UpdateThreadStatus(ctx, "thr-1", ThreadStatusResolved)
	require.NoError(t, err)
	assert.True(t, ok)

	// With the previous thread closed, the pair may open a new one
	second, secondMsg := newTestThread("thr-2", "sender-1", "creator-1")
	require.NoError(t, store.CreateThread(ctx, second, secondMsg))
}

func TestStore_GetThread_NotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetThread(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GetActiveThread(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetActiveThread(ctx, "sender-1", "creator-1")
	assert.ErrorIs(t, err, ErrNotFound)

	thread, msg := newTestThread("thr-1", "sender-1", "creator-1")
	require.NoError(t, store.CreateThread(ctx, thread, msg))

	active, err := store.GetActiveThread(ctx, "sender-1", "creator-1")
	require.NoError(t, err)
	assert.Equal(t, "thr-1", active.ID)

	// Resolved threads are never active
	_, err = store.UpdateThreadStatus(ctx, "thr-1", ThreadStatusResolved)
	require.NoError(t, err)
	_, err = store.GetActiveThread(ctx, "sender-1", "creator-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_AddMessage_FlipsTurn(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	thread, msg := newTestThread("thr-1", "sender-1", "creator-1")
	require.NoError(t, store.CreateThread(ctx, thread, msg))

	// Creator responds: waiting flips to sender, response mirror updates
	require.NoError(t, store.AddMessage(ctx, &ThreadMessage{
		ID:         "msg-2",
		ThreadID:   "thr-1",
		AuthorType: AuthorCreator,
		Message:    "sure, what do you need it for?",
		CreatedAt:  time.Now().UTC(),
	}))

	updated, err := store.GetThread(ctx, "thr-1")
	require.NoError(t, err)
	assert.Equal(t, AuthorSender, updated.WaitingFor)
	require.NotNil(t, updated.LastCreatorResponse)
	assert.Equal(t, "sure, what do you need it for?", *updated.LastCreatorResponse)
	require.NotNil(t, updated.LastSenderMessage)
	assert.Equal(t, "can you lend me 500?", *updated.LastSenderMessage)

	// Sender replies: waiting flips back to creator
	require.NoError(t, store.AddMessage(ctx, &ThreadMessage{
		ID:         "msg-3",
		ThreadID:   "thr-1",
		AuthorType: AuthorSender,
		Message:    "rent is due",
		CreatedAt:  time.Now().UTC(),
	}))

	updated, err = store.GetThread(ctx, "thr-1")
	require.NoError(t, err)
	assert.Equal(t, AuthorCreator, updated.WaitingFor)
	require.NotNil(t, updated.LastSenderMessage)
	assert.Equal(t, "rent is due", *updated.LastSenderMessage)
}

func TestStore_AddMessage_RefreshesActivity(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	thread, msg := newTestThread("thr-1", "sender-1", "creator-1")
	thread.CreatedAt = time.Now().UTC().Add(-time.Hour)
	thread.LastActivityAt = thread.CreatedAt
	msg.CreatedAt = thread.CreatedAt
	require.NoError(t, store.CreateThread(ctx, thread, msg))

	now := time.Now().UTC()
	require.NoError(t, store.AddMessage(ctx, &ThreadMessage{
		ID:         "msg-2",
		ThreadID:   "thr-1",
		AuthorType: AuthorCreator,
		Message:    "ok",
		CreatedAt:  now,
	}))

	updated, err := store.GetThread(ctx, "thr-1")
	require.NoError(t, err)
	assert.True(t, updated.LastActivityAt.After(updated.CreatedAt))
}

func TestStore_AddMessage_ThreadNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	err := store.AddMessage(ctx, &ThreadMessage{
		ID:         "msg-1",
		ThreadID:   "nonexistent",
		AuthorType: AuthorSender,
		Message:    "hello",
		CreatedAt:  time.Now().UTC(),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UpdateThreadStatus_Unknown(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ok, err := store.UpdateThreadStatus(ctx, "nonexistent", ThreadStatusResolved)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ExpireOldThreads(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Stale open thread
	stale, staleMsg := newTestThread("thr-stale", "sender-1", "creator-1")
	stale.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	stale.LastActivityAt = stale.CreatedAt
	staleMsg.CreatedAt = stale.CreatedAt
	require.NoError(t, store.CreateThread(ctx, stale, staleMsg))

	// Fresh open thread for a different pair
	fresh, freshMsg := newTestThread("thr-fresh", "sender-2", "creator-1")
	require.NoError(t, store.CreateThread(ctx, fresh, freshMsg))

	// Stale resolved thread must stay resolved
	resolved, resolvedMsg := newTestThread("thr-resolved", "sender-3", "creator-1")
	resolved.CreatedAt = time.Now().UTC().Add(-48 * time.Hour)
	resolved.LastActivityAt = resolved.CreatedAt
	resolvedMsg.CreatedAt = resolved.CreatedAt
	require.NoError(t, store.CreateThread(ctx, resolved, resolvedMsg))
	_, err := store.UpdateThreadStatus(ctx, "thr-resolved", ThreadStatusResolved)
	require.NoError(t, err)

	count, err := store.ExpireOldThreads(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	expired, err := store.GetThread(ctx, "thr-stale")
	require.NoError(t, err)
	assert.Equal(t, ThreadStatusExpired, expired.Status)

	still, err := store.GetThread(ctx, "thr-fresh")
	require.NoError(t, err)
	assert.Equal(t, ThreadStatusOpen, still.Status)

	// Repeat run finds nothing new
	count, err = store.ExpireOldThreads(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStore_OpenThreadsForCreator_Order(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		thread, msg := newTestThread(fmt.Sprintf("thr-%d", i), fmt.Sprintf("sender-%d", i), "creator-1")
		thread.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		thread.LastActivityAt = thread.CreatedAt
		msg.CreatedAt = thread.CreatedAt
		msg.ID = fmt.Sprintf("msg-%d", i)
		require.NoError(t, store.CreateThread(ctx, thread, msg))
	}

	threads, err := store.OpenThreadsForCreator(ctx, "creator-1")
	require.NoError(t, err)
	require.Len(t, threads, 3)

	// Most recent activity first
	assert.Equal(t, "thr-2", threads[0].ID)
	assert.Equal(t, "thr-0", threads[2].ID)
}

func TestStore_CreatorCounts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	assert.Equal(t, 0, store.OpenCountForCreator(ctx, "creator-1"))
	assert.Equal(t, 0, store.WaitingForCreatorCount(ctx, "creator-1"))

	first, firstMsg := newTestThread("thr-1", "sender-1", "creator-1")
	require.NoError(t, store.CreateThread(ctx, first, firstMsg))
	second, secondMsg := newTestThread("thr-2", "sender-2", "creator-1")
	require.NoError(t, store.CreateThread(ctx, second, secondMsg))

	// Creator answers one thread, so only the other still waits on them
	require.NoError(t, store.AddMessage(ctx, &ThreadMessage{
		ID:         "msg-reply",
		ThreadID:   "thr-1",
		AuthorType: AuthorCreator,
		Message:    "on it",
		CreatedAt:  time.Now().UTC(),
	}))

	assert.Equal(t, 2, store.OpenCountForCreator(ctx, "creator-1"))
	assert.Equal(t, 1, store.WaitingForCreatorCount(ctx, "creator-1"))
}
