package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siamak-p/dealdesk/internal/listener"
	"github.com/siamak-p/dealdesk/internal/retry"
	"github.com/siamak-p/dealdesk/internal/store"
	"github.com/siamak-p/dealdesk/internal/thread"
)

type testServer struct {
	handler http.Handler
	store   *store.SQLiteStore
	threads *thread.Service
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		st.Close()
	})

	threads := thread.New(st, nil)
	pipeline := listener.New(threads, listener.NewKeywordClassifier(), st, nil, nil)
	worker := retry.New(st, nil, retry.Options{}, nil)
	srv := New(threads, pipeline, worker, st, nil)

	return &testServer{handler: srv.Handler(), store: st, threads: threads}
}

func (ts *testServer) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func (ts *testServer) createThread(t *testing.T, senderID, creatorID string) *store.Thread {
	t.Helper()
	thr, err := ts.threads.CreateThread(context.Background(), senderID, creatorID, "conv-1", "loan request", "can you lend me 500?")
	require.NoError(t, err)
	return thr
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.request(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestInboundMessage_CreatesThread(t *testing.T) {
	ts := setupTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/v1/messages", map[string]string{
		"sender_id":       "sender-1",
		"creator_id":      "creator-1",
		"conversation_id": "conv-1",
		"text":            "what is your rate for a sponsored post?",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	outcome := decodeJSON[listener.Outcome](t, rec)
	assert.Equal(t, listener.ActionCreated, outcome.Action)
	assert.NotEmpty(t, outcome.ThreadID)
	require.NotNil(t, outcome.Thread)
	assert.Equal(t, "sender-1", outcome.Thread.SenderID)
}

func TestInboundMessage_Validation(t *testing.T) {
	ts := setupTestServer(t)

	// Missing ids
	rec := ts.request(t, http.MethodPost, "/api/v1/messages", map[string]string{
		"text": "hello",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Blank text
	rec = ts.request(t, http.MethodPost, "/api/v1/messages", map[string]string{
		"sender_id":  "sender-1",
		"creator_id": "creator-1",
		"text":       "   ",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Malformed body
	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewBufferString("{not json"))
	rec2 := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestActiveThread(t *testing.T) {
	ts := setupTestServer(t)
	thr := ts.createThread(t, "sender-1", "creator-1")

	rec := ts.request(t, http.MethodGet, "/api/v1/threads/active?sender_id=sender-1&creator_id=creator-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON[ThreadResponse](t, rec)
	assert.Equal(t, thr.ID, body.ID)
	assert.Equal(t, "open", body.Status)
	assert.Equal(t, "creator", body.WaitingFor)

	// No thread for an unknown pair
	rec = ts.request(t, http.MethodGet, "/api/v1/threads/active?sender_id=nobody&creator_id=creator-1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Missing query params
	rec = ts.request(t, http.MethodGet, "/api/v1/threads/active?sender_id=sender-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetThread(t *testing.T) {
	ts := setupTestServer(t)
	thr := ts.createThread(t, "sender-1", "creator-1")

	rec := ts.request(t, http.MethodGet, "/api/v1/threads/"+thr.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON[ThreadResponse](t, rec)
	assert.Equal(t, thr.ID, body.ID)
	assert.Equal(t, "loan request", body.TopicSummary)
	require.NotNil(t, body.LastSenderMessage)
	assert.Equal(t, "can you lend me 500?", *body.LastSenderMessage)

	rec = ts.request(t, http.MethodGet, "/api/v1/threads/thr-missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddMessage(t *testing.T) {
	ts := setupTestServer(t)
	thr := ts.createThread(t, "sender-1", "creator-1")

	rec := ts.request(t, http.MethodPost, "/api/v1/threads/"+thr.ID+"/messages", AddMessageRequest{
		AuthorType: "creator",
		Message:    "sure, what terms?",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeJSON[map[string]string](t, rec)
	assert.NotEmpty(t, body["message_id"])

	// Creator reply flips the turn back to the sender
	updated, err := ts.threads.GetThread(context.Background(), thr.ID)
	require.NoError(t, err)
	assert.Equal(t, store.AuthorSender, updated.WaitingFor)

	// Bad author
	rec = ts.request(t, http.MethodPost, "/api/v1/threads/"+thr.ID+"/messages", AddMessageRequest{
		AuthorType: "bot",
		Message:    "hi",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Empty message
	rec = ts.request(t, http.MethodPost, "/api/v1/threads/"+thr.ID+"/messages", AddMessageRequest{
		AuthorType: "sender",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown thread
	rec = ts.request(t, http.MethodPost, "/api/v1/threads/thr-missing/messages", AddMessageRequest{
		AuthorType: "sender",
		Message:    "hello?",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestThreadMessages(t *testing.T) {
	ts := setupTestServer(t)
	thr := ts.createThread(t, "sender-1", "creator-1")

	_, err := ts.threads.AddMessage(context.Background(), thr.ID, store.AuthorCreator, "what terms?")
	require.NoError(t, err)

	rec := ts.request(t, http.MethodGet, "/api/v1/threads/"+thr.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ThreadID string            `json:"thread_id"`
		Messages []MessageResponse `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, thr.ID, body.ThreadID)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "sender", body.Messages[0].AuthorType)
	assert.Equal(t, "creator", body.Messages[1].AuthorType)
}

func TestDeliveryFlow(t *testing.T) {
	ts := setupTestServer(t)
	thr := ts.createThread(t, "sender-1", "creator-1")

	// The opener is queued for the creator
	rec := ts.request(t, http.MethodGet, "/api/v1/threads/"+thr.ID+"/undelivered?for=creator", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Messages []MessageResponse `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Messages, 1)
	msgID := body.Messages[0].ID

	// Acknowledge it
	rec = ts.request(t, http.MethodPost, "/api/v1/messages/"+msgID+"/delivered", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Queue drained
	rec = ts.request(t, http.MethodGet, "/api/v1/threads/"+thr.ID+"/undelivered?for=creator", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body.Messages = nil
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Empty(t, body.Messages)

	// Unknown message
	rec = ts.request(t, http.MethodPost, "/api/v1/messages/msg-missing/delivered", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Invalid recipient
	rec = ts.request(t, http.MethodGet, "/api/v1/threads/"+thr.ID+"/undelivered?for=bot", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolve(t *testing.T) {
	ts := setupTestServer(t)
	thr := ts.createThread(t, "sender-1", "creator-1")

	rec := ts.request(t, http.MethodPost, "/api/v1/threads/"+thr.ID+"/resolve", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON[map[string]string](t, rec)
	assert.Equal(t, "resolved", body["status"])

	updated, err := ts.threads.GetThread(context.Background(), thr.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ThreadStatusResolved, updated.Status)

	rec = ts.request(t, http.MethodPost, "/api/v1/threads/thr-missing/resolve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreatorThreadsAndCounts(t *testing.T) {
	ts := setupTestServer(t)
	ts.createThread(t, "sender-1", "creator-1")
	ts.createThread(t, "sender-2", "creator-1")
	ts.createThread(t, "sender-3", "creator-other")

	rec := ts.request(t, http.MethodGet, "/api/v1/creators/creator-1/threads", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Threads []ThreadResponse `json:"threads"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Len(t, body.Threads, 2)

	rec = ts.request(t, http.MethodGet, "/api/v1/creators/creator-1/threads/counts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	counts := decodeJSON[thread.Counts](t, rec)
	assert.Equal(t, 2, counts.Open)
	assert.Equal(t, 2, counts.WaitingForCreator)
}

func TestAdminRetries(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()

	// One due job whose backlog is already empty: the pass resolves it
	require.NoError(t, ts.store.EnqueueRetry(ctx, &store.RetryJob{
		ID:             "rty-1",
		PairID:         store.PairID("sender-1", "creator-1"),
		PartyA:         "sender-1",
		PartyB:         "creator-1",
		ConversationID: "conv-1",
		NextRetryAt:    time.Now().Add(-time.Minute),
	}))

	rec := ts.request(t, http.MethodGet, "/api/v1/admin/retries/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeJSON[store.RetryQueueStats](t, rec)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Due)

	rec = ts.request(t, http.MethodPost, "/api/v1/admin/retries/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	run := decodeJSON[retry.RunStats](t, rec)
	assert.Equal(t, 1, run.Processed)
	assert.Equal(t, 1, run.Succeeded)

	rec = ts.request(t, http.MethodGet, "/api/v1/admin/retries/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats = decodeJSON[store.RetryQueueStats](t, rec)
	assert.Equal(t, 0, stats.Total)

	rec = ts.request(t, http.MethodGet, "/api/v1/admin/retries/failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var failed struct {
		Failed []DeadLetterResponse `json:"failed"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&failed))
	assert.Empty(t, failed.Failed)
}

func TestAdminRoutesAbsentWithoutWorker(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		st.Close()
	})

	threads := thread.New(st, nil)
	pipeline := listener.New(threads, listener.NewKeywordClassifier(), st, nil, nil)
	srv := New(threads, pipeline, nil, nil, nil)
	handler := srv.Handler()

	for _, path := range []string{
		"/api/v1/admin/retries/stats",
		"/api/v1/admin/retries/failed",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotFound, rec.Code, fmt.Sprintf("route %s should be absent", path))
	}
}
