// ABOUTME: HTTP handlers for threads, messages and delivery acknowledgment
// ABOUTME: JSON request/response types mirror the storage model with string timestamps

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/siamak-p/dealdesk/internal/listener"
	"github.com/siamak-p/dealdesk/internal/store"
)

// ThreadResponse is the JSON shape for a negotiation thread
type ThreadResponse struct {
	ID                  string  `json:"id"`
	SenderID            string  `json:"sender_id"`
	CreatorID           string  `json:"creator_id"`
	ConversationID      string  `json:"conversation_id,omitempty"`
	Status              string  `json:"status"`
	WaitingFor          string  `json:"waiting_for"`
	TopicSummary        string  `json:"topic_summary"`
	LastSenderMessage   *string `json:"last_sender_message,omitempty"`
	LastCreatorResponse *string `json:"last_creator_response,omitempty"`
	CreatedAt           string  `json:"created_at"`
	LastActivityAt      string  `json:"last_activity_at"`
}

// MessageResponse is the JSON shape for a thread message
type MessageResponse struct {
	ID         string `json:"id"`
	ThreadID   string `json:"thread_id"`
	AuthorType string `json:"author_type"`
	Message    string `json:"message"`
	Delivered  bool   `json:"delivered"`
	CreatedAt  string `json:"created_at"`
}

// AddMessageRequest is the JSON request body for POST /api/v1/threads/{id}/messages
type AddMessageRequest struct {
	AuthorType string `json:"author_type"`
	Message    string `json:"message"`
}

func threadResponse(t *store.Thread) *ThreadResponse {
	return &ThreadResponse{
		ID:                  t.ID,
		SenderID:            t.SenderID,
		CreatorID:           t.CreatorID,
		ConversationID:      t.ConversationID,
		Status:              string(t.Status),
		WaitingFor:          string(t.WaitingFor),
		TopicSummary:        t.TopicSummary,
		LastSenderMessage:   t.LastSenderMessage,
		LastCreatorResponse: t.LastCreatorResponse,
		CreatedAt:           t.CreatedAt.UTC().Format(time.RFC3339),
		LastActivityAt:      t.LastActivityAt.UTC().Format(time.RFC3339),
	}
}

func messageResponses(msgs []*store.ThreadMessage) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageResponse{
			ID:         m.ID,
			ThreadID:   m.ThreadID,
			AuthorType: string(m.AuthorType),
			Message:    m.Message,
			Delivered:  m.Delivered,
			CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

// handleInboundMessage handles POST /api/v1/messages.
// The message runs through the full pipeline: classification, thread
// routing, event logging and the summarization trigger check.
func (s *Server) handleInboundMessage(w http.ResponseWriter, r *http.Request) {
	var in listener.Inbound
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if in.SenderID == "" || in.CreatorID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "sender_id and creator_id are required")
		return
	}

	outcome, err := s.pipeline.Process(r.Context(), &in)
	if err != nil {
		if errors.Is(err, listener.ErrEmptyMessage) {
			s.sendJSONError(w, http.StatusBadRequest, "text is required")
			return
		}
		s.logger.Error("inbound message processing failed",
			"sender_id", in.SenderID,
			"creator_id", in.CreatorID,
			"error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	s.writeJSON(w, http.StatusOK, outcome)
}

// handleActiveThread handles GET /api/v1/threads/active?sender_id=X&creator_id=Y
func (s *Server) handleActiveThread(w http.ResponseWriter, r *http.Request) {
	senderID := r.URL.Query().Get("sender_id")
	creatorID := r.URL.Query().Get("creator_id")
	if senderID == "" || creatorID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "sender_id and creator_id are required")
		return
	}

	t, err := s.threads.GetActiveThread(r.Context(), senderID, creatorID)
	if err != nil {
		s.logger.Error("active thread lookup failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to look up thread")
		return
	}
	if t == nil {
		s.sendJSONError(w, http.StatusNotFound, "no open thread for pair")
		return
	}

	s.writeJSON(w, http.StatusOK, threadResponse(t))
}

// handleGetThread handles GET /api/v1/threads/{id}
func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := s.threads.GetThread(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "thread not found")
			return
		}
		s.logger.Error("thread lookup failed", "thread_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to look up thread")
		return
	}

	s.writeJSON(w, http.StatusOK, threadResponse(t))
}

// handleThreadMessages handles GET /api/v1/threads/{id}/messages?limit=N
func (s *Server) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := parseLimit(r, 10)

	msgs, err := s.threads.RecentMessages(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("message history lookup failed", "thread_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": id,
		"messages":  messageResponses(msgs),
	})
}

// handleAddMessage handles POST /api/v1/threads/{id}/messages
func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req AddMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	author := store.AuthorType(req.AuthorType)
	if author != store.AuthorSender && author != store.AuthorCreator {
		s.sendJSONError(w, http.StatusBadRequest, "author_type must be sender or creator")
		return
	}
	if req.Message == "" {
		s.sendJSONError(w, http.StatusBadRequest, "message is required")
		return
	}

	messageID, err := s.threads.AddMessage(r.Context(), id, author, req.Message)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "thread not found")
			return
		}
		s.logger.Error("add message failed", "thread_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to add message")
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{"message_id": messageID})
}

// handleUndelivered handles GET /api/v1/threads/{id}/undelivered?for=sender|creator.
// The for parameter names the recipient: messages authored by the opposite
// party that the recipient has not yet acknowledged.
func (s *Server) handleUndelivered(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	recipient := store.AuthorType(r.URL.Query().Get("for"))
	if recipient != store.AuthorSender && recipient != store.AuthorCreator {
		s.sendJSONError(w, http.StatusBadRequest, "for must be sender or creator")
		return
	}

	msgs, err := s.threads.UndeliveredMessages(r.Context(), id, recipient)
	if err != nil {
		s.logger.Error("undelivered lookup failed", "thread_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to fetch undelivered messages")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": id,
		"messages":  messageResponses(msgs),
	})
}

// handleMarkDelivered handles POST /api/v1/messages/{id}/delivered
func (s *Server) handleMarkDelivered(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, err := s.threads.MarkDelivered(r.Context(), id)
	if err != nil {
		s.logger.Error("mark delivered failed", "message_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to mark message delivered")
		return
	}
	if !ok {
		s.sendJSONError(w, http.StatusNotFound, "message not found")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleResolve handles POST /api/v1/threads/{id}/resolve
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, err := s.threads.Resolve(r.Context(), id)
	if err != nil {
		s.logger.Error("resolve failed", "thread_id", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to resolve thread")
		return
	}
	if !ok {
		s.sendJSONError(w, http.StatusNotFound, "thread not found")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

// handleCreatorThreads handles GET /api/v1/creators/{id}/threads
func (s *Server) handleCreatorThreads(w http.ResponseWriter, r *http.Request) {
	creatorID := chi.URLParam(r, "id")

	threads, err := s.threads.OpenThreadsForCreator(r.Context(), creatorID)
	if err != nil {
		s.logger.Error("creator threads lookup failed", "creator_id", creatorID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to fetch threads")
		return
	}

	out := make([]*ThreadResponse, 0, len(threads))
	for _, t := range threads {
		out = append(out, threadResponse(t))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"threads": out})
}

// handleCreatorCounts handles GET /api/v1/creators/{id}/threads/counts
func (s *Server) handleCreatorCounts(w http.ResponseWriter, r *http.Request) {
	creatorID := chi.URLParam(r, "id")
	counts := s.threads.CountsForCreator(r.Context(), creatorID)
	s.writeJSON(w, http.StatusOK, counts)
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
