// ABOUTME: Operator endpoints for the summarization retry queue
// ABOUTME: Manual sweep, queue statistics and dead letter inspection

package httpapi

import (
	"net/http"
	"time"

	"github.com/siamak-p/dealdesk/internal/store"
)

// DeadLetterResponse is the JSON shape for a parked retry job
type DeadLetterResponse struct {
	ID             string `json:"id"`
	PairID         string `json:"pair_id"`
	PartyA         string `json:"party_a"`
	PartyB         string `json:"party_b"`
	ConversationID string `json:"conversation_id"`
	AttemptCount   int    `json:"attempt_count"`
	LastError      string `json:"last_error"`
	CreatedAt      string `json:"created_at"`
	FailedAt       string `json:"failed_at"`
}

// handleRetryRun handles POST /api/v1/admin/retries/run.
// Forces one retry queue pass without waiting for the worker's ticker.
func (s *Server) handleRetryRun(w http.ResponseWriter, r *http.Request) {
	stats, err := s.retries.RunOnce(r.Context())
	if err != nil {
		s.logger.Error("manual retry pass failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "retry pass failed")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleRetryStats handles GET /api/v1/admin/retries/stats
func (s *Server) handleRetryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.admin.GetRetryQueueStats(r.Context())
	if err != nil {
		s.logger.Error("retry stats lookup failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to fetch retry stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleRetryFailed handles GET /api/v1/admin/retries/failed?limit=N
func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)

	letters, err := s.admin.ListDeadLetters(r.Context(), limit)
	if err != nil {
		s.logger.Error("dead letter lookup failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to fetch dead letters")
		return
	}

	out := make([]DeadLetterResponse, 0, len(letters))
	for _, d := range letters {
		out = append(out, deadLetterResponse(d))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"failed": out})
}

func deadLetterResponse(d *store.DeadLetter) DeadLetterResponse {
	return DeadLetterResponse{
		ID:             d.ID,
		PairID:         d.PairID,
		PartyA:         d.PartyA,
		PartyB:         d.PartyB,
		ConversationID: d.ConversationID,
		AttemptCount:   d.AttemptCount,
		LastError:      d.LastError,
		CreatedAt:      d.CreatedAt.UTC().Format(time.RFC3339),
		FailedAt:       d.FailedAt.UTC().Format(time.RFC3339),
	}
}
