// ABOUTME: HTTP API server wiring for dealdesk
// ABOUTME: chi router with middleware, route registration and JSON helpers

package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/siamak-p/dealdesk/internal/listener"
	"github.com/siamak-p/dealdesk/internal/retry"
	"github.com/siamak-p/dealdesk/internal/store"
	"github.com/siamak-p/dealdesk/internal/thread"
)

// RetryRunner forces a retry queue pass from the operator API
type RetryRunner interface {
	RunOnce(ctx context.Context) (*retry.RunStats, error)
}

// AdminStore exposes retry queue inspection for operators
type AdminStore interface {
	GetRetryQueueStats(ctx context.Context) (*store.RetryQueueStats, error)
	ListDeadLetters(ctx context.Context, limit int) ([]*store.DeadLetter, error)
}

// Server bundles the HTTP handlers with their dependencies
type Server struct {
	threads  *thread.Service
	pipeline *listener.Pipeline
	retries  RetryRunner
	admin    AdminStore
	logger   *slog.Logger
}

// New creates the API server. retries and admin may be nil when the retry
// worker is not wired; the admin endpoints then return 404.
func New(threads *thread.Service, pipeline *listener.Pipeline, retries RetryRunner, admin AdminStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		threads:  threads,
		pipeline: pipeline,
		retries:  retries,
		admin:    admin,
		logger:   logger.With("component", "httpapi"),
	}
}

// Handler builds the chi router with all routes and middleware
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/messages", s.handleInboundMessage)
		r.Post("/messages/{id}/delivered", s.handleMarkDelivered)

		r.Route("/threads", func(r chi.Router) {
			r.Get("/active", s.handleActiveThread)
			r.Get("/{id}", s.handleGetThread)
			r.Get("/{id}/messages", s.handleThreadMessages)
			r.Post("/{id}/messages", s.handleAddMessage)
			r.Get("/{id}/undelivered", s.handleUndelivered)
			r.Post("/{id}/resolve", s.handleResolve)
		})

		r.Route("/creators/{id}", func(r chi.Router) {
			r.Get("/threads", s.handleCreatorThreads)
			r.Get("/threads/counts", s.handleCreatorCounts)
		})

		if s.retries != nil && s.admin != nil {
			r.Route("/admin/retries", func(r chi.Router) {
				r.Post("/run", s.handleRetryRun)
				r.Get("/stats", s.handleRetryStats)
				r.Get("/failed", s.handleRetryFailed)
			})
		}
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
