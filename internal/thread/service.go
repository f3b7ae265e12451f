// ABOUTME: Thread lifecycle service: creation, turn-taking, resolution, delivery queue
// ABOUTME: Enforces the state machine rules on top of the store's transactions

package thread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/siamak-p/dealdesk/internal/store"
)

// Store defines what the thread service needs from storage
type Store interface {
	CreateThread(ctx context.Context, thread *store.Thread, initial *store.ThreadMessage) error
	GetThread(ctx context.Context, id string) (*store.Thread, error)
	GetActiveThread(ctx context.Context, senderID, creatorID string) (*store.Thread, error)
	OpenThreadsForCreator(ctx context.Context, creatorID string) ([]*store.Thread, error)
	AddMessage(ctx context.Context, msg *store.ThreadMessage) error
	UpdateThreadStatus(ctx context.Context, threadID string, status store.ThreadStatus) (bool, error)
	ExpireOldThreads(ctx context.Context, olderThan time.Duration) (int, error)
	OpenCountForCreator(ctx context.Context, creatorID string) int
	WaitingForCreatorCount(ctx context.Context, creatorID string) int
	UndeliveredMessages(ctx context.Context, threadID string, forAuthor store.AuthorType) ([]*store.ThreadMessage, error)
	MarkMessageDelivered(ctx context.Context, messageID string) (bool, error)
	RecentMessages(ctx context.Context, threadID string, limit int) ([]*store.ThreadMessage, error)
}

// Service implements the negotiation thread state machine and the delivery
// queue over the store.
type Service struct {
	store  Store
	logger *slog.Logger
}

// New creates a thread service
func New(st Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  st,
		logger: logger.With("component", "thread"),
	}
}

// Counts holds the soft-fail aggregate counters for a creator
type Counts struct {
	Open              int `json:"open"`
	WaitingForCreator int `json:"waiting_for_creator"`
}

// CreateThread opens a negotiation thread for the pair with its first
// sender message, atomically. A freshly created thread always has
// status=open and waiting_for=creator.
//
// At most one open thread exists per pair; if a concurrent caller won the
// creation race, the surviving thread is looked up and returned instead.
func (s *Service) CreateThread(ctx context.Context, senderID, creatorID, conversationID, topicSummary, initialMessage string) (*store.Thread, error) {
	now := time.Now()
	thread := &store.Thread{
		ID:                fmt.Sprintf("thr-%s", uuid.New().String()),
		SenderID:          senderID,
		CreatorID:         creatorID,
		ConversationID:    conversationID,
		Status:            store.ThreadStatusOpen,
		WaitingFor:        store.AuthorCreator,
		TopicSummary:      topicSummary,
		LastSenderMessage: &initialMessage,
		CreatedAt:         now,
		LastActivityAt:    now,
	}
	initial := &store.ThreadMessage{
		ID:         fmt.Sprintf("msg-%s", uuid.New().String()),
		ThreadID:   thread.ID,
		AuthorType: store.AuthorSender,
		Message:    initialMessage,
		CreatedAt:  now,
	}

	if err := s.store.CreateThread(ctx, thread, initial); err != nil {
		// Another request may have created the open thread for this pair
		// between the caller's check and our insert
		if errors.Is(err, store.ErrDuplicateThread) {
			existing, lookupErr := s.store.GetActiveThread(ctx, senderID, creatorID)
			if lookupErr == nil {
				s.logger.Debug("found existing open thread after race",
					"thread_id", existing.ID,
					"sender_id", senderID,
					"creator_id", creatorID)
				return existing, nil
			}
			s.logger.Error("retry lookup failed after duplicate error", "lookup_error", lookupErr)
		}
		return nil, err
	}

	s.logger.Info("negotiation thread created",
		"thread_id", thread.ID,
		"sender_id", senderID,
		"creator_id", creatorID)
	return thread, nil
}

// GetActiveThread returns the most recently created open thread for the
// pair, or nil when the pair has none.
func (s *Service) GetActiveThread(ctx context.Context, senderID, creatorID string) (*store.Thread, error) {
	thread, err := s.store.GetActiveThread(ctx, senderID, creatorID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return thread, err
}

// GetThread returns a thread by id, or ErrNotFound
func (s *Service) GetThread(ctx context.Context, id string) (*store.Thread, error) {
	return s.store.GetThread(ctx, id)
}

// OpenThreadsForCreator returns the creator's open threads, most recently
// active first.
func (s *Service) OpenThreadsForCreator(ctx context.Context, creatorID string) ([]*store.Thread, error) {
	return s.store.OpenThreadsForCreator(ctx, creatorID)
}

// AddMessage records a turn on the thread. The thread's matching
// last-message field, waiting_for and last_activity_at are updated in the
// same transaction: whoever authored, the opposite party acts next.
func (s *Service) AddMessage(ctx context.Context, threadID string, author store.AuthorType, message string) (string, error) {
	msg := &store.ThreadMessage{
		ID:         fmt.Sprintf("msg-%s", uuid.New().String()),
		ThreadID:   threadID,
		AuthorType: author,
		Message:    message,
		CreatedAt:  time.Now(),
	}
	if err := s.store.AddMessage(ctx, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// UpdateStatus writes the thread status unconditionally. Returns false if
// the thread does not exist. Callers are responsible for only moving open
// threads; resolved and expired are terminal.
func (s *Service) UpdateStatus(ctx context.Context, threadID string, status store.ThreadStatus) (bool, error) {
	return s.store.UpdateThreadStatus(ctx, threadID, status)
}

// Resolve moves the thread to the resolved terminal state
func (s *Service) Resolve(ctx context.Context, threadID string) (bool, error) {
	return s.store.UpdateThreadStatus(ctx, threadID, store.ThreadStatusResolved)
}

// ExpireOldThreads bulk-expires open threads idle longer than olderThan.
// Returns the number of threads expired.
func (s *Service) ExpireOldThreads(ctx context.Context, olderThan time.Duration) (int, error) {
	return s.store.ExpireOldThreads(ctx, olderThan)
}

// CountsForCreator returns the creator's aggregate counters. Both counts
// degrade to zero on storage failure rather than failing the caller.
func (s *Service) CountsForCreator(ctx context.Context, creatorID string) Counts {
	return Counts{
		Open:              s.store.OpenCountForCreator(ctx, creatorID),
		WaitingForCreator: s.store.WaitingForCreatorCount(ctx, creatorID),
	}
}

// UndeliveredMessages returns the messages waiting for forAuthor: those
// authored by the opposite party and not yet acknowledged, oldest first.
func (s *Service) UndeliveredMessages(ctx context.Context, threadID string, forAuthor store.AuthorType) ([]*store.ThreadMessage, error) {
	return s.store.UndeliveredMessages(ctx, threadID, forAuthor)
}

// MarkDelivered acknowledges a message. Idempotent: true whenever the
// message exists, false when it doesn't.
func (s *Service) MarkDelivered(ctx context.Context, messageID string) (bool, error) {
	return s.store.MarkMessageDelivered(ctx, messageID)
}

// RecentMessages returns the last limit messages in chronological order
func (s *Service) RecentMessages(ctx context.Context, threadID string, limit int) ([]*store.ThreadMessage, error) {
	return s.store.RecentMessages(ctx, threadID, limit)
}
