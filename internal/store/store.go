// ABOUTME: Data types and sentinel errors for dealdesk persistence
// ABOUTME: Defines Thread, ThreadMessage, ChatEvent, Summary and RetryJob structs

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateThread is returned when creating a thread while another open
// thread already exists for the same sender/creator pair
var ErrDuplicateThread = errors.New("open thread already exists for pair")

// ThreadStatus is the lifecycle state of a negotiation thread.
// Open is the only non-terminal state; Resolved and Expired are terminal.
type ThreadStatus string

const (
	ThreadStatusOpen     ThreadStatus = "open"
	ThreadStatusResolved ThreadStatus = "resolved"
	ThreadStatusExpired  ThreadStatus = "expired"
)

// AuthorType identifies which party authored a message
type AuthorType string

const (
	AuthorSender  AuthorType = "sender"
	AuthorCreator AuthorType = "creator"
)

// Opposite returns the other party. Whoever authored last, the opposite
// party acts next.
func (a AuthorType) Opposite() AuthorType {
	if a == AuthorSender {
		return AuthorCreator
	}
	return AuthorSender
}

// Thread represents a persisted negotiation session between a sender and a
// creator about one topic. WaitingFor always names the party expected to
// respond next.
type Thread struct {
	ID                  string
	SenderID            string
	CreatorID           string
	ConversationID      string
	Status              ThreadStatus
	WaitingFor          AuthorType
	TopicSummary        string
	LastSenderMessage   *string
	LastCreatorResponse *string
	CreatedAt           time.Time
	LastActivityAt      time.Time
}

// ThreadMessage is a single turn within a thread. Delivered flips false to
// true when the opposite party acknowledges receipt.
type ThreadMessage struct {
	ID         string
	ThreadID   string
	AuthorType AuthorType
	Message    string
	Delivered  bool
	CreatedAt  time.Time
}

// ChatEventRole categorizes who produced a conversation event
type ChatEventRole string

const (
	RoleHuman ChatEventRole = "human"
	RoleAI    ChatEventRole = "ai"
)

// ChatEvent is a raw conversation event, the source material for
// summarization. Events are deleted in bulk when compacted into a summary.
type ChatEvent struct {
	ID             string
	PairID         string
	ConversationID string
	AuthorID       string
	Role           ChatEventRole
	Text           string
	TokenCount     int
	Deleted        bool
	CreatedAt      time.Time
}

// Summary is the durable compaction result for one conversation key.
// High and medium priority facts are retained; low priority facts are
// discarded with only their count recorded.
type Summary struct {
	PairID         string
	ConversationID string
	Summary        string
	HighFacts      []string
	MediumFacts    []string
	LowDiscarded   int
	UpdatedAt      time.Time
}

// RetryJob is a pending re-attempt of a failed summarization trigger
type RetryJob struct {
	ID             string
	PairID         string
	PartyA         string
	PartyB         string
	ConversationID string
	AttemptCount   int
	NextRetryAt    time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DeadLetter is a retry job parked after exhausting its attempts.
// It requires operator intervention; no further automatic action is taken.
type DeadLetter struct {
	ID             string
	PairID         string
	PartyA         string
	PartyB         string
	ConversationID string
	AttemptCount   int
	LastError      string
	CreatedAt      time.Time
	FailedAt       time.Time
}

// RetryQueueStats summarizes the retry queue for operator inspection
type RetryQueueStats struct {
	Total     int `json:"total"`
	Due       int `json:"due"`
	DeadTotal int `json:"dead_total"`
}
