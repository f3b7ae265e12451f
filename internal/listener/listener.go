// ABOUTME: Inbound message pipeline: classify, route to threads, log events
// ABOUTME: Fires summarization trigger checks after each processed message

package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/siamak-p/dealdesk/internal/store"
	"github.com/siamak-p/dealdesk/internal/summarize"
	"github.com/siamak-p/dealdesk/internal/thread"
)

// minConfidence is the classifier confidence below which detections and
// continuation judgments are ignored
const minConfidence = 0.7

// ErrEmptyMessage rejects inbound messages with no text
var ErrEmptyMessage = errors.New("empty message")

// Action describes what the pipeline did with an inbound message
type Action string

const (
	ActionCreated  Action = "created"
	ActionExtended Action = "extended"
	ActionResolved Action = "resolved"
	ActionIgnored  Action = "ignored"
)

// Inbound is one message entering the pipeline
type Inbound struct {
	SenderID       string `json:"sender_id"`
	CreatorID      string `json:"creator_id"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
	AuthorID       string `json:"author_id,omitempty"`
	Role           string `json:"role,omitempty"`
	Text           string `json:"text"`
}

// Outcome reports the pipeline's decision for one inbound message
type Outcome struct {
	Action   Action        `json:"action"`
	ThreadID string        `json:"thread_id,omitempty"`
	Thread   *store.Thread `json:"thread,omitempty"`
	Reason   string        `json:"reason,omitempty"`
}

// Detection is the classifier's judgment on a fresh message
type Detection struct {
	IsRelevant   bool
	TopicSummary string
	Amount       string
	Urgency      string
	Confidence   float64
	Reason       string
}

// Continuation is the classifier's judgment on a message arriving while a
// thread is already open
type Continuation struct {
	IsContinuation bool
	IsClosure      bool
	Confidence     float64
	Reason         string
}

// Classifier decides whether messages belong in a negotiation thread.
// Implementations may call out to a model; KeywordClassifier ships as a
// local fallback.
type Classifier interface {
	Detect(ctx context.Context, message string, recentContext []string) (*Detection, error)
	CheckContinuation(ctx context.Context, message string, t *store.Thread, recent []*store.ThreadMessage) (*Continuation, error)
}

// Trigger is the summarization entry point the pipeline pokes after each
// processed message
type Trigger interface {
	CheckAndTrigger(ctx context.Context, key summarize.Key) error
}

// EventLogger records raw conversation events for later compaction
type EventLogger interface {
	LogChatEvent(ctx context.Context, event *store.ChatEvent) error
}

// Pipeline is the inbound message processor. Every message is logged as a
// chat event and checked against the summarization trigger; sender
// messages additionally flow through thread detection and continuation.
type Pipeline struct {
	threads    *thread.Service
	classifier Classifier
	events     EventLogger
	trigger    Trigger
	logger     *slog.Logger
}

// New creates an inbound pipeline. Trigger may be nil when summarization
// is disabled.
func New(threads *thread.Service, classifier Classifier, events EventLogger, trigger Trigger, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		threads:    threads,
		classifier: classifier,
		events:     events,
		trigger:    trigger,
		logger:     logger.With("component", "listener"),
	}
}

// Process runs one inbound message through the pipeline and reports what
// happened to it. Event logging and trigger checks are best-effort; only
// thread routing failures surface as errors.
func (p *Pipeline) Process(ctx context.Context, in *Inbound) (*Outcome, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	p.logEvent(ctx, in, text)

	outcome, err := p.routeToThread(ctx, in, text)
	if err != nil {
		return nil, err
	}

	if p.trigger != nil {
		key := summarize.Key{
			PartyA:         in.SenderID,
			PartyB:         in.CreatorID,
			ConversationID: in.ConversationID,
		}
		if err := p.trigger.CheckAndTrigger(ctx, key); err != nil {
			p.logger.Error("summarization trigger check failed",
				"sender_id", in.SenderID,
				"creator_id", in.CreatorID,
				"error", err)
		}
	}

	return outcome, nil
}

func (p *Pipeline) routeToThread(ctx context.Context, in *Inbound, text string) (*Outcome, error) {
	active, err := p.threads.GetActiveThread(ctx, in.SenderID, in.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("looking up active thread: %w", err)
	}

	if active != nil {
		return p.handleActiveThread(ctx, active, text)
	}

	detection, err := p.classifier.Detect(ctx, text, nil)
	if err != nil {
		return nil, fmt.Errorf("classifying message: %w", err)
	}
	if !detection.IsRelevant || detection.Confidence < minConfidence {
		p.logger.Debug("message not thread-worthy",
			"sender_id", in.SenderID,
			"confidence", detection.Confidence,
			"reason", detection.Reason)
		return &Outcome{Action: ActionIgnored, Reason: detection.Reason}, nil
	}

	created, err := p.threads.CreateThread(ctx, in.SenderID, in.CreatorID, in.ConversationID, detection.TopicSummary, text)
	if err != nil {
		return nil, fmt.Errorf("creating thread: %w", err)
	}
	p.logger.Info("thread created",
		"thread_id", created.ID,
		"sender_id", in.SenderID,
		"creator_id", in.CreatorID,
		"topic", detection.TopicSummary)
	return &Outcome{Action: ActionCreated, ThreadID: created.ID, Thread: created}, nil
}

func (p *Pipeline) handleActiveThread(ctx context.Context, active *store.Thread, text string) (*Outcome, error) {
	recent, err := p.threads.RecentMessages(ctx, active.ID, 5)
	if err != nil {
		return nil, fmt.Errorf("fetching recent messages: %w", err)
	}

	cont, err := p.classifier.CheckContinuation(ctx, text, active, recent)
	if err != nil {
		return nil, fmt.Errorf("checking continuation: %w", err)
	}

	if cont.IsClosure && cont.Confidence >= minConfidence {
		if _, err := p.threads.Resolve(ctx, active.ID); err != nil {
			return nil, fmt.Errorf("resolving thread: %w", err)
		}
		p.logger.Info("thread resolved by closure", "thread_id", active.ID, "reason", cont.Reason)
		return &Outcome{Action: ActionResolved, ThreadID: active.ID, Reason: cont.Reason}, nil
	}

	if cont.IsContinuation && cont.Confidence >= minConfidence {
		if _, err := p.threads.AddMessage(ctx, active.ID, store.AuthorSender, text); err != nil {
			return nil, fmt.Errorf("adding message: %w", err)
		}
		return &Outcome{Action: ActionExtended, ThreadID: active.ID, Thread: active}, nil
	}

	p.logger.Debug("message unrelated to open thread",
		"thread_id", active.ID,
		"confidence", cont.Confidence)
	return &Outcome{Action: ActionIgnored, ThreadID: active.ID, Reason: cont.Reason}, nil
}

// logEvent records the raw message for summarization. Failures are logged
// and swallowed so a storage hiccup never blocks message handling.
func (p *Pipeline) logEvent(ctx context.Context, in *Inbound, text string) {
	if p.events == nil {
		return
	}

	role := store.ChatEventRole(in.Role)
	if role != store.RoleHuman && role != store.RoleAI {
		role = store.RoleHuman
	}
	authorID := in.AuthorID
	if authorID == "" {
		authorID = in.SenderID
	}
	id := in.MessageID
	if id == "" {
		id = fmt.Sprintf("evt-%s", uuid.New().String())
	}

	err := p.events.LogChatEvent(ctx, &store.ChatEvent{
		ID:             id,
		PairID:         store.PairID(in.SenderID, in.CreatorID),
		ConversationID: in.ConversationID,
		AuthorID:       authorID,
		Role:           role,
		Text:           text,
	})
	if err != nil {
		p.logger.Error("failed to log chat event",
			"sender_id", in.SenderID,
			"creator_id", in.CreatorID,
			"error", err)
	}
}
