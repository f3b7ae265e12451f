// ABOUTME: Keyword-based classifier for negotiation detection and closure
// ABOUTME: Local fallback when no model-backed classifier is wired in

package listener

import (
	"context"
	"strings"

	"github.com/siamak-p/dealdesk/internal/store"
)

var defaultTopicKeywords = []string{
	"price", "pay", "payment", "invoice", "rate", "budget", "offer",
	"deal", "discount", "refund", "quote", "fee", "loan", "invest",
	"buy", "sell", "money", "commission", "sponsor",
}

var defaultClosureKeywords = []string{
	"thanks, all set", "payment received", "got the money", "never mind",
	"cancel that", "deal is done", "we're done here", "withdraw my offer",
}

// KeywordClassifier is a trivial substring classifier. It has no notion of
// context beyond the literal message, so every positive match is reported
// at a fixed confidence just above the pipeline's acceptance floor.
type KeywordClassifier struct {
	TopicKeywords   []string
	ClosureKeywords []string
}

// NewKeywordClassifier returns a classifier with the default keyword sets
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		TopicKeywords:   defaultTopicKeywords,
		ClosureKeywords: defaultClosureKeywords,
	}
}

func (k *KeywordClassifier) Detect(ctx context.Context, message string, recentContext []string) (*Detection, error) {
	lower := strings.ToLower(message)
	for _, kw := range k.TopicKeywords {
		if strings.Contains(lower, kw) {
			return &Detection{
				IsRelevant:   true,
				TopicSummary: summarizeTopic(message),
				Urgency:      "normal",
				Confidence:   0.75,
				Reason:       "keyword: " + kw,
			}, nil
		}
	}
	return &Detection{IsRelevant: false, Reason: "no keyword match"}, nil
}

func (k *KeywordClassifier) CheckContinuation(ctx context.Context, message string, t *store.Thread, recent []*store.ThreadMessage) (*Continuation, error) {
	lower := strings.ToLower(message)
	for _, kw := range k.ClosureKeywords {
		if strings.Contains(lower, kw) {
			return &Continuation{
				IsClosure:  true,
				Confidence: 0.75,
				Reason:     "closure keyword: " + kw,
			}, nil
		}
	}
	// While a thread is open, treat any non-closure message as part of it.
	// A keyword matcher cannot tell "unrelated" from "related" reliably.
	return &Continuation{
		IsContinuation: true,
		Confidence:     0.75,
		Reason:         "open thread default",
	}, nil
}

// summarizeTopic truncates the message into a short topic label
func summarizeTopic(message string) string {
	const maxLen = 80
	s := strings.TrimSpace(message)
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
