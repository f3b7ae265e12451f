// ABOUTME: Extractive fallback summarizer used when no model is wired in
// ABOUTME: Produces a compact transcript digest with digit-bearing lines as facts

package summarize

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Extractive is a local summarizer that needs no external service. It
// digests the message run into a short transcript and promotes lines
// carrying numbers (amounts, dates, quantities) to high priority facts.
// Intended as a wiring default and for tests; production deployments
// plug in a model-backed Summarizer.
type Extractive struct {
	// MaxSummaryLen bounds the generated summary text
	MaxSummaryLen int
}

// NewExtractive returns a fallback summarizer with default bounds
func NewExtractive() *Extractive {
	return &Extractive{MaxSummaryLen: 600}
}

func (e *Extractive) SummarizeWithFacts(ctx context.Context, previousSummary string, messages []AuthoredMessage, partyA, partyB string) (*Result, error) {
	if len(messages) == 0 {
		return &Result{}, nil
	}

	maxLen := e.MaxSummaryLen
	if maxLen <= 0 {
		maxLen = 600
	}

	var b strings.Builder
	if previousSummary != "" {
		b.WriteString(previousSummary)
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("Conversation between %s and %s (%d messages):\n", partyA, partyB, len(messages)))

	var high, medium []string
	for _, m := range messages {
		line := fmt.Sprintf("%s: %s", m.Author, firstFragment(m.Text))
		b.WriteString("- ")
		b.WriteString(line)
		b.WriteString("\n")

		if containsDigit(m.Text) {
			high = append(high, line)
		} else {
			medium = append(medium, line)
		}
	}

	summary := b.String()
	if len(summary) > maxLen {
		summary = summary[:maxLen]
	}

	return &Result{
		SummaryText:  summary,
		CleanSummary: strings.TrimSpace(summary),
		HighFacts:    high,
		MediumFacts:  medium,
	}, nil
}

// firstFragment keeps the leading part of a message for digest lines
func firstFragment(s string) string {
	const maxLen = 60
	s = strings.TrimSpace(s)
	if idx := strings.IndexAny(s, "\n"); idx > 0 {
		s = s[:idx]
	}
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
