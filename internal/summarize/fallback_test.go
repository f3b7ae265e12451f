package summarize

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractive_DigestsMessages(t *testing.T) {
	e := NewExtractive()

	result, err := e.SummarizeWithFacts(context.Background(), "", []AuthoredMessage{
		{Author: "alice", Text: "can you lend me 500?"},
		{Author: "bob", Text: "let me think about it"},
	}, "alice", "bob")
	require.NoError(t, err)

	assert.Contains(t, result.CleanSummary, "Conversation between alice and bob (2 messages)")
	assert.Contains(t, result.CleanSummary, "alice: can you lend me 500?")

	// Numeric lines are promoted to high priority facts
	require.Len(t, result.HighFacts, 1)
	assert.Contains(t, result.HighFacts[0], "500")
	require.Len(t, result.MediumFacts, 1)
	assert.Contains(t, result.MediumFacts[0], "bob")
}

func TestExtractive_CarriesPreviousSummary(t *testing.T) {
	e := NewExtractive()

	result, err := e.SummarizeWithFacts(context.Background(), "earlier: they agreed on 450", []AuthoredMessage{
		{Author: "alice", Text: "when can you pay?"},
	}, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.CleanSummary, "earlier: they agreed on 450"))
}

func TestExtractive_EmptyInput(t *testing.T) {
	e := NewExtractive()

	result, err := e.SummarizeWithFacts(context.Background(), "prev", nil, "alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, result.CleanSummary, "no new messages yields nothing to persist")
}

func TestExtractive_BoundsSummaryLength(t *testing.T) {
	e := &Extractive{MaxSummaryLen: 50}

	long := strings.Repeat("negotiation detail ", 20)
	result, err := e.SummarizeWithFacts(context.Background(), "", []AuthoredMessage{
		{Author: "alice", Text: long},
		{Author: "bob", Text: long},
	}, "alice", "bob")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(result.SummaryText), 50)
}
