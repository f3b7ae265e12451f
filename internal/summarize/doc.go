// ABOUTME: Package documentation for the summarize package
// ABOUTME: Describes trigger conditions, keyed exclusion and compaction flow

// Package summarize coordinates conversation compaction.
//
// The Coordinator watches active chat events per conversation key and,
// once the message count or token estimate crosses its threshold, runs an
// external Summarizer over the accumulated history. The result is saved as
// a durable summary with prioritized facts, after which the summarized
// source events are deleted.
//
// Triggered runs are fire-and-forget: CheckAndTrigger spawns a tracked
// background goroutine, and a failed run is converted into a durable retry
// job instead of surfacing to the caller. The synchronous Summarize path
// is used by the retry worker, where failures must be observable.
//
// A keyed try-lock guarantees at most one summarization per conversation
// key. Losing the lock race is not an error condition worth retrying: the
// holder is doing the same work.
package summarize
