// Package store provides persistent storage for dealdesk using SQLite.
//
// # Data Models
//
//   - Thread: a negotiation session between a sender and a creator, with
//     turn-taking state (waiting_for) and terminal statuses
//   - ThreadMessage: one turn within a thread, with a delivered flag that
//     backs the pull-based delivery queue
//   - ChatEvent: raw conversation events, the source material for
//     summarization; deleted in bulk by compaction
//   - Summary: the durable compaction result per conversation key
//   - RetryJob / DeadLetter: the summarization retry queue and its
//     permanently-parked failures
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Thread messages cascade-delete with their thread. At most one open
// thread can exist per sender/creator pair, enforced by a partial unique
// index; concurrent creators race on the index and losers receive
// ErrDuplicateThread.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateThread: an open thread already exists for the pair
//
// Write paths always surface storage errors. The aggregate count queries
// (OpenCountForCreator, WaitingForCreatorCount) are deliberately more
// lenient and degrade to zero on storage failure.
//
// All methods accept context.Context for cancellation support. Use
// NewSQLiteStore(":memory:") for tests.
package store
