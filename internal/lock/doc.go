// Package lock provides a keyed, non-blocking try-lock with TTL, used to
// ensure at most one summarization runs per conversation key at a time.
package lock
