// ABOUTME: Package documentation for the retry package
// ABOUTME: Describes the durable retry queue and its backoff schedule

// Package retry re-attempts summarizations that failed at trigger time.
//
// Failed runs land in a durable queue. The Worker polls for due jobs and
// drives the coordinator's synchronous path. A job succeeds vacuously when
// its conversation has no active events left, since a later live trigger
// already did the work. Persistent failures back off through an escalating
// delay table and are dead-lettered after the attempt budget is spent.
package retry
