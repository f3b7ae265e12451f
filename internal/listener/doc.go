// ABOUTME: Package documentation for the listener package
// ABOUTME: Describes the inbound pipeline and classifier contract

// Package listener processes inbound conversation messages.
//
// The Pipeline logs every message as a chat event, routes sender messages
// into negotiation threads via a pluggable Classifier (detect a new topic,
// extend the open thread, or resolve it on closure), and pokes the
// summarization trigger afterwards. Event logging and trigger checks are
// best-effort so storage hiccups never block message handling.
package listener
