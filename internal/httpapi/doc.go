// ABOUTME: Package documentation for the httpapi package
// ABOUTME: Route map for the dealdesk HTTP API

// Package httpapi exposes dealdesk over HTTP.
//
// Routes under /api/v1:
//
//	POST /messages                       inbound pipeline (classify + route + trigger)
//	GET  /threads/active                 open thread for a sender/creator pair
//	GET  /threads/{id}                   thread by id
//	GET  /threads/{id}/messages          recent messages, chronological
//	POST /threads/{id}/messages          append a message directly
//	GET  /threads/{id}/undelivered       pending messages for one recipient
//	POST /threads/{id}/resolve           close a thread
//	POST /messages/{id}/delivered        acknowledge delivery
//	GET  /creators/{id}/threads          open threads for a creator
//	GET  /creators/{id}/threads/counts   open and waiting counts
//	POST /admin/retries/run              manual retry queue pass
//	GET  /admin/retries/stats            retry queue statistics
//	GET  /admin/retries/failed           dead-lettered jobs
//
// Plus GET /health for liveness checks. All responses are JSON; errors use
// {"error": "..."} bodies with conventional status codes.
package httpapi
