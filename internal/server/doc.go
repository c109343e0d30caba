// Package server exposes the worker core over HTTP.
//
// The foreground connects to GET /port with a websocket and exchanges command
// and notification envelopes over it. Only one port is live at a time; a new
// connection replaces the previous one. The remaining routes serve tools and
// tests that do not hold a long-lived connection:
//
//   - GET /state: the current session snapshot as JSON
//   - POST /command: dispatches one command envelope, answering 202 Accepted
//   - GET /event: a Server-Sent Events stream of every notification
//   - GET /health: liveness and whether a port is attached
//
// # Event Format
//
// Every SSE frame uses the "message" event type and carries
//
//	{"type": "<event type>", "properties": <payload>}
//
// The first frame of a stream is "server.connected". A stream ends after it
// forwards "notification.complete".
package server
