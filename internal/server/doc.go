// Package server is the HTTP surface of the chat backend: session start,
// room and membership management, message history, invites, file uploads,
// the WebSocket room endpoint, health and metrics.
//
// Handlers are split by concern: origin policy, per-IP request throttling,
// middleware, JSON helpers, room routes and the server lifecycle.
package server
