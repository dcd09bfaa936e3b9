// Package ws is the page-client control channel: a websocket hub of
// connected clients, the message dispatcher routing structured requests to
// per-operation handlers, and the connection handler tying them together.
//
// Responses are per-client and echo the request's correlation id; lifecycle
// notices (ready, needsReinit, connection health) broadcast to every client.
// A client disconnect purges all watchers it owned, across every bundle.
package ws
