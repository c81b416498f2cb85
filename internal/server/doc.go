// Package server exposes the session over HTTP: the JSON control API, the
// capture WebSocket ingress, the subscriber feed and the MCP tool surface.
package server
