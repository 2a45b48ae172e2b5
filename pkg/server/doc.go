// Package server wires the gateway components behind the public HTTP
// surface: the unauthenticated REST management plane under /api/v1, the
// health and metrics endpoints, and the authenticated, rate-limited /mcp
// JSON-RPC plane.
package server
