// Package proxy forwards JSON-RPC requests to back-end MCP servers over
// HTTP or WebSocket, pairing every forward with circuit-breaker
// accounting, routing metrics, trace retention, and the audit log.
// In-flight requests are tracked and cancellable by request id.
package proxy
