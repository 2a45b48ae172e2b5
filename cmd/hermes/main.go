// Hermes is an MCP registry gateway: a reverse proxy and service
// registry fronting a fleet of back-end MCP servers.
//
// It exposes a unified JSON-RPC endpoint to clients while handling:
//   - Service discovery and capability-aware routing
//   - Health monitoring and per-server circuit breaking
//   - API-key and OAuth authentication with tool-level RBAC
//   - Multi-tier, tenant-fair rate limiting with DDoS quarantine
//   - Audit logging, Prometheus metrics, and distributed tracing
//
// Usage:
//
//	# Start the gateway with default configuration
//	hermes run
//
//	# Start with a custom configuration file
//	hermes run --config /etc/hermes/config.yaml
//
//	# Check a configuration file without starting
//	hermes validate --config /etc/hermes/config.yaml
//
//	# Show version information
//	hermes version
package main

func main() {
	Execute()
}
