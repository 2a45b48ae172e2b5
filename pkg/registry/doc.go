// Package registry maintains the catalog of back-end MCP servers:
// registration with validation and capability auto-discovery, lookup by
// capability filter, and continuous health probing with one loop per
// server.
package registry
