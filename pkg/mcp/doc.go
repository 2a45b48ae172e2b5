// Package mcp defines the JSON-RPC 2.0 envelope and the Model Context
// Protocol method and result shapes shared by the registry, router, proxy,
// and HTTP surface.
//
// The gateway never interprets tool parameters; it forwards envelopes
// verbatim and only inspects the method name and the gateway-specific
// extension fields stripped before forwarding (see package proxy).
package mcp
