// Package router selects back-end servers for proxied requests. It
// filters the catalog by capability, tenant scope, health, and circuit
// state, then applies the configured load-balancing policy over the
// survivors.
package router
