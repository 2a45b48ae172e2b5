// Package kv provides the redis-backed shared state used across gateway
// instances: atomic token buckets for rate limiting, the API-key
// validation cache with negative entries, and DDoS violation counters
// with IP quarantine.
package kv
