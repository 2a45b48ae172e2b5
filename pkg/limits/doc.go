// Package limits enforces the multi-tier rate limiting pipeline: DDoS
// quarantine, the global gateway budget, weighted tenant fairness with
// per-tenant buckets, per-user role buckets, and an anonymous per-IP
// tier. Buckets are shared across gateway instances through the cache
// store and fall back to in-process state when it is unreachable.
package limits
