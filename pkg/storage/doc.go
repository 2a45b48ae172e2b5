// Package storage persists the gateway catalog: registered servers with
// their tools and resources, tenants, users, hashed API keys, and the
// request audit log.
//
// Two backends implement the Storage interface: SQLiteStorage (the
// default, WAL mode) and MemoryStorage (tests and ephemeral deployments).
// A cron-driven Pruner enforces audit retention.
package storage
