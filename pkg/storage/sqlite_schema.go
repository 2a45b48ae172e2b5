package storage

// SchemaVersion is the current database schema version.
const SchemaVersion = 1

// Schema contains the SQL statements to create the gateway database schema.
const Schema = `
-- Registered back-end MCP servers
CREATE TABLE IF NOT EXISTS servers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    version TEXT,
    endpoint_url TEXT NOT NULL,
    transport TEXT NOT NULL,
    capabilities TEXT,          -- JSON: {"tools": [...], "resources": [...]}
    tags TEXT,                  -- JSON array
    tenant_id TEXT,
    owner_user_id TEXT,

    health_status TEXT NOT NULL DEFAULT 'UNKNOWN',
    last_health_check TIMESTAMP,

    -- Cached performance snapshot (advisory only)
    avg_response_ms REAL NOT NULL DEFAULT 0,
    success_rate REAL NOT NULL DEFAULT 0,
    active_connections INTEGER NOT NULL DEFAULT 0,

    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_servers_tenant_name
    ON servers(COALESCE(tenant_id, ''), name);
CREATE INDEX IF NOT EXISTS idx_servers_health ON servers(health_status);

-- Tools owned by a server
CREATE TABLE IF NOT EXISTS tools (
    server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    description TEXT,
    input_schema TEXT,
    call_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (server_id, name)
);

-- Resources owned by a server
CREATE TABLE IF NOT EXISTS resources (
    server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
    uri_template TEXT NOT NULL,
    mime_type TEXT,
    description TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (server_id, uri_template)
);

-- Tenants
CREATE TABLE IF NOT EXISTS tenants (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'ACTIVE',
    created_at TIMESTAMP NOT NULL
);

-- Users (projection of the external identity provider)
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT,
    name TEXT,
    role TEXT NOT NULL DEFAULT 'user',
    tenant_id TEXT,
    created_at TIMESTAMP NOT NULL
);

-- API keys: secret stored only as a salted hash, looked up by prefix
CREATE TABLE IF NOT EXISTS api_keys (
    id TEXT PRIMARY KEY,
    prefix TEXT NOT NULL,
    hash TEXT NOT NULL,
    user_id TEXT NOT NULL REFERENCES users(id),
    tenant_id TEXT,
    scopes TEXT,                -- JSON array
    rate_limit INTEGER NOT NULL DEFAULT 0,
    expires_at TIMESTAMP,
    enabled INTEGER NOT NULL DEFAULT 1,
    last_used_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(prefix);
CREATE UNIQUE INDEX IF NOT EXISTS idx_api_keys_hash ON api_keys(hash);

-- Immutable request audit log
CREATE TABLE IF NOT EXISTS request_log (
    id TEXT PRIMARY KEY,
    request_id TEXT NOT NULL,
    tenant_id TEXT,
    user_id TEXT,
    method TEXT NOT NULL,
    server_id TEXT,
    client_ip TEXT,
    user_agent TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NOT NULL,
    duration_ms INTEGER NOT NULL,
    success INTEGER NOT NULL,
    status_code INTEGER,
    error_code TEXT,
    error_message TEXT,
    params TEXT,                -- sanitized JSON
    response TEXT               -- sanitized JSON
);

CREATE INDEX IF NOT EXISTS idx_request_log_started ON request_log(started_at);
CREATE INDEX IF NOT EXISTS idx_request_log_request ON request_log(request_id);

-- Schema version bookkeeping
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
