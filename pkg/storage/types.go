package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Storage implementations.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateServer indicates a server with the same (tenant, name)
	// already exists.
	ErrDuplicateServer = errors.New("server already registered")

	// ErrDuplicateKey indicates a uniqueness violation other than the
	// server name constraint.
	ErrDuplicateKey = errors.New("duplicate key")
)

// HealthStatus is the probe-owned health state of a server record.
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "HEALTHY"
	HealthDegraded    HealthStatus = "DEGRADED"
	HealthUnhealthy   HealthStatus = "UNHEALTHY"
	HealthUnknown     HealthStatus = "UNKNOWN"
	HealthMaintenance HealthStatus = "MAINTENANCE"
)

// Transport identifies how a back-end MCP server is reached.
type Transport string

const (
	TransportHTTP      Transport = "http"
	TransportWebSocket Transport = "websocket"
	TransportStdio     Transport = "stdio"
	TransportSSE       Transport = "sse"
)

// Capabilities is the capability descriptor advertised by a server:
// tool names and resource URI patterns.
type Capabilities struct {
	Tools     []string `json:"tools,omitempty"`
	Resources []string `json:"resources,omitempty"`
}

// PerfSnapshot is the cached, advisory performance summary stored on a
// server record. It is never used for correctness decisions.
type PerfSnapshot struct {
	AvgResponseMs     float64 `json:"avg_response_ms"`
	SuccessRate       float64 `json:"success_rate"`
	ActiveConnections int     `json:"active_connections"`
}

// ServerRecord is a registered back-end MCP server.
//
// The endpoint URL is immutable after creation; health fields are owned by
// the probe loop. Tools and Resources are populated only when a find or
// get requests hydration.
type ServerRecord struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Version      string       `json:"version,omitempty"`
	EndpointURL  string       `json:"endpoint_url"`
	Transport    Transport    `json:"transport_type"`
	Capabilities Capabilities `json:"capabilities"`
	Tags         []string     `json:"tags,omitempty"`
	TenantID     string       `json:"tenant_id,omitempty"`
	OwnerUserID  string       `json:"owner_user_id,omitempty"`

	HealthStatus    HealthStatus `json:"health_status"`
	LastHealthCheck time.Time    `json:"last_health_check,omitempty"`
	Perf            PerfSnapshot `json:"performance,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Hydrated collections; ids only point back to the server (weak
	// back-references, no cycles).
	Tools     []ToolRecord     `json:"tools,omitempty"`
	Resources []ResourceRecord `json:"resources,omitempty"`
}

// ToolRecord is a tool owned by a server record. (server_id, name) is
// unique.
type ToolRecord struct {
	ServerID    string    `json:"server_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	InputSchema string    `json:"input_schema,omitempty"`
	CallCount   int64     `json:"call_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// ResourceRecord is a resource owned by a server record.
// (server_id, uri_template) is unique.
type ResourceRecord struct {
	ServerID    string    `json:"server_id"`
	URITemplate string    `json:"uri_template"`
	MimeType    string    `json:"mime_type,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantActive    TenantStatus = "ACTIVE"
	TenantSuspended TenantStatus = "SUSPENDED"
	TenantDisabled  TenantStatus = "DISABLED"
)

// Tenant partitions servers and users. It has no behavior beyond lookup
// scoping.
type Tenant struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Status    TenantStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// Role is a user's authorization role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleUser     Role = "user"
	RoleService  Role = "service"
	RoleReadonly Role = "readonly"
)

// User is the gateway's projection of an identity-provider user.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Name      string    `json:"name,omitempty"`
	Role      Role      `json:"role"`
	TenantID  string    `json:"tenant_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// APIKey stores a hashed gateway API key. The plain secret never persists;
// lookup is by prefix plus SHA-256 hash comparison.
type APIKey struct {
	ID          string     `json:"id"`
	Prefix      string     `json:"prefix"`
	Hash        string     `json:"-"`
	UserID      string     `json:"user_id"`
	TenantID    string     `json:"tenant_id,omitempty"`
	Scopes      []string   `json:"scopes,omitempty"`
	RateLimit   int        `json:"rate_limit,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Enabled     bool       `json:"enabled"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// APIKeyWithUser is the join result of an API-key lookup.
type APIKeyWithUser struct {
	Key  APIKey `json:"key"`
	User User   `json:"user"`
}

// RequestLog is an immutable audit row describing one handled request.
// Parameters are sanitized before the row is constructed.
type RequestLog struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id"`
	TenantID     string    `json:"tenant_id,omitempty"`
	UserID       string    `json:"user_id,omitempty"`
	Method       string    `json:"method"`
	ServerID     string    `json:"server_id,omitempty"`
	ClientIP     string    `json:"client_ip,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	DurationMs   int64     `json:"duration_ms"`
	Success      bool      `json:"success"`
	StatusCode   *int      `json:"status_code,omitempty"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Params       string    `json:"params,omitempty"`
	Response     string    `json:"response,omitempty"`
}

// ServerFilter selects server records in FindServers.
//
// Tools is an intersection match (the server must expose every listed
// tool); ResourcePrefixes is a union match (any prefix matching any
// advertised resource pattern qualifies); Tags is an intersection match.
type ServerFilter struct {
	TenantID         *string
	Tags             []string
	Tools            []string
	ResourcePrefixes []string
	HealthStatus     *HealthStatus
	Hydrate          bool
}

// Storage is the narrow relational DAO consumed by the core.
//
// AppendRequestLog is best-effort on the request path: callers log and
// swallow its errors.
type Storage interface {
	// Servers
	RegisterServer(ctx context.Context, rec *ServerRecord) error
	UpdateServer(ctx context.Context, rec *ServerRecord) error
	DeleteServer(ctx context.Context, id string) error
	GetServer(ctx context.Context, id string) (*ServerRecord, error)
	FindServers(ctx context.Context, filter ServerFilter) ([]*ServerRecord, error)
	MarkServerHealth(ctx context.Context, id string, status HealthStatus, checkedAt time.Time) error
	UpdateServerPerf(ctx context.Context, id string, perf PerfSnapshot) error

	// Capabilities
	ReplaceTools(ctx context.Context, serverID string, tools []ToolRecord) error
	ReplaceResources(ctx context.Context, serverID string, resources []ResourceRecord) error
	IncrementToolCall(ctx context.Context, serverID, tool string) error

	// Tenants and users
	CreateTenant(ctx context.Context, t *Tenant) error
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)

	// API keys
	CreateAPIKey(ctx context.Context, k *APIKey) error
	LookupAPIKeyByHash(ctx context.Context, hash string) (*APIKeyWithUser, error)
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error

	// Audit
	AppendRequestLog(ctx context.Context, row *RequestLog) error
	ListRequestLogs(ctx context.Context, limit int) ([]*RequestLog, error)
	PruneRequestLogs(ctx context.Context, olderThan time.Time) (int64, error)

	Close() error
}
