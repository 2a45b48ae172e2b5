package config

import "time"

// Config is the root configuration structure for Hermes.
// It contains all configuration sections for the HTTP server, registry,
// router, proxy, rate limiter, authentication, storage, and telemetry.
type Config struct {
	// Server contains HTTP server configuration including listen address,
	// timeouts, and CORS settings.
	Server ServerConfig `yaml:"server"`

	// Storage contains relational store configuration for the server
	// catalog, users, API keys, and the request audit log.
	Storage StorageConfig `yaml:"storage"`

	// Cache contains key-value cache store configuration used for
	// distributed rate-limit buckets, DDoS counters, and the API-key
	// validation cache.
	Cache CacheConfig `yaml:"cache"`

	// Registry contains server catalog and health probing configuration.
	Registry RegistryConfig `yaml:"registry"`

	// Router contains load-balancing policy configuration.
	Router RouterConfig `yaml:"router"`

	// Breaker contains circuit-breaker thresholds applied per back-end
	// server.
	Breaker BreakerConfig `yaml:"breaker"`

	// Proxy contains request forwarding configuration.
	Proxy ProxyConfig `yaml:"proxy"`

	// RateLimit contains multi-tier rate limiting configuration.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Auth contains the authentication and authorization pipeline
	// configuration.
	Auth AuthConfig `yaml:"auth"`

	// Audit contains audit log retention configuration.
	Audit AuditConfig `yaml:"audit"`

	// Telemetry contains observability configuration: logging, metrics,
	// and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig contains configuration for the public HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out response writes.
	// Default: 30s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the keep-alive idle timeout.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds the graceful drain of in-flight requests.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// CORS contains Cross-Origin Resource Sharing configuration.
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig contains CORS configuration for the REST plane.
type CORSConfig struct {
	// Enabled controls whether CORS headers are emitted.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// AllowedOrigins lists allowed origins. ["*"] allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AllowedMethods lists allowed HTTP methods.
	AllowedMethods []string `yaml:"allowed_methods"`

	// AllowedHeaders lists allowed request headers.
	AllowedHeaders []string `yaml:"allowed_headers"`

	// MaxAge is the preflight cache lifetime in seconds.
	// Default: 3600
	MaxAge int `yaml:"max_age"`
}

// StorageConfig contains configuration for the relational store.
type StorageConfig struct {
	// Backend selects the storage implementation: "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// Path is the SQLite database file path.
	// Default: "data/hermes.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open database connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables Write-Ahead Logging for better concurrency.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// CacheConfig contains configuration for the key-value cache store.
type CacheConfig struct {
	// URL is the redis connection URL (redis://host:port/db).
	// Default: "redis://127.0.0.1:6379/0"
	URL string `yaml:"url"`

	// PoolSize bounds the connection pool.
	// Default: 20
	PoolSize int `yaml:"pool_size"`

	// DialTimeout bounds connection establishment.
	// Default: 5s
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// OpTimeout bounds individual cache operations.
	// Default: 2s
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// RegistryConfig contains server catalog configuration.
type RegistryConfig struct {
	// ProbeInterval is the period of each server's health probe loop.
	// Default: 30s
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// ProbeTimeout bounds a single health probe attempt.
	// Default: 10s
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// DiscoveryTimeout bounds capability auto-discovery at registration.
	// Default: 10s
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
}

// RouterConfig contains load-balancing configuration.
type RouterConfig struct {
	// Policy selects the load-balancing policy: "round_robin", "random",
	// "least_connections", "weighted", or "consistent_hash".
	// Default: "round_robin"
	Policy string `yaml:"policy"`

	// HealthWeight, LatencyWeight, and CapacityWeight are the score
	// components used by the weighted policy. They must sum to 1.0.
	// Defaults: 0.3, 0.4, 0.3
	HealthWeight   float64 `yaml:"health_weight"`
	LatencyWeight  float64 `yaml:"latency_weight"`
	CapacityWeight float64 `yaml:"capacity_weight"`

	// VirtualNodes is the number of ring positions per server used by the
	// consistent-hash policy.
	// Default: 100
	VirtualNodes int `yaml:"virtual_nodes"`

	// SweepInterval is the period of the metrics housekeeping sweep.
	// Default: 5m
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// MetricsIdleEviction is the inactivity threshold after which a
	// server's metrics are dropped by the sweep.
	// Default: 1h
	MetricsIdleEviction time.Duration `yaml:"metrics_idle_eviction"`
}

// BreakerConfig contains circuit-breaker thresholds.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit.
	// Default: 5
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryTimeout is the open-state cooldown before a half-open probe
	// is permitted.
	// Default: 60s
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`

	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the circuit.
	// Default: 3
	SuccessThreshold int `yaml:"success_threshold"`
}

// ProxyConfig contains request forwarding configuration.
type ProxyConfig struct {
	// DefaultTimeout is applied when a proxy request carries no timeout.
	// Default: 30s
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// MaxConnsPerServer bounds the pooled HTTP client per back-end server.
	// Default: 50
	MaxConnsPerServer int `yaml:"max_conns_per_server"`

	// MaxIdleConnsPerServer bounds keep-alive connections per back-end.
	// Default: 10
	MaxIdleConnsPerServer int `yaml:"max_idle_conns_per_server"`
}

// RateLimitConfig contains multi-tier rate limiting configuration.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is applied at all.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// EnableDistributed stores buckets in the cache store instead of
	// process memory. Falls back to in-process buckets on cache outage.
	// Default: true
	EnableDistributed bool `yaml:"enable_distributed"`

	// EnablePerTenant enables the tenant fairness window and tenant
	// buckets.
	// Default: true
	EnablePerTenant bool `yaml:"enable_per_tenant"`

	// EnableDDoSProtection enables violation counting and IP quarantine.
	// Default: true
	EnableDDoSProtection bool `yaml:"enable_ddos_protection"`

	// GlobalRPM is the gateway-wide requests-per-minute budget.
	// Default: 10000
	GlobalRPM int `yaml:"global_rpm"`

	// BurstFactor scales bucket capacity above the per-minute rate.
	// Default: 2.0
	BurstFactor float64 `yaml:"burst_factor"`

	// RoleRPM maps user roles to requests-per-minute limits.
	// Defaults: admin=1000, server_owner=500, user=100, anonymous=20
	RoleRPM map[string]int `yaml:"role_rpm"`

	// TenantMultiplier scales role defaults into tenant bucket rates when
	// a tenant has no explicit limit.
	// Default: 10.0
	TenantMultiplier float64 `yaml:"tenant_multiplier"`

	// TenantRPM maps tenant ids to explicit requests-per-minute limits.
	// Reconfigurable at runtime.
	TenantRPM map[string]int `yaml:"tenant_rpm"`

	// TenantWeights maps tenant ids to fairness weights (default 1.0).
	// Reconfigurable at runtime.
	TenantWeights map[string]float64 `yaml:"tenant_weights"`

	// FairnessWindow is the sliding window over which per-tenant fair
	// shares are enforced.
	// Default: 300s
	FairnessWindow time.Duration `yaml:"fairness_window"`

	// BurstAllowanceFactor scales the fair share into the admission bound.
	// Default: 1.5
	BurstAllowanceFactor float64 `yaml:"burst_allowance_factor"`

	// DDoSThreshold is the number of rate-limit violations within one hour
	// that quarantines an IP.
	// Default: 50
	DDoSThreshold int `yaml:"ddos_threshold"`

	// BanDuration is how long a quarantined IP stays banned.
	// Default: 1h
	BanDuration time.Duration `yaml:"ban_duration"`

	// CleanupInterval is the period of the stale bucket/counter sweep.
	// Default: 5m
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// AuthConfig contains the authentication pipeline configuration.
type AuthConfig struct {
	// APIKeyCacheTTL is how long validated API keys are cached.
	// Default: 300s
	APIKeyCacheTTL time.Duration `yaml:"api_key_cache_ttl"`

	// APIKeyNegativeTTL is how long invalid keys are cached to shed
	// repeated lookups.
	// Default: 60s
	APIKeyNegativeTTL time.Duration `yaml:"api_key_negative_ttl"`

	// OAuth contains the external identity provider settings.
	OAuth OAuthConfig `yaml:"oauth"`

	// ToolPolicies maps tool names to the roles allowed to invoke them.
	// An absent or empty entry means the tool is public.
	ToolPolicies map[string][]string `yaml:"tool_policies"`
}

// OAuthConfig contains external identity provider settings for the JWT
// validation path.
type OAuthConfig struct {
	// Enabled controls whether bearer JWTs are validated at all.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Issuer is the expected "iss" claim.
	Issuer string `yaml:"issuer"`

	// Audience is the expected "aud" claim.
	Audience string `yaml:"audience"`

	// JWKSURL is the provider's key set endpoint.
	JWKSURL string `yaml:"jwks_url"`

	// JWKSRefreshInterval is how often the key set is refreshed.
	// Default: 1h
	JWKSRefreshInterval time.Duration `yaml:"jwks_refresh_interval"`

	// ClientID and ClientSecret authenticate the gateway against the
	// provider's token endpoint (client_secret_post).
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// TokenEndpoint is the provider's token endpoint used for refresh.
	TokenEndpoint string `yaml:"token_endpoint"`

	// CallbackURL is the registered OAuth redirect URL. PKCE parameters
	// are forwarded unchanged for providers without dynamic client
	// registration.
	CallbackURL string `yaml:"callback_url"`

	// RefreshEnabled turns on the background token refresh loop.
	// Default: false
	RefreshEnabled bool `yaml:"refresh_enabled"`

	// RefreshInterval is the period of the background refresh loop.
	// Default: 5m
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// AuditConfig contains audit log retention configuration.
type AuditConfig struct {
	// Enabled controls whether request audit rows are written.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// RetentionDays is how long request log rows are kept.
	// Default: 90
	RetentionDays int `yaml:"retention_days"`

	// PruneSchedule is a cron expression for the retention pruner.
	// Default: "0 3 * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains structured logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains structured logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the output format: "json", "text", or "console".
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file:line in log records.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// Redact enables sensitive-key redaction of logged values.
	// Default: true
	Redact bool `yaml:"redact"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are produced and exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "127.0.0.1:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is reported in the otel resource.
	// Default: "hermes"
	ServiceName string `yaml:"service_name"`

	// SampleRate is the head sampling ratio in [0, 1].
	// Default: 1.0
	SampleRate float64 `yaml:"sample_rate"`

	// Insecure disables TLS to the collector.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// RetainedTraces bounds the in-memory completed-trace buffer exposed
	// by the analytics endpoint.
	// Default: 500
	RetainedTraces int `yaml:"retained_traces"`
}
