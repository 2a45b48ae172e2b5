package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// CORS defaults
	DefaultCORSEnabled = true
	DefaultCORSMaxAge  = 3600 // 1 hour

	// Storage defaults
	DefaultStorageBackend     = "sqlite"
	DefaultStoragePath        = "data/hermes.db"
	DefaultStorageMaxOpen     = 10
	DefaultStorageMaxIdle     = 5
	DefaultStorageWALMode     = true
	DefaultStorageBusyTimeout = 5 * time.Second

	// Cache defaults
	DefaultCacheURL         = "redis://127.0.0.1:6379/0"
	DefaultCachePoolSize    = 20
	DefaultCacheDialTimeout = 5 * time.Second
	DefaultCacheOpTimeout   = 2 * time.Second

	// Registry defaults
	DefaultProbeInterval    = 30 * time.Second
	DefaultProbeTimeout     = 10 * time.Second
	DefaultDiscoveryTimeout = 10 * time.Second

	// Router defaults
	DefaultRouterPolicy        = "round_robin"
	DefaultHealthWeight        = 0.3
	DefaultLatencyWeight       = 0.4
	DefaultCapacityWeight      = 0.3
	DefaultVirtualNodes        = 100
	DefaultSweepInterval       = 5 * time.Minute
	DefaultMetricsIdleEviction = time.Hour

	// Breaker defaults
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
	DefaultSuccessThreshold = 3

	// Proxy defaults
	DefaultProxyTimeout        = 30 * time.Second
	DefaultMaxConnsPerServer   = 50
	DefaultMaxIdleConnsPerHost = 10

	// Rate-limit defaults
	DefaultRateLimitEnabled     = true
	DefaultGlobalRPM            = 10000
	DefaultBurstFactor          = 2.0
	DefaultTenantMultiplier     = 10.0
	DefaultFairnessWindow       = 300 * time.Second
	DefaultBurstAllowanceFactor = 1.5
	DefaultDDoSThreshold        = 50
	DefaultBanDuration          = time.Hour
	DefaultCleanupInterval      = 5 * time.Minute

	// Role RPM defaults
	DefaultAdminRPM       = 1000
	DefaultServerOwnerRPM = 500
	DefaultUserRPM        = 100
	DefaultAnonymousRPM   = 20

	// Auth defaults
	DefaultAPIKeyCacheTTL      = 300 * time.Second
	DefaultAPIKeyNegativeTTL   = 60 * time.Second
	DefaultJWKSRefreshInterval = time.Hour
	DefaultTokenRefreshPeriod  = 5 * time.Minute

	// Audit defaults
	DefaultAuditEnabled   = true
	DefaultRetentionDays  = 90
	DefaultPruneSchedule  = "0 3 * * *"

	// Telemetry defaults
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultLogRedact      = true
	DefaultTracingEnabled = false
	DefaultOTLPEndpoint   = "127.0.0.1:4317"
	DefaultServiceName    = "hermes"
	DefaultSampleRate     = 1.0
	DefaultRetainedTraces = 500
)

// ApplyDefaults fills zero-valued configuration fields with defaults.
// It is called by LoadConfig before validation; callers constructing a
// Config by hand should invoke it themselves.
func ApplyDefaults(cfg *Config) {
	// Server
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.CORS.MaxAge == 0 {
		cfg.Server.CORS.MaxAge = DefaultCORSMaxAge
	}
	if len(cfg.Server.CORS.AllowedMethods) == 0 {
		cfg.Server.CORS.AllowedMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	if len(cfg.Server.CORS.AllowedHeaders) == 0 {
		cfg.Server.CORS.AllowedHeaders = []string{"Authorization", "Content-Type", "X-Api-Key", "X-Request-ID"}
	}

	// Storage
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = DefaultStorageMaxOpen
	}
	if cfg.Storage.MaxIdleConns == 0 {
		cfg.Storage.MaxIdleConns = DefaultStorageMaxIdle
	}
	if cfg.Storage.BusyTimeout == 0 {
		cfg.Storage.BusyTimeout = DefaultStorageBusyTimeout
	}

	// Cache
	if cfg.Cache.URL == "" {
		cfg.Cache.URL = DefaultCacheURL
	}
	if cfg.Cache.PoolSize == 0 {
		cfg.Cache.PoolSize = DefaultCachePoolSize
	}
	if cfg.Cache.DialTimeout == 0 {
		cfg.Cache.DialTimeout = DefaultCacheDialTimeout
	}
	if cfg.Cache.OpTimeout == 0 {
		cfg.Cache.OpTimeout = DefaultCacheOpTimeout
	}

	// Registry
	if cfg.Registry.ProbeInterval == 0 {
		cfg.Registry.ProbeInterval = DefaultProbeInterval
	}
	if cfg.Registry.ProbeTimeout == 0 {
		cfg.Registry.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Registry.DiscoveryTimeout == 0 {
		cfg.Registry.DiscoveryTimeout = DefaultDiscoveryTimeout
	}

	// Router
	if cfg.Router.Policy == "" {
		cfg.Router.Policy = DefaultRouterPolicy
	}
	if cfg.Router.HealthWeight == 0 && cfg.Router.LatencyWeight == 0 && cfg.Router.CapacityWeight == 0 {
		cfg.Router.HealthWeight = DefaultHealthWeight
		cfg.Router.LatencyWeight = DefaultLatencyWeight
		cfg.Router.CapacityWeight = DefaultCapacityWeight
	}
	if cfg.Router.VirtualNodes == 0 {
		cfg.Router.VirtualNodes = DefaultVirtualNodes
	}
	if cfg.Router.SweepInterval == 0 {
		cfg.Router.SweepInterval = DefaultSweepInterval
	}
	if cfg.Router.MetricsIdleEviction == 0 {
		cfg.Router.MetricsIdleEviction = DefaultMetricsIdleEviction
	}

	// Breaker
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Breaker.RecoveryTimeout == 0 {
		cfg.Breaker.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if cfg.Breaker.SuccessThreshold == 0 {
		cfg.Breaker.SuccessThreshold = DefaultSuccessThreshold
	}

	// Proxy
	if cfg.Proxy.DefaultTimeout == 0 {
		cfg.Proxy.DefaultTimeout = DefaultProxyTimeout
	}
	if cfg.Proxy.MaxConnsPerServer == 0 {
		cfg.Proxy.MaxConnsPerServer = DefaultMaxConnsPerServer
	}
	if cfg.Proxy.MaxIdleConnsPerServer == 0 {
		cfg.Proxy.MaxIdleConnsPerServer = DefaultMaxIdleConnsPerHost
	}

	// Rate limit
	if cfg.RateLimit.GlobalRPM == 0 {
		cfg.RateLimit.GlobalRPM = DefaultGlobalRPM
	}
	if cfg.RateLimit.BurstFactor == 0 {
		cfg.RateLimit.BurstFactor = DefaultBurstFactor
	}
	if cfg.RateLimit.RoleRPM == nil {
		cfg.RateLimit.RoleRPM = map[string]int{}
	}
	if _, ok := cfg.RateLimit.RoleRPM["admin"]; !ok {
		cfg.RateLimit.RoleRPM["admin"] = DefaultAdminRPM
	}
	if _, ok := cfg.RateLimit.RoleRPM["server_owner"]; !ok {
		cfg.RateLimit.RoleRPM["server_owner"] = DefaultServerOwnerRPM
	}
	if _, ok := cfg.RateLimit.RoleRPM["user"]; !ok {
		cfg.RateLimit.RoleRPM["user"] = DefaultUserRPM
	}
	if _, ok := cfg.RateLimit.RoleRPM["anonymous"]; !ok {
		cfg.RateLimit.RoleRPM["anonymous"] = DefaultAnonymousRPM
	}
	if cfg.RateLimit.TenantMultiplier == 0 {
		cfg.RateLimit.TenantMultiplier = DefaultTenantMultiplier
	}
	if cfg.RateLimit.FairnessWindow == 0 {
		cfg.RateLimit.FairnessWindow = DefaultFairnessWindow
	}
	if cfg.RateLimit.BurstAllowanceFactor == 0 {
		cfg.RateLimit.BurstAllowanceFactor = DefaultBurstAllowanceFactor
	}
	if cfg.RateLimit.DDoSThreshold == 0 {
		cfg.RateLimit.DDoSThreshold = DefaultDDoSThreshold
	}
	if cfg.RateLimit.BanDuration == 0 {
		cfg.RateLimit.BanDuration = DefaultBanDuration
	}
	if cfg.RateLimit.CleanupInterval == 0 {
		cfg.RateLimit.CleanupInterval = DefaultCleanupInterval
	}

	// Auth
	if cfg.Auth.APIKeyCacheTTL == 0 {
		cfg.Auth.APIKeyCacheTTL = DefaultAPIKeyCacheTTL
	}
	if cfg.Auth.APIKeyNegativeTTL == 0 {
		cfg.Auth.APIKeyNegativeTTL = DefaultAPIKeyNegativeTTL
	}
	if cfg.Auth.OAuth.JWKSRefreshInterval == 0 {
		cfg.Auth.OAuth.JWKSRefreshInterval = DefaultJWKSRefreshInterval
	}
	if cfg.Auth.OAuth.RefreshInterval == 0 {
		cfg.Auth.OAuth.RefreshInterval = DefaultTokenRefreshPeriod
	}

	// Audit
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = DefaultRetentionDays
	}
	if cfg.Audit.PruneSchedule == "" {
		cfg.Audit.PruneSchedule = DefaultPruneSchedule
	}

	// Telemetry
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultOTLPEndpoint
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.Tracing.SampleRate == 0 {
		cfg.Telemetry.Tracing.SampleRate = DefaultSampleRate
	}
	if cfg.Telemetry.Tracing.RetainedTraces == 0 {
		cfg.Telemetry.Tracing.RetainedTraces = DefaultRetainedTraces
	}
}

// NewDefaultConfig returns a Config populated entirely from defaults.
// Boolean feature flags that default to true are set here because
// ApplyDefaults cannot distinguish "unset" from "false" for booleans.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.CORS.Enabled = DefaultCORSEnabled
	cfg.Storage.WALMode = DefaultStorageWALMode
	cfg.RateLimit.Enabled = DefaultRateLimitEnabled
	cfg.RateLimit.EnableDistributed = true
	cfg.RateLimit.EnablePerTenant = true
	cfg.RateLimit.EnableDDoSProtection = true
	cfg.Audit.Enabled = DefaultAuditEnabled
	cfg.Telemetry.Logging.Redact = DefaultLogRedact
	ApplyDefaults(cfg)
	return cfg
}
