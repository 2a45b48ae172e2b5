package config

import (
	"fmt"
	"math"
	"net"
	"strings"
)

// Validate checks the configuration for invalid or inconsistent values.
// It returns the first error found; configuration errors are fatal at
// startup.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := validateStorage(&cfg.Storage); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := validateRouter(&cfg.Router); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if err := validateBreaker(&cfg.Breaker); err != nil {
		return fmt.Errorf("breaker: %w", err)
	}
	if err := validateRateLimit(&cfg.RateLimit); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	if err := validateAuth(&cfg.Auth); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := validateTelemetry(&cfg.Telemetry); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

func validateServer(cfg *ServerConfig) error {
	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		return fmt.Errorf("invalid listen_address %q: %w", cfg.ListenAddress, err)
	}
	if cfg.ShutdownTimeout < 0 {
		return fmt.Errorf("shutdown_timeout must not be negative")
	}
	return nil
}

func validateStorage(cfg *StorageConfig) error {
	switch cfg.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown backend %q (expected \"sqlite\" or \"memory\")", cfg.Backend)
	}
	if cfg.Backend == "sqlite" && cfg.Path == "" {
		return fmt.Errorf("path is required for the sqlite backend")
	}
	if cfg.MaxIdleConns > cfg.MaxOpenConns {
		return fmt.Errorf("max_idle_conns (%d) must not exceed max_open_conns (%d)",
			cfg.MaxIdleConns, cfg.MaxOpenConns)
	}
	return nil
}

func validateRouter(cfg *RouterConfig) error {
	switch cfg.Policy {
	case "round_robin", "random", "least_connections", "weighted", "consistent_hash":
	default:
		return fmt.Errorf("unknown policy %q", cfg.Policy)
	}

	sum := cfg.HealthWeight + cfg.LatencyWeight + cfg.CapacityWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("score weights must sum to 1.0, got %.3f", sum)
	}
	for name, w := range map[string]float64{
		"health_weight":   cfg.HealthWeight,
		"latency_weight":  cfg.LatencyWeight,
		"capacity_weight": cfg.CapacityWeight,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %.3f", name, w)
		}
	}

	if cfg.VirtualNodes <= 0 {
		return fmt.Errorf("virtual_nodes must be positive, got %d", cfg.VirtualNodes)
	}
	return nil
}

func validateBreaker(cfg *BreakerConfig) error {
	if cfg.FailureThreshold <= 0 {
		return fmt.Errorf("failure_threshold must be positive, got %d", cfg.FailureThreshold)
	}
	if cfg.SuccessThreshold <= 0 {
		return fmt.Errorf("success_threshold must be positive, got %d", cfg.SuccessThreshold)
	}
	if cfg.RecoveryTimeout <= 0 {
		return fmt.Errorf("recovery_timeout must be positive, got %s", cfg.RecoveryTimeout)
	}
	return nil
}

func validateRateLimit(cfg *RateLimitConfig) error {
	if cfg.GlobalRPM <= 0 {
		return fmt.Errorf("global_rpm must be positive, got %d", cfg.GlobalRPM)
	}
	if cfg.BurstFactor < 1.0 {
		return fmt.Errorf("burst_factor must be >= 1.0, got %.2f", cfg.BurstFactor)
	}
	if cfg.BurstAllowanceFactor < 1.0 {
		return fmt.Errorf("burst_allowance_factor must be >= 1.0, got %.2f", cfg.BurstAllowanceFactor)
	}
	for role, rpm := range cfg.RoleRPM {
		if rpm <= 0 {
			return fmt.Errorf("role_rpm[%s] must be positive, got %d", role, rpm)
		}
	}
	for tenant, w := range cfg.TenantWeights {
		if w <= 0 {
			return fmt.Errorf("tenant_weights[%s] must be positive, got %.2f", tenant, w)
		}
	}
	return nil
}

func validateAuth(cfg *AuthConfig) error {
	if !cfg.OAuth.Enabled {
		return nil
	}
	if cfg.OAuth.Issuer == "" {
		return fmt.Errorf("oauth.issuer is required when oauth is enabled")
	}
	if cfg.OAuth.JWKSURL == "" {
		return fmt.Errorf("oauth.jwks_url is required when oauth is enabled")
	}
	if !strings.HasPrefix(cfg.OAuth.JWKSURL, "http://") && !strings.HasPrefix(cfg.OAuth.JWKSURL, "https://") {
		return fmt.Errorf("oauth.jwks_url must be an http(s) URL, got %q", cfg.OAuth.JWKSURL)
	}
	if cfg.OAuth.RefreshEnabled && cfg.OAuth.TokenEndpoint == "" {
		return fmt.Errorf("oauth.token_endpoint is required when refresh is enabled")
	}
	return nil
}

func validateTelemetry(cfg *TelemetryConfig) error {
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text", "console":
	default:
		return fmt.Errorf("unknown log format %q", cfg.Logging.Format)
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing sample_rate must be in [0, 1], got %.2f", cfg.Tracing.SampleRate)
	}
	return nil
}
