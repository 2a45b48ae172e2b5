package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg := NewDefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and
// applies environment variable overrides. Variables follow the naming
// convention HERMES_SECTION_FIELD (e.g., HERMES_SERVER_LISTEN_ADDRESS) and
// always take precedence over file values.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies HERMES_* environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	envString("HERMES_SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("HERMES_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("HERMES_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("HERMES_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	envString("HERMES_STORAGE_BACKEND", &cfg.Storage.Backend)
	envString("HERMES_STORAGE_PATH", &cfg.Storage.Path)

	envString("HERMES_CACHE_URL", &cfg.Cache.URL)
	envInt("HERMES_CACHE_POOL_SIZE", &cfg.Cache.PoolSize)

	envDuration("HERMES_REGISTRY_PROBE_INTERVAL", &cfg.Registry.ProbeInterval)
	envDuration("HERMES_REGISTRY_PROBE_TIMEOUT", &cfg.Registry.ProbeTimeout)

	envString("HERMES_ROUTER_POLICY", &cfg.Router.Policy)

	envInt("HERMES_BREAKER_FAILURE_THRESHOLD", &cfg.Breaker.FailureThreshold)
	envDuration("HERMES_BREAKER_RECOVERY_TIMEOUT", &cfg.Breaker.RecoveryTimeout)

	envDuration("HERMES_PROXY_DEFAULT_TIMEOUT", &cfg.Proxy.DefaultTimeout)

	envBool("HERMES_RATELIMIT_ENABLED", &cfg.RateLimit.Enabled)
	envBool("HERMES_RATELIMIT_ENABLE_DISTRIBUTED", &cfg.RateLimit.EnableDistributed)
	envBool("HERMES_RATELIMIT_ENABLE_PER_TENANT", &cfg.RateLimit.EnablePerTenant)
	envBool("HERMES_RATELIMIT_ENABLE_DDOS_PROTECTION", &cfg.RateLimit.EnableDDoSProtection)
	envInt("HERMES_RATELIMIT_GLOBAL_RPM", &cfg.RateLimit.GlobalRPM)
	envFloat("HERMES_RATELIMIT_BURST_FACTOR", &cfg.RateLimit.BurstFactor)
	envInt("HERMES_RATELIMIT_DDOS_THRESHOLD", &cfg.RateLimit.DDoSThreshold)
	envDuration("HERMES_RATELIMIT_BAN_DURATION", &cfg.RateLimit.BanDuration)

	envString("HERMES_OAUTH_ISSUER", &cfg.Auth.OAuth.Issuer)
	envString("HERMES_OAUTH_AUDIENCE", &cfg.Auth.OAuth.Audience)
	envString("HERMES_OAUTH_JWKS_URL", &cfg.Auth.OAuth.JWKSURL)
	envString("HERMES_OAUTH_CLIENT_ID", &cfg.Auth.OAuth.ClientID)
	envString("HERMES_OAUTH_CLIENT_SECRET", &cfg.Auth.OAuth.ClientSecret)
	envString("HERMES_OAUTH_CALLBACK_URL", &cfg.Auth.OAuth.CallbackURL)

	envString("HERMES_LOG_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("HERMES_LOG_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("HERMES_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("HERMES_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
}

func envString(name string, dst *string) {
	if val := os.Getenv(name); val != "" {
		*dst = val
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if val := os.Getenv(name); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
