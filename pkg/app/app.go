// Package app wires the gateway components together: storage, cache,
// breakers, router, registry, proxy, limiter, auth, telemetry, and the
// HTTP server, with lifecycle management and config reload.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"stellar-hq/hermes/pkg/breaker"
	"stellar-hq/hermes/pkg/config"
	"stellar-hq/hermes/pkg/limits"
	"stellar-hq/hermes/pkg/proxy"
	"stellar-hq/hermes/pkg/registry"
	"stellar-hq/hermes/pkg/router"
	"stellar-hq/hermes/pkg/security/auth"
	"stellar-hq/hermes/pkg/server"
	"stellar-hq/hermes/pkg/storage"
	"stellar-hq/hermes/pkg/storage/kv"
	"stellar-hq/hermes/pkg/telemetry/metrics"
	"stellar-hq/hermes/pkg/telemetry/tracing"
)

// App is the assembled gateway.
type App struct {
	cfg     *config.Config
	version string
	logger  *slog.Logger

	Storage  storage.Storage
	KV       *kv.Client
	Breakers *breaker.Manager
	Router   *router.Router
	Registry *registry.Registry
	Proxy    *proxy.Proxy
	Limiter  *limits.Limiter
	Auth     *auth.Pipeline
	Authz    *auth.Authorizer
	Tracer   *tracing.Tracer
	Metrics  *metrics.Collector
	Pruner   *storage.Pruner
	Server   *server.Server

	refresher *auth.TokenRefresher
	watcher   *config.Watcher
}

// New builds the component graph. Nothing starts running until Run.
func New(cfg *config.Config, version string) (*App, error) {
	a := &App{
		cfg:     cfg,
		version: version,
		logger:  slog.Default().With("component", "app"),
	}

	var err error
	if a.Storage, err = newStorage(&cfg.Storage); err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	// The cache store is optional: without it the limiter and API-key
	// cache degrade to in-process behavior.
	if a.KV, err = kv.NewClient(context.Background(), &cfg.Cache); err != nil {
		a.logger.Warn("cache store unavailable, running in-process only", "error", err)
		a.KV = nil
	}

	if a.Tracer, err = tracing.New(&cfg.Telemetry.Tracing); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.Metrics = metrics.NewCollector(nil)

	a.Breakers = breaker.NewManager(&cfg.Breaker)
	if a.Router, err = router.New(&cfg.Router, a.Storage, a.Breakers); err != nil {
		return nil, err
	}

	a.Registry = registry.New(a.Storage, &cfg.Registry)
	a.Registry.OnUnregister(a.Breakers.Remove)
	a.Registry.OnUnregister(a.Router.Forget)

	a.Proxy = proxy.New(&cfg.Proxy, a.Router, a.Breakers, a.Storage,
		a.Metrics, a.Tracer, cfg.Audit.Enabled)
	a.Limiter = limits.New(&cfg.RateLimit, a.KV, a.Metrics)

	a.Auth = auth.NewPipeline(a.Storage, a.KV, &cfg.Auth, a.Metrics)
	a.Authz = auth.NewAuthorizer(cfg.Auth.ToolPolicies)
	a.refresher = auth.NewTokenRefresher(&cfg.Auth.OAuth, a.KV, a.Metrics)

	a.Pruner = storage.NewPruner(a.Storage, &cfg.Audit)

	a.Server = server.NewServer(&cfg.Server, server.Deps{
		Registry: a.Registry,
		Router:   a.Router,
		Proxy:    a.Proxy,
		Limiter:  a.Limiter,
		Breakers: a.Breakers,
		Storage:  a.Storage,
		Auth:     a.Auth,
		Authz:    a.Authz,
		Metrics:  a.Metrics,
		Tracer:   a.Tracer,
	}, version)

	return a, nil
}

// WatchConfig reloads runtime-reconfigurable settings when the config
// file changes: tenant rate limits and weights, and tool policies.
func (a *App) WatchConfig(path string) error {
	watcher, err := config.NewWatcher(path)
	if err != nil {
		return err
	}
	watcher.OnReload(func(next *config.Config) {
		a.Limiter.Reconfigure(next.RateLimit.TenantRPM, next.RateLimit.TenantWeights)
		a.Authz.SetPolicies(next.Auth.ToolPolicies)
		a.logger.Info("runtime configuration reloaded")
	})
	watcher.Start()
	a.watcher = watcher
	return nil
}

// Run starts background loops and serves HTTP until ctx is cancelled or
// a signal arrives, then tears down in reverse order.
func (a *App) Run(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Registry.Start(bgCtx); err != nil {
		return fmt.Errorf("failed to start registry: %w", err)
	}
	a.Router.StartSweeper(bgCtx)
	a.Limiter.StartCleanup(bgCtx)
	a.Auth.Start(bgCtx)
	a.refresher.Start(bgCtx)
	if a.cfg.Audit.Enabled {
		if err := a.Pruner.Start(bgCtx); err != nil {
			return fmt.Errorf("failed to start audit pruner: %w", err)
		}
	}

	serveErr := a.Server.Start(ctx)

	// New requests are refused; stop probes and housekeeping, then
	// release client and store resources.
	cancel()
	a.Registry.Stop()
	if a.cfg.Audit.Enabled {
		a.Pruner.Stop()
	}
	a.Close()

	return serveErr
}

// Close releases resources without a graceful drain. Run calls it on the
// way out; standalone callers (tests, validate) may call it directly.
func (a *App) Close() {
	if a.watcher != nil {
		a.watcher.Stop()
		a.watcher = nil
	}
	if a.Proxy != nil {
		a.Proxy.Close()
	}
	if a.Tracer != nil {
		if err := a.Tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("tracer shutdown failed", "error", err)
		}
	}
	if a.KV != nil {
		if err := a.KV.Close(); err != nil {
			a.logger.Warn("cache close failed", "error", err)
		}
		a.KV = nil
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.logger.Warn("storage close failed", "error", err)
		}
		a.Storage = nil
	}
}

func newStorage(cfg *config.StorageConfig) (storage.Storage, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "", "sqlite":
		return storage.NewSQLiteStorage(cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
