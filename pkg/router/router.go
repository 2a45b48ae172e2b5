package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"stellar-hq/hermes/pkg/breaker"
	"stellar-hq/hermes/pkg/config"
	"stellar-hq/hermes/pkg/router/strategies"
	"stellar-hq/hermes/pkg/storage"
)

// Errors returned by Route. They are distinct so the proxy can answer
// "no such capability" and "nothing healthy right now" differently.
var (
	// ErrNoCompatibleServer indicates no registered server satisfies the
	// capability requirements.
	ErrNoCompatibleServer = errors.New("no compatible server")

	// ErrServerUnavailable indicates compatible servers exist but none is
	// currently routable (unhealthy or circuit open).
	ErrServerUnavailable = errors.New("no available server")
)

// Request describes one routing decision.
type Request struct {
	// TenantID scopes the candidate set. Empty means the shared scope.
	TenantID string

	// RequiredTools narrows candidates to servers exposing every listed
	// tool.
	RequiredTools []string

	// ResourcePrefixes narrows candidates to servers advertising any
	// matching resource pattern.
	ResourcePrefixes []string

	// Exclude removes servers already tried for this request.
	Exclude []string

	// Preferred restricts selection to the listed server ids when any of
	// them is routable; otherwise selection falls back to the full set.
	Preferred []string

	// AffinityKey carries session identity for the consistent-hash
	// policy.
	AffinityKey string
}

// Router selects a back-end server for each request using the configured
// load-balancing policy, filtered by capability, health, and circuit
// state.
type Router struct {
	cfg      *config.RouterConfig
	storage  storage.Storage
	breakers *breaker.Manager
	strategy strategies.Strategy
	board    *scoreboard
	logger   *slog.Logger
}

// New creates a router with the configured policy.
func New(cfg *config.RouterConfig, st storage.Storage, breakers *breaker.Manager) (*Router, error) {
	strategy, err := strategies.New(cfg.Policy, cfg.VirtualNodes)
	if err != nil {
		return nil, fmt.Errorf("failed to build routing strategy: %w", err)
	}

	return &Router{
		cfg:      cfg,
		storage:  st,
		breakers: breakers,
		strategy: strategy,
		board:    newScoreboard(),
		logger:   slog.Default().With("component", "router"),
	}, nil
}

// Policy returns the active policy name.
func (r *Router) Policy() string { return r.strategy.Name() }

// Route picks one server for the request.
func (r *Router) Route(ctx context.Context, req Request) (*storage.ServerRecord, error) {
	tenant := req.TenantID
	compatible, err := r.storage.FindServers(ctx, storage.ServerFilter{
		TenantID:         &tenant,
		Tools:            req.RequiredTools,
		ResourcePrefixes: req.ResourcePrefixes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find candidate servers: %w", err)
	}
	if len(compatible) == 0 {
		return nil, ErrNoCompatibleServer
	}

	excluded := make(map[string]struct{}, len(req.Exclude))
	for _, id := range req.Exclude {
		excluded[id] = struct{}{}
	}

	var available []*storage.ServerRecord
	for _, srv := range compatible {
		if _, skip := excluded[srv.ID]; skip {
			continue
		}
		if !routableHealth(srv.HealthStatus) {
			continue
		}
		if !r.breakers.CanExecute(srv.ID) {
			continue
		}
		available = append(available, srv)
	}
	if len(available) == 0 {
		return nil, ErrServerUnavailable
	}
	if len(req.Preferred) > 0 {
		preferred := make(map[string]struct{}, len(req.Preferred))
		for _, id := range req.Preferred {
			preferred[id] = struct{}{}
		}
		var narrowed []*storage.ServerRecord
		for _, srv := range available {
			if _, ok := preferred[srv.ID]; ok {
				narrowed = append(narrowed, srv)
			}
		}
		if len(narrowed) > 0 {
			available = narrowed
		}
	}
	if len(available) == 1 {
		return available[0], nil
	}

	candidates := make([]*strategies.Candidate, len(available))
	for i, srv := range available {
		snap := r.board.snapshot(srv.ID)
		candidates[i] = &strategies.Candidate{
			Server:  srv,
			Metrics: snap,
			Score: snap.Score(
				r.cfg.HealthWeight,
				r.cfg.LatencyWeight,
				r.cfg.CapacityWeight,
			),
		}
	}

	key := req.AffinityKey
	if key == "" {
		key = req.TenantID
	}
	picked := r.strategy.Select(key, candidates)

	r.logger.Debug("routed request",
		"server_id", picked.Server.ID,
		"policy", r.strategy.Name(),
		"candidates", len(candidates),
	)
	return picked.Server, nil
}

// RecordResult records a completed request against a server's metrics and
// refreshes the persisted performance snapshot best-effort.
func (r *Router) RecordResult(ctx context.Context, serverID string, success bool, elapsed time.Duration) {
	r.board.get(serverID).RecordResult(success, elapsed)

	snap := r.board.snapshot(serverID)
	err := r.storage.UpdateServerPerf(ctx, serverID, storage.PerfSnapshot{
		AvgResponseMs:     snap.AvgResponseMs,
		SuccessRate:       snap.SuccessRate,
		ActiveConnections: snap.ActiveConnections,
	})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		r.logger.Warn("failed to persist perf snapshot",
			"server_id", serverID, "error", err)
	}
}

// IncrementConnections marks a request in flight on a server.
func (r *Router) IncrementConnections(serverID string) {
	r.board.get(serverID).IncConnections()
}

// DecrementConnections marks a request finished on a server.
func (r *Router) DecrementConnections(serverID string) {
	r.board.get(serverID).DecConnections()
}

// Metrics returns the current snapshot for one server.
func (r *Router) Metrics(serverID string) breaker.MetricsSnapshot {
	return r.board.snapshot(serverID)
}

// Forget drops routing metrics for an unregistered server.
func (r *Router) Forget(serverID string) {
	r.board.forget(serverID)
}

// StartSweeper launches the periodic housekeeping sweep that evicts
// metrics for servers that left the catalog or have been idle too long.
func (r *Router) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(ctx)
			}
		}
	}()
}

func (r *Router) sweep(ctx context.Context) {
	registered := make(map[string]struct{})
	servers, err := r.storage.FindServers(ctx, storage.ServerFilter{})
	if err != nil {
		r.logger.Warn("metrics sweep skipped", "error", err)
		return
	}
	for _, srv := range servers {
		registered[srv.ID] = struct{}{}
	}

	evicted := r.board.sweep(registered, r.cfg.MetricsIdleEviction)
	if evicted > 0 {
		r.logger.Info("swept routing metrics", "evicted", evicted)
	}
}

// Only HEALTHY servers receive traffic. DEGRADED stays visible in the
// catalog but is skipped until a probe promotes it back.
func routableHealth(h storage.HealthStatus) bool {
	return h == storage.HealthHealthy
}
