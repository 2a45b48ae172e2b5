package limits

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"stellar-hq/hermes/pkg/config"
	"stellar-hq/hermes/pkg/storage/kv"
	"stellar-hq/hermes/pkg/telemetry/metrics"
)

// Tier names reported in limiter decisions, ordered by check precedence.
// The fairness window and the tenant bucket share one tier name since
// both enforce the tenant's advanced budget.
const (
	TierDDoS           = "ddos"
	TierGlobal         = "global"
	TierTenantAdvanced = "tenant_advanced"
	TierUser           = "user"
	TierIP             = "ip"
)

// CheckRequest identifies the caller for one admission decision.
type CheckRequest struct {
	TenantID string
	UserID   string
	Role     string
	ClientIP string
}

// Decision is the limiter's verdict. Tier names the tier that denied the
// request; it is empty on allow.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Tier       string        `json:"tier,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// Limiter enforces the multi-tier budget: DDoS quarantine, global,
// tenant fairness plus tenant bucket, per-user role bucket, and a
// per-IP bucket at the anonymous budget that applies to every caller.
// Buckets live in the cache store when distributed limiting is on, with
// transparent in-process fallback.
type Limiter struct {
	mu  sync.RWMutex
	cfg config.RateLimitConfig

	cache    *kv.Client
	metrics  *metrics.Collector
	logger   *slog.Logger
	local    *bucketSet
	fairness *fairnessTracker

	// Local DDoS state used when the cache store is absent.
	ddosMu     sync.Mutex
	violations map[string]*slidingWindow
	bans       map[string]time.Time
}

// New creates a limiter. cache may be nil; the limiter then runs fully
// in process.
func New(cfg *config.RateLimitConfig, cache *kv.Client, collector *metrics.Collector) *Limiter {
	return &Limiter{
		cfg:     *cfg,
		cache:   cache,
		metrics: collector,
		logger:  slog.Default().With("component", "limits"),
		local:   newBucketSet(),
		fairness: newFairnessTracker(
			cfg.FairnessWindow,
			cfg.TenantWeights,
			cfg.BurstAllowanceFactor,
		),
		violations: make(map[string]*slidingWindow),
		bans:       make(map[string]time.Time),
	}
}

// Check runs the tiers in order and returns the first denial, counting a
// violation against the client IP when one occurs.
func (l *Limiter) Check(ctx context.Context, req CheckRequest) Decision {
	l.mu.RLock()
	cfg := l.cfg
	l.mu.RUnlock()

	if !cfg.Enabled {
		return Decision{Allowed: true}
	}

	if cfg.EnableDDoSProtection && req.ClientIP != "" {
		if banned, ttl := l.isBanned(ctx, req.ClientIP); banned {
			l.record(req, TierDDoS, false)
			return Decision{Tier: TierDDoS, RetryAfter: ttl}
		}
	}

	if d := l.takeBucket(ctx, "global", float64(cfg.GlobalRPM), cfg.BurstFactor); !d.Allowed {
		return l.deny(ctx, req, TierGlobal, d.RetryAfter, cfg)
	}

	if cfg.EnablePerTenant && req.TenantID != "" {
		windowBudget := float64(cfg.GlobalRPM) * cfg.FairnessWindow.Minutes()
		admitted, fairShare := l.fairness.admit(req.TenantID, windowBudget)
		if !admitted {
			retry := cfg.FairnessWindow
			if fairShare > 0 {
				retry = time.Duration(float64(cfg.FairnessWindow) / fairShare)
			}
			return l.deny(ctx, req, TierTenantAdvanced, retry, cfg)
		}

		rpm := cfg.TenantRPM[req.TenantID]
		if rpm <= 0 {
			rpm = int(float64(roleRPM(cfg, "user")) * cfg.TenantMultiplier)
		}
		if d := l.takeBucket(ctx, "tenant_advanced:"+req.TenantID, float64(rpm), cfg.BurstFactor); !d.Allowed {
			return l.deny(ctx, req, TierTenantAdvanced, d.RetryAfter, cfg)
		}
	}

	if req.UserID != "" {
		rpm := roleRPM(cfg, req.Role)
		if d := l.takeBucket(ctx, "user:"+req.UserID, float64(rpm), cfg.BurstFactor); !d.Allowed {
			return l.deny(ctx, req, TierUser, d.RetryAfter, cfg)
		}
	}

	// The per-IP bucket applies to authenticated callers too, at the
	// anonymous budget.
	if req.ClientIP != "" {
		rpm := roleRPM(cfg, "anonymous")
		if d := l.takeBucket(ctx, "ip:"+req.ClientIP, float64(rpm), cfg.BurstFactor); !d.Allowed {
			return l.deny(ctx, req, TierIP, d.RetryAfter, cfg)
		}
	}

	l.record(req, "", true)
	return Decision{Allowed: true}
}

func (l *Limiter) deny(ctx context.Context, req CheckRequest, tier string, retryAfter time.Duration, cfg config.RateLimitConfig) Decision {
	l.record(req, tier, false)
	if cfg.EnableDDoSProtection && req.ClientIP != "" {
		l.countViolation(ctx, req.ClientIP, cfg)
	}
	return Decision{Tier: tier, RetryAfter: retryAfter}
}

func (l *Limiter) record(req CheckRequest, tier string, allowed bool) {
	action := "exceeded"
	limitType := tier
	if allowed {
		action = "allowed"
		limitType = "none"
	}
	l.metrics.RecordRateLimitHit(req.UserID, req.TenantID, limitType, action)
}

// takeBucket consumes one token from the named bucket, distributed when
// possible, local otherwise.
func (l *Limiter) takeBucket(ctx context.Context, name string, rpm, burstFactor float64) kv.BucketDecision {
	capacity := rpm * burstFactor
	refill := rpm / 60.0

	if l.cfg.EnableDistributed && l.cache != nil {
		d, err := l.cache.TakeToken(ctx, "hermes:rl:"+name, capacity, refill, 1)
		if err == nil {
			return d
		}
		l.logger.Warn("distributed bucket unavailable, using local fallback",
			"bucket", name, "error", err)
	}

	allowed, remaining, retryAfter := l.local.get(name, capacity, refill).take(1)
	return kv.BucketDecision{Allowed: allowed, Remaining: remaining, RetryAfter: retryAfter}
}

// ----------------------------------------------------------------------------
// DDoS tracking
// ----------------------------------------------------------------------------

func (l *Limiter) isBanned(ctx context.Context, ip string) (bool, time.Duration) {
	if l.cache != nil {
		banned, ttl, err := l.cache.IsBanned(ctx, ip)
		if err == nil {
			return banned, ttl
		}
		l.logger.Warn("ban check unavailable, using local state", "error", err)
	}

	l.ddosMu.Lock()
	defer l.ddosMu.Unlock()
	until, ok := l.bans[ip]
	if !ok {
		return false, 0
	}
	if time.Now().After(until) {
		delete(l.bans, ip)
		return false, 0
	}
	return true, time.Until(until)
}

func (l *Limiter) countViolation(ctx context.Context, ip string, cfg config.RateLimitConfig) {
	var count int64
	if l.cache != nil {
		n, err := l.cache.IncrViolations(ctx, ip, time.Hour)
		if err == nil {
			count = n
			if count >= int64(cfg.DDoSThreshold) {
				if err := l.cache.Ban(ctx, ip, cfg.BanDuration); err != nil {
					l.logger.Warn("failed to record ban", "ip", ip, "error", err)
				}
			}
			return
		}
		l.logger.Warn("violation counter unavailable, using local state", "error", err)
	}

	l.ddosMu.Lock()
	defer l.ddosMu.Unlock()
	w, ok := l.violations[ip]
	if !ok {
		w = newSlidingWindow(time.Hour, time.Minute)
		l.violations[ip] = w
	}
	w.add(1)
	if w.sum() >= int64(cfg.DDoSThreshold) {
		l.bans[ip] = time.Now().Add(cfg.BanDuration)
		l.logger.Warn("client ip banned", "ip", ip, "duration", cfg.BanDuration)
	}
}

// Unban lifts a quarantine and clears the violation count.
func (l *Limiter) Unban(ctx context.Context, ip string) {
	if l.cache != nil {
		l.cache.Unban(ctx, ip)
		l.cache.ClearViolations(ctx, ip)
	}
	l.ddosMu.Lock()
	defer l.ddosMu.Unlock()
	delete(l.bans, ip)
	delete(l.violations, ip)
}

// ----------------------------------------------------------------------------
// Admin surface
// ----------------------------------------------------------------------------

// Status describes the limiter's view of one caller.
type Status struct {
	TenantID      string        `json:"tenant_id,omitempty"`
	TenantUsage   int64         `json:"tenant_window_usage"`
	Banned        bool          `json:"banned"`
	BanRemaining  time.Duration `json:"ban_remaining,omitempty"`
	GlobalRPM     int           `json:"global_rpm"`
	Distributed   bool          `json:"distributed"`
	FairnessShare time.Duration `json:"fairness_window"`
}

// StatusFor reports the current limiter state for a caller.
func (l *Limiter) StatusFor(ctx context.Context, tenantID, ip string) Status {
	l.mu.RLock()
	cfg := l.cfg
	l.mu.RUnlock()

	s := Status{
		TenantID:      tenantID,
		GlobalRPM:     cfg.GlobalRPM,
		Distributed:   cfg.EnableDistributed && l.cache != nil,
		FairnessShare: cfg.FairnessWindow,
	}
	if tenantID != "" {
		s.TenantUsage = l.fairness.usage(tenantID)
	}
	if ip != "" {
		s.Banned, s.BanRemaining = l.isBanned(ctx, ip)
	}
	return s
}

// ResetTenant clears a tenant's fairness window and bucket.
func (l *Limiter) ResetTenant(ctx context.Context, tenantID string) {
	l.fairness.resetTenant(tenantID)
	l.local.remove("tenant_advanced:" + tenantID)
	if l.cache != nil {
		l.cache.ResetBucket(ctx, "hermes:rl:tenant_advanced:"+tenantID)
	}
}

// ResetUser clears a user's bucket.
func (l *Limiter) ResetUser(ctx context.Context, userID string) {
	l.local.remove("user:" + userID)
	if l.cache != nil {
		l.cache.ResetBucket(ctx, "hermes:rl:user:"+userID)
	}
}

// Reconfigure applies new tenant limits and fairness weights at runtime.
// Other settings keep their boot values.
func (l *Limiter) Reconfigure(tenantRPM map[string]int, tenantWeights map[string]float64) {
	l.mu.Lock()
	l.cfg.TenantRPM = tenantRPM
	l.cfg.TenantWeights = tenantWeights
	l.mu.Unlock()

	l.fairness.setWeights(tenantWeights)
	l.logger.Info("rate limit tiers reconfigured",
		"tenants", len(tenantRPM), "weights", len(tenantWeights))
}

// StartCleanup launches the periodic sweep of idle local buckets,
// fairness windows, and expired local bans.
func (l *Limiter) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(l.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.cleanup()
			}
		}
	}()
}

func (l *Limiter) cleanup() {
	idle := 2 * l.cfg.CleanupInterval
	buckets := l.local.sweep(idle)
	windows := l.fairness.sweep(idle)

	l.ddosMu.Lock()
	now := time.Now()
	for ip, until := range l.bans {
		if now.After(until) {
			delete(l.bans, ip)
		}
	}
	l.ddosMu.Unlock()

	if buckets > 0 || windows > 0 {
		l.logger.Debug("limiter cleanup",
			"buckets_evicted", buckets, "windows_evicted", windows)
	}
}

func roleRPM(cfg config.RateLimitConfig, role string) int {
	if rpm, ok := cfg.RoleRPM[role]; ok && rpm > 0 {
		return rpm
	}
	if rpm, ok := cfg.RoleRPM["user"]; ok && rpm > 0 {
		return rpm
	}
	return 100
}
