package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns all Prometheus metrics emitted by the gateway and provides
// a unified recording interface for the middleware chain, the router, and
// the rate limiter.
//
// Label cardinality is bounded by the deployment: user and tenant ids are
// expected to be low-cardinality identifiers, not raw tokens.
type Collector struct {
	registry *prometheus.Registry

	authEvents      *prometheus.CounterVec
	tokenRefresh    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	rateLimitHits   *prometheus.CounterVec
	toolCalls       *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec

	concurrentUsers   *prometheus.GaugeVec
	activeConnections prometheus.Gauge
}

// NewCollector creates a collector registered against the given registry.
// If registry is nil, a fresh registry is created.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,

		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hermes",
			Name:      "auth_events_total",
			Help:      "Authentication attempts by result and method.",
		}, []string{"user", "tenant", "result", "method"}),

		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hermes",
			Name:      "token_refresh_total",
			Help:      "Background OAuth token refresh attempts by result.",
		}, []string{"user", "result"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "hermes",
			Name:      "request_duration_seconds",
			Help:      "End-to-end proxied request duration.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}, []string{"method", "user", "tenant", "tool"}),

		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hermes",
			Name:      "rate_limit_hits_total",
			Help:      "Rate limiter decisions by tier and action.",
		}, []string{"user", "tenant", "limit_type", "action"}),

		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hermes",
			Name:      "tool_calls_total",
			Help:      "Tool invocations by result.",
		}, []string{"tool", "user", "tenant", "result"}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hermes",
			Name:      "errors_total",
			Help:      "Errors by classified type.",
		}, []string{"error_type", "user", "tenant", "method"}),

		concurrentUsers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "hermes",
			Name:      "concurrent_users",
			Help:      "Users with in-flight requests, per tenant.",
		}, []string{"tenant"}),

		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "hermes",
			Name:      "active_connections",
			Help:      "Open connections to back-end MCP servers.",
		}),
	}

	registry.MustRegister(
		c.authEvents,
		c.tokenRefresh,
		c.requestDuration,
		c.rateLimitHits,
		c.toolCalls,
		c.errorsTotal,
		c.concurrentUsers,
		c.activeConnections,
	)

	return c
}

// Registry exposes the underlying registry for the /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordAuthEvent records an authentication attempt.
// result is "success" or "failure"; method is "api_key", "oauth", or "none".
func (c *Collector) RecordAuthEvent(user, tenant, result, method string) {
	c.authEvents.WithLabelValues(orAnon(user), orDefault(tenant), result, method).Inc()
}

// RecordTokenRefresh records a background token refresh attempt.
func (c *Collector) RecordTokenRefresh(user, result string) {
	c.tokenRefresh.WithLabelValues(orAnon(user), result).Inc()
}

// RecordRequestDuration records the end-to-end duration of a proxied call.
func (c *Collector) RecordRequestDuration(method, user, tenant, tool string, duration time.Duration) {
	c.requestDuration.WithLabelValues(method, orAnon(user), orDefault(tenant), tool).
		Observe(duration.Seconds())
}

// RecordRateLimitHit records a limiter decision. action is "allowed" or
// "exceeded"; limitType names the tier that made the decision.
func (c *Collector) RecordRateLimitHit(user, tenant, limitType, action string) {
	c.rateLimitHits.WithLabelValues(orAnon(user), orDefault(tenant), limitType, action).Inc()
}

// RecordToolCall records a tool invocation outcome.
func (c *Collector) RecordToolCall(tool, user, tenant, result string) {
	c.toolCalls.WithLabelValues(tool, orAnon(user), orDefault(tenant), result).Inc()
}

// RecordError records a classified error.
func (c *Collector) RecordError(errorType, user, tenant, method string) {
	c.errorsTotal.WithLabelValues(errorType, orAnon(user), orDefault(tenant), method).Inc()
}

// SetConcurrentUsers sets the per-tenant concurrent user gauge.
func (c *Collector) SetConcurrentUsers(tenant string, n int) {
	c.concurrentUsers.WithLabelValues(orDefault(tenant)).Set(float64(n))
}

// IncActiveConnections increments the back-end connection gauge.
func (c *Collector) IncActiveConnections() {
	c.activeConnections.Inc()
}

// DecActiveConnections decrements the back-end connection gauge.
func (c *Collector) DecActiveConnections() {
	c.activeConnections.Dec()
}

func orAnon(user string) string {
	if user == "" {
		return "anonymous"
	}
	return user
}

func orDefault(tenant string) string {
	if tenant == "" {
		return "default"
	}
	return tenant
}
