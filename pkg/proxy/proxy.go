package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stellar-hq/hermes/pkg/breaker"
	"stellar-hq/hermes/pkg/config"
	"stellar-hq/hermes/pkg/mcp"
	"stellar-hq/hermes/pkg/router"
	"stellar-hq/hermes/pkg/storage"
	"stellar-hq/hermes/pkg/telemetry/logging"
	"stellar-hq/hermes/pkg/telemetry/metrics"
	"stellar-hq/hermes/pkg/telemetry/tracing"
)

// Input is one request to forward, with the caller identity resolved by
// the middleware chain.
type Input struct {
	Request   mcp.Request
	TenantID  string
	UserID    string
	ClientIP  string
	UserAgent string

	// Timeout bounds the whole forward. Zero means the configured
	// default; negative is rejected.
	Timeout time.Duration

	// SessionKey carries affinity for the consistent-hash policy.
	SessionKey string

	// RequiredTools, RequiredResources, and PreferredServers are the
	// advanced-proxy extensions layered on top of the method-derived
	// requirements. They are never forwarded to the back-end.
	RequiredTools     []string
	RequiredResources []string
	PreferredServers  []string
}

// Detail reports routing facts about a completed forward for callers that
// augment the JSON-RPC envelope.
type Detail struct {
	ServerID string
	Duration time.Duration
	Success  bool
}

// Proxy forwards JSON-RPC requests to back-end MCP servers selected by
// the router, guarded by per-server circuits, and records the outcome in
// metrics, traces, and the audit log.
type Proxy struct {
	cfg      *config.ProxyConfig
	router   *router.Router
	breakers *breaker.Manager
	storage  storage.Storage
	metrics  *metrics.Collector
	tracer   *tracing.Tracer
	logger   *slog.Logger
	sanitize *logging.Sanitizer

	pool   *clientPool
	active *activeTable

	auditEnabled bool
}

// New creates a proxy. The collector and tracer may not be nil; callers
// that do not want export pass disabled instances.
func New(
	cfg *config.ProxyConfig,
	rt *router.Router,
	breakers *breaker.Manager,
	st storage.Storage,
	collector *metrics.Collector,
	tracer *tracing.Tracer,
	auditEnabled bool,
) *Proxy {
	return &Proxy{
		cfg:          cfg,
		router:       rt,
		breakers:     breakers,
		storage:      st,
		metrics:      collector,
		tracer:       tracer,
		logger:       slog.Default().With("component", "proxy"),
		sanitize:     logging.NewSanitizer(),
		pool:         newClientPool(cfg),
		active:       newActiveTable(),
		auditEnabled: auditEnabled,
	}
}

// Forward routes and forwards one request, always returning a JSON-RPC
// envelope. Transport and routing failures become error envelopes rather
// than Go errors so the HTTP surface stays uniform.
func (p *Proxy) Forward(ctx context.Context, in Input) *mcp.Response {
	resp, _ := p.ForwardDetailed(ctx, in)
	return resp
}

// ForwardDetailed is Forward plus the routing detail the advanced proxy
// endpoint reports back to the caller.
func (p *Proxy) ForwardDetailed(ctx context.Context, in Input) (*mcp.Response, Detail) {
	startedAt := time.Now()
	resp, serverID := p.forward(ctx, in, startedAt)
	return resp, Detail{
		ServerID: serverID,
		Duration: time.Since(startedAt),
		Success:  resp != nil && resp.Error == nil,
	}
}

func (p *Proxy) forward(ctx context.Context, in Input, startedAt time.Time) (*mcp.Response, string) {
	requestID := envelopeRequestID(in.Request.ID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if in.Timeout < 0 {
		return p.fail(ctx, in, requestID, "", startedAt,
			mcp.CodeInvalidParams, "Invalid timeout", map[string]any{
				"error": "timeout must be positive",
			}), ""
	}
	timeout := in.Timeout
	if timeout == 0 {
		timeout = p.cfg.DefaultTimeout
	}

	stages := make(map[string]time.Duration, 2)

	routeStart := time.Now()
	ctx, routeSpan := p.tracer.Start(ctx, tracing.SpanRouting,
		trace.WithAttributes(attribute.String("rpc.method", in.Request.Method)))
	target, err := p.route(ctx, in)
	routeSpan.End()
	stages[tracing.SpanRouting] = time.Since(routeStart)

	if err != nil {
		switch {
		case errors.Is(err, router.ErrNoCompatibleServer):
			return p.fail(ctx, in, requestID, "", startedAt,
				mcp.CodeInternalError, "No compatible server found", map[string]any{
					"error": err.Error(),
				}), ""
		case errors.Is(err, router.ErrServerUnavailable):
			return p.fail(ctx, in, requestID, "", startedAt,
				mcp.CodeInternalError, "No available server", map[string]any{
					"error": err.Error(),
				}), ""
		case errors.Is(err, errInvalidParams):
			return p.fail(ctx, in, requestID, "", startedAt,
				mcp.CodeInvalidParams, "Invalid params", map[string]any{
					"error": err.Error(),
				}), ""
		default:
			return p.fail(ctx, in, requestID, "", startedAt,
				mcp.CodeInternalError, "Internal error", map[string]any{
					"error": err.Error(),
				}), ""
		}
	}

	done, err := p.breakers.Begin(target.ID)
	if err != nil {
		return p.fail(ctx, in, requestID, target.ID, startedAt,
			mcp.CodeInternalError, "No available server", map[string]any{
				"error": "circuit open for selected server",
			}), target.ID
	}

	fwdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p.active.add(&ActiveRequest{
		RequestID: requestID,
		Method:    in.Request.Method,
		ServerID:  target.ID,
		TenantID:  in.TenantID,
		UserID:    in.UserID,
		StartedAt: startedAt,
		cancel:    cancel,
	})
	defer p.active.remove(requestID)

	p.router.IncrementConnections(target.ID)
	p.metrics.IncActiveConnections()

	fwdStart := time.Now()
	fwdCtx, fwdSpan := p.tracer.Start(fwdCtx, tracing.SpanProxyForward,
		trace.WithAttributes(
			attribute.String("server.id", target.ID),
			attribute.String("server.transport", string(target.Transport)),
		))
	resp, fwdErr := p.forwardTransport(fwdCtx, target, &in.Request)
	fwdSpan.End()
	elapsed := time.Since(fwdStart)
	stages[tracing.SpanProxyForward] = elapsed

	p.router.DecrementConnections(target.ID)
	p.metrics.DecActiveConnections()

	success := fwdErr == nil && (resp == nil || resp.Error == nil)
	done(fwdErr == nil)
	p.router.RecordResult(ctx, target.ID, fwdErr == nil, elapsed)

	if fwdErr != nil {
		switch {
		case errors.Is(fwdErr, context.DeadlineExceeded):
			return p.fail(ctx, in, requestID, target.ID, startedAt,
				mcp.CodeInternalError, "Request timeout", map[string]any{
					"timeout": timeout.String(),
				}), target.ID
		case errors.Is(fwdErr, context.Canceled):
			return p.fail(ctx, in, requestID, target.ID, startedAt,
				mcp.CodeInternalError, "Request cancelled", nil), target.ID
		case errors.Is(fwdErr, errUnsupportedTransport):
			return p.fail(ctx, in, requestID, target.ID, startedAt,
				mcp.CodeInternalError, "Unsupported transport", map[string]any{
					"transport": string(target.Transport),
				}), target.ID
		default:
			return p.fail(ctx, in, requestID, target.ID, startedAt,
				mcp.CodeInternalError, "Internal error", map[string]any{
					"error": fwdErr.Error(),
				}), target.ID
		}
	}

	p.recordOutcome(ctx, in, requestID, target.ID, startedAt, stages, success, resp)
	return resp, target.ID
}

// ActiveRequests lists in-flight proxied requests.
func (p *Proxy) ActiveRequests() []ActiveRequest {
	return p.active.list()
}

// Cancel aborts an in-flight request by id. Returns false when the
// request is unknown or already finished.
func (p *Proxy) Cancel(requestID string) bool {
	return p.active.cancel(requestID)
}

// Close releases pooled back-end connections.
func (p *Proxy) Close() {
	p.pool.closeIdle()
}

var errInvalidParams = errors.New("invalid params")

// route derives the capability requirements from the method and asks the
// router for a target.
func (p *Proxy) route(ctx context.Context, in Input) (*storage.ServerRecord, error) {
	req := router.Request{
		TenantID:         in.TenantID,
		AffinityKey:      in.SessionKey,
		RequiredTools:    in.RequiredTools,
		ResourcePrefixes: in.RequiredResources,
		Preferred:        in.PreferredServers,
	}

	switch in.Request.Method {
	case mcp.MethodToolsCall:
		var params struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(in.Request.Params, &params); err != nil || params.Name == "" {
			return nil, fmt.Errorf("%w: tools/call requires a tool name", errInvalidParams)
		}
		req.RequiredTools = append(req.RequiredTools, params.Name)
	case mcp.MethodResourcesRead:
		var params struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(in.Request.Params, &params); err != nil || params.URI == "" {
			return nil, fmt.Errorf("%w: resources/read requires a uri", errInvalidParams)
		}
		req.ResourcePrefixes = append(req.ResourcePrefixes, params.URI)
	}

	return p.router.Route(ctx, req)
}

// fail records the failure and returns the error envelope.
func (p *Proxy) fail(
	ctx context.Context,
	in Input,
	requestID, serverID string,
	startedAt time.Time,
	code int,
	message string,
	data map[string]any,
) *mcp.Response {
	resp := mcp.NewErrorResponse(in.Request.ID, code, message, data)
	p.metrics.RecordError(errorType(message), in.UserID, in.TenantID, in.Request.Method)
	p.recordOutcome(ctx, in, requestID, serverID, startedAt, nil, false, resp)
	return resp
}

// recordOutcome emits metrics, the retained trace summary, and the audit
// row. Everything here is best-effort; the response is already decided.
func (p *Proxy) recordOutcome(
	ctx context.Context,
	in Input,
	requestID, serverID string,
	startedAt time.Time,
	stages map[string]time.Duration,
	success bool,
	resp *mcp.Response,
) {
	elapsed := time.Since(startedAt)

	tool := ""
	if in.Request.Method == mcp.MethodToolsCall {
		var params struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(in.Request.Params, &params) == nil {
			tool = params.Name
		}
	}

	p.metrics.RecordRequestDuration(in.Request.Method, in.UserID, in.TenantID, tool, elapsed)
	if tool != "" {
		result := "success"
		if !success {
			result = "failure"
		}
		p.metrics.RecordToolCall(tool, in.UserID, in.TenantID, result)
		if success && serverID != "" {
			if err := p.storage.IncrementToolCall(ctx, serverID, tool); err != nil {
				p.logger.Warn("failed to count tool call",
					"server_id", serverID, "tool", tool, "error", err)
			}
		}
	}

	summary := tracing.TraceSummary{
		TraceID:   trace.SpanContextFromContext(ctx).TraceID().String(),
		RequestID: requestID,
		Method:    in.Request.Method,
		TenantID:  in.TenantID,
		UserID:    in.UserID,
		ServerID:  serverID,
		Duration:  elapsed,
		Success:   success,
		StartedAt: startedAt,
		Stages:    stages,
	}
	if !success && resp != nil && resp.Error != nil {
		summary.Error = resp.Error.Message
	}
	p.tracer.Retain(summary)

	if p.auditEnabled {
		p.appendAudit(in, requestID, serverID, startedAt, elapsed, success, resp)
	}
}

func (p *Proxy) appendAudit(
	in Input,
	requestID, serverID string,
	startedAt time.Time,
	elapsed time.Duration,
	success bool,
	resp *mcp.Response,
) {
	row := &storage.RequestLog{
		ID:         uuid.NewString(),
		RequestID:  requestID,
		TenantID:   in.TenantID,
		UserID:     in.UserID,
		Method:     in.Request.Method,
		ServerID:   serverID,
		ClientIP:   in.ClientIP,
		UserAgent:  in.UserAgent,
		StartedAt:  startedAt.UTC(),
		FinishedAt: startedAt.Add(elapsed).UTC(),
		DurationMs: elapsed.Milliseconds(),
		Success:    success,
		Params:     p.sanitizedParams(in.Request.Params),
	}
	if !success && resp != nil && resp.Error != nil {
		row.ErrorCode = fmt.Sprint(resp.Error.Code)
		row.ErrorMessage = resp.Error.Message
	}

	// Detached context: the audit write must not inherit a cancelled
	// request context.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.storage.AppendRequestLog(ctx, row); err != nil {
		p.logger.Warn("failed to append audit row",
			"request_id", requestID, "error", err)
	}
}

func (p *Proxy) sanitizedParams(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return string(raw)
	}
	clean, err := json.Marshal(p.sanitize.SanitizeMap(m))
	if err != nil {
		return ""
	}
	return string(clean)
}

// envelopeRequestID reuses the caller's JSON-RPC id as the gateway
// request id so audit rows and cancellation line up with the client's
// own correlation id. Absent or null ids yield "".
func envelopeRequestID(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return trimmed
}

func errorType(message string) string {
	switch message {
	case "Request timeout":
		return "timeout"
	case "No compatible server found", "No available server":
		return "routing"
	case "Unsupported transport":
		return "transport"
	case "Invalid timeout", "Invalid params":
		return "validation"
	default:
		return "internal"
	}
}
