package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stellar-hq/hermes/pkg/breaker"
	"stellar-hq/hermes/pkg/config"
	"stellar-hq/hermes/pkg/limits"
	"stellar-hq/hermes/pkg/mcp"
	"stellar-hq/hermes/pkg/proxy"
	"stellar-hq/hermes/pkg/registry"
	"stellar-hq/hermes/pkg/router"
	"stellar-hq/hermes/pkg/security/auth"
	"stellar-hq/hermes/pkg/storage"
	"stellar-hq/hermes/pkg/telemetry/metrics"
	"stellar-hq/hermes/pkg/telemetry/tracing"
)

// ============================================================
// Test harness
// ============================================================

type harness struct {
	handler http.Handler
	storage storage.Storage
	proxy   *proxy.Proxy
	apiKey  string
	backend *httptest.Server
}

// echoBackend is a minimal MCP server: /health answers ok, /mcp answers
// tools/list with a fixed tool and echoes everything else.
func echoBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		var req mcp.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		resp := mcp.Response{JSONRPC: mcp.Version, ID: req.ID}
		switch req.Method {
		case mcp.MethodToolsList:
			resp.Result = json.RawMessage(`{"tools":[{"name":"read_file"}]}`)
		case mcp.MethodResourcesList:
			resp.Result = json.RawMessage(`{"resources":[{"uri":"file:///data/*"}]}`)
		default:
			resp.Result = json.RawMessage(fmt.Sprintf(`{"echo":%q}`, req.Method))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *harness {
	t.Helper()
	ctx := context.Background()

	cfg := config.NewDefaultConfig()
	cfg.Telemetry.Tracing.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	st := storage.NewMemoryStorage()
	breakers := breaker.NewManager(&cfg.Breaker)
	rt, err := router.New(&cfg.Router, st, breakers)
	if err != nil {
		t.Fatal(err)
	}
	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
	if err != nil {
		t.Fatal(err)
	}
	collector := metrics.NewCollector(nil)
	prx := proxy.New(&cfg.Proxy, rt, breakers, st, collector, tracer, true)
	t.Cleanup(prx.Close)
	reg := registry.New(st, &cfg.Registry)
	limiter := limits.New(&cfg.RateLimit, nil, collector)
	pipeline := auth.NewPipeline(st, nil, &cfg.Auth, collector)
	authz := auth.NewAuthorizer(cfg.Auth.ToolPolicies)

	if err := st.CreateUser(ctx, &storage.User{
		ID: "user-1", Role: storage.RoleUser, TenantID: "", CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatal(err)
	}
	key, _, err := pipeline.APIKeys().Mint(ctx, "user-1", "", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(&cfg.Server, Deps{
		Registry: reg,
		Router:   rt,
		Proxy:    prx,
		Limiter:  limiter,
		Breakers: breakers,
		Storage:  st,
		Auth:     pipeline,
		Authz:    authz,
		Metrics:  collector,
		Tracer:   tracer,
	}, "test")

	return &harness{
		handler: srv.Handler(),
		storage: st,
		proxy:   prx,
		apiKey:  key,
		backend: echoBackend(t),
	}
}

func (h *harness) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func (h *harness) authed() map[string]string {
	return map[string]string{"x-api-key": h.apiKey}
}

// registerHealthy registers a server against the echo backend through the
// API and marks it healthy so the router will pick it.
func (h *harness) registerHealthy(t *testing.T, name string, tools []string) string {
	t.Helper()
	rec := h.do(t, http.MethodPost, "/api/v1/servers", map[string]any{
		"name":           name,
		"endpoint_url":   h.backend.URL,
		"transport_type": "http",
		"capabilities":   map[string]any{"tools": tools},
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Registration failed with status %d: %s", rec.Code, rec.Body.String())
	}
	var created storage.ServerRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if err := h.storage.MarkServerHealth(context.Background(), created.ID,
		storage.HealthHealthy, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	return created.ID
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("Response is not JSON: %v: %s", err, rec.Body.String())
	}
	return m
}

// ============================================================
// Public endpoints
// ============================================================

func TestIdentityEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := decodeMap(t, rec)["service"]; got != "hermes" {
		t.Errorf("Expected service hermes, got %v", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.registerHealthy(t, "files", []string{"read_file"})

	rec := h.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["status"] != "ok" {
		t.Errorf("Expected ok, got %v", body["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
}

// ============================================================
// Server registration REST plane
// ============================================================

func TestRegisterServerLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	id := h.registerHealthy(t, "files", []string{"read_file"})

	// Duplicate name in the same tenant conflicts.
	rec := h.do(t, http.MethodPost, "/api/v1/servers", map[string]any{
		"name":           "files",
		"endpoint_url":   h.backend.URL,
		"transport_type": "http",
	}, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/servers/"+id, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/servers", nil, nil)
	if got := decodeMap(t, rec)["count"]; got != float64(1) {
		t.Errorf("Expected 1 server, got %v", got)
	}

	rec = h.do(t, http.MethodDelete, "/api/v1/servers/"+id, nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
	rec = h.do(t, http.MethodDelete, "/api/v1/servers/"+id, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", rec.Code)
	}
}

func TestRegisterServerValidation(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodPost, "/api/v1/servers", map[string]any{
		"name":           "bad",
		"endpoint_url":   "not a url",
		"transport_type": "http",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid endpoint, got %d", rec.Code)
	}
}

func TestDiscoveryEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	h.registerHealthy(t, "files", []string{"read_file"})

	rec := h.do(t, http.MethodGet, "/api/v1/discovery/tools?tools=read_file", nil, nil)
	if got := decodeMap(t, rec)["count"]; got != float64(1) {
		t.Errorf("Expected 1 server exposing read_file, got %v", got)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/discovery/tools?tools=no_such_tool", nil, nil)
	if got := decodeMap(t, rec)["count"]; got != float64(0) {
		t.Errorf("Expected 0 servers, got %v", got)
	}

	rec = h.do(t, http.MethodGet, "/api/v1/discovery/tools", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without tools param, got %d", rec.Code)
	}
}

// ============================================================
// MCP plane
// ============================================================

func TestMCPRequiresAuthentication(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/mcp", mcp.Request{
		JSONRPC: mcp.Version, Method: mcp.MethodPing,
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", rec.Code)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Errorf("Expected WWW-Authenticate: Bearer, got %q", got)
	}
}

func TestMCPInvalidKeyRejected(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/mcp", mcp.Request{
		JSONRPC: mcp.Version, Method: mcp.MethodPing,
	}, map[string]string{"Authorization": "Bearer mcp_invalid"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", rec.Code)
	}
}

func TestMCPForward(t *testing.T) {
	h := newHarness(t, nil)
	h.registerHealthy(t, "files", []string{"read_file"})

	rec := h.do(t, http.MethodPost, "/mcp", map[string]any{
		"jsonrpc": "2.0",
		"id":      "r1",
		"method":  "tools/call",
		"params":  map[string]any{"name": "read_file", "arguments": map[string]any{"path": "/etc/hosts"}},
	}, h.authed())
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp mcp.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != nil {
		t.Fatalf("Expected success, got error %+v", resp.Error)
	}
	if string(resp.ID) != `"r1"` {
		t.Errorf("Expected id echoed, got %s", resp.ID)
	}
}

func TestMCPProxyReportsRouting(t *testing.T) {
	h := newHarness(t, nil)
	serverID := h.registerHealthy(t, "files", []string{"read_file"})

	rec := h.do(t, http.MethodPost, "/mcp/proxy", map[string]any{
		"jsonrpc":        "2.0",
		"id":             "r1",
		"method":         "tools/call",
		"params":         map[string]any{"name": "read_file", "arguments": map[string]any{"path": "/etc/hosts"}},
		"required_tools": []string{"read_file"},
		"timeout":        15,
	}, h.authed())
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	body := decodeMap(t, rec)
	if body["server_id"] != serverID {
		t.Errorf("Expected server_id %q, got %v", serverID, body["server_id"])
	}
	if body["success"] != true {
		t.Errorf("Expected success true, got %v", body["success"])
	}
	if _, ok := body["response_time_ms"]; !ok {
		t.Error("Expected response_time_ms in body")
	}
}

func TestMCPProxyRejectsZeroTimeout(t *testing.T) {
	h := newHarness(t, nil)
	h.registerHealthy(t, "files", []string{"read_file"})

	rec := h.do(t, http.MethodPost, "/mcp/proxy", map[string]any{
		"jsonrpc": "2.0",
		"id":      "r3",
		"method":  "ping",
		"timeout": 0,
	}, h.authed())

	var resp mcp.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != mcp.CodeInvalidParams {
		t.Errorf("Expected -32602 for explicit zero timeout, got %+v", resp.Error)
	}
}

func TestMCPProxyNoCompatibleServer(t *testing.T) {
	h := newHarness(t, nil)
	h.registerHealthy(t, "files", []string{"read_file"})

	rec := h.do(t, http.MethodPost, "/mcp/proxy", map[string]any{
		"jsonrpc":        "2.0",
		"id":             "r2",
		"method":         "ping",
		"required_tools": []string{"no_such_tool"},
	}, h.authed())

	var resp proxyResult
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Success {
		t.Error("Expected success false")
	}
	if resp.Error == nil || resp.Error.Message != "No compatible server found" {
		t.Errorf("Expected no-compatible envelope, got %+v", resp.Error)
	}
}

func TestMCPToolsAggregation(t *testing.T) {
	h := newHarness(t, nil)
	h.registerHealthy(t, "files", []string{"read_file", "write_file"})

	rec := h.do(t, http.MethodGet, "/mcp/tools", nil, h.authed())
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var result mcp.ToolsListResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool)
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	if !names["read_file"] || !names["write_file"] {
		t.Errorf("Expected read_file and write_file, got %v", names)
	}
}

func TestMCPToolInvokeShortcut(t *testing.T) {
	h := newHarness(t, nil)
	h.registerHealthy(t, "files", []string{"read_file"})

	rec := h.do(t, http.MethodPost, "/mcp/tools/read_file",
		map[string]any{"path": "/etc/hosts"}, h.authed())
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp mcp.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != nil {
		t.Fatalf("Expected success, got %+v", resp.Error)
	}
}

// ============================================================
// Authorization
// ============================================================

func TestToolPolicyDeniesUser(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Auth.ToolPolicies = map[string][]string{"read_file": {"admin"}}
	})
	h.registerHealthy(t, "files", []string{"read_file"})

	rec := h.do(t, http.MethodPost, "/mcp", map[string]any{
		"jsonrpc": "2.0",
		"id":      "r1",
		"method":  "tools/call",
		"params":  map[string]any{"name": "read_file"},
	}, h.authed())

	var resp mcp.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil {
		t.Fatal("Expected authorization error")
	}
	if resp.Error.Data["error_code"] != auth.CodeAuthorization {
		t.Errorf("Expected %s, got %v", auth.CodeAuthorization, resp.Error.Data)
	}
	roles, ok := resp.Error.Data["required_roles"].([]any)
	if !ok || len(roles) != 1 || roles[0] != "admin" {
		t.Errorf("Expected required_roles [admin], got %v", resp.Error.Data["required_roles"])
	}
}

func TestToolPolicyOwnerBypass(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.Auth.ToolPolicies = map[string][]string{"read_file": {"admin"}}
	})

	// Register with the API key holder as owner.
	rec := h.do(t, http.MethodPost, "/api/v1/servers", map[string]any{
		"name":           "files",
		"endpoint_url":   h.backend.URL,
		"transport_type": "http",
		"owner_user_id":  "user-1",
		"capabilities":   map[string]any{"tools": []string{"read_file"}},
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatal(rec.Body.String())
	}
	var created storage.ServerRecord
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	_ = h.storage.MarkServerHealth(context.Background(), created.ID,
		storage.HealthHealthy, time.Now().UTC())

	rec = h.do(t, http.MethodPost, "/mcp", map[string]any{
		"jsonrpc": "2.0",
		"id":      "r1",
		"method":  "tools/call",
		"params":  map[string]any{"name": "read_file"},
	}, h.authed())

	var resp mcp.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != nil {
		t.Fatalf("Expected owner to bypass policy, got %+v", resp.Error)
	}
}

func TestConfigResourceRequiresAdmin(t *testing.T) {
	h := newHarness(t, nil)
	h.registerHealthy(t, "files", []string{"read_file"})

	rec := h.do(t, http.MethodPost, "/mcp", map[string]any{
		"jsonrpc": "2.0",
		"id":      "r1",
		"method":  "resources/read",
		"params":  map[string]any{"uri": "config://gateway/limits"},
	}, h.authed())

	var resp mcp.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Data["error_code"] != auth.CodeAuthorization {
		t.Errorf("Expected authorization error, got %+v", resp.Error)
	}
}

// ============================================================
// Rate limiting at the HTTP boundary
// ============================================================

func TestRateLimitReturns429(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) {
		cfg.RateLimit.RoleRPM = map[string]int{"user": 1}
		cfg.RateLimit.BurstFactor = 1.0
		cfg.RateLimit.EnableDDoSProtection = false
	})
	h.registerHealthy(t, "files", []string{"read_file"})

	ping := map[string]any{"jsonrpc": "2.0", "id": "r1", "method": "ping"}
	if rec := h.do(t, http.MethodPost, "/mcp", ping, h.authed()); rec.Code != http.StatusOK {
		t.Fatalf("Expected first request allowed, got %d", rec.Code)
	}

	rec := h.do(t, http.MethodPost, "/mcp", ping, h.authed())
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
}

// ============================================================
// Admin surface
// ============================================================

func TestRouterMetricsEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.registerHealthy(t, "files", []string{"read_file"})

	rec := h.do(t, http.MethodGet, "/api/v1/router/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body := decodeMap(t, rec)
	if body["policy"] == "" {
		t.Error("Expected a policy name")
	}
	servers, ok := body["servers"].([]any)
	if !ok || len(servers) != 1 {
		t.Errorf("Expected 1 server entry, got %v", body["servers"])
	}
}

func TestBreakersEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/api/v1/breakers", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
}

func TestTracesEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.registerHealthy(t, "files", []string{"read_file"})

	h.do(t, http.MethodPost, "/mcp", map[string]any{
		"jsonrpc": "2.0", "id": "r1", "method": "ping",
	}, h.authed())

	rec := h.do(t, http.MethodGet, "/api/v1/traces", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := decodeMap(t, rec)["count"]; got == float64(0) {
		t.Error("Expected at least one retained trace")
	}
}

func TestAuditLogEndpoint(t *testing.T) {
	h := newHarness(t, nil)
	h.registerHealthy(t, "files", []string{"read_file"})

	h.do(t, http.MethodPost, "/mcp", map[string]any{
		"jsonrpc": "2.0", "id": "r1", "method": "ping",
	}, h.authed())

	rec := h.do(t, http.MethodGet, "/api/v1/requests?limit=10", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := decodeMap(t, rec)["count"]; got == float64(0) {
		t.Error("Expected at least one audit row")
	}
}

func TestCancelUnknownRequest(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodDelete, "/api/v1/proxy/requests/nope", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestRateLimitAdminEndpoints(t *testing.T) {
	h := newHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/api/v1/ratelimit/status?tenant_id=t1&ip=10.0.0.9", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/ratelimit/reset",
		map[string]any{"scope": "tenant", "id": "t1"}, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}

	rec = h.do(t, http.MethodPost, "/api/v1/ratelimit/reset",
		map[string]any{"scope": "galaxy", "id": "t1"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown scope, got %d", rec.Code)
	}
}

func TestActiveRequestsEmpty(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(t, http.MethodGet, "/api/v1/proxy/active-requests", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := decodeMap(t, rec)["count"]; got != float64(0) {
		t.Errorf("Expected 0 active requests, got %v", got)
	}
}
