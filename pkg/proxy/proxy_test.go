package proxy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"stellar-hq/hermes/pkg/breaker"
	"stellar-hq/hermes/pkg/config"
	"stellar-hq/hermes/pkg/mcp"
	"stellar-hq/hermes/pkg/router"
	"stellar-hq/hermes/pkg/storage"
	"stellar-hq/hermes/pkg/telemetry/metrics"
	"stellar-hq/hermes/pkg/telemetry/tracing"
)

type testHarness struct {
	proxy    *Proxy
	storage  storage.Storage
	breakers *breaker.Manager
	tracer   *tracing.Tracer
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	st := storage.NewMemoryStorage()
	breakers := breaker.NewManager(&config.BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 2,
	})
	rt, err := router.New(&config.RouterConfig{
		Policy:              "round_robin",
		HealthWeight:        0.3,
		LatencyWeight:       0.4,
		CapacityWeight:      0.3,
		VirtualNodes:        100,
		SweepInterval:       time.Minute,
		MetricsIdleEviction: time.Hour,
	}, st, breakers)
	if err != nil {
		t.Fatalf("router.New failed: %v", err)
	}

	tracer, err := tracing.New(&config.TracingConfig{Enabled: false, RetainedTraces: 50})
	if err != nil {
		t.Fatalf("tracing.New failed: %v", err)
	}

	p := New(&config.ProxyConfig{
		DefaultTimeout:        2 * time.Second,
		MaxConnsPerServer:     50,
		MaxIdleConnsPerServer: 10,
	}, rt, breakers, st, metrics.NewCollector(nil), tracer, true)

	return &testHarness{proxy: p, storage: st, breakers: breakers, tracer: tracer}
}

func (h *testHarness) addServer(t *testing.T, id, endpoint string, transport storage.Transport, tools ...string) {
	t.Helper()
	now := time.Now().UTC()
	err := h.storage.RegisterServer(context.Background(), &storage.ServerRecord{
		ID: id, Name: id, EndpointURL: endpoint, Transport: transport,
		Capabilities: storage.Capabilities{Tools: tools},
		HealthStatus: storage.HealthHealthy,
		CreatedAt:    now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("RegisterServer failed: %v", err)
	}
	if len(tools) > 0 {
		rows := make([]storage.ToolRecord, len(tools))
		for i, name := range tools {
			rows[i] = storage.ToolRecord{ServerID: id, Name: name}
		}
		h.storage.ReplaceTools(context.Background(), id, rows)
	}
}

func echoBackend(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/mcp" {
			http.NotFound(w, r)
			return
		}
		var req mcp.Request
		json.NewDecoder(r.Body).Decode(&req)
		result, _ := json.Marshal(map[string]any{"echo": req.Method})
		json.NewEncoder(w).Encode(mcp.Response{JSONRPC: mcp.Version, ID: req.ID, Result: result})
	}))
}

func toolsCall(tool string) mcp.Request {
	params, _ := json.Marshal(map[string]any{"name": tool, "arguments": map[string]any{}})
	return mcp.Request{
		JSONRPC: mcp.Version,
		ID:      json.RawMessage(`"req-1"`),
		Method:  mcp.MethodToolsCall,
		Params:  params,
	}
}

// ============================================================================
// Successful forwarding
// ============================================================================

func TestForward_HTTPSuccess(t *testing.T) {
	backend := echoBackend(t)
	defer backend.Close()

	h := newHarness(t)
	h.addServer(t, "srv-1", backend.URL, storage.TransportHTTP, "search")

	resp := h.proxy.Forward(context.Background(), Input{
		Request:  toolsCall("search"),
		TenantID: "",
		UserID:   "user-1",
	})
	if resp.Error != nil {
		t.Fatalf("Expected success, got error: %+v", resp.Error)
	}
	if string(resp.ID) != `"req-1"` {
		t.Errorf("Request ID not echoed, got %s", resp.ID)
	}

	// Tool call counted against the server.
	srv, _ := h.storage.GetServer(context.Background(), "srv-1")
	if len(srv.Tools) == 0 || srv.Tools[0].CallCount != 1 {
		t.Error("Expected tool call count of 1")
	}
}

func TestForward_PostsToMCPPath(t *testing.T) {
	var gotPath string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.URL.Path != "/mcp" {
			http.NotFound(w, r)
			return
		}
		var req mcp.Request
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(mcp.Response{JSONRPC: mcp.Version, ID: req.ID, Result: json.RawMessage(`{}`)})
	}))
	defer backend.Close()

	h := newHarness(t)
	h.addServer(t, "srv-1", backend.URL, storage.TransportHTTP, "search")

	resp := h.proxy.Forward(context.Background(), Input{Request: toolsCall("search")})
	if resp.Error != nil {
		t.Fatalf("Expected success, got error: %+v", resp.Error)
	}
	if gotPath != "/mcp" {
		t.Errorf("Expected POST to /mcp, got %q", gotPath)
	}
}

func TestForward_GenericMethodRoutesAnywhere(t *testing.T) {
	backend := echoBackend(t)
	defer backend.Close()

	h := newHarness(t)
	h.addServer(t, "srv-1", backend.URL, storage.TransportHTTP, "search")

	resp := h.proxy.Forward(context.Background(), Input{
		Request: mcp.Request{JSONRPC: mcp.Version, ID: json.RawMessage(`1`), Method: mcp.MethodToolsList},
	})
	if resp.Error != nil {
		t.Fatalf("Expected success, got error: %+v", resp.Error)
	}
}

func TestForward_WritesAuditRow(t *testing.T) {
	backend := echoBackend(t)
	defer backend.Close()

	h := newHarness(t)
	h.addServer(t, "srv-1", backend.URL, storage.TransportHTTP, "search")

	h.proxy.Forward(context.Background(), Input{
		Request:  toolsCall("search"),
		UserID:   "user-1",
		ClientIP: "10.0.0.1",
	})

	rows, err := h.storage.ListRequestLogs(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListRequestLogs failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 audit row, got %d", len(rows))
	}
	if rows[0].Method != mcp.MethodToolsCall || !rows[0].Success {
		t.Errorf("Unexpected audit row: %+v", rows[0])
	}
}

func TestForward_AuditUsesCallerRequestID(t *testing.T) {
	backend := echoBackend(t)
	defer backend.Close()

	h := newHarness(t)
	h.addServer(t, "srv-1", backend.URL, storage.TransportHTTP, "search")

	h.proxy.Forward(context.Background(), Input{Request: toolsCall("search")})

	rows, _ := h.storage.ListRequestLogs(context.Background(), 10)
	if len(rows) != 1 {
		t.Fatal("Expected 1 audit row")
	}
	if rows[0].RequestID != "req-1" {
		t.Errorf("Expected caller-provided request id req-1, got %q", rows[0].RequestID)
	}
}

func TestForward_GeneratesRequestIDWhenAbsent(t *testing.T) {
	backend := echoBackend(t)
	defer backend.Close()

	h := newHarness(t)
	h.addServer(t, "srv-1", backend.URL, storage.TransportHTTP, "search")

	h.proxy.Forward(context.Background(), Input{
		Request: mcp.Request{JSONRPC: mcp.Version, Method: mcp.MethodToolsList},
	})

	rows, _ := h.storage.ListRequestLogs(context.Background(), 10)
	if len(rows) != 1 {
		t.Fatal("Expected 1 audit row")
	}
	if rows[0].RequestID == "" {
		t.Error("Expected a generated request id for an envelope without one")
	}
}

func TestForward_SanitizesAuditParams(t *testing.T) {
	backend := echoBackend(t)
	defer backend.Close()

	h := newHarness(t)
	h.addServer(t, "srv-1", backend.URL, storage.TransportHTTP, "search")

	params, _ := json.Marshal(map[string]any{
		"name":      "search",
		"arguments": map[string]any{"query": "hello", "api_key": "hunter2"},
	})
	h.proxy.Forward(context.Background(), Input{
		Request: mcp.Request{JSONRPC: mcp.Version, ID: json.RawMessage(`1`), Method: mcp.MethodToolsCall, Params: params},
	})

	rows, _ := h.storage.ListRequestLogs(context.Background(), 10)
	if len(rows) != 1 {
		t.Fatal("Expected 1 audit row")
	}
	var logged map[string]any
	if err := json.Unmarshal([]byte(rows[0].Params), &logged); err != nil {
		t.Fatalf("Audit params are not JSON: %v", err)
	}
	args := logged["arguments"].(map[string]any)
	if args["api_key"] != "[REDACTED]" {
		t.Errorf("Secret leaked into audit log: %v", args["api_key"])
	}
	if args["query"] != "hello" {
		t.Errorf("Non-sensitive value was altered: %v", args["query"])
	}
}

func TestForward_RetainsTraceSummary(t *testing.T) {
	backend := echoBackend(t)
	defer backend.Close()

	h := newHarness(t)
	h.addServer(t, "srv-1", backend.URL, storage.TransportHTTP, "search")

	h.proxy.Forward(context.Background(), Input{Request: toolsCall("search"), UserID: "user-1"})

	traces := h.tracer.RetainedTraces()
	if len(traces) != 1 {
		t.Fatalf("Expected 1 retained trace, got %d", len(traces))
	}
	if traces[0].Method != mcp.MethodToolsCall || !traces[0].Success {
		t.Errorf("Unexpected trace summary: %+v", traces[0])
	}
	if traces[0].Stages[tracing.SpanProxyForward] <= 0 {
		t.Error("Expected forward stage duration")
	}
}

// ============================================================================
// Error envelopes
// ============================================================================

func TestForward_NoCompatibleServer(t *testing.T) {
	h := newHarness(t)

	resp := h.proxy.Forward(context.Background(), Input{Request: toolsCall("missing")})
	if resp.Error == nil {
		t.Fatal("Expected error envelope")
	}
	if resp.Error.Code != mcp.CodeInternalError {
		t.Errorf("Expected code %d, got %d", mcp.CodeInternalError, resp.Error.Code)
	}
	if resp.Error.Message != "No compatible server found" {
		t.Errorf("Unexpected message: %s", resp.Error.Message)
	}
}

func TestForward_Timeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer slow.Close()

	h := newHarness(t)
	h.addServer(t, "srv-1", slow.URL, storage.TransportHTTP, "search")

	resp := h.proxy.Forward(context.Background(), Input{
		Request: toolsCall("search"),
		Timeout: 50 * time.Millisecond,
	})
	if resp.Error == nil || resp.Error.Message != "Request timeout" {
		t.Fatalf("Expected timeout envelope, got %+v", resp.Error)
	}
	if resp.Error.Code != mcp.CodeInternalError {
		t.Errorf("Expected code %d, got %d", mcp.CodeInternalError, resp.Error.Code)
	}
}

func TestForward_NegativeTimeoutRejected(t *testing.T) {
	h := newHarness(t)

	resp := h.proxy.Forward(context.Background(), Input{
		Request: toolsCall("search"),
		Timeout: -time.Second,
	})
	if resp.Error == nil || resp.Error.Code != mcp.CodeInvalidParams {
		t.Fatalf("Expected invalid-params envelope, got %+v", resp.Error)
	}
}

func TestForward_UnsupportedTransport(t *testing.T) {
	h := newHarness(t)
	h.addServer(t, "srv-1", "http://localhost:9999", storage.TransportStdio, "search")

	resp := h.proxy.Forward(context.Background(), Input{Request: toolsCall("search")})
	if resp.Error == nil || resp.Error.Message != "Unsupported transport" {
		t.Fatalf("Expected unsupported-transport envelope, got %+v", resp.Error)
	}
}

func TestForward_ToolsCallWithoutName(t *testing.T) {
	h := newHarness(t)

	resp := h.proxy.Forward(context.Background(), Input{
		Request: mcp.Request{JSONRPC: mcp.Version, ID: json.RawMessage(`1`), Method: mcp.MethodToolsCall, Params: json.RawMessage(`{}`)},
	})
	if resp.Error == nil || resp.Error.Code != mcp.CodeInvalidParams {
		t.Fatalf("Expected invalid-params envelope, got %+v", resp.Error)
	}
}

// ============================================================================
// Circuit integration
// ============================================================================

func TestForward_FailuresOpenCircuit(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	h := newHarness(t)
	h.addServer(t, "srv-1", failing.URL, storage.TransportHTTP, "search")

	for i := 0; i < 3; i++ {
		resp := h.proxy.Forward(context.Background(), Input{Request: toolsCall("search")})
		if resp.Error == nil {
			t.Fatal("Expected error envelope from failing back-end")
		}
	}

	// Circuit now open: routing rejects the only candidate.
	resp := h.proxy.Forward(context.Background(), Input{Request: toolsCall("search")})
	if resp.Error == nil || resp.Error.Message != "No available server" {
		t.Fatalf("Expected unavailable envelope after circuit opened, got %+v", resp.Error)
	}
}

// ============================================================================
// Active requests and cancellation
// ============================================================================

func TestForward_CancelActiveRequest(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	h := newHarness(t)
	h.addServer(t, "srv-1", slow.URL, storage.TransportHTTP, "search")

	var wg sync.WaitGroup
	wg.Add(1)
	var resp *mcp.Response
	go func() {
		defer wg.Done()
		resp = h.proxy.Forward(context.Background(), Input{
			Request: toolsCall("search"),
			Timeout: 5 * time.Second,
		})
	}()

	// Wait for the request to appear in the active table.
	var requestID string
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if active := h.proxy.ActiveRequests(); len(active) == 1 {
			requestID = active[0].RequestID
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if requestID == "" {
		t.Fatal("Request never appeared in active table")
	}

	if !h.proxy.Cancel(requestID) {
		t.Fatal("Cancel reported unknown request")
	}
	wg.Wait()

	if resp.Error == nil || resp.Error.Message != "Request cancelled" {
		t.Fatalf("Expected cancelled envelope, got %+v", resp.Error)
	}
	if len(h.proxy.ActiveRequests()) != 0 {
		t.Error("Active table should be empty after completion")
	}

	if h.proxy.Cancel("unknown") {
		t.Error("Cancel of unknown id should return false")
	}
}
