package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stellar-hq/hermes/pkg/config"
	"stellar-hq/hermes/pkg/mcp"
	"stellar-hq/hermes/pkg/storage"
)

func newTestRegistry(t *testing.T) (*Registry, storage.Storage) {
	t.Helper()
	st := storage.NewMemoryStorage()
	cfg := &config.RegistryConfig{
		ProbeInterval:    30 * time.Second,
		ProbeTimeout:     2 * time.Second,
		DiscoveryTimeout: 2 * time.Second,
	}
	return New(st, cfg), st
}

func validInput(name string) RegisterInput {
	return RegisterInput{
		Name:        name,
		EndpointURL: "http://localhost:9000/mcp",
		Transport:   storage.TransportStdio,
		Capabilities: storage.Capabilities{
			Tools: []string{"search"},
		},
		TenantID: "tenant-a",
	}
}

// ============================================================================
// Registration
// ============================================================================

func TestRegistry_Register(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	rec, err := r.Register(ctx, validInput("kb-search"))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if rec.ID == "" {
		t.Error("Expected assigned id")
	}
	if rec.HealthStatus != storage.HealthUnknown {
		t.Errorf("New server should start UNKNOWN, got %s", rec.HealthStatus)
	}

	got, err := r.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "kb-search" {
		t.Errorf("Expected persisted name, got %s", got.Name)
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := r.Register(ctx, validInput("kb-search")); err != nil {
		t.Fatalf("First registration failed: %v", err)
	}
	if _, err := r.Register(ctx, validInput("kb-search")); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("Expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*RegisterInput)
	}{
		{"missing name", func(in *RegisterInput) { in.Name = "" }},
		{"missing endpoint", func(in *RegisterInput) { in.EndpointURL = "" }},
		{"malformed endpoint", func(in *RegisterInput) { in.EndpointURL = "::not-a-url" }},
		{"unknown transport", func(in *RegisterInput) { in.Transport = "carrier-pigeon" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput("bad")
			tt.mutate(&in)
			if _, err := r.Register(ctx, in); !errors.Is(err, ErrInvalidServer) {
				t.Errorf("Expected ErrInvalidServer, got %v", err)
			}
		})
	}
}

// ============================================================================
// Discovery
// ============================================================================

func TestRegistry_DiscoveryMergesCapabilities(t *testing.T) {
	mock := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/mcp" {
			http.NotFound(w, req)
			return
		}
		var rpc mcp.Request
		json.NewDecoder(req.Body).Decode(&rpc)

		var result any
		switch rpc.Method {
		case mcp.MethodToolsList:
			result = mcp.ToolsListResult{Tools: []mcp.Tool{
				{Name: "search", Description: "full-text search"},
				{Name: "summarize"},
			}}
		case mcp.MethodResourcesList:
			result = mcp.ResourcesListResult{Resources: []mcp.Resource{
				{URI: "docs://kb/{id}", MimeType: "text/markdown"},
			}}
		default:
			http.Error(w, "unknown method", http.StatusBadRequest)
			return
		}
		raw, _ := json.Marshal(result)
		json.NewEncoder(w).Encode(mcp.Response{JSONRPC: mcp.Version, ID: rpc.ID, Result: raw})
	}))
	defer mock.Close()

	r, st := newTestRegistry(t)
	ctx := context.Background()

	in := validInput("kb-search")
	in.Transport = storage.TransportHTTP
	in.EndpointURL = mock.URL

	rec, err := r.Register(ctx, in)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := st.GetServer(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetServer failed: %v", err)
	}
	if len(got.Tools) != 2 {
		t.Errorf("Expected 2 discovered tools, got %d", len(got.Tools))
	}
	if len(got.Resources) != 1 {
		t.Errorf("Expected 1 discovered resource, got %d", len(got.Resources))
	}
	// Advertised "search" is merged, not duplicated.
	if len(got.Capabilities.Tools) != 2 {
		t.Errorf("Expected merged capability set of 2, got %v", got.Capabilities.Tools)
	}
}

func TestRegistry_DiscoveryFailureDoesNotFailRegistration(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	in := validInput("unreachable")
	in.Transport = storage.TransportHTTP
	in.EndpointURL = "http://127.0.0.1:1"

	rec, err := r.Register(ctx, in)
	if err != nil {
		t.Fatalf("Register should succeed despite discovery failure: %v", err)
	}
	got, _ := r.Get(ctx, rec.ID)
	if len(got.Capabilities.Tools) != 1 {
		t.Errorf("Advertised capabilities should survive, got %v", got.Capabilities.Tools)
	}
}

// ============================================================================
// Unregister and lookup
// ============================================================================

func TestRegistry_Unregister(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	var hookCalled string
	r.OnUnregister(func(id string) { hookCalled = id })

	rec, _ := r.Register(ctx, validInput("kb-search"))
	if err := r.Unregister(ctx, rec.ID); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if hookCalled != rec.ID {
		t.Error("Unregister hook was not invoked")
	}
	if _, err := r.Get(ctx, rec.ID); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("Expected ErrServerNotFound, got %v", err)
	}
	if err := r.Unregister(ctx, rec.ID); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("Expected ErrServerNotFound on double unregister, got %v", err)
	}
}

func TestRegistry_FindByTool(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	a := validInput("alpha")
	b := validInput("beta")
	b.Capabilities.Tools = []string{"translate"}
	if _, err := r.Register(ctx, a); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Register(ctx, b); err != nil {
		t.Fatal(err)
	}

	found, err := r.Find(ctx, storage.ServerFilter{Tools: []string{"search"}})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if len(found) != 1 || found[0].Name != "alpha" {
		t.Fatalf("Expected only alpha, got %d results", len(found))
	}
}

// ============================================================================
// Health updates
// ============================================================================

func TestRegistry_UpdateHealth(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	rec, _ := r.Register(ctx, validInput("kb-search"))
	if err := r.UpdateHealth(ctx, rec.ID, storage.HealthMaintenance); err != nil {
		t.Fatalf("UpdateHealth failed: %v", err)
	}
	got, _ := r.Get(ctx, rec.ID)
	if got.HealthStatus != storage.HealthMaintenance {
		t.Errorf("Expected MAINTENANCE, got %s", got.HealthStatus)
	}

	if err := r.UpdateHealth(ctx, "missing", storage.HealthHealthy); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("Expected ErrServerNotFound, got %v", err)
	}
}
