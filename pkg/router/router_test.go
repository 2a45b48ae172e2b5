package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"stellar-hq/hermes/pkg/breaker"
	"stellar-hq/hermes/pkg/config"
	"stellar-hq/hermes/pkg/storage"
)

func newTestRouter(t *testing.T, policy string) (*Router, storage.Storage, *breaker.Manager) {
	t.Helper()

	st := storage.NewMemoryStorage()
	breakers := breaker.NewManager(&config.BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		SuccessThreshold: 2,
	})
	r, err := New(&config.RouterConfig{
		Policy:              policy,
		HealthWeight:        0.3,
		LatencyWeight:       0.4,
		CapacityWeight:      0.3,
		VirtualNodes:        100,
		SweepInterval:       time.Minute,
		MetricsIdleEviction: time.Hour,
	}, st, breakers)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return r, st, breakers
}

func addServer(t *testing.T, st storage.Storage, id string, health storage.HealthStatus, tools ...string) {
	t.Helper()
	now := time.Now().UTC()
	err := st.RegisterServer(context.Background(), &storage.ServerRecord{
		ID: id, Name: id, EndpointURL: "http://localhost/" + id,
		Transport:    storage.TransportHTTP,
		Capabilities: storage.Capabilities{Tools: tools},
		HealthStatus: health,
		CreatedAt:    now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("RegisterServer failed: %v", err)
	}
}

// ============================================================================
// Candidate filtering
// ============================================================================

func TestRoute_NoCompatibleServer(t *testing.T) {
	r, st, _ := newTestRouter(t, "round_robin")
	addServer(t, st, "srv-1", storage.HealthHealthy, "search")

	_, err := r.Route(context.Background(), Request{RequiredTools: []string{"translate"}})
	if !errors.Is(err, ErrNoCompatibleServer) {
		t.Errorf("Expected ErrNoCompatibleServer, got %v", err)
	}
}

func TestRoute_UnhealthyIsUnavailable(t *testing.T) {
	r, st, _ := newTestRouter(t, "round_robin")
	addServer(t, st, "srv-1", storage.HealthUnhealthy, "search")

	_, err := r.Route(context.Background(), Request{RequiredTools: []string{"search"}})
	if !errors.Is(err, ErrServerUnavailable) {
		t.Errorf("Expected ErrServerUnavailable, got %v", err)
	}
}

func TestRoute_DegradedIsUnavailable(t *testing.T) {
	r, st, _ := newTestRouter(t, "round_robin")
	addServer(t, st, "srv-1", storage.HealthDegraded, "search")

	_, err := r.Route(context.Background(), Request{RequiredTools: []string{"search"}})
	if !errors.Is(err, ErrServerUnavailable) {
		t.Errorf("Expected ErrServerUnavailable for degraded-only candidates, got %v", err)
	}

	// A healthy sibling restores routing and is always the pick.
	addServer(t, st, "srv-2", storage.HealthHealthy, "search")
	for i := 0; i < 5; i++ {
		srv, err := r.Route(context.Background(), Request{RequiredTools: []string{"search"}})
		if err != nil {
			t.Fatalf("Route failed: %v", err)
		}
		if srv.ID != "srv-2" {
			t.Errorf("Degraded server was routed to")
		}
	}
}

func TestRoute_OpenCircuitExcluded(t *testing.T) {
	r, st, breakers := newTestRouter(t, "round_robin")
	addServer(t, st, "srv-1", storage.HealthHealthy, "search")
	addServer(t, st, "srv-2", storage.HealthHealthy, "search")

	// Trip srv-1's circuit.
	for i := 0; i < 3; i++ {
		done, _ := breakers.Begin("srv-1")
		done(false)
	}

	for i := 0; i < 10; i++ {
		srv, err := r.Route(context.Background(), Request{RequiredTools: []string{"search"}})
		if err != nil {
			t.Fatalf("Route failed: %v", err)
		}
		if srv.ID == "srv-1" {
			t.Fatal("Open-circuit server was routed to")
		}
	}
}

func TestRoute_ExclusionList(t *testing.T) {
	r, st, _ := newTestRouter(t, "round_robin")
	addServer(t, st, "srv-1", storage.HealthHealthy, "search")
	addServer(t, st, "srv-2", storage.HealthHealthy, "search")

	for i := 0; i < 10; i++ {
		srv, err := r.Route(context.Background(), Request{
			RequiredTools: []string{"search"},
			Exclude:       []string{"srv-1"},
		})
		if err != nil {
			t.Fatalf("Route failed: %v", err)
		}
		if srv.ID != "srv-2" {
			t.Errorf("Excluded server was selected")
		}
	}
}

func TestRoute_PreferredNarrowsSelection(t *testing.T) {
	r, st, _ := newTestRouter(t, "round_robin")
	addServer(t, st, "srv-1", storage.HealthHealthy, "search")
	addServer(t, st, "srv-2", storage.HealthHealthy, "search")
	addServer(t, st, "srv-3", storage.HealthHealthy, "search")

	for i := 0; i < 10; i++ {
		srv, err := r.Route(context.Background(), Request{
			RequiredTools: []string{"search"},
			Preferred:     []string{"srv-2"},
		})
		if err != nil {
			t.Fatalf("Route failed: %v", err)
		}
		if srv.ID != "srv-2" {
			t.Fatalf("Expected preferred srv-2, got %s", srv.ID)
		}
	}
}

func TestRoute_StalePreferredFallsBack(t *testing.T) {
	r, st, _ := newTestRouter(t, "round_robin")
	addServer(t, st, "srv-1", storage.HealthHealthy, "search")
	addServer(t, st, "srv-2", storage.HealthUnhealthy, "search")

	// srv-2 is preferred but unhealthy; routing falls back to the full
	// available set instead of failing.
	srv, err := r.Route(context.Background(), Request{
		RequiredTools: []string{"search"},
		Preferred:     []string{"srv-2", "srv-gone"},
	})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if srv.ID != "srv-1" {
		t.Errorf("Expected fallback to srv-1, got %s", srv.ID)
	}
}

func TestRoute_TenantScoping(t *testing.T) {
	r, st, _ := newTestRouter(t, "round_robin")
	now := time.Now().UTC()
	st.RegisterServer(context.Background(), &storage.ServerRecord{
		ID: "srv-a", Name: "srv-a", EndpointURL: "http://a", Transport: storage.TransportHTTP,
		Capabilities: storage.Capabilities{Tools: []string{"search"}},
		TenantID:     "tenant-a", HealthStatus: storage.HealthHealthy,
		CreatedAt: now, UpdatedAt: now,
	})
	st.RegisterServer(context.Background(), &storage.ServerRecord{
		ID: "srv-b", Name: "srv-b", EndpointURL: "http://b", Transport: storage.TransportHTTP,
		Capabilities: storage.Capabilities{Tools: []string{"search"}},
		TenantID:     "tenant-b", HealthStatus: storage.HealthHealthy,
		CreatedAt: now, UpdatedAt: now,
	})

	srv, err := r.Route(context.Background(), Request{
		TenantID:      "tenant-b",
		RequiredTools: []string{"search"},
	})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if srv.ID != "srv-b" {
		t.Errorf("Expected tenant-scoped srv-b, got %s", srv.ID)
	}
}

// ============================================================================
// Policy behavior through the router
// ============================================================================

func TestRoute_RoundRobinRotates(t *testing.T) {
	r, st, _ := newTestRouter(t, "round_robin")
	addServer(t, st, "srv-1", storage.HealthHealthy, "search")
	addServer(t, st, "srv-2", storage.HealthHealthy, "search")

	counts := make(map[string]int)
	for i := 0; i < 10; i++ {
		srv, err := r.Route(context.Background(), Request{RequiredTools: []string{"search"}})
		if err != nil {
			t.Fatalf("Route failed: %v", err)
		}
		counts[srv.ID]++
	}
	if counts["srv-1"] != 5 || counts["srv-2"] != 5 {
		t.Errorf("Expected even rotation, got %v", counts)
	}
}

func TestRoute_ConsistentHashAffinity(t *testing.T) {
	r, st, _ := newTestRouter(t, "consistent_hash")
	addServer(t, st, "srv-1", storage.HealthHealthy, "search")
	addServer(t, st, "srv-2", storage.HealthHealthy, "search")
	addServer(t, st, "srv-3", storage.HealthHealthy, "search")

	first, err := r.Route(context.Background(), Request{
		RequiredTools: []string{"search"},
		AffinityKey:   "user-42",
	})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		srv, err := r.Route(context.Background(), Request{
			RequiredTools: []string{"search"},
			AffinityKey:   "user-42",
		})
		if err != nil {
			t.Fatalf("Route failed: %v", err)
		}
		if srv.ID != first.ID {
			t.Fatalf("Affinity broken: %s then %s", first.ID, srv.ID)
		}
	}
}

func TestRoute_LeastConnections(t *testing.T) {
	r, st, _ := newTestRouter(t, "least_connections")
	addServer(t, st, "srv-1", storage.HealthHealthy, "search")
	addServer(t, st, "srv-2", storage.HealthHealthy, "search")

	r.IncrementConnections("srv-1")
	r.IncrementConnections("srv-1")
	r.IncrementConnections("srv-1")

	srv, err := r.Route(context.Background(), Request{RequiredTools: []string{"search"}})
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}
	if srv.ID != "srv-2" {
		t.Errorf("Expected idle srv-2, got %s", srv.ID)
	}
}

// ============================================================================
// Metrics accounting
// ============================================================================

func TestRecordResult_UpdatesPerfSnapshot(t *testing.T) {
	r, st, _ := newTestRouter(t, "round_robin")
	addServer(t, st, "srv-1", storage.HealthHealthy, "search")

	r.RecordResult(context.Background(), "srv-1", true, 50*time.Millisecond)
	r.RecordResult(context.Background(), "srv-1", false, 150*time.Millisecond)

	snap := r.Metrics("srv-1")
	if snap.TotalRequests != 2 {
		t.Errorf("Expected 2 requests, got %d", snap.TotalRequests)
	}
	if snap.AvgResponseMs != 100 {
		t.Errorf("Expected avg 100ms, got %.1f", snap.AvgResponseMs)
	}

	rec, _ := st.GetServer(context.Background(), "srv-1")
	if rec.Perf.AvgResponseMs != 100 {
		t.Errorf("Perf snapshot not persisted, got %.1f", rec.Perf.AvgResponseMs)
	}
}

func TestSweep_EvictsUnregistered(t *testing.T) {
	r, st, _ := newTestRouter(t, "round_robin")
	addServer(t, st, "srv-1", storage.HealthHealthy, "search")

	r.RecordResult(context.Background(), "srv-1", true, time.Millisecond)
	r.RecordResult(context.Background(), "gone", true, time.Millisecond)

	r.sweep(context.Background())

	if r.Metrics("gone").TotalRequests != 0 {
		t.Error("Metrics for unregistered server should be evicted")
	}
	if r.Metrics("srv-1").TotalRequests != 1 {
		t.Error("Metrics for registered server should survive the sweep")
	}
}
