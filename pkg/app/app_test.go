package app

import (
	"testing"
	"time"

	"stellar-hq/hermes/pkg/config"
)

// ============================================================
// Wiring
// ============================================================

func TestNewWiresComponents(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Storage.Backend = "memory"
	cfg.Telemetry.Tracing.Enabled = false
	// Point at a closed port so the optional cache degrades quickly.
	cfg.Cache.URL = "redis://127.0.0.1:1/0"
	cfg.Cache.DialTimeout = 50 * time.Millisecond

	a, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	if a.Storage == nil || a.Router == nil || a.Registry == nil ||
		a.Proxy == nil || a.Limiter == nil || a.Auth == nil ||
		a.Server == nil {
		t.Fatal("Expected all core components wired")
	}
	if a.KV != nil {
		t.Error("Expected cache client to be absent when redis is unreachable")
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Storage.Backend = "oracle"

	if _, err := New(cfg, "test"); err == nil {
		t.Fatal("Expected error for unknown storage backend")
	}
}
