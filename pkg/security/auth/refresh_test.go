package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stellar-hq/hermes/pkg/config"
	"stellar-hq/hermes/pkg/telemetry/metrics"
)

func TestTokenRefresherFetchesToken(t *testing.T) {
	var sawGrant string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		sawGrant = r.PostFormValue("grant_type")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-123",
			"expires_in":   3600,
		})
	}))
	defer ts.Close()

	tr := NewTokenRefresher(&config.OAuthConfig{
		RefreshEnabled:  true,
		RefreshInterval: time.Hour,
		TokenEndpoint:   ts.URL,
		ClientID:        "hermes",
		ClientSecret:    "s3cret",
	}, nil, metrics.NewCollector(nil))

	if err := tr.refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if sawGrant != "client_credentials" {
		t.Errorf("Expected client_credentials grant, got %q", sawGrant)
	}
	if tr.Token() != "tok-123" {
		t.Errorf("Expected tok-123, got %q", tr.Token())
	}
}

func TestTokenRefresherExpiry(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-short",
			"expires_in":   -1,
		})
	}))
	defer ts.Close()

	tr := NewTokenRefresher(&config.OAuthConfig{
		TokenEndpoint: ts.URL,
	}, nil, metrics.NewCollector(nil))

	if err := tr.refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	// expires_in <= 0 means the provider gave no lifetime; the token is
	// kept until replaced.
	if tr.Token() != "tok-short" {
		t.Errorf("Expected token retained, got %q", tr.Token())
	}
}

func TestTokenRefresherRejectsErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer ts.Close()

	tr := NewTokenRefresher(&config.OAuthConfig{
		TokenEndpoint: ts.URL,
	}, nil, metrics.NewCollector(nil))

	if err := tr.refresh(context.Background()); err == nil {
		t.Fatal("Expected error on non-200 token response")
	}
	if tr.Token() != "" {
		t.Errorf("Expected no token held, got %q", tr.Token())
	}
}

func TestTokenRefresherMirrorsToCache(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-kv",
			"expires_in":   3600,
		})
	}))
	defer ts.Close()

	cache := newTestCache(t)
	tr := NewTokenRefresher(&config.OAuthConfig{
		TokenEndpoint: ts.URL,
		ClientID:      "hermes",
	}, cache, metrics.NewCollector(nil))

	if err := tr.refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	stored, err := cache.GetAccessToken(context.Background(), "hermes")
	if err != nil {
		t.Fatalf("GetAccessToken failed: %v", err)
	}
	if stored != "tok-kv" {
		t.Errorf("Expected tok-kv mirrored, got %q", stored)
	}
}

func TestTokenRefresherFlagsReAuthOnRejection(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad client", http.StatusUnauthorized)
	}))
	defer ts.Close()

	cache := newTestCache(t)
	tr := NewTokenRefresher(&config.OAuthConfig{
		TokenEndpoint: ts.URL,
		ClientID:      "hermes",
	}, cache, metrics.NewCollector(nil))

	if err := tr.refresh(context.Background()); err == nil {
		t.Fatal("Expected error on rejected credentials")
	}
	flagged, err := cache.AuthRequired(context.Background(), "hermes")
	if err != nil {
		t.Fatalf("AuthRequired failed: %v", err)
	}
	if !flagged {
		t.Error("Expected re-auth flag set after credential rejection")
	}
}
