package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"stellar-hq/hermes/pkg/config"
	"stellar-hq/hermes/pkg/storage/kv"
	"stellar-hq/hermes/pkg/telemetry/metrics"
)

// TokenRefresher keeps a service access token warm by exchanging client
// credentials against the provider's token endpoint on a fixed period.
// The current token is available to outbound calls that need to act as
// the gateway itself. When a KV client is present the token is mirrored
// under access_token:<subject>; a permanent refresh failure sets
// auth_required:<subject> so callers force re-authentication.
type TokenRefresher struct {
	cfg     *config.OAuthConfig
	client  *http.Client
	cache   *kv.Client
	metrics *metrics.Collector
	logger  *slog.Logger

	mu      sync.RWMutex
	token   string
	expires time.Time
}

// NewTokenRefresher creates a refresher. It does nothing until Start is
// called, and Start is a no-op when refresh is disabled. cache may be nil.
func NewTokenRefresher(cfg *config.OAuthConfig, cache *kv.Client, collector *metrics.Collector) *TokenRefresher {
	return &TokenRefresher{
		cfg:     cfg,
		client:  &http.Client{Timeout: 15 * time.Second},
		cache:   cache,
		metrics: collector,
		logger:  slog.Default().With("component", "auth.refresh"),
	}
}

// subject is the identity the refreshed token belongs to.
func (t *TokenRefresher) subject() string {
	if t.cfg.ClientID != "" {
		return t.cfg.ClientID
	}
	return "gateway"
}

// Start launches the refresh loop.
func (t *TokenRefresher) Start(ctx context.Context) {
	if !t.cfg.RefreshEnabled {
		return
	}
	if err := t.refresh(ctx); err != nil {
		t.logger.Warn("initial token refresh failed", "error", err)
	}
	go func() {
		ticker := time.NewTicker(t.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := t.refresh(ctx); err != nil {
					t.logger.Warn("token refresh failed", "error", err)
				}
			}
		}
	}()
}

// Token returns the current access token, or empty when none is held or
// the held token has expired.
func (t *TokenRefresher) Token() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.token == "" || (!t.expires.IsZero() && time.Now().After(t.expires)) {
		return ""
	}
	return t.token
}

func (t *TokenRefresher) refresh(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {t.cfg.ClientID},
		"client_secret": {t.cfg.ClientSecret},
	}
	if t.cfg.Audience != "" {
		form.Set("audience", t.cfg.Audience)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.TokenEndpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		t.metrics.RecordTokenRefresh("gateway", "failure")
		return fmt.Errorf("token endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		t.metrics.RecordTokenRefresh("gateway", "failure")
		return err
	}
	if resp.StatusCode != http.StatusOK {
		t.metrics.RecordTokenRefresh("gateway", "failure")
		// 4xx means the credentials themselves are bad; retrying will
		// not help, so flag the subject for re-authentication.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && t.cache != nil {
			if err := t.cache.MarkAuthRequired(ctx, t.subject()); err != nil {
				t.logger.Warn("failed to flag re-auth", "error", err)
			}
		}
		return fmt.Errorf("token endpoint returned status %d", resp.StatusCode)
	}

	var grant struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &grant); err != nil {
		t.metrics.RecordTokenRefresh("gateway", "failure")
		return fmt.Errorf("invalid token response: %w", err)
	}
	if grant.AccessToken == "" {
		t.metrics.RecordTokenRefresh("gateway", "failure")
		return fmt.Errorf("token response missing access_token")
	}

	t.mu.Lock()
	t.token = grant.AccessToken
	if grant.ExpiresIn > 0 {
		t.expires = time.Now().Add(time.Duration(grant.ExpiresIn) * time.Second)
	} else {
		t.expires = time.Time{}
	}
	t.mu.Unlock()

	if t.cache != nil {
		ttl := time.Duration(grant.ExpiresIn) * time.Second
		if ttl < 0 {
			ttl = 0
		}
		if err := t.cache.StoreAccessToken(ctx, t.subject(), grant.AccessToken, ttl); err != nil {
			t.logger.Warn("failed to mirror access token", "error", err)
		}
	}

	t.metrics.RecordTokenRefresh("gateway", "success")
	t.logger.Debug("access token refreshed", "expires_in", grant.ExpiresIn)
	return nil
}
