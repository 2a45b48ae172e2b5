package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"stellar-hq/hermes/pkg/config"
	"stellar-hq/hermes/pkg/storage"
	"stellar-hq/hermes/pkg/storage/kv"
)

// KeyPrefix marks gateway-issued API keys so bearer tokens and keys can
// share the Authorization header.
const KeyPrefix = "mcp_"

// APIKeyAuthenticator validates gateway API keys against the store with
// a cache in front: validated keys are cached for the configured TTL and
// unknown keys get a shorter negative entry.
type APIKeyAuthenticator struct {
	storage storage.Storage
	cache   *kv.Client
	cfg     *config.AuthConfig
	logger  *slog.Logger
}

// NewAPIKeyAuthenticator creates an authenticator. cache may be nil, in
// which case every validation hits the store.
func NewAPIKeyAuthenticator(st storage.Storage, cache *kv.Client, cfg *config.AuthConfig) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{
		storage: st,
		cache:   cache,
		cfg:     cfg,
		logger:  slog.Default().With("component", "auth.apikey"),
	}
}

// HashKey returns the hex SHA-256 of a plaintext key. Only the hash is
// ever stored or used for lookup.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Authenticate validates a plaintext key and returns the principal.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, plaintext string) (*Principal, error) {
	if !strings.HasPrefix(plaintext, KeyPrefix) {
		return nil, NewAuthenticationError("malformed API key")
	}
	hash := HashKey(plaintext)

	if a.cache != nil {
		payload, negative, err := a.cache.GetCachedAPIKey(ctx, hash)
		if err == nil {
			if negative {
				return nil, NewAuthenticationError("unknown API key")
			}
			var cached storage.APIKeyWithUser
			if json.Unmarshal(payload, &cached) == nil {
				if err := checkKeyUsable(&cached.Key); err != nil {
					return nil, err
				}
				return a.principal(&cached), nil
			}
		} else if !errors.Is(err, kv.ErrNotCached) {
			a.logger.Warn("api-key cache unavailable", "error", err)
		}
	}

	found, err := a.storage.LookupAPIKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			if a.cache != nil {
				if err := a.cache.CacheAPIKeyMiss(ctx, hash, a.cfg.APIKeyNegativeTTL); err != nil {
					a.logger.Warn("failed to cache negative entry", "error", err)
				}
			}
			return nil, NewAuthenticationError("unknown API key")
		}
		return nil, fmt.Errorf("api key lookup failed: %w", err)
	}

	if err := checkKeyUsable(&found.Key); err != nil {
		return nil, err
	}

	if a.cache != nil {
		if payload, err := json.Marshal(found); err == nil {
			if err := a.cache.CacheAPIKey(ctx, hash, payload, a.cfg.APIKeyCacheTTL); err != nil {
				a.logger.Warn("failed to cache api key", "error", err)
			}
		}
	}

	// Last-used update is fire and forget.
	go func() {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.storage.TouchAPIKey(touchCtx, found.Key.ID, time.Now().UTC()); err != nil {
			a.logger.Debug("failed to touch api key", "key_id", found.Key.ID, "error", err)
		}
	}()

	return a.principal(found), nil
}

// Mint creates a new API key for a user and returns the plaintext
// exactly once. Only the hash persists.
func (a *APIKeyAuthenticator) Mint(ctx context.Context, userID, tenantID string, scopes []string, expiresAt *time.Time) (plaintext string, key *storage.APIKey, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, fmt.Errorf("failed to generate key material: %w", err)
	}
	plaintext = KeyPrefix + hex.EncodeToString(raw)

	key = &storage.APIKey{
		ID:        uuid.NewString(),
		Prefix:    plaintext[:len(KeyPrefix)+8],
		Hash:      HashKey(plaintext),
		UserID:    userID,
		TenantID:  tenantID,
		Scopes:    scopes,
		ExpiresAt: expiresAt,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.storage.CreateAPIKey(ctx, key); err != nil {
		return "", nil, err
	}
	return plaintext, key, nil
}

// Invalidate drops a key's cache entry, used after disable or rotation.
func (a *APIKeyAuthenticator) Invalidate(ctx context.Context, hash string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.InvalidateAPIKey(ctx, hash); err != nil {
		a.logger.Warn("failed to invalidate cached key", "error", err)
	}
}

func (a *APIKeyAuthenticator) principal(k *storage.APIKeyWithUser) *Principal {
	tenant := k.Key.TenantID
	if tenant == "" {
		tenant = k.User.TenantID
	}
	return &Principal{
		User:     k.User,
		TenantID: tenant,
		Method:   MethodAPIKey,
		Scopes:   k.Key.Scopes,
	}
}

func checkKeyUsable(k *storage.APIKey) error {
	if !k.Enabled {
		return NewAuthenticationError("API key disabled")
	}
	if k.ExpiresAt != nil && time.Now().After(*k.ExpiresAt) {
		return NewAuthenticationError("API key expired")
	}
	return nil
}
