package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stellar-hq/hermes/pkg/config"
	"stellar-hq/hermes/pkg/storage"
)

// Claims is the validated JWT payload the gateway consumes.
type Claims struct {
	TenantID string   `json:"tid,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Email    string   `json:"email,omitempty"`
	Name     string   `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator validates RS256 bearer tokens against the identity
// provider's JWKS, refreshed periodically in the background.
type JWTValidator struct {
	cfg    *config.OAuthConfig
	client *http.Client
	logger *slog.Logger

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey
}

// NewJWTValidator creates a validator. Keys are fetched on first use and
// by the refresh loop.
func NewJWTValidator(cfg *config.OAuthConfig) *JWTValidator {
	return &JWTValidator{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: slog.Default().With("component", "auth.oauth"),
		keys:   make(map[string]*rsa.PublicKey),
	}
}

// Start launches the periodic JWKS refresh loop.
func (v *JWTValidator) Start(ctx context.Context) {
	if err := v.refreshKeys(ctx); err != nil {
		v.logger.Warn("initial jwks fetch failed", "error", err)
	}
	go func() {
		ticker := time.NewTicker(v.cfg.JWKSRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := v.refreshKeys(ctx); err != nil {
					v.logger.Warn("jwks refresh failed", "error", err)
				}
			}
		}
	}()
}

// Validate parses and verifies a bearer token and maps it to a
// principal.
func (v *JWTValidator) Validate(ctx context.Context, tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		kid, _ := t.Header["kid"].(string)
		key := v.key(kid)
		if key == nil {
			// The provider may have rotated; refetch once.
			if err := v.refreshKeys(ctx); err != nil {
				return nil, fmt.Errorf("signing key %q unknown and refresh failed: %w", kid, err)
			}
			if key = v.key(kid); key == nil {
				return nil, fmt.Errorf("unknown signing key %q", kid)
			}
		}
		return key, nil
	},
		jwt.WithIssuer(v.cfg.Issuer),
		jwt.WithAudience(v.cfg.Audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, NewAuthenticationError(fmt.Sprintf("invalid token: %v", err))
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Subject == "" {
		return nil, NewAuthenticationError("token missing subject")
	}

	return &Principal{
		User: storage.User{
			ID:       claims.Subject,
			Email:    claims.Email,
			Name:     claims.Name,
			Role:     roleFromClaims(claims.Roles),
			TenantID: claims.TenantID,
		},
		TenantID: claims.TenantID,
		Method:   MethodOAuth,
		Scopes:   claims.Roles,
	}, nil
}

func (v *JWTValidator) key(kid string) *rsa.PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.keys[kid]
}

// jwk is the subset of RFC 7517 the validator needs for RSA keys.
type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (v *JWTValidator) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.cfg.JWKSURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("jwks fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.Unmarshal(raw, &set); err != nil {
		return fmt.Errorf("invalid jwks document: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		pub, err := parseRSAKey(k)
		if err != nil {
			v.logger.Warn("skipping unparseable jwk", "kid", k.Kid, "error", err)
			continue
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return fmt.Errorf("jwks document contained no usable keys")
	}

	v.mu.Lock()
	v.keys = keys
	v.mu.Unlock()
	v.logger.Debug("jwks refreshed", "keys", len(keys))
	return nil
}

func parseRSAKey(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("invalid modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("invalid exponent: %w", err)
	}
	e := 0
	for _, b := range eBytes {
		e = e<<8 | int(b)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: e,
	}, nil
}

func roleFromClaims(roles []string) storage.Role {
	for _, r := range roles {
		switch storage.Role(r) {
		case storage.RoleAdmin:
			return storage.RoleAdmin
		case storage.RoleService:
			return storage.RoleService
		}
	}
	for _, r := range roles {
		if storage.Role(r) == storage.RoleReadonly {
			return storage.RoleReadonly
		}
	}
	return storage.RoleUser
}
