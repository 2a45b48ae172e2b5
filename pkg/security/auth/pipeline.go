package auth

import (
	"context"
	"net/http"
	"strings"

	"stellar-hq/hermes/pkg/config"
	"stellar-hq/hermes/pkg/storage"
	"stellar-hq/hermes/pkg/storage/kv"
	"stellar-hq/hermes/pkg/telemetry/metrics"
)

// Pipeline resolves request credentials in order: the x-api-key header,
// then a Bearer value that is either a gateway key (mcp_ prefix) or an
// OAuth JWT. A request with no credentials resolves to a nil principal;
// path gating decides whether that is acceptable.
type Pipeline struct {
	apiKeys *APIKeyAuthenticator
	jwt     *JWTValidator
	metrics *metrics.Collector
	oauthOn bool
}

// NewPipeline wires the authenticator chain. The JWT validator is only
// consulted when OAuth is enabled.
func NewPipeline(st storage.Storage, cache *kv.Client, cfg *config.AuthConfig, collector *metrics.Collector) *Pipeline {
	p := &Pipeline{
		apiKeys: NewAPIKeyAuthenticator(st, cache, cfg),
		metrics: collector,
		oauthOn: cfg.OAuth.Enabled,
	}
	if cfg.OAuth.Enabled {
		p.jwt = NewJWTValidator(&cfg.OAuth)
	}
	return p
}

// Start launches background loops (JWKS refresh).
func (p *Pipeline) Start(ctx context.Context) {
	if p.jwt != nil {
		p.jwt.Start(ctx)
	}
}

// APIKeys exposes the key authenticator for key minting and cache
// invalidation.
func (p *Pipeline) APIKeys() *APIKeyAuthenticator { return p.apiKeys }

// Authenticate resolves the request's credentials. Returns (nil, nil)
// when no credentials are present.
func (p *Pipeline) Authenticate(ctx context.Context, r *http.Request) (*Principal, error) {
	if key := r.Header.Get("x-api-key"); key != "" {
		return p.finish(ctx, MethodAPIKey, func() (*Principal, error) {
			return p.apiKeys.Authenticate(ctx, key)
		})
	}

	authz := r.Header.Get("Authorization")
	if authz == "" {
		return nil, nil
	}
	bearer, ok := strings.CutPrefix(authz, "Bearer ")
	if !ok {
		return nil, NewAuthenticationError("unsupported authorization scheme")
	}

	if strings.HasPrefix(bearer, KeyPrefix) {
		return p.finish(ctx, MethodAPIKey, func() (*Principal, error) {
			return p.apiKeys.Authenticate(ctx, bearer)
		})
	}
	if !p.oauthOn {
		return nil, NewAuthenticationError("bearer tokens are not accepted")
	}
	return p.finish(ctx, MethodOAuth, func() (*Principal, error) {
		return p.jwt.Validate(ctx, bearer)
	})
}

func (p *Pipeline) finish(_ context.Context, method Method, authn func() (*Principal, error)) (*Principal, error) {
	principal, err := authn()
	if err != nil {
		p.metrics.RecordAuthEvent("", "", "failure", string(method))
		return nil, err
	}
	p.metrics.RecordAuthEvent(principal.User.ID, principal.TenantID, "success", string(method))
	return principal, nil
}
