package auth

import (
	"context"

	"stellar-hq/hermes/pkg/storage"
)

// Method names how a principal authenticated.
type Method string

const (
	MethodAPIKey Method = "api_key"
	MethodOAuth  Method = "oauth"
	MethodNone   Method = "none"
)

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	User     storage.User
	TenantID string
	Method   Method
	Scopes   []string
}

// IsAdmin reports whether the principal carries the admin role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.User.Role == storage.RoleAdmin
}

type contextKey struct{}

// WithPrincipal attaches a principal to the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext returns the principal, or nil for anonymous requests.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(contextKey{}).(*Principal)
	return p
}
