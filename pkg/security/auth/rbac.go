package auth

import (
	"fmt"
	"strings"
	"sync"

	"stellar-hq/hermes/pkg/storage"
)

// ConfigResourceScheme is the resource scheme reserved for gateway and
// server configuration; reading it always requires the admin role.
const ConfigResourceScheme = "config://"

// Authorizer enforces tool and resource access policies. Policies map a
// tool name to the roles allowed to call it; tools without a policy are
// public. Server owners are dynamically granted access to the tools of
// the servers they registered.
type Authorizer struct {
	mu       sync.RWMutex
	policies map[string][]string
}

// NewAuthorizer creates an authorizer from the configured tool policies.
func NewAuthorizer(policies map[string][]string) *Authorizer {
	a := &Authorizer{}
	a.SetPolicies(policies)
	return a
}

// SetPolicies replaces the policy table at runtime.
func (a *Authorizer) SetPolicies(policies map[string][]string) {
	cp := make(map[string][]string, len(policies))
	for tool, roles := range policies {
		cp[tool] = append([]string(nil), roles...)
	}
	a.mu.Lock()
	a.policies = cp
	a.mu.Unlock()
}

// AuthorizeTool checks whether the principal may call the named tool.
// serverOwnerID is the owner of the server the tool resolved to; owners
// bypass role policies for their own servers.
func (a *Authorizer) AuthorizeTool(p *Principal, tool, serverOwnerID string) error {
	a.mu.RLock()
	allowed, restricted := a.policies[tool]
	a.mu.RUnlock()

	if !restricted || len(allowed) == 0 {
		return nil
	}
	if p == nil {
		return NewAuthorizationError(fmt.Sprintf("tool %q requires authentication", tool), allowed...)
	}
	if p.IsAdmin() {
		return nil
	}
	if serverOwnerID != "" && p.User.ID == serverOwnerID {
		return nil
	}
	for _, role := range allowed {
		if string(p.User.Role) == role {
			return nil
		}
	}
	return NewAuthorizationError(
		fmt.Sprintf("tool %q requires one of roles [%s]", tool, strings.Join(allowed, ", ")),
		allowed...)
}

// AuthorizeResource checks whether the principal may read the given
// resource URI.
func (a *Authorizer) AuthorizeResource(p *Principal, uri string) error {
	if strings.HasPrefix(uri, ConfigResourceScheme) {
		if p == nil || !p.IsAdmin() {
			return NewAuthorizationError("config resources require the admin role",
				string(storage.RoleAdmin))
		}
	}
	return nil
}
