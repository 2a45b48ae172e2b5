package auth

import (
	"testing"

	"stellar-hq/hermes/pkg/storage"
)

func principalWithRole(role storage.Role) *Principal {
	return &Principal{
		User:     storage.User{ID: "user-1", Role: role},
		TenantID: "tenant-a",
		Method:   MethodAPIKey,
	}
}

// ============================================================
// Tool policies
// ============================================================

func TestAuthorizeTool(t *testing.T) {
	a := NewAuthorizer(map[string][]string{
		"admin_tool":   {"admin"},
		"service_tool": {"service", "admin"},
	})

	tests := []struct {
		name      string
		principal *Principal
		tool      string
		ownerID   string
		wantErr   bool
	}{
		{"unrestricted tool with no principal", nil, "echo", "", false},
		{"unrestricted tool with user", principalWithRole(storage.RoleUser), "echo", "", false},
		{"restricted tool without principal", nil, "admin_tool", "", true},
		{"user denied admin tool", principalWithRole(storage.RoleUser), "admin_tool", "", true},
		{"admin allowed admin tool", principalWithRole(storage.RoleAdmin), "admin_tool", "", false},
		{"service allowed service tool", principalWithRole(storage.RoleService), "service_tool", "", false},
		{"readonly denied service tool", principalWithRole(storage.RoleReadonly), "service_tool", "", true},
		{"admin bypasses any policy", principalWithRole(storage.RoleAdmin), "service_tool", "", false},
		{"owner bypasses policy on own server", principalWithRole(storage.RoleUser), "admin_tool", "user-1", false},
		{"non-owner still denied", principalWithRole(storage.RoleUser), "admin_tool", "someone-else", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.AuthorizeTool(tt.principal, tt.tool, tt.ownerID)
			if tt.wantErr && err == nil {
				t.Error("Expected authorization error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected access, got %v", err)
			}
		})
	}
}

func TestAuthorizeToolErrorCode(t *testing.T) {
	a := NewAuthorizer(map[string][]string{"admin_tool": {"admin"}})

	err := a.AuthorizeTool(principalWithRole(storage.RoleUser), "admin_tool", "")
	var authErr *Error
	if !asAuthError(err, &authErr) || authErr.Code != CodeAuthorization {
		t.Fatalf("Expected %s, got %v", CodeAuthorization, err)
	}
	if len(authErr.RequiredRoles) != 1 || authErr.RequiredRoles[0] != "admin" {
		t.Errorf("Expected required roles [admin], got %v", authErr.RequiredRoles)
	}
}

func TestAuthorizeResourceErrorNamesAdminRole(t *testing.T) {
	a := NewAuthorizer(nil)

	err := a.AuthorizeResource(principalWithRole(storage.RoleUser), "config://gateway/limits")
	var authErr *Error
	if !asAuthError(err, &authErr) {
		t.Fatalf("Expected authorization error, got %v", err)
	}
	if len(authErr.RequiredRoles) != 1 || authErr.RequiredRoles[0] != "admin" {
		t.Errorf("Expected required roles [admin], got %v", authErr.RequiredRoles)
	}
}

func TestSetPoliciesReplacesTable(t *testing.T) {
	a := NewAuthorizer(map[string][]string{"locked": {"admin"}})

	if err := a.AuthorizeTool(principalWithRole(storage.RoleUser), "locked", ""); err == nil {
		t.Fatal("Expected denial before policy change")
	}
	a.SetPolicies(map[string][]string{})
	if err := a.AuthorizeTool(principalWithRole(storage.RoleUser), "locked", ""); err != nil {
		t.Fatalf("Expected access after policies cleared, got %v", err)
	}
}

// ============================================================
// Resource policies
// ============================================================

func TestAuthorizeResource(t *testing.T) {
	a := NewAuthorizer(nil)

	tests := []struct {
		name      string
		principal *Principal
		uri       string
		wantErr   bool
	}{
		{"plain resource anonymous", nil, "file:///data/report.csv", false},
		{"plain resource user", principalWithRole(storage.RoleUser), "db://prod/users", false},
		{"config resource anonymous", nil, "config://gateway/limits", true},
		{"config resource user", principalWithRole(storage.RoleUser), "config://gateway/limits", true},
		{"config resource admin", principalWithRole(storage.RoleAdmin), "config://gateway/limits", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.AuthorizeResource(tt.principal, tt.uri)
			if tt.wantErr && err == nil {
				t.Error("Expected authorization error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected access, got %v", err)
			}
		})
	}
}
