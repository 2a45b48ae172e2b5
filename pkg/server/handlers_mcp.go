package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"stellar-hq/hermes/pkg/mcp"
	"stellar-hq/hermes/pkg/proxy"
	"stellar-hq/hermes/pkg/security/auth"
	"stellar-hq/hermes/pkg/storage"
)

// handleMCP forwards one plain JSON-RPC envelope.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	var req mcp.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusOK, mcp.NewErrorResponse(nil,
			mcp.CodeParseError, "Parse error", nil))
		return
	}
	if req.Method == "" {
		writeJSON(w, http.StatusOK, mcp.NewErrorResponse(req.ID,
			mcp.CodeInvalidRequest, "Invalid request", map[string]any{
				"error": "method is required",
			}))
		return
	}

	if resp, denied := s.authorizeMCP(r, &req); denied {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	writeJSON(w, http.StatusOK, s.deps.Proxy.Forward(r.Context(), s.proxyInput(r, req)))
}

// proxyEnvelope is the advanced-proxy request: the JSON-RPC envelope plus
// routing extensions that are never forwarded to the back-end.
type proxyEnvelope struct {
	mcp.Request
	RequiredTools     []string `json:"required_tools,omitempty"`
	RequiredResources []string `json:"required_resources,omitempty"`
	PreferredServers  []string `json:"preferred_servers,omitempty"`
	TimeoutSeconds    *float64 `json:"timeout,omitempty"`
}

// proxyResult is the advanced-proxy response: the envelope augmented with
// routing facts.
type proxyResult struct {
	mcp.Response
	ServerID       string `json:"server_id,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Success        bool   `json:"success"`
}

// handleMCPProxy forwards a JSON-RPC envelope with capability filters and
// server preferences, reporting the routing outcome.
func (s *Server) handleMCPProxy(w http.ResponseWriter, r *http.Request) {
	var req proxyEnvelope
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusOK, mcp.NewErrorResponse(nil,
			mcp.CodeParseError, "Parse error", nil))
		return
	}
	if req.Method == "" {
		writeJSON(w, http.StatusOK, mcp.NewErrorResponse(req.ID,
			mcp.CodeInvalidRequest, "Invalid request", map[string]any{
				"error": "method is required",
			}))
		return
	}

	if resp, denied := s.authorizeMCP(r, &req.Request); denied {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	in := s.proxyInput(r, req.Request)
	in.RequiredTools = req.RequiredTools
	in.RequiredResources = req.RequiredResources
	in.PreferredServers = req.PreferredServers
	if req.TimeoutSeconds != nil {
		// An explicit timeout must be positive; omitting the field
		// selects the configured default.
		if *req.TimeoutSeconds <= 0 {
			writeJSON(w, http.StatusOK, mcp.NewErrorResponse(req.ID,
				mcp.CodeInvalidParams, "Invalid params", map[string]any{
					"error": "timeout must be positive",
				}))
			return
		}
		in.Timeout = time.Duration(*req.TimeoutSeconds * float64(time.Second))
	}

	resp, detail := s.deps.Proxy.ForwardDetailed(r.Context(), in)
	writeJSON(w, http.StatusOK, proxyResult{
		Response:       *resp,
		ServerID:       detail.ServerID,
		ResponseTimeMs: detail.Duration.Milliseconds(),
		Success:        detail.Success,
	})
}

// handleMCPTools aggregates the tools visible to the caller across the
// registered servers in their tenant scope.
func (s *Server) handleMCPTools(w http.ResponseWriter, r *http.Request) {
	principal := auth.FromContext(r.Context())

	tenant := principal.TenantID
	servers, err := s.deps.Storage.FindServers(r.Context(), storage.ServerFilter{
		TenantID: &tenant,
		Hydrate:  true,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "tool listing failed")
		return
	}

	seen := make(map[string]bool)
	tools := make([]mcp.Tool, 0)
	for _, srv := range servers {
		for _, name := range srv.Capabilities.Tools {
			if !seen[name] {
				seen[name] = true
				tools = append(tools, mcp.Tool{Name: name})
			}
		}
		for _, rec := range srv.Tools {
			if !seen[rec.Name] {
				seen[rec.Name] = true
				tools = append(tools, mcp.Tool{
					Name:        rec.Name,
					Description: rec.Description,
					InputSchema: json.RawMessage(rec.InputSchema),
				})
			}
		}
	}
	writeJSON(w, http.StatusOK, mcp.ToolsListResult{Tools: tools})
}

// handleMCPToolInvoke wraps a request body into a tools/call envelope for
// the named tool.
func (s *Server) handleMCPToolInvoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	arguments := json.RawMessage("{}")
	if err := decodeBody(w, r, &arguments); err != nil {
		if !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "arguments are not valid JSON")
			return
		}
		arguments = json.RawMessage("{}")
	}

	params, err := json.Marshal(map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "arguments are not valid JSON")
		return
	}

	req := mcp.Request{
		JSONRPC: mcp.Version,
		Method:  mcp.MethodToolsCall,
		Params:  params,
	}

	if resp, denied := s.authorizeMCP(r, &req); denied {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Proxy.Forward(r.Context(), s.proxyInput(r, req)))
}

// authorizeMCP enforces tool and resource policies before any routing
// work. Returns the error envelope and true when the request is denied.
func (s *Server) authorizeMCP(r *http.Request, req *mcp.Request) (*mcp.Response, bool) {
	principal := auth.FromContext(r.Context())

	switch req.Method {
	case mcp.MethodToolsCall:
		var params struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
			// The proxy produces the -32602 envelope for this case.
			return nil, false
		}
		if err := s.authorizeTool(r, principal, params.Name); err != nil {
			return authzEnvelope(req.ID, err), true
		}
	case mcp.MethodResourcesRead:
		var params struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, false
		}
		if err := s.deps.Authz.AuthorizeResource(principal, params.URI); err != nil {
			return authzEnvelope(req.ID, err), true
		}
	}
	return nil, false
}

// authorizeTool applies the role policy with the owner grant: a caller
// who registered a server exposing the tool may call it regardless of
// role.
func (s *Server) authorizeTool(r *http.Request, principal *auth.Principal, tool string) error {
	err := s.deps.Authz.AuthorizeTool(principal, tool, "")
	if err == nil || principal == nil {
		return err
	}

	tenant := principal.TenantID
	servers, findErr := s.deps.Storage.FindServers(r.Context(), storage.ServerFilter{
		TenantID: &tenant,
		Tools:    []string{tool},
	})
	if findErr != nil {
		return err
	}
	for _, srv := range servers {
		if authzErr := s.deps.Authz.AuthorizeTool(principal, tool, srv.OwnerUserID); authzErr == nil {
			return nil
		}
	}
	return err
}

func authzEnvelope(id json.RawMessage, err error) *mcp.Response {
	var authErr *auth.Error
	if errors.As(err, &authErr) {
		data := map[string]any{"error_code": authErr.Code}
		if len(authErr.RequiredRoles) > 0 {
			data["required_roles"] = authErr.RequiredRoles
		}
		return mcp.NewErrorResponse(id, mcp.CodeInternalError, authErr.Message, data)
	}
	return mcp.NewErrorResponse(id, mcp.CodeInternalError, err.Error(), nil)
}

func (s *Server) proxyInput(r *http.Request, req mcp.Request) proxy.Input {
	in := proxy.Input{
		Request:   req,
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	}
	if p := auth.FromContext(r.Context()); p != nil {
		in.TenantID = p.TenantID
		in.UserID = p.User.ID
		in.SessionKey = p.User.ID
	}
	return in
}
