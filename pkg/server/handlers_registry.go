package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"stellar-hq/hermes/pkg/registry"
	"stellar-hq/hermes/pkg/storage"
)

// handleIdentity answers the root path with service identity and links.
func (s *Server) handleIdentity(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "hermes",
		"version": s.version,
		"links": map[string]string{
			"health":  "/health",
			"ready":   "/ready",
			"metrics": "/metrics",
			"servers": "/api/v1/servers",
			"mcp":     "/mcp",
		},
	})
}

// handleHealth reports aggregate gateway health with per-status server
// counts.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	servers, err := s.deps.Storage.FindServers(r.Context(), storage.ServerFilter{})
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  "storage unavailable",
		})
		return
	}

	counts := make(map[string]int)
	for _, srv := range servers {
		counts[strings.ToLower(string(srv.HealthStatus))]++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"servers":   counts,
		"timestamp": time.Now().Unix(),
	})
}

// handleReady reports readiness: the store must answer.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Storage.FindServers(r.Context(), storage.ServerFilter{}); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleRegisterServer(w http.ResponseWriter, r *http.Request) {
	var in registry.RegisterInput
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON")
		return
	}

	rec, err := s.deps.Registry.Register(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrAlreadyRegistered):
			writeError(w, http.StatusConflict, "ALREADY_REGISTERED",
				"a server with this name already exists in the tenant")
		case errors.Is(err, registry.ErrInvalidServer):
			writeError(w, http.StatusBadRequest, "INVALID_SERVER", err.Error())
		default:
			s.logger.Error("server registration failed", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "registration failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.ServerFilter{
		Tags:    splitParam(q.Get("tags")),
		Tools:   splitParam(q.Get("tools")),
		Hydrate: q.Get("hydrate") == "true",
	}
	if q.Has("tenant_id") {
		tenant := q.Get("tenant_id")
		filter.TenantID = &tenant
	}
	if raw := q.Get("health"); raw != "" {
		health := storage.HealthStatus(strings.ToUpper(raw))
		filter.HealthStatus = &health
	}

	servers, err := s.deps.Registry.Find(r.Context(), filter)
	if err != nil {
		s.logger.Error("server listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "listing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"servers": servers,
		"count":   len(servers),
	})
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, registry.ErrServerNotFound) {
			writeError(w, http.StatusNotFound, "SERVER_NOT_FOUND", "no such server")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	var rec storage.ServerRecord
	if err := decodeBody(w, r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "request body is not valid JSON")
		return
	}
	rec.ID = chi.URLParam(r, "id")

	updated, err := s.deps.Registry.Update(r.Context(), &rec)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrServerNotFound):
			writeError(w, http.StatusNotFound, "SERVER_NOT_FOUND", "no such server")
		case errors.Is(err, registry.ErrAlreadyRegistered):
			writeError(w, http.StatusConflict, "ALREADY_REGISTERED",
				"a server with this name already exists in the tenant")
		case errors.Is(err, registry.ErrInvalidServer):
			writeError(w, http.StatusBadRequest, "INVALID_SERVER", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "update failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleUnregisterServer(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Registry.Unregister(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, registry.ErrServerNotFound) {
			writeError(w, http.StatusNotFound, "SERVER_NOT_FOUND", "no such server")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "unregister failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRediscoverServer(w http.ResponseWriter, r *http.Request) {
	err := s.deps.Registry.Rediscover(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, registry.ErrServerNotFound) {
			writeError(w, http.StatusNotFound, "SERVER_NOT_FOUND", "no such server")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "discovery failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "discovery triggered"})
}

func (s *Server) handleDiscoverTools(w http.ResponseWriter, r *http.Request) {
	tools := splitParam(r.URL.Query().Get("tools"))
	if len(tools) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "tools parameter is required")
		return
	}
	s.findByCapability(w, r, storage.ServerFilter{Tools: tools})
}

func (s *Server) handleDiscoverResources(w http.ResponseWriter, r *http.Request) {
	resources := splitParam(r.URL.Query().Get("resources"))
	if len(resources) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "resources parameter is required")
		return
	}
	s.findByCapability(w, r, storage.ServerFilter{ResourcePrefixes: resources})
}

func (s *Server) findByCapability(w http.ResponseWriter, r *http.Request, filter storage.ServerFilter) {
	if r.URL.Query().Has("tenant_id") {
		tenant := r.URL.Query().Get("tenant_id")
		filter.TenantID = &tenant
	}
	servers, err := s.deps.Registry.Find(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "discovery query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"servers": servers,
		"count":   len(servers),
	})
}

func splitParam(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
