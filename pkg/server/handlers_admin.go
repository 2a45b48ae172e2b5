package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"stellar-hq/hermes/pkg/storage"
)

// handleRouterMetrics reports the per-server routing metrics for every
// registered server.
func (s *Server) handleRouterMetrics(w http.ResponseWriter, r *http.Request) {
	servers, err := s.deps.Storage.FindServers(r.Context(), storage.ServerFilter{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "listing failed")
		return
	}

	type serverMetrics struct {
		ServerID string `json:"server_id"`
		Name     string `json:"name"`
		Health   string `json:"health_status"`

		TotalRequests     int64   `json:"total_requests"`
		TotalFailures     int64   `json:"total_failures"`
		SuccessRate       float64 `json:"success_rate"`
		AvgResponseMs     float64 `json:"avg_response_ms"`
		ActiveConnections int     `json:"active_connections"`
	}

	out := make([]serverMetrics, 0, len(servers))
	for _, srv := range servers {
		snap := s.deps.Router.Metrics(srv.ID)
		out = append(out, serverMetrics{
			ServerID:          srv.ID,
			Name:              srv.Name,
			Health:            string(srv.HealthStatus),
			TotalRequests:     snap.TotalRequests,
			TotalFailures:     snap.TotalFailures,
			SuccessRate:       snap.SuccessRate,
			AvgResponseMs:     snap.AvgResponseMs,
			ActiveConnections: snap.ActiveConnections,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"policy":  s.deps.Router.Policy(),
		"servers": out,
	})
}

// handleBreakers exposes circuit state for diagnostics.
func (s *Server) handleBreakers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"breakers": s.deps.Breakers.Snapshots(),
	})
}

// handleTraces returns the retained completed-request traces.
func (s *Server) handleTraces(w http.ResponseWriter, _ *http.Request) {
	traces := s.deps.Tracer.RetainedTraces()
	writeJSON(w, http.StatusOK, map[string]any{
		"traces": traces,
		"count":  len(traces),
	})
}

// handleAuditLog lists recent audit rows, newest first.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "limit must be 1..1000")
			return
		}
		limit = n
	}

	rows, err := s.deps.Storage.ListRequestLogs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": rows,
		"count":    len(rows),
	})
}

func (s *Server) handleActiveRequests(w http.ResponseWriter, _ *http.Request) {
	active := s.deps.Proxy.ActiveRequests()
	writeJSON(w, http.StatusOK, map[string]any{
		"requests": active,
		"count":    len(active),
	})
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.deps.Proxy.Cancel(id) {
		writeError(w, http.StatusNotFound, "REQUEST_NOT_FOUND",
			"request is unknown or already finished")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "request_id": id})
}

func (s *Server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := s.deps.Limiter.StatusFor(r.Context(), q.Get("tenant_id"), q.Get("ip"))
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Scope string `json:"scope"`
		ID    string `json:"id"`
	}
	if err := decodeBody(w, r, &in); err != nil || in.ID == "" {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "scope and id are required")
		return
	}

	switch in.Scope {
	case "tenant":
		s.deps.Limiter.ResetTenant(r.Context(), in.ID)
	case "user":
		s.deps.Limiter.ResetUser(r.Context(), in.ID)
	case "ip":
		s.deps.Limiter.Unban(r.Context(), in.ID)
	default:
		writeError(w, http.StatusBadRequest, "INVALID_BODY",
			"scope must be one of tenant, user, ip")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "reset",
		"scope":  in.Scope,
		"id":     in.ID,
	})
}
