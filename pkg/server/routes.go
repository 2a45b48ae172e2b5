package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(s.recovery)
	r.Use(chimiddleware.RealIP)
	r.Use(s.tracing)

	if s.config.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.CORS.AllowedOrigins,
			AllowedMethods: s.config.CORS.AllowedMethods,
			AllowedHeaders: s.config.CORS.AllowedHeaders,
			MaxAge:         s.config.CORS.MaxAge,
		}))
	}

	r.Use(s.authenticate)

	r.Get("/", s.handleIdentity)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
		s.deps.Metrics.Registry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/servers", s.handleRegisterServer)
		r.Get("/servers", s.handleListServers)
		r.Get("/servers/{id}", s.handleGetServer)
		r.Put("/servers/{id}", s.handleUpdateServer)
		r.Delete("/servers/{id}", s.handleUnregisterServer)
		r.Post("/servers/{id}/discover", s.handleRediscoverServer)

		r.Get("/discovery/tools", s.handleDiscoverTools)
		r.Get("/discovery/resources", s.handleDiscoverResources)

		r.Get("/router/metrics", s.handleRouterMetrics)
		r.Get("/requests", s.handleAuditLog)
		r.Get("/breakers", s.handleBreakers)
		r.Get("/traces", s.handleTraces)

		r.Get("/proxy/active-requests", s.handleActiveRequests)
		r.Delete("/proxy/requests/{id}", s.handleCancelRequest)

		r.Get("/ratelimit/status", s.handleRateLimitStatus)
		r.Post("/ratelimit/reset", s.handleRateLimitReset)
	})

	r.Route("/mcp", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Use(s.rateLimit)

		r.Post("/", s.handleMCP)
		r.Post("/proxy", s.handleMCPProxy)
		r.Get("/tools", s.handleMCPTools)
		r.Post("/tools/{name}", s.handleMCPToolInvoke)
	})

	return r
}
