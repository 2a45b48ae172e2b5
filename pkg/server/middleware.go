package server

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stellar-hq/hermes/pkg/limits"
	"stellar-hq/hermes/pkg/security/auth"
	"stellar-hq/hermes/pkg/telemetry/tracing"
)

type authErrKey struct{}

// recovery converts handler panics into 500 responses.
func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic",
					"path", r.URL.Path, "panic", fmt.Sprint(rec))
				writeError(w, http.StatusInternalServerError,
					"INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// tracing opens the per-request root span.
func (s *Server) tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.deps.Tracer.Start(r.Context(), "http.request",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			))
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate resolves credentials when present and attaches the
// principal. Failures are recorded but not fatal here; the path gate
// decides whether anonymous access is acceptable.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.deps.Tracer.Start(r.Context(), tracing.SpanAuth)
		principal, err := s.deps.Auth.Authenticate(ctx, r)
		span.End()

		if err != nil {
			ctx = context.WithValue(ctx, authErrKey{}, err)
		}
		if principal != nil {
			ctx = auth.WithPrincipal(ctx, principal)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAuth gates the /mcp plane: a resolved principal is mandatory.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.FromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("WWW-Authenticate", "Bearer")
		message := "authentication required"
		if err, ok := r.Context().Value(authErrKey{}).(error); ok {
			message = err.Error()
		}
		writeError(w, http.StatusUnauthorized, auth.CodeAuthentication, message)
	})
}

// rateLimit admits or denies the request before any routing work.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		check := limits.CheckRequest{ClientIP: clientIP(r)}
		if p := auth.FromContext(r.Context()); p != nil {
			check.TenantID = p.TenantID
			check.UserID = p.User.ID
			check.Role = string(p.User.Role)
		}

		ctx, span := s.deps.Tracer.Start(r.Context(), tracing.SpanRateLimit)
		decision := s.deps.Limiter.Check(ctx, check)
		span.End()

		if !decision.Allowed {
			retrySecs := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retrySecs < 1 {
				retrySecs = 1
			}
			w.Header().Set("Retry-After", fmt.Sprint(retrySecs))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error": errorBody{
					Code:    "RATE_LIMITED",
					Message: "rate limit exceeded",
					Details: map[string]any{
						"limit_type":  decision.Tier,
						"retry_after": retrySecs,
					},
				},
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
