package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"mercator-hq/tollgate/pkg/limits/ratelimit"
	"mercator-hq/tollgate/pkg/proxy/middleware"
)

// adminOnly requires the configured admin token as a bearer token. Without a
// token the admin routes are open, which suits loopback-only deployments.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	token := s.config.Server.AdminToken
	if token == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		given, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="tollgate-admin"`)
			writeJSON(w, r, http.StatusUnauthorized, middleware.ErrorBody{
				Error: middleware.ErrorDetail{
					Message:   "A valid admin token is required.",
					Type:      "unauthorized",
					RequestID: middleware.GetRequestID(r.Context()),
				},
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitStatusHandler serves the limiter view of {key}. The optional path
// query parameter selects the route quota the key is evaluated against.
func (s *Server) rateLimitStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		opts := s.quotaFor(r.URL.Query().Get("path"))

		status, err := s.deps.Limiter.Status(r.Context(), key, opts)
		if err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, ratelimit.ErrInvalidOptions) {
				code = http.StatusBadRequest
			}
			middleware.ReportError(r.Context(), err)
			writeJSON(w, r, code, middleware.ErrorBody{
				Error: middleware.ErrorDetail{
					Message:   err.Error(),
					Type:      middleware.ErrorTypeServer,
					RequestID: middleware.GetRequestID(r.Context()),
				},
			})
			return
		}
		writeJSON(w, r, http.StatusOK, status)
	}
}

func (s *Server) rateLimitResetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		if err := s.deps.Limiter.Reset(r.Context(), key); err != nil {
			middleware.ReportError(r.Context(), err)
			writeJSON(w, r, http.StatusInternalServerError, middleware.ErrorBody{
				Error: middleware.ErrorDetail{
					Message:   "Failed to reset rate limit.",
					Type:      middleware.ErrorTypeServer,
					RequestID: middleware.GetRequestID(r.Context()),
				},
			})
			return
		}

		s.logger.Info("rate limit reset via admin api", "key", key)
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "reset", "key": key})
	}
}

func (s *Server) quotaFor(path string) ratelimit.Options {
	if s.deps.Admission != nil {
		if path == "" {
			path = "/"
		}
		return s.deps.Admission.OptionsFor(path)
	}
	return middleware.AdmissionConfigFrom(s.config.RateLimit).Default
}

func (s *Server) errorStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, s.deps.Tracker.ErrorStats())
	}
}

func (s *Server) performanceStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, s.deps.Tracker.PerformanceStats())
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(v)
	}
}
