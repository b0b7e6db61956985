package metrics

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TextHandler serves the registry in the Prometheus text format.
//
// Example:
//
//	mux.Handle("/metrics", registry.TextHandler())
func (r *Registry) TextHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !readOnly(w, req) {
			return
		}
		w.Header().Set("Content-Type", PrometheusContentType)
		w.WriteHeader(http.StatusOK)
		if req.Method != http.MethodHead {
			_, _ = io.WriteString(w, r.PrometheusText())
		}
	}
}

// JSONHandler serves a registry Snapshot.
func (r *Registry) JSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !readOnly(w, req) {
			return
		}
		writeJSON(w, req, http.StatusOK, r.Snapshot())
	}
}

// ResetHandler clears the registry on POST.
func (r *Registry) ResetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		r.Reset()
		writeJSON(w, req, http.StatusOK, map[string]string{"status": "reset"})
	}
}

// HealthHandler serves the collector's HealthReport. Unhealthy systems
// answer 503; healthy and degraded ones answer 200.
func (c *Collector) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if !readOnly(w, req) {
			return
		}
		report := c.HealthStatus()
		status := http.StatusOK
		if report.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, req, status, report)
	}
}

// GathererHandler serves a client_golang registry through promhttp.
func GathererHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

func readOnly(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(v)
	}
}
