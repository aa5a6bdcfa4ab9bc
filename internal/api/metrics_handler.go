package api

import (
	"net/http"

	"github.com/samizdat-net/samizdat/internal/metrics"
)

// SetMetricsCollector sets the collector behind the /metrics endpoint
func (s *Server) SetMetricsCollector(collector *metrics.PrometheusCollector) {
	s.metricsCollector = collector
}

// handleMetrics serves the Prometheus scrape endpoint. The collector's
// handler syncs gauges from the daemon snapshot before every scrape.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if s.metricsCollector == nil {
		s.writeError(w, http.StatusServiceUnavailable, "metrics collector not configured")
		return
	}

	s.metricsCollector.PrometheusHandler().ServeHTTP(w, r)
}
