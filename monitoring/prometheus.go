// Package monitoring provides the Prometheus scrape endpoint
package monitoring

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsHandler returns the handler serving the price-feed pipeline metrics
// (limiter, breaker, queue, collector) in Prometheus exposition format
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// SetupMetricsEndpoint mounts the scrape endpoint at /metrics
func SetupMetricsEndpoint(router *mux.Router) {
	router.Handle("/metrics", MetricsHandler()).Methods("GET")
}
