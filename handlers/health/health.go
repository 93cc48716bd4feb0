// Package health provides health check handlers for the price feed backend
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/sirupsen/logrus"

	"github.com/tradewatch/price-feed-backend/middleware"
	"github.com/tradewatch/price-feed-backend/types"
	"github.com/tradewatch/price-feed-backend/utils"
)

// HealthStatus represents the health check response structure
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
	Uptime    string            `json:"uptime"`
}

// UpstreamReporter exposes the outbound pipeline health snapshot.
type UpstreamReporter interface {
	Health() types.LimiterHealth
}

// DatastoreQuerier is the slice of the datastore client the probes need.
type DatastoreQuerier interface {
	GetAll(ctx context.Context, q *datastore.Query, dst interface{}) ([]*datastore.Key, error)
}

// Handler contains dependencies for health handlers
type Handler struct {
	DatastoreClient DatastoreQuerier
	Upstream        UpstreamReporter
	Logger          *logrus.Logger
}

// NewHandler creates a new health handler
func NewHandler(datastoreClient DatastoreQuerier, upstream UpstreamReporter, logger *logrus.Logger) *Handler {
	return &Handler{
		DatastoreClient: datastoreClient,
		Upstream:        upstream,
		Logger:          logger,
	}
}

// HandleHealthCheck provides a health check endpoint for monitoring
func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = utils.GenerateRequestID()
		w.Header().Set("X-Request-ID", requestID)
	}

	health := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
		Version:   "1.0.0",
		Services:  make(map[string]string),
		Uptime:    time.Since(startTime).String(),
	}

	// Check Datastore connectivity
	if err := h.checkDatastoreHealth(); err != nil {
		health.Status = "unhealthy"
		health.Services["datastore"] = "unhealthy: " + err.Error()
		h.Logger.WithFields(logrus.Fields{
			"service": "datastore",
			"error":   err.Error(),
		}).Error("Health check failed for datastore")
	} else {
		health.Services["datastore"] = "healthy"
	}

	// A throttled or cooling-down upstream degrades the service but the
	// process itself stays healthy; reads still serve from the store.
	upstream := h.Upstream.Health()
	health.Services["upstream"] = string(upstream.Status)
	if upstream.Status == types.LimiterCooldown && health.Status == "healthy" {
		health.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(health)
}

// HandleLivenessCheck provides a simple liveness probe
func (h *Handler) HandleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(startTime).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// HandleReadinessCheck provides a readiness probe
func (h *Handler) HandleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = utils.GenerateRequestID()
	}

	// Check if essential services are ready
	if err := h.checkDatastoreHealth(); err != nil {
		middleware.RespondServiceUnavailable(w, err, requestID)
		return
	}

	response := map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().Format(time.RFC3339),
		"services": map[string]string{
			"datastore": "ready",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// checkDatastoreHealth checks if Datastore is accessible
func (h *Handler) checkDatastoreHealth() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Try to perform a simple query to test connectivity
	query := datastore.NewQuery("__Namespace").KeysOnly().Limit(1)
	_, err := h.DatastoreClient.GetAll(ctx, query, nil)
	return err
}

var startTime = time.Now()
