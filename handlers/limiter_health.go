package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/tradewatch/price-feed-backend/types"
	"github.com/tradewatch/price-feed-backend/utils"
)

// @Summary Get upstream limiter health
// @Description Returns the outbound pacing snapshot: window usage, in-flight and queued calls, and the circuit breaker state.
// @Tags Health Operations
// @Produce json
// @Success 200 {object} types.LimiterHealth "Limiter health snapshot"
// @Router /limiter/health [get]
func (h *Handler) HandleGetLimiterHealth(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = utils.GenerateRequestID()
		w.Header().Set("X-Request-ID", requestID)
	}

	health := h.Upstream.Health()

	// Degraded pacing is still a successful status read; the HTTP code
	// stays 200 so dashboards can poll without alert noise.
	w.Header().Set("Content-Type", "application/json")
	if health.Status == types.LimiterCooldown {
		w.Header().Set("X-Upstream-Degraded", "true")
	}
	json.NewEncoder(w).Encode(health)
}
