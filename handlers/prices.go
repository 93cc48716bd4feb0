package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tradewatch/price-feed-backend/middleware"
	"github.com/tradewatch/price-feed-backend/utils"
)

// @Summary Get latest stored prices
// @Description Retrieves the most recently observed price snapshots from Google Cloud Datastore.
// @Tags Price Operations
// @Produce json
// @Param limit query int false "Number of snapshots to return (default: 100, max: 1000)"
// @Success 200 {object} map[string]interface{} "Price snapshots retrieved successfully"
// @Failure 400 {object} middleware.APIError "Bad request"
// @Failure 500 {object} middleware.APIError "Internal server error"
// @Router /prices/latest [get]
func (h *Handler) HandleGetLatestPrices(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = utils.GenerateRequestID()
		w.Header().Set("X-Request-ID", requestID)
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			middleware.RespondBadRequest(w, fmt.Errorf("invalid limit %q", raw), requestID)
			return
		}
		limit = min(parsed, maxListLimit)
	}

	snapshots, err := h.Prices.LatestPrices(r.Context(), limit)
	if err != nil {
		h.Logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to read latest prices")
		middleware.RespondInternalError(w, err, requestID)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

// @Summary Get price history for one entity
// @Description Retrieves stored historical price points for an entity, newest first.
// @Tags Price Operations
// @Produce json
// @Param id path string true "Entity ID"
// @Param limit query int false "Number of points to return (default: 100, max: 1000)"
// @Success 200 {object} map[string]interface{} "History retrieved successfully"
// @Failure 400 {object} middleware.APIError "Bad request"
// @Failure 500 {object} middleware.APIError "Internal server error"
// @Router /items/{id}/history [get]
func (h *Handler) HandleGetEntityHistory(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = utils.GenerateRequestID()
		w.Header().Set("X-Request-ID", requestID)
	}

	entityID := mux.Vars(r)["id"]
	if entityID == "" {
		middleware.RespondBadRequest(w, fmt.Errorf("id path parameter is missing"), requestID)
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			middleware.RespondBadRequest(w, fmt.Errorf("invalid limit %q", raw), requestID)
			return
		}
		limit = min(parsed, maxListLimit)
	}

	points, err := h.Prices.EntityHistory(r.Context(), entityID, limit)
	if err != nil {
		h.Logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"entity_id":  entityID,
			"error":      err.Error(),
		}).Error("Failed to read entity history")
		middleware.RespondInternalError(w, err, requestID)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"entity_id": entityID,
		"points":    points,
		"count":     len(points),
	})
}
