package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tradewatch/price-feed-backend/middleware"
	"github.com/tradewatch/price-feed-backend/types"
	"github.com/tradewatch/price-feed-backend/utils"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// @Summary Get work queue statistics
// @Description Returns counts per work-item status plus retry and age aggregates.
// @Tags Queue Operations
// @Produce json
// @Success 200 {object} types.QueueStats "Queue statistics"
// @Failure 500 {object} middleware.APIError "Internal server error"
// @Router /queue/stats [get]
func (h *Handler) HandleGetQueueStats(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = utils.GenerateRequestID()
		w.Header().Set("X-Request-ID", requestID)
	}

	stats, err := h.Queue.Stats(r.Context())
	if err != nil {
		h.Logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"error":      err.Error(),
		}).Error("Failed to read queue stats")
		middleware.RespondInternalError(w, err, requestID)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

/*
HandleListWorkItems lists work items, optionally filtered by status.

Query Parameters:
  - status: pending, processing, completed or failed (optional).
  - limit: Number of items to return (default: 100, max: 1000).

Example:

	GET /work-items?status=failed&limit=50

Response:
  - 200 OK: List of work items.
  - 400 Bad Request: Unknown status value.
*/
func (h *Handler) HandleListWorkItems(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = utils.GenerateRequestID()
		w.Header().Set("X-Request-ID", requestID)
	}

	var status types.WorkStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = types.WorkStatus(raw)
		if !status.Valid() {
			middleware.RespondBadRequest(w, fmt.Errorf("unknown status %q", raw), requestID)
			return
		}
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

	items, err := h.Queue.List(r.Context(), status, limit)
	if err != nil {
		h.Logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"status":     string(status),
			"error":      err.Error(),
		}).Error("Failed to list work items")
		middleware.RespondInternalError(w, err, requestID)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// @Summary Get a single work item
// @Description Returns the durable work-queue record for one entity.
// @Tags Queue Operations
// @Produce json
// @Param id path string true "Entity ID"
// @Success 200 {object} types.WorkItem "Work item"
// @Failure 404 {object} middleware.APIError "Work item not found"
// @Router /work-items/{id} [get]
func (h *Handler) HandleGetWorkItem(w http.ResponseWriter, r *http.Request) {
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

	item, err := h.Queue.Get(r.Context(), entityID)
	if err != nil {
		middleware.RespondNotFound(w, fmt.Errorf("work item %s not found", entityID), requestID)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(item)
}
