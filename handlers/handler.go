/*
Package handlers provides the read-only operational HTTP surface.

The Handler struct carries injected interfaces for the work queue, the
upstream client health, and stored prices, so every endpoint is testable
with mocks and no handler touches the ingestion core's internals directly.
*/
package handlers

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/tradewatch/price-feed-backend/types"
)

// QueueReader exposes the work-queue views the dashboard needs.
type QueueReader interface {
	Stats(ctx context.Context) (*types.QueueStats, error)
	Get(ctx context.Context, entityID string) (*types.WorkItem, error)
	List(ctx context.Context, status types.WorkStatus, limit int) ([]*types.WorkItem, error)
}

// HealthReporter exposes the outbound pipeline health snapshot.
type HealthReporter interface {
	Health() types.LimiterHealth
}

// PriceReader exposes stored prices for the read API.
type PriceReader interface {
	LatestPrices(ctx context.Context, limit int) ([]*types.PriceSnapshot, error)
	EntityHistory(ctx context.Context, entityID string, limit int) ([]*types.PricePoint, error)
}

// Handler contains all service dependencies for HTTP handlers.
type Handler struct {
	Queue    QueueReader
	Upstream HealthReporter
	Prices   PriceReader
	Logger   *logrus.Logger
}

// NewHandler creates a new handler instance with injected dependencies.
func NewHandler(queue QueueReader, health HealthReporter, prices PriceReader, logger *logrus.Logger) *Handler {
	return &Handler{
		Queue:    queue,
		Upstream: health,
		Prices:   prices,
		Logger:   logger,
	}
}
