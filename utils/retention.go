/*
Package utils provides the retention sweep for the price feed backend.

Completed work-queue records are kept for a bounded window so dashboards can
show recent throughput, then deleted. Terminally failed records are never
swept automatically; they require operator intervention.
*/
package utils

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradewatch/price-feed-backend/queue"
)

// RetentionConfig controls the cleanup sweep.
type RetentionConfig struct {
	CompletedRetention time.Duration
	SweepInterval      time.Duration
}

// DefaultRetentionConfig keeps completed records for a day, sweeping hourly.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		CompletedRetention: 24 * time.Hour,
		SweepInterval:      time.Hour,
	}
}

// Sweeper periodically removes aged completed work items.
type Sweeper struct {
	cfg    RetentionConfig
	store  queue.Store
	logger *logrus.Logger
}

// NewSweeper creates a retention sweeper.
func NewSweeper(cfg RetentionConfig, store queue.Store, logger *logrus.Logger) *Sweeper {
	def := DefaultRetentionConfig()
	if cfg.CompletedRetention <= 0 {
		cfg.CompletedRetention = def.CompletedRetention
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	return &Sweeper{
		cfg:    cfg,
		store:  store,
		logger: logger,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.cfg.CompletedRetention)
			removed, err := s.store.SweepCompleted(ctx, cutoff)
			if err != nil {
				s.logger.WithError(err).Error("Retention sweep failed")
				continue
			}
			if removed > 0 {
				s.logger.WithFields(logrus.Fields{
					"removed_count": removed,
					"cutoff":        cutoff.Format(time.RFC3339),
				}).Info("Retention sweep removed completed work items")
			}
		}
	}
}
