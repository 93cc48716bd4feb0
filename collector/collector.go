/*
Package collector polls the upstream aggregate endpoints on a schedule and
persists the observed snapshots.

Unlike the per-item history jobs in the work queue, aggregates cover every
entity in one call, so the collector is a plain ticker loop rather than
queue-driven work.
*/
package collector

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradewatch/price-feed-backend/monitoring"
	"github.com/tradewatch/price-feed-backend/types"
)

// Source produces aggregate snapshots. Implemented by the upstream client.
type Source interface {
	Latest(ctx context.Context) ([]*types.PriceSnapshot, error)
	FiveMinute(ctx context.Context) ([]*types.PriceSnapshot, error)
	OneHour(ctx context.Context) ([]*types.PriceSnapshot, error)
}

// SnapshotSink persists observed snapshots. Implemented by the datastore
// writer.
type SnapshotSink interface {
	SavePriceSnapshots(ctx context.Context, snapshots []*types.PriceSnapshot) error
}

// Config holds the per-interval poll cadences. A zero interval disables that
// endpoint.
type Config struct {
	LatestInterval     time.Duration
	FiveMinuteInterval time.Duration
	OneHourInterval    time.Duration
}

// DefaultConfig returns poll cadences matching the upstream refresh rates.
func DefaultConfig() Config {
	return Config{
		LatestInterval:     time.Minute,
		FiveMinuteInterval: 5 * time.Minute,
		OneHourInterval:    time.Hour,
	}
}

// Collector drives the aggregate polls.
type Collector struct {
	cfg    Config
	source Source
	sink   SnapshotSink
	logger *logrus.Logger
}

// New creates a collector over the given source and sink.
func New(cfg Config, source Source, sink SnapshotSink, logger *logrus.Logger) *Collector {
	return &Collector{
		cfg:    cfg,
		source: source,
		sink:   sink,
		logger: logger,
	}
}

// Run polls each enabled endpoint on its own cadence until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	c.runTicker(ctx, "latest", c.cfg.LatestInterval, c.source.Latest)
	c.runTicker(ctx, "5m", c.cfg.FiveMinuteInterval, c.source.FiveMinute)
	c.runTicker(ctx, "1h", c.cfg.OneHourInterval, c.source.OneHour)
	<-ctx.Done()
}

func (c *Collector) runTicker(ctx context.Context, interval string, every time.Duration, fetch func(context.Context) ([]*types.PriceSnapshot, error)) {
	if every <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		c.Poll(ctx, interval, fetch)
		for {
			select {
			case <-ticker.C:
				c.Poll(ctx, interval, fetch)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Poll fetches one aggregate interval and persists the result. A fetch that
// fell back to stale data still persists; stale observations carry their
// original observation time.
func (c *Collector) Poll(ctx context.Context, interval string, fetch func(context.Context) ([]*types.PriceSnapshot, error)) {
	start := time.Now()
	snapshots, err := fetch(ctx)
	if err != nil {
		monitoring.RecordCollectorPoll(interval, "failed", time.Since(start).Seconds())
		c.logger.WithFields(logrus.Fields{
			"interval": interval,
			"error":    err.Error(),
		}).Warn("Aggregate poll failed")
		return
	}

	if err := c.sink.SavePriceSnapshots(ctx, snapshots); err != nil {
		monitoring.RecordCollectorPoll(interval, "failed", time.Since(start).Seconds())
		c.logger.WithFields(logrus.Fields{
			"interval": interval,
			"count":    len(snapshots),
			"error":    err.Error(),
		}).Error("Failed to persist aggregate snapshots")
		return
	}

	monitoring.RecordCollectorPoll(interval, "success", time.Since(start).Seconds())
	c.logger.WithFields(logrus.Fields{
		"interval": interval,
		"count":    len(snapshots),
	}).Info("Aggregate snapshots persisted")
}
