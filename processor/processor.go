/*
Package processor drains the durable work queue at bounded concurrency.

Each cycle claims a batch of eligible work items and drives every item
through cooldown check -> fetch -> persist -> complete/fail under a
semaphore-capped worker set. Failures are isolated per item, and a
configurable delay separates cycles so a non-empty queue never turns into a
tight loop against the upstream.
*/
package processor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradewatch/price-feed-backend/monitoring"
	"github.com/tradewatch/price-feed-backend/queue"
	"github.com/tradewatch/price-feed-backend/types"
)

// Fetcher produces the historical points for one entity. Implemented by the
// history scraper and, in tests, by counting doubles.
type Fetcher interface {
	History(ctx context.Context, entityID string) ([]*types.PricePoint, error)
}

// Sink persists fetched points. Implemented by the datastore writer.
type Sink interface {
	SavePricePoints(ctx context.Context, points []*types.PricePoint) error
}

// CooldownTracker gates per-entity fetch frequency.
type CooldownTracker interface {
	CanFetch(entityID string) bool
	MarkFetched(entityID string)
	Remaining(entityID string) time.Duration
}

// Config holds processor tuning.
type Config struct {
	BatchSize      int
	MaxConcurrency int
	CycleDelay     time.Duration
}

// DefaultConfig returns the processor defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:      10,
		MaxConcurrency: 3,
		CycleDelay:     15 * time.Second,
	}
}

// Processor is the bounded-concurrency queue drainer.
type Processor struct {
	cfg       Config
	store     queue.Store
	fetcher   Fetcher
	sink      Sink
	cooldowns CooldownTracker
	logger    *logrus.Logger

	quit     chan struct{}
	stopOnce sync.Once
	running  sync.WaitGroup
}

// New creates a processor. Nothing runs until Run is called.
func New(cfg Config, store queue.Store, fetcher Fetcher, sink Sink, cooldowns CooldownTracker, logger *logrus.Logger) *Processor {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.CycleDelay <= 0 {
		cfg.CycleDelay = def.CycleDelay
	}
	return &Processor{
		cfg:       cfg,
		store:     store,
		fetcher:   fetcher,
		sink:      sink,
		cooldowns: cooldowns,
		logger:    logger,
		quit:      make(chan struct{}),
	}
}

// Run drives claim cycles until the context is cancelled or Stop is called.
// Stopping halts claiming only; jobs already dispatched finish and record
// their terminal state.
func (p *Processor) Run(ctx context.Context) {
	p.running.Add(1)
	defer p.running.Done()

	monitoring.UpdateActiveWorkers(p.cfg.MaxConcurrency)
	p.logger.WithFields(logrus.Fields{
		"batch_size":      p.cfg.BatchSize,
		"max_concurrency": p.cfg.MaxConcurrency,
		"cycle_delay":     p.cfg.CycleDelay.String(),
	}).Info("Queue processor started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Queue processor stopping: context cancelled")
			return
		case <-p.quit:
			p.logger.Info("Queue processor stopping")
			return
		default:
		}

		processed, err := p.RunCycle(ctx)
		if err != nil {
			p.logger.WithError(err).Error("Claim cycle failed")
		}

		// Even a busy queue gets breathing room between cycles.
		delay := p.cfg.CycleDelay
		if processed == 0 && err == nil {
			delay = p.cfg.CycleDelay * 2
		}
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case <-time.After(delay):
		}
	}
}

// RunCycle claims one batch and processes it at bounded concurrency,
// returning how many items were dispatched. A cycle-level claim error never
// reaches the items of a previous cycle; per-item errors never abort
// siblings.
func (p *Processor) RunCycle(ctx context.Context) (int, error) {
	items, err := p.store.ClaimBatch(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	p.logger.WithField("claimed", len(items)).Debug("Claimed work batch")

	sem := make(chan struct{}, p.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(item *types.WorkItem) {
			defer wg.Done()
			defer func() { <-sem }()
			p.processItem(ctx, item)
		}(item)
	}
	wg.Wait()

	return len(items), nil
}

// processItem runs one claimed item to a terminal cycle outcome.
func (p *Processor) processItem(ctx context.Context, item *types.WorkItem) {
	start := time.Now()
	ctx, span := monitoring.CreateSpan(ctx, "processor.job")
	defer span.End()
	monitoring.SetSpanAttributes(span, map[string]interface{}{
		"entity_id": item.EntityID,
		"priority":  item.Priority,
		"retries":   item.Retries,
	})

	log := p.logger.WithFields(logrus.Fields{
		"entity_id": item.EntityID,
		"priority":  item.Priority,
		"retries":   item.Retries,
	})

	if !p.cooldowns.CanFetch(item.EntityID) {
		// A deferral, not a failure: the item returns to pending with its
		// retry count untouched.
		remaining := p.cooldowns.Remaining(item.EntityID)
		if err := p.store.Defer(ctx, item.EntityID); err != nil {
			log.WithError(err).Error("Failed to defer cooled-down item")
		}
		monitoring.RecordJob("deferred", time.Since(start).Seconds())
		log.WithField("cooldown_remaining", remaining.String()).Debug("Deferred entity still in cooldown")
		return
	}

	points, err := p.fetcher.History(ctx, item.EntityID)
	if err != nil {
		p.failItem(ctx, item, err, start, log)
		return
	}

	if err := p.sink.SavePricePoints(ctx, points); err != nil {
		p.failItem(ctx, item, err, start, log)
		return
	}

	p.cooldowns.MarkFetched(item.EntityID)

	if err := p.store.Complete(ctx, item.EntityID); err != nil {
		log.WithError(err).Error("Failed to mark item completed")
		monitoring.RecordJob("failed", time.Since(start).Seconds())
		return
	}

	monitoring.RecordJob("completed", time.Since(start).Seconds())
	log.WithFields(logrus.Fields{
		"points":      len(points),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Work item completed")
}

// failItem records a per-item failure without touching its siblings.
func (p *Processor) failItem(ctx context.Context, item *types.WorkItem, cause error, start time.Time, log *logrus.Entry) {
	if err := p.store.Fail(ctx, item.EntityID, cause.Error()); err != nil {
		log.WithError(err).Error("Failed to record item failure")
	}
	monitoring.RecordJob("failed", time.Since(start).Seconds())
	log.WithError(cause).Warn("Work item failed")
}

// Stop halts the claim loop and waits for the current cycle's jobs to
// finish.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		close(p.quit)
	})
	p.running.Wait()
	p.logger.Info("Queue processor stopped")
}
