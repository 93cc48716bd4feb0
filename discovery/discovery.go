/*
Package discovery keeps the work queue populated.

Two loops: a catalog sync pulls the upstream entity mapping and enqueues a
work item for every entity (idempotent, so already-tracked entities are
untouched), and a news watcher polls the vendor update feed and boosts the
queue priority of entities named in recent headlines.
*/
package discovery

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"

	"github.com/tradewatch/price-feed-backend/client"
	"github.com/tradewatch/price-feed-backend/queue"
	"github.com/tradewatch/price-feed-backend/types"
)

// Catalog fetches the upstream entity metadata mapping.
type Catalog interface {
	Mapping(ctx context.Context) ([]*types.EntityMeta, error)
}

// MetaSink persists entity metadata.
type MetaSink interface {
	SaveEntityMeta(ctx context.Context, metas []*types.EntityMeta) error
}

// Config holds discovery tuning.
type Config struct {
	SyncInterval time.Duration
	// NewsFeedURL is the vendor update feed; empty disables the watcher.
	NewsFeedURL   string
	NewsInterval  time.Duration
	BoostPriority int
	// MinNameLength filters out short entity names that would match
	// headlines by accident.
	MinNameLength int
}

// DefaultConfig returns the discovery defaults.
func DefaultConfig() Config {
	return Config{
		SyncInterval:  6 * time.Hour,
		NewsInterval:  30 * time.Minute,
		BoostPriority: client.PriorityHigh,
		MinNameLength: 5,
	}
}

// Discovery runs the catalog sync and news watcher loops.
type Discovery struct {
	cfg     Config
	catalog Catalog
	store   queue.Store
	metas   MetaSink
	parser  *gofeed.Parser
	logger  *logrus.Logger

	mu          sync.RWMutex
	nameToID    map[string]string
	seenGUIDs   map[string]struct{}
	quit        chan struct{}
	stopOnce    sync.Once
	loopsActive sync.WaitGroup
}

// New creates a discovery service. Nothing runs until Run is called.
func New(cfg Config, catalog Catalog, store queue.Store, metas MetaSink, logger *logrus.Logger) *Discovery {
	def := DefaultConfig()
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.NewsInterval <= 0 {
		cfg.NewsInterval = def.NewsInterval
	}
	if cfg.BoostPriority <= 0 {
		cfg.BoostPriority = def.BoostPriority
	}
	if cfg.MinNameLength <= 0 {
		cfg.MinNameLength = def.MinNameLength
	}
	return &Discovery{
		cfg:       cfg,
		catalog:   catalog,
		store:     store,
		metas:     metas,
		parser:    gofeed.NewParser(),
		logger:    logger,
		nameToID:  make(map[string]string),
		seenGUIDs: make(map[string]struct{}),
		quit:      make(chan struct{}),
	}
}

// Run starts the sync and news loops and blocks until the context is
// cancelled or Stop is called. The first catalog sync runs immediately.
func (d *Discovery) Run(ctx context.Context) {
	d.loopsActive.Add(1)
	go func() {
		defer d.loopsActive.Done()
		d.syncLoop(ctx)
	}()

	if d.cfg.NewsFeedURL != "" {
		d.loopsActive.Add(1)
		go func() {
			defer d.loopsActive.Done()
			d.newsLoop(ctx)
		}()
	}

	d.loopsActive.Wait()
}

// Stop halts both loops.
func (d *Discovery) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
	})
}

func (d *Discovery) syncLoop(ctx context.Context) {
	if err := d.SyncCatalog(ctx); err != nil {
		d.logger.WithError(err).Error("Initial catalog sync failed")
	}

	ticker := time.NewTicker(d.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.quit:
			return
		case <-ticker.C:
			if err := d.SyncCatalog(ctx); err != nil {
				d.logger.WithError(err).Error("Catalog sync failed")
			}
		}
	}
}

// SyncCatalog pulls the entity mapping, persists metadata, refreshes the
// name index, and enqueues work for every entity.
func (d *Discovery) SyncCatalog(ctx context.Context) error {
	metas, err := d.catalog.Mapping(ctx)
	if err != nil {
		return err
	}

	if d.metas != nil {
		if err := d.metas.SaveEntityMeta(ctx, metas); err != nil {
			d.logger.WithError(err).Warn("Failed to persist entity metadata")
		}
	}

	nameToID := make(map[string]string, len(metas))
	enqueued := 0
	for _, meta := range metas {
		if len(meta.Name) >= d.cfg.MinNameLength {
			nameToID[strings.ToLower(meta.Name)] = meta.EntityID
		}
		if err := d.store.Enqueue(ctx, meta.EntityID, client.PriorityNormal); err != nil {
			d.logger.WithFields(logrus.Fields{
				"entity_id": meta.EntityID,
				"error":     err.Error(),
			}).Warn("Failed to enqueue discovered entity")
			continue
		}
		enqueued++
	}

	d.mu.Lock()
	d.nameToID = nameToID
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"entities": len(metas),
		"enqueued": enqueued,
	}).Info("Catalog sync completed")
	return nil
}

func (d *Discovery) newsLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.NewsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.quit:
			return
		case <-ticker.C:
			if err := d.PollNews(ctx); err != nil {
				d.logger.WithError(err).Warn("News feed poll failed")
			}
		}
	}
}

// PollNews reads the vendor feed and boosts the priority of entities named
// in headlines not seen before.
func (d *Discovery) PollNews(ctx context.Context) error {
	feed, err := d.parser.ParseURLWithContext(d.cfg.NewsFeedURL, ctx)
	if err != nil {
		return err
	}

	boosted := 0
	for _, item := range feed.Items {
		guid := item.GUID
		if guid == "" {
			guid = item.Link
		}
		d.mu.Lock()
		if _, seen := d.seenGUIDs[guid]; seen {
			d.mu.Unlock()
			continue
		}
		d.seenGUIDs[guid] = struct{}{}
		d.mu.Unlock()

		for _, entityID := range d.matchEntities(item.Title + " " + item.Description) {
			err := d.store.UpdatePriority(ctx, entityID, d.cfg.BoostPriority)
			if err != nil && err != queue.ErrNotFound {
				d.logger.WithFields(logrus.Fields{
					"entity_id": entityID,
					"error":     err.Error(),
				}).Warn("Failed to boost entity priority")
				continue
			}
			if err == nil {
				boosted++
			}
		}
	}

	if boosted > 0 {
		d.logger.WithField("boosted", boosted).Info("Boosted entities named in news")
	}
	return nil
}

// matchEntities returns the ids of catalog entities whose names appear in
// the text.
func (d *Discovery) matchEntities(text string) []string {
	lowered := strings.ToLower(text)

	d.mu.RLock()
	defer d.mu.RUnlock()

	var matches []string
	for name, entityID := range d.nameToID {
		if strings.Contains(lowered, name) {
			matches = append(matches, entityID)
		}
	}
	return matches
}
