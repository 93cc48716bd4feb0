package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradewatch/price-feed-backend/monitoring"
	"github.com/tradewatch/price-feed-backend/types"
)

// MemoryStore is the in-process Store implementation. Claim atomicity comes
// from holding the store lock across the select-and-transition.
type MemoryStore struct {
	mu     sync.Mutex
	items  map[string]*types.WorkItem
	cfg    Config
	logger *logrus.Logger
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory work queue.
func NewMemoryStore(cfg Config, logger *logrus.Logger) *MemoryStore {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoffPolicy()
	}
	return &MemoryStore{
		items:  make(map[string]*types.WorkItem),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Enqueue creates a pending record for entityID. Existing non-terminal
// records are left untouched; a completed record is re-armed.
func (s *MemoryStore) Enqueue(ctx context.Context, entityID string, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.items[entityID]; ok {
		if existing.Status != types.StatusCompleted {
			return nil
		}
		delete(s.items, entityID)
	}

	s.items[entityID] = &types.WorkItem{
		EntityID:  entityID,
		Status:    types.StatusPending,
		Priority:  priority,
		CreatedAt: s.now(),
	}

	s.logger.WithFields(logrus.Fields{
		"entity_id": entityID,
		"priority":  priority,
	}).Debug("Enqueued work item")
	return nil
}

// UpdatePriority raises the priority of a non-terminal record.
func (s *MemoryStore) UpdatePriority(ctx context.Context, entityID string, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[entityID]
	if !ok {
		return ErrNotFound
	}
	if item.Terminal(s.cfg.MaxRetries) {
		return nil
	}
	if priority > item.Priority {
		item.Priority = priority
	}
	return nil
}

// ClaimBatch selects up to limit claimable records, priority desc then
// createdAt asc, and transitions them to processing under the store lock.
func (s *MemoryStore) ClaimBatch(ctx context.Context, limit int) ([]*types.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	eligible := make([]*types.WorkItem, 0, limit)
	for _, item := range s.items {
		if claimable(item, s.cfg, now) {
			eligible = append(eligible, item)
		}
	}

	orderForClaim(eligible)

	if len(eligible) > limit {
		eligible = eligible[:limit]
	}

	claimed := make([]*types.WorkItem, 0, len(eligible))
	for _, item := range eligible {
		if err := item.Transition(types.StatusProcessing); err != nil {
			return nil, err
		}
		started := now
		item.ProcessingStartedAt = &started
		copied := *item
		claimed = append(claimed, &copied)
	}

	s.updateDepthGauges()
	return claimed, nil
}

// Complete marks a processing record completed.
func (s *MemoryStore) Complete(ctx context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[entityID]
	if !ok {
		return ErrNotFound
	}
	if err := item.Transition(types.StatusCompleted); err != nil {
		return err
	}
	done := s.now()
	item.ProcessingCompletedAt = &done
	item.Error = ""

	s.updateDepthGauges()
	return nil
}

// Fail records a failed attempt. Below the retry cap the record returns to
// pending, gated by the backoff policy; at the cap it stays failed terminally.
func (s *MemoryStore) Fail(ctx context.Context, entityID string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[entityID]
	if !ok {
		return ErrNotFound
	}

	if err := item.Transition(types.StatusFailed); err != nil {
		return err
	}
	if item.Retries < s.cfg.MaxRetries {
		item.Retries++
	}
	item.Error = errMsg
	attempted := s.now()
	item.LastAttemptedAt = &attempted

	if item.Retries < s.cfg.MaxRetries {
		if err := item.Transition(types.StatusPending); err != nil {
			return err
		}
		s.logger.WithFields(logrus.Fields{
			"entity_id":   entityID,
			"retries":     item.Retries,
			"next_try_at": s.cfg.Backoff.EligibleAt(item.Retries, attempted).Format(time.RFC3339),
			"error":       errMsg,
		}).Warn("Work item failed, scheduled for retry")
	} else {
		s.logger.WithFields(logrus.Fields{
			"entity_id": entityID,
			"retries":   item.Retries,
			"error":     errMsg,
		}).Error("Work item failed terminally")
	}

	s.updateDepthGauges()
	return nil
}

// Defer returns a processing record to pending without touching retries.
func (s *MemoryStore) Defer(ctx context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[entityID]
	if !ok {
		return ErrNotFound
	}
	if err := item.Transition(types.StatusPending); err != nil {
		return err
	}
	item.ProcessingStartedAt = nil

	s.updateDepthGauges()
	return nil
}

// Get returns a copy of the record for entityID.
func (s *MemoryStore) Get(ctx context.Context, entityID string) (*types.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[entityID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *item
	return &copied, nil
}

// List returns copies of records filtered by status, bounded by limit.
func (s *MemoryStore) List(ctx context.Context, status types.WorkStatus, limit int) ([]*types.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.WorkItem
	for _, item := range s.items {
		if status != "" && item.Status != status {
			continue
		}
		copied := *item
		out = append(out, &copied)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats returns counts by status, average retries, and item age bounds.
func (s *MemoryStore) Stats(ctx context.Context) (*types.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &types.QueueStats{}
	now := s.now()

	var totalRetries int
	var oldest, newest time.Time
	for _, item := range s.items {
		switch item.Status {
		case types.StatusPending:
			stats.Pending++
		case types.StatusProcessing:
			stats.Processing++
		case types.StatusCompleted:
			stats.Completed++
		case types.StatusFailed:
			stats.Failed++
			if item.Retries >= s.cfg.MaxRetries {
				stats.TerminalFails++
			}
		}
		totalRetries += item.Retries
		if oldest.IsZero() || item.CreatedAt.Before(oldest) {
			oldest = item.CreatedAt
		}
		if newest.IsZero() || item.CreatedAt.After(newest) {
			newest = item.CreatedAt
		}
	}

	if n := len(s.items); n > 0 {
		stats.AvgRetries = float64(totalRetries) / float64(n)
		stats.OldestAgeSecs = now.Sub(oldest).Seconds()
		stats.NewestAgeSecs = now.Sub(newest).Seconds()
	}
	return stats, nil
}

// SweepCompleted deletes completed records older than the cutoff.
func (s *MemoryStore) SweepCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for entityID, item := range s.items {
		if item.Status != types.StatusCompleted {
			continue
		}
		if item.ProcessingCompletedAt != nil && item.ProcessingCompletedAt.Before(olderThan) {
			delete(s.items, entityID)
			removed++
		}
	}

	if removed > 0 {
		s.logger.WithField("removed_count", removed).Info("Swept completed work items")
	}
	s.updateDepthGauges()
	return removed, nil
}

// updateDepthGauges refreshes the queue depth metrics. Caller holds the lock.
func (s *MemoryStore) updateDepthGauges() {
	counts := map[types.WorkStatus]int{}
	for _, item := range s.items {
		counts[item.Status]++
	}
	for _, status := range []types.WorkStatus{types.StatusPending, types.StatusProcessing, types.StatusCompleted, types.StatusFailed} {
		monitoring.UpdateQueueDepth(string(status), counts[status])
	}
}
