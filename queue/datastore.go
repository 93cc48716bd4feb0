package queue

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/sirupsen/logrus"

	"github.com/tradewatch/price-feed-backend/monitoring"
	"github.com/tradewatch/price-feed-backend/types"
)

// WorkItemKind is the Datastore kind holding the work-queue records. The
// field layout matches the monitoring/cleanup tooling that queries it
// directly: composite indexes on (status, priority desc, created_at asc) and
// (status, retries, last_attempted_at).
const WorkItemKind = "WorkItem"

// errNotClaimable aborts a claim transaction when the record was taken or
// became ineligible between the candidate query and the transaction.
var errNotClaimable = errors.New("work item no longer claimable")

// DatastoreStore is the Cloud Datastore Store implementation. Claiming is a
// per-record transaction: the candidate query is only advisory, the
// transactional re-check-and-put decides ownership, so concurrent processors
// against the same store never double-claim.
type DatastoreStore struct {
	client *datastore.Client
	cfg    Config
	logger *logrus.Logger
	now    func() time.Time
}

// NewDatastoreStore creates a Datastore-backed work queue.
func NewDatastoreStore(client *datastore.Client, cfg Config, logger *logrus.Logger) *DatastoreStore {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoffPolicy()
	}
	return &DatastoreStore{
		client: client,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

func (s *DatastoreStore) key(entityID string) *datastore.Key {
	return datastore.NameKey(WorkItemKind, entityID, nil)
}

// Enqueue inserts a pending record unless a non-terminal one already exists.
func (s *DatastoreStore) Enqueue(ctx context.Context, entityID string, priority int) error {
	start := time.Now()
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing types.WorkItem
		err := tx.Get(s.key(entityID), &existing)
		if err == nil && existing.Status != types.StatusCompleted {
			return nil
		}
		if err != nil && err != datastore.ErrNoSuchEntity {
			return err
		}

		item := &types.WorkItem{
			EntityID:  entityID,
			Status:    types.StatusPending,
			Priority:  priority,
			CreatedAt: s.now(),
		}
		_, err = tx.Put(s.key(entityID), item)
		return err
	})
	s.record("enqueue", start, err)
	return err
}

// UpdatePriority raises the priority of a non-terminal record.
func (s *DatastoreStore) UpdatePriority(ctx context.Context, entityID string, priority int) error {
	start := time.Now()
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var item types.WorkItem
		if err := tx.Get(s.key(entityID), &item); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return ErrNotFound
			}
			return err
		}
		if item.Terminal(s.cfg.MaxRetries) || priority <= item.Priority {
			return nil
		}
		item.Priority = priority
		_, err := tx.Put(s.key(entityID), &item)
		return err
	})
	s.record("update_priority", start, err)
	return err
}

// ClaimBatch queries candidates and claims each through its own transaction.
// Items taken by another claimer between the query and the transaction are
// skipped, not treated as errors.
func (s *DatastoreStore) ClaimBatch(ctx context.Context, limit int) ([]*types.WorkItem, error) {
	start := time.Now()
	now := s.now()

	candidates, err := s.claimCandidates(ctx, limit)
	if err != nil {
		s.record("claim_batch", start, err)
		return nil, err
	}

	claimed := make([]*types.WorkItem, 0, len(candidates))
	for _, candidate := range candidates {
		if len(claimed) >= limit {
			break
		}

		var won types.WorkItem
		_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
			var item types.WorkItem
			if err := tx.Get(s.key(candidate.EntityID), &item); err != nil {
				return err
			}
			if !claimable(&item, s.cfg, now) {
				return errNotClaimable
			}
			if err := item.Transition(types.StatusProcessing); err != nil {
				return err
			}
			started := now
			item.ProcessingStartedAt = &started
			if _, err := tx.Put(s.key(candidate.EntityID), &item); err != nil {
				return err
			}
			won = item
			return nil
		})
		if err != nil {
			if errors.Is(err, errNotClaimable) || err == datastore.ErrNoSuchEntity {
				continue
			}
			s.record("claim_batch", start, err)
			return claimed, err
		}
		copied := won
		claimed = append(claimed, &copied)
	}

	s.record("claim_batch", start, nil)
	return claimed, nil
}

// claimCandidates fetches pending records and failed records whose backoff
// may have elapsed, in claim order. Datastore has no OR queries, so the two
// status classes are fetched separately, filtered by the claimable check,
// and re-sorted into a single claim order.
func (s *DatastoreStore) claimCandidates(ctx context.Context, limit int) ([]*types.WorkItem, error) {
	now := s.now()
	var candidates []*types.WorkItem

	for _, status := range []types.WorkStatus{types.StatusPending, types.StatusFailed} {
		q := datastore.NewQuery(WorkItemKind).
			FilterField("status", "=", string(status)).
			Order("-priority").
			Order("created_at").
			Limit(limit * 2)

		var items []*types.WorkItem
		if _, err := s.client.GetAll(ctx, q, &items); err != nil {
			return nil, err
		}
		for _, item := range items {
			if claimable(item, s.cfg, now) {
				candidates = append(candidates, item)
			}
		}
	}

	// The per-status queries come back individually ordered; re-sort the
	// merged set so pending and failed records compete on equal terms.
	orderForClaim(candidates)
	return candidates, nil
}

// Complete marks a processing record completed.
func (s *DatastoreStore) Complete(ctx context.Context, entityID string) error {
	start := time.Now()
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var item types.WorkItem
		if err := tx.Get(s.key(entityID), &item); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return ErrNotFound
			}
			return err
		}
		if err := item.Transition(types.StatusCompleted); err != nil {
			return err
		}
		done := s.now()
		item.ProcessingCompletedAt = &done
		item.Error = ""
		_, err := tx.Put(s.key(entityID), &item)
		return err
	})
	s.record("complete", start, err)
	return err
}

// Fail records a failed attempt under the same policy as the memory store.
func (s *DatastoreStore) Fail(ctx context.Context, entityID string, errMsg string) error {
	start := time.Now()
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var item types.WorkItem
		if err := tx.Get(s.key(entityID), &item); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return ErrNotFound
			}
			return err
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
		}
		_, err := tx.Put(s.key(entityID), &item)
		return err
	})
	if err == nil {
		s.logger.WithFields(logrus.Fields{
			"entity_id": entityID,
			"error":     errMsg,
		}).Warn("Work item attempt failed")
	}
	s.record("fail", start, err)
	return err
}

// Defer returns a processing record to pending without touching retries.
func (s *DatastoreStore) Defer(ctx context.Context, entityID string) error {
	start := time.Now()
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var item types.WorkItem
		if err := tx.Get(s.key(entityID), &item); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return ErrNotFound
			}
			return err
		}
		if err := item.Transition(types.StatusPending); err != nil {
			return err
		}
		item.ProcessingStartedAt = nil
		_, err := tx.Put(s.key(entityID), &item)
		return err
	})
	s.record("defer", start, err)
	return err
}

// Get returns the record for entityID.
func (s *DatastoreStore) Get(ctx context.Context, entityID string) (*types.WorkItem, error) {
	var item types.WorkItem
	if err := s.client.Get(ctx, s.key(entityID), &item); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// List returns records filtered by status, bounded by limit.
func (s *DatastoreStore) List(ctx context.Context, status types.WorkStatus, limit int) ([]*types.WorkItem, error) {
	q := datastore.NewQuery(WorkItemKind)
	if status != "" {
		q = q.FilterField("status", "=", string(status))
	}
	q = q.Order("-priority").Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var items []*types.WorkItem
	if _, err := s.client.GetAll(ctx, q, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Stats aggregates counts by status, average retries, and item age bounds.
func (s *DatastoreStore) Stats(ctx context.Context) (*types.QueueStats, error) {
	items, err := s.List(ctx, "", 0)
	if err != nil {
		return nil, err
	}

	stats := &types.QueueStats{}
	now := s.now()
	var totalRetries int
	var oldest, newest time.Time
	for _, item := range items {
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

	if n := len(items); n > 0 {
		stats.AvgRetries = float64(totalRetries) / float64(n)
		stats.OldestAgeSecs = now.Sub(oldest).Seconds()
		stats.NewestAgeSecs = now.Sub(newest).Seconds()
	}

	for _, pair := range []struct {
		status types.WorkStatus
		count  int
	}{
		{types.StatusPending, stats.Pending},
		{types.StatusProcessing, stats.Processing},
		{types.StatusCompleted, stats.Completed},
		{types.StatusFailed, stats.Failed},
	} {
		monitoring.UpdateQueueDepth(string(pair.status), pair.count)
	}

	return stats, nil
}

// SweepCompleted deletes completed records older than the cutoff in batches.
func (s *DatastoreStore) SweepCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	start := time.Now()
	q := datastore.NewQuery(WorkItemKind).
		FilterField("status", "=", string(types.StatusCompleted)).
		KeysOnly().
		Limit(500)

	keys, err := s.client.GetAll(ctx, q, nil)
	if err != nil {
		s.record("sweep", start, err)
		return 0, err
	}

	var toDelete []*datastore.Key
	for _, key := range keys {
		item, err := s.Get(ctx, key.Name)
		if err != nil {
			continue
		}
		if item.ProcessingCompletedAt != nil && item.ProcessingCompletedAt.Before(olderThan) {
			toDelete = append(toDelete, key)
		}
	}

	if len(toDelete) > 0 {
		if err := s.client.DeleteMulti(ctx, toDelete); err != nil {
			s.record("sweep", start, err)
			return 0, err
		}
		s.logger.WithField("removed_count", len(toDelete)).Info("Swept completed work items")
	}

	s.record("sweep", start, nil)
	return len(toDelete), nil
}

// record emits datastore operation metrics.
func (s *DatastoreStore) record(operation string, start time.Time, err error) {
	status := "success"
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = "failed"
	}
	monitoring.RecordDatastoreOperation(operation, status, time.Since(start).Seconds())
}
