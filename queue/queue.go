/*
Package queue implements the durable per-entity work queue.

One record exists per tracked entity. Records move pending -> processing on
claim, processing -> completed on success, and processing -> failed on error;
failed records become claimable again once their exponential backoff window
elapses, until retries are exhausted. Claiming is atomic with respect to the
status read-and-update, so two concurrent claimers never both win an item.
*/
package queue

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/tradewatch/price-feed-backend/types"
)

// ErrNotFound is returned when an entity has no work-queue record.
var ErrNotFound = errors.New("work item not found")

// BackoffPolicy computes retry eligibility for failed items:
// lastAttemptedAt + min(Base × Multiplier^retries, Max).
type BackoffPolicy struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// DefaultBackoffPolicy doubles from 30 seconds up to a 30 minute cap.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:       30 * time.Second,
		Multiplier: 2,
		Max:        30 * time.Minute,
	}
}

// Delay returns the wait interval after the given number of retries.
func (p BackoffPolicy) Delay(retries int) time.Duration {
	d := p.Base
	for i := 0; i < retries; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// EligibleAt returns the earliest time a failed item may be claimed again.
func (p BackoffPolicy) EligibleAt(retries int, lastAttemptedAt time.Time) time.Time {
	return lastAttemptedAt.Add(p.Delay(retries))
}

// Config holds queue tuning.
type Config struct {
	MaxRetries int
	Backoff    BackoffPolicy
}

// DefaultConfig returns the queue defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 5,
		Backoff:    DefaultBackoffPolicy(),
	}
}

// Store is the durable work-queue contract. Implementations guarantee at
// most one record per entity and at most one concurrent claim per record.
type Store interface {
	// Enqueue creates a pending record for entityID. It is a no-op when a
	// record already exists in a non-terminal state; a completed record is
	// re-armed as pending.
	Enqueue(ctx context.Context, entityID string, priority int) error

	// UpdatePriority raises the priority of an existing non-terminal record.
	// Lower values never overwrite higher ones.
	UpdatePriority(ctx context.Context, entityID string, priority int) error

	// ClaimBatch atomically selects up to limit claimable records (pending,
	// or failed with backoff elapsed and retries remaining), ordered by
	// priority desc then createdAt asc, and transitions each to processing.
	ClaimBatch(ctx context.Context, limit int) ([]*types.WorkItem, error)

	// Complete marks a processing record completed.
	Complete(ctx context.Context, entityID string) error

	// Fail records a failed attempt: increments retries, stores the error,
	// stamps lastAttemptedAt, and returns the record to pending while
	// retries remain, else leaves it terminally failed.
	Fail(ctx context.Context, entityID string, errMsg string) error

	// Defer returns a processing record to pending without touching retries.
	// Used when the per-entity cooldown has not yet elapsed.
	Defer(ctx context.Context, entityID string) error

	// Get returns the record for entityID.
	Get(ctx context.Context, entityID string) (*types.WorkItem, error)

	// List returns records filtered by status (all statuses when empty),
	// bounded by limit.
	List(ctx context.Context, status types.WorkStatus, limit int) ([]*types.WorkItem, error)

	// Stats returns counts by status, average retries, and item age bounds.
	Stats(ctx context.Context) (*types.QueueStats, error)

	// SweepCompleted deletes completed records older than the cutoff and
	// returns how many were removed.
	SweepCompleted(ctx context.Context, olderThan time.Time) (int, error)
}

// claimable reports whether an item may be claimed at now under the policy.
// Shared by both store implementations so eligibility stays consistent. A
// record that has failed before (pending with retries, or a non-terminal
// failed record) is eligible only once its backoff window has elapsed.
// orderForClaim sorts items into claim order, priority desc then createdAt
// asc. The ordering spans status classes: an eligible failed record competes
// with pending records on equal terms. Shared by both store implementations.
func orderForClaim(items []*types.WorkItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

func claimable(item *types.WorkItem, cfg Config, now time.Time) bool {
	switch item.Status {
	case types.StatusPending, types.StatusFailed:
		if item.Status == types.StatusFailed && item.Retries >= cfg.MaxRetries {
			return false
		}
		if item.Retries == 0 || item.LastAttemptedAt == nil {
			return true
		}
		return !now.Before(cfg.Backoff.EligibleAt(item.Retries, *item.LastAttemptedAt))
	}
	return false
}
