// Package types contains shared types used across the price feed backend
package types

import (
	"fmt"
	"time"
)

// WorkStatus is the lifecycle state of a work item.
type WorkStatus string

const (
	StatusPending    WorkStatus = "pending"
	StatusProcessing WorkStatus = "processing"
	StatusCompleted  WorkStatus = "completed"
	StatusFailed     WorkStatus = "failed"
)

// Valid reports whether the status is one of the known states.
func (s WorkStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether a transition from s to next is legal.
// pending -> processing (claim), processing -> completed (success),
// processing -> failed (error), processing -> pending (cooldown deferral),
// failed -> pending/processing (backoff elapsed, re-claim).
func (s WorkStatus) CanTransitionTo(next WorkStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed || next == StatusPending
	case StatusFailed:
		return next == StatusPending || next == StatusProcessing
	case StatusCompleted:
		return false
	}
	return false
}

// WorkItem is the durable work-queue record, one per tracked entity.
type WorkItem struct {
	EntityID              string     `datastore:"entity_id" json:"entity_id"`
	Status                WorkStatus `datastore:"status" json:"status"`
	Priority              int        `datastore:"priority" json:"priority"`
	Retries               int        `datastore:"retries" json:"retries"`
	Error                 string     `datastore:"error,noindex" json:"error,omitempty"`
	CreatedAt             time.Time  `datastore:"created_at" json:"created_at"`
	LastAttemptedAt       *time.Time `datastore:"last_attempted_at" json:"last_attempted_at,omitempty"`
	ProcessingStartedAt   *time.Time `datastore:"processing_started_at,noindex" json:"processing_started_at,omitempty"`
	ProcessingCompletedAt *time.Time `datastore:"processing_completed_at,noindex" json:"processing_completed_at,omitempty"`
}

// Transition moves the item to next, rejecting illegal transitions.
func (w *WorkItem) Transition(next WorkStatus) error {
	if !next.Valid() {
		return fmt.Errorf("invalid work status %q", next)
	}
	if !w.Status.CanTransitionTo(next) {
		return fmt.Errorf("illegal status transition %s -> %s for entity %s", w.Status, next, w.EntityID)
	}
	w.Status = next
	return nil
}

// Terminal reports whether the item has reached a state the queue will not
// schedule again (completed, or failed with retries exhausted).
func (w *WorkItem) Terminal(maxRetries int) bool {
	if w.Status == StatusCompleted {
		return true
	}
	return w.Status == StatusFailed && w.Retries >= maxRetries
}

// PriceSnapshot is one observed price for an entity at a point in time,
// produced by the upstream aggregate endpoints.
type PriceSnapshot struct {
	EntityID   string    `datastore:"entity_id" json:"entity_id"`
	HighPrice  int64     `datastore:"high_price,noindex" json:"high_price"`
	LowPrice   int64     `datastore:"low_price,noindex" json:"low_price"`
	HighVolume int64     `datastore:"high_volume,noindex" json:"high_volume"`
	LowVolume  int64     `datastore:"low_volume,noindex" json:"low_volume"`
	Interval   string    `datastore:"interval" json:"interval"` // latest, 5m, 1h
	ObservedAt time.Time `datastore:"observed_at" json:"observed_at"`
}

// PricePoint is one historical daily point for an entity, produced by the
// timeseries endpoint or the per-item history scrape.
type PricePoint struct {
	EntityID  string    `datastore:"entity_id" json:"entity_id"`
	Timestamp time.Time `datastore:"timestamp" json:"timestamp"`
	Price     int64     `datastore:"price,noindex" json:"price"`
	Volume    int64     `datastore:"volume,noindex" json:"volume"`
}

// EntityMeta is the upstream metadata mapping for a tradable entity.
type EntityMeta struct {
	EntityID string `datastore:"entity_id" json:"entity_id"`
	Name     string `datastore:"name" json:"name"`
	Members  bool   `datastore:"members,noindex" json:"members"`
	BuyLimit int    `datastore:"buy_limit,noindex" json:"buy_limit"`
	HighAlch int64  `datastore:"high_alch,noindex" json:"high_alch"`
	Examine  string `datastore:"examine,noindex" json:"examine,omitempty"`
}

// QueueStats is a read-only snapshot of the work queue for dashboards.
type QueueStats struct {
	Pending       int     `json:"pending"`
	Processing    int     `json:"processing"`
	Completed     int     `json:"completed"`
	Failed        int     `json:"failed"`
	TerminalFails int     `json:"terminal_failures"`
	AvgRetries    float64 `json:"avg_retries"`
	OldestAgeSecs float64 `json:"oldest_item_age_seconds"`
	NewestAgeSecs float64 `json:"newest_item_age_seconds"`
}

// LimiterStatus is the coarse health classification of the outbound
// rate-limited client.
type LimiterStatus string

const (
	LimiterHealthy    LimiterStatus = "healthy"
	LimiterThrottled  LimiterStatus = "throttled"
	LimiterCooldown   LimiterStatus = "cooldown"
	LimiterOverloaded LimiterStatus = "overloaded"
)

// LimiterHealth is a read-only snapshot of outbound request pacing for
// dashboards and health checks.
type LimiterHealth struct {
	Status           LimiterStatus `json:"status"`
	RequestsLastMin  int           `json:"requests_last_minute"`
	RequestsLastHour int           `json:"requests_last_hour"`
	InFlight         int           `json:"in_flight"`
	Queued           int           `json:"queued"`
	BreakerState     string        `json:"breaker_state"`
}
