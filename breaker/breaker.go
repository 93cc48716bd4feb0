/*
Package breaker implements a circuit breaker around the upstream price API.

States: closed (calls pass through) -> open (calls fail fast) -> half_open
(a single probe is allowed after the reset timeout) -> closed on probe
success, back to open on probe failure.
*/
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tradewatch/price-feed-backend/monitoring"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// ErrOpen is returned by Allow while the breaker is open and the reset
// timeout has not elapsed.
var ErrOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker tuning.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	FailureThreshold int
	// ResetTimeout is how long the breaker stays open before allowing a
	// half-open probe.
	ResetTimeout time.Duration
}

// DefaultConfig returns the breaker defaults: 5 consecutive failures, 5
// minute reset timeout.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     5 * time.Minute,
	}
}

// Snapshot is a read-only view of the breaker for health reporting.
type Snapshot struct {
	State         State      `json:"state"`
	FailureCount  int        `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
}

// Breaker is a mutex-guarded three-state circuit breaker.
type Breaker struct {
	mu            sync.Mutex
	cfg           Config
	state         State
	failureCount  int
	lastFailureAt time.Time
	cooldownUntil time.Time
	probing       bool
	logger        *logrus.Logger
	now           func() time.Time
}

// New creates a closed breaker with the given config.
func New(cfg Config, logger *logrus.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	return &Breaker{
		cfg:    cfg,
		state:  StateClosed,
		logger: logger,
		now:    time.Now,
	}
}

// Allow reports whether a call may proceed. While open it returns ErrOpen
// until the cooldown elapses, at which point the breaker moves to half_open
// and admits a single probe; concurrent callers during the probe are
// rejected.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Before(b.cooldownUntil) {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.probing = true
		return nil
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// RecordSuccess records a successful call. Any success while closed or
// half_open resets the consecutive failure count; a half_open success closes
// the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.probing = false
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
}

// RecordFailure records a failed call. Reaching the consecutive failure
// threshold while closed opens the breaker; a half_open probe failure
// reopens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureAt = b.now()
	b.probing = false

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.cfg.FailureThreshold {
			b.open(b.cfg.ResetTimeout)
		}
	case StateHalfOpen:
		b.open(b.cfg.ResetTimeout)
	case StateOpen:
		// Already open; the later deadline wins so a failure can extend
		// the cooldown but never shorten one set from a retry-after hint.
		if until := b.lastFailureAt.Add(b.cfg.ResetTimeout); until.After(b.cooldownUntil) {
			b.cooldownUntil = until
		}
	}
}

// CancelProbe returns an admission obtained from Allow without recording an
// outcome. Used when the caller decided not to touch the network after all
// (stale fallback, local cancellation); a half-open probe slot reopens for
// the next caller.
func (b *Breaker) CancelProbe() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
}

// Trip forces the breaker open for the given cooldown, regardless of the
// failure count. Used when the upstream signals throttling with an explicit
// retry-after hint.
func (b *Breaker) Trip(cooldown time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cooldown <= 0 {
		cooldown = b.cfg.ResetTimeout
	}
	b.lastFailureAt = b.now()
	b.probing = false
	b.open(cooldown)
}

// GetSnapshot returns a read-only view of the breaker state.
func (b *Breaker) GetSnapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		State:        b.state,
		FailureCount: b.failureCount,
	}
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		snap.LastFailureAt = &t
	}
	if b.state == StateOpen {
		t := b.cooldownUntil
		snap.CooldownUntil = &t
	}
	return snap
}

// open moves to the open state with the given cooldown. Caller holds the lock.
func (b *Breaker) open(cooldown time.Duration) {
	b.cooldownUntil = b.now().Add(cooldown)
	if b.state != StateOpen {
		b.transition(StateOpen)
	}
	if b.logger != nil {
		b.logger.WithFields(logrus.Fields{
			"failure_count":  b.failureCount,
			"cooldown_until": b.cooldownUntil.Format(time.RFC3339),
		}).Warn("Circuit breaker opened")
	}
}

// transition updates state and observability. Caller holds the lock.
func (b *Breaker) transition(next State) {
	b.state = next
	monitoring.RecordBreakerTransition(string(next))
	monitoring.UpdateBreakerState(stateGauge(next))
	if b.logger != nil {
		b.logger.WithField("state", string(next)).Info("Circuit breaker state changed")
	}
}

func stateGauge(s State) float64 {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	}
	return -1
}
