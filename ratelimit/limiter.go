/*
Package ratelimit implements the sliding-window rate limiter that paces all
outbound requests to the upstream price API.

Callers submit work with a priority; a single sequential dispatch loop owns
the trailing-window counters and the admission queue, so global request
pacing stays serialized no matter how many goroutines submit concurrently.
A request is admitted only when the in-flight cap, the per-minute and
per-hour windows, and the respectful inter-request gap all allow it;
otherwise it waits in a priority heap (priority desc, submission order asc).
*/
package ratelimit

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	uberratelimit "go.uber.org/ratelimit"

	"github.com/tradewatch/price-feed-backend/monitoring"
)

// ErrStopped is returned to callers still waiting when the limiter shuts down.
var ErrStopped = errors.New("rate limiter stopped")

// Config holds the limiter caps and windows. Windows are explicit so the
// rate-cap properties can be tested with compressed durations.
type Config struct {
	PerMinute     int
	PerHour       int
	MaxConcurrent int
	MinuteWindow  time.Duration
	HourWindow    time.Duration
	// MinGap is the respectful delay between consecutive dispatches. Zero
	// disables pacing.
	MinGap time.Duration
}

// DefaultConfig returns conservative defaults for a shared public API.
func DefaultConfig() Config {
	return Config{
		PerMinute:     30,
		PerHour:       1000,
		MaxConcurrent: 5,
		MinuteWindow:  time.Minute,
		HourWindow:    time.Hour,
		MinGap:        500 * time.Millisecond,
	}
}

// Snapshot is a read-only view of the limiter for health reporting.
type Snapshot struct {
	RequestsLastMinute int `json:"requests_last_minute"`
	RequestsLastHour   int `json:"requests_last_hour"`
	InFlight           int `json:"in_flight"`
	Queued             int `json:"queued"`
}

// pending is one queued submission.
type pending struct {
	priority int
	seq      uint64
	ready    chan struct{}
	admitted bool
	canceled bool
	index    int
}

// pendingHeap orders by priority desc, then submission order asc.
type pendingHeap []*pending

func (h pendingHeap) Len() int { return len(h) }

func (h pendingHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h pendingHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *pendingHeap) Push(x interface{}) {
	p := x.(*pending)
	p.index = len(*h)
	*h = append(*h, p)
}

func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return p
}

// Limiter is the sliding-window rate limiter.
type Limiter struct {
	cfg    Config
	logger *logrus.Logger

	mu         sync.Mutex
	timestamps []time.Time // dispatch times within the hour window
	inFlight   int
	queue      pendingHeap
	seq        uint64

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	pacer uberratelimit.Limiter
	now   func() time.Time
}

// New creates a limiter and starts its dispatch loop.
func New(cfg Config, logger *logrus.Logger) *Limiter {
	def := DefaultConfig()
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = def.PerMinute
	}
	if cfg.PerHour <= 0 {
		cfg.PerHour = def.PerHour
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MinuteWindow <= 0 {
		cfg.MinuteWindow = def.MinuteWindow
	}
	if cfg.HourWindow <= 0 {
		cfg.HourWindow = def.HourWindow
	}

	l := &Limiter{
		cfg:    cfg,
		logger: logger,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		now:    time.Now,
	}

	if cfg.MinGap > 0 {
		l.pacer = uberratelimit.New(1, uberratelimit.Per(cfg.MinGap), uberratelimit.WithoutSlack)
	} else {
		l.pacer = uberratelimit.NewUnlimited()
	}

	go l.dispatchLoop()

	return l
}

// Do submits call at the given priority and blocks until the call has been
// admitted and executed, the context is cancelled, or the limiter stops.
// Higher priorities are admitted first; ties follow submission order.
func (l *Limiter) Do(ctx context.Context, priority int, call func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := &pending{
		priority: priority,
		ready:    make(chan struct{}),
	}

	l.mu.Lock()
	l.seq++
	p.seq = l.seq
	heap.Push(&l.queue, p)
	monitoring.UpdateLimiterQueueDepth(l.queue.Len())
	l.mu.Unlock()
	l.signal()

	select {
	case <-p.ready:
		err := call(ctx)
		l.release()
		return err
	case <-ctx.Done():
		l.abandon(p)
		return ctx.Err()
	case <-l.stop:
		l.abandon(p)
		return ErrStopped
	}
}

// WaitEstimate returns how long a newly submitted request would wait for
// window admission right now, ignoring queue position. Callers use it to
// decide whether to fall back to stale data instead of queueing.
func (l *Limiter) WaitEstimate() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	return l.admissionWait(now)
}

// GetSnapshot returns the current window counts, in-flight count, and queue
// depth.
func (l *Limiter) GetSnapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	return Snapshot{
		RequestsLastMinute: l.countSince(now.Add(-l.cfg.MinuteWindow)),
		RequestsLastHour:   len(l.timestamps),
		InFlight:           l.inFlight,
		Queued:             l.queue.Len(),
	}
}

// AtMinuteCap reports whether the trailing minute window is saturated.
func (l *Limiter) AtMinuteCap() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	return l.countSince(now.Add(-l.cfg.MinuteWindow)) >= l.cfg.PerMinute
}

// Stop halts the dispatch loop. Queued submissions receive ErrStopped;
// requests already dispatched run to completion.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

// dispatchLoop is the single owner of admission decisions.
func (l *Limiter) dispatchLoop() {
	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		if l.queue.Len() == 0 || l.inFlight >= l.cfg.MaxConcurrent {
			l.mu.Unlock()
			select {
			case <-l.wake:
			case <-l.stop:
				return
			}
			continue
		}

		if wait := l.admissionWait(now); wait > 0 {
			l.mu.Unlock()
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-l.stop:
				timer.Stop()
				return
			}
			continue
		}

		p := heap.Pop(&l.queue).(*pending)
		monitoring.UpdateLimiterQueueDepth(l.queue.Len())
		if p.canceled {
			l.mu.Unlock()
			continue
		}
		l.inFlight++
		monitoring.UpdateLimiterInFlight(l.inFlight)
		l.mu.Unlock()

		// Respectful gap between dispatches, enforced outside the lock so
		// submitters are never blocked on pacing.
		l.pacer.Take()

		l.mu.Lock()
		if p.canceled {
			// Caller gave up between pop and dispatch; return the slot
			// without burning a window timestamp.
			l.inFlight--
			monitoring.UpdateLimiterInFlight(l.inFlight)
			l.mu.Unlock()
			continue
		}
		now = l.now()
		l.timestamps = append(l.timestamps, now)
		l.prune(now)
		minuteCount := l.countSince(now.Add(-l.cfg.MinuteWindow))
		hourCount := len(l.timestamps)
		p.admitted = true
		l.mu.Unlock()

		monitoring.UpdateLimiterWindows(minuteCount, hourCount)
		if l.logger != nil {
			l.logger.WithFields(logrus.Fields{
				"priority":     p.priority,
				"last_minute":  minuteCount,
				"last_hour":    hourCount,
				"in_flight":    l.InFlightCount(),
				"queued_after": l.QueueLen(),
			}).Debug("Dispatched upstream request")
		}

		close(p.ready)
	}
}

// admissionWait returns how long until the trailing windows admit another
// dispatch: the larger of the time until the oldest minute-window timestamp
// exits and the time until the oldest hour-window timestamp exits. Zero means
// both windows have room. Caller holds the lock with timestamps pruned.
func (l *Limiter) admissionWait(now time.Time) time.Duration {
	var wait time.Duration

	minuteFloor := now.Add(-l.cfg.MinuteWindow)
	if l.countSince(minuteFloor) >= l.cfg.PerMinute {
		oldest := l.oldestSince(minuteFloor)
		if w := oldest.Add(l.cfg.MinuteWindow).Sub(now); w > wait {
			wait = w
		}
	}

	if len(l.timestamps) >= l.cfg.PerHour {
		oldest := l.timestamps[0]
		if w := oldest.Add(l.cfg.HourWindow).Sub(now); w > wait {
			wait = w
		}
	}

	return wait
}

// prune drops timestamps older than the hour window. Caller holds the lock.
func (l *Limiter) prune(now time.Time) {
	floor := now.Add(-l.cfg.HourWindow)
	i := 0
	for i < len(l.timestamps) && !l.timestamps[i].After(floor) {
		i++
	}
	if i > 0 {
		l.timestamps = l.timestamps[i:]
	}
}

// countSince counts timestamps after floor. Caller holds the lock.
func (l *Limiter) countSince(floor time.Time) int {
	count := 0
	for i := len(l.timestamps) - 1; i >= 0; i-- {
		if !l.timestamps[i].After(floor) {
			break
		}
		count++
	}
	return count
}

// oldestSince returns the oldest timestamp after floor. Caller holds the
// lock and guarantees at least one such timestamp exists.
func (l *Limiter) oldestSince(floor time.Time) time.Time {
	for _, ts := range l.timestamps {
		if ts.After(floor) {
			return ts
		}
	}
	return l.timestamps[len(l.timestamps)-1]
}

// release returns an in-flight slot and nudges the dispatch loop.
func (l *Limiter) release() {
	l.mu.Lock()
	l.inFlight--
	monitoring.UpdateLimiterInFlight(l.inFlight)
	l.mu.Unlock()
	l.signal()
}

// abandon handles a caller leaving before its turn. If the request was
// admitted in the same instant, the slot still has to be returned.
func (l *Limiter) abandon(p *pending) {
	l.mu.Lock()
	if p.admitted {
		l.mu.Unlock()
		l.release()
		return
	}
	p.canceled = true
	l.mu.Unlock()
}

// signal nudges the dispatch loop without blocking.
func (l *Limiter) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// InFlightCount returns the number of requests currently in flight.
func (l *Limiter) InFlightCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight
}

// QueueLen returns the number of submissions waiting for admission.
func (l *Limiter) QueueLen() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queue.Len()
}
