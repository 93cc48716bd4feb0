package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestLimiterAdmitsUpToWindowCap(t *testing.T) {
	l := New(Config{
		PerMinute:     3,
		PerHour:       100,
		MaxConcurrent: 10,
		MinuteWindow:  400 * time.Millisecond,
		HourWindow:    10 * time.Second,
	}, testLogger())
	defer l.Stop()

	var mu sync.Mutex
	var dispatched []time.Time

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(context.Background(), 0, func(ctx context.Context) error {
				mu.Lock()
				dispatched = append(dispatched, time.Now())
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, dispatched, 6)
	mu.Lock()
	defer mu.Unlock()
	// Every call beyond the cap must wait for an earlier timestamp to leave
	// the window, so call i and call i-3 are at least a window apart.
	for i := 3; i < len(dispatched); i++ {
		gap := dispatched[i].Sub(dispatched[i-3])
		assert.GreaterOrEqual(t, gap, 300*time.Millisecond,
			"call %d dispatched only %v after call %d", i, gap, i-3)
	}
}

func TestLimiterBoundsConcurrency(t *testing.T) {
	l := New(Config{
		PerMinute:     100,
		PerHour:       1000,
		MaxConcurrent: 2,
		MinuteWindow:  time.Minute,
		HourWindow:    time.Hour,
	}, testLogger())
	defer l.Stop()

	var current, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(context.Background(), 0, func(ctx context.Context) error {
				n := atomic.AddInt64(&current, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt64(&current, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestLimiterPrefersHigherPriority(t *testing.T) {
	l := New(Config{
		PerMinute:     100,
		PerHour:       1000,
		MaxConcurrent: 1,
		MinuteWindow:  time.Minute,
		HourWindow:    time.Hour,
	}, testLogger())
	defer l.Stop()

	gate := make(chan struct{})
	blockerRunning := make(chan struct{})
	var wg sync.WaitGroup

	// Occupy the single slot so later submissions queue up.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = l.Do(context.Background(), 0, func(ctx context.Context) error {
			close(blockerRunning)
			<-gate
			return nil
		})
	}()
	<-blockerRunning

	var mu sync.Mutex
	var order []int
	run := func(priority int) {
		defer wg.Done()
		_ = l.Do(context.Background(), priority, func(ctx context.Context) error {
			mu.Lock()
			order = append(order, priority)
			mu.Unlock()
			return nil
		})
	}

	wg.Add(3)
	go run(0)
	time.Sleep(20 * time.Millisecond)
	go run(10)
	time.Sleep(20 * time.Millisecond)
	go run(5)
	time.Sleep(20 * time.Millisecond)

	close(gate)
	wg.Wait()

	assert.Equal(t, []int{10, 5, 0}, order)
}

func TestLimiterContextCancelWhileQueued(t *testing.T) {
	l := New(Config{
		PerMinute:     100,
		PerHour:       1000,
		MaxConcurrent: 1,
		MinuteWindow:  time.Minute,
		HourWindow:    time.Hour,
	}, testLogger())
	defer l.Stop()

	gate := make(chan struct{})
	blockerRunning := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), 0, func(ctx context.Context) error {
			close(blockerRunning)
			<-gate
			return nil
		})
	}()
	<-blockerRunning

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.Do(ctx, 0, func(ctx context.Context) error { return nil })
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("queued call did not return after cancellation")
	}

	close(gate)
}

func TestLimiterStopReleasesWaiters(t *testing.T) {
	l := New(Config{
		PerMinute:     100,
		PerHour:       1000,
		MaxConcurrent: 1,
		MinuteWindow:  time.Minute,
		HourWindow:    time.Hour,
	}, testLogger())

	gate := make(chan struct{})
	blockerRunning := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), 0, func(ctx context.Context) error {
			close(blockerRunning)
			<-gate
			return nil
		})
	}()
	<-blockerRunning

	errCh := make(chan error, 1)
	go func() {
		errCh <- l.Do(context.Background(), 0, func(ctx context.Context) error { return nil })
	}()

	time.Sleep(20 * time.Millisecond)
	l.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("queued call did not return after Stop")
	}

	close(gate)
}

func TestWaitEstimateGrowsWhenWindowSaturated(t *testing.T) {
	l := New(Config{
		PerMinute:     2,
		PerHour:       100,
		MaxConcurrent: 5,
		MinuteWindow:  10 * time.Second,
		HourWindow:    time.Hour,
	}, testLogger())
	defer l.Stop()

	assert.Zero(t, l.WaitEstimate())

	for i := 0; i < 2; i++ {
		err := l.Do(context.Background(), 0, func(ctx context.Context) error { return nil })
		require.NoError(t, err)
	}

	assert.True(t, l.AtMinuteCap())
	assert.Greater(t, l.WaitEstimate(), time.Duration(0))

	snap := l.GetSnapshot()
	assert.Equal(t, 2, snap.RequestsLastMinute)
	assert.Equal(t, 2, snap.RequestsLastHour)
	assert.Zero(t, snap.InFlight)
}

func TestLimiterSnapshotCountsQueue(t *testing.T) {
	l := New(Config{
		PerMinute:     100,
		PerHour:       1000,
		MaxConcurrent: 1,
		MinuteWindow:  time.Minute,
		HourWindow:    time.Hour,
	}, testLogger())
	defer l.Stop()

	gate := make(chan struct{})
	blockerRunning := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), 0, func(ctx context.Context) error {
			close(blockerRunning)
			<-gate
			return nil
		})
	}()
	<-blockerRunning

	done := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), 0, func(ctx context.Context) error { return nil })
		close(done)
	}()

	assert.Eventually(t, func() bool {
		snap := l.GetSnapshot()
		return snap.InFlight == 1 && snap.Queued == 1
	}, time.Second, 10*time.Millisecond)

	close(gate)
	<-done
}
