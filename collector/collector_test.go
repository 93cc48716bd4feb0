package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/tradewatch/price-feed-backend/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type fakeSource struct {
	snapshots []*types.PriceSnapshot
	err       error

	mu     sync.Mutex
	latest int
	fiveM  int
	oneH   int
}

func (f *fakeSource) Latest(ctx context.Context) ([]*types.PriceSnapshot, error) {
	f.mu.Lock()
	f.latest++
	f.mu.Unlock()
	return f.snapshots, f.err
}

func (f *fakeSource) FiveMinute(ctx context.Context) ([]*types.PriceSnapshot, error) {
	f.mu.Lock()
	f.fiveM++
	f.mu.Unlock()
	return f.snapshots, f.err
}

func (f *fakeSource) OneHour(ctx context.Context) ([]*types.PriceSnapshot, error) {
	f.mu.Lock()
	f.oneH++
	f.mu.Unlock()
	return f.snapshots, f.err
}

func (f *fakeSource) calls() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.fiveM, f.oneH
}

type fakeSink struct {
	mu    sync.Mutex
	saved [][]*types.PriceSnapshot
	err   error
}

func (f *fakeSink) SavePriceSnapshots(ctx context.Context, snapshots []*types.PriceSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, snapshots)
	return nil
}

func (f *fakeSink) batches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func TestPollPersistsSnapshots(t *testing.T) {
	source := &fakeSource{snapshots: []*types.PriceSnapshot{
		{EntityID: "4151", HighPrice: 1200000, LowPrice: 1195000, Interval: "latest"},
	}}
	sink := &fakeSink{}
	c := New(DefaultConfig(), source, sink, testLogger())

	c.Poll(context.Background(), "latest", source.Latest)

	assert.Equal(t, 1, sink.batches())
	assert.Equal(t, "4151", sink.saved[0][0].EntityID)
}

func TestPollSkipsSinkOnFetchError(t *testing.T) {
	source := &fakeSource{err: errors.New("upstream unavailable")}
	sink := &fakeSink{}
	c := New(DefaultConfig(), source, sink, testLogger())

	c.Poll(context.Background(), "latest", source.Latest)

	assert.Zero(t, sink.batches())
}

func TestPollToleratesSinkError(t *testing.T) {
	source := &fakeSource{snapshots: []*types.PriceSnapshot{{EntityID: "4151"}}}
	sink := &fakeSink{err: errors.New("datastore down")}
	c := New(DefaultConfig(), source, sink, testLogger())

	// Must not panic or propagate; the next tick simply retries.
	c.Poll(context.Background(), "latest", source.Latest)
	assert.Zero(t, sink.batches())
}

func TestRunPollsEnabledIntervalsOnly(t *testing.T) {
	source := &fakeSource{snapshots: []*types.PriceSnapshot{{EntityID: "4151"}}}
	sink := &fakeSink{}
	c := New(Config{
		LatestInterval:     10 * time.Millisecond,
		FiveMinuteInterval: 0,
		OneHourInterval:    0,
	}, source, sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		latest, _, _ := source.calls()
		return latest >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}

	_, fiveM, oneH := source.calls()
	assert.Zero(t, fiveM)
	assert.Zero(t, oneH)
}
