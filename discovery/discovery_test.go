package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewatch/price-feed-backend/client"
	"github.com/tradewatch/price-feed-backend/queue"
	"github.com/tradewatch/price-feed-backend/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type fakeCatalog struct {
	metas []*types.EntityMeta
	err   error
	calls int
}

func (f *fakeCatalog) Mapping(ctx context.Context) ([]*types.EntityMeta, error) {
	f.calls++
	return f.metas, f.err
}

type fakeMetaSink struct {
	saved []*types.EntityMeta
	err   error
}

func (f *fakeMetaSink) SaveEntityMeta(ctx context.Context, metas []*types.EntityMeta) error {
	f.saved = append(f.saved, metas...)
	return f.err
}

func newTestDiscovery(catalog *fakeCatalog, sink *fakeMetaSink, feedURL string) (*Discovery, *queue.MemoryStore) {
	store := queue.NewMemoryStore(queue.DefaultConfig(), testLogger())
	d := New(Config{
		NewsFeedURL:   feedURL,
		BoostPriority: client.PriorityHigh,
		MinNameLength: 5,
	}, catalog, store, sink, testLogger())
	return d, store
}

func TestSyncCatalogEnqueuesAndPersistsMetadata(t *testing.T) {
	catalog := &fakeCatalog{metas: []*types.EntityMeta{
		{EntityID: "4151", Name: "Abyssal whip", BuyLimit: 70},
		{EntityID: "11802", Name: "Armadyl godsword", BuyLimit: 8},
	}}
	sink := &fakeMetaSink{}
	d, store := newTestDiscovery(catalog, sink, "")

	require.NoError(t, d.SyncCatalog(context.Background()))

	assert.Len(t, sink.saved, 2)
	for _, id := range []string{"4151", "11802"} {
		item, err := store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusPending, item.Status)
		assert.Equal(t, client.PriorityNormal, item.Priority)
	}
}

func TestSyncCatalogIsIdempotent(t *testing.T) {
	catalog := &fakeCatalog{metas: []*types.EntityMeta{
		{EntityID: "4151", Name: "Abyssal whip"},
	}}
	d, store := newTestDiscovery(catalog, &fakeMetaSink{}, "")

	require.NoError(t, d.SyncCatalog(context.Background()))
	require.NoError(t, d.SyncCatalog(context.Background()))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestSyncCatalogPropagatesCatalogError(t *testing.T) {
	catalog := &fakeCatalog{err: errors.New("mapping unavailable")}
	d, _ := newTestDiscovery(catalog, &fakeMetaSink{}, "")

	assert.Error(t, d.SyncCatalog(context.Background()))
}

func TestSyncCatalogToleratesSinkFailure(t *testing.T) {
	catalog := &fakeCatalog{metas: []*types.EntityMeta{
		{EntityID: "4151", Name: "Abyssal whip"},
	}}
	sink := &fakeMetaSink{err: errors.New("datastore down")}
	d, store := newTestDiscovery(catalog, sink, "")

	require.NoError(t, d.SyncCatalog(context.Background()))

	_, err := store.Get(context.Background(), "4151")
	assert.NoError(t, err)
}

func newsFeed(items string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
<title>Vendor Updates</title>
<link>https://news.example/updates</link>
<description>update feed</description>
%s
</channel></rss>`, items)
}

func newsItem(guid, title string) string {
	return fmt.Sprintf(`<item><guid>%s</guid><title>%s</title><link>https://news.example/%s</link><description></description></item>`, guid, title, guid)
}

func TestPollNewsBoostsNamedEntities(t *testing.T) {
	feed := newsFeed(newsItem("post-1", "Balance changes for the Abyssal whip"))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(feed))
	}))
	defer server.Close()

	catalog := &fakeCatalog{metas: []*types.EntityMeta{
		{EntityID: "4151", Name: "Abyssal whip"},
		{EntityID: "11802", Name: "Armadyl godsword"},
	}}
	d, store := newTestDiscovery(catalog, &fakeMetaSink{}, server.URL)
	require.NoError(t, d.SyncCatalog(context.Background()))

	require.NoError(t, d.PollNews(context.Background()))

	boosted, err := store.Get(context.Background(), "4151")
	require.NoError(t, err)
	assert.Equal(t, client.PriorityHigh, boosted.Priority)

	untouched, err := store.Get(context.Background(), "11802")
	require.NoError(t, err)
	assert.Equal(t, client.PriorityNormal, untouched.Priority)
}

type countingStore struct {
	queue.Store
	boosts int
}

func (c *countingStore) UpdatePriority(ctx context.Context, entityID string, priority int) error {
	c.boosts++
	return c.Store.UpdatePriority(ctx, entityID, priority)
}

func TestPollNewsSkipsSeenItems(t *testing.T) {
	feed := newsFeed(newsItem("post-1", "Abyssal whip update"))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed))
	}))
	defer server.Close()

	catalog := &fakeCatalog{metas: []*types.EntityMeta{
		{EntityID: "4151", Name: "Abyssal whip"},
	}}
	d, _ := newTestDiscovery(catalog, &fakeMetaSink{}, server.URL)
	counting := &countingStore{Store: d.store}
	d.store = counting
	require.NoError(t, d.SyncCatalog(context.Background()))

	require.NoError(t, d.PollNews(context.Background()))
	require.NoError(t, d.PollNews(context.Background()))

	assert.Equal(t, 1, counting.boosts)
}

func TestPollNewsIgnoresShortNames(t *testing.T) {
	feed := newsFeed(newsItem("post-2", "A bolt of news about everything"))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed))
	}))
	defer server.Close()

	catalog := &fakeCatalog{metas: []*types.EntityMeta{
		{EntityID: "9140", Name: "Bolt"},
	}}
	d, store := newTestDiscovery(catalog, &fakeMetaSink{}, server.URL)
	require.NoError(t, d.SyncCatalog(context.Background()))

	require.NoError(t, d.PollNews(context.Background()))

	item, err := store.Get(context.Background(), "9140")
	require.NoError(t, err)
	assert.Equal(t, client.PriorityNormal, item.Priority)
}

func TestPollNewsMatchingIsCaseInsensitive(t *testing.T) {
	feed := newsFeed(newsItem("post-3", "ABYSSAL WHIP buffed this week"))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(feed))
	}))
	defer server.Close()

	catalog := &fakeCatalog{metas: []*types.EntityMeta{
		{EntityID: "4151", Name: "Abyssal whip"},
	}}
	d, store := newTestDiscovery(catalog, &fakeMetaSink{}, server.URL)
	require.NoError(t, d.SyncCatalog(context.Background()))

	require.NoError(t, d.PollNews(context.Background()))

	item, err := store.Get(context.Background(), "4151")
	require.NoError(t, err)
	assert.Equal(t, client.PriorityHigh, item.Priority)
}

func TestRunStopsOnStop(t *testing.T) {
	catalog := &fakeCatalog{}
	d, _ := newTestDiscovery(catalog, &fakeMetaSink{}, "")
	d.cfg.SyncInterval = time.Hour

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return catalog.calls >= 1 }, time.Second, 10*time.Millisecond)
	d.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
