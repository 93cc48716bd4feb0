package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradewatch/price-feed-backend/ratelimit"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestScraper(t *testing.T, baseURL string) *Scraper {
	t.Helper()
	logger := testLogger()
	limiter := ratelimit.New(ratelimit.Config{
		PerMinute:     1000,
		PerHour:       10000,
		MaxConcurrent: 10,
		MinuteWindow:  time.Minute,
		HourWindow:    time.Hour,
	}, logger)
	t.Cleanup(limiter.Stop)

	return New(Config{
		BaseURL:     baseURL,
		UserAgent:   "pricefeed-tests/1.0 (tests@tradewatch.example)",
		Timeout:     5 * time.Second,
		MaxAttempts: 2,
		RetryDelay:  time.Millisecond,
	}, limiter, logger)
}

func historyPage(rows string) string {
	return fmt.Sprintf(`<html><body>
<table class="price-history">
<thead><tr><th>Date</th><th>Price</th><th>Volume</th></tr></thead>
<tbody>%s</tbody>
</table>
</body></html>`, rows)
}

func TestHistoryParsesTableRows(t *testing.T) {
	recent := time.Now().Add(-24 * time.Hour).Unix()
	older := time.Now().Add(-48 * time.Hour).Unix()
	page := historyPage(fmt.Sprintf(`
<tr><td data-timestamp="%d">recent</td><td>1,200,000</td><td>3,417</td></tr>
<tr><td data-timestamp="%d">older</td><td>1,195,500</td><td>2,901</td></tr>`, recent, older))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/4151", r.URL.Path)
		assert.Contains(t, r.Header.Get("User-Agent"), "@")
		w.Write([]byte(page))
	}))
	defer server.Close()

	s := newTestScraper(t, server.URL)
	points, err := s.History(context.Background(), "4151")
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, "4151", points[0].EntityID)
	assert.Equal(t, int64(1200000), points[0].Price)
	assert.Equal(t, int64(3417), points[0].Volume)
	assert.Equal(t, time.Unix(recent, 0), points[0].Timestamp)
}

func TestHistorySkipsRowsOutsideWindow(t *testing.T) {
	recent := time.Now().Add(-24 * time.Hour).Unix()
	ancient := time.Now().Add(-200 * 24 * time.Hour).Unix()
	page := historyPage(fmt.Sprintf(`
<tr><td data-timestamp="%d">recent</td><td>100</td><td>5</td></tr>
<tr><td data-timestamp="%d">ancient</td><td>90</td><td>5</td></tr>`, recent, ancient))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer server.Close()

	s := newTestScraper(t, server.URL)
	points, err := s.History(context.Background(), "4151")
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestHistorySkipsMalformedRows(t *testing.T) {
	recent := time.Now().Add(-24 * time.Hour).Unix()
	page := historyPage(fmt.Sprintf(`
<tr><td data-timestamp="%d">good</td><td>100</td><td>5</td></tr>
<tr><td data-timestamp="%d">bad price</td><td>n/a</td><td>5</td></tr>
<tr><td>not a date</td><td>100</td><td>5</td></tr>
<tr><td data-timestamp="%d">missing volume</td><td>250</td><td>-</td></tr>`, recent, recent, recent))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer server.Close()

	s := newTestScraper(t, server.URL)
	points, err := s.History(context.Background(), "4151")
	require.NoError(t, err)
	require.Len(t, points, 2)

	// Unparsable volume degrades to zero rather than dropping the row.
	assert.Equal(t, int64(250), points[1].Price)
	assert.Zero(t, points[1].Volume)
}

func TestHistoryParsesDateTextFallback(t *testing.T) {
	date := time.Now().Add(-24 * time.Hour).Format("2006-01-02")
	page := historyPage(fmt.Sprintf(`<tr><td>%s</td><td>777</td><td>12</td></tr>`, date))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer server.Close()

	s := newTestScraper(t, server.URL)
	points, err := s.History(context.Background(), "4151")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, int64(777), points[0].Price)
}

func TestHistoryFailsOnEmptyTable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>No such item.</p></body></html>`))
	}))
	defer server.Close()

	s := newTestScraper(t, server.URL)
	_, err := s.History(context.Background(), "999999")
	assert.Error(t, err)
}

func TestHistoryRetriesTransientErrors(t *testing.T) {
	recent := time.Now().Add(-24 * time.Hour).Unix()
	page := historyPage(fmt.Sprintf(`<tr><td data-timestamp="%d">d</td><td>100</td><td>5</td></tr>`, recent))

	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(page))
	}))
	defer server.Close()

	s := newTestScraper(t, server.URL)
	points, err := s.History(context.Background(), "4151")
	require.NoError(t, err)
	assert.Len(t, points, 1)
	assert.Equal(t, int64(2), requests.Load())
}
