/*
Package scrape retrieves per-entity historical prices from the auxiliary
HTML source. Each entity has one history page carrying roughly six months of
daily (timestamp, price, volume) rows; pages are visited one entity at a
time through the shared rate limiter so the scrape traffic and the API
traffic are paced together.
*/
package scrape

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"

	"github.com/tradewatch/price-feed-backend/client"
	"github.com/tradewatch/price-feed-backend/monitoring"
	"github.com/tradewatch/price-feed-backend/ratelimit"
	"github.com/tradewatch/price-feed-backend/types"
)

// HistoryWindow bounds how far back scraped points are kept.
const HistoryWindow = 182 * 24 * time.Hour

// Config holds scraper tuning.
type Config struct {
	// BaseURL is the history page root; the entity id is appended.
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	MaxAttempts uint
	RetryDelay  time.Duration
}

// DefaultConfig returns the scraper defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:     20 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  2 * time.Second,
	}
}

// Scraper fetches and parses entity history pages.
type Scraper struct {
	cfg        Config
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	logger     *logrus.Logger
	now        func() time.Time
}

// New creates a scraper sharing the outbound rate limiter.
func New(cfg Config, limiter *ratelimit.Limiter, logger *logrus.Logger) *Scraper {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	return &Scraper{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: limiter,
		logger:  logger,
		now:     time.Now,
	}
}

// History scrapes the bounded daily history for one entity.
func (s *Scraper) History(ctx context.Context, entityID string) ([]*types.PricePoint, error) {
	var points []*types.PricePoint
	start := time.Now()

	err := s.limiter.Do(ctx, client.PriorityLow, func(ctx context.Context) error {
		return retry.Do(
			func() error {
				var attemptErr error
				points, attemptErr = s.fetchPage(ctx, entityID)
				return attemptErr
			},
			retry.Attempts(s.cfg.MaxAttempts),
			retry.Delay(s.cfg.RetryDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.Context(ctx),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				s.logger.WithFields(logrus.Fields{
					"entity_id": entityID,
					"attempt":   n + 1,
					"error":     err.Error(),
				}).Warn("Retrying history scrape")
			}),
		)
	})

	if err != nil {
		monitoring.RecordScrape("failed", -1)
		return nil, err
	}

	monitoring.RecordScrape("success", len(points))
	s.logger.WithFields(logrus.Fields{
		"entity_id":   entityID,
		"points":      len(points),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Scraped entity history")
	return points, nil
}

// fetchPage performs a single page fetch and parse.
func (s *Scraper) fetchPage(ctx context.Context, entityID string) ([]*types.PricePoint, error) {
	url := fmt.Sprintf("%s/%s", strings.TrimRight(s.cfg.BaseURL, "/"), entityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching history page for entity %s: %w", entityID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history page for entity %s returned %d", entityID, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing history page for entity %s: %w", entityID, err)
	}

	return s.parseDocument(doc, entityID)
}

// parseDocument extracts (timestamp, price, volume) rows from the history
// table. Rows outside the history window or with unparsable cells are
// skipped rather than failing the whole page.
func (s *Scraper) parseDocument(doc *goquery.Document, entityID string) ([]*types.PricePoint, error) {
	cutoff := s.now().Add(-HistoryWindow)
	var points []*types.PricePoint

	doc.Find("table.price-history tbody tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}

		ts, err := parseTimestamp(cells.Eq(0))
		if err != nil || ts.Before(cutoff) {
			return
		}
		price, err := parseNumber(cells.Eq(1).Text())
		if err != nil {
			return
		}
		volume, err := parseNumber(cells.Eq(2).Text())
		if err != nil {
			volume = 0
		}

		points = append(points, &types.PricePoint{
			EntityID:  entityID,
			Timestamp: ts,
			Price:     price,
			Volume:    volume,
		})
	})

	if len(points) == 0 {
		return nil, errors.New("history table empty or missing")
	}
	return points, nil
}

// parseTimestamp reads the row time from the data-timestamp attribute (unix
// seconds), falling back to the cell text as a date.
func parseTimestamp(cell *goquery.Selection) (time.Time, error) {
	if raw, ok := cell.Attr("data-timestamp"); ok {
		secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err == nil {
			return time.Unix(secs, 0), nil
		}
	}
	return time.Parse("2006-01-02", strings.TrimSpace(cell.Text()))
}

// parseNumber reads an integer cell, tolerating thousands separators.
func parseNumber(raw string) (int64, error) {
	cleaned := strings.NewReplacer(",", "", " ", "").Replace(strings.TrimSpace(raw))
	if cleaned == "" || cleaned == "-" {
		return 0, errors.New("empty cell")
	}
	return strconv.ParseInt(cleaned, 10, 64)
}
