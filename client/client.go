/*
Package client implements the resilient HTTP client for the upstream price API.

Every call flows breaker -> rate limiter -> transport with bounded retries.
A 429-class response escalates to the circuit breaker with the upstream's
retry-after hint; while the breaker is open, or admission would exceed the
latency budget, the last good response is served from the stale cache within
its age ceiling.
*/
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	"github.com/sirupsen/logrus"

	"github.com/tradewatch/price-feed-backend/breaker"
	"github.com/tradewatch/price-feed-backend/cache"
	"github.com/tradewatch/price-feed-backend/monitoring"
	"github.com/tradewatch/price-feed-backend/ratelimit"
	"github.com/tradewatch/price-feed-backend/types"
)

// Request priorities for limiter admission. Catalog-wide aggregate pulls run
// above per-entity backfill so the freshest data is never starved by the
// backlog drain.
const (
	PriorityLow    = 0
	PriorityNormal = 5
	PriorityHigh   = 10
)

// Config holds upstream client tuning.
type Config struct {
	BaseURL string
	// UserAgent identifies this collector to the upstream operators, with a
	// contactable address.
	UserAgent string
	Timeout   time.Duration
	// MaxAttempts bounds transport-level retries per call.
	MaxAttempts uint
	RetryDelay  time.Duration
	// DefaultCooldown is the breaker trip duration for a 429 without a
	// retry-after hint.
	DefaultCooldown time.Duration
	// MaxStaleAge is the ceiling for serving stale responses.
	MaxStaleAge time.Duration
	// LatencyBudget is the longest acceptable admission wait before the
	// client prefers stale data over queueing.
	LatencyBudget time.Duration
}

// DefaultConfig returns the upstream client defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		MaxAttempts:     3,
		RetryDelay:      time.Second,
		DefaultCooldown: 5 * time.Minute,
		MaxStaleAge:     time.Hour,
		LatencyBudget:   30 * time.Second,
	}
}

// Client is the rate-limited, circuit-broken upstream price API client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	breaker    *breaker.Breaker
	staleCache *cache.StaleCache
	logger     *logrus.Logger
}

// New creates an upstream client.
func New(cfg Config, limiter *ratelimit.Limiter, brk *breaker.Breaker, staleCache *cache.StaleCache, logger *logrus.Logger) *Client {
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
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = def.DefaultCooldown
	}
	if cfg.MaxStaleAge <= 0 {
		cfg.MaxStaleAge = def.MaxStaleAge
	}
	if cfg.LatencyBudget <= 0 {
		cfg.LatencyBudget = def.LatencyBudget
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter:    limiter,
		breaker:    brk,
		staleCache: staleCache,
		logger:     logger,
	}
}

// latestWire is the latest-prices payload: entity id -> instant buy/sell.
type latestWire struct {
	Data map[string]struct {
		High     int64 `json:"high"`
		HighTime int64 `json:"highTime"`
		Low      int64 `json:"low"`
		LowTime  int64 `json:"lowTime"`
	} `json:"data"`
}

// aggregateWire is the N-minute/N-hour aggregated payload.
type aggregateWire struct {
	Data map[string]struct {
		AvgHighPrice    int64 `json:"avgHighPrice"`
		HighPriceVolume int64 `json:"highPriceVolume"`
		AvgLowPrice     int64 `json:"avgLowPrice"`
		LowPriceVolume  int64 `json:"lowPriceVolume"`
	} `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

// mappingWire is one entity metadata record.
type mappingWire struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Members  bool   `json:"members"`
	BuyLimit int    `json:"limit"`
	HighAlch int64  `json:"highalch"`
	Examine  string `json:"examine"`
}

// timeseriesWire is the per-entity timeseries payload.
type timeseriesWire struct {
	Data []struct {
		Timestamp       int64 `json:"timestamp"`
		AvgHighPrice    int64 `json:"avgHighPrice"`
		AvgLowPrice     int64 `json:"avgLowPrice"`
		HighPriceVolume int64 `json:"highPriceVolume"`
		LowPriceVolume  int64 `json:"lowPriceVolume"`
	} `json:"data"`
}

// Latest fetches the latest instant prices for all entities.
func (c *Client) Latest(ctx context.Context) ([]*types.PriceSnapshot, error) {
	body, err := c.get(ctx, "latest", "/latest", PriorityHigh)
	if err != nil {
		return nil, err
	}

	var wire latestWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decoding latest prices: %w", err)
	}

	now := time.Now()
	snapshots := make([]*types.PriceSnapshot, 0, len(wire.Data))
	for id, entry := range wire.Data {
		snapshots = append(snapshots, &types.PriceSnapshot{
			EntityID:   id,
			HighPrice:  entry.High,
			LowPrice:   entry.Low,
			Interval:   "latest",
			ObservedAt: now,
		})
	}
	return snapshots, nil
}

// FiveMinute fetches the trailing five-minute aggregated prices.
func (c *Client) FiveMinute(ctx context.Context) ([]*types.PriceSnapshot, error) {
	return c.aggregate(ctx, "5m", "/5m")
}

// OneHour fetches the trailing one-hour aggregated prices.
func (c *Client) OneHour(ctx context.Context) ([]*types.PriceSnapshot, error) {
	return c.aggregate(ctx, "1h", "/1h")
}

func (c *Client) aggregate(ctx context.Context, interval, path string) ([]*types.PriceSnapshot, error) {
	body, err := c.get(ctx, interval, path, PriorityHigh)
	if err != nil {
		return nil, err
	}

	var wire aggregateWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decoding %s prices: %w", interval, err)
	}

	observed := time.Now()
	if wire.Timestamp > 0 {
		observed = time.Unix(wire.Timestamp, 0)
	}

	snapshots := make([]*types.PriceSnapshot, 0, len(wire.Data))
	for id, entry := range wire.Data {
		snapshots = append(snapshots, &types.PriceSnapshot{
			EntityID:   id,
			HighPrice:  entry.AvgHighPrice,
			LowPrice:   entry.AvgLowPrice,
			HighVolume: entry.HighPriceVolume,
			LowVolume:  entry.LowPriceVolume,
			Interval:   interval,
			ObservedAt: observed,
		})
	}
	return snapshots, nil
}

// Mapping fetches the entity metadata catalog.
func (c *Client) Mapping(ctx context.Context) ([]*types.EntityMeta, error) {
	body, err := c.get(ctx, "mapping", "/mapping", PriorityNormal)
	if err != nil {
		return nil, err
	}

	var wire []mappingWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decoding entity mapping: %w", err)
	}

	metas := make([]*types.EntityMeta, 0, len(wire))
	for _, entry := range wire {
		metas = append(metas, &types.EntityMeta{
			EntityID: strconv.FormatInt(entry.ID, 10),
			Name:     entry.Name,
			Members:  entry.Members,
			BuyLimit: entry.BuyLimit,
			HighAlch: entry.HighAlch,
			Examine:  entry.Examine,
		})
	}
	return metas, nil
}

// Timeseries fetches per-entity history at the given granularity (for
// example "5m", "1h", "24h").
func (c *Client) Timeseries(ctx context.Context, entityID, step string) ([]*types.PricePoint, error) {
	path := fmt.Sprintf("/timeseries?timestep=%s&id=%s", step, entityID)
	body, err := c.get(ctx, "timeseries", path, PriorityLow)
	if err != nil {
		return nil, err
	}

	var wire timeseriesWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decoding timeseries for entity %s: %w", entityID, err)
	}

	points := make([]*types.PricePoint, 0, len(wire.Data))
	for _, entry := range wire.Data {
		price := entry.AvgHighPrice
		if price == 0 {
			price = entry.AvgLowPrice
		}
		points = append(points, &types.PricePoint{
			EntityID:  entityID,
			Timestamp: time.Unix(entry.Timestamp, 0),
			Price:     price,
			Volume:    entry.HighPriceVolume + entry.LowPriceVolume,
		})
	}
	return points, nil
}

// Health classifies the outbound pipeline for dashboards and health checks.
func (c *Client) Health() types.LimiterHealth {
	limiterSnap := c.limiter.GetSnapshot()
	breakerSnap := c.breaker.GetSnapshot()

	health := types.LimiterHealth{
		RequestsLastMin:  limiterSnap.RequestsLastMinute,
		RequestsLastHour: limiterSnap.RequestsLastHour,
		InFlight:         limiterSnap.InFlight,
		Queued:           limiterSnap.Queued,
		BreakerState:     string(breakerSnap.State),
	}

	switch {
	case breakerSnap.State == breaker.StateOpen:
		health.Status = types.LimiterCooldown
	case limiterSnap.Queued > limiterSnap.RequestsLastMinute && limiterSnap.Queued > 10:
		health.Status = types.LimiterOverloaded
	case c.limiter.AtMinuteCap():
		health.Status = types.LimiterThrottled
	default:
		health.Status = types.LimiterHealthy
	}
	return health
}

// get runs one upstream GET through the full resilience chain and returns
// the response body.
func (c *Client) get(ctx context.Context, endpoint, path string, priority int) ([]byte, error) {
	if err := c.breaker.Allow(); err != nil {
		monitoring.RecordUpstreamRequest(endpoint, "breaker_open", 0)
		return c.fallback(endpoint, path, ErrBreakerOpen)
	}

	if wait := c.limiter.WaitEstimate(); wait > c.cfg.LatencyBudget {
		c.logger.WithFields(logrus.Fields{
			"endpoint":       endpoint,
			"admission_wait": wait.String(),
			"latency_budget": c.cfg.LatencyBudget.String(),
		}).Info("Admission wait exceeds latency budget, trying stale fallback")
		if body, err := c.fallback(endpoint, path, nil); err == nil {
			// A half-open probe slot taken by Allow has to be returned unused.
			c.breaker.CancelProbe()
			return body, nil
		}
	}

	var body []byte
	start := time.Now()
	err := c.limiter.Do(ctx, priority, func(ctx context.Context) error {
		return retry.Do(
			func() error {
				var attemptErr error
				body, attemptErr = c.attempt(ctx, endpoint, path)
				return attemptErr
			},
			retry.Attempts(c.cfg.MaxAttempts),
			retry.Delay(c.cfg.RetryDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.Context(ctx),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				// A 429 is an escalation, not a transport hiccup, and
				// other 4xx responses will not change on a retry.
				if errors.Is(err, ErrRateLimited) {
					return false
				}
				var upstreamErr *UpstreamError
				if errors.As(err, &upstreamErr) && upstreamErr.StatusCode > 0 {
					return upstreamErr.StatusCode >= http.StatusInternalServerError
				}
				return true
			}),
			retry.OnRetry(func(n uint, err error) {
				c.logger.WithFields(logrus.Fields{
					"endpoint": endpoint,
					"attempt":  n + 1,
					"error":    err.Error(),
				}).Warn("Retrying upstream request")
			}),
		)
	})
	duration := time.Since(start).Seconds()

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Local cancellation says nothing about upstream health.
			c.breaker.CancelProbe()
			monitoring.RecordUpstreamRequest(endpoint, "canceled", duration)
			return nil, err
		}
		if errors.Is(err, ErrRateLimited) {
			// Trip already opened the breaker with the upstream's
			// retry-after hint; recording the failure again would replace
			// that cooldown with the default reset timeout.
			monitoring.RecordUpstreamRequest(endpoint, "throttled", duration)
			return c.fallback(endpoint, path, err)
		}
		c.breaker.RecordFailure()
		monitoring.RecordUpstreamRequest(endpoint, "failed", duration)
		return nil, err
	}

	c.breaker.RecordSuccess()
	monitoring.RecordUpstreamRequest(endpoint, "success", duration)
	c.staleCache.StoreGood(cacheKey(endpoint, path), body)
	return body, nil
}

// attempt performs a single HTTP exchange.
func (c *Client) attempt(ctx context.Context, endpoint, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		cooldown := c.retryAfter(resp)
		c.breaker.Trip(cooldown)
		c.logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"cooldown": cooldown.String(),
		}).Warn("Upstream throttling, circuit breaker tripped")
		return nil, fmt.Errorf("%w: %s", ErrRateLimited, endpoint)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Endpoint: endpoint, Err: err}
	}
	return body, nil
}

// retryAfter extracts the Retry-After seconds hint, falling back to the
// default cooldown.
func (c *Client) retryAfter(resp *http.Response) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return c.cfg.DefaultCooldown
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return c.cfg.DefaultCooldown
	}
	return time.Duration(seconds) * time.Second
}

// fallback serves the last good body within the staleness ceiling. cause is
// the error to surface when no stale data is usable (nil maps to
// ErrServiceUnavailable).
func (c *Client) fallback(endpoint, path string, cause error) ([]byte, error) {
	value, found := c.staleCache.GetStale(cacheKey(endpoint, path), c.cfg.MaxStaleAge)
	if !found {
		if cause == nil {
			cause = ErrServiceUnavailable
		}
		return nil, fmt.Errorf("%w (%v)", ErrServiceUnavailable, cause)
	}

	body, ok := value.([]byte)
	if !ok {
		return nil, ErrServiceUnavailable
	}

	monitoring.RecordUpstreamRequest(endpoint, "stale", 0)
	c.logger.WithField("endpoint", endpoint).Info("Served stale upstream response")
	return body, nil
}

// cacheKey keys stale entries by endpoint and full path, so parameterized
// paths like timeseries only ever fall back to their own last good pull.
func cacheKey(endpoint, path string) string {
	return "upstream:" + endpoint + ":" + path
}
