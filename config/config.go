/*
Package config provides configuration management for the price feed backend.

This package separates configuration concerns from business logic and provides
a centralized way to manage application configuration including the upstream
price API, outbound pacing, the durable work queue, and service dependencies.
*/
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/sirupsen/logrus"

	"github.com/tradewatch/price-feed-backend/breaker"
	"github.com/tradewatch/price-feed-backend/cache"
	"github.com/tradewatch/price-feed-backend/client"
	"github.com/tradewatch/price-feed-backend/collector"
	"github.com/tradewatch/price-feed-backend/container"
	"github.com/tradewatch/price-feed-backend/cooldown"
	"github.com/tradewatch/price-feed-backend/discovery"
	"github.com/tradewatch/price-feed-backend/handlers"
	"github.com/tradewatch/price-feed-backend/middleware"
	"github.com/tradewatch/price-feed-backend/processor"
	"github.com/tradewatch/price-feed-backend/queue"
	"github.com/tradewatch/price-feed-backend/ratelimit"
	"github.com/tradewatch/price-feed-backend/scrape"
	"github.com/tradewatch/price-feed-backend/utils"
)

// Config holds all application configuration
type Config struct {
	ProjectID      string
	LogLevel       string
	ServerPort     string
	JaegerEndpoint string

	// Upstream price API
	UpstreamBaseURL   string
	ScrapeBaseURL     string
	UserAgent         string
	UpstreamTimeout   time.Duration
	UpstreamAttempts  int
	UpstreamRetryWait time.Duration
	DefaultCooldown   time.Duration
	MaxStaleAge       time.Duration
	LatencyBudget     time.Duration

	// Outbound rate limiting
	OutboundPerMinute     int
	OutboundPerHour       int
	OutboundMaxConcurrent int
	OutboundMinGap        time.Duration

	// Circuit breaker
	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration

	// Per-entity cooldown
	EntityCooldown time.Duration

	// Work queue
	QueueMaxRetries   int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	BackoffMax        time.Duration

	// Queue processor
	ProcessorBatchSize      int
	ProcessorMaxConcurrency int
	ProcessorCycleDelay     time.Duration

	// Discovery
	CatalogSyncInterval time.Duration
	NewsFeedURL         string
	NewsPollInterval    time.Duration

	// Aggregate collector
	LatestPollInterval     time.Duration
	FiveMinutePollInterval time.Duration
	OneHourPollInterval    time.Duration

	// Retention
	CompletedRetention  time.Duration
	RetentionSweepEvery time.Duration

	// Inbound rate limiting
	RateLimitRequestsPerMinute float64
	RateLimitBurst             int
	RateLimitCleanupInterval   time.Duration
	ClientCleanupInterval      time.Duration

	// Enhanced CORS configuration
	CORSConfig CORSConfig
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	// Environment-specific settings
	Environment string
	// Allowed origins based on environment
	DevelopmentOrigins []string
	StagingOrigins     []string
	ProductionOrigins  []string
	// Additional CORS settings
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
	// Dynamic origin validation
	AllowSubdomains bool
	AllowedDomains  []string
}

// Services holds all service dependencies
type Services struct {
	Container *container.Container
	Logger    *logrus.Logger
}

// AppConfig holds both configuration and services
type AppConfig struct {
	Config   *Config
	Services *Services
}

// NewConfig creates a new configuration instance
func NewConfig() *Config {
	environment := getEnv("ENVIRONMENT", "development")

	return &Config{
		ProjectID:      getEnv("PROJECT_ID", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", ""),

		// Upstream price API
		UpstreamBaseURL:   getEnv("UPSTREAM_BASE_URL", "https://prices.runescape.wiki/api/v1/osrs"),
		ScrapeBaseURL:     getEnv("SCRAPE_BASE_URL", "https://secure.runescape.com/m=itemdb_oldschool/viewitem"),
		UserAgent:         getEnv("USER_AGENT", "tradewatch-price-feed/1.0 (ops@tradewatch.example)"),
		UpstreamTimeout:   getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		UpstreamAttempts:  getEnvInt("UPSTREAM_ATTEMPTS", 3),
		UpstreamRetryWait: getEnvDuration("UPSTREAM_RETRY_WAIT", 1*time.Second),
		DefaultCooldown:   getEnvDuration("UPSTREAM_DEFAULT_COOLDOWN", 5*time.Minute),
		MaxStaleAge:       getEnvDuration("MAX_STALE_AGE", 1*time.Hour),
		LatencyBudget:     getEnvDuration("LATENCY_BUDGET", 30*time.Second),

		// Outbound rate limiting (30 requests per minute, 1000 per hour)
		OutboundPerMinute:     getEnvInt("OUTBOUND_PER_MINUTE", 30),
		OutboundPerHour:       getEnvInt("OUTBOUND_PER_HOUR", 1000),
		OutboundMaxConcurrent: getEnvInt("OUTBOUND_MAX_CONCURRENT", 5),
		OutboundMinGap:        getEnvDuration("OUTBOUND_MIN_GAP", 500*time.Millisecond),

		// Circuit breaker (5 consecutive failures, 5 minute reset)
		BreakerFailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerResetTimeout:     getEnvDuration("BREAKER_RESET_TIMEOUT", 5*time.Minute),

		// Per-entity cooldown
		EntityCooldown: getEnvDuration("ENTITY_COOLDOWN", 6*time.Hour),

		// Work queue (5 retries, 30s base doubling up to 30m)
		QueueMaxRetries:   getEnvInt("QUEUE_MAX_RETRIES", 5),
		BackoffBase:       getEnvDuration("BACKOFF_BASE", 30*time.Second),
		BackoffMultiplier: getEnvFloat("BACKOFF_MULTIPLIER", 2.0),
		BackoffMax:        getEnvDuration("BACKOFF_MAX", 30*time.Minute),

		// Queue processor
		ProcessorBatchSize:      getEnvInt("PROCESSOR_BATCH_SIZE", 10),
		ProcessorMaxConcurrency: getEnvInt("PROCESSOR_MAX_CONCURRENCY", 3),
		ProcessorCycleDelay:     getEnvDuration("PROCESSOR_CYCLE_DELAY", 15*time.Second),

		// Discovery
		CatalogSyncInterval: getEnvDuration("CATALOG_SYNC_INTERVAL", 6*time.Hour),
		NewsFeedURL:         getEnv("NEWS_FEED_URL", ""),
		NewsPollInterval:    getEnvDuration("NEWS_POLL_INTERVAL", 30*time.Minute),

		// Aggregate collector
		LatestPollInterval:     getEnvDuration("LATEST_POLL_INTERVAL", 1*time.Minute),
		FiveMinutePollInterval: getEnvDuration("FIVE_MINUTE_POLL_INTERVAL", 5*time.Minute),
		OneHourPollInterval:    getEnvDuration("ONE_HOUR_POLL_INTERVAL", 1*time.Hour),

		// Retention
		CompletedRetention:  getEnvDuration("COMPLETED_RETENTION", 24*time.Hour),
		RetentionSweepEvery: getEnvDuration("RETENTION_SWEEP_EVERY", 1*time.Hour),

		// Inbound rate limiting defaults (60 requests per minute, burst of 10)
		RateLimitRequestsPerMinute: getEnvFloat("RATE_LIMIT_RPM", 60.0),
		RateLimitBurst:             getEnvInt("RATE_LIMIT_BURST", 10),
		RateLimitCleanupInterval:   getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		ClientCleanupInterval:      getEnvDuration("CLIENT_CLEANUP_INTERVAL", 1*time.Minute),

		// Enhanced CORS configuration
		CORSConfig: CORSConfig{
			Environment: environment,
			DevelopmentOrigins: getEnvSlice("DEV_CORS_ORIGINS", []string{
				"http://localhost:3000",
				"http://localhost:3001",
				"http://127.0.0.1:3000",
				"http://127.0.0.1:3001",
				"http://localhost:8080",
			}),
			StagingOrigins: getEnvSlice("STAGING_CORS_ORIGINS", []string{
				"https://staging.tradewatch.example",
				"https://staging-api.tradewatch.example",
			}),
			ProductionOrigins: getEnvSlice("PROD_CORS_ORIGINS", []string{
				"https://tradewatch.example",
				"https://www.tradewatch.example",
				"https://api.tradewatch.example",
			}),
			AllowedMethods: getEnvSlice("CORS_ALLOWED_METHODS", []string{
				"GET", "OPTIONS",
			}),
			AllowedHeaders: getEnvSlice("CORS_ALLOWED_HEADERS", []string{
				"Content-Type", "Authorization", "X-Requested-With",
				"X-Request-ID", "Accept", "Origin", "Cache-Control",
			}),
			ExposedHeaders: getEnvSlice("CORS_EXPOSED_HEADERS", []string{
				"X-Request-ID", "X-Total-Count", "X-Upstream-Degraded",
			}),
			AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           getEnvInt("CORS_MAX_AGE", 86400), // 24 hours
			AllowSubdomains:  getEnvBool("CORS_ALLOW_SUBDOMAINS", false),
			AllowedDomains:   getEnvSlice("CORS_ALLOWED_DOMAINS", []string{}),
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable is required")
	}
	if c.UpstreamBaseURL == "" {
		return fmt.Errorf("UPSTREAM_BASE_URL must not be empty")
	}
	if !strings.Contains(c.UserAgent, "@") {
		return fmt.Errorf("USER_AGENT must include a contact address")
	}
	if c.OutboundPerMinute < 1 || c.OutboundPerHour < c.OutboundPerMinute {
		return fmt.Errorf("outbound window caps are inconsistent: %d/min, %d/hour",
			c.OutboundPerMinute, c.OutboundPerHour)
	}
	if c.OutboundMaxConcurrent < 1 {
		return fmt.Errorf("OUTBOUND_MAX_CONCURRENT must be at least 1")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("BACKOFF_MULTIPLIER must be at least 1")
	}
	if c.ProcessorMaxConcurrency < 1 {
		return fmt.Errorf("PROCESSOR_MAX_CONCURRENCY must be at least 1")
	}
	return nil
}

// NewServices creates and initializes all service dependencies using DI container
func NewServices(config *Config) (*Services, error) {
	logger := middleware.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	// Initialize Datastore client
	datastoreClient, err := datastore.NewClient(context.Background(), config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Datastore client: %v", err)
	}
	logger.WithField("project_id", config.ProjectID).Info("Datastore client initialized successfully")

	// Outbound pacing: sliding-window limiter + circuit breaker + stale cache
	limiter := ratelimit.New(ratelimit.Config{
		PerMinute:     config.OutboundPerMinute,
		PerHour:       config.OutboundPerHour,
		MaxConcurrent: config.OutboundMaxConcurrent,
		MinuteWindow:  time.Minute,
		HourWindow:    time.Hour,
		MinGap:        config.OutboundMinGap,
	}, logger)

	brk := breaker.New(breaker.Config{
		FailureThreshold: config.BreakerFailureThreshold,
		ResetTimeout:     config.BreakerResetTimeout,
	}, logger)

	staleCache := cache.NewStaleCache(cache.NewInMemoryCache(config.MaxStaleAge), logger)

	upstream := client.New(client.Config{
		BaseURL:         config.UpstreamBaseURL,
		UserAgent:       config.UserAgent,
		Timeout:         config.UpstreamTimeout,
		MaxAttempts:     uint(config.UpstreamAttempts),
		RetryDelay:      config.UpstreamRetryWait,
		DefaultCooldown: config.DefaultCooldown,
		MaxStaleAge:     config.MaxStaleAge,
		LatencyBudget:   config.LatencyBudget,
	}, limiter, brk, staleCache, logger)

	// Durable work queue over Datastore
	queueCfg := queue.Config{
		MaxRetries: config.QueueMaxRetries,
		Backoff: queue.BackoffPolicy{
			Base:       config.BackoffBase,
			Multiplier: config.BackoffMultiplier,
			Max:        config.BackoffMax,
		},
	}
	store := queue.NewDatastoreStore(datastoreClient, queueCfg, logger)

	// Persistence writer shared by processor, discovery, and collector
	writer := handlers.NewDatastoreWriter(datastoreClient, logger)

	scraper := scrape.New(scrape.Config{
		BaseURL:     config.ScrapeBaseURL,
		UserAgent:   config.UserAgent,
		Timeout:     config.UpstreamTimeout,
		MaxAttempts: uint(config.UpstreamAttempts),
		RetryDelay:  config.UpstreamRetryWait,
	}, limiter, logger)

	cooldowns := cooldown.NewTracker(config.EntityCooldown)

	proc := processor.New(processor.Config{
		BatchSize:      config.ProcessorBatchSize,
		MaxConcurrency: config.ProcessorMaxConcurrency,
		CycleDelay:     config.ProcessorCycleDelay,
	}, store, scraper, writer, cooldowns, logger)

	disc := discovery.New(discovery.Config{
		SyncInterval:  config.CatalogSyncInterval,
		NewsFeedURL:   config.NewsFeedURL,
		NewsInterval:  config.NewsPollInterval,
		BoostPriority: client.PriorityHigh,
		MinNameLength: 5,
	}, upstream, store, writer, logger)

	coll := collector.New(collector.Config{
		LatestInterval:     config.LatestPollInterval,
		FiveMinuteInterval: config.FiveMinutePollInterval,
		OneHourInterval:    config.OneHourPollInterval,
	}, upstream, writer, logger)

	sweeper := utils.NewSweeper(utils.RetentionConfig{
		CompletedRetention: config.CompletedRetention,
		SweepInterval:      config.RetentionSweepEvery,
	}, store, logger)

	// Initialize dependency injection container
	diContainer := container.NewContainer()
	err = diContainer.InitializeServices(container.Dependencies{
		Logger:          logger,
		DatastoreClient: datastoreClient,
		Limiter:         limiter,
		Breaker:         brk,
		QueueStore:      store,
		Client:          upstream,
		Writer:          writer,
		Processor:       proc,
		Discovery:       disc,
		Collector:       coll,
		Sweeper:         sweeper,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dependency container: %v", err)
	}

	return &Services{
		Container: diContainer,
		Logger:    logger,
	}, nil
}

// NewAppConfig creates a new application configuration with all dependencies
func NewAppConfig() (*AppConfig, error) {
	config := NewConfig()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	services, err := NewServices(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %v", err)
	}

	return &AppConfig{
		Config:   config,
		Services: services,
	}, nil
}

// Close gracefully closes all service connections
func (s *Services) Close() error {
	if s.Container != nil {
		return s.Container.Close()
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvFloat gets an environment variable as float64 with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt gets an environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as time.Duration with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as bool with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvSlice gets an environment variable as a string slice with a default value
func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
