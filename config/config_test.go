package config

import (
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		ProjectID:               "test-project",
		UpstreamBaseURL:         "https://prices.example/api",
		UserAgent:               "pricefeed-tests/1.0 (tests@tradewatch.example)",
		OutboundPerMinute:       30,
		OutboundPerHour:         1000,
		OutboundMaxConcurrent:   5,
		BackoffMultiplier:       2.0,
		ProcessorMaxConcurrency: 3,
	}
}

func TestNewConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected *Config
	}{
		{
			name: "default config",
			envVars: map[string]string{
				"PROJECT_ID": "test-project",
			},
			expected: &Config{
				ProjectID:  "test-project",
				LogLevel:   "info",
				ServerPort: "8080",
			},
		},
		{
			name: "custom config",
			envVars: map[string]string{
				"PROJECT_ID":  "custom-project",
				"LOG_LEVEL":   "debug",
				"SERVER_PORT": "9000",
			},
			expected: &Config{
				ProjectID:  "custom-project",
				LogLevel:   "debug",
				ServerPort: "9000",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Clear environment variables
			for key := range tt.envVars {
				os.Unsetenv(key)
			}

			// Set test environment variables
			for key, value := range tt.envVars {
				os.Setenv(key, value)
				defer os.Unsetenv(key)
			}

			config := NewConfig()
			assert.Equal(t, tt.expected.ProjectID, config.ProjectID)
			assert.Equal(t, tt.expected.LogLevel, config.LogLevel)
			assert.Equal(t, tt.expected.ServerPort, config.ServerPort)
		})
	}
}

func TestNewConfigPacingDefaults(t *testing.T) {
	os.Setenv("PROJECT_ID", "test-project")
	defer os.Unsetenv("PROJECT_ID")

	config := NewConfig()

	assert.Equal(t, 30, config.OutboundPerMinute)
	assert.Equal(t, 1000, config.OutboundPerHour)
	assert.Equal(t, 5, config.OutboundMaxConcurrent)
	assert.Equal(t, 5, config.BreakerFailureThreshold)
	assert.Equal(t, 5*time.Minute, config.BreakerResetTimeout)
	assert.Equal(t, 6*time.Hour, config.EntityCooldown)
	assert.Equal(t, 5, config.QueueMaxRetries)
	assert.Equal(t, 30*time.Second, config.BackoffBase)
	assert.Equal(t, 2.0, config.BackoffMultiplier)
	assert.Equal(t, 30*time.Minute, config.BackoffMax)
	assert.Contains(t, config.UserAgent, "@")
}

func TestNewConfigEnvOverrides(t *testing.T) {
	envVars := map[string]string{
		"PROJECT_ID":          "test-project",
		"OUTBOUND_PER_MINUTE": "10",
		"BACKOFF_BASE":        "1m",
		"BACKOFF_MULTIPLIER":  "3.5",
		"QUEUE_MAX_RETRIES":   "8",
	}
	for key, value := range envVars {
		os.Setenv(key, value)
		defer os.Unsetenv(key)
	}

	config := NewConfig()

	assert.Equal(t, 10, config.OutboundPerMinute)
	assert.Equal(t, time.Minute, config.BackoffBase)
	assert.Equal(t, 3.5, config.BackoffMultiplier)
	assert.Equal(t, 8, config.QueueMaxRetries)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing project id",
			mutate:  func(c *Config) { c.ProjectID = "" },
			wantErr: true,
		},
		{
			name:    "missing upstream base url",
			mutate:  func(c *Config) { c.UpstreamBaseURL = "" },
			wantErr: true,
		},
		{
			name:    "user agent without contact",
			mutate:  func(c *Config) { c.UserAgent = "pricefeed/1.0" },
			wantErr: true,
		},
		{
			name:    "hourly cap below minute cap",
			mutate:  func(c *Config) { c.OutboundPerHour = 10 },
			wantErr: true,
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.OutboundMaxConcurrent = 0 },
			wantErr: true,
		},
		{
			name:    "shrinking backoff",
			mutate:  func(c *Config) { c.BackoffMultiplier = 0.5 },
			wantErr: true,
		},
		{
			name:    "zero processor concurrency",
			mutate:  func(c *Config) { c.ProcessorMaxConcurrency = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)

			err := config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewAppConfig(t *testing.T) {
	os.Setenv("PROJECT_ID", "test-project")
	defer os.Unsetenv("PROJECT_ID")

	// This test requires a real datastore client, so we'll skip it in CI
	if os.Getenv("CI") != "" {
		t.Skip("Skipping integration test in CI")
		return
	}

	// Note: This test would require actual GCP credentials
	// In a real scenario, you'd mock the datastore client
	t.Skip("Requires GCP credentials - implement with mocks for full unit testing")
}

func TestGetEnv(t *testing.T) {
	// Test with existing env var
	os.Setenv("TEST_VAR", "test_value")
	defer os.Unsetenv("TEST_VAR")

	result := getEnv("TEST_VAR", "default")
	assert.Equal(t, "test_value", result)

	// Test with non-existing env var
	result = getEnv("NON_EXISTING_VAR", "default")
	assert.Equal(t, "default", result)
}

func TestGetEnvDuration(t *testing.T) {
	os.Setenv("TEST_DURATION", "45s")
	defer os.Unsetenv("TEST_DURATION")

	assert.Equal(t, 45*time.Second, getEnvDuration("TEST_DURATION", time.Minute))
	assert.Equal(t, time.Minute, getEnvDuration("MISSING_DURATION", time.Minute))

	// Unparsable values fall back to the default
	os.Setenv("TEST_DURATION", "not-a-duration")
	assert.Equal(t, time.Minute, getEnvDuration("TEST_DURATION", time.Minute))
}

func TestServicesClose(t *testing.T) {
	logger := logrus.New()

	services := &Services{
		Logger: logger,
	}

	// Test that Close doesn't panic
	assert.NotPanics(t, func() {
		services.Close()
	}, "Close should not panic")
}
