package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/datastore"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tradewatch/price-feed-backend/middleware"
	"github.com/tradewatch/price-feed-backend/types"
)

// MockDatastoreClient is a mock for the datastore querier
type MockDatastoreClient struct {
	mock.Mock
}

func (m *MockDatastoreClient) GetAll(ctx context.Context, q *datastore.Query, dst interface{}) ([]*datastore.Key, error) {
	args := m.Called(ctx, q, dst)
	return args.Get(0).([]*datastore.Key), args.Error(1)
}

// MockUpstream is a mock for UpstreamReporter
type MockUpstream struct {
	mock.Mock
}

func (m *MockUpstream) Health() types.LimiterHealth {
	args := m.Called()
	return args.Get(0).(types.LimiterHealth)
}

func setupTestHandler(t *testing.T) (*Handler, *MockDatastoreClient, *MockUpstream) {
	mockDatastore := &MockDatastoreClient{}
	mockUpstream := &MockUpstream{}

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests

	middleware.Logger = logger

	handler := NewHandler(mockDatastore, mockUpstream, logger)
	return handler, mockDatastore, mockUpstream
}

func TestHandleHealthCheck(t *testing.T) {
	handler, mockDatastore, mockUpstream := setupTestHandler(t)

	mockDatastore.On("GetAll", mock.Anything, mock.Anything, mock.Anything).
		Return([]*datastore.Key{}, nil)
	mockUpstream.On("Health").Return(types.LimiterHealth{Status: types.LimiterHealthy})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.HandleHealthCheck(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response HealthStatus
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "healthy", response.Status)
	assert.Equal(t, "healthy", response.Services["datastore"])
	assert.Equal(t, "healthy", response.Services["upstream"])
}

func TestHandleHealthCheckDegradedUpstream(t *testing.T) {
	handler, mockDatastore, mockUpstream := setupTestHandler(t)

	mockDatastore.On("GetAll", mock.Anything, mock.Anything, mock.Anything).
		Return([]*datastore.Key{}, nil)
	mockUpstream.On("Health").Return(types.LimiterHealth{Status: types.LimiterCooldown})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.HandleHealthCheck(w, req)

	// Upstream cooldown degrades the report but keeps the endpoint at 200.
	assert.Equal(t, http.StatusOK, w.Code)

	var response HealthStatus
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "degraded", response.Status)
	assert.Equal(t, "cooldown", response.Services["upstream"])
}

func TestHandleHealthCheckUnhealthyDatastore(t *testing.T) {
	handler, mockDatastore, mockUpstream := setupTestHandler(t)

	mockDatastore.On("GetAll", mock.Anything, mock.Anything, mock.Anything).
		Return([]*datastore.Key(nil), errors.New("connection refused"))
	mockUpstream.On("Health").Return(types.LimiterHealth{Status: types.LimiterHealthy})

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.HandleHealthCheck(w, req)

	var response HealthStatus
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "unhealthy", response.Status)
	assert.Contains(t, response.Services["datastore"], "unhealthy")
}

func TestHandleLivenessCheck(t *testing.T) {
	handler, _, _ := setupTestHandler(t)

	req := httptest.NewRequest("GET", "/health/live", nil)
	w := httptest.NewRecorder()

	handler.HandleLivenessCheck(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "alive", response["status"])
}

func TestHandleReadinessCheck(t *testing.T) {
	handler, mockDatastore, _ := setupTestHandler(t)

	mockDatastore.On("GetAll", mock.Anything, mock.Anything, mock.Anything).
		Return([]*datastore.Key{}, nil)

	req := httptest.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()

	handler.HandleReadinessCheck(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "ready", response["status"])
}

func TestHandleReadinessCheckNotReady(t *testing.T) {
	handler, mockDatastore, _ := setupTestHandler(t)

	mockDatastore.On("GetAll", mock.Anything, mock.Anything, mock.Anything).
		Return([]*datastore.Key(nil), errors.New("connection refused"))

	req := httptest.NewRequest("GET", "/health/ready", nil)
	w := httptest.NewRecorder()

	handler.HandleReadinessCheck(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
