package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/dto"
	"github.com/BarkinBalci/telemetry-pipeline/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockTelemetryService is a mock implementation of service.TelemetryServicer
type MockTelemetryService struct {
	mock.Mock
}

func (m *MockTelemetryService) PublishTelemetry(ctx context.Context, storeCode string, body []byte) (*dto.PublishTelemetryResponse, error) {
	args := m.Called(ctx, storeCode, body)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.PublishTelemetryResponse), args.Error(1)
}

func (m *MockTelemetryService) GetReadingStats(ctx context.Context, req *dto.GetReadingStatsRequest) (*dto.GetReadingStatsResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.GetReadingStatsResponse), args.Error(1)
}

func (m *MockTelemetryService) GetLatestReadings(ctx context.Context, req *dto.GetLatestReadingsRequest) (*dto.GetLatestReadingsResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dto.GetLatestReadingsResponse), args.Error(1)
}

func serve(h *Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var response dto.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func TestHandler_HealthCheck(t *testing.T) {
	handler := NewHandler(new(MockTelemetryService), zap.NewNop())

	w := serve(handler, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "ok", response["status"])
}

func TestHandler_PublishTelemetry_Success(t *testing.T) {
	mockService := new(MockTelemetryService)
	handler := NewHandler(mockService, zap.NewNop())

	body := []byte(`{"tds": 620}`)
	mockService.On("PublishTelemetry", mock.Anything, "store01", body).Return(&dto.PublishTelemetryResponse{
		StoreCode: "STORE01",
		Topic:     "aquatech/STORE01/data",
		Metrics:   []string{"tds"},
		Status:    "accepted",
	}, nil)

	w := serve(handler, http.MethodPost, "/telemetry/store01", body)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var response dto.PublishTelemetryResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, "aquatech/STORE01/data", response.Topic)
	assert.Equal(t, "accepted", response.Status)
	mockService.AssertExpectations(t)
}

func TestHandler_PublishTelemetry_NoMetrics(t *testing.T) {
	mockService := new(MockTelemetryService)
	handler := NewHandler(mockService, zap.NewNop())

	mockService.On("PublishTelemetry", mock.Anything, "STORE01", mock.Anything).
		Return(nil, fmt.Errorf("%w: payload has no recognized metrics", service.ErrInvalidRequest))

	w := serve(handler, http.MethodPost, "/telemetry/STORE01", []byte(`{"firmware": "v2"}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	response := decodeError(t, w)
	assert.Equal(t, "validation_error", response.Error)
	assert.Contains(t, response.Message, "no recognized metrics")
}

func TestHandler_PublishTelemetry_PublishError(t *testing.T) {
	mockService := new(MockTelemetryService)
	handler := NewHandler(mockService, zap.NewNop())

	mockService.On("PublishTelemetry", mock.Anything, "STORE01", mock.Anything).
		Return(nil, errors.New("failed to publish telemetry: broker unreachable"))

	w := serve(handler, http.MethodPost, "/telemetry/STORE01", []byte(`{"tds": 1}`))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", decodeError(t, w).Error)
}

func TestHandler_PublishTelemetry_TooLarge(t *testing.T) {
	mockService := new(MockTelemetryService)
	handler := NewHandler(mockService, zap.NewNop())

	body := []byte(`{"note": "` + strings.Repeat("x", maxBodyBytes) + `"}`)
	w := serve(handler, http.MethodPost, "/telemetry/STORE01", body)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	mockService.AssertNotCalled(t, "PublishTelemetry", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandler_GetReadingStats_Success(t *testing.T) {
	mockService := new(MockTelemetryService)
	handler := NewHandler(mockService, zap.NewNop())

	expectedReq := &dto.GetReadingStatsRequest{
		StoreCode:  "STORE01",
		SensorType: "tds",
		From:       1740787200,
		To:         1740873600,
		GroupBy:    "day",
	}
	mockService.On("GetReadingStats", mock.Anything, expectedReq).Return(&dto.GetReadingStatsResponse{
		StoreCode:  "STORE01",
		SensorType: "tds",
		Count:      2,
		Avg:        610,
		GroupBy:    "day",
		Groups:     []dto.ReadingStatsGroup{{GroupValue: "2025-03-01", Count: 2, Avg: 610}},
	}, nil)

	w := serve(handler, http.MethodGet, "/readings/stats?store_code=STORE01&sensor_type=tds&from=1740787200&to=1740873600&group_by=day", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var response dto.GetReadingStatsResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, uint64(2), response.Count)
	assert.Len(t, response.Groups, 1)
	mockService.AssertExpectations(t)
}

func TestHandler_GetReadingStats_MissingParams(t *testing.T) {
	mockService := new(MockTelemetryService)
	handler := NewHandler(mockService, zap.NewNop())

	w := serve(handler, http.MethodGet, "/readings/stats?store_code=STORE01", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", decodeError(t, w).Error)
	mockService.AssertNotCalled(t, "GetReadingStats", mock.Anything, mock.Anything)
}

func TestHandler_GetReadingStats_InvalidRange(t *testing.T) {
	mockService := new(MockTelemetryService)
	handler := NewHandler(mockService, zap.NewNop())

	mockService.On("GetReadingStats", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: from timestamp must be less than or equal to to timestamp", service.ErrInvalidRequest))

	w := serve(handler, http.MethodGet, "/readings/stats?store_code=STORE01&sensor_type=tds&from=20&to=10", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_GetReadingStats_ServiceError(t *testing.T) {
	mockService := new(MockTelemetryService)
	handler := NewHandler(mockService, zap.NewNop())

	mockService.On("GetReadingStats", mock.Anything, mock.Anything).Return(nil, errors.New("clickhouse timeout"))

	w := serve(handler, http.MethodGet, "/readings/stats?store_code=STORE01&sensor_type=tds&from=10&to=20", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal_error", decodeError(t, w).Error)
}

func TestHandler_GetLatestReadings_Success(t *testing.T) {
	mockService := new(MockTelemetryService)
	handler := NewHandler(mockService, zap.NewNop())
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	mockService.On("GetLatestReadings", mock.Anything, &dto.GetLatestReadingsRequest{StoreCode: "STORE01"}).
		Return(&dto.GetLatestReadingsResponse{
			StoreCode: "STORE01",
			Readings:  []dto.LatestReading{{SensorType: "tds", Name: "TDS", Value: 620, Unit: "ppm", Timestamp: at}},
		}, nil)

	w := serve(handler, http.MethodGet, "/readings/latest?store_code=STORE01", nil)

	assert.Equal(t, http.StatusOK, w.Code)

	var response dto.GetLatestReadingsResponse
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Len(t, response.Readings, 1)
	assert.True(t, at.Equal(response.Readings[0].Timestamp))
}

func TestHandler_GetLatestReadings_MissingStore(t *testing.T) {
	mockService := new(MockTelemetryService)
	handler := NewHandler(mockService, zap.NewNop())

	w := serve(handler, http.MethodGet, "/readings/latest", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockService.AssertNotCalled(t, "GetLatestReadings", mock.Anything, mock.Anything)
}
