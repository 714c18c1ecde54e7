package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/consumer"
	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
	"github.com/BarkinBalci/telemetry-pipeline/internal/dto"
	"github.com/BarkinBalci/telemetry-pipeline/internal/ingest"
	"github.com/BarkinBalci/telemetry-pipeline/internal/queue"
	"github.com/BarkinBalci/telemetry-pipeline/internal/repository"
	"github.com/BarkinBalci/telemetry-pipeline/internal/sensor"
)

// ErrInvalidRequest marks errors caused by the caller's input
var ErrInvalidRequest = errors.New("invalid request")

const maxHourlyRangeSeconds = 90 * 24 * 3600

// TelemetryService represents telemetry service
type TelemetryService struct {
	publisher  queue.Publisher
	parser     PayloadParser
	repository repository.ReadingRepository
	namespace  string
	log        *zap.Logger
}

// NewTelemetryService creates a new telemetry service
func NewTelemetryService(publisher queue.Publisher, parser PayloadParser, repo repository.ReadingRepository, namespace string, log *zap.Logger) *TelemetryService {
	return &TelemetryService{
		publisher:  publisher,
		parser:     parser,
		repository: repo,
		namespace:  namespace,
		log:        log,
	}
}

// PublishTelemetry validates a device payload and publishes it unchanged on
// the store's data topic. The consumer does the actual ingestion.
func (s *TelemetryService) PublishTelemetry(ctx context.Context, storeCode string, body []byte) (*dto.PublishTelemetryResponse, error) {
	code := ingest.NormalizeCode(storeCode)
	if code == "" {
		return nil, fmt.Errorf("%w: store code is required", ErrInvalidRequest)
	}

	t, err := s.parser.ParsePayload(code, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if len(t.Metrics) == 0 {
		s.log.Warn("Telemetry rejected: no recognized metrics",
			zap.String("store_code", code),
			zap.Strings("unknown_keys", sensor.Unknown(t.Metadata)))
		return nil, fmt.Errorf("%w: payload has no recognized metrics", ErrInvalidRequest)
	}

	topic := consumer.DataTopic(s.namespace, code)
	if err := s.publisher.Publish(ctx, topic, body); err != nil {
		return nil, fmt.Errorf("failed to publish telemetry: %w", err)
	}

	metricNames := make([]string, 0, len(t.Metrics))
	for sensorType := range t.Metrics {
		metricNames = append(metricNames, string(sensorType))
	}
	sort.Strings(metricNames)

	return &dto.PublishTelemetryResponse{
		StoreCode: code,
		Topic:     topic,
		Metrics:   metricNames,
		Status:    "accepted",
	}, nil
}

// GetReadingStats retrieves aggregated reading statistics from the repository
func (s *TelemetryService) GetReadingStats(ctx context.Context, req *dto.GetReadingStatsRequest) (*dto.GetReadingStatsResponse, error) {
	if req.From > req.To {
		s.log.Warn("Invalid time range for reading stats",
			zap.Int64("from", req.From),
			zap.Int64("to", req.To))
		return nil, fmt.Errorf("%w: from timestamp must be less than or equal to to timestamp", ErrInvalidRequest)
	}

	switch req.GroupBy {
	case "", "day":
	case "hour":
		if rangeSeconds := req.To - req.From; rangeSeconds > maxHourlyRangeSeconds {
			return nil, fmt.Errorf("%w: time range too large for hourly grouping (max 90 days, got %d days)",
				ErrInvalidRequest, rangeSeconds/(24*3600))
		}
	default:
		return nil, fmt.Errorf("%w: invalid group_by value: %s (supported: hour, day)", ErrInvalidRequest, req.GroupBy)
	}

	code := ingest.NormalizeCode(req.StoreCode)
	query := repository.ReadingStatsQuery{
		StoreCode:  code,
		SensorType: req.SensorType,
		From:       req.From,
		To:         req.To,
		GroupBy:    req.GroupBy,
	}

	s.log.Debug("Querying reading stats",
		zap.String("store_code", code),
		zap.String("sensor_type", req.SensorType),
		zap.Int64("from", req.From),
		zap.Int64("to", req.To),
		zap.String("group_by", req.GroupBy))

	result, err := s.repository.GetStats(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get reading stats from repository: %w", err)
	}

	response := &dto.GetReadingStatsResponse{
		StoreCode:  code,
		SensorType: req.SensorType,
		Unit:       sensor.Unit(domain.SensorType(req.SensorType)),
		From:       req.From,
		To:         req.To,
		Count:      result.Count,
		Avg:        result.Avg,
		Min:        result.Min,
		Max:        result.Max,
		GroupBy:    req.GroupBy,
		Groups:     make([]dto.ReadingStatsGroup, 0, len(result.Groups)),
	}
	for _, group := range result.Groups {
		response.Groups = append(response.Groups, dto.ReadingStatsGroup{
			GroupValue: group.GroupValue,
			Count:      group.Count,
			Avg:        group.Avg,
			Min:        group.Min,
			Max:        group.Max,
		})
	}

	return response, nil
}

// GetLatestReadings returns the newest value of every sensor type of a store
func (s *TelemetryService) GetLatestReadings(ctx context.Context, req *dto.GetLatestReadingsRequest) (*dto.GetLatestReadingsResponse, error) {
	code := ingest.NormalizeCode(req.StoreCode)
	if code == "" {
		return nil, fmt.Errorf("%w: store code is required", ErrInvalidRequest)
	}

	latest, err := s.repository.GetLatest(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest readings from repository: %w", err)
	}

	response := &dto.GetLatestReadingsResponse{
		StoreCode: code,
		Readings:  make([]dto.LatestReading, 0, len(latest)),
	}
	for _, item := range latest {
		response.Readings = append(response.Readings, dto.LatestReading{
			SensorType: item.SensorType,
			Name:       sensor.Name(domain.SensorType(item.SensorType)),
			Value:      item.Value,
			Unit:       item.Unit,
			Timestamp:  item.Timestamp,
		})
	}

	return response, nil
}
