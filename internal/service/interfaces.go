package service

import (
	"context"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
	"github.com/BarkinBalci/telemetry-pipeline/internal/dto"
)

// TelemetryServicer defines the interface for telemetry service operations
type TelemetryServicer interface {
	PublishTelemetry(ctx context.Context, storeCode string, body []byte) (*dto.PublishTelemetryResponse, error)
	GetReadingStats(ctx context.Context, req *dto.GetReadingStatsRequest) (*dto.GetReadingStatsResponse, error)
	GetLatestReadings(ctx context.Context, req *dto.GetLatestReadingsRequest) (*dto.GetLatestReadingsResponse, error)
}

// PayloadParser canonicalizes a device payload for a store
type PayloadParser interface {
	ParsePayload(storeCode string, body []byte) (*domain.Telemetry, error)
}
