package repository

import (
	"context"
	"errors"
	"time"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a write loses a unique-key race.
	ErrDuplicate = errors.New("duplicate key")
)

// ReadingStatsQuery represents a reading statistics query
type ReadingStatsQuery struct {
	StoreCode  string
	SensorType string
	From       int64
	To         int64
	GroupBy    string
}

// ReadingStatsGroup represents aggregated values for one time bucket
type ReadingStatsGroup struct {
	GroupValue string
	Count      uint64
	Avg        float64
	Min        float64
	Max        float64
}

// ReadingStats represents the result of a statistics query
type ReadingStats struct {
	Count  uint64
	Avg    float64
	Min    float64
	Max    float64
	Groups []ReadingStatsGroup
}

// LatestReading is the most recent value of one sensor type
type LatestReading struct {
	SensorType string
	Value      float64
	Unit       string
	Timestamp  time.Time
}

// ReadingRepository defines the interface for time-series reading storage
type ReadingRepository interface {
	// InsertBatch writes all readings or none of them
	InsertBatch(ctx context.Context, readings []*domain.Reading) (int, error)

	// InitSchema creates tables if they don't exist
	InitSchema(ctx context.Context) error

	Ping(ctx context.Context) error

	Close() error

	GetStats(ctx context.Context, query ReadingStatsQuery) (*ReadingStats, error)

	GetLatest(ctx context.Context, storeCode string) ([]LatestReading, error)
}

// StoreRepository persists stores keyed by their unique code
type StoreRepository interface {
	// Upsert atomically creates or refreshes the store with the given code.
	// created reports whether this call inserted the row. A lost insert race
	// is returned as ErrDuplicate.
	Upsert(ctx context.Context, code string, defaults domain.StoreDefaults, now time.Time) (store *domain.Store, created bool, err error)

	FindByCode(ctx context.Context, code string) (*domain.Store, error)

	UpdateStatus(ctx context.Context, code, status string, at time.Time) error
}

// SensorConfigRepository registers sensor display metadata
type SensorConfigRepository interface {
	// Register inserts the config unless its tuple already exists
	Register(ctx context.Context, cfg *domain.SensorConfig) error
}

type MetricRepository interface {
	FindEnabled(ctx context.Context, clientID string, sensorType domain.SensorType) ([]*domain.Metric, error)
}

type MetricAlertRepository interface {
	FindEnabledByMetric(ctx context.Context, metricID string) ([]*domain.MetricAlert, error)
}

// EmailLogRepository is the append-only record of sent alert emails
type EmailLogRepository interface {
	Append(ctx context.Context, log *domain.EmailLog) error

	// LatestSentAt returns the newest sentAt for the pair, ok=false if none
	LatestSentAt(ctx context.Context, metricAlertID string, severity domain.Severity) (sentAt time.Time, ok bool, err error)

	CountSince(ctx context.Context, metricAlertID string, severity domain.Severity, since time.Time) (int64, error)
}

type UserRepository interface {
	// FindByEmail returns ErrNotFound when no user has the address
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, notification *domain.Notification) error
}
