package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
	"github.com/BarkinBalci/telemetry-pipeline/internal/repository"
)

const readingsTable = "sensor_readings"

// Repository implements ReadingRepository for ClickHouse
type Repository struct {
	client *Client
	log    *zap.Logger
}

// NewRepository creates a new ClickHouse reading repository
func NewRepository(client *Client, log *zap.Logger) *Repository {
	return &Repository{
		client: client,
		log:    log,
	}
}

// InitSchema creates the readings table. Rows are append-only, so a plain
// MergeTree ordered for per-store, per-sensor range scans is enough.
func (r *Repository) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS ` + readingsTable + ` (
		reading_id UUID,
		name String,
		sensor_type LowCardinality(String),
		value Float64,
		unit LowCardinality(String),
		label String,
		timestamp DateTime64(3, 'UTC'),
		store_code LowCardinality(String),
		store_id String,
		resource_id String,
		resource_type LowCardinality(String),
		client_id String,
		meta String,
		ingested_at DateTime64(3, 'UTC') DEFAULT now64(3)
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (store_code, sensor_type, timestamp)
	SETTINGS index_granularity = 8192
	`

	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create %s table: %w", readingsTable, err)
	}

	r.log.Info("ClickHouse schema initialized", zap.String("table", readingsTable))
	return nil
}

// InsertBatch sends all readings in one native batch. Any append error
// aborts the batch so nothing is committed.
func (r *Repository) InsertBatch(ctx context.Context, readings []*domain.Reading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, "INSERT INTO "+readingsTable)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, reading := range readings {
		id, err := uuid.Parse(reading.ID)
		if err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("invalid reading id %q: %w", reading.ID, err)
		}

		meta := reading.Meta
		if meta == "" {
			meta = "{}"
		}

		err = batch.Append(
			id,
			reading.Name,
			string(reading.SensorType),
			reading.Value,
			reading.Unit,
			reading.Label,
			reading.Timestamp,
			reading.StoreCode,
			reading.StoreID,
			reading.ResourceID,
			reading.ResourceType,
			reading.ClientID,
			meta,
			reading.IngestedAt,
		)
		if err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("failed to append reading to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("failed to send batch: %w", err)
	}

	return len(readings), nil
}

// Ping checks if the ClickHouse connection is alive
func (r *Repository) Ping(ctx context.Context) error {
	return r.client.Conn().Ping(ctx)
}

// Close closes the ClickHouse connection
func (r *Repository) Close() error {
	return r.client.Close()
}

// GetStats aggregates readings of one sensor type for a store
func (r *Repository) GetStats(ctx context.Context, query repository.ReadingStatsQuery) (*repository.ReadingStats, error) {
	result := &repository.ReadingStats{
		Groups: []repository.ReadingStatsGroup{},
	}

	whereClause := `WHERE store_code = ? AND sensor_type = ?
		AND timestamp >= fromUnixTimestamp(?) AND timestamp <= fromUnixTimestamp(?)`
	args := []interface{}{query.StoreCode, query.SensorType, query.From, query.To}

	overallQuery := fmt.Sprintf(`
		SELECT count(), avg(value), min(value), max(value)
		FROM %s
		%s
	`, readingsTable, whereClause)

	row := r.client.Conn().QueryRow(ctx, overallQuery, args...)
	if err := row.Scan(&result.Count, &result.Avg, &result.Min, &result.Max); err != nil {
		return nil, fmt.Errorf("failed to query reading stats: %w", err)
	}

	// avg over zero rows is NaN, which JSON cannot carry
	if result.Count == 0 {
		result.Avg, result.Min, result.Max = 0, 0, 0
		return result, nil
	}

	if query.GroupBy == "" {
		return result, nil
	}

	var bucket string
	switch query.GroupBy {
	case "hour":
		bucket = "formatDateTime(toStartOfHour(timestamp), '%Y-%m-%d %H:00:00')"
	case "day":
		bucket = "formatDateTime(toStartOfDay(timestamp), '%Y-%m-%d')"
	default:
		return nil, fmt.Errorf("unsupported group_by value: %s (supported: hour, day)", query.GroupBy)
	}

	groupedQuery := fmt.Sprintf(`
		SELECT %s AS group_value, count(), avg(value), min(value), max(value)
		FROM %s
		%s
		GROUP BY group_value
		ORDER BY group_value ASC
	`, bucket, readingsTable, whereClause)

	rows, err := r.client.Conn().Query(ctx, groupedQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query grouped reading stats: %w", err)
	}
	defer r.closeRows(rows)

	for rows.Next() {
		var group repository.ReadingStatsGroup
		if err := rows.Scan(&group.GroupValue, &group.Count, &group.Avg, &group.Min, &group.Max); err != nil {
			return nil, fmt.Errorf("failed to scan grouped stats row: %w", err)
		}
		result.Groups = append(result.Groups, group)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating grouped stats rows: %w", err)
	}

	return result, nil
}

// GetLatest returns the newest value of every sensor type reported by a store
func (r *Repository) GetLatest(ctx context.Context, storeCode string) ([]repository.LatestReading, error) {
	query := fmt.Sprintf(`
		SELECT sensor_type, argMax(value, timestamp), argMax(unit, timestamp), max(timestamp)
		FROM %s
		WHERE store_code = ?
		GROUP BY sensor_type
		ORDER BY sensor_type
	`, readingsTable)

	rows, err := r.client.Conn().Query(ctx, query, storeCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest readings: %w", err)
	}
	defer r.closeRows(rows)

	latest := []repository.LatestReading{}
	for rows.Next() {
		var item repository.LatestReading
		if err := rows.Scan(&item.SensorType, &item.Value, &item.Unit, &item.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan latest reading row: %w", err)
		}
		latest = append(latest, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating latest reading rows: %w", err)
	}

	return latest, nil
}

func (r *Repository) closeRows(rows driver.Rows) {
	if err := rows.Close(); err != nil {
		r.log.Error("Failed to close rows", zap.Error(err))
	}
}
