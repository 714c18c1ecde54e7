package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/cache"
	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
	"github.com/BarkinBalci/telemetry-pipeline/internal/metrics"
	"github.com/BarkinBalci/telemetry-pipeline/internal/repository"
	"github.com/BarkinBalci/telemetry-pipeline/internal/sensor"
)

type configKey struct {
	storeID      string
	sensorType   domain.SensorType
	resourceID   string
	resourceType string
}

// WriterConfig configures the fan-out writer
type WriterConfig struct {
	// RegistrationTTL is how long a registered sensor config is remembered
	// before it is upserted again. Zero disables the cache.
	RegistrationTTL time.Duration
}

// FanoutWriter expands one telemetry message into one reading per metric
type FanoutWriter struct {
	readings   repository.ReadingRepository
	configs    repository.SensorConfigRepository
	registered cache.Cache[configKey, struct{}]
	config     WriterConfig
	newID      func() string
	now        func() time.Time
	log        *zap.Logger
}

func NewFanoutWriter(readings repository.ReadingRepository, configs repository.SensorConfigRepository, config WriterConfig, log *zap.Logger) *FanoutWriter {
	var registered cache.Cache[configKey, struct{}] = cache.NoopCache[configKey, struct{}]{}
	if config.RegistrationTTL > 0 {
		registered = cache.NewTTLCache[configKey, struct{}]()
	}

	return &FanoutWriter{
		readings:   readings,
		configs:    configs,
		registered: registered,
		config:     config,
		newID:      uuid.NewString,
		now:        time.Now,
		log:        log,
	}
}

// Write persists every metric of t as a reading of store. All readings share
// t.Timestamp and are written as a single batch: on error none of them may
// be assumed stored. A message without metrics writes nothing.
func (w *FanoutWriter) Write(ctx context.Context, t *domain.Telemetry, store *domain.Store) ([]*domain.Reading, error) {
	if len(t.Metrics) == 0 {
		return nil, nil
	}

	meta := w.encodeMeta(t)
	ingestedAt := w.now().UTC()
	timestamp := t.Timestamp.UTC()

	readings := make([]*domain.Reading, 0, len(t.Metrics))
	for _, sensorType := range orderedTypes(t.Metrics) {
		reading := &domain.Reading{
			ID:           w.newID(),
			Name:         sensor.Name(sensorType),
			SensorType:   sensorType,
			Value:        t.Metrics[sensorType],
			Unit:         sensor.Unit(sensorType),
			Label:        sensor.Name(sensorType),
			Timestamp:    timestamp,
			StoreCode:    store.Code,
			StoreID:      store.ID,
			ResourceID:   t.ResourceID,
			ResourceType: t.ResourceType,
			ClientID:     t.ClientID,
			Meta:         meta,
			IngestedAt:   ingestedAt,
		}
		readings = append(readings, reading)

		w.register(ctx, reading)
	}

	inserted, err := w.readings.InsertBatch(ctx, readings)
	if err != nil {
		metrics.ReadingBatchFailures.Inc()
		return nil, fmt.Errorf("failed to write %d readings for store %s: %w", len(readings), store.Code, err)
	}
	if inserted != len(readings) {
		metrics.ReadingBatchFailures.Inc()
		return nil, fmt.Errorf("partial reading batch for store %s: wrote %d of %d", store.Code, inserted, len(readings))
	}

	metrics.ReadingsWritten.Add(float64(inserted))
	return readings, nil
}

// register upserts the sensor config for the reading's tuple. Failures are
// logged only: configs label readings, they never gate them.
func (w *FanoutWriter) register(ctx context.Context, r *domain.Reading) {
	key := configKey{
		storeID:      r.StoreID,
		sensorType:   r.SensorType,
		resourceID:   r.ResourceID,
		resourceType: r.ResourceType,
	}
	if _, ok := w.registered.Get(key); ok {
		return
	}

	err := w.configs.Register(ctx, &domain.SensorConfig{
		StoreID:      r.StoreID,
		SensorType:   r.SensorType,
		ResourceID:   r.ResourceID,
		ResourceType: r.ResourceType,
		Label:        r.Label,
		Unit:         r.Unit,
		Enabled:      true,
		CreatedAt:    r.IngestedAt,
	})
	if err != nil {
		w.log.Warn("Failed to register sensor config",
			zap.String("store_code", r.StoreCode),
			zap.String("sensor_type", string(r.SensorType)),
			zap.Error(err))
		return
	}

	w.registered.Set(key, struct{}{}, w.config.RegistrationTTL)
}

func (w *FanoutWriter) encodeMeta(t *domain.Telemetry) string {
	meta := map[string]interface{}{
		"topic":   t.Topic,
		"payload": t.Metadata,
	}
	if t.Source != "" {
		meta["source"] = t.Source
	}
	if t.GatewayIP != "" {
		meta["gateway_ip"] = t.GatewayIP
	}
	if t.RSSI != nil {
		meta["rssi"] = *t.RSSI
	}

	encoded, err := json.Marshal(meta)
	if err != nil {
		w.log.Warn("Failed to encode reading metadata", zap.String("topic", t.Topic), zap.Error(err))
		return "{}"
	}
	return string(encoded)
}

// orderedTypes lists catalog types first, in catalog order, then any other
// type alphabetically.
func orderedTypes(m map[domain.SensorType]float64) []domain.SensorType {
	types := make([]domain.SensorType, 0, len(m))
	seen := make(map[domain.SensorType]struct{}, len(m))
	for _, def := range sensor.Catalog {
		if _, ok := m[def.Type]; ok {
			types = append(types, def.Type)
			seen[def.Type] = struct{}{}
		}
	}

	var extra []domain.SensorType
	for t := range m {
		if _, ok := seen[t]; !ok {
			extra = append(extra, t)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })

	return append(types, extra...)
}
