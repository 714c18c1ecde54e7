package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
)

// SensorConfigRepository implements repository.SensorConfigRepository
type SensorConfigRepository struct {
	client *Client
}

func NewSensorConfigRepository(client *Client) *SensorConfigRepository {
	return &SensorConfigRepository{client: client}
}

// Register inserts the config only if its tuple is new. Existing rows,
// including operator edits to label or limits, are left untouched.
func (r *SensorConfigRepository) Register(ctx context.Context, cfg *domain.SensorConfig) error {
	ctx, cancel := r.client.withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"storeId":      refValue(cfg.StoreID),
		"sensorType":   string(cfg.SensorType),
		"resourceId":   cfg.ResourceID,
		"resourceType": cfg.ResourceType,
	}

	createdAt := cfg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	onInsert := bson.M{
		"label":     cfg.Label,
		"unit":      cfg.Unit,
		"enabled":   cfg.Enabled,
		"createdAt": createdAt,
	}
	if cfg.MinValue != nil {
		onInsert["minValue"] = *cfg.MinValue
	}
	if cfg.MaxValue != nil {
		onInsert["maxValue"] = *cfg.MaxValue
	}

	_, err := r.client.collection(collSensorConfigs).UpdateOne(ctx, filter,
		bson.M{"$setOnInsert": onInsert},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		// a concurrent registration of the same tuple already won
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return fmt.Errorf("failed to register sensor config %s/%s: %w", cfg.StoreID, cfg.SensorType, err)
	}
	return nil
}
