package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/config"
)

const (
	collStores        = "stores"
	collSensorConfigs = "sensor_configs"
	collMetrics       = "metrics"
	collMetricAlerts  = "metric_alerts"
	collEmailLogs     = "metric_email_logs"
	collUsers         = "users"
	collNotifications = "notifications"
)

// Client wraps the MongoDB connection holding stores, alert configuration
// and notifications
type Client struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
	log     *zap.Logger
}

// NewClient connects to MongoDB and verifies the connection
func NewClient(ctx context.Context, cfg config.Mongo, log *zap.Logger) (*Client, error) {
	clientOptions := options.Client().ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPool).
		SetMinPoolSize(cfg.MinPool).
		SetConnectTimeout(5 * time.Second).
		SetSocketTimeout(10 * time.Second)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
	defer cancelPing()

	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Info("MongoDB connection established", zap.String("database", cfg.Database))

	return &Client{
		client:  client,
		db:      client.Database(cfg.Database),
		timeout: cfg.Timeout,
		log:     log,
	}, nil
}

func (c *Client) collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// withTimeout bounds a single operation so a stalled server cannot pin a
// handler goroutine
func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.client.Ping(ctx, nil)
}

func (c *Client) Close(ctx context.Context) error {
	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect MongoDB client: %w", err)
	}
	c.log.Info("MongoDB connection closed")
	return nil
}

// EnsureIndexes creates the indexes the pipeline relies on. The unique
// indexes on stores and sensor configs are what make concurrent upserts
// converge to one row.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collStores: {{
			Keys:    bson.D{{Key: "code", Value: 1}},
			Options: options.Index().SetName("uniq_store_code").SetUnique(true),
		}},
		collSensorConfigs: {{
			Keys: bson.D{
				{Key: "storeId", Value: 1},
				{Key: "sensorType", Value: 1},
				{Key: "resourceId", Value: 1},
				{Key: "resourceType", Value: 1},
			},
			Options: options.Index().SetName("uniq_sensor_config").SetUnique(true),
		}},
		collMetrics: {{
			Keys:    bson.D{{Key: "clientId", Value: 1}, {Key: "sensorType", Value: 1}, {Key: "enabled", Value: 1}},
			Options: options.Index().SetName("idx_metric_lookup"),
		}},
		collMetricAlerts: {{
			Keys:    bson.D{{Key: "metricId", Value: 1}, {Key: "enabled", Value: 1}},
			Options: options.Index().SetName("idx_alert_metric"),
		}},
		collEmailLogs: {{
			Keys:    bson.D{{Key: "metricAlertId", Value: 1}, {Key: "severity", Value: 1}, {Key: "sentAt", Value: -1}},
			Options: options.Index().SetName("idx_email_throttle"),
		}},
		collNotifications: {{
			Keys:    bson.D{{Key: "userId", Value: 1}, {Key: "postedAt", Value: -1}},
			Options: options.Index().SetName("idx_notification_user"),
		}},
	}

	for name, models := range indexes {
		created, err := c.collection(name).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
		c.log.Info("MongoDB indexes ensured",
			zap.String("collection", name),
			zap.Strings("indexes", created))
	}

	return nil
}

// idValues matches a reference stored either as an ObjectID or as its hex
// string, since rows written by other services use both.
func idValues(id string) bson.A {
	values := bson.A{id}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		values = append(values, oid)
	}
	return values
}

// refValue stores a reference as an ObjectID when it is one.
func refValue(id string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

func insertedHex(id interface{}) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
