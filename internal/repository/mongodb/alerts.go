package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
	"github.com/BarkinBalci/telemetry-pipeline/internal/repository"
)

// Rows missing the enabled flag count as enabled.
var enabledFilter = bson.M{"$ne": false}

// MetricRepository implements repository.MetricRepository
type MetricRepository struct {
	client *Client
}

func NewMetricRepository(client *Client) *MetricRepository {
	return &MetricRepository{client: client}
}

func (r *MetricRepository) FindEnabled(ctx context.Context, clientID string, sensorType domain.SensorType) ([]*domain.Metric, error) {
	ctx, cancel := r.client.withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"clientId":   bson.M{"$in": idValues(clientID)},
		"sensorType": string(sensorType),
		"enabled":    enabledFilter,
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := r.client.collection(collMetrics).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find metrics for client %s: %w", clientID, err)
	}

	var metrics []*domain.Metric
	if err := cursor.All(ctx, &metrics); err != nil {
		return nil, fmt.Errorf("failed to decode metrics: %w", err)
	}
	return metrics, nil
}

// MetricAlertRepository implements repository.MetricAlertRepository
type MetricAlertRepository struct {
	client *Client
}

func NewMetricAlertRepository(client *Client) *MetricAlertRepository {
	return &MetricAlertRepository{client: client}
}

func (r *MetricAlertRepository) FindEnabledByMetric(ctx context.Context, metricID string) ([]*domain.MetricAlert, error) {
	ctx, cancel := r.client.withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"metricId": bson.M{"$in": idValues(metricID)},
		"enabled":  enabledFilter,
	}

	cursor, err := r.client.collection(collMetricAlerts).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to find alerts for metric %s: %w", metricID, err)
	}

	var alerts []*domain.MetricAlert
	if err := cursor.All(ctx, &alerts); err != nil {
		return nil, fmt.Errorf("failed to decode metric alerts: %w", err)
	}
	return alerts, nil
}

// EmailLogRepository implements repository.EmailLogRepository
type EmailLogRepository struct {
	client *Client
}

func NewEmailLogRepository(client *Client) *EmailLogRepository {
	return &EmailLogRepository{client: client}
}

func (r *EmailLogRepository) Append(ctx context.Context, entry *domain.EmailLog) error {
	ctx, cancel := r.client.withTimeout(ctx)
	defer cancel()

	res, err := r.client.collection(collEmailLogs).InsertOne(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to append email log: %w", err)
	}
	entry.ID = insertedHex(res.InsertedID)
	return nil
}

func (r *EmailLogRepository) LatestSentAt(ctx context.Context, metricAlertID string, severity domain.Severity) (time.Time, bool, error) {
	ctx, cancel := r.client.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"metricAlertId": metricAlertID, "severity": string(severity)}
	opts := options.FindOne().
		SetSort(bson.D{{Key: "sentAt", Value: -1}}).
		SetProjection(bson.M{"sentAt": 1})

	var entry domain.EmailLog
	err := r.client.collection(collEmailLogs).FindOne(ctx, filter, opts).Decode(&entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to find latest email log: %w", err)
	}
	return entry.SentAt, true, nil
}

func (r *EmailLogRepository) CountSince(ctx context.Context, metricAlertID string, severity domain.Severity, since time.Time) (int64, error) {
	ctx, cancel := r.client.withTimeout(ctx)
	defer cancel()

	filter := bson.M{
		"metricAlertId": metricAlertID,
		"severity":      string(severity),
		"sentAt":        bson.M{"$gte": since.UTC()},
	}

	count, err := r.client.collection(collEmailLogs).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to count email logs: %w", err)
	}
	return count, nil
}

// UserRepository implements repository.UserRepository
type UserRepository struct {
	client *Client
}

func NewUserRepository(client *Client) *UserRepository {
	return &UserRepository{client: client}
}

// FindByEmail matches case-insensitively through a strength-2 collation.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	ctx, cancel := r.client.withTimeout(ctx)
	defer cancel()

	email = strings.TrimSpace(email)
	opts := options.FindOne().SetCollation(&options.Collation{Locale: "en", Strength: 2})

	var user domain.User
	err := r.client.collection(collUsers).FindOne(ctx, bson.M{"email": email}, opts).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("user %s: %w", email, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find user %s: %w", email, err)
	}
	return &user, nil
}

// NotificationRepository implements repository.NotificationRepository
type NotificationRepository struct {
	client *Client
}

func NewNotificationRepository(client *Client) *NotificationRepository {
	return &NotificationRepository{client: client}
}

func (r *NotificationRepository) Create(ctx context.Context, notification *domain.Notification) error {
	ctx, cancel := r.client.withTimeout(ctx)
	defer cancel()

	doc := bson.M{
		"userId":      refValue(notification.UserID),
		"title":       notification.Title,
		"description": notification.Description,
		"type":        notification.Type,
		"postedAt":    notification.PostedAt.UTC(),
		"isUnread":    notification.IsUnread,
		"url":         notification.URL,
	}

	res, err := r.client.collection(collNotifications).InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	notification.ID = insertedHex(res.InsertedID)
	return nil
}
