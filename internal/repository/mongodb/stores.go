package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
	"github.com/BarkinBalci/telemetry-pipeline/internal/repository"
)

// StoreRepository implements repository.StoreRepository
type StoreRepository struct {
	client *Client
}

func NewStoreRepository(client *Client) *StoreRepository {
	return &StoreRepository{client: client}
}

// Upsert issues one findOneAndUpdate with upsert. Two concurrent upserts of
// a new code can both choose to insert; the loser fails on the unique index
// and gets repository.ErrDuplicate.
func (r *StoreRepository) Upsert(ctx context.Context, code string, defaults domain.StoreDefaults, now time.Time) (*domain.Store, bool, error) {
	ctx, cancel := r.client.withTimeout(ctx)
	defer cancel()

	// Mongo keeps millisecond precision; truncating lets createdAt be compared
	// with now to tell an insert from an update.
	now = now.UTC().Truncate(time.Millisecond)

	set := bson.M{
		"updatedAt":  now,
		"lastSeenAt": now,
	}
	setOnInsert := bson.M{
		"status":    domain.StoreStatusActive,
		"createdAt": now,
	}

	if defaults.Name != "" {
		set["name"] = defaults.Name
	} else {
		setOnInsert["name"] = defaults.FallbackName
	}
	if defaults.ClientID != "" {
		setOnInsert["clientId"] = defaults.ClientID
	}
	if defaults.Lat != nil {
		set["lat"] = *defaults.Lat
	}
	if defaults.Long != nil {
		set["long"] = *defaults.Long
	}
	if len(defaults.Meta) > 0 {
		setOnInsert["meta"] = defaults.Meta
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	update := bson.M{"$set": set, "$setOnInsert": setOnInsert}

	var store domain.Store
	err := r.client.collection(collStores).FindOneAndUpdate(ctx, bson.M{"code": code}, update, opts).Decode(&store)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, false, fmt.Errorf("%w: store %s", repository.ErrDuplicate, code)
		}
		return nil, false, fmt.Errorf("failed to upsert store %s: %w", code, err)
	}

	return &store, store.CreatedAt.Equal(now), nil
}

func (r *StoreRepository) FindByCode(ctx context.Context, code string) (*domain.Store, error) {
	ctx, cancel := r.client.withTimeout(ctx)
	defer cancel()

	var store domain.Store
	err := r.client.collection(collStores).FindOne(ctx, bson.M{"code": code}).Decode(&store)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("store %s: %w", code, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find store %s: %w", code, err)
	}
	return &store, nil
}

func (r *StoreRepository) UpdateStatus(ctx context.Context, code, status string, at time.Time) error {
	ctx, cancel := r.client.withTimeout(ctx)
	defer cancel()

	res, err := r.client.collection(collStores).UpdateOne(ctx,
		bson.M{"code": code},
		bson.M{"$set": bson.M{"status": status, "lastSeenAt": at.UTC(), "updatedAt": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to update status of store %s: %w", code, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("store %s: %w", code, repository.ErrNotFound)
	}
	return nil
}
