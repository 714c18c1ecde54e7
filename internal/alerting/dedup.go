package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/cache"
	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
)

// DedupKey identifies a dashboard notification for dedup purposes
type DedupKey struct {
	RecipientID string
	MetricID    string
	Severity    domain.Severity
}

func (k DedupKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.RecipientID, k.MetricID, k.Severity)
}

// Deduper suppresses repeated dashboard notifications within a window.
type Deduper interface {
	// Reserve records key and reports true unless it was already recorded
	// less than window ago. Check and record are a single step.
	Reserve(ctx context.Context, key DedupKey, window time.Duration) (bool, error)

	// Release forgets a reservation whose notification could not be created
	Release(ctx context.Context, key DedupKey) error
}

// MemoryDedup keeps reservations in process. Expired entries are pruned
// whenever the map grows past the threshold.
type MemoryDedup struct {
	entries   *cache.TTLCache[DedupKey, time.Time]
	threshold int
	now       func() time.Time
	pruneMu   sync.Mutex
}

func NewMemoryDedup(threshold int) *MemoryDedup {
	return NewMemoryDedupWithClock(threshold, time.Now)
}

func NewMemoryDedupWithClock(threshold int, now func() time.Time) *MemoryDedup {
	if threshold <= 0 {
		threshold = 1024
	}
	return &MemoryDedup{
		entries:   cache.NewTTLCacheWithClock[DedupKey, time.Time](now),
		threshold: threshold,
		now:       now,
	}
}

func (d *MemoryDedup) Reserve(_ context.Context, key DedupKey, window time.Duration) (bool, error) {
	if d.entries.Len() > d.threshold {
		d.prune()
	}
	return d.entries.SetIfAbsent(key, d.now(), window), nil
}

func (d *MemoryDedup) Release(_ context.Context, key DedupKey) error {
	d.entries.Delete(key)
	return nil
}

// Len returns the number of tracked keys, expired ones included
func (d *MemoryDedup) Len() int {
	return d.entries.Len()
}

func (d *MemoryDedup) prune() {
	// one pruner at a time, others skip
	if !d.pruneMu.TryLock() {
		return
	}
	defer d.pruneMu.Unlock()
	d.entries.Prune()
}

const dedupKeyPrefix = "alert:dedup:"

// RedisDedup shares reservations through Valkey or Redis so they survive
// restarts. With failOpen a backend error lets the notification through.
type RedisDedup struct {
	client   redis.UniversalClient
	failOpen bool
	log      *zap.Logger
}

func NewRedisDedup(client redis.UniversalClient, failOpen bool, log *zap.Logger) *RedisDedup {
	return &RedisDedup{
		client:   client,
		failOpen: failOpen,
		log:      log,
	}
}

func (d *RedisDedup) Reserve(ctx context.Context, key DedupKey, window time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupKeyPrefix+key.String(), time.Now().UnixMilli(), window).Result()
	if err != nil {
		if d.failOpen {
			d.log.Warn("Dedup backend unavailable, allowing notification",
				zap.String("key", key.String()),
				zap.Error(err))
			return true, nil
		}
		return false, fmt.Errorf("failed to reserve dedup key %s: %w", key, err)
	}
	return ok, nil
}

func (d *RedisDedup) Release(ctx context.Context, key DedupKey) error {
	if err := d.client.Del(ctx, dedupKeyPrefix+key.String()).Err(); err != nil {
		return fmt.Errorf("failed to release dedup key %s: %w", key, err)
	}
	return nil
}

// NewRedisClient connects to Valkey/Redis and pings it. The client is
// returned even when the ping fails; it keeps redialing on use.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return client, fmt.Errorf("failed to connect to valkey: %w", err)
	}
	return client, nil
}
