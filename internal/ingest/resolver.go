// Package ingest turns decoded telemetry into persisted state: it resolves
// the reporting store and fans a message out into readings.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
	"github.com/BarkinBalci/telemetry-pipeline/internal/metrics"
	"github.com/BarkinBalci/telemetry-pipeline/internal/repository"
)

// ErrStoreCodeRequired is returned for an empty or blank store code.
var ErrStoreCodeRequired = errors.New("store code is required")

// NormalizeCode is the canonical form of a store code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// FallbackStoreName is the name given to a store first seen without one.
func FallbackStoreName(code string) string {
	return "Punto de Venta " + code
}

// StoreResolver finds or creates stores by code
type StoreResolver struct {
	stores repository.StoreRepository
	now    func() time.Time
	log    *zap.Logger
}

func NewStoreResolver(stores repository.StoreRepository, log *zap.Logger) *StoreResolver {
	return &StoreResolver{
		stores: stores,
		now:    time.Now,
		log:    log,
	}
}

// GetOrCreate returns the store for code, creating it with defaults when it
// does not exist. Losing a creation race to a concurrent call is not an
// error: the winner's row is fetched and returned.
func (r *StoreResolver) GetOrCreate(ctx context.Context, code string, defaults domain.StoreDefaults) (*domain.Store, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrStoreCodeRequired
	}
	if defaults.FallbackName == "" {
		defaults.FallbackName = FallbackStoreName(code)
	}

	store, created, err := r.stores.Upsert(ctx, code, defaults, r.now())
	if err == nil {
		if created {
			metrics.StoreResolutions.WithLabelValues("created").Inc()
			r.log.Info("Store created",
				zap.String("store_code", code),
				zap.String("store_id", store.ID),
				zap.String("name", store.Name))
		} else {
			metrics.StoreResolutions.WithLabelValues("existing").Inc()
		}
		return store, nil
	}

	if !errors.Is(err, repository.ErrDuplicate) {
		metrics.StoreResolutions.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to resolve store %s: %w", code, err)
	}

	store, err = r.stores.FindByCode(ctx, code)
	if err != nil {
		metrics.StoreResolutions.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to refetch store %s after race: %w", code, err)
	}

	metrics.StoreResolutions.WithLabelValues("race").Inc()
	r.log.Debug("Store creation race resolved by refetch", zap.String("store_code", code))
	return store, nil
}

// MarkStatus records a connectivity report for an existing store. Reports for
// unknown stores are ignored.
func (r *StoreResolver) MarkStatus(ctx context.Context, update *domain.StatusUpdate) error {
	code := NormalizeCode(update.StoreCode)
	if code == "" {
		return ErrStoreCodeRequired
	}

	err := r.stores.UpdateStatus(ctx, code, update.Status, update.At)
	if errors.Is(err, repository.ErrNotFound) {
		r.log.Debug("Status for unknown store ignored", zap.String("store_code", code))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to record status of store %s: %w", code, err)
	}
	return nil
}
