package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/efreitasn/predictbook/internal/domain"
	"github.com/efreitasn/predictbook/internal/engine"
)

// SnapshotStore persists market snapshots.
type SnapshotStore interface {
	Save(marketID string, data []byte) error
	LoadAll() (map[string][]byte, error)
}

// OrderHistory receives the orders of restored markets.
type OrderHistory interface {
	Upsert(o *domain.Order)
}

// SnapshotJob periodically writes a snapshot of every market so that the
// engine can be rebuilt after a restart.
type SnapshotJob struct {
	interval time.Duration
	registry *engine.Registry
	store    SnapshotStore
	history  OrderHistory
	logger   *zap.Logger
}

// NewSnapshotJob creates a SnapshotJob. history may be nil.
func NewSnapshotJob(interval time.Duration, registry *engine.Registry, store SnapshotStore, history OrderHistory, logger *zap.Logger) *SnapshotJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotJob{
		interval: interval,
		registry: registry,
		store:    store,
		history:  history,
		logger:   logger,
	}
}

// Start launches a background goroutine that snapshots every market at the
// configured interval. It stops when ctx is cancelled.
func (j *SnapshotJob) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := j.RunOnce(); err != nil {
					j.logger.Error("snapshot run failed", zap.Error(err))
				}
			}
		}
	}()
}

// RunOnce snapshots every market. It keeps going past individual failures
// and reports them together.
func (j *SnapshotJob) RunOnce() error {
	var errs []error
	for _, mkt := range j.registry.List() {
		data, err := j.registry.Snapshot(mkt.MarketID)
		if err != nil {
			errs = append(errs, fmt.Errorf("snapshot %s: %w", mkt.MarketID, err))
			continue
		}
		if err := j.store.Save(mkt.MarketID, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RestoreAll loads every stored snapshot into the registry, refills the
// order history and returns the restored markets. A snapshot that fails to
// restore is logged and skipped so one broken market does not keep the
// others down.
func (j *SnapshotJob) RestoreAll() ([]domain.Market, error) {
	all, err := j.store.LoadAll()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	markets := make([]domain.Market, 0, len(ids))
	for _, id := range ids {
		m, err := j.registry.Restore(all[id])
		if err != nil {
			j.logger.Error("failed to restore market", zap.String("market_id", id), zap.Error(err))
			continue
		}
		if err := m.Halted(); err != nil {
			j.logger.Warn("restored market is halted", zap.String("market_id", id), zap.Error(err))
		}
		if j.history != nil {
			for _, o := range m.Orders() {
				j.history.Upsert(o)
			}
		}
		markets = append(markets, m.Market())
	}
	return markets, nil
}
