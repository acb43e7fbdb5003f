package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/efreitasn/predictbook/internal/domain"
)

// ResolutionDispatcher receives settlements performed by the watcher,
// decoupling the engine layer from persistence and event delivery.
type ResolutionDispatcher interface {
	DispatchResolved(ctx context.Context, res *ResolveResult)
}

type watchedMarket struct {
	marketID string
	endTime  time.Time
}

// ResolutionWatcher tracks open markets sorted by end time and, once a
// market's trading window has closed, resolves it as soon as the oracle
// knows the outcome.
type ResolutionWatcher struct {
	interval   time.Duration
	settlement *Settlement
	dispatcher ResolutionDispatcher
	logger     *zap.Logger
	markets    []watchedMarket // sorted by endTime ASC
	mu         sync.Mutex      // protects markets
}

// NewResolutionWatcher creates a watcher with the given dependencies.
func NewResolutionWatcher(
	interval time.Duration,
	settlement *Settlement,
	dispatcher ResolutionDispatcher,
	logger *zap.Logger,
) *ResolutionWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResolutionWatcher{
		interval:   interval,
		settlement: settlement,
		dispatcher: dispatcher,
		logger:     logger,
		markets:    make([]watchedMarket, 0),
	}
}

// Add starts watching an open market.
func (w *ResolutionWatcher) Add(market domain.Market) {
	if market.Status != domain.MarketStatusOpen {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.insert(watchedMarket{marketID: market.MarketID, endTime: market.EndTime})
}

func (w *ResolutionWatcher) insert(wm watchedMarket) {
	idx := sort.Search(len(w.markets), func(i int) bool {
		return w.markets[i].endTime.After(wm.endTime)
	})
	w.markets = append(w.markets, watchedMarket{})
	copy(w.markets[idx+1:], w.markets[idx:])
	w.markets[idx] = wm
}

// Remove stops watching a market, e.g. after a manual resolution.
func (w *ResolutionWatcher) Remove(marketID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, wm := range w.markets {
		if wm.marketID == marketID {
			w.markets = append(w.markets[:i], w.markets[i+1:]...)
			return
		}
	}
}

// Start launches a background goroutine that ticks at the configured
// interval. It stops when ctx is cancelled.
func (w *ResolutionWatcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				w.tick(ctx, t)
			}
		}
	}()
}

// tick takes every market whose end time has passed off the front of the
// queue and tries to resolve it. Markets whose outcome is still pending go
// back into the queue for the next tick.
func (w *ResolutionWatcher) tick(ctx context.Context, now time.Time) {
	w.mu.Lock()
	cutoff := 0
	for cutoff < len(w.markets) && !w.markets[cutoff].endTime.After(now) {
		cutoff++
	}
	due := append([]watchedMarket(nil), w.markets[:cutoff]...)
	w.markets = w.markets[cutoff:]
	w.mu.Unlock()

	for _, wm := range due {
		if !w.resolve(ctx, wm) {
			w.mu.Lock()
			w.insert(wm)
			w.mu.Unlock()
		}
	}
}

// resolve reports whether the market no longer needs watching.
func (w *ResolutionWatcher) resolve(ctx context.Context, wm watchedMarket) bool {
	res, err := w.settlement.ResolveFromOracle(ctx, wm.marketID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrOutcomePending):
		return false
	case errors.Is(err, domain.ErrAlreadyResolved), errors.Is(err, domain.ErrMarketNotFound):
		return true
	case errors.Is(err, domain.ErrInvalidState):
		w.logger.Error("market halted during resolution", zap.String("market_id", wm.marketID), zap.Error(err))
		return true
	default:
		w.logger.Warn("resolution attempt failed", zap.String("market_id", wm.marketID), zap.Error(err))
		return false
	}

	w.logger.Info("market resolved",
		zap.String("market_id", wm.marketID),
		zap.String("outcome", string(res.Market.Outcome)),
		zap.Int64("payout_total", res.PayoutTotal),
	)
	if w.dispatcher != nil {
		w.dispatcher.DispatchResolved(ctx, res)
	}
	return true
}

// WatchedCount returns the number of markets awaiting resolution. Useful
// for testing.
func (w *ResolutionWatcher) WatchedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.markets)
}
