package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/efreitasn/predictbook/internal/domain"
	"github.com/efreitasn/predictbook/internal/engine"
	"github.com/efreitasn/predictbook/internal/events"
	"github.com/efreitasn/predictbook/internal/store"
)

// EventBus is where published events go after they are recorded.
type EventBus interface {
	Publish(evs ...events.Event)
}

// FillRecorder persists executed fills.
type FillRecorder interface {
	Append(ctx context.Context, fills []*domain.Fill) error
}

// Publisher records engine results in the history stores and then hands
// the events to the bus. It is always called after the market lock has
// been released.
type Publisher struct {
	orders *store.OrderStore
	fills  FillRecorder
	bus    EventBus
	logger *zap.Logger
}

// NewPublisher creates a Publisher. fills and bus may be nil.
func NewPublisher(orders *store.OrderStore, fills FillRecorder, bus EventBus, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{orders: orders, fills: fills, bus: bus, logger: logger}
}

// Publish records order updates and fills, then publishes evs. Persistence
// failures are logged and never undo an engine result.
func (p *Publisher) Publish(ctx context.Context, evs []events.Event) {
	if len(evs) == 0 {
		return
	}

	var fills []*domain.Fill
	for _, ev := range evs {
		switch e := ev.(type) {
		case events.OrderEvent:
			if p.orders != nil {
				p.orders.Upsert(e.Order)
			}
		case events.FillEvent:
			fills = append(fills, e.Fill)
		}
	}

	if p.fills != nil && len(fills) > 0 {
		if err := p.fills.Append(ctx, fills); err != nil {
			p.logger.Error("failed to journal fills",
				zap.String("market_id", fills[0].MarketID),
				zap.Int("count", len(fills)),
				zap.Error(err),
			)
		}
	}

	if p.bus != nil {
		p.bus.Publish(evs...)
	}
}

// DispatchResolved implements engine.ResolutionDispatcher.
func (p *Publisher) DispatchResolved(ctx context.Context, res *engine.ResolveResult) {
	p.Publish(ctx, res.Events)
}

func eventsOf(evs ...events.Event) []events.Event {
	return evs
}
