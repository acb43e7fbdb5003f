package service

import (
	"context"
	"fmt"

	"github.com/efreitasn/predictbook/internal/domain"
)

// Dispatcher executes any domain.Request variant against the service
// that owns it. Inputs that arrive as a stream of mixed instructions, such
// as chain transactions, go through here.
type Dispatcher struct {
	orders  *OrderService
	markets *MarketService
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(orders *OrderService, markets *MarketService) *Dispatcher {
	return &Dispatcher{orders: orders, markets: markets}
}

// Execute runs req and returns the service result: an *engine.SubmitResult,
// a cancelled *domain.Order or an *engine.ResolveResult.
func (d *Dispatcher) Execute(ctx context.Context, req domain.Request) (any, error) {
	switch r := req.(type) {
	case domain.SubmitRequest:
		return d.orders.Submit(ctx, r)
	case domain.CancelRequest:
		return d.orders.Cancel(ctx, r)
	case domain.ResolveRequest:
		return d.markets.Resolve(ctx, r)
	default:
		return nil, fmt.Errorf("unsupported request kind %q", req.Kind())
	}
}
