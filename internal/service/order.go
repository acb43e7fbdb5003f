package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/efreitasn/predictbook/internal/domain"
	"github.com/efreitasn/predictbook/internal/engine"
	"github.com/efreitasn/predictbook/internal/store"
)

// ValidOrderStatuses lists all valid order status values for validation.
var ValidOrderStatuses = map[domain.OrderStatus]bool{
	domain.OrderStatusOpen:            true,
	domain.OrderStatusPartiallyFilled: true,
	domain.OrderStatusFilled:          true,
	domain.OrderStatusCancelled:       true,
}

// OrderService handles order submission, retrieval, cancellation, and listing.
type OrderService struct {
	registry  *engine.Registry
	orders    *store.OrderStore
	publisher *Publisher
}

// NewOrderService creates a new OrderService with the given dependencies.
func NewOrderService(registry *engine.Registry, orders *store.OrderStore, publisher *Publisher) *OrderService {
	return &OrderService{
		registry:  registry,
		orders:    orders,
		publisher: publisher,
	}
}

// Submit runs the order through the market's matching engine and publishes
// the resulting events once the market lock has been released.
func (s *OrderService) Submit(ctx context.Context, req domain.SubmitRequest) (*engine.SubmitResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m, err := s.registry.Get(req.MarketID)
	if err != nil {
		return nil, err
	}

	res, err := m.Submit(req)
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, res.Events)
	return res, nil
}

// Get retrieves an order of a market. The engine is consulted first, then
// the order history.
func (s *OrderService) Get(marketID, orderID string) (*domain.Order, error) {
	m, err := s.registry.Get(marketID)
	if err != nil {
		return nil, err
	}
	o, err := m.Order(orderID)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, domain.ErrOrderNotFound) {
		return nil, err
	}
	return s.historical(marketID, orderID)
}

func (s *OrderService) historical(marketID, orderID string) (*domain.Order, error) {
	o, err := s.orders.Get(orderID)
	if err != nil {
		return nil, err
	}
	if o.MarketID != marketID {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

// Cancel cancels a resting order on behalf of its owner. An order the
// engine no longer holds but the history knows is reported as terminal.
func (s *OrderService) Cancel(ctx context.Context, req domain.CancelRequest) (*domain.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m, err := s.registry.Get(req.MarketID)
	if err != nil {
		return nil, err
	}

	res, err := m.Cancel(req.OrderID, req.AccountID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		o, herr := s.historical(req.MarketID, req.OrderID)
		switch {
		case herr != nil:
			return nil, err
		case o.AccountID != req.AccountID:
			return nil, domain.ErrUnauthorized
		case o.Status.Terminal():
			return nil, domain.ErrOrderAlreadyTerminal
		}
	}
	if err != nil {
		return nil, err
	}
	s.publisher.Publish(ctx, res.Events)
	return res.Order, nil
}

// ListOrders returns a paginated list of orders for an account with
// optional market and status filtering.
func (s *OrderService) ListOrders(accountID string, filter store.OrderFilter, page, limit int) ([]*domain.Order, int, error) {
	if err := domain.ValidateAccountID(accountID); err != nil {
		return nil, 0, err
	}

	// Validate status if provided.
	if filter.Status != nil {
		if !ValidOrderStatuses[*filter.Status] {
			return nil, 0, &domain.ValidationError{
				Message: fmt.Sprintf("Invalid status filter: '%s'. Must be one of: OPEN, PARTIALLY_FILLED, FILLED, CANCELLED", *filter.Status),
			}
		}
	}

	// Validate pagination.
	if page < 1 {
		return nil, 0, &domain.ValidationError{
			Message: "page must be >= 1",
		}
	}
	if limit < 1 || limit > 100 {
		return nil, 0, &domain.ValidationError{
			Message: "limit must be between 1 and 100",
		}
	}

	orders, total := s.orders.ListByAccount(accountID, filter, page, limit)
	return orders, total, nil
}
