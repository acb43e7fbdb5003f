package store

import (
	"sync"

	"github.com/efreitasn/predictbook/internal/domain"
)

// OrderStore is a thread-safe in-memory order history, with a primary
// index by order_id and a secondary index by account_id. It holds copies
// handed out by the engine, so readers never race with matching.
type OrderStore struct {
	mu            sync.RWMutex
	orders        map[string]*domain.Order
	accountOrders map[string][]string // account_id → order_ids (append-only)
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders:        make(map[string]*domain.Order),
		accountOrders: make(map[string][]string),
	}
}

// Upsert records the latest state of an order. The first write of an order
// appends it to the account's secondary index. Copies older than the stored
// one are dropped.
func (s *OrderStore) Upsert(o *domain.Order) {
	c := o.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.orders[o.OrderID]
	if !ok {
		s.accountOrders[o.AccountID] = append(s.accountOrders[o.AccountID], o.OrderID)
	} else if stale(prev, c) {
		return
	}
	s.orders[o.OrderID] = c
}

// stale reports whether next is an older copy of prev. Filled and
// cancelled quantities only grow, and a finished order never reopens.
func stale(prev, next *domain.Order) bool {
	if prev.Status.Terminal() && !next.Status.Terminal() {
		return true
	}
	return next.FilledQuantity < prev.FilledQuantity || next.CancelledQuantity < prev.CancelledQuantity
}

// Get retrieves an order by ID. It returns
// domain.ErrOrderNotFound if the order does not exist.
func (s *OrderStore) Get(id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// OrderFilter narrows ListByAccount. Zero fields match everything.
type OrderFilter struct {
	MarketID string
	Status   *domain.OrderStatus
}

// ListByAccount returns orders for an account in reverse chronological
// order (newest first). Pagination is 1-based. Returns the matching orders
// for the requested page and the total count of matching orders (before
// pagination).
func (s *OrderStore) ListByAccount(accountID string, filter OrderFilter, page, limit int) ([]*domain.Order, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.accountOrders[accountID]

	// Filter, collecting in reverse order.
	filtered := make([]*domain.Order, 0)
	for i := len(ids) - 1; i >= 0; i-- {
		o := s.orders[ids[i]]
		if filter.MarketID != "" && o.MarketID != filter.MarketID {
			continue
		}
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		filtered = append(filtered, o)
	}

	total := len(filtered)

	// Apply pagination.
	start := (page - 1) * limit
	if start >= total {
		return []*domain.Order{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}

	out := make([]*domain.Order, 0, end-start)
	for _, o := range filtered[start:end] {
		out = append(out, o.Clone())
	}
	return out, total
}
