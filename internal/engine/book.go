package engine

import (
	"iter"
	"slices"

	"github.com/efreitasn/predictbook/internal/domain"
	"github.com/google/btree"
)

// OrderBookEntry represents a single order resting on the book.
type OrderBookEntry struct {
	Price    int64
	Sequence uint64
	OrderID  string
	Order    *domain.Order
}

// PriceLevel represents an aggregated price level in the order book.
type PriceLevel struct {
	Price         int64 `json:"price"`
	TotalQuantity int64 `json:"total_quantity"`
	OrderCount    int   `json:"order_count"`
}

// entryLess orders both sides the same way: price descending, then
// sequence ascending, then order_id ascending. Every resting order is a buy,
// so the highest price is the most aggressive and Min() returns the best
// order (highest price, oldest).
func entryLess(a, b OrderBookEntry) bool {
	if a.Price != b.Price {
		return a.Price > b.Price
	}
	if a.Sequence != b.Sequence {
		return a.Sequence < b.Sequence
	}
	return a.OrderID < b.OrderID
}

// OrderBook holds the resting YES and NO buy orders of one market in
// B-trees with a secondary index for O(log n) removal by order ID.
// It is not safe for concurrent use; the owning Matcher serializes access.
type OrderBook struct {
	marketID string
	yes      *btree.BTreeG[OrderBookEntry]
	no       *btree.BTreeG[OrderBookEntry]
	index    map[string]OrderBookEntry // order_id → entry
}

// NewOrderBook creates an empty order book for the given market.
func NewOrderBook(marketID string) *OrderBook {
	const degree = 32
	return &OrderBook{
		marketID: marketID,
		yes:      btree.NewG[OrderBookEntry](degree, entryLess),
		no:       btree.NewG[OrderBookEntry](degree, entryLess),
		index:    make(map[string]OrderBookEntry),
	}
}

func (ob *OrderBook) tree(side domain.Side) *btree.BTreeG[OrderBookEntry] {
	if side == domain.SideYes {
		return ob.yes
	}
	return ob.no
}

// Insert rests an order on its side of the book.
func (ob *OrderBook) Insert(o *domain.Order) error {
	if o.Type != domain.OrderTypeLimit || !domain.ValidPrice(o.Price) {
		return domain.ErrInvalidPrice
	}
	if o.RemainingQuantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	entry := OrderBookEntry{
		Price:    o.Price,
		Sequence: o.Sequence,
		OrderID:  o.OrderID,
		Order:    o,
	}
	ob.tree(o.Side).ReplaceOrInsert(entry)
	ob.index[o.OrderID] = entry
	return nil
}

// Remove deletes an order from the book by order ID using the
// secondary index.
func (ob *OrderBook) Remove(orderID string) (*domain.Order, error) {
	entry, ok := ob.index[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	delete(ob.index, orderID)
	ob.tree(entry.Order.Side).Delete(entry)
	return entry.Order, nil
}

// Get returns a resting order by ID.
func (ob *OrderBook) Get(orderID string) (*domain.Order, bool) {
	entry, ok := ob.index[orderID]
	if !ok {
		return nil, false
	}
	return entry.Order, true
}

// Best returns the highest-priority order on a side.
func (ob *OrderBook) Best(side domain.Side) (*domain.Order, bool) {
	entry, ok := ob.tree(side).Min()
	if !ok {
		return nil, false
	}
	return entry.Order, true
}

// BestOpposing returns the best resting order on the side complementary to
// side that a buyer of side at limitPrice can cross: its price must be at
// least 100 − limitPrice. A zero limitPrice stands for a market order,
// which crosses anything.
func (ob *OrderBook) BestOpposing(side domain.Side, limitPrice int64) (*domain.Order, bool) {
	best, ok := ob.Best(side.Opposite())
	if !ok {
		return nil, false
	}
	if limitPrice > 0 && best.Price < domain.ComplementPrice(limitPrice) {
		return nil, false
	}
	return best, true
}

// Walk iterates a side in priority order. The callback returns true to
// continue, false to stop.
func (ob *OrderBook) Walk(side domain.Side, fn func(*domain.Order) bool) {
	ob.tree(side).Ascend(func(entry OrderBookEntry) bool {
		return fn(entry.Order)
	})
}

// Depth yields up to levels aggregated price levels of a side, best price
// first. The sequence reads the book each time it is ranged over, so it can
// be restarted, and it must be consumed under the market lock.
func (ob *OrderBook) Depth(side domain.Side, levels int) iter.Seq[PriceLevel] {
	return func(yield func(PriceLevel) bool) {
		if levels <= 0 {
			return
		}
		var (
			cur     PriceLevel
			have    bool
			emitted int
			stopped bool
		)
		ob.tree(side).Ascend(func(entry OrderBookEntry) bool {
			if have && cur.Price == entry.Price {
				cur.TotalQuantity += entry.Order.RemainingQuantity
				cur.OrderCount++
				return true
			}
			if have {
				if !yield(cur) {
					stopped = true
					return false
				}
				emitted++
				if emitted >= levels {
					stopped = true
					return false
				}
			}
			cur = PriceLevel{
				Price:         entry.Price,
				TotalQuantity: entry.Order.RemainingQuantity,
				OrderCount:    1,
			}
			have = true
			return true
		})
		if have && !stopped {
			yield(cur)
		}
	}
}

// Levels collects up to n aggregated price levels of a side.
func (ob *OrderBook) Levels(side domain.Side, n int) []PriceLevel {
	levels := slices.Collect(ob.Depth(side, n))
	if levels == nil {
		levels = []PriceLevel{}
	}
	return levels
}

// LevelQuantity returns the total remaining quantity resting at one price.
func (ob *OrderBook) LevelQuantity(side domain.Side, price int64) int64 {
	var total int64
	pivot := OrderBookEntry{Price: price}
	ob.tree(side).AscendGreaterOrEqual(pivot, func(entry OrderBookEntry) bool {
		if entry.Price != price {
			return false
		}
		total += entry.Order.RemainingQuantity
		return true
	})
	return total
}

// Orders returns every resting order, YES side first, each side in
// priority order.
func (ob *OrderBook) Orders() []*domain.Order {
	out := make([]*domain.Order, 0, len(ob.index))
	for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
		ob.Walk(side, func(o *domain.Order) bool {
			out = append(out, o)
			return true
		})
	}
	return out
}

// Len returns the number of individual orders resting on a side.
func (ob *OrderBook) Len(side domain.Side) int {
	return ob.tree(side).Len()
}
