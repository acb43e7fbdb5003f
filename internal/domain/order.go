package domain

import "time"

// Price bounds in cents. A share pays UnitCents on a winning outcome, so a
// YES price and the matching NO price always sum to UnitCents.
const (
	MinPrice  int64 = 1
	MaxPrice  int64 = 99
	UnitCents int64 = 100
)

// Size bounds. Every collateral amount a market handles fits in
// MaxCollateral, so no price×quantity product or running sum can overflow.
const (
	MaxQuantity   int64 = 1_000_000_000_000
	MaxCollateral int64 = UnitCents * MaxQuantity
)

// Side is one of the two complementary outcomes of a market.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Valid reports whether s is YES or NO.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Opposite returns the complementary side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// ComplementPrice returns the price on the other side that makes a pair
// worth exactly one collateral unit.
func ComplementPrice(p int64) int64 {
	return UnitCents - p
}

// ValidPrice reports whether p is a legal resting limit price.
func ValidPrice(p int64) bool {
	return p >= MinPrice && p <= MaxPrice
}

// OrderType distinguishes limit orders from market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "OPEN"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// Terminal reports whether no further mutation is permitted.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// Order is a buy instruction for shares of one side of a market.
type Order struct {
	OrderID            string      `json:"order_id"`
	MarketID           string      `json:"market_id"`
	AccountID          string      `json:"account_id"`
	Side               Side        `json:"side"`
	Type               OrderType   `json:"type"`
	Price              int64       `json:"price"` // cents, 0 for market orders
	Quantity           int64       `json:"quantity"`
	FilledQuantity     int64       `json:"filled_quantity"`
	RemainingQuantity  int64       `json:"remaining_quantity"`
	CancelledQuantity  int64       `json:"cancelled_quantity"`
	ReservedCollateral int64       `json:"reserved_collateral"` // cents still held for the remainder
	Sequence           uint64      `json:"sequence"`
	Status             OrderStatus `json:"status"`
	CreatedAt          time.Time   `json:"created_at"`
	CancelledAt        *time.Time  `json:"cancelled_at,omitempty"`
	Fills              []*Fill     `json:"-"`
}

// AveragePrice computes the volume-weighted average price this order paid
// per share, using integer arithmetic. Returns (price, true) when fills
// exist, or (0, false) otherwise.
func (o *Order) AveragePrice() (int64, bool) {
	if len(o.Fills) == 0 || o.FilledQuantity == 0 {
		return 0, false
	}
	var total int64
	for _, f := range o.Fills {
		total += f.PriceFor(o.OrderID) * f.Quantity
	}
	return total / o.FilledQuantity, true
}

// Clone returns a copy of the order that is safe to hand out after the
// market lock is released. Fills are immutable and shared.
func (o *Order) Clone() *Order {
	c := *o
	c.Fills = append([]*Fill(nil), o.Fills...)
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}
