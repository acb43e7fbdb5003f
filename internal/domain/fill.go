package domain

import "time"

// Fill is one match between a resting maker order and an incoming taker
// order. Each filled unit mints one YES and one NO share.
type Fill struct {
	FillID         string    `json:"fill_id"`
	MarketID       string    `json:"market_id"`
	MakerOrderID   string    `json:"maker_order_id"`
	TakerOrderID   string    `json:"taker_order_id"`
	MakerAccountID string    `json:"maker_account_id"`
	TakerAccountID string    `json:"taker_account_id"`
	MakerSide      Side      `json:"maker_side"`
	Price          int64     `json:"price"`       // maker's price, cents
	TakerPrice     int64     `json:"taker_price"` // 100 - Price
	Quantity       int64     `json:"quantity"`
	Sequence       uint64    `json:"sequence"`
	ExecutedAt     time.Time `json:"executed_at"`
}

// PriceFor returns the per-share price paid by the given order.
func (f *Fill) PriceFor(orderID string) int64 {
	if orderID == f.MakerOrderID {
		return f.Price
	}
	return f.TakerPrice
}

// YesPrice returns the execution price expressed on the YES side.
func (f *Fill) YesPrice() int64 {
	if f.MakerSide == SideYes {
		return f.Price
	}
	return f.TakerPrice
}

// Leg is what one party of a fill bought.
type Leg struct {
	AccountID string
	Side      Side
	Price     int64 // cents per share
}

// Legs returns the maker's leg followed by the taker's. Each party bought
// Quantity shares of its side.
func (f *Fill) Legs() [2]Leg {
	return [2]Leg{
		{AccountID: f.MakerAccountID, Side: f.MakerSide, Price: f.Price},
		{AccountID: f.TakerAccountID, Side: f.MakerSide.Opposite(), Price: f.TakerPrice},
	}
}
