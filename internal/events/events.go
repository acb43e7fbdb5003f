// Package events defines what the engine reports after a mutation and the
// bus that fans those reports out to downstream consumers.
package events

import (
	"time"

	"github.com/efreitasn/predictbook/internal/domain"
)

// Channel names consumers subscribe to.
const (
	ChannelMarketUpdates  = "market-updates"
	ChannelNewBets        = "new-bets"
	ChannelMarketResolved = "market-resolved"
	ChannelNewMarkets     = "new-markets"
)

// Type tags an event variant on the wire.
type Type string

const (
	TypeFill      Type = "fill"
	TypeBookDelta Type = "book_delta"
	TypeOrder     Type = "order"
	TypeMarket    Type = "market"
)

// Event is one of FillEvent, BookDeltaEvent, OrderEvent or MarketEvent.
type Event interface {
	EventType() Type
	Channel() string
	Market() string
}

// FillEvent reports a single match.
type FillEvent struct {
	MarketID string       `json:"market_id"`
	Fill     *domain.Fill `json:"fill"`
}

// BookDeltaEvent reports the new aggregate quantity resting at one price
// level. A zero quantity means the level is gone.
type BookDeltaEvent struct {
	MarketID         string      `json:"market_id"`
	Side             domain.Side `json:"side"`
	Price            int64       `json:"price"`
	NewTotalQuantity int64       `json:"new_total_quantity"`
}

// OrderEvent reports an order status change.
type OrderEvent struct {
	MarketID string        `json:"market_id"`
	Order    *domain.Order `json:"order"`
}

// MarketEventKind distinguishes market lifecycle events.
type MarketEventKind string

const (
	MarketCreated  MarketEventKind = "created"
	MarketResolved MarketEventKind = "resolved"
)

// MarketEvent reports a market lifecycle transition.
type MarketEvent struct {
	Kind        MarketEventKind `json:"kind"`
	State       domain.Market   `json:"market"`
	PayoutTotal int64           `json:"payout_total,omitempty"` // cents paid to winners
	At          time.Time       `json:"at"`
}

func (FillEvent) EventType() Type      { return TypeFill }
func (BookDeltaEvent) EventType() Type { return TypeBookDelta }
func (OrderEvent) EventType() Type     { return TypeOrder }
func (MarketEvent) EventType() Type    { return TypeMarket }

func (FillEvent) Channel() string      { return ChannelNewBets }
func (BookDeltaEvent) Channel() string { return ChannelMarketUpdates }
func (OrderEvent) Channel() string     { return ChannelMarketUpdates }

func (e MarketEvent) Channel() string {
	if e.Kind == MarketCreated {
		return ChannelNewMarkets
	}
	return ChannelMarketResolved
}

func (e FillEvent) Market() string      { return e.MarketID }
func (e BookDeltaEvent) Market() string { return e.MarketID }
func (e OrderEvent) Market() string     { return e.MarketID }
func (e MarketEvent) Market() string    { return e.State.MarketID }

// Envelope is the wire form of an event.
type Envelope struct {
	Channel  string `json:"channel"`
	Type     Type   `json:"type"`
	MarketID string `json:"market_id"`
	Data     Event  `json:"data"`
}

// Wrap builds the wire envelope for e.
func Wrap(e Event) Envelope {
	return Envelope{
		Channel:  e.Channel(),
		Type:     e.EventType(),
		MarketID: e.Market(),
		Data:     e,
	}
}
