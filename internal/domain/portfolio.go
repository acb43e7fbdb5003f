package domain

import "time"

// PricePoint is the traded price of a market over one interval. Prices are
// those of the last fill in the interval.
type PricePoint struct {
	Time     time.Time // interval start
	YesPrice int64
	NoPrice  int64
	Volume   int64 // shares traded in the interval
}

// Position is an account's holding of one side of an unresolved market,
// valued at the side's last traded price.
type Position struct {
	MarketID      string
	Question      string
	Side          Side
	Shares        int64
	AveragePrice  int64 // cents per share, volume weighted
	CostBasis     int64 // cents paid for Shares
	MarkPrice     int64 // cents per share
	CurrentValue  int64
	UnrealizedPnL int64
}

// UnrealizedPnLBps returns the profit or loss relative to the cost basis in
// basis points. Zero when nothing was paid.
func (p Position) UnrealizedPnLBps() int64 {
	if p.CostBasis == 0 {
		return 0
	}
	return p.UnrealizedPnL * 10000 / p.CostBasis
}
