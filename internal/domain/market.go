package domain

import "time"

// Outcome is the resolved result of a market. The zero value means the
// outcome is not known yet.
type Outcome string

const (
	OutcomeUnset Outcome = ""
	OutcomeYes   Outcome = "YES"
	OutcomeNo    Outcome = "NO"
)

// Valid reports whether o names a winning side.
func (o Outcome) Valid() bool {
	return o == OutcomeYes || o == OutcomeNo
}

// WinningSide maps an outcome to the side that is paid out.
func (o Outcome) WinningSide() Side {
	return Side(o)
}

// MarketStatus is the settlement state of a market.
type MarketStatus string

const (
	MarketStatusOpen      MarketStatus = "OPEN"
	MarketStatusResolving MarketStatus = "RESOLVING"
	MarketStatusResolved  MarketStatus = "RESOLVED"
)

// Market is a binary question traded as complementary YES and NO shares.
// Everything except Status, Outcome and ResolvedAt is fixed at creation.
type Market struct {
	MarketID         string       `json:"market_id"`
	Question         string       `json:"question"`
	Description      string       `json:"description,omitempty"`
	Category         string       `json:"category,omitempty"`
	ResolutionSource string       `json:"resolution_source"`
	EndTime          time.Time    `json:"end_time"`
	Status           MarketStatus `json:"status"`
	Outcome          Outcome      `json:"outcome,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	ResolvedAt       *time.Time   `json:"resolved_at,omitempty"`
}

// Resolved reports whether the one-way resolution transition happened.
func (m *Market) Resolved() bool {
	return m.Status == MarketStatusResolved
}

// Ended reports whether trading time is over at now.
func (m *Market) Ended(now time.Time) bool {
	return !now.Before(m.EndTime)
}
