package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/efreitasn/predictbook/internal/domain"
	"github.com/efreitasn/predictbook/internal/events"
)

// ResolveOptions tunes a resolution.
type ResolveOptions struct {
	// Override allows resolving before the market's end time.
	Override bool
	// Now replaces the settlement clock when non-zero.
	Now time.Time
}

// Payout is the collateral credited to one winning account.
type Payout struct {
	AccountID string `json:"account_id"`
	Shares    int64  `json:"shares"`
	Amount    int64  `json:"amount"` // cents
}

// ResolveResult is the outcome of a resolution.
type ResolveResult struct {
	Market          domain.Market
	Payouts         []Payout
	PayoutTotal     int64
	CancelledOrders []*domain.Order
	Events          []events.Event
}

// Settlement fixes market outcomes and pays winning shares out of escrow.
type Settlement struct {
	registry *Registry
	oracle   Oracle
	clock    Clock
}

// NewSettlement creates a settlement coordinator. oracle may be nil when
// outcomes are only ever supplied explicitly.
func NewSettlement(registry *Registry, oracle Oracle, clock Clock) *Settlement {
	if clock == nil {
		clock = realClock{}
	}
	return &Settlement{registry: registry, oracle: oracle, clock: clock}
}

// Resolve fixes the outcome of a market. Resting orders are cancelled and
// their reservations released, every winning share pays one unit, and
// losing shares are burned. A market resolves at most once.
func (s *Settlement) Resolve(marketID string, outcome domain.Outcome, opts ResolveOptions) (*ResolveResult, error) {
	req := domain.ResolveRequest{MarketID: marketID, Outcome: outcome, Override: opts.Override}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m, err := s.registry.Get(marketID)
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now.IsZero() {
		now = s.clock.Now()
	}
	return m.resolve(outcome, opts.Override, now)
}

// ResolveFromOracle asks the oracle for the outcome and resolves with it.
// The oracle is consulted without holding any market lock.
func (s *Settlement) ResolveFromOracle(ctx context.Context, marketID string) (*ResolveResult, error) {
	if s.oracle == nil {
		return nil, domain.ErrOutcomePending
	}
	if _, err := s.registry.Get(marketID); err != nil {
		return nil, err
	}
	outcome, err := s.oracle.Outcome(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("oracle outcome for %s: %w", marketID, err)
	}
	if outcome == domain.OutcomeUnset {
		return nil, domain.ErrOutcomePending
	}
	return s.Resolve(marketID, outcome, ResolveOptions{})
}

// resolve runs the whole settlement under the market lock, so no order can
// be admitted between the status change and the payouts.
func (m *Matcher) resolve(outcome domain.Outcome, override bool, now time.Time) (*ResolveResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.market.Resolved() {
		return nil, domain.ErrAlreadyResolved
	}
	if m.halted != nil {
		return nil, m.haltedErr()
	}
	if !override && !m.market.Ended(now) {
		return nil, domain.ErrMarketStillOpen
	}

	m.market.Status = domain.MarketStatusResolving
	res := &ResolveResult{}

	// Cancel every resting order.
	touched := newLevelSet()
	for _, o := range m.book.Orders() {
		if _, err := m.book.Remove(o.OrderID); err != nil {
			return nil, m.halt(err)
		}
		if err := m.cancelRemainder(o, now); err != nil {
			return nil, m.halt(err)
		}
		touched.add(o.Side, o.Price)
		res.CancelledOrders = append(res.CancelledOrders, o.Clone())
	}

	// Pay winners and burn losers.
	win := outcome.WinningSide()
	for _, id := range m.ledger.Accounts() {
		shares := m.ledger.Balance(id).Shares(win)
		if shares > 0 {
			if err := m.ledger.Payout(id, win, shares); err != nil {
				return nil, m.halt(err)
			}
			amount := domain.UnitCents * shares
			res.Payouts = append(res.Payouts, Payout{AccountID: id, Shares: shares, Amount: amount})
			res.PayoutTotal += amount
		}
		m.ledger.Zero(id, win.Opposite())
	}
	m.ledger.retire()

	if err := m.checkInvariants(); err != nil {
		return nil, m.halt(err)
	}

	m.market.Status = domain.MarketStatusResolved
	m.market.Outcome = outcome
	resolvedAt := now
	m.market.ResolvedAt = &resolvedAt
	res.Market = m.copyMarket()

	res.Events = append(res.Events, m.deltas(touched)...)
	for _, o := range res.CancelledOrders {
		res.Events = append(res.Events, events.OrderEvent{MarketID: m.market.MarketID, Order: o})
	}
	res.Events = append(res.Events, events.MarketEvent{
		Kind:        events.MarketResolved,
		State:       res.Market,
		PayoutTotal: res.PayoutTotal,
		At:          now,
	})
	return res, nil
}
