package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/predictbook/internal/domain"
	"github.com/efreitasn/predictbook/internal/events"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// SubmitResult is the outcome of a submission. Order and MakerOrders are
// copies taken under the market lock.
type SubmitResult struct {
	Order       *domain.Order
	Fills       []*domain.Fill
	MakerOrders []*domain.Order
	Events      []events.Event
}

// CancelResult is the outcome of a cancellation.
type CancelResult struct {
	Order  *domain.Order
	Events []events.Event
}

// QuotePriceLevel represents a single price level in a quote simulation.
type QuotePriceLevel struct {
	Price    int64 `json:"price"` // price paid by the incoming buyer
	Quantity int64 `json:"quantity"`
}

// QuoteResult holds the result of a market order simulation.
type QuoteResult struct {
	QuantityAvailable int64
	FullyFillable     bool
	EstimatedAvgPrice *int64 // nil when no liquidity
	EstimatedTotal    *int64 // nil when no liquidity
	PriceLevels       []QuotePriceLevel
}

// Matcher is the matching engine of a single market and the only writer
// of its OrderBook and Ledger. Every mutation holds mu for its whole pass;
// markets never share a lock.
type Matcher struct {
	mu     sync.Mutex
	market domain.Market
	book   *OrderBook
	ledger *Ledger
	orders map[string]*domain.Order // every order admitted to this market

	// applied holds the references credited through DepositOnce.
	applied map[string]struct{}

	orderSeq atomic.Uint64 // assigned at admission, before mu
	fillSeq  uint64

	// halted is set when an invariant check fails; all later mutations
	// are refused until the market is recovered from a snapshot.
	halted error

	clock Clock
}

func newMatcher(market domain.Market, clock Clock) *Matcher {
	if clock == nil {
		clock = realClock{}
	}
	return &Matcher{
		market:  market,
		book:    NewOrderBook(market.MarketID),
		ledger:  NewLedger(),
		orders:  make(map[string]*domain.Order),
		applied: make(map[string]struct{}),
		clock:   clock,
	}
}

// ID returns the market ID.
func (m *Matcher) ID() string {
	return m.market.MarketID
}

// Market returns a copy of the market record.
func (m *Matcher) Market() domain.Market {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.copyMarket()
}

func (m *Matcher) copyMarket() domain.Market {
	c := m.market
	if m.market.ResolvedAt != nil {
		t := *m.market.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}

// Submit admits a new order, matches it against the opposing side at the
// maker's price, mints one YES and one NO share per matched unit, and rests
// any limit remainder. Market order remainders are cancelled.
//
// Validation and funds checks happen before any state is touched, so a
// rejected submission leaves the market unchanged.
func (m *Matcher) Submit(req domain.SubmitRequest) (*SubmitResult, error) {
	if req.MarketID != m.market.MarketID {
		return nil, domain.ErrMarketNotFound
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Time priority is fixed at admission.
	seq := m.orderSeq.Add(1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writable(); err != nil {
		return nil, err
	}

	// Step 1: Validate and reserve the worst-case obligation.
	var reserve int64
	if req.Type == domain.OrderTypeLimit {
		reserve = req.Price * req.Quantity
	} else {
		reserve = m.simulateCost(req.Side, req.Quantity)
	}
	if err := m.ledger.ReserveCollateral(req.AccountID, reserve); err != nil {
		return nil, err
	}

	now := m.clock.Now()
	order := &domain.Order{
		OrderID:            uuid.New().String(),
		MarketID:           m.market.MarketID,
		AccountID:          req.AccountID,
		Side:               req.Side,
		Type:               req.Type,
		Price:              req.Price,
		Quantity:           req.Quantity,
		RemainingQuantity:  req.Quantity,
		ReservedCollateral: reserve,
		Sequence:           seq,
		Status:             domain.OrderStatusOpen,
		CreatedAt:          now,
		Fills:              []*domain.Fill{},
	}
	m.orders[order.OrderID] = order

	res := &SubmitResult{}
	touched := newLevelSet()
	makers := make(map[string]*domain.Order)

	// Step 2: Match loop.
	for order.RemainingQuantity > 0 {
		maker, ok := m.book.BestOpposing(order.Side, order.Price)
		if !ok {
			break
		}

		fill, err := m.execute(order, maker, now)
		if err != nil {
			return nil, m.halt(err)
		}
		res.Fills = append(res.Fills, fill)
		makers[maker.OrderID] = maker
		touched.add(maker.Side, maker.Price)

		if maker.RemainingQuantity == 0 {
			if _, err := m.book.Remove(maker.OrderID); err != nil {
				return nil, m.halt(fmt.Errorf("%w: filled maker %s missing from book", domain.ErrInvalidState, maker.OrderID))
			}
		}
	}

	// Step 3: Rest or complete.
	if order.RemainingQuantity > 0 {
		if order.Type == domain.OrderTypeLimit {
			if err := m.book.Insert(order); err != nil {
				return nil, m.halt(fmt.Errorf("%w: resting order %s: %v", domain.ErrInvalidState, order.OrderID, err))
			}
			touched.add(order.Side, order.Price)
		} else {
			// Market orders never rest.
			if err := m.cancelRemainder(order, now); err != nil {
				return nil, m.halt(err)
			}
		}
	}

	if err := m.checkInvariants(); err != nil {
		return nil, m.halt(err)
	}

	// Step 4: Collect results and events for dispatch after unlock.
	res.Order = order.Clone()
	for _, f := range res.Fills {
		res.Events = append(res.Events, events.FillEvent{MarketID: m.market.MarketID, Fill: f})
	}
	res.Events = append(res.Events, m.deltas(touched)...)
	res.Events = append(res.Events, events.OrderEvent{MarketID: m.market.MarketID, Order: res.Order})
	for _, f := range res.Fills {
		maker, ok := makers[f.MakerOrderID]
		if !ok {
			continue
		}
		delete(makers, f.MakerOrderID)
		c := maker.Clone()
		res.MakerOrders = append(res.MakerOrders, c)
		res.Events = append(res.Events, events.OrderEvent{MarketID: m.market.MarketID, Order: c})
	}
	return res, nil
}

// execute matches the taker against one maker for min(remaining) units at
// the maker's price and settles the ledger.
func (m *Matcher) execute(taker, maker *domain.Order, now time.Time) (*domain.Fill, error) {
	qty := taker.RemainingQuantity
	if maker.RemainingQuantity < qty {
		qty = maker.RemainingQuantity
	}

	makerCost := maker.Price * qty
	takerPrice := domain.ComplementPrice(maker.Price)
	takerCost := takerPrice * qty

	// A limit taker reserved its own limit price; the difference to the
	// execution price goes back to free collateral.
	var refund int64
	if taker.Type == domain.OrderTypeLimit {
		refund = (taker.Price - takerPrice) * qty
		if refund < 0 {
			return nil, fmt.Errorf("%w: uncrossed match taker=%d maker=%d", domain.ErrInvalidState, taker.Price, maker.Price)
		}
	}
	if taker.ReservedCollateral < takerCost+refund || maker.ReservedCollateral < makerCost {
		return nil, fmt.Errorf("%w: order reservations cannot cover match", domain.ErrInvalidState)
	}
	if err := m.ledger.ReleaseCollateral(taker.AccountID, refund); err != nil {
		return nil, err
	}

	yesAcct, yesCost, noAcct, noCost := taker.AccountID, takerCost, maker.AccountID, makerCost
	if taker.Side == domain.SideNo {
		yesAcct, yesCost, noAcct, noCost = maker.AccountID, makerCost, taker.AccountID, takerCost
	}
	if err := m.ledger.MintShares(yesAcct, yesCost, noAcct, noCost, qty); err != nil {
		return nil, err
	}

	taker.ReservedCollateral -= takerCost + refund
	maker.ReservedCollateral -= makerCost

	taker.RemainingQuantity -= qty
	taker.FilledQuantity += qty
	maker.RemainingQuantity -= qty
	maker.FilledQuantity += qty
	taker.Status = fillStatus(taker)
	maker.Status = fillStatus(maker)

	m.fillSeq++
	fill := &domain.Fill{
		FillID:         uuid.New().String(),
		MarketID:       m.market.MarketID,
		MakerOrderID:   maker.OrderID,
		TakerOrderID:   taker.OrderID,
		MakerAccountID: maker.AccountID,
		TakerAccountID: taker.AccountID,
		MakerSide:      maker.Side,
		Price:          maker.Price,
		TakerPrice:     takerPrice,
		Quantity:       qty,
		Sequence:       m.fillSeq,
		ExecutedAt:     now,
	}
	taker.Fills = append(taker.Fills, fill)
	maker.Fills = append(maker.Fills, fill)
	return fill, nil
}

func fillStatus(o *domain.Order) domain.OrderStatus {
	switch {
	case o.RemainingQuantity == 0:
		return domain.OrderStatusFilled
	case o.FilledQuantity > 0:
		return domain.OrderStatusPartiallyFilled
	default:
		return domain.OrderStatusOpen
	}
}

// cancelRemainder cancels whatever is left of an order and releases its
// reservation. A market order that filled completely stays FILLED.
func (m *Matcher) cancelRemainder(o *domain.Order, now time.Time) error {
	if err := m.ledger.ReleaseCollateral(o.AccountID, o.ReservedCollateral); err != nil {
		return err
	}
	o.ReservedCollateral = 0
	o.CancelledQuantity += o.RemainingQuantity
	o.RemainingQuantity = 0
	if o.FilledQuantity == o.Quantity {
		o.Status = domain.OrderStatusFilled
		return nil
	}
	o.Status = domain.OrderStatusCancelled
	o.CancelledAt = &now
	return nil
}

// simulateCost walks the opposing side and returns what buying qty shares
// at market would cost. The book cannot change before the match loop runs
// because the market lock is held throughout.
func (m *Matcher) simulateCost(side domain.Side, qty int64) int64 {
	var cost int64
	remaining := qty
	m.book.Walk(side.Opposite(), func(o *domain.Order) bool {
		n := o.RemainingQuantity
		if n > remaining {
			n = remaining
		}
		cost += domain.ComplementPrice(o.Price) * n
		remaining -= n
		return remaining > 0
	})
	return cost
}

// Cancel cancels a resting order on behalf of its owner and releases the
// collateral still reserved for it.
func (m *Matcher) Cancel(orderID, accountID string) (*CancelResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.halted != nil {
		return nil, m.haltedErr()
	}

	order, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if order.AccountID != accountID {
		return nil, domain.ErrUnauthorized
	}
	if order.Status.Terminal() {
		return nil, domain.ErrOrderAlreadyTerminal
	}

	if _, err := m.book.Remove(orderID); err != nil {
		return nil, m.halt(fmt.Errorf("%w: live order %s missing from book", domain.ErrInvalidState, orderID))
	}
	if err := m.cancelRemainder(order, m.clock.Now()); err != nil {
		return nil, m.halt(err)
	}
	if err := m.checkInvariants(); err != nil {
		return nil, m.halt(err)
	}

	c := order.Clone()
	touched := newLevelSet()
	touched.add(order.Side, order.Price)
	evs := m.deltas(touched)
	evs = append(evs, events.OrderEvent{MarketID: m.market.MarketID, Order: c})
	return &CancelResult{Order: c, Events: evs}, nil
}

// Deposit credits free collateral to an account in this market.
func (m *Matcher) Deposit(accountID string, amount int64) (domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halted != nil {
		return domain.Balance{}, m.haltedErr()
	}
	if err := m.ledger.Deposit(accountID, amount); err != nil {
		return domain.Balance{}, err
	}
	return m.ledger.Balance(accountID), nil
}

// DepositOnce credits amount like Deposit and records ref with it, so a
// redelivered credit is refused with ErrAlreadyApplied. The reference is
// kept in snapshots.
func (m *Matcher) DepositOnce(ref, accountID string, amount int64) (domain.Balance, error) {
	if ref == "" {
		return domain.Balance{}, &domain.ValidationError{Message: "deposit reference is required"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halted != nil {
		return domain.Balance{}, m.haltedErr()
	}
	if _, ok := m.applied[ref]; ok {
		return domain.Balance{}, domain.ErrAlreadyApplied
	}
	if err := m.ledger.Deposit(accountID, amount); err != nil {
		return domain.Balance{}, err
	}
	m.applied[ref] = struct{}{}
	return m.ledger.Balance(accountID), nil
}

// Applied reports whether ref was credited through DepositOnce.
func (m *Matcher) Applied(ref string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.applied[ref]
	return ok
}

// Withdraw debits free collateral from an account in this market.
func (m *Matcher) Withdraw(accountID string, amount int64) (domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.halted != nil {
		return domain.Balance{}, m.haltedErr()
	}
	if err := m.ledger.Withdraw(accountID, amount); err != nil {
		return domain.Balance{}, err
	}
	return m.ledger.Balance(accountID), nil
}

// Balance returns an account's balance in this market.
func (m *Matcher) Balance(accountID string) domain.Balance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Balance(accountID)
}

// Totals returns the ledger totals of this market.
func (m *Matcher) Totals() LedgerTotals {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ledger.Totals()
}

// Order returns a copy of an order admitted to this market.
func (m *Matcher) Order(orderID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// Orders returns a copy of every order admitted to this market, oldest
// first.
func (m *Matcher) Orders() []*domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ordersBySequence(true)
}

func (m *Matcher) ordersBySequence(clone bool) []*domain.Order {
	out := make([]*domain.Order, 0, len(m.orders))
	for _, o := range m.orders {
		if clone {
			o = o.Clone()
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

// Depth returns up to n aggregated price levels per side.
func (m *Matcher) Depth(n int) (yes, no []PriceLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.Levels(domain.SideYes, n), m.book.Levels(domain.SideNo, n)
}

// Quote performs a read-only walk of the opposing side to estimate the
// result of a market order for qty shares of side without placing it.
func (m *Matcher) Quote(side domain.Side, qty int64) *QuoteResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := &QuoteResult{
		PriceLevels: make([]QuotePriceLevel, 0),
	}

	remaining := qty
	var totalCost int64
	m.book.Walk(side.Opposite(), func(o *domain.Order) bool {
		if remaining <= 0 {
			return false
		}
		n := o.RemainingQuantity
		if n > remaining {
			n = remaining
		}
		price := domain.ComplementPrice(o.Price)
		totalCost += price * n
		result.QuantityAvailable += n
		remaining -= n

		// Aggregate into price levels.
		if len(result.PriceLevels) > 0 && result.PriceLevels[len(result.PriceLevels)-1].Price == price {
			result.PriceLevels[len(result.PriceLevels)-1].Quantity += n
		} else {
			result.PriceLevels = append(result.PriceLevels, QuotePriceLevel{Price: price, Quantity: n})
		}
		return true
	})

	if result.QuantityAvailable > 0 {
		avgPrice := totalCost / result.QuantityAvailable
		result.EstimatedAvgPrice = &avgPrice
		result.EstimatedTotal = &totalCost
	}
	result.FullyFillable = result.QuantityAvailable >= qty
	return result
}

// Halted returns the invariant violation that stopped this market, if any.
func (m *Matcher) Halted() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted
}

// writable reports whether the market accepts new orders.
func (m *Matcher) writable() error {
	if m.halted != nil {
		return m.haltedErr()
	}
	if m.market.Status != domain.MarketStatusOpen || m.market.Ended(m.clock.Now()) {
		return domain.ErrMarketClosed
	}
	return nil
}

func (m *Matcher) halt(err error) error {
	if !errors.Is(err, domain.ErrInvalidState) {
		err = fmt.Errorf("%w: %v", domain.ErrInvalidState, err)
	}
	m.halted = fmt.Errorf("market %s: %w", m.market.MarketID, err)
	return m.halted
}

func (m *Matcher) haltedErr() error {
	return m.halted
}

// checkInvariants verifies the ledger and that reserved collateral equals
// what live orders still hold.
func (m *Matcher) checkInvariants() error {
	if err := m.ledger.CheckConservation(); err != nil {
		return err
	}
	held := make(map[string]int64)
	for _, o := range m.book.Orders() {
		if o.RemainingQuantity <= 0 || o.Status.Terminal() {
			return fmt.Errorf("%w: order %s rests with status %s", domain.ErrInvalidState, o.OrderID, o.Status)
		}
		if o.FilledQuantity+o.RemainingQuantity+o.CancelledQuantity != o.Quantity {
			return fmt.Errorf("%w: order %s quantities do not add up", domain.ErrInvalidState, o.OrderID)
		}
		held[o.AccountID] += o.ReservedCollateral
	}
	for _, id := range m.ledger.Accounts() {
		if b := m.ledger.Balance(id); b.Reserved != held[id] {
			return fmt.Errorf("%w: %s reserved %d but orders hold %d", domain.ErrInvalidState, id, b.Reserved, held[id])
		}
	}
	return nil
}

// levelSet records price levels touched during a mutation.
type levelSet struct {
	keys  []levelKey
	index map[levelKey]bool
}

type levelKey struct {
	side  domain.Side
	price int64
}

func newLevelSet() *levelSet {
	return &levelSet{index: make(map[levelKey]bool)}
}

func (s *levelSet) add(side domain.Side, price int64) {
	k := levelKey{side: side, price: price}
	if s.index[k] {
		return
	}
	s.index[k] = true
	s.keys = append(s.keys, k)
}

func (m *Matcher) deltas(s *levelSet) []events.Event {
	evs := make([]events.Event, 0, len(s.keys))
	for _, k := range s.keys {
		evs = append(evs, events.BookDeltaEvent{
			MarketID:         m.market.MarketID,
			Side:             k.side,
			Price:            k.price,
			NewTotalQuantity: m.book.LevelQuantity(k.side, k.price),
		})
	}
	return evs
}
