package service

import (
	"context"
	"time"

	"github.com/efreitasn/predictbook/internal/domain"
	"github.com/efreitasn/predictbook/internal/engine"
)

// BalanceResponse represents an account's position in one market.
type BalanceResponse struct {
	MarketID string
	domain.Balance
	// Payout is what the shares held pay if the market resolves each way.
	PayoutIfYes int64
	PayoutIfNo  int64
	UpdatedAt   time.Time
}

// AccountService handles collateral movements, balance queries and
// cross-market positions. Accounts exist implicitly per market from their
// first deposit.
type AccountService struct {
	registry *engine.Registry
	fills    FillReader
}

// NewAccountService creates a new AccountService. fills may be nil, in
// which case positions carry no cost basis.
func NewAccountService(registry *engine.Registry, fills FillReader) *AccountService {
	return &AccountService{registry: registry, fills: fills}
}

func (s *AccountService) market(marketID, accountID string) (*engine.Matcher, error) {
	if err := domain.ValidateAccountID(accountID); err != nil {
		return nil, err
	}
	return s.registry.Get(marketID)
}

// Deposit credits collateral in cents to an account.
func (s *AccountService) Deposit(marketID, accountID string, amount int64) (*BalanceResponse, error) {
	m, err := s.market(marketID, accountID)
	if err != nil {
		return nil, err
	}
	b, err := m.Deposit(accountID, amount)
	if err != nil {
		return nil, err
	}
	return newBalanceResponse(marketID, b), nil
}

// DepositOnce credits collateral tied to an external reference. A
// reference already credited in the market returns domain.ErrAlreadyApplied.
func (s *AccountService) DepositOnce(marketID, ref, accountID string, amount int64) (*BalanceResponse, error) {
	m, err := s.market(marketID, accountID)
	if err != nil {
		return nil, err
	}
	b, err := m.DepositOnce(ref, accountID, amount)
	if err != nil {
		return nil, err
	}
	return newBalanceResponse(marketID, b), nil
}

// Withdraw debits free collateral in cents from an account.
func (s *AccountService) Withdraw(marketID, accountID string, amount int64) (*BalanceResponse, error) {
	m, err := s.market(marketID, accountID)
	if err != nil {
		return nil, err
	}
	b, err := m.Withdraw(accountID, amount)
	if err != nil {
		return nil, err
	}
	return newBalanceResponse(marketID, b), nil
}

// GetBalance retrieves the account's current balance including reservations.
func (s *AccountService) GetBalance(marketID, accountID string) (*BalanceResponse, error) {
	m, err := s.market(marketID, accountID)
	if err != nil {
		return nil, err
	}
	return newBalanceResponse(marketID, m.Balance(accountID)), nil
}

type positionKey struct {
	marketID string
	side     domain.Side
}

// Positions returns the shares an account holds in every unresolved market,
// one position per side held. The cost basis comes from the fill history
// and each side is marked at its last traded price.
func (s *AccountService) Positions(ctx context.Context, accountID string) ([]domain.Position, error) {
	if err := domain.ValidateAccountID(accountID); err != nil {
		return nil, err
	}

	paid := make(map[positionKey]int64)
	bought := make(map[positionKey]int64)
	if s.fills != nil {
		fills, err := s.fills.ListByAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		for _, f := range fills {
			for _, leg := range f.Legs() {
				if leg.AccountID != accountID {
					continue
				}
				k := positionKey{marketID: f.MarketID, side: leg.Side}
				paid[k] += leg.Price * f.Quantity
				bought[k] += f.Quantity
			}
		}
	}

	positions := make([]domain.Position, 0)
	for _, mkt := range s.registry.List() {
		m, err := s.registry.Get(mkt.MarketID)
		if err != nil {
			continue
		}
		b := m.Balance(accountID)
		if b.Yes == 0 && b.No == 0 {
			continue
		}
		lastYes, traded, err := s.lastYesPrice(ctx, mkt.MarketID)
		if err != nil {
			return nil, err
		}

		for _, side := range []domain.Side{domain.SideYes, domain.SideNo} {
			shares := b.Shares(side)
			if shares == 0 {
				continue
			}
			k := positionKey{marketID: mkt.MarketID, side: side}
			p := domain.Position{MarketID: mkt.MarketID, Question: mkt.Question, Side: side, Shares: shares}
			if n := bought[k]; n > 0 {
				p.AveragePrice = paid[k] / n
				p.CostBasis = paid[k]
				if n != shares {
					// The journal trails the engine.
					p.CostBasis = p.AveragePrice * shares
				}
			}
			p.MarkPrice = p.AveragePrice
			if traded {
				p.MarkPrice = lastYes
				if side == domain.SideNo {
					p.MarkPrice = domain.ComplementPrice(lastYes)
				}
			}
			p.CurrentValue = p.MarkPrice * shares
			p.UnrealizedPnL = p.CurrentValue - p.CostBasis
			positions = append(positions, p)
		}
	}
	return positions, nil
}

func (s *AccountService) lastYesPrice(ctx context.Context, marketID string) (int64, bool, error) {
	if s.fills == nil {
		return 0, false, nil
	}
	last, err := s.fills.ListByMarket(ctx, marketID, 1)
	if err != nil || len(last) == 0 {
		return 0, false, err
	}
	return last[0].YesPrice(), true, nil
}

func newBalanceResponse(marketID string, b domain.Balance) *BalanceResponse {
	return &BalanceResponse{
		MarketID:    marketID,
		Balance:     b,
		PayoutIfYes: domain.UnitCents * b.Yes,
		PayoutIfNo:  domain.UnitCents * b.No,
		UpdatedAt:   time.Now(),
	}
}
