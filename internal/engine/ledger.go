package engine

import (
	"fmt"
	"sort"

	"github.com/efreitasn/predictbook/internal/domain"
)

// Ledger is the authoritative balance store of one market. Collateral is
// held in cents; every minted YES/NO pair locks UnitCents in escrow until
// the market resolves. Not safe for concurrent use; the owning Matcher
// serializes access.
type Ledger struct {
	accounts  map[string]*domain.Balance
	escrow    int64 // cents backing outstanding shares
	minted    int64 // outstanding YES/NO pairs
	deposited int64 // net cents deposited minus withdrawn
}

// LedgerTotals summarizes a ledger for conservation checks and reporting.
type LedgerTotals struct {
	Free      int64 `json:"free"`
	Reserved  int64 `json:"reserved"`
	Yes       int64 `json:"yes"`
	No        int64 `json:"no"`
	Escrow    int64 `json:"escrow"`
	Minted    int64 `json:"minted"`
	Deposited int64 `json:"deposited"`
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[string]*domain.Balance)}
}

func (l *Ledger) account(id string) *domain.Balance {
	b, ok := l.accounts[id]
	if !ok {
		b = &domain.Balance{AccountID: id}
		l.accounts[id] = b
	}
	return b
}

// Deposit credits free collateral.
func (l *Ledger) Deposit(accountID string, amount int64) error {
	if amount <= 0 {
		return &domain.ValidationError{Message: "amount must be a positive number of cents"}
	}
	if amount > domain.MaxCollateral-l.deposited {
		return &domain.ValidationError{
			Message: fmt.Sprintf("deposit would raise market collateral above %d cents", domain.MaxCollateral),
		}
	}
	l.account(accountID).Free += amount
	l.deposited += amount
	return nil
}

// Withdraw debits free collateral.
func (l *Ledger) Withdraw(accountID string, amount int64) error {
	if amount <= 0 {
		return &domain.ValidationError{Message: "amount must be a positive number of cents"}
	}
	b, ok := l.accounts[accountID]
	if !ok || b.Free < amount {
		return domain.ErrInsufficientFunds
	}
	b.Free -= amount
	l.deposited -= amount
	return nil
}

// ReserveCollateral moves amount from free to reserved.
func (l *Ledger) ReserveCollateral(accountID string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative reservation %d for %s", domain.ErrInvalidState, amount, accountID)
	}
	b, ok := l.accounts[accountID]
	if !ok {
		if amount == 0 {
			return nil
		}
		return domain.ErrInsufficientFunds
	}
	if b.Free < amount {
		return domain.ErrInsufficientFunds
	}
	b.Free -= amount
	b.Reserved += amount
	return nil
}

// ReleaseCollateral moves amount from reserved back to free.
func (l *Ledger) ReleaseCollateral(accountID string, amount int64) error {
	if amount == 0 {
		return nil
	}
	b, ok := l.accounts[accountID]
	if amount < 0 || !ok || b.Reserved < amount {
		return fmt.Errorf("%w: release of %d exceeds reserved collateral of %s", domain.ErrInvalidState, amount, accountID)
	}
	b.Reserved -= amount
	b.Free += amount
	return nil
}

// MintShares consumes reserved collateral from both buyers and credits
// quantity YES shares to buyerYes and quantity NO shares to buyerNo. The two
// costs must add up to exactly one collateral unit per pair.
func (l *Ledger) MintShares(buyerYes string, yesCost int64, buyerNo string, noCost int64, quantity int64) error {
	if quantity <= 0 || yesCost < 0 || noCost < 0 || yesCost+noCost != domain.UnitCents*quantity {
		return fmt.Errorf("%w: mint of %d pairs priced %d+%d", domain.ErrInvalidState, quantity, yesCost, noCost)
	}
	need := map[string]int64{buyerYes: yesCost}
	need[buyerNo] += noCost
	for id, amount := range need {
		b, ok := l.accounts[id]
		if !ok || b.Reserved < amount {
			return fmt.Errorf("%w: %s has insufficient reserved collateral to mint", domain.ErrInvalidState, id)
		}
	}

	yes := l.accounts[buyerYes]
	yes.Reserved -= yesCost
	yes.Yes += quantity

	no := l.accounts[buyerNo]
	no.Reserved -= noCost
	no.No += quantity

	l.escrow += domain.UnitCents * quantity
	l.minted += quantity
	return nil
}

// Payout converts winning shares 1:1 into free collateral. Used only while
// settling a resolved market.
func (l *Ledger) Payout(accountID string, side domain.Side, quantity int64) error {
	if quantity == 0 {
		return nil
	}
	b, ok := l.accounts[accountID]
	if quantity < 0 || !ok || b.Shares(side) < quantity {
		return fmt.Errorf("%w: payout of %d %s shares to %s", domain.ErrInvalidState, quantity, side, accountID)
	}
	amount := domain.UnitCents * quantity
	if l.escrow < amount {
		return fmt.Errorf("%w: escrow %d cannot cover payout %d", domain.ErrInvalidState, l.escrow, amount)
	}
	if side == domain.SideYes {
		b.Yes -= quantity
	} else {
		b.No -= quantity
	}
	b.Free += amount
	l.escrow -= amount
	return nil
}

// Zero removes every share the account holds on side and returns how many
// were burned.
func (l *Ledger) Zero(accountID string, side domain.Side) int64 {
	b, ok := l.accounts[accountID]
	if !ok {
		return 0
	}
	var n int64
	if side == domain.SideYes {
		n, b.Yes = b.Yes, 0
	} else {
		n, b.No = b.No, 0
	}
	return n
}

// retire marks all outstanding pairs as settled once every share has been
// paid or burned.
func (l *Ledger) retire() {
	l.minted = 0
}

// Balance returns a copy of an account's balance. Unknown accounts have a
// zero balance.
func (l *Ledger) Balance(accountID string) domain.Balance {
	b, ok := l.accounts[accountID]
	if !ok {
		return domain.Balance{AccountID: accountID}
	}
	return *b
}

// Accounts returns every account ID in sorted order.
func (l *Ledger) Accounts() []string {
	ids := make([]string, 0, len(l.accounts))
	for id := range l.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Totals sums all balances.
func (l *Ledger) Totals() LedgerTotals {
	t := LedgerTotals{Escrow: l.escrow, Minted: l.minted, Deposited: l.deposited}
	for _, b := range l.accounts {
		t.Free += b.Free
		t.Reserved += b.Reserved
		t.Yes += b.Yes
		t.No += b.No
	}
	return t
}

// CheckConservation verifies the ledger invariants: no negative balance,
// no collateral created or destroyed, and exactly one unit of escrow per
// outstanding YES/NO pair.
func (l *Ledger) CheckConservation() error {
	for id, b := range l.accounts {
		if b.Free < 0 || b.Reserved < 0 || b.Yes < 0 || b.No < 0 {
			return fmt.Errorf("%w: negative balance for %s: %+v", domain.ErrInvalidState, id, *b)
		}
	}
	t := l.Totals()
	if t.Free+t.Reserved+t.Escrow != t.Deposited {
		return fmt.Errorf("%w: collateral %d+%d+%d != deposited %d", domain.ErrInvalidState, t.Free, t.Reserved, t.Escrow, t.Deposited)
	}
	if t.Yes != t.No || t.Yes != t.Minted {
		return fmt.Errorf("%w: shares yes=%d no=%d minted=%d", domain.ErrInvalidState, t.Yes, t.No, t.Minted)
	}
	if t.Escrow != domain.UnitCents*t.Minted {
		return fmt.Errorf("%w: escrow %d != %d pairs", domain.ErrInvalidState, t.Escrow, t.Minted)
	}
	return nil
}
