package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/efreitasn/predictbook/internal/domain"
	"pgregory.net/rapid"
)

var propAccounts = []string{"alice", "bob", "carol"}

// randomTrading drives a market through a random mix of deposits, limit
// orders, market orders and cancels, calling check after every step.
func randomTrading(t *rapid.T, m *Matcher, check func(step string)) []string {
	var placed []string
	steps := rapid.IntRange(1, 40).Draw(t, "steps")
	for i := 0; i < steps; i++ {
		acct := rapid.SampledFrom(propAccounts).Draw(t, "account")
		side := rapid.SampledFrom([]domain.Side{domain.SideYes, domain.SideNo}).Draw(t, "side")
		op := rapid.IntRange(0, 3).Draw(t, "op")
		step := fmt.Sprintf("step %d op %d", i, op)

		switch op {
		case 0:
			amount := rapid.Int64Range(1, 5000).Draw(t, "amount")
			if _, err := m.Deposit(acct, amount); err != nil {
				t.Fatalf("%s: deposit: %v", step, err)
			}
		case 1:
			price := rapid.Int64Range(domain.MinPrice, domain.MaxPrice).Draw(t, "price")
			qty := rapid.Int64Range(1, 30).Draw(t, "qty")
			res, err := m.Submit(limitReq(acct, side, price, qty))
			if err != nil && !errors.Is(err, domain.ErrInsufficientFunds) {
				t.Fatalf("%s: limit: %v", step, err)
			}
			if res != nil {
				placed = append(placed, res.Order.OrderID)
			}
		case 2:
			qty := rapid.Int64Range(1, 30).Draw(t, "qty")
			res, err := m.Submit(marketReq(acct, side, qty))
			if err != nil && !errors.Is(err, domain.ErrInsufficientFunds) {
				t.Fatalf("%s: market: %v", step, err)
			}
			if res != nil && res.Order.Status != domain.OrderStatusFilled && res.Order.Status != domain.OrderStatusCancelled {
				t.Fatalf("%s: market order left in status %s", step, res.Order.Status)
			}
		case 3:
			if len(placed) == 0 {
				continue
			}
			id := rapid.SampledFrom(placed).Draw(t, "order")
			o, _ := m.Order(id)
			_, err := m.Cancel(id, o.AccountID)
			if err != nil && !errors.Is(err, domain.ErrOrderAlreadyTerminal) {
				t.Fatalf("%s: cancel: %v", step, err)
			}
		}
		check(step)
	}
	return placed
}

// Property: collateral and share supply are conserved by every operation.

func TestProperty_ConservationUnderRandomTrading(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		env := newTestEnv(t)
		randomTrading(t, env.m, func(step string) {
			if err := env.m.Halted(); err != nil {
				t.Fatalf("%s: market halted: %v", step, err)
			}
			tot := env.m.Totals()
			if tot.Free+tot.Reserved+tot.Escrow != tot.Deposited {
				t.Fatalf("%s: collateral not conserved: %+v", step, tot)
			}
			if tot.Yes != tot.No || tot.Escrow != domain.UnitCents*tot.Minted {
				t.Fatalf("%s: share supply broken: %+v", step, tot)
			}
		})
	})
}

// Property: a resting book is never crossed. The best YES bid and the best
// NO bid always sum to less than one unit.

func TestProperty_BookNeverCrossed(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		env := newTestEnv(t)
		randomTrading(t, env.m, func(step string) {
			yes, no := env.m.Depth(1)
			if len(yes) == 1 && len(no) == 1 && yes[0].Price+no[0].Price >= domain.UnitCents {
				t.Fatalf("%s: book crossed: YES %d + NO %d", step, yes[0].Price, no[0].Price)
			}
		})
	})
}

// Property: every fill prices the pair at exactly one unit and never makes
// the taker pay more than its limit.

func TestProperty_FillPricesComplementary(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		env := newTestEnv(t)
		for _, a := range propAccounts {
			fund(t, env.m, a, 1_000_000)
		}
		n := rapid.IntRange(1, 30).Draw(t, "orders")
		for i := 0; i < n; i++ {
			acct := rapid.SampledFrom(propAccounts).Draw(t, "account")
			side := rapid.SampledFrom([]domain.Side{domain.SideYes, domain.SideNo}).Draw(t, "side")
			price := rapid.Int64Range(domain.MinPrice, domain.MaxPrice).Draw(t, "price")
			qty := rapid.Int64Range(1, 20).Draw(t, "qty")

			res := mustSubmit(t, env.m, limitReq(acct, side, price, qty))
			var filled int64
			for _, f := range res.Fills {
				if f.Price+f.TakerPrice != domain.UnitCents {
					t.Fatalf("fill %d + %d != %d", f.Price, f.TakerPrice, domain.UnitCents)
				}
				if f.TakerPrice > price {
					t.Fatalf("taker paid %d above limit %d", f.TakerPrice, price)
				}
				if f.MakerSide == side {
					t.Fatalf("fill matched two %s orders", side)
				}
				filled += f.Quantity
			}
			if filled != res.Order.FilledQuantity {
				t.Fatalf("fills sum to %d, order says %d", filled, res.Order.FilledQuantity)
			}
			if res.Order.FilledQuantity+res.Order.RemainingQuantity+res.Order.CancelledQuantity != res.Order.Quantity {
				t.Fatalf("order quantities do not add up: %+v", res.Order)
			}
		}
	})
}

// Property: resolution pays one unit per winning share, empties the book
// and the escrow, and leaves every deposited cent in free balances.

func TestProperty_ResolutionPaysWinners(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		env := newTestEnv(t)
		randomTrading(t, env.m, func(string) {})

		outcome := rapid.SampledFrom([]domain.Outcome{domain.OutcomeYes, domain.OutcomeNo}).Draw(t, "outcome")
		win := outcome.WinningSide()

		before := make(map[string]domain.Balance)
		for _, a := range propAccounts {
			before[a] = env.m.Balance(a)
		}
		deposited := env.m.Totals().Deposited

		res, err := env.settle.Resolve("m1", outcome, ResolveOptions{Now: baseTime.Add(48 * time.Hour)})
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}

		var free int64
		for _, a := range propAccounts {
			b := env.m.Balance(a)
			want := before[a].Free + before[a].Reserved + domain.UnitCents*before[a].Shares(win)
			if b.Free != want {
				t.Fatalf("%s free = %d, want %d", a, b.Free, want)
			}
			if b.Reserved != 0 || b.Yes != 0 || b.No != 0 {
				t.Fatalf("%s not settled: %+v", a, b)
			}
			free += b.Free
		}
		if free != deposited {
			t.Fatalf("free total %d != deposited %d", free, deposited)
		}
		tot := env.m.Totals()
		if tot.Escrow != 0 || tot.Minted != 0 {
			t.Fatalf("escrow/minted left after resolution: %+v", tot)
		}
		yes, no := env.m.Depth(100)
		if len(yes) != 0 || len(no) != 0 {
			t.Fatal("book not empty after resolution")
		}
		if res.Market.Status != domain.MarketStatusResolved || res.Market.Outcome != outcome {
			t.Fatalf("market = %+v", res.Market)
		}
	})
}
