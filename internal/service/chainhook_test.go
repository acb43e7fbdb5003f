package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/efreitasn/predictbook/internal/domain"
	"github.com/efreitasn/predictbook/internal/store"
)

func newChainhookService(env *testEnv) *ChainhookService {
	return NewChainhookService(env.dispatcher, env.accountSvc, env.marketSvc, nil)
}

func contractCall(hash, sender, method string, args ...string) ChainhookTransaction {
	var tx ChainhookTransaction
	tx.TransactionIdentifier.Hash = hash
	tx.Metadata.Sender = sender
	tx.Metadata.Kind.Data.ContractIdentifier = "SP000.prediction-market"
	tx.Metadata.Kind.Data.Method = method
	tx.Metadata.Kind.Data.Args = args
	return tx
}

func payloadOf(txs ...ChainhookTransaction) ChainhookPayload {
	var block ChainhookBlock
	block.BlockIdentifier.Index = 100
	block.Transactions = txs
	return ChainhookPayload{Apply: []ChainhookBlock{block}}
}

func TestParseCents(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"65", 65, false},
		{" 7 ", 7, false},
		{"0.65", 65, false},
		{"0.1", 10, false},
		{"0.655", 0, true},
		{"abc", 0, true},
		{"NaN.", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseCents(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidPrice) {
					t.Fatalf("expected ErrInvalidPrice, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestParsePlaceBet(t *testing.T) {
	bet, err := ParsePlaceBet(contractCall("0xabc", "SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7", MethodPlaceBet, "m1", "yes", "10", "0.42"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bet.Side != domain.SideYes || bet.Shares != 10 || bet.Price != 42 || bet.MarketID != "m1" {
		t.Errorf("unexpected bet %+v", bet)
	}

	if _, err := ParsePlaceBet(contractCall("0xabc", "s", MethodPlaceBet, "m1", "YES")); err == nil {
		t.Error("expected error for missing arguments")
	}
	if _, err := ParsePlaceBet(contractCall("0xabc", "s", MethodPlaceBet, "m1", "YES", "ten", "42")); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestParseCreateMarket(t *testing.T) {
	end := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	cm, err := ParseCreateMarket(contractCall("0xdeadbeef", "SPCREATOR", MethodCreateMarket,
		"Will it snow?", "", "weather", "1893456000", "noaa", "1000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cm.Request.MarketID != "deadbeef" {
		t.Errorf("expected market id from tx hash, got %q", cm.Request.MarketID)
	}
	if !cm.Request.EndTime.Equal(end) {
		t.Errorf("expected end %v, got %v", end, cm.Request.EndTime)
	}
	if cm.Request.ResolutionSource != "noaa" || cm.Creator != "SPCREATOR" {
		t.Errorf("unexpected parse %+v", cm)
	}

	cm, err = ParseCreateMarket(contractCall("", "SPCREATOR", MethodCreateMarket, "q?", "", "c", "1893456000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cm.Request.MarketID != "" {
		t.Errorf("expected empty id to be left for generation, got %q", cm.Request.MarketID)
	}

	if _, err := ParseCreateMarket(contractCall("0x1", "s", MethodCreateMarket, "q?", "", "c", "tomorrow")); err == nil {
		t.Error("expected error for bad end date")
	}
}

func TestProcessBets_DepositsAndSubmits(t *testing.T) {
	env := newTestEnv()
	env.createMarket(t, "m1")
	svc := newChainhookService(env)

	res := svc.ProcessBets(context.Background(), payloadOf(
		contractCall("0x1", "alice", MethodPlaceBet, "m1", "YES", "10", "60"),
		contractCall("0x2", "bob", MethodPlaceBet, "m1", "NO", "4", "0.40"),
		contractCall("0x3", "carol", "transfer", "x"),
		contractCall("0x4", "dave", MethodPlaceBet, "m1", "YES", "1", "150"),
	))

	if res.Processed != 2 || res.Skipped != 1 || res.Failed != 1 || res.Blocks != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	alice, _ := env.accountSvc.GetBalance("m1", "alice")
	if alice.Yes != 4 || alice.Reserved != 360 || alice.Free != 0 {
		t.Errorf("unexpected alice balance %+v", alice.Balance)
	}
	bob, _ := env.accountSvc.GetBalance("m1", "bob")
	if bob.No != 4 || bob.Free != 0 {
		t.Errorf("unexpected bob balance %+v", bob.Balance)
	}
	dave, _ := env.accountSvc.GetBalance("m1", "dave")
	if dave.Collateral() != 0 {
		t.Errorf("rejected bet must not deposit, got %+v", dave.Balance)
	}

	orders, total, err := env.orderSvc.ListOrders("alice", store.OrderFilter{}, 1, 10)
	if err != nil || total != 1 {
		t.Fatalf("expected 1 order for alice, got %d (%v)", total, err)
	}
	if orders[0].Status != domain.OrderStatusPartiallyFilled {
		t.Errorf("expected PARTIALLY_FILLED, got %s", orders[0].Status)
	}
}

func TestProcessBets_UnknownMarketFails(t *testing.T) {
	env := newTestEnv()
	svc := newChainhookService(env)

	res := svc.ProcessBets(context.Background(), payloadOf(
		contractCall("0x1", "alice", MethodPlaceBet, "nope", "YES", "1", "50"),
	))
	if res.Failed != 1 || res.Processed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestProcessBets_RedeliveryAppliedOnce(t *testing.T) {
	env := newTestEnv()
	env.createMarket(t, "m1")
	svc := newChainhookService(env)
	payload := payloadOf(contractCall("0xdead", "alice", MethodPlaceBet, "m1", "YES", "10", "60"))

	first := svc.ProcessBets(context.Background(), payload)
	second := svc.ProcessBets(context.Background(), payload)
	if first.Processed != 1 {
		t.Fatalf("unexpected first result %+v", first)
	}
	if second.Processed != 0 || second.Skipped != 1 {
		t.Fatalf("unexpected redelivery result %+v", second)
	}

	alice, _ := env.accountSvc.GetBalance("m1", "alice")
	if alice.Reserved != 600 || alice.Free != 0 {
		t.Errorf("expected one 600 cent reservation, got %+v", alice.Balance)
	}
	if _, total, _ := env.orderSvc.ListOrders("alice", store.OrderFilter{}, 1, 10); total != 1 {
		t.Errorf("expected 1 order, got %d", total)
	}
}

func TestProcessBets_RedeliveryAfterRestartAppliedOnce(t *testing.T) {
	env := newTestEnv()
	env.createMarket(t, "m1")
	payload := payloadOf(contractCall("0xdead", "alice", MethodPlaceBet, "m1", "YES", "10", "60"))
	newChainhookService(env).ProcessBets(context.Background(), payload)

	snaps := newMemSnapshots()
	if err := NewSnapshotJob(0, env.registry, snaps, nil, nil).RunOnce(); err != nil {
		t.Fatalf("run: %v", err)
	}
	restarted := newTestEnv()
	if _, err := NewSnapshotJob(0, restarted.registry, snaps, restarted.orders, nil).RestoreAll(); err != nil {
		t.Fatalf("restore: %v", err)
	}

	res := newChainhookService(restarted).ProcessBets(context.Background(), payload)
	if res.Skipped != 1 || res.Processed != 0 {
		t.Fatalf("unexpected result after restart %+v", res)
	}
	alice, _ := restarted.accountSvc.GetBalance("m1", "alice")
	if alice.Reserved != 600 {
		t.Errorf("expected one 600 cent reservation, got %+v", alice.Balance)
	}
}

func TestProcessBets_RollbackNotApplied(t *testing.T) {
	env := newTestEnv()
	env.createMarket(t, "m1")
	svc := newChainhookService(env)

	var block ChainhookBlock
	block.Transactions = []ChainhookTransaction{
		contractCall("0x1", "alice", MethodPlaceBet, "m1", "YES", "10", "60"),
	}
	res := svc.ProcessBets(context.Background(), ChainhookPayload{Rollback: []ChainhookBlock{block}})
	if res.Rollbacks != 1 || res.Processed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	alice, _ := env.accountSvc.GetBalance("m1", "alice")
	if alice.Collateral() != 0 {
		t.Errorf("rolled back bet must not deposit, got %+v", alice.Balance)
	}
}

func TestProcessBets_MissingHashFails(t *testing.T) {
	env := newTestEnv()
	env.createMarket(t, "m1")
	res := newChainhookService(env).ProcessBets(context.Background(), payloadOf(
		contractCall("", "alice", MethodPlaceBet, "m1", "YES", "1", "50"),
	))
	if res.Failed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestProcessMarkets_CreatesFromPayload(t *testing.T) {
	env := newTestEnv()
	svc := newChainhookService(env)
	end := time.Now().Add(48 * time.Hour).Unix()

	body := []byte(`{
		"apply": [{
			"block_identifier": {"index": 7, "hash": "0xblock"},
			"transactions": [{
				"transaction_identifier": {"hash": "0xfeed01"},
				"metadata": {
					"sender": "SPCREATOR",
					"kind": {"data": {
						"contract_identifier": "SP000.prediction-market",
						"method": "create-market",
						"args": ["Will it rain?", "desc", "weather", "` + strconv.FormatInt(end, 10) + `", "manual", "500"]
					}}
				},
				"operations": []
			}]
		}],
		"rollback": []
	}`)
	var payload ChainhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}

	res := svc.ProcessMarkets(context.Background(), payload)
	if res.Processed != 1 {
		t.Fatalf("expected 1 processed, got %+v", res)
	}
	sum, err := env.marketSvc.Get(context.Background(), "feed01")
	if err != nil {
		t.Fatalf("market not created: %v", err)
	}
	if sum.Question != "Will it rain?" || sum.Category != "weather" {
		t.Errorf("unexpected market %+v", sum.Market)
	}

	// A replayed delivery is skipped.
	res = svc.ProcessMarkets(context.Background(), payload)
	if res.Skipped != 1 || res.Processed != 0 || res.Failed != 0 {
		t.Errorf("expected duplicate to be skipped, got %+v", res)
	}
}
