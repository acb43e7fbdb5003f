package domain

import (
	"errors"
	"testing"
)

func TestSubmitRequest_Validate(t *testing.T) {
	valid := SubmitRequest{
		MarketID:  "btc-100k",
		AccountID: "alice",
		Side:      SideYes,
		Type:      OrderTypeLimit,
		Price:     60,
		Quantity:  10,
	}

	tests := []struct {
		name       string
		mutate     func(r *SubmitRequest)
		wantErr    error
		validation bool
	}{
		{"valid limit", func(r *SubmitRequest) {}, nil, false},
		{"valid market", func(r *SubmitRequest) { r.Type = OrderTypeMarket; r.Price = 0 }, nil, false},
		{"price zero", func(r *SubmitRequest) { r.Price = 0 }, ErrInvalidPrice, false},
		{"price 100", func(r *SubmitRequest) { r.Price = 100 }, ErrInvalidPrice, false},
		{"price 1", func(r *SubmitRequest) { r.Price = 1 }, nil, false},
		{"price 99", func(r *SubmitRequest) { r.Price = 99 }, nil, false},
		{"zero quantity", func(r *SubmitRequest) { r.Quantity = 0 }, ErrInvalidQuantity, false},
		{"negative quantity", func(r *SubmitRequest) { r.Quantity = -3 }, ErrInvalidQuantity, false},
		{"max quantity", func(r *SubmitRequest) { r.Quantity = MaxQuantity }, nil, false},
		{"quantity above max", func(r *SubmitRequest) { r.Quantity = MaxQuantity + 1 }, ErrInvalidQuantity, false},
		{"quantity wraps reservation", func(r *SubmitRequest) { r.Price = 4; r.Quantity = 1<<62 + 1 }, ErrInvalidQuantity, false},
		{"bad side", func(r *SubmitRequest) { r.Side = "MAYBE" }, nil, true},
		{"bad type", func(r *SubmitRequest) { r.Type = "STOP" }, nil, true},
		{"market with price", func(r *SubmitRequest) { r.Type = OrderTypeMarket }, nil, true},
		{"empty market", func(r *SubmitRequest) { r.MarketID = "" }, nil, true},
		{"bad account", func(r *SubmitRequest) { r.AccountID = "a b" }, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := r.Validate()
			if tt.validation {
				var v *ValidationError
				if !errors.As(err, &v) {
					t.Fatalf("Validate() = %v, want ValidationError", err)
				}
				return
			}
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCancelRequest_Validate(t *testing.T) {
	if err := (CancelRequest{MarketID: "m1", OrderID: "o1", AccountID: "alice"}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v *ValidationError
	if err := (CancelRequest{MarketID: "m1", AccountID: "alice"}).Validate(); !errors.As(err, &v) {
		t.Fatalf("missing order id: got %v, want ValidationError", err)
	}
}

func TestResolveRequest_Validate(t *testing.T) {
	if err := (ResolveRequest{MarketID: "m1", Outcome: OutcomeNo}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v *ValidationError
	if err := (ResolveRequest{MarketID: "m1"}).Validate(); !errors.As(err, &v) {
		t.Fatalf("unset outcome: got %v, want ValidationError", err)
	}
}

func TestRequest_Kinds(t *testing.T) {
	reqs := map[RequestKind]Request{
		RequestSubmit:  SubmitRequest{MarketID: "m"},
		RequestCancel:  CancelRequest{MarketID: "m"},
		RequestResolve: ResolveRequest{MarketID: "m"},
	}
	for kind, r := range reqs {
		if r.Kind() != kind {
			t.Errorf("Kind() = %s, want %s", r.Kind(), kind)
		}
		if r.Market() != "m" {
			t.Errorf("%s: Market() = %q, want %q", kind, r.Market(), "m")
		}
	}
}
