package domain

import (
	"fmt"
	"regexp"
)

var (
	marketIDRegex  = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)
	accountIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,128}$`)
)

// RequestKind tags the variant of a Request.
type RequestKind string

const (
	RequestSubmit  RequestKind = "submit"
	RequestCancel  RequestKind = "cancel"
	RequestResolve RequestKind = "resolve"
)

// Request is a mutating instruction for a single market. It is a closed
// set: SubmitRequest, CancelRequest and ResolveRequest.
type Request interface {
	Kind() RequestKind
	Market() string
	Validate() error
	isRequest()
}

// SubmitRequest places a new order.
type SubmitRequest struct {
	MarketID  string
	AccountID string
	Side      Side
	Type      OrderType
	Price     int64 // cents, zero for market orders
	Quantity  int64
}

// CancelRequest cancels a resting order on behalf of its owner.
type CancelRequest struct {
	MarketID  string
	OrderID   string
	AccountID string
}

// ResolveRequest fixes the outcome of a market.
type ResolveRequest struct {
	MarketID string
	Outcome  Outcome
	Override bool // allow resolution before the market's end time
}

func (SubmitRequest) Kind() RequestKind  { return RequestSubmit }
func (CancelRequest) Kind() RequestKind  { return RequestCancel }
func (ResolveRequest) Kind() RequestKind { return RequestResolve }

func (r SubmitRequest) Market() string  { return r.MarketID }
func (r CancelRequest) Market() string  { return r.MarketID }
func (r ResolveRequest) Market() string { return r.MarketID }

func (SubmitRequest) isRequest()  {}
func (CancelRequest) isRequest()  {}
func (ResolveRequest) isRequest() {}

// Validate checks the request shape. Price and quantity problems are
// reported with their dedicated sentinel errors.
func (r SubmitRequest) Validate() error {
	if err := ValidateMarketID(r.MarketID); err != nil {
		return err
	}
	if err := ValidateAccountID(r.AccountID); err != nil {
		return err
	}
	if !r.Side.Valid() {
		return &ValidationError{Message: "side must be 'YES' or 'NO'"}
	}
	switch r.Type {
	case OrderTypeLimit:
		if !ValidPrice(r.Price) {
			return fmt.Errorf("%w: limit price must be between %d and %d cents", ErrInvalidPrice, MinPrice, MaxPrice)
		}
	case OrderTypeMarket:
		if r.Price != 0 {
			return &ValidationError{Message: "market orders must not include price"}
		}
	default:
		return &ValidationError{
			Message: fmt.Sprintf("Unknown order type: %s. Must be one of: LIMIT, MARKET", r.Type),
		}
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be a positive integer", ErrInvalidQuantity)
	}
	if r.Quantity > MaxQuantity {
		return fmt.Errorf("%w: quantity must not exceed %d", ErrInvalidQuantity, MaxQuantity)
	}
	return nil
}

func (r CancelRequest) Validate() error {
	if err := ValidateMarketID(r.MarketID); err != nil {
		return err
	}
	if err := ValidateAccountID(r.AccountID); err != nil {
		return err
	}
	if r.OrderID == "" {
		return &ValidationError{Message: "order_id is required"}
	}
	return nil
}

func (r ResolveRequest) Validate() error {
	if err := ValidateMarketID(r.MarketID); err != nil {
		return err
	}
	if !r.Outcome.Valid() {
		return &ValidationError{Message: "outcome must be 'YES' or 'NO'"}
	}
	return nil
}

// ValidateMarketID checks the market identifier format.
func ValidateMarketID(id string) error {
	if !marketIDRegex.MatchString(id) {
		return &ValidationError{Message: "market_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	return nil
}

// ValidateAccountID checks the account identifier format. Wallet
// addresses such as SP2J6ZY48GV1EZ5V2V5RB9MP66SW86PYKKNRV9EJ7 qualify.
func ValidateAccountID(id string) error {
	if !accountIDRegex.MatchString(id) {
		return &ValidationError{Message: "account_id must match ^[a-zA-Z0-9_.-]{1,128}$"}
	}
	return nil
}
