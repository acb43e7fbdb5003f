package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrInvalidPrice         = errors.New("invalid_price")
	ErrInvalidQuantity      = errors.New("invalid_quantity")
	ErrInsufficientFunds    = errors.New("insufficient_funds")
	ErrOrderNotFound        = errors.New("order_not_found")
	ErrOrderAlreadyTerminal = errors.New("order_already_terminal")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrMarketStillOpen      = errors.New("market_still_open")
	ErrAlreadyResolved      = errors.New("already_resolved")

	// ErrInvalidState reports a broken conservation invariant. A market that
	// returns it stops accepting mutations until it is recovered by hand.
	ErrInvalidState = errors.New("invalid_state")

	ErrMarketNotFound      = errors.New("market_not_found")
	ErrMarketAlreadyExists = errors.New("market_already_exists")
	ErrMarketClosed        = errors.New("market_closed")
	ErrOutcomePending      = errors.New("outcome_pending")

	// ErrAlreadyApplied reports an external reference, such as a chain
	// transaction hash, that was credited before.
	ErrAlreadyApplied = errors.New("already_applied")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
