package engine

import (
	"context"
	"sync"

	"github.com/efreitasn/predictbook/internal/domain"
)

// Oracle reports the real-world outcome of a market. An unset outcome
// with a nil error means the result is not known yet.
type Oracle interface {
	Outcome(ctx context.Context, marketID string) (domain.Outcome, error)
}

// ManualOracle holds outcomes reported by an operator.
type ManualOracle struct {
	mu       sync.RWMutex
	outcomes map[string]domain.Outcome
}

// NewManualOracle creates an oracle with no reported outcomes.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{outcomes: make(map[string]domain.Outcome)}
}

// Report records the outcome of a market. Reporting again overwrites the
// previous value until the market has been resolved.
func (o *ManualOracle) Report(marketID string, outcome domain.Outcome) error {
	if err := domain.ValidateMarketID(marketID); err != nil {
		return err
	}
	if !outcome.Valid() {
		return &domain.ValidationError{Message: "outcome must be 'YES' or 'NO'"}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[marketID] = outcome
	return nil
}

// Outcome implements Oracle.
func (o *ManualOracle) Outcome(ctx context.Context, marketID string) (domain.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutcomeUnset, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.outcomes[marketID], nil
}
