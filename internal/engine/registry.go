package engine

import (
	"sort"
	"strings"
	"sync"

	"github.com/efreitasn/predictbook/internal/domain"
	"github.com/efreitasn/predictbook/internal/events"
)

// Registry is a thread-safe map of market ID → Matcher.
type Registry struct {
	mu       sync.RWMutex
	matchers map[string]*Matcher
	clock    Clock
}

// NewRegistry creates an empty registry. A nil clock uses wall time.
func NewRegistry(clock Clock) *Registry {
	if clock == nil {
		clock = realClock{}
	}
	return &Registry{
		matchers: make(map[string]*Matcher),
		clock:    clock,
	}
}

// Create opens a new market and returns its creation event.
func (r *Registry) Create(market domain.Market) (*Matcher, events.Event, error) {
	if err := domain.ValidateMarketID(market.MarketID); err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(market.Question) == "" {
		return nil, nil, &domain.ValidationError{Message: "question is required"}
	}
	if market.EndTime.IsZero() {
		return nil, nil, &domain.ValidationError{Message: "end_time is required"}
	}

	now := r.clock.Now()
	market.Status = domain.MarketStatusOpen
	market.Outcome = domain.OutcomeUnset
	market.ResolvedAt = nil
	if market.CreatedAt.IsZero() {
		market.CreatedAt = now
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.matchers[market.MarketID]; ok {
		return nil, nil, domain.ErrMarketAlreadyExists
	}
	m := newMatcher(market, r.clock)
	r.matchers[market.MarketID] = m
	return m, events.MarketEvent{Kind: events.MarketCreated, State: market, At: now}, nil
}

// Get returns the matcher of a market.
func (r *Registry) Get(marketID string) (*Matcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matchers[marketID]
	if !ok {
		return nil, domain.ErrMarketNotFound
	}
	return m, nil
}

// List returns every market, newest first, ties broken by ID.
func (r *Registry) List() []domain.Market {
	r.mu.RLock()
	ms := make([]*Matcher, 0, len(r.matchers))
	for _, m := range r.matchers {
		ms = append(ms, m)
	}
	r.mu.RUnlock()

	out := make([]domain.Market, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Market())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].MarketID < out[j].MarketID
	})
	return out
}

// Snapshot serializes the state of one market.
func (r *Registry) Snapshot(marketID string) ([]byte, error) {
	m, err := r.Get(marketID)
	if err != nil {
		return nil, err
	}
	return m.Snapshot()
}

// Restore rebuilds a market from a snapshot and registers it.
func (r *Registry) Restore(data []byte) (*Matcher, error) {
	m, err := RestoreMatcher(data, r.clock)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.matchers[m.ID()]; ok {
		return nil, domain.ErrMarketAlreadyExists
	}
	r.matchers[m.ID()] = m
	return m, nil
}
