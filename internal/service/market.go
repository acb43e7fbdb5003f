package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/efreitasn/predictbook/internal/domain"
	"github.com/efreitasn/predictbook/internal/engine"
)

// FillReader reads the fill history.
type FillReader interface {
	ListByMarket(ctx context.Context, marketID string, limit int) ([]*domain.Fill, error)
	ListSince(ctx context.Context, marketID string, since time.Time) ([]*domain.Fill, error)
	ListByAccount(ctx context.Context, accountID string) ([]*domain.Fill, error)
	Volume(ctx context.Context, marketID string) (int64, error)
}

// Price history interval bounds.
const (
	MinHistoryInterval = time.Minute
	MaxHistoryInterval = 7 * 24 * time.Hour
)

// CreateMarketRequest represents the input for market creation.
type CreateMarketRequest struct {
	MarketID         string // generated when empty
	Question         string
	Description      string
	Category         string
	ResolutionSource string
	EndTime          time.Time
}

// MarketSummary is a market with its current trading picture.
type MarketSummary struct {
	domain.Market
	BestYes      *int64 // best resting YES bid, nil when empty
	BestNo       *int64 // best resting NO bid, nil when empty
	LastYesPrice *int64 // YES price of the most recent fill, nil before any trade
	Volume       int64  // shares traded
}

// BookResponse represents the aggregated book of a market.
type BookResponse struct {
	MarketID string
	Yes      []engine.PriceLevel
	No       []engine.PriceLevel
	// Spread is what is missing for the best bids to cross:
	// 100 − bestYes − bestNo. Nil if either side is empty.
	Spread     *int64
	SnapshotAt time.Time
}

// QuoteResponse represents a simulated market order.
type QuoteResponse struct {
	MarketID          string
	Side              domain.Side
	QuantityRequested int64
	*engine.QuoteResult
	QuotedAt time.Time
}

// MarketService handles market lifecycle and market data queries.
type MarketService struct {
	registry   *engine.Registry
	settlement *engine.Settlement
	oracle     *engine.ManualOracle
	watcher    *engine.ResolutionWatcher
	fills      FillReader
	publisher  *Publisher
}

// NewMarketService creates a new MarketService. watcher and fills may be nil.
func NewMarketService(
	registry *engine.Registry,
	settlement *engine.Settlement,
	oracle *engine.ManualOracle,
	watcher *engine.ResolutionWatcher,
	fills FillReader,
	publisher *Publisher,
) *MarketService {
	return &MarketService{
		registry:   registry,
		settlement: settlement,
		oracle:     oracle,
		watcher:    watcher,
		fills:      fills,
		publisher:  publisher,
	}
}

// Create opens a new market and starts watching it for resolution.
func (s *MarketService) Create(ctx context.Context, req CreateMarketRequest) (domain.Market, error) {
	if req.MarketID == "" {
		req.MarketID = uuid.New().String()
	}
	if strings.TrimSpace(req.ResolutionSource) == "" {
		req.ResolutionSource = "manual"
	}

	m, ev, err := s.registry.Create(domain.Market{
		MarketID:         req.MarketID,
		Question:         strings.TrimSpace(req.Question),
		Description:      req.Description,
		Category:         req.Category,
		ResolutionSource: req.ResolutionSource,
		EndTime:          req.EndTime.UTC(),
	})
	if err != nil {
		return domain.Market{}, err
	}
	market := m.Market()
	if s.watcher != nil {
		s.watcher.Add(market)
	}
	s.publisher.Publish(ctx, eventsOf(ev))
	return market, nil
}

// Get returns a market with its trading summary.
func (s *MarketService) Get(ctx context.Context, marketID string) (*MarketSummary, error) {
	m, err := s.registry.Get(marketID)
	if err != nil {
		return nil, err
	}

	sum := &MarketSummary{Market: m.Market()}
	yes, no := m.Depth(1)
	if len(yes) > 0 {
		p := yes[0].Price
		sum.BestYes = &p
	}
	if len(no) > 0 {
		p := no[0].Price
		sum.BestNo = &p
	}

	if s.fills != nil {
		last, err := s.fills.ListByMarket(ctx, marketID, 1)
		if err != nil {
			return nil, err
		}
		if len(last) > 0 {
			p := last[0].YesPrice()
			sum.LastYesPrice = &p
		}
		if sum.Volume, err = s.fills.Volume(ctx, marketID); err != nil {
			return nil, err
		}
	}
	return sum, nil
}

// List returns every market, newest first.
func (s *MarketService) List() []domain.Market {
	return s.registry.List()
}

// GetBook returns the top depth price levels of both sides of a market.
func (s *MarketService) GetBook(marketID string, depth int) (*BookResponse, error) {
	if depth < 1 || depth > 99 {
		return nil, &domain.ValidationError{
			Message: "depth must be between 1 and 99",
		}
	}
	m, err := s.registry.Get(marketID)
	if err != nil {
		return nil, err
	}

	yes, no := m.Depth(depth)
	resp := &BookResponse{
		MarketID:   marketID,
		Yes:        yes,
		No:         no,
		SnapshotAt: time.Now(),
	}
	if len(yes) > 0 && len(no) > 0 {
		spread := domain.UnitCents - yes[0].Price - no[0].Price
		resp.Spread = &spread
	}
	return resp, nil
}

// GetQuote simulates a market order against the current book and returns
// the estimated result without placing an order.
func (s *MarketService) GetQuote(marketID string, side domain.Side, quantity int64) (*QuoteResponse, error) {
	if !side.Valid() {
		return nil, &domain.ValidationError{
			Message: "side must be 'YES' or 'NO'",
		}
	}
	if quantity <= 0 || quantity > domain.MaxQuantity {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("quantity must be a positive integer no greater than %d", domain.MaxQuantity),
		}
	}
	m, err := s.registry.Get(marketID)
	if err != nil {
		return nil, err
	}

	return &QuoteResponse{
		MarketID:          marketID,
		Side:              side,
		QuantityRequested: quantity,
		QuoteResult:       m.Quote(side, quantity),
		QuotedAt:          time.Now(),
	}, nil
}

// ListFills returns the most recent fills of a market, newest first.
func (s *MarketService) ListFills(ctx context.Context, marketID string, limit int) ([]*domain.Fill, error) {
	if limit < 1 || limit > 500 {
		return nil, &domain.ValidationError{
			Message: "limit must be between 1 and 500",
		}
	}
	if _, err := s.registry.Get(marketID); err != nil {
		return nil, err
	}
	if s.fills == nil {
		return []*domain.Fill{}, nil
	}
	return s.fills.ListByMarket(ctx, marketID, limit)
}

// PriceHistory groups the fills of a market executed since since into
// intervals and returns one point per interval that traded, oldest first.
func (s *MarketService) PriceHistory(ctx context.Context, marketID string, interval time.Duration, since time.Time) ([]domain.PricePoint, error) {
	if interval < MinHistoryInterval || interval > MaxHistoryInterval {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("interval must be between %s and %s", MinHistoryInterval, MaxHistoryInterval),
		}
	}
	if _, err := s.registry.Get(marketID); err != nil {
		return nil, err
	}
	points := make([]domain.PricePoint, 0)
	if s.fills == nil {
		return points, nil
	}
	fills, err := s.fills.ListSince(ctx, marketID, since)
	if err != nil {
		return nil, err
	}

	for _, f := range fills {
		start := f.ExecutedAt.Truncate(interval)
		yes := f.YesPrice()
		if n := len(points); n > 0 && points[n-1].Time.Equal(start) {
			p := &points[n-1]
			p.YesPrice, p.NoPrice = yes, domain.ComplementPrice(yes)
			p.Volume += f.Quantity
			continue
		}
		points = append(points, domain.PricePoint{
			Time:     start,
			YesPrice: yes,
			NoPrice:  domain.ComplementPrice(yes),
			Volume:   f.Quantity,
		})
	}
	return points, nil
}

// ReportOutcome records the real-world outcome of a market with the oracle.
// The watcher settles the market once its trading window has closed.
func (s *MarketService) ReportOutcome(marketID string, outcome domain.Outcome) error {
	m, err := s.registry.Get(marketID)
	if err != nil {
		return err
	}
	if mkt := m.Market(); mkt.Resolved() {
		return domain.ErrAlreadyResolved
	}
	return s.oracle.Report(marketID, outcome)
}

// Resolve settles a market right away.
func (s *MarketService) Resolve(ctx context.Context, req domain.ResolveRequest) (*engine.ResolveResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	res, err := s.settlement.Resolve(req.MarketID, req.Outcome, engine.ResolveOptions{Override: req.Override})
	if err != nil {
		return nil, err
	}
	if s.watcher != nil {
		s.watcher.Remove(req.MarketID)
	}
	s.publisher.Publish(ctx, res.Events)
	return res, nil
}
