package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/predictbook/internal/domain"
	"github.com/efreitasn/predictbook/internal/engine"
	"github.com/efreitasn/predictbook/internal/service"
)

// MarketHandler handles HTTP requests for market endpoints.
type MarketHandler struct {
	marketSvc *service.MarketService
}

// NewMarketHandler creates a new MarketHandler.
func NewMarketHandler(marketSvc *service.MarketService) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc}
}

// createMarketRequest is the JSON request body for POST /markets.
type createMarketRequest struct {
	MarketID         string `json:"market_id"`
	Question         string `json:"question"`
	Description      string `json:"description"`
	Category         string `json:"category"`
	ResolutionSource string `json:"resolution_source"`
	EndTime          string `json:"end_time"`
}

// marketResponse is the JSON response for a market.
type marketResponse struct {
	MarketID         string  `json:"market_id"`
	Question         string  `json:"question"`
	Description      string  `json:"description"`
	Category         string  `json:"category"`
	ResolutionSource string  `json:"resolution_source"`
	EndTime          string  `json:"end_time"`
	Status           string  `json:"status"`
	Outcome          *string `json:"outcome"`
	CreatedAt        string  `json:"created_at"`
	ResolvedAt       *string `json:"resolved_at"`
}

// marketSummaryResponse is the JSON response for GET /markets/{market_id}.
type marketSummaryResponse struct {
	marketResponse
	BestYesBid   *int64 `json:"best_yes_bid"`
	BestNoBid    *int64 `json:"best_no_bid"`
	LastYesPrice *int64 `json:"last_yes_price"`
	Volume       int64  `json:"volume"`
}

// bookLevelResponse is a single price level in the book response.
type bookLevelResponse struct {
	Price         int64 `json:"price"`
	TotalQuantity int64 `json:"total_quantity"`
	OrderCount    int   `json:"order_count"`
}

// bookResponse is the JSON response for GET /markets/{market_id}/book.
type bookResponse struct {
	MarketID   string              `json:"market_id"`
	Yes        []bookLevelResponse `json:"yes"`
	No         []bookLevelResponse `json:"no"`
	Spread     *int64              `json:"spread"`
	SnapshotAt string              `json:"snapshot_at"`
}

// quoteLevelResponse is a single price level in the quote response.
type quoteLevelResponse struct {
	Price    int64 `json:"price"`
	Quantity int64 `json:"quantity"`
}

// quoteResponse is the JSON response for GET /markets/{market_id}/quote.
type quoteResponse struct {
	MarketID          string               `json:"market_id"`
	Side              string               `json:"side"`
	QuantityRequested int64                `json:"quantity_requested"`
	QuantityAvailable int64                `json:"quantity_available"`
	FullyFillable     bool                 `json:"fully_fillable"`
	EstimatedAvgPrice *int64               `json:"estimated_average_price"`
	EstimatedTotal    *int64               `json:"estimated_total"`
	PriceLevels       []quoteLevelResponse `json:"price_levels"`
	QuotedAt          string               `json:"quoted_at"`
}

// marketFillResponse is a single fill in the market's trade history.
type marketFillResponse struct {
	FillID       string `json:"fill_id"`
	MakerOrderID string `json:"maker_order_id"`
	TakerOrderID string `json:"taker_order_id"`
	MakerSide    string `json:"maker_side"`
	YesPrice     int64  `json:"yes_price"`
	NoPrice      int64  `json:"no_price"`
	Quantity     int64  `json:"quantity"`
	ExecutedAt   string `json:"executed_at"`
}

// pricePointResponse is one interval of a market's price history.
type pricePointResponse struct {
	Time     string `json:"time"`
	YesPrice int64  `json:"yes_price"`
	NoPrice  int64  `json:"no_price"`
	Volume   int64  `json:"volume"`
}

// outcomeRequest is the JSON request body for the outcome and resolve
// endpoints.
type outcomeRequest struct {
	Outcome  string `json:"outcome"`
	Override bool   `json:"override"`
}

// payoutResponse is a single winning account in the resolve response.
type payoutResponse struct {
	AccountID string `json:"account_id"`
	Shares    int64  `json:"shares"`
	Amount    int64  `json:"amount"`
}

// resolveResponse is the JSON response for POST /markets/{market_id}/resolve.
type resolveResponse struct {
	Market          marketResponse   `json:"market"`
	Payouts         []payoutResponse `json:"payouts"`
	PayoutTotal     int64            `json:"payout_total"`
	CancelledOrders []orderResponse  `json:"cancelled_orders"`
}

// CreateMarket handles POST /markets.
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var endTime time.Time
	if req.EndTime != "" {
		t, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "end_time must be a valid RFC 3339 timestamp")
			return
		}
		endTime = t
	}

	mkt, err := h.marketSvc.Create(r.Context(), service.CreateMarketRequest{
		MarketID:         req.MarketID,
		Question:         req.Question,
		Description:      req.Description,
		Category:         req.Category,
		ResolutionSource: req.ResolutionSource,
		EndTime:          endTime,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildMarketResponse(mkt))
}

// ListMarkets handles GET /markets.
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	status := domain.MarketStatus(r.URL.Query().Get("status"))

	markets := h.marketSvc.List()
	resp := make([]marketResponse, 0, len(markets))
	for _, m := range markets {
		if status != "" && m.Status != status {
			continue
		}
		resp = append(resp, buildMarketResponse(m))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"markets": resp})
}

// GetMarket handles GET /markets/{market_id}.
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	sum, err := h.marketSvc.Get(r.Context(), chi.URLParam(r, "market_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, marketSummaryResponse{
		marketResponse: buildMarketResponse(sum.Market),
		BestYesBid:     sum.BestYes,
		BestNoBid:      sum.BestNo,
		LastYesPrice:   sum.LastYesPrice,
		Volume:         sum.Volume,
	})
}

// GetBook handles GET /markets/{market_id}/book.
func (h *MarketHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	depth, ok := intParam(w, r.URL.Query().Get("depth"), 10, "depth")
	if !ok {
		return
	}

	book, err := h.marketSvc.GetBook(chi.URLParam(r, "market_id"), depth)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, bookResponse{
		MarketID:   book.MarketID,
		Yes:        buildLevels(book.Yes),
		No:         buildLevels(book.No),
		Spread:     book.Spread,
		SnapshotAt: formatTime(book.SnapshotAt),
	})
}

// GetQuote handles GET /markets/{market_id}/quote.
func (h *MarketHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	quantity, err := strconv.ParseInt(q.Get("quantity"), 10, 64)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "quantity must be a positive integer")
		return
	}

	quote, err := h.marketSvc.GetQuote(chi.URLParam(r, "market_id"), domain.Side(q.Get("side")), quantity)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	levels := make([]quoteLevelResponse, len(quote.PriceLevels))
	for i, l := range quote.PriceLevels {
		levels[i] = quoteLevelResponse{Price: l.Price, Quantity: l.Quantity}
	}
	WriteJSON(w, http.StatusOK, quoteResponse{
		MarketID:          quote.MarketID,
		Side:              string(quote.Side),
		QuantityRequested: quote.QuantityRequested,
		QuantityAvailable: quote.QuantityAvailable,
		FullyFillable:     quote.FullyFillable,
		EstimatedAvgPrice: quote.EstimatedAvgPrice,
		EstimatedTotal:    quote.EstimatedTotal,
		PriceLevels:       levels,
		QuotedAt:          formatTime(quote.QuotedAt),
	})
}

// ListFills handles GET /markets/{market_id}/fills.
func (h *MarketHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r.URL.Query().Get("limit"), 50, "limit")
	if !ok {
		return
	}

	fills, err := h.marketSvc.ListFills(r.Context(), chi.URLParam(r, "market_id"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]marketFillResponse, len(fills))
	for i, f := range fills {
		yes := f.YesPrice()
		resp[i] = marketFillResponse{
			FillID:       f.FillID,
			MakerOrderID: f.MakerOrderID,
			TakerOrderID: f.TakerOrderID,
			MakerSide:    string(f.MakerSide),
			YesPrice:     yes,
			NoPrice:      domain.ComplementPrice(yes),
			Quantity:     f.Quantity,
			ExecutedAt:   formatTime(f.ExecutedAt),
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"fills": resp})
}

// GetHistory handles GET /markets/{market_id}/history. interval is a Go
// duration (default 1h) and since an RFC 3339 time (default a week ago).
func (h *MarketHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	interval := time.Hour
	if v := q.Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "interval must be a duration such as 1h")
			return
		}
		interval = d
	}
	since := time.Now().Add(-7 * 24 * time.Hour)
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "since must be an RFC 3339 time")
			return
		}
		since = t
	}

	points, err := h.marketSvc.PriceHistory(r.Context(), chi.URLParam(r, "market_id"), interval, since)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]pricePointResponse, len(points))
	for i, p := range points {
		resp[i] = pricePointResponse{
			Time:     formatTime(p.Time),
			YesPrice: p.YesPrice,
			NoPrice:  p.NoPrice,
			Volume:   p.Volume,
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"points": resp})
}

// ReportOutcome handles POST /markets/{market_id}/outcome. The market is
// settled by the resolution watcher once its end time has passed.
func (h *MarketHandler) ReportOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	marketID := chi.URLParam(r, "market_id")
	if err := h.marketSvc.ReportOutcome(marketID, domain.Outcome(req.Outcome)); err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"market_id": marketID,
		"outcome":   req.Outcome,
	})
}

// Resolve handles POST /markets/{market_id}/resolve.
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	res, err := h.marketSvc.Resolve(r.Context(), domain.ResolveRequest{
		MarketID: chi.URLParam(r, "market_id"),
		Outcome:  domain.Outcome(req.Outcome),
		Override: req.Override,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildResolveResponse(res))
}

func buildMarketResponse(m domain.Market) marketResponse {
	resp := marketResponse{
		MarketID:         m.MarketID,
		Question:         m.Question,
		Description:      m.Description,
		Category:         m.Category,
		ResolutionSource: m.ResolutionSource,
		EndTime:          formatTime(m.EndTime),
		Status:           string(m.Status),
		CreatedAt:        formatTime(m.CreatedAt),
		ResolvedAt:       formatTimePtr(m.ResolvedAt),
	}
	if m.Outcome != domain.OutcomeUnset {
		o := string(m.Outcome)
		resp.Outcome = &o
	}
	return resp
}

func buildLevels(levels []engine.PriceLevel) []bookLevelResponse {
	out := make([]bookLevelResponse, len(levels))
	for i, l := range levels {
		out[i] = bookLevelResponse{
			Price:         l.Price,
			TotalQuantity: l.TotalQuantity,
			OrderCount:    l.OrderCount,
		}
	}
	return out
}

func buildResolveResponse(res *engine.ResolveResult) resolveResponse {
	resp := resolveResponse{
		Market:          buildMarketResponse(res.Market),
		Payouts:         make([]payoutResponse, len(res.Payouts)),
		PayoutTotal:     res.PayoutTotal,
		CancelledOrders: make([]orderResponse, len(res.CancelledOrders)),
	}
	for i, p := range res.Payouts {
		resp.Payouts[i] = payoutResponse{AccountID: p.AccountID, Shares: p.Shares, Amount: p.Amount}
	}
	for i, o := range res.CancelledOrders {
		resp.CancelledOrders[i] = buildOrderResponse(o)
	}
	return resp
}
