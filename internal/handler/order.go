package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/predictbook/internal/domain"
	"github.com/efreitasn/predictbook/internal/service"
	"github.com/efreitasn/predictbook/internal/store"
)

// accountHeader identifies the caller on requests without a body.
const accountHeader = "X-Account-Id"

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// submitOrderRequest is the JSON request body for POST /markets/{market_id}/orders.
type submitOrderRequest struct {
	AccountID string `json:"account_id"`
	Side      string `json:"side"`
	Type      string `json:"type"`
	Price     *int64 `json:"price"`
	Quantity  int64  `json:"quantity"`
}

// orderResponse is the JSON response for a single order. Market orders
// carry no price.
type orderResponse struct {
	OrderID            string         `json:"order_id"`
	MarketID           string         `json:"market_id"`
	AccountID          string         `json:"account_id"`
	Type               string         `json:"type"`
	Side               string         `json:"side"`
	Price              *int64         `json:"price,omitempty"`
	Quantity           int64          `json:"quantity"`
	FilledQuantity     int64          `json:"filled_quantity"`
	RemainingQuantity  int64          `json:"remaining_quantity"`
	CancelledQuantity  int64          `json:"cancelled_quantity"`
	ReservedCollateral int64          `json:"reserved_collateral"`
	Status             string         `json:"status"`
	Sequence           uint64         `json:"sequence"`
	CreatedAt          string         `json:"created_at"`
	CancelledAt        *string        `json:"cancelled_at"`
	AveragePrice       *int64         `json:"average_price"`
	Fills              []fillResponse `json:"fills"`
}

// fillResponse is a single fill. Price is what the order in question paid
// per share.
type fillResponse struct {
	FillID     string `json:"fill_id"`
	Price      int64  `json:"price"`
	Quantity   int64  `json:"quantity"`
	Role       string `json:"role"`
	ExecutedAt string `json:"executed_at"`
}

// submitOrderResponse is the JSON response for POST /markets/{market_id}/orders.
type submitOrderResponse struct {
	Order       orderResponse   `json:"order"`
	MakerOrders []orderResponse `json:"maker_orders"`
}

// orderListResponse is the JSON response for GET /accounts/{account_id}/orders.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

// SubmitOrder handles POST /markets/{market_id}/orders.
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var price int64
	if req.Price != nil {
		price = *req.Price
	}
	res, err := h.orderSvc.Submit(r.Context(), domain.SubmitRequest{
		MarketID:  chi.URLParam(r, "market_id"),
		AccountID: req.AccountID,
		Side:      domain.Side(req.Side),
		Type:      domain.OrderType(req.Type),
		Price:     price,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	makers := make([]orderResponse, len(res.MakerOrders))
	for i, o := range res.MakerOrders {
		makers[i] = buildOrderResponse(o)
	}
	WriteJSON(w, http.StatusCreated, submitOrderResponse{
		Order:       buildOrderResponse(res.Order),
		MakerOrders: makers,
	})
}

// GetOrder handles GET /markets/{market_id}/orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.Get(chi.URLParam(r, "market_id"), chi.URLParam(r, "order_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// CancelOrder handles DELETE /markets/{market_id}/orders/{order_id}. The
// caller names itself in the X-Account-Id header.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.Cancel(r.Context(), domain.CancelRequest{
		MarketID:  chi.URLParam(r, "market_id"),
		OrderID:   chi.URLParam(r, "order_id"),
		AccountID: r.Header.Get(accountHeader),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// ListOrders handles GET /accounts/{account_id}/orders.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	q := r.URL.Query()

	filter := store.OrderFilter{MarketID: q.Get("market_id")}
	if s := q.Get("status"); s != "" {
		status := domain.OrderStatus(s)
		filter.Status = &status
	}

	page, ok := intParam(w, q.Get("page"), 1, "page")
	if !ok {
		return
	}
	limit, ok := intParam(w, q.Get("limit"), 20, "limit")
	if !ok {
		return
	}

	orders, total, err := h.orderSvc.ListOrders(accountID, filter, page, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := orderListResponse{
		Orders: make([]orderResponse, len(orders)),
		Total:  total,
		Page:   page,
		Limit:  limit,
	}
	for i, o := range orders {
		resp.Orders[i] = buildOrderResponse(o)
	}
	WriteJSON(w, http.StatusOK, resp)
}

// intParam parses an optional integer query parameter, writing a 400 and
// returning false when it is malformed.
func intParam(w http.ResponseWriter, raw string, def int, name string) (int, bool) {
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", name+" must be an integer")
		return 0, false
	}
	return v, true
}

func buildOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:            o.OrderID,
		MarketID:           o.MarketID,
		AccountID:          o.AccountID,
		Type:               string(o.Type),
		Side:               string(o.Side),
		Quantity:           o.Quantity,
		FilledQuantity:     o.FilledQuantity,
		RemainingQuantity:  o.RemainingQuantity,
		CancelledQuantity:  o.CancelledQuantity,
		ReservedCollateral: o.ReservedCollateral,
		Status:             string(o.Status),
		Sequence:           o.Sequence,
		CreatedAt:          formatTime(o.CreatedAt),
		CancelledAt:        formatTimePtr(o.CancelledAt),
		Fills:              make([]fillResponse, len(o.Fills)),
	}
	if o.Type == domain.OrderTypeLimit {
		p := o.Price
		resp.Price = &p
	}
	if avg, ok := o.AveragePrice(); ok {
		resp.AveragePrice = &avg
	}
	for i, f := range o.Fills {
		role := "taker"
		if f.MakerOrderID == o.OrderID {
			role = "maker"
		}
		resp.Fills[i] = fillResponse{
			FillID:     f.FillID,
			Price:      f.PriceFor(o.OrderID),
			Quantity:   f.Quantity,
			Role:       role,
			ExecutedAt: formatTime(f.ExecutedAt),
		}
	}
	return resp
}
