package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/predictbook/internal/service"
)

// AccountHandler handles HTTP requests for collateral and balance endpoints.
type AccountHandler struct {
	accountSvc *service.AccountService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(accountSvc *service.AccountService) *AccountHandler {
	return &AccountHandler{accountSvc: accountSvc}
}

// transferRequest is the JSON request body for deposits and withdrawals.
type transferRequest struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"` // cents
}

// balanceResponse is the JSON response for balance endpoints. Collateral
// is in cents.
type balanceResponse struct {
	MarketID            string `json:"market_id"`
	AccountID           string `json:"account_id"`
	AvailableCollateral int64  `json:"available_collateral"`
	ReservedCollateral  int64  `json:"reserved_collateral"`
	TotalCollateral     int64  `json:"total_collateral"`
	YesShares           int64  `json:"yes_shares"`
	NoShares            int64  `json:"no_shares"`
	PayoutIfYes         int64  `json:"payout_if_yes"`
	PayoutIfNo          int64  `json:"payout_if_no"`
	UpdatedAt           string `json:"updated_at"`
}

// positionResponse is one open position. Prices and values are in cents.
type positionResponse struct {
	MarketID         string `json:"market_id"`
	Question         string `json:"question"`
	Side             string `json:"side"`
	Shares           int64  `json:"shares"`
	AveragePrice     int64  `json:"average_price"`
	CostBasis        int64  `json:"cost_basis"`
	MarkPrice        int64  `json:"mark_price"`
	CurrentValue     int64  `json:"current_value"`
	UnrealizedPnL    int64  `json:"unrealized_pnl"`
	UnrealizedPnLBps int64  `json:"unrealized_pnl_bps"`
}

// Deposit handles POST /markets/{market_id}/deposits.
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, h.accountSvc.Deposit)
}

// Withdraw handles POST /markets/{market_id}/withdrawals.
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.transfer(w, r, h.accountSvc.Withdraw)
}

func (h *AccountHandler) transfer(
	w http.ResponseWriter,
	r *http.Request,
	fn func(marketID, accountID string, amount int64) (*service.BalanceResponse, error),
) {
	var req transferRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	bal, err := fn(chi.URLParam(r, "market_id"), req.AccountID, req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildBalanceResponse(bal))
}

// GetBalance handles GET /markets/{market_id}/accounts/{account_id}/balance.
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.accountSvc.GetBalance(chi.URLParam(r, "market_id"), chi.URLParam(r, "account_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildBalanceResponse(bal))
}

// ListPositions handles GET /accounts/{account_id}/positions.
func (h *AccountHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.accountSvc.Positions(r.Context(), chi.URLParam(r, "account_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]positionResponse, len(positions))
	for i, p := range positions {
		resp[i] = positionResponse{
			MarketID:         p.MarketID,
			Question:         p.Question,
			Side:             string(p.Side),
			Shares:           p.Shares,
			AveragePrice:     p.AveragePrice,
			CostBasis:        p.CostBasis,
			MarkPrice:        p.MarkPrice,
			CurrentValue:     p.CurrentValue,
			UnrealizedPnL:    p.UnrealizedPnL,
			UnrealizedPnLBps: p.UnrealizedPnLBps(),
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"positions": resp})
}

func buildBalanceResponse(b *service.BalanceResponse) balanceResponse {
	return balanceResponse{
		MarketID:            b.MarketID,
		AccountID:           b.AccountID,
		AvailableCollateral: b.Free,
		ReservedCollateral:  b.Reserved,
		TotalCollateral:     b.Collateral(),
		YesShares:           b.Yes,
		NoShares:            b.No,
		PayoutIfYes:         b.PayoutIfYes,
		PayoutIfNo:          b.PayoutIfNo,
		UpdatedAt:           formatTime(b.UpdatedAt),
	}
}
