package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/efreitasn/predictbook/internal/service"
)

// ChainhookHandler receives contract-call deliveries from a chainhook
// predicate.
type ChainhookHandler struct {
	chainhookSvc *service.ChainhookService
	secret       string
}

// NewChainhookHandler creates a new ChainhookHandler. An empty secret
// disables authentication.
func NewChainhookHandler(chainhookSvc *service.ChainhookService, secret string) *ChainhookHandler {
	return &ChainhookHandler{chainhookSvc: chainhookSvc, secret: secret}
}

// chainhookResponse is the JSON response for chainhook deliveries.
type chainhookResponse struct {
	Success   bool `json:"success"`
	Blocks    int  `json:"blocks"`
	Processed int  `json:"processed"`
	Skipped   int  `json:"skipped"`
	Failed    int  `json:"failed"`
	Rollbacks int  `json:"rollbacks"`
}

// Bets handles POST /webhooks/bet.
func (h *ChainhookHandler) Bets(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.chainhookSvc.ProcessBets)
}

// Markets handles POST /webhooks/market-created.
func (h *ChainhookHandler) Markets(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, h.chainhookSvc.ProcessMarkets)
}

func (h *ChainhookHandler) handle(
	w http.ResponseWriter,
	r *http.Request,
	process func(context.Context, service.ChainhookPayload) service.ChainhookResult,
) {
	if !h.authorized(r) {
		WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}

	// Chainhook payloads carry many fields this service ignores, so unknown
	// fields are accepted here.
	var payload service.ChainhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Request body must be a valid chainhook payload")
		return
	}

	res := process(r.Context(), payload)
	WriteJSON(w, http.StatusOK, chainhookResponse{
		Success:   true,
		Blocks:    res.Blocks,
		Processed: res.Processed,
		Skipped:   res.Skipped,
		Failed:    res.Failed,
		Rollbacks: res.Rollbacks,
	})
}

func (h *ChainhookHandler) authorized(r *http.Request) bool {
	if h.secret == "" {
		return true
	}
	want := "Bearer " + h.secret
	got := r.Header.Get("Authorization")
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
