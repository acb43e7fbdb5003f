package handler

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/efreitasn/predictbook/internal/service"
)

// Services groups the services the router exposes.
type Services struct {
	Markets   *service.MarketService
	Orders    *service.OrderService
	Accounts  *service.AccountService
	Chainhook *service.ChainhookService
}

// RouterOptions tunes the HTTP surface.
type RouterOptions struct {
	// CORSOrigins lists allowed browser origins. Empty allows none.
	CORSOrigins []string
	// WebhookSecret is the bearer token chainhook deliveries must carry.
	// Empty disables the check.
	WebhookSecret string
	// Relay serves /ws when set.
	Relay http.Handler
}

// NewRouter creates a chi router with all routes registered, request logging,
// CORS, and Content-Type validation middleware.
func NewRouter(svcs Services, opts RouterOptions, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))
	r.Use(contentTypeJSON)

	// Create handlers.
	marketH := NewMarketHandler(svcs.Markets)
	orderH := NewOrderHandler(svcs.Orders)
	accountH := NewAccountHandler(svcs.Accounts)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Market routes.
	r.Route("/markets", func(r chi.Router) {
		r.Post("/", marketH.CreateMarket)
		r.Get("/", marketH.ListMarkets)

		r.Route("/{market_id}", func(r chi.Router) {
			r.Get("/", marketH.GetMarket)
			r.Get("/book", marketH.GetBook)
			r.Get("/quote", marketH.GetQuote)
			r.Get("/fills", marketH.ListFills)
			r.Get("/history", marketH.GetHistory)
			r.Post("/outcome", marketH.ReportOutcome)
			r.Post("/resolve", marketH.Resolve)

			// Collateral routes.
			r.Post("/deposits", accountH.Deposit)
			r.Post("/withdrawals", accountH.Withdraw)
			r.Get("/accounts/{account_id}/balance", accountH.GetBalance)

			// Order routes.
			r.Post("/orders", orderH.SubmitOrder)
			r.Get("/orders/{order_id}", orderH.GetOrder)
			r.Delete("/orders/{order_id}", orderH.CancelOrder)
		})
	})

	r.Get("/accounts/{account_id}/orders", orderH.ListOrders)
	r.Get("/accounts/{account_id}/positions", accountH.ListPositions)

	// Chainhook deliveries.
	if svcs.Chainhook != nil {
		chainH := NewChainhookHandler(svcs.Chainhook, opts.WebhookSecret)
		r.Post("/webhooks/bet", chainH.Bets)
		r.Post("/webhooks/market-created", chainH.Markets)
	}

	if opts.Relay != nil {
		r.Method(http.MethodGet, "/ws", opts.Relay)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", accountHeader},
	})
	return c.Handler(r)
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration.
func requestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the wrapped writer so /ws can be upgraded.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests. If the Content-Type header doesn't start with
// "application/json", it returns 400 Bad Request before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
