package httpserver

import (
	"net/http"

	"perp-ledger/internal/health"
	"perp-ledger/internal/journal"
	"perp-ledger/internal/ledger"
	"perp-ledger/internal/liquidation"
	"perp-ledger/internal/marketdata"
	"perp-ledger/internal/orders"

	"github.com/go-chi/chi/v5"
)

type RouterDeps struct {
	LedgerHandler      *ledger.Handler
	OrderHandler       *orders.Handler
	MarketHandler      *marketdata.Handler
	LiquidationHandler *liquidation.Handler
	HealthHandler      *health.Handler
	// JournalHandler is nil when no journal is configured.
	JournalHandler *journal.Handler
	WSHandler      http.Handler
	RateLimiter    *RateLimiter
	InternalToken  string
}

func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID, X-Internal-Token")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Use(SecurityHeaders)
	if d.RateLimiter != nil {
		r.Use(d.RateLimiter.Middleware)
	}

	r.Get("/health", d.HealthHandler.Live)
	r.Get("/health/ready", d.HealthHandler.Ready)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/pairs", d.MarketHandler.Pairs)
		r.Get("/prices/{symbol}", d.MarketHandler.Price)
		r.Get("/prices/{symbol}/candles", d.MarketHandler.Candles)
		if d.WSHandler != nil {
			r.Get("/ws", d.WSHandler.ServeHTTP)
		}

		r.Group(func(r chi.Router) {
			r.Use(WithUser)
			r.Post("/fills", userRoute(d.OrderHandler.PlaceFill))
			r.Get("/orders", userRoute(d.OrderHandler.Orders))
			r.Get("/positions", userRoute(d.OrderHandler.Positions))
			r.Post("/positions/{id}/close", userRoute(d.OrderHandler.ClosePosition))
			r.Get("/account", userRoute(d.OrderHandler.Account))
			r.Get("/portfolio", userRoute(d.OrderHandler.Portfolio))
			if d.JournalHandler != nil {
				r.Get("/history", userRoute(d.JournalHandler.History))
			}

			r.Post("/wallet/deposit", userRoute(d.LedgerHandler.Deposit))
			r.Post("/wallet/withdraw", userRoute(d.LedgerHandler.Withdraw))
			r.Get("/wallet/transactions", userRoute(d.LedgerHandler.Transactions))
			r.Get("/faucet", userRoute(d.LedgerHandler.FaucetInfo))
			r.Post("/faucet/claim", userRoute(d.LedgerHandler.ClaimFaucet))
		})

		r.Route("/internal", func(r chi.Router) {
			r.Use(InternalAuth(d.InternalToken))
			r.Post("/prices", d.MarketHandler.SetPrice)
			r.Post("/liquidations/sweep", d.LiquidationHandler.Sweep)
			r.Get("/halted", d.OrderHandler.Halted)
			r.Post("/accounts/{id}/reset", d.OrderHandler.ResetAccount)
		})
	})
	return r
}
