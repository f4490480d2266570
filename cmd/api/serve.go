package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"perp-ledger/internal/config"
	"perp-ledger/internal/health"
	"perp-ledger/internal/httpserver"
	"perp-ledger/internal/journal"
	"perp-ledger/internal/ledger"
	"perp-ledger/internal/liquidation"
	"perp-ledger/internal/marketdata"
	"perp-ledger/internal/orders"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the liquidation scanner",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	var journalHandler *journal.Handler
	if a.journal != nil {
		journalHandler = journal.NewHandler(a.journal)
	}

	healthHandler := health.NewHandler(time.Now(), a.pool, a.bus.Dropped)
	if a.redis != nil {
		healthHandler.Check("redis", a.redis)
	}
	limiter := httpserver.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	router := httpserver.NewRouter(httpserver.RouterDeps{
		LedgerHandler:      ledger.NewHandler(a.ledger),
		OrderHandler:       orders.NewHandler(a.orders),
		MarketHandler:      marketdata.NewHandler(a.pairs, a.feed, a.writer, a.history, a.bus),
		LiquidationHandler: liquidation.NewHandler(a.scanner),
		HealthHandler:      healthHandler,
		JournalHandler:     journalHandler,
		WSHandler:          httpserver.NewWSHandler(a.bus, cfg.WebSocketOrigin, log),
		RateLimiter:        limiter,
		InternalToken:      cfg.InternalToken,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", cfg.HTTPAddr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return a.scanner.Run(gctx)
	})
	g.Go(func() error {
		marketdata.RunPriceRelay(gctx, a.bus, a.feed, a.symbols, time.Second, log)
		return nil
	})
	g.Go(func() error {
		return limiter.RunPruner(gctx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("shutdown")
		return err
	}
	log.Info("stopped")
	return nil
}
