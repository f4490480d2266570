package main

import (
	"context"
	"fmt"
	"time"

	rediscache "perp-ledger/internal/cache/redis"
	"perp-ledger/internal/config"
	"perp-ledger/internal/cooldown"
	"perp-ledger/internal/db"
	"perp-ledger/internal/journal"
	"perp-ledger/internal/ledger"
	"perp-ledger/internal/liquidation"
	"perp-ledger/internal/locks"
	"perp-ledger/internal/logging"
	"perp-ledger/internal/marketdata"
	"perp-ledger/internal/orders"
	"perp-ledger/internal/store"
	"perp-ledger/internal/store/memory"
	"perp-ledger/internal/store/postgres"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// app is the wired process. Stores, price feed, locks and cooldowns are
// shared through Postgres and Redis when configured, otherwise in-process.
type app struct {
	cfg     config.Config
	log     *logrus.Logger
	pool    *pgxpool.Pool
	redis   *rediscache.Client
	store   store.Store
	bus     *marketdata.Bus
	pairs   marketdata.PairSource
	feed    marketdata.PriceFeed
	writer  marketdata.PriceWriter
	history marketdata.PriceHistory
	ledger  *ledger.Service
	orders  *orders.Service
	scanner *liquidation.Scanner
	journal *journal.SQLite
}

func (a *app) shared() bool {
	return a.pool != nil && a.redis != nil
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, log: logging.New(cfg.LogLevel, cfg.LogFormat), bus: marketdata.NewBus()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if cfg.DBDSN != "" {
		pool, err := db.NewPool(ctx, cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.store = postgres.NewStore(pool)
	} else {
		a.log.Warn("DB_DSN is empty, using the in-memory store")
		a.store = memory.New()
	}

	var (
		locker    locks.Locker
		cooldowns cooldown.Store
	)
	if cfg.RedisAddr != "" {
		client, err := rediscache.New(ctx, rediscache.ClientConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			return nil, err
		}
		a.redis = client
		cache := rediscache.NewPriceCache(client, cfg.PriceHistory)
		a.feed, a.writer, a.history = cache, cache, cache
		locker = rediscache.NewLocker(client, 0)
		cooldowns = rediscache.NewCooldowns(client)
	} else {
		book := marketdata.NewPriceBook(cfg.PriceHistory)
		a.feed, a.writer, a.history = book, book, book
		locker = locks.NewKeyed()
		cooldowns = cooldown.NewMemory(time.Now)
	}

	if cfg.PairsFile != "" {
		reg, err := marketdata.LoadPairs(cfg.PairsFile)
		if err != nil {
			return nil, err
		}
		a.pairs = reg
	} else {
		a.pairs = marketdata.NewPairRegistry(cfg.StrictPairs)
	}

	fresh := marketdata.NewFresh(a.feed, cfg.PriceMaxAge)
	a.ledger = ledger.NewService(a.store, locker, cooldowns, cfg.Ledger, a.log)
	a.orders = orders.NewService(a.store, a.ledger, fresh, a.pairs, locker, a.bus, cfg.Orders, a.log)
	if cfg.JournalPath != "" {
		j, err := journal.NewSQLite(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		a.journal = j
		a.orders.SetRecorder(j)
	}
	a.scanner = liquidation.NewScanner(a.store, fresh, a.orders, cfg.ScanInterval, a.log)
	ok = true
	return a, nil
}

// symbols lists configured pairs plus every symbol with an open position.
func (a *app) symbols(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	pairs, err := a.pairs.Pairs(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	open, err := a.store.ListAllOpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}
	for _, p := range open {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			out = append(out, p.Symbol)
		}
	}
	return out, nil
}

func (a *app) Close() {
	if a.journal != nil {
		_ = a.journal.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
