// Package liquidation sweeps open positions and force-closes those whose mark
// price has crossed the liquidation price.
package liquidation

import (
	"context"
	"errors"
	"sync"
	"time"

	"perp-ledger/internal/marketdata"
	"perp-ledger/internal/model"
	"perp-ledger/internal/orders"
	"perp-ledger/internal/pnl"
	"perp-ledger/internal/types"

	"github.com/sirupsen/logrus"
)

const (
	DefaultInterval = time.Second
	MinInterval     = 100 * time.Millisecond
	MaxInterval     = time.Minute
)

// ClampInterval keeps the sweep period inside [MinInterval, MaxInterval].
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultInterval
	case d < MinInterval:
		return MinInterval
	case d > MaxInterval:
		return MaxInterval
	}
	return d
}

type PositionLister interface {
	ListAllOpenPositions(ctx context.Context) ([]model.Position, error)
}

type Liquidator interface {
	Liquidate(ctx context.Context, pos model.Position, mark marketdata.Price) (model.LiquidatedPosition, error)
}

var _ Liquidator = (*orders.Service)(nil)

type Scanner struct {
	positions PositionLister
	prices    marketdata.PriceFeed
	liq       Liquidator
	interval  time.Duration
	log       logrus.FieldLogger

	// sweeps never overlap
	mu sync.Mutex
}

func NewScanner(positions PositionLister, prices marketdata.PriceFeed, liq Liquidator, interval time.Duration, log logrus.FieldLogger) *Scanner {
	return &Scanner{
		positions: positions,
		prices:    prices,
		liq:       liq,
		interval:  ClampInterval(interval),
		log:       log.WithField("component", "liquidation"),
	}
}

func (s *Scanner) Interval() time.Duration {
	return s.interval
}

// Sweep checks every open position once. Positions without a usable mark
// price are skipped until the next sweep. Each liquidation commits on its
// own; a failure on one position does not stop the sweep and is returned
// joined with the others.
func (s *Scanner) Sweep(ctx context.Context) ([]model.LiquidatedPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	open, err := s.positions.ListAllOpenPositions(ctx)
	if err != nil {
		return nil, err
	}
	marks := map[string]*marketdata.Price{}
	var (
		liquidated []model.LiquidatedPosition
		errs       []error
		unpriced   int
	)
	for _, pos := range open {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		mark, seen := marks[pos.Symbol]
		if !seen {
			mark = s.markPrice(ctx, pos.Symbol)
			marks[pos.Symbol] = mark
		}
		if mark == nil {
			unpriced++
			continue
		}
		if !pnl.ShouldLiquidate(pos.Side, pos.LiquidationPrice, mark.Value) {
			continue
		}
		res, err := s.liq.Liquidate(ctx, pos, *mark)
		switch {
		case err == nil:
			liquidated = append(liquidated, res)
		case errors.Is(err, orders.ErrNotLiquidatable),
			errors.Is(err, types.ErrPositionNotOpen),
			errors.Is(err, types.ErrPositionNotFound),
			errors.Is(err, types.ErrAccountHalted):
			s.log.WithError(err).WithField("position", pos.ID).Debug("liquidation skipped")
		default:
			s.log.WithError(err).WithFields(logrus.Fields{"position": pos.ID, "user": pos.UserID}).Error("liquidation failed")
			errs = append(errs, err)
		}
	}
	s.log.WithFields(logrus.Fields{
		"open":       len(open),
		"liquidated": len(liquidated),
		"unpriced":   unpriced,
	}).Debug("sweep done")
	return liquidated, errors.Join(errs...)
}

func (s *Scanner) markPrice(ctx context.Context, symbol string) *marketdata.Price {
	p, ok, err := s.prices.MarkPrice(ctx, symbol)
	if err != nil {
		s.log.WithError(err).WithField("symbol", symbol).Warn("mark price")
		return nil
	}
	if !ok || !p.Value.IsPositive() {
		return nil
	}
	return &p
}

// Run sweeps immediately and then on every tick until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	s.log.WithField("interval", s.interval.String()).Info("liquidation scanner started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).Warn("sweep")
		}
		select {
		case <-ctx.Done():
			s.log.Info("liquidation scanner stopped")
			return nil
		case <-ticker.C:
		}
	}
}
