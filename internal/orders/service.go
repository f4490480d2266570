package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"perp-ledger/internal/id"
	"perp-ledger/internal/ledger"
	"perp-ledger/internal/locks"
	"perp-ledger/internal/marketdata"
	"perp-ledger/internal/model"
	"perp-ledger/internal/pnl"
	"perp-ledger/internal/store"
	"perp-ledger/internal/types"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ErrNotLiquidatable is returned by Liquidate when the position is no longer
// past its liquidation price under the row lock.
var ErrNotLiquidatable = errors.New("position not liquidatable")

// Recorder receives every position that reached a terminal state, after the
// unit that closed it has committed.
type Recorder interface {
	RecordClosed(ctx context.Context, c model.ClosedPosition) error
	RecordLiquidated(ctx context.Context, l model.LiquidatedPosition) error
}

const recordTimeout = 5 * time.Second

type Config struct {
	LiquidationFeeRate decimal.Decimal
	LiquidationBuffer  decimal.Decimal
	PriceTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		LiquidationFeeRate: decimal.Zero,
		LiquidationBuffer:  decimal.NewFromInt(1),
		PriceTimeout:       2 * time.Second,
	}
}

// Service is the fill processor. Each mutation runs under the position and
// account locks inside one store transaction.
type Service struct {
	store   store.Store
	ledger  *ledger.Service
	prices  marketdata.PriceFeed
	pairs   marketdata.PairSource
	locker  locks.Locker
	bus      *marketdata.Bus
	recorder Recorder
	cfg      Config
	now      func() time.Time
	log      logrus.FieldLogger
}

func NewService(st store.Store, ledgerSvc *ledger.Service, prices marketdata.PriceFeed, pairs marketdata.PairSource, locker locks.Locker, bus *marketdata.Bus, cfg Config, log logrus.FieldLogger) *Service {
	if !cfg.LiquidationBuffer.IsPositive() {
		cfg.LiquidationBuffer = decimal.NewFromInt(1)
	}
	return &Service{
		store:  st,
		ledger: ledgerSvc,
		prices: prices,
		pairs:  pairs,
		locker: locker,
		bus:    bus,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		log:    log.WithField("component", "orders"),
	}
}

// SetRecorder makes every later close and liquidation reach r.
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

type FillRequest struct {
	UserID   string
	Symbol   string
	Side     types.Side
	Size     decimal.Decimal
	Leverage int
}

type FillResult struct {
	Transition   types.Transition    `json:"transition"`
	Fill         model.Fill          `json:"fill"`
	Position     model.Position      `json:"position"`
	Closed       *model.Position     `json:"closed_position,omitempty"`
	FillPrice    decimal.Decimal     `json:"fill_price"`
	Fee          decimal.Decimal     `json:"fee"`
	RealizedPnL  decimal.Decimal     `json:"realized_pnl"`
	Transactions []model.Transaction `json:"transactions"`
}

type CloseResult struct {
	Fill        model.Fill      `json:"fill"`
	Position    model.Position  `json:"position"`
	MarkPrice   decimal.Decimal `json:"mark_price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Fee         decimal.Decimal `json:"fee"`
}

func (s *Service) liquidationPrice(side types.Side, entry decimal.Decimal, leverage int) decimal.Decimal {
	return pnl.LiquidationPriceWithBuffer(side, entry, leverage, s.cfg.LiquidationBuffer)
}

// checkHalted rejects early. execute checks again under the account lock.
func (s *Service) checkHalted(ctx context.Context, userID string) error {
	acct, found, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return err
	}
	if found && acct.Halted() {
		return types.Halted(acct.HaltedReason)
	}
	return nil
}

// markPrice fails fast when the feed cannot produce a fresh tick.
func (s *Service) markPrice(ctx context.Context, symbol string) (marketdata.Price, error) {
	if s.cfg.PriceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PriceTimeout)
		defer cancel()
	}
	p, ok, err := s.prices.MarkPrice(ctx, symbol)
	if err != nil {
		s.log.WithError(err).WithField("symbol", symbol).Warn("price feed")
		return marketdata.Price{}, types.PriceUnavailable(symbol)
	}
	if !ok || !p.Value.IsPositive() {
		return marketdata.Price{}, types.PriceUnavailable(symbol)
	}
	return p, nil
}

func (s *Service) validatePair(pair model.TradingPair, size decimal.Decimal, leverage int) error {
	if !pair.Active {
		return types.Validation("trading pair %s is not active", pair.Symbol)
	}
	if leverage < 1 || leverage > pair.MaxLeverage {
		return types.Validation("leverage must be between 1 and %d", pair.MaxLeverage)
	}
	if size.LessThan(pair.MinOrderSize) || size.GreaterThan(pair.MaxOrderSize) {
		return types.Validation("size must be between %s and %s", pair.MinOrderSize, pair.MaxOrderSize)
	}
	return nil
}

// PlaceFill applies a market fill at the current mark price.
func (s *Service) PlaceFill(ctx context.Context, req FillRequest) (FillResult, error) {
	userID := strings.TrimSpace(req.UserID)
	symbol := marketdata.NormalizeSymbol(req.Symbol)
	res, err := s.placeFill(ctx, userID, symbol, req)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"user": userID, "symbol": symbol, "side": req.Side}).Debug("fill rejected")
	}
	return res, err
}

func (s *Service) placeFill(ctx context.Context, userID, symbol string, req FillRequest) (FillResult, error) {
	if userID == "" {
		return FillResult{}, types.Validation("user is required")
	}
	if symbol == "" {
		return FillResult{}, types.Validation("symbol is required")
	}
	if !req.Side.Valid() {
		return FillResult{}, types.Validation("side must be LONG or SHORT")
	}
	if !req.Size.IsPositive() {
		return FillResult{}, types.Validation("size must be positive")
	}
	if err := s.checkHalted(ctx, userID); err != nil {
		return FillResult{}, err
	}
	pair, err := s.pairs.Pair(ctx, symbol)
	if err != nil {
		return FillResult{}, err
	}
	if err := s.validatePair(pair, req.Size, req.Leverage); err != nil {
		return FillResult{}, err
	}
	mark, err := s.markPrice(ctx, symbol)
	if err != nil {
		return FillResult{}, err
	}

	f := fill{
		id:       id.New(),
		userID:   userID,
		symbol:   symbol,
		side:     req.Side,
		size:     req.Size,
		price:    mark.Value,
		leverage: req.Leverage,
		feeRate:  pair.TakerFee,
		reason:   types.CloseReasonUser,
	}
	out, err := s.execute(ctx, userID, symbol, func(ctx context.Context, u *unit) error {
		current, found, err := u.tx.OpenPositionForUpdate(ctx, userID, symbol)
		if err != nil {
			return err
		}
		open := &current
		if !found {
			open = nil
		}
		if err := u.apply(ctx, f, open); err != nil {
			return err
		}
		return u.recordFill(ctx, f)
	})
	if err != nil {
		return FillResult{}, err
	}

	s.log.WithFields(logrus.Fields{
		"user":       userID,
		"symbol":     symbol,
		"transition": out.transition,
		"size":       req.Size.String(),
		"price":      mark.Value.String(),
		"fee":        out.fee.String(),
	}).Info("fill applied")
	s.publishOutcome(userID, out)
	if out.closed != nil {
		s.recordClosed(ctx, model.ClosedPosition{Position: *out.closed, ExitPrice: out.exitPrice})
	}

	return FillResult{
		Transition:   out.transition,
		Fill:         out.fill,
		Position:     out.position,
		Closed:       out.closed,
		FillPrice:    mark.Value,
		Fee:          out.fee,
		RealizedPnL:  out.realized,
		Transactions: out.transactions,
	}, nil
}

// ClosePosition closes the whole position at the mark price. A position that
// was closed or liquidated concurrently yields types.ErrPositionNotOpen.
func (s *Service) ClosePosition(ctx context.Context, userID, positionID string) (CloseResult, error) {
	if userID == "" || positionID == "" {
		return CloseResult{}, types.Validation("user and position are required")
	}
	pos, err := s.store.GetPosition(ctx, positionID)
	if err != nil {
		return CloseResult{}, err
	}
	if pos.UserID != userID {
		return CloseResult{}, types.ErrPositionNotFound
	}
	if !pos.IsOpen() {
		return CloseResult{}, types.NotOpen(positionID)
	}
	if err := s.checkHalted(ctx, userID); err != nil {
		return CloseResult{}, err
	}
	// A delisted pair must not trap an open position, so closing falls back
	// to the default fee schedule.
	pair, err := s.pairs.Pair(ctx, pos.Symbol)
	if err != nil {
		pair = marketdata.DefaultPair(pos.Symbol)
		s.log.WithError(err).WithFields(logrus.Fields{
			"user":     userID,
			"symbol":   pos.Symbol,
			"position": positionID,
			"fee_rate": pair.TakerFee.String(),
		}).Warn("pair lookup failed, closing at default fees")
	}
	mark, err := s.markPrice(ctx, pos.Symbol)
	if err != nil {
		return CloseResult{}, err
	}

	out, err := s.execute(ctx, userID, pos.Symbol, func(ctx context.Context, u *unit) error {
		p, err := u.tx.PositionForUpdate(ctx, positionID)
		if err != nil {
			return err
		}
		if !p.IsOpen() {
			return types.NotOpen(positionID)
		}
		f := fill{
			id:       id.New(),
			userID:   userID,
			symbol:   p.Symbol,
			side:     p.Side.Opposite(),
			size:     p.Size,
			price:    mark.Value,
			leverage: p.Leverage,
			feeRate:  pair.TakerFee,
			reason:   types.CloseReasonUser,
		}
		u.out.transition = types.TransitionClose
		closed, err := u.closeAll(ctx, f, p, pnl.Fee(p.Size, pair.TakerFee), types.PositionStatusClosed, types.TransitionClose)
		if err != nil {
			return err
		}
		u.out.position = closed
		u.out.closed = &closed
		return u.recordFill(ctx, f)
	})
	if err != nil {
		return CloseResult{}, err
	}

	s.log.WithFields(logrus.Fields{
		"user":     userID,
		"symbol":   pos.Symbol,
		"position": positionID,
		"price":    mark.Value.String(),
		"realized": out.realized.String(),
	}).Info("position closed")
	s.publishOutcome(userID, out)
	s.recordClosed(ctx, model.ClosedPosition{Position: *out.closed, ExitPrice: out.exitPrice})

	return CloseResult{Fill: out.fill, Position: out.position, MarkPrice: mark.Value, RealizedPnL: out.realized, Fee: out.fee}, nil
}

// Liquidate force-closes pos at mark. The liquidation condition is checked
// again under the lock; ErrNotLiquidatable means the price moved back or the
// position changed.
func (s *Service) Liquidate(ctx context.Context, pos model.Position, mark marketdata.Price) (model.LiquidatedPosition, error) {
	if err := s.checkHalted(ctx, pos.UserID); err != nil {
		return model.LiquidatedPosition{}, err
	}
	out, err := s.execute(ctx, pos.UserID, pos.Symbol, func(ctx context.Context, u *unit) error {
		p, err := u.tx.PositionForUpdate(ctx, pos.ID)
		if err != nil {
			return err
		}
		if !p.IsOpen() {
			return types.NotOpen(p.ID)
		}
		if !pnl.ShouldLiquidate(p.Side, p.LiquidationPrice, mark.Value) {
			return ErrNotLiquidatable
		}
		f := fill{
			id:       id.New(),
			userID:   p.UserID,
			symbol:   p.Symbol,
			side:     p.Side.Opposite(),
			size:     p.Size,
			price:    mark.Value,
			leverage: p.Leverage,
			feeRate:  s.cfg.LiquidationFeeRate,
			reason:   types.CloseReasonLiquidation,
		}
		u.out.transition = types.TransitionLiquidate
		closed, err := u.closeAll(ctx, f, p, pnl.Fee(p.Size, s.cfg.LiquidationFeeRate), types.PositionStatusLiquidated, types.TransitionLiquidate)
		if err != nil {
			return err
		}
		u.out.position = closed
		u.out.closed = &closed
		return u.recordFill(ctx, f)
	})
	if err != nil {
		return model.LiquidatedPosition{}, err
	}

	liq := model.LiquidatedPosition{
		Position:  out.position,
		MarkPrice: mark.Value,
		Penalty:   out.fee,
		Shortfall: out.shortfall,
	}
	entry := s.log.WithFields(logrus.Fields{
		"user":              pos.UserID,
		"symbol":            pos.Symbol,
		"position":          pos.ID,
		"mark":              mark.Value.String(),
		"liquidation_price": pos.LiquidationPrice.String(),
		"realized":          out.realized.String(),
		"penalty":           out.fee.String(),
	})
	if out.shortfall.IsPositive() {
		entry = entry.WithField("shortfall", out.shortfall.String())
	}
	entry.Warn("position liquidated")
	s.publish(marketdata.EventPositionLiquidated, pos.UserID, liq)
	s.publish(marketdata.EventBalance, pos.UserID, out.account)
	if s.recorder != nil {
		ctx, cancel := recordContext(ctx)
		defer cancel()
		if err := s.recorder.RecordLiquidated(ctx, liq); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"user": pos.UserID, "position": pos.ID}).Error("record liquidation")
		}
	}
	return liq, nil
}

// Halt records why an account stopped accepting mutations.
type Halt struct {
	UserID string    `json:"user_id"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// HaltedAccounts lists every halted account, across all processes sharing
// the store.
func (s *Service) HaltedAccounts(ctx context.Context) ([]Halt, error) {
	accts, err := s.store.ListHaltedAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Halt, 0, len(accts))
	for _, a := range accts {
		out = append(out, Halt{UserID: a.UserID, Reason: a.HaltedReason, At: *a.HaltedAt})
	}
	return out, nil
}

// ResetAccount re-enables a halted account once the ledger has been verified
// consistent again. An account that is not halted yields types.ErrNotFound.
func (s *Service) ResetAccount(ctx context.Context, userID string) error {
	release, err := locks.Acquire(ctx, s.locker, locks.AccountKey(userID))
	if err != nil {
		return fmt.Errorf("orders: lock account: %w", err)
	}
	defer release()
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.UpsertAccount(ctx, userID)
		if err != nil {
			return err
		}
		if !acct.Halted() {
			return types.ErrNotFound
		}
		u := &unit{s: s, tx: tx, acct: &acct, now: s.now()}
		if err := u.verify(ctx); err != nil {
			return err
		}
		return tx.SetAccountHalt(ctx, userID, "", nil)
	})
	if err != nil {
		return err
	}
	s.log.WithField("user", userID).Warn("account re-enabled")
	return nil
}

// execute runs fn as one atomic unit under the position and account locks,
// then checks the margin invariant before the account row is written.
func (s *Service) execute(ctx context.Context, userID, symbol string, fn func(ctx context.Context, u *unit) error) (outcome, error) {
	release, err := locks.Acquire(ctx, s.locker, locks.PositionKey(userID, symbol), locks.AccountKey(userID))
	if err != nil {
		return outcome{}, fmt.Errorf("orders: lock %s/%s: %w", userID, symbol, err)
	}
	defer release()

	var out outcome
	err = s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.UpsertAccount(ctx, userID)
		if err != nil {
			return err
		}
		if acct.Halted() {
			return types.Halted(acct.HaltedReason)
		}
		u := &unit{s: s, tx: tx, acct: &acct, now: s.now()}
		if err := fn(ctx, u); err != nil {
			return err
		}
		if err := u.verify(ctx); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}
		u.out.account = acct
		out = u.out
		return nil
	})
	if err != nil {
		if errors.Is(err, types.ErrInvariantViolation) {
			s.halt(ctx, userID, err)
		}
		return outcome{}, err
	}
	return out, nil
}

// halt persists the halt on the account row so every process sharing the
// store refuses the account. The caller still holds the account lock.
func (s *Service) halt(ctx context.Context, userID string, cause error) {
	reason := types.Reason(cause)
	at := s.now()
	tripped := false
	err := s.store.WithTx(context.WithoutCancel(ctx), func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.UpsertAccount(ctx, userID)
		if err != nil {
			return err
		}
		if acct.Halted() {
			return nil
		}
		tripped = true
		return tx.SetAccountHalt(ctx, userID, reason, &at)
	})
	log := s.log.WithError(cause).WithField("user", userID)
	if err != nil {
		log.WithField("persist_error", err.Error()).Error("ledger invariant violated, halt not persisted")
		return
	}
	if !tripped {
		return
	}
	log.Error("ledger invariant violated, account halted")
	s.publish(marketdata.EventAccountHalted, userID, Halt{UserID: userID, Reason: reason, At: at})
}

func recordContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
}

// recordClosed runs after commit. A failure is logged; the ledger itself
// already holds the outcome.
func (s *Service) recordClosed(ctx context.Context, c model.ClosedPosition) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := recordContext(ctx)
	defer cancel()
	if err := s.recorder.RecordClosed(ctx, c); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"user": c.Position.UserID, "position": c.Position.ID}).Error("record close")
	}
}

func (s *Service) publish(kind, userID string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(marketdata.Event{Type: kind, UserID: userID, Data: data, TS: s.now()})
}

func (s *Service) publishOutcome(userID string, out outcome) {
	switch out.transition {
	case types.TransitionOpen:
		s.publish(marketdata.EventPositionOpened, userID, out.position)
	case types.TransitionIncrease, types.TransitionReduce:
		s.publish(marketdata.EventPositionChanged, userID, out.position)
	case types.TransitionClose:
		s.publish(marketdata.EventPositionClosed, userID, model.ClosedPosition{Position: *out.closed, ExitPrice: out.exitPrice})
	case types.TransitionFlip:
		s.publish(marketdata.EventPositionClosed, userID, model.ClosedPosition{Position: *out.closed, ExitPrice: out.exitPrice})
		s.publish(marketdata.EventPositionOpened, userID, out.position)
	}
	s.publish(marketdata.EventBalance, userID, out.account)
}
