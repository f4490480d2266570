package orders

import (
	"context"
	"time"

	"perp-ledger/internal/id"
	"perp-ledger/internal/ledger"
	"perp-ledger/internal/model"
	"perp-ledger/internal/pnl"
	"perp-ledger/internal/store"
	"perp-ledger/internal/types"

	"github.com/shopspring/decimal"
)

// fill is a validated execution against the mark price. It only lives for
// one unit of work.
type fill struct {
	id       string
	userID   string
	symbol   string
	side     types.Side
	size     decimal.Decimal
	price    decimal.Decimal
	leverage int
	feeRate  decimal.Decimal
	reason   types.CloseReason
}

// outcome collects everything one unit of work changed, for the caller's
// result and for post-commit events.
type outcome struct {
	transition   types.Transition
	position     model.Position
	closed       *model.Position
	fee          decimal.Decimal
	realized     decimal.Decimal
	shortfall    decimal.Decimal
	exitPrice    decimal.Decimal
	transactions []model.Transaction
	fill         model.Fill
	account      model.Account
}

func classify(open *model.Position, f fill) types.Transition {
	if open == nil {
		return types.TransitionOpen
	}
	if open.Side == f.side {
		return types.TransitionIncrease
	}
	switch f.size.Cmp(open.Size) {
	case -1:
		return types.TransitionReduce
	case 0:
		return types.TransitionClose
	}
	return types.TransitionFlip
}

// unit applies one fill to an account inside a store transaction.
type unit struct {
	s    *Service
	tx   store.Tx
	acct *model.Account
	now  time.Time
	out  outcome
}

func (u *unit) post(ctx context.Context, e ledger.Entry) error {
	rec, err := u.s.ledger.Post(ctx, u.tx, u.acct, e)
	if err != nil {
		return err
	}
	u.out.transactions = append(u.out.transactions, rec)
	return nil
}

func (u *unit) chargeFee(ctx context.Context, f fill, positionID string, fee decimal.Decimal, transition types.Transition) error {
	if !fee.IsPositive() {
		return nil
	}
	u.out.fee = u.out.fee.Add(fee)
	return u.post(ctx, ledger.Entry{
		Type:      types.TransactionTypeTradeFee,
		Amount:    fee.Neg(),
		Symbol:    f.symbol,
		RelatedID: positionID,
		Metadata: map[string]string{
			"source":     ledger.SourceTrade,
			"fill_id":    f.id,
			"transition": string(transition),
			"reason":     string(f.reason),
		},
	})
}

func (u *unit) realize(ctx context.Context, f fill, p model.Position, amount, closedSize decimal.Decimal, transition types.Transition) error {
	u.out.realized = u.out.realized.Add(amount)
	return u.post(ctx, ledger.Entry{
		Type:      types.TransactionTypeRealizedPnL,
		Amount:    amount,
		Symbol:    f.symbol,
		RelatedID: p.ID,
		Metadata: map[string]string{
			"source":      ledger.SourceTrade,
			"fill_id":     f.id,
			"transition":  string(transition),
			"reason":      string(f.reason),
			"entry_price": p.EntryPrice.String(),
			"exit_price":  f.price.String(),
			"size":        closedSize.String(),
		},
	})
}

func (u *unit) requireAvailable(margin, fee decimal.Decimal) error {
	required := margin.Add(fee)
	if u.acct.Available().LessThan(required) {
		return types.Insufficient("Required: %s USDT, Available: %s USDT", required.StringFixed(2), u.acct.Available().StringFixed(2))
	}
	return nil
}

func (u *unit) open(ctx context.Context, f fill, size, fee decimal.Decimal, transition types.Transition) error {
	margin := pnl.RequiredMargin(size, f.leverage)
	if err := u.requireAvailable(margin, fee); err != nil {
		return err
	}
	if err := u.s.ledger.LockMargin(u.acct, margin); err != nil {
		return err
	}
	p := model.Position{
		ID:               id.New(),
		UserID:           f.userID,
		Symbol:           f.symbol,
		Side:             f.side,
		Size:             size,
		EntryPrice:       f.price,
		Leverage:         f.leverage,
		Margin:           margin,
		LiquidationPrice: u.s.liquidationPrice(f.side, f.price, f.leverage),
		RealizedPnL:      decimal.Zero,
		FeesPaid:         fee,
		Status:           types.PositionStatusOpen,
		OpenedAt:         u.now,
	}
	if err := u.tx.InsertPosition(ctx, p); err != nil {
		return err
	}
	u.out.position = p
	return u.chargeFee(ctx, f, p.ID, fee, transition)
}

// increase adds exposure at the position's own leverage.
func (u *unit) increase(ctx context.Context, f fill, p model.Position, fee decimal.Decimal) error {
	addMargin := pnl.RequiredMargin(f.size, p.Leverage)
	if err := u.requireAvailable(addMargin, fee); err != nil {
		return err
	}
	if err := u.s.ledger.LockMargin(u.acct, addMargin); err != nil {
		return err
	}
	p.EntryPrice = pnl.WeightedEntry(p.Size, p.EntryPrice, f.size, f.price)
	p.Size = p.Size.Add(f.size)
	p.Margin = p.Margin.Add(addMargin)
	p.LiquidationPrice = u.s.liquidationPrice(p.Side, p.EntryPrice, p.Leverage)
	p.FeesPaid = p.FeesPaid.Add(fee)
	if err := u.tx.UpdatePosition(ctx, p); err != nil {
		return err
	}
	p.Version++
	u.out.position = p
	return u.chargeFee(ctx, f, p.ID, fee, types.TransitionIncrease)
}

// reduce closes a slice of the position. Entry and liquidation prices stay put.
func (u *unit) reduce(ctx context.Context, f fill, p model.Position, fee decimal.Decimal) error {
	closeSize := f.size
	realized := pnl.RealizedSlice(p.Side, p.EntryPrice, f.price, closeSize)
	released := p.Margin.Mul(closeSize).DivRound(p.Size, pnl.DivPrecision)
	if err := u.s.ledger.ReleaseMargin(u.acct, released); err != nil {
		return err
	}
	before := p
	p.Size = p.Size.Sub(closeSize)
	p.Margin = p.Margin.Sub(released)
	p.RealizedPnL = p.RealizedPnL.Add(realized)
	p.FeesPaid = p.FeesPaid.Add(fee)
	if !p.Size.IsPositive() || p.Margin.IsNegative() {
		return types.Invariant("reduce of %s left size %s margin %s", p.ID, p.Size, p.Margin)
	}
	if err := u.tx.UpdatePosition(ctx, p); err != nil {
		return err
	}
	p.Version++
	u.out.position = p
	if err := u.realize(ctx, f, before, realized, closeSize, types.TransitionReduce); err != nil {
		return err
	}
	return u.chargeFee(ctx, f, p.ID, fee, types.TransitionReduce)
}

// closeAll realizes the whole position. Liquidations cap the loss at the
// position margin and cap the penalty at whatever margin is left.
func (u *unit) closeAll(ctx context.Context, f fill, p model.Position, fee decimal.Decimal, status types.PositionStatus, transition types.Transition) (model.Position, error) {
	realized := pnl.RealizedSlice(p.Side, p.EntryPrice, f.price, p.Size)
	if status == types.PositionStatusLiquidated {
		floor := p.Margin.Neg()
		if realized.LessThan(floor) {
			u.out.shortfall = floor.Sub(realized)
			realized = floor
		}
		if left := p.Margin.Add(realized); fee.GreaterThan(left) {
			fee = decimal.Max(left, decimal.Zero)
		}
	}
	if err := u.s.ledger.ReleaseMargin(u.acct, p.Margin); err != nil {
		return p, err
	}
	u.out.exitPrice = f.price
	closedAt := u.now
	before := p
	p.RealizedPnL = p.RealizedPnL.Add(realized)
	p.FeesPaid = p.FeesPaid.Add(fee)
	p.Status = status
	p.ClosedAt = &closedAt
	if err := u.tx.UpdatePosition(ctx, p); err != nil {
		return p, err
	}
	p.Version++
	if err := u.realize(ctx, f, before, realized, before.Size, transition); err != nil {
		return p, err
	}
	if err := u.chargeFee(ctx, f, p.ID, fee, transition); err != nil {
		return p, err
	}
	return p, nil
}

// recordFill appends the order record for f once the position changes are
// staged.
func (u *unit) recordFill(ctx context.Context, f fill) error {
	rec := model.Fill{
		ID:          f.id,
		UserID:      f.userID,
		Symbol:      f.symbol,
		Side:        f.side.OrderSide(),
		Status:      types.OrderStatusFilled,
		Size:        f.size,
		Price:       f.price,
		Leverage:    f.leverage,
		Fee:         u.out.fee,
		RealizedPnL: u.out.realized,
		Transition:  u.out.transition,
		Reason:      f.reason,
		PositionID:  u.out.position.ID,
		CreatedAt:   u.now,
	}
	if err := u.tx.AppendFill(ctx, rec); err != nil {
		return err
	}
	u.out.fill = rec
	return nil
}

// apply routes f through the state machine against the currently open
// position for (user, symbol), if any.
func (u *unit) apply(ctx context.Context, f fill, current *model.Position) error {
	fee := pnl.Fee(f.size, f.feeRate)
	transition := classify(current, f)
	u.out.transition = transition
	switch transition {
	case types.TransitionOpen:
		return u.open(ctx, f, f.size, fee, transition)
	case types.TransitionIncrease:
		return u.increase(ctx, f, *current, fee)
	case types.TransitionReduce:
		return u.reduce(ctx, f, *current, fee)
	case types.TransitionClose:
		closed, err := u.closeAll(ctx, f, *current, fee, types.PositionStatusClosed, transition)
		if err != nil {
			return err
		}
		u.out.position = closed
		u.out.closed = &closed
		return nil
	case types.TransitionFlip:
		// One fee on the whole fill, split across the legs by size.
		closeFee := pnl.Fee(current.Size, f.feeRate)
		closed, err := u.closeAll(ctx, f, *current, closeFee, types.PositionStatusClosed, transition)
		if err != nil {
			return err
		}
		u.out.closed = &closed
		return u.open(ctx, f, f.size.Sub(current.Size), fee.Sub(closeFee), transition)
	}
	return types.Invariant("unknown transition %s", transition)
}

// verify checks that locked margin equals the margin of the open positions
// and that every open position is well formed.
func (u *unit) verify(ctx context.Context) error {
	if u.acct.LockedMargin.IsNegative() {
		return types.Invariant("locked margin %s is negative", u.acct.LockedMargin)
	}
	open, err := u.tx.OpenPositions(ctx, u.acct.UserID)
	if err != nil {
		return err
	}
	sum := decimal.Zero
	seen := map[string]bool{}
	for _, p := range open {
		if seen[p.Symbol] {
			return types.Invariant("two open positions on %s", p.Symbol)
		}
		seen[p.Symbol] = true
		if !p.Size.IsPositive() || p.Margin.IsNegative() || !p.EntryPrice.IsPositive() {
			return types.Invariant("position %s has size %s margin %s entry %s", p.ID, p.Size, p.Margin, p.EntryPrice)
		}
		sum = sum.Add(p.Margin)
	}
	if !sum.Equal(u.acct.LockedMargin) {
		return types.Invariant("locked margin %s differs from open margin %s", u.acct.LockedMargin, sum)
	}
	return nil
}
