// Package pnl holds the pure valuation functions for isolated-margin
// positions. Callers validate that prices, sizes and leverage are positive
// before calling; every function here is total over validated input.
package pnl

import (
	"perp-ledger/internal/types"

	"github.com/shopspring/decimal"
)

// DivPrecision is the number of decimal places kept by non-terminating divisions.
const DivPrecision int32 = 16

var hundred = decimal.NewFromInt(100)

func div(a, b decimal.Decimal) decimal.Decimal {
	return a.DivRound(b, DivPrecision)
}

// Quantity converts a notional size into base units at price.
func Quantity(size, price decimal.Decimal) decimal.Decimal {
	return div(size, price)
}

// UnrealizedPnL values size (notional at entry) at mark.
func UnrealizedPnL(side types.Side, entry, mark, size decimal.Decimal) decimal.Decimal {
	qty := Quantity(size, entry)
	if side == types.SideShort {
		return entry.Sub(mark).Mul(qty)
	}
	return mark.Sub(entry).Mul(qty)
}

// RealizedSlice is the PnL of closing closeSize of notional, measured at the
// entry price, at exit. It equals the unrealized PnL of that slice.
func RealizedSlice(side types.Side, entry, exit, closeSize decimal.Decimal) decimal.Decimal {
	return UnrealizedPnL(side, entry, exit, closeSize)
}

func LiquidationPrice(side types.Side, entry decimal.Decimal, leverage int) decimal.Decimal {
	return LiquidationPriceWithBuffer(side, entry, leverage, decimal.NewFromInt(1))
}

// LiquidationPriceWithBuffer moves the liquidation threshold to the given
// fraction of the 1/leverage band. A buffer of 1 liquidates at full margin loss.
func LiquidationPriceWithBuffer(side types.Side, entry decimal.Decimal, leverage int, buffer decimal.Decimal) decimal.Decimal {
	band := div(buffer, decimal.NewFromInt(int64(leverage)))
	one := decimal.NewFromInt(1)
	if side == types.SideShort {
		return entry.Mul(one.Add(band))
	}
	return entry.Mul(one.Sub(band))
}

func ROE(unrealized, margin decimal.Decimal) decimal.Decimal {
	if margin.IsZero() {
		return decimal.Zero
	}
	return div(unrealized, margin).Mul(hundred)
}

func MarginRatio(margin, unrealized, size decimal.Decimal) decimal.Decimal {
	if size.IsZero() {
		return decimal.Zero
	}
	return div(margin.Add(unrealized), size).Mul(hundred)
}

func ShouldLiquidate(side types.Side, liquidationPrice, mark decimal.Decimal) bool {
	if side == types.SideShort {
		return mark.GreaterThanOrEqual(liquidationPrice)
	}
	return mark.LessThanOrEqual(liquidationPrice)
}

func RequiredMargin(size decimal.Decimal, leverage int) decimal.Decimal {
	return div(size, decimal.NewFromInt(int64(leverage)))
}

// WeightedEntry re-averages the entry price when addSize is filled at price.
func WeightedEntry(oldSize, oldEntry, addSize, price decimal.Decimal) decimal.Decimal {
	total := oldSize.Add(addSize)
	if total.IsZero() {
		return price
	}
	return div(oldSize.Mul(oldEntry).Add(addSize.Mul(price)), total)
}

// Fee is the taker fee charged on a notional.
func Fee(size, rate decimal.Decimal) decimal.Decimal {
	return size.Mul(rate)
}
