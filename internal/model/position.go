package model

import (
	"time"

	"perp-ledger/internal/types"

	"github.com/shopspring/decimal"
)

type Position struct {
	ID               string               `json:"id"`
	UserID           string               `json:"user_id"`
	Symbol           string               `json:"symbol"`
	Side             types.Side           `json:"side"`
	Size             decimal.Decimal      `json:"size"`
	EntryPrice       decimal.Decimal      `json:"entry_price"`
	Leverage         int                  `json:"leverage"`
	Margin           decimal.Decimal      `json:"margin"`
	LiquidationPrice decimal.Decimal      `json:"liquidation_price"`
	RealizedPnL      decimal.Decimal      `json:"realized_pnl"`
	FeesPaid         decimal.Decimal      `json:"fees_paid"`
	Status           types.PositionStatus `json:"status"`
	Version          int64                `json:"version"`
	OpenedAt         time.Time            `json:"opened_at"`
	ClosedAt         *time.Time           `json:"closed_at,omitempty"`
}

func (p Position) IsOpen() bool {
	return p.Status == types.PositionStatusOpen
}

// PositionView is an open position valued at the current mark price.
type PositionView struct {
	Position
	MarkPrice     decimal.Decimal `json:"mark_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	ROE           decimal.Decimal `json:"roe"`
	MarginRatio   decimal.Decimal `json:"margin_ratio"`
	Priced        bool            `json:"priced"`
}

// ClosedPosition is a position closed by its owner, with the fill price.
type ClosedPosition struct {
	Position  Position        `json:"position"`
	ExitPrice decimal.Decimal `json:"exit_price"`
}

type LiquidatedPosition struct {
	Position  Position        `json:"position"`
	MarkPrice decimal.Decimal `json:"mark_price"`
	Penalty   decimal.Decimal `json:"penalty"`
	// Loss beyond the position margin that was not charged to the account.
	Shortfall decimal.Decimal `json:"shortfall"`
}
