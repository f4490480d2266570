package model

import (
	"time"

	"perp-ledger/internal/types"

	"github.com/shopspring/decimal"
)

// Fill is the order record of one execution. Side is the order direction, so
// closing a LONG position is a SELL.
type Fill struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Symbol      string            `json:"symbol"`
	Side        types.OrderSide   `json:"side"`
	Status      types.OrderStatus `json:"status"`
	Size        decimal.Decimal   `json:"size"`
	Price       decimal.Decimal   `json:"price"`
	Leverage    int               `json:"leverage"`
	Fee         decimal.Decimal   `json:"fee"`
	RealizedPnL decimal.Decimal   `json:"realized_pnl"`
	Transition  types.Transition  `json:"transition"`
	Reason      types.CloseReason `json:"reason"`
	PositionID  string            `json:"position_id"`
	CreatedAt   time.Time         `json:"created_at"`
}

type FillFilter struct {
	Status types.OrderStatus
	Symbol string
	Limit  int
}
