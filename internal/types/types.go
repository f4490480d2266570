package types

type Side string

type OrderSide string

type PositionStatus string

type TransactionType string

type Transition string

type CloseReason string

type OrderStatus string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Market fills are the only orders, so every recorded order is FILLED.
const OrderStatusFilled OrderStatus = "FILLED"

const (
	PositionStatusOpen       PositionStatus = "OPEN"
	PositionStatusClosed     PositionStatus = "CLOSED"
	PositionStatusLiquidated PositionStatus = "LIQUIDATED"
)

const (
	TransactionTypeDeposit     TransactionType = "DEPOSIT"
	TransactionTypeWithdraw    TransactionType = "WITHDRAW"
	TransactionTypeTradeFee    TransactionType = "TRADE_FEE"
	TransactionTypeRealizedPnL TransactionType = "REALIZED_PNL"
)

const (
	TransitionOpen      Transition = "OPEN"
	TransitionIncrease  Transition = "INCREASE"
	TransitionReduce    Transition = "REDUCE"
	TransitionClose     Transition = "CLOSE"
	TransitionFlip      Transition = "FLIP"
	TransitionLiquidate Transition = "LIQUIDATE"
)

const (
	CloseReasonUser        CloseReason = "USER"
	CloseReasonLiquidation CloseReason = "LIQUIDATION"
)

// ParseSide accepts both position sides and order sides, so "BUY" maps to LONG.
func ParseSide(raw string) (Side, bool) {
	switch raw {
	case "LONG", "long", "BUY", "buy":
		return SideLong, true
	case "SHORT", "short", "SELL", "sell":
		return SideShort, true
	}
	return "", false
}

func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

func (s Side) OrderSide() OrderSide {
	if s == SideLong {
		return OrderSideBuy
	}
	return OrderSideSell
}

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdraw, TransactionTypeTradeFee, TransactionTypeRealizedPnL:
		return true
	}
	return false
}

func (s OrderStatus) Valid() bool {
	return s == OrderStatusFilled
}
