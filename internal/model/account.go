package model

import (
	"time"

	"perp-ledger/internal/types"

	"github.com/shopspring/decimal"
)

// Account is the per-user balance record. FreeBalance includes the margin
// that is locked against open positions; Available subtracts it.
type Account struct {
	UserID         string          `json:"user_id"`
	FreeBalance    decimal.Decimal `json:"free_balance"`
	LockedMargin   decimal.Decimal `json:"locked_margin"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// HaltedAt is set when a ledger invariant failed for this account. No
	// mutation is applied until an operator resets it.
	HaltedAt     *time.Time `json:"halted_at,omitempty"`
	HaltedReason string     `json:"halted_reason,omitempty"`
}

func (a Account) Available() decimal.Decimal {
	return a.FreeBalance.Sub(a.LockedMargin)
}

func (a Account) Halted() bool {
	return a.HaltedAt != nil
}

type Transaction struct {
	ID           string                `json:"id"`
	UserID       string                `json:"user_id"`
	Type         types.TransactionType `json:"type"`
	Amount       decimal.Decimal       `json:"amount"`
	BalanceAfter decimal.Decimal       `json:"balance_after"`
	Symbol       string                `json:"symbol,omitempty"`
	RelatedID    string                `json:"related_id,omitempty"`
	Metadata     map[string]string     `json:"metadata,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

type TransactionFilter struct {
	Type      types.TransactionType
	Source    string
	RelatedID string
	Since     time.Time
	Limit     int
}

type AccountSummary struct {
	UserID        string          `json:"user_id"`
	FreeBalance   decimal.Decimal `json:"free_balance"`
	LockedMargin  decimal.Decimal `json:"locked_margin"`
	Equity        decimal.Decimal `json:"equity"`
	Available     decimal.Decimal `json:"available"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalDeposit  decimal.Decimal `json:"total_deposit"`
	TotalWithdraw decimal.Decimal `json:"total_withdraw"`
	// Symbols whose mark price was unavailable and were valued at zero PnL.
	Unpriced []string `json:"unpriced,omitempty"`
}

type PortfolioStats struct {
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TodayPnL      decimal.Decimal `json:"today_pnl"`
	TotalFees     decimal.Decimal `json:"total_fees"`
	ClosedCount   int             `json:"closed_count"`
	WinRate       decimal.Decimal `json:"win_rate"`
	OpenPositions int             `json:"open_positions"`
}

type Portfolio struct {
	Account        AccountSummary  `json:"account"`
	Positions      []PositionView  `json:"positions"`
	Stats          PortfolioStats  `json:"stats"`
	RecentActivity []Transaction   `json:"recent_activity"`
}
