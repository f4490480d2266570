// Package journal keeps an append-only SQLite record of every position that
// reached a terminal state. Outcomes are written synchronously by the fill
// processor of every process, never through the event bus.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"perp-ledger/internal/model"
	"perp-ledger/internal/types"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Outcome is one closed or liquidated position.
type Outcome struct {
	PositionID  string               `json:"position_id"`
	UserID      string               `json:"user_id"`
	Symbol      string               `json:"symbol"`
	Side        types.Side           `json:"side"`
	Status      types.PositionStatus `json:"status"`
	Size        decimal.Decimal      `json:"size"`
	Leverage    int                  `json:"leverage"`
	EntryPrice  decimal.Decimal      `json:"entry_price"`
	ExitPrice   decimal.Decimal      `json:"exit_price"`
	Margin      decimal.Decimal      `json:"margin"`
	RealizedPnL decimal.Decimal      `json:"realized_pnl"`
	Fees        decimal.Decimal      `json:"fees"`
	Penalty     decimal.Decimal      `json:"penalty"`
	Shortfall   decimal.Decimal      `json:"shortfall"`
	OpenedAt    time.Time            `json:"opened_at"`
	ClosedAt    time.Time            `json:"closed_at"`
}

func outcomeOf(p model.Position, exit decimal.Decimal) Outcome {
	o := Outcome{
		PositionID:  p.ID,
		UserID:      p.UserID,
		Symbol:      p.Symbol,
		Side:        p.Side,
		Status:      p.Status,
		Size:        p.Size,
		Leverage:    p.Leverage,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exit,
		Margin:      p.Margin,
		RealizedPnL: p.RealizedPnL,
		Fees:        p.FeesPaid,
		OpenedAt:    p.OpenedAt,
	}
	if p.ClosedAt != nil {
		o.ClosedAt = *p.ClosedAt
	}
	return o
}

func FromClosed(c model.ClosedPosition) Outcome {
	return outcomeOf(c.Position, c.ExitPrice)
}

func FromLiquidated(l model.LiquidatedPosition) Outcome {
	o := outcomeOf(l.Position, l.MarkPrice)
	o.Penalty = l.Penalty
	o.Shortfall = l.Shortfall
	return o
}

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	dsn := path
	if path != ":memory:" && !strings.Contains(path, "?") {
		// the server and the sweep command may write at the same time
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Record stores o. Recording the same position twice keeps the first row.
func (j *SQLite) Record(ctx context.Context, o Outcome) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO outcomes
		(position_id, user_id, symbol, side, status, size, leverage, entry_price, exit_price,
		 margin, realized_pnl, fees, penalty, shortfall, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.PositionID, o.UserID, o.Symbol, string(o.Side), string(o.Status),
		o.Size.String(), o.Leverage, o.EntryPrice.String(), o.ExitPrice.String(),
		o.Margin.String(), o.RealizedPnL.String(), o.Fees.String(),
		o.Penalty.String(), o.Shortfall.String(),
		o.OpenedAt.UTC(), o.ClosedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("journal: record %s: %w", o.PositionID, err)
	}
	return nil
}

// List returns the user's outcomes, most recently closed first.
func (j *SQLite) List(ctx context.Context, userID string, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT position_id, user_id, symbol, side, status, size, leverage, entry_price, exit_price,
		       margin, realized_pnl, fees, penalty, shortfall, opened_at, closed_at
		FROM outcomes WHERE user_id = ? ORDER BY closed_at DESC, position_id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	defer rows.Close()
	var out []Outcome
	for rows.Next() {
		var (
			o                                                Outcome
			side, status                                     string
			size, entry, exit, margin, pnl, fees, pen, short string
		)
		if err := rows.Scan(&o.PositionID, &o.UserID, &o.Symbol, &side, &status, &size, &o.Leverage,
			&entry, &exit, &margin, &pnl, &fees, &pen, &short, &o.OpenedAt, &o.ClosedAt); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		o.Side = types.Side(side)
		o.Status = types.PositionStatus(status)
		for _, f := range []struct {
			raw string
			dst *decimal.Decimal
		}{
			{size, &o.Size}, {entry, &o.EntryPrice}, {exit, &o.ExitPrice}, {margin, &o.Margin},
			{pnl, &o.RealizedPnL}, {fees, &o.Fees}, {pen, &o.Penalty}, {short, &o.Shortfall},
		} {
			v, err := decimal.NewFromString(f.raw)
			if err != nil {
				return nil, fmt.Errorf("journal: parse %s: %w", o.PositionID, err)
			}
			*f.dst = v
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// RecordClosed and RecordLiquidated let the fill processor write outcomes
// directly once each close commits.
func (j *SQLite) RecordClosed(ctx context.Context, c model.ClosedPosition) error {
	return j.Record(ctx, FromClosed(c))
}

func (j *SQLite) RecordLiquidated(ctx context.Context, l model.LiquidatedPosition) error {
	return j.Record(ctx, FromLiquidated(l))
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
