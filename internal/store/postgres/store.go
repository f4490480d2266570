// Package postgres implements store.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"perp-ledger/internal/model"
	"perp-ledger/internal/store"
	"perp-ledger/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	serializationFailure = "40001"
	uniqueViolation      = "23505"
	maxTxAttempts        = 3
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ store.Store = (*Store)(nil)

// WithTx runs fn in a serializable transaction, retrying serialization failures.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if !isCode(err, serializationFailure) {
			return err
		}
	}
	return fmt.Errorf("postgres: transaction retries exhausted: %w", err)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

const accountColumns = "user_id, free_balance, locked_margin, total_deposited, total_withdrawn, created_at, updated_at, halted_reason, halted_at"

const positionColumns = "id, user_id, symbol, side, size, entry_price, leverage, margin, liquidation_price, realized_pnl, fees_paid, status, version, opened_at, closed_at"

const transactionColumns = "id, user_id, type, amount, balance_after, symbol, related_id, metadata, created_at"

const fillColumns = "id, user_id, symbol, side, status, size, price, leverage, fee, realized_pnl, transition, reason, position_id, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (model.Account, error) {
	var a model.Account
	var reason *string
	err := row.Scan(&a.UserID, &a.FreeBalance, &a.LockedMargin, &a.TotalDeposited, &a.TotalWithdrawn, &a.CreatedAt, &a.UpdatedAt, &reason, &a.HaltedAt)
	if reason != nil {
		a.HaltedReason = *reason
	}
	return a, err
}

func scanPosition(row rowScanner) (model.Position, error) {
	var p model.Position
	var side, status string
	err := row.Scan(&p.ID, &p.UserID, &p.Symbol, &side, &p.Size, &p.EntryPrice, &p.Leverage, &p.Margin, &p.LiquidationPrice, &p.RealizedPnL, &p.FeesPaid, &status, &p.Version, &p.OpenedAt, &p.ClosedAt)
	if err != nil {
		return p, err
	}
	p.Side = types.Side(side)
	p.Status = types.PositionStatus(status)
	return p, nil
}

func scanTransaction(row rowScanner) (model.Transaction, error) {
	var t model.Transaction
	var typ string
	var symbol, related *string
	err := row.Scan(&t.ID, &t.UserID, &typ, &t.Amount, &t.BalanceAfter, &symbol, &related, &t.Metadata, &t.CreatedAt)
	if err != nil {
		return t, err
	}
	t.Type = types.TransactionType(typ)
	if symbol != nil {
		t.Symbol = *symbol
	}
	if related != nil {
		t.RelatedID = *related
	}
	return t, nil
}

func scanFill(row rowScanner) (model.Fill, error) {
	var f model.Fill
	var side, status, transition, reason string
	err := row.Scan(&f.ID, &f.UserID, &f.Symbol, &side, &status, &f.Size, &f.Price, &f.Leverage, &f.Fee, &f.RealizedPnL, &transition, &reason, &f.PositionID, &f.CreatedAt)
	if err != nil {
		return f, err
	}
	f.Side = types.OrderSide(side)
	f.Status = types.OrderStatus(status)
	f.Transition = types.Transition(transition)
	f.Reason = types.CloseReason(reason)
	return f, nil
}

func collectPositions(rows pgx.Rows, err error) ([]model.Position, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetAccount(ctx context.Context, userID string) (model.Account, bool, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, "select "+accountColumns+" from accounts where user_id = $1", userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, false, nil
	}
	if err != nil {
		return model.Account{}, false, fmt.Errorf("postgres: get account: %w", err)
	}
	return a, true, nil
}

func (s *Store) GetPosition(ctx context.Context, id string) (model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx, "select "+positionColumns+" from positions where id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return p, types.ErrPositionNotFound
	}
	return p, err
}

func (s *Store) ListOpenPositions(ctx context.Context, userID string) ([]model.Position, error) {
	return collectPositions(s.pool.Query(ctx, "select "+positionColumns+" from positions where user_id = $1 and status = 'OPEN' order by opened_at, id", userID))
}

func (s *Store) ListAllOpenPositions(ctx context.Context) ([]model.Position, error) {
	return collectPositions(s.pool.Query(ctx, "select "+positionColumns+" from positions where status = 'OPEN' order by opened_at, id"))
}

func (s *Store) ListClosedPositions(ctx context.Context, userID string) ([]model.Position, error) {
	return collectPositions(s.pool.Query(ctx, "select "+positionColumns+" from positions where user_id = $1 and status <> 'OPEN' order by opened_at, id", userID))
}

func (s *Store) ListTransactions(ctx context.Context, userID string, f model.TransactionFilter) ([]model.Transaction, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = store.DefaultTransactionLimit
	}
	var since *time.Time
	if !f.Since.IsZero() {
		since = &f.Since
	}
	rows, err := s.pool.Query(ctx, `
		select `+transactionColumns+`
		from transactions
		where user_id = $1
			and ($2 = '' or type = $2)
			and ($3 = '' or related_id = $3)
			and ($4 = '' or metadata->>'source' = $4)
			and ($5::timestamptz is null or created_at >= $5)
		order by created_at desc, id desc
		limit $6
	`, userID, string(f.Type), f.RelatedID, f.Source, since, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions: %w", err)
	}
	defer rows.Close()
	var out []model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListFills(ctx context.Context, userID string, f model.FillFilter) ([]model.Fill, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = store.DefaultFillLimit
	}
	rows, err := s.pool.Query(ctx, `
		select `+fillColumns+`
		from fills
		where user_id = $1
			and ($2 = '' or status = $2)
			and ($3 = '' or symbol = $3)
		order by created_at desc, id desc
		limit $4
	`, userID, string(f.Status), f.Symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills: %w", err)
	}
	defer rows.Close()
	var out []model.Fill
	for rows.Next() {
		fl, err := scanFill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fl)
	}
	return out, rows.Err()
}

func (s *Store) ListHaltedAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx, "select "+accountColumns+" from accounts where halted_at is not null order by user_id")
	if err != nil {
		return nil, fmt.Errorf("postgres: list halted accounts: %w", err)
	}
	defer rows.Close()
	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) UpsertAccount(ctx context.Context, userID string) (model.Account, error) {
	if _, err := t.tx.Exec(ctx, "insert into accounts (user_id) values ($1) on conflict (user_id) do nothing", userID); err != nil {
		return model.Account{}, fmt.Errorf("postgres: upsert account: %w", err)
	}
	a, err := scanAccount(t.tx.QueryRow(ctx, "select "+accountColumns+" from accounts where user_id = $1 for update", userID))
	if err != nil {
		return a, fmt.Errorf("postgres: lock account: %w", err)
	}
	return a, nil
}

func (t *pgTx) UpdateAccount(ctx context.Context, a model.Account) error {
	if a.LockedMargin.IsNegative() {
		return types.Invariant("locked margin for %s would be %s", a.UserID, a.LockedMargin)
	}
	_, err := t.tx.Exec(ctx, "update accounts set free_balance = $1, locked_margin = $2, total_deposited = $3, total_withdrawn = $4, updated_at = $5 where user_id = $6",
		a.FreeBalance, a.LockedMargin, a.TotalDeposited, a.TotalWithdrawn, time.Now().UTC(), a.UserID)
	if err != nil {
		return fmt.Errorf("postgres: update account: %w", err)
	}
	return nil
}

func (t *pgTx) SetAccountHalt(ctx context.Context, userID, reason string, at *time.Time) error {
	if at == nil {
		reason = ""
	}
	_, err := t.tx.Exec(ctx, "update accounts set halted_reason = $1, halted_at = $2, updated_at = $3 where user_id = $4",
		nullable(reason), at, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("postgres: set account halt: %w", err)
	}
	return nil
}

func (t *pgTx) OpenPositionForUpdate(ctx context.Context, userID, symbol string) (model.Position, bool, error) {
	p, err := scanPosition(t.tx.QueryRow(ctx, "select "+positionColumns+" from positions where user_id = $1 and symbol = $2 and status = 'OPEN' for update", userID, symbol))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Position{}, false, nil
	}
	if err != nil {
		return p, false, fmt.Errorf("postgres: lock open position: %w", err)
	}
	return p, true, nil
}

func (t *pgTx) PositionForUpdate(ctx context.Context, id string) (model.Position, error) {
	p, err := scanPosition(t.tx.QueryRow(ctx, "select "+positionColumns+" from positions where id = $1 for update", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return p, types.ErrPositionNotFound
	}
	if err != nil {
		return p, fmt.Errorf("postgres: lock position: %w", err)
	}
	return p, nil
}

func (t *pgTx) OpenPositions(ctx context.Context, userID string) ([]model.Position, error) {
	return collectPositions(t.tx.Query(ctx, "select "+positionColumns+" from positions where user_id = $1 and status = 'OPEN' order by opened_at, id", userID))
}

func (t *pgTx) InsertPosition(ctx context.Context, p model.Position) error {
	_, err := t.tx.Exec(ctx, "insert into positions ("+positionColumns+") values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)",
		p.ID, p.UserID, p.Symbol, string(p.Side), p.Size, p.EntryPrice, p.Leverage, p.Margin, p.LiquidationPrice, p.RealizedPnL, p.FeesPaid, string(p.Status), p.Version, p.OpenedAt, p.ClosedAt)
	if isCode(err, uniqueViolation) {
		return types.Invariant("open position already exists for %s/%s", p.UserID, p.Symbol)
	}
	if err != nil {
		return fmt.Errorf("postgres: insert position: %w", err)
	}
	return nil
}

func (t *pgTx) UpdatePosition(ctx context.Context, p model.Position) error {
	tag, err := t.tx.Exec(ctx, `
		update positions set side = $1, size = $2, entry_price = $3, leverage = $4, margin = $5, liquidation_price = $6,
			realized_pnl = $7, fees_paid = $8, status = $9, closed_at = $10, version = version + 1
		where id = $11 and version = $12
	`, string(p.Side), p.Size, p.EntryPrice, p.Leverage, p.Margin, p.LiquidationPrice, p.RealizedPnL, p.FeesPaid, string(p.Status), p.ClosedAt, p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("postgres: update position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NotOpen(p.ID)
	}
	return nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, rec model.Transaction) error {
	_, err := t.tx.Exec(ctx, "insert into transactions ("+transactionColumns+") values ($1,$2,$3,$4,$5,$6,$7,$8,$9)",
		rec.ID, rec.UserID, string(rec.Type), rec.Amount, rec.BalanceAfter, nullable(rec.Symbol), nullable(rec.RelatedID), rec.Metadata, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append transaction: %w", err)
	}
	return nil
}

func (t *pgTx) AppendFill(ctx context.Context, f model.Fill) error {
	_, err := t.tx.Exec(ctx, "insert into fills ("+fillColumns+") values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)",
		f.ID, f.UserID, f.Symbol, string(f.Side), string(f.Status), f.Size, f.Price, f.Leverage, f.Fee, f.RealizedPnL,
		string(f.Transition), string(f.Reason), f.PositionID, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append fill: %w", err)
	}
	return nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
