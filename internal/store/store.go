// Package store defines the persistence boundary for accounts, positions,
// fills and the append-only transaction log.
package store

import (
	"context"
	"time"

	"perp-ledger/internal/model"
)

// Store is the read side plus the transaction entry point. Everything that
// mutates state happens inside WithTx; fn's writes are committed together or
// not at all.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetAccount(ctx context.Context, userID string) (model.Account, bool, error)
	GetPosition(ctx context.Context, id string) (model.Position, error)
	ListOpenPositions(ctx context.Context, userID string) ([]model.Position, error)
	ListAllOpenPositions(ctx context.Context) ([]model.Position, error)
	ListClosedPositions(ctx context.Context, userID string) ([]model.Position, error)
	ListTransactions(ctx context.Context, userID string, f model.TransactionFilter) ([]model.Transaction, error)
	// ListFills returns the user's fills, newest first.
	ListFills(ctx context.Context, userID string, f model.FillFilter) ([]model.Fill, error)
	ListHaltedAccounts(ctx context.Context) ([]model.Account, error)
}

// Tx is a unit of work. Rows read through the *ForUpdate methods stay locked
// until the unit commits or rolls back.
type Tx interface {
	// UpsertAccount returns the user's account, creating an empty one on first use.
	UpsertAccount(ctx context.Context, userID string) (model.Account, error)
	// UpdateAccount writes balances only. The halt columns change through
	// SetAccountHalt.
	UpdateAccount(ctx context.Context, a model.Account) error
	// SetAccountHalt halts the account at the given time, or clears the halt
	// when at is nil.
	SetAccountHalt(ctx context.Context, userID, reason string, at *time.Time) error

	OpenPositionForUpdate(ctx context.Context, userID, symbol string) (model.Position, bool, error)
	PositionForUpdate(ctx context.Context, id string) (model.Position, error)
	OpenPositions(ctx context.Context, userID string) ([]model.Position, error)
	InsertPosition(ctx context.Context, p model.Position) error
	// UpdatePosition writes p if the stored version still equals p.Version and
	// bumps the stored version. A stale version yields types.ErrPositionNotOpen.
	UpdatePosition(ctx context.Context, p model.Position) error

	AppendTransaction(ctx context.Context, t model.Transaction) error
	AppendFill(ctx context.Context, f model.Fill) error
}

const (
	DefaultTransactionLimit = 50
	DefaultFillLimit        = 50
)
