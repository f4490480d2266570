// Package memory is an in-process Store. Transactions are serialized and
// buffer their writes until commit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"perp-ledger/internal/model"
	"perp-ledger/internal/store"
	"perp-ledger/internal/types"
)

type Store struct {
	txMu sync.Mutex

	mu        sync.RWMutex
	accounts  map[string]model.Account
	positions map[string]model.Position
	txs       []model.Transaction
	fills     []model.Fill
}

func New() *Store {
	return &Store{
		accounts:  map[string]model.Account{},
		positions: map[string]model.Position{},
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{
		s:         s,
		accounts:  map[string]model.Account{},
		positions: map[string]model.Position{},
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range tx.accounts {
		s.accounts[id] = a
	}
	for id, p := range tx.positions {
		s.positions[id] = p
	}
	s.txs = append(s.txs, tx.txs...)
	s.fills = append(s.fills, tx.fills...)
}

func (s *Store) GetAccount(ctx context.Context, userID string) (model.Account, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[userID]
	return a, ok, nil
}

func (s *Store) GetPosition(ctx context.Context, id string) (model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	if !ok {
		return model.Position{}, types.ErrPositionNotFound
	}
	return p, nil
}

func (s *Store) ListOpenPositions(ctx context.Context, userID string) ([]model.Position, error) {
	return s.filterPositions(func(p model.Position) bool {
		return p.UserID == userID && p.IsOpen()
	}), nil
}

func (s *Store) ListAllOpenPositions(ctx context.Context) ([]model.Position, error) {
	return s.filterPositions(model.Position.IsOpen), nil
}

func (s *Store) ListClosedPositions(ctx context.Context, userID string) ([]model.Position, error) {
	return s.filterPositions(func(p model.Position) bool {
		return p.UserID == userID && !p.IsOpen()
	}), nil
}

func (s *Store) filterPositions(keep func(model.Position) bool) []model.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Position
	for _, p := range s.positions {
		if keep(p) {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out
}

func (s *Store) ListTransactions(ctx context.Context, userID string, f model.TransactionFilter) ([]model.Transaction, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = store.DefaultTransactionLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Transaction
	for i := len(s.txs) - 1; i >= 0 && len(out) < limit; i-- {
		t := s.txs[i]
		if t.UserID != userID || !matches(t, f) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) ListFills(ctx context.Context, userID string, f model.FillFilter) ([]model.Fill, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = store.DefaultFillLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Fill
	for i := len(s.fills) - 1; i >= 0 && len(out) < limit; i-- {
		fl := s.fills[i]
		if fl.UserID != userID {
			continue
		}
		if f.Status != "" && fl.Status != f.Status {
			continue
		}
		if f.Symbol != "" && fl.Symbol != f.Symbol {
			continue
		}
		out = append(out, fl)
	}
	return out, nil
}

func (s *Store) ListHaltedAccounts(ctx context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Account
	for _, a := range s.accounts {
		if a.Halted() {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func matches(t model.Transaction, f model.TransactionFilter) bool {
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.RelatedID != "" && t.RelatedID != f.RelatedID {
		return false
	}
	if f.Source != "" && t.Metadata["source"] != f.Source {
		return false
	}
	if !f.Since.IsZero() && t.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

func sortPositions(ps []model.Position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].OpenedAt.Equal(ps[j].OpenedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].OpenedAt.Before(ps[j].OpenedAt)
	})
}

type memTx struct {
	s         *Store
	accounts  map[string]model.Account
	positions map[string]model.Position
	txs       []model.Transaction
	fills     []model.Fill
}

func (t *memTx) UpsertAccount(ctx context.Context, userID string) (model.Account, error) {
	if a, ok := t.accounts[userID]; ok {
		return a, nil
	}
	t.s.mu.RLock()
	a, ok := t.s.accounts[userID]
	t.s.mu.RUnlock()
	if !ok {
		now := time.Now().UTC()
		a = model.Account{UserID: userID, CreatedAt: now, UpdatedAt: now}
	}
	t.accounts[userID] = a
	return a, nil
}

func (t *memTx) UpdateAccount(ctx context.Context, a model.Account) error {
	if a.LockedMargin.IsNegative() {
		return types.Invariant("locked margin for %s would be %s", a.UserID, a.LockedMargin)
	}
	cur, err := t.UpsertAccount(ctx, a.UserID)
	if err != nil {
		return err
	}
	a.HaltedAt, a.HaltedReason = cur.HaltedAt, cur.HaltedReason
	a.UpdatedAt = time.Now().UTC()
	t.accounts[a.UserID] = a
	return nil
}

func (t *memTx) SetAccountHalt(ctx context.Context, userID, reason string, at *time.Time) error {
	a, err := t.UpsertAccount(ctx, userID)
	if err != nil {
		return err
	}
	if at == nil {
		reason = ""
	}
	a.HaltedAt, a.HaltedReason = at, reason
	t.accounts[userID] = a
	return nil
}

func (t *memTx) position(id string) (model.Position, bool) {
	if p, ok := t.positions[id]; ok {
		return p, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	p, ok := t.s.positions[id]
	return p, ok
}

// view merges committed positions with this transaction's staged writes.
func (t *memTx) view(keep func(model.Position) bool) []model.Position {
	merged := map[string]model.Position{}
	t.s.mu.RLock()
	for id, p := range t.s.positions {
		merged[id] = p
	}
	t.s.mu.RUnlock()
	for id, p := range t.positions {
		merged[id] = p
	}
	var out []model.Position
	for _, p := range merged {
		if keep(p) {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out
}

func (t *memTx) OpenPositionForUpdate(ctx context.Context, userID, symbol string) (model.Position, bool, error) {
	open := t.view(func(p model.Position) bool {
		return p.UserID == userID && p.Symbol == symbol && p.IsOpen()
	})
	if len(open) == 0 {
		return model.Position{}, false, nil
	}
	return open[0], true, nil
}

func (t *memTx) PositionForUpdate(ctx context.Context, id string) (model.Position, error) {
	p, ok := t.position(id)
	if !ok {
		return model.Position{}, types.ErrPositionNotFound
	}
	return p, nil
}

func (t *memTx) OpenPositions(ctx context.Context, userID string) ([]model.Position, error) {
	return t.view(func(p model.Position) bool {
		return p.UserID == userID && p.IsOpen()
	}), nil
}

func (t *memTx) InsertPosition(ctx context.Context, p model.Position) error {
	if _, exists := t.position(p.ID); exists {
		return types.Invariant("position %s already exists", p.ID)
	}
	if p.IsOpen() {
		if _, found, _ := t.OpenPositionForUpdate(ctx, p.UserID, p.Symbol); found {
			return types.Invariant("open position already exists for %s/%s", p.UserID, p.Symbol)
		}
	}
	t.positions[p.ID] = p
	return nil
}

func (t *memTx) UpdatePosition(ctx context.Context, p model.Position) error {
	cur, ok := t.position(p.ID)
	if !ok {
		return types.ErrPositionNotFound
	}
	if cur.Version != p.Version {
		return types.NotOpen(p.ID)
	}
	p.Version++
	t.positions[p.ID] = p
	return nil
}

func (t *memTx) AppendTransaction(ctx context.Context, rec model.Transaction) error {
	t.txs = append(t.txs, rec)
	return nil
}

func (t *memTx) AppendFill(ctx context.Context, f model.Fill) error {
	t.fills = append(t.fills, f)
	return nil
}
