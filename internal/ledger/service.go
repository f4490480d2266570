package ledger

import (
	"context"
	"fmt"
	"time"

	"perp-ledger/internal/cooldown"
	"perp-ledger/internal/id"
	"perp-ledger/internal/locks"
	"perp-ledger/internal/model"
	"perp-ledger/internal/store"
	"perp-ledger/internal/types"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	SourceFaucet   = "faucet"
	SourceTransfer = "transfer"
	SourceTrade    = "trade"

	faucetHistoryLimit = 10
)

type Config struct {
	FaucetEnabled  bool
	FaucetAmount   decimal.Decimal
	FaucetCooldown time.Duration
	MinWithdraw    decimal.Decimal
	WithdrawFee    decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		FaucetEnabled:  true,
		FaucetAmount:   decimal.NewFromInt(1000),
		FaucetCooldown: 24 * time.Hour,
		MinWithdraw:    decimal.NewFromInt(1),
		WithdrawFee:    decimal.RequireFromString("0.5"),
	}
}

// Service is the account ledger. Every balance movement goes through Post,
// which keeps the transaction log and the account row in the same unit of work.
type Service struct {
	store     store.Store
	locker    locks.Locker
	cooldowns cooldown.Store
	cfg       Config
	now       func() time.Time
	log       logrus.FieldLogger
}

func NewService(st store.Store, locker locks.Locker, cooldowns cooldown.Store, cfg Config, log logrus.FieldLogger) *Service {
	return &Service{
		store:     st,
		locker:    locker,
		cooldowns: cooldowns,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.WithField("component", "ledger"),
	}
}

// Entry describes one signed movement of free balance.
type Entry struct {
	Type      types.TransactionType
	Amount    decimal.Decimal
	Symbol    string
	RelatedID string
	Metadata  map[string]string
}

// Post applies e to acct inside tx and appends the matching transaction with
// the resulting balance. The caller persists acct with UpdateAccount.
func (s *Service) Post(ctx context.Context, tx store.Tx, acct *model.Account, e Entry) (model.Transaction, error) {
	if !e.Type.Valid() {
		return model.Transaction{}, types.Invariant("unknown transaction type %q", e.Type)
	}
	acct.FreeBalance = acct.FreeBalance.Add(e.Amount)
	rec := model.Transaction{
		ID:           id.New(),
		UserID:       acct.UserID,
		Type:         e.Type,
		Amount:       e.Amount,
		BalanceAfter: acct.FreeBalance,
		Symbol:       e.Symbol,
		RelatedID:    e.RelatedID,
		Metadata:     e.Metadata,
		CreatedAt:    s.now(),
	}
	if err := tx.AppendTransaction(ctx, rec); err != nil {
		return model.Transaction{}, err
	}
	return rec, nil
}

// LockMargin earmarks amount of the free balance against a position.
func (s *Service) LockMargin(acct *model.Account, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return types.Invariant("negative margin lock %s", amount)
	}
	acct.LockedMargin = acct.LockedMargin.Add(amount)
	return nil
}

// ReleaseMargin returns amount of locked margin to the available balance.
func (s *Service) ReleaseMargin(acct *model.Account, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return types.Invariant("negative margin release %s", amount)
	}
	next := acct.LockedMargin.Sub(amount)
	if next.IsNegative() {
		return types.Invariant("releasing %s exceeds locked margin %s for %s", amount, acct.LockedMargin, acct.UserID)
	}
	acct.LockedMargin = next
	return nil
}

func (s *Service) withAccount(ctx context.Context, userID string, fn func(ctx context.Context, tx store.Tx, acct *model.Account) error) error {
	unlock, err := s.locker.Lock(ctx, locks.AccountKey(userID))
	if err != nil {
		return fmt.Errorf("ledger: lock account: %w", err)
	}
	defer unlock()
	return s.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.UpsertAccount(ctx, userID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, &acct); err != nil {
			return err
		}
		return tx.UpdateAccount(ctx, acct)
	})
}

func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal, metadata map[string]string) (model.Transaction, error) {
	if userID == "" {
		return model.Transaction{}, types.Validation("user is required")
	}
	if !amount.IsPositive() {
		return model.Transaction{}, types.Validation("amount must be positive")
	}
	if metadata == nil {
		metadata = map[string]string{"source": SourceTransfer}
	}
	var rec model.Transaction
	err := s.withAccount(ctx, userID, func(ctx context.Context, tx store.Tx, acct *model.Account) error {
		acct.TotalDeposited = acct.TotalDeposited.Add(amount)
		var err error
		rec, err = s.Post(ctx, tx, acct, Entry{Type: types.TransactionTypeDeposit, Amount: amount, Metadata: metadata})
		return err
	})
	if err != nil {
		return model.Transaction{}, err
	}
	s.log.WithFields(logrus.Fields{"user": userID, "amount": amount.String(), "source": metadata["source"]}).Info("deposit")
	return rec, nil
}

// Withdraw debits amount plus the withdraw fee. Locked margin is never
// withdrawable.
func (s *Service) Withdraw(ctx context.Context, userID string, amount decimal.Decimal, toAddress string) (model.Transaction, error) {
	if userID == "" {
		return model.Transaction{}, types.Validation("user is required")
	}
	if !amount.IsPositive() {
		return model.Transaction{}, types.Validation("amount must be positive")
	}
	if amount.LessThan(s.cfg.MinWithdraw) {
		return model.Transaction{}, types.Validation("minimum withdrawal amount is %s", s.cfg.MinWithdraw)
	}
	total := amount.Add(s.cfg.WithdrawFee)
	var rec model.Transaction
	err := s.withAccount(ctx, userID, func(ctx context.Context, tx store.Tx, acct *model.Account) error {
		if acct.Available().LessThan(total) {
			return types.Insufficient("required %s, available %s", total.StringFixed(2), acct.Available().StringFixed(2))
		}
		acct.TotalWithdrawn = acct.TotalWithdrawn.Add(amount)
		var err error
		rec, err = s.Post(ctx, tx, acct, Entry{
			Type:   types.TransactionTypeWithdraw,
			Amount: total.Neg(),
			Metadata: map[string]string{
				"source": SourceTransfer,
				"to":     toAddress,
				"amount": amount.String(),
				"fee":    s.cfg.WithdrawFee.String(),
			},
		})
		return err
	})
	if err != nil {
		return model.Transaction{}, err
	}
	s.log.WithFields(logrus.Fields{"user": userID, "amount": amount.String(), "fee": s.cfg.WithdrawFee.String()}).Info("withdraw")
	return rec, nil
}

type FaucetInfo struct {
	Enabled     bool            `json:"enabled"`
	Amount      decimal.Decimal `json:"amount"`
	Cooldown    time.Duration   `json:"cooldown"`
	CanClaim    bool            `json:"can_claim"`
	NextClaimAt *time.Time      `json:"next_claim_at,omitempty"`
}

type FaucetClaim struct {
	Transaction model.Transaction `json:"transaction"`
	NewBalance  decimal.Decimal   `json:"new_balance"`
	NextClaimAt time.Time         `json:"next_claim_at"`
}

func faucetKey(userID string) string {
	return "faucet:" + userID
}

func (s *Service) FaucetInfo(ctx context.Context, userID string) (FaucetInfo, error) {
	info := FaucetInfo{Enabled: s.cfg.FaucetEnabled, Amount: s.cfg.FaucetAmount, Cooldown: s.cfg.FaucetCooldown}
	until, err := s.cooldowns.Until(ctx, faucetKey(userID))
	if err != nil {
		return info, fmt.Errorf("ledger: faucet cooldown: %w", err)
	}
	info.CanClaim = info.Enabled && until.IsZero()
	if !until.IsZero() {
		info.NextClaimAt = &until
	}
	return info, nil
}

// ClaimFaucet credits the configured testnet amount once per cooldown window.
func (s *Service) ClaimFaucet(ctx context.Context, userID string) (FaucetClaim, error) {
	if !s.cfg.FaucetEnabled {
		return FaucetClaim{}, types.Validation("faucet disabled")
	}
	if userID == "" {
		return FaucetClaim{}, types.Validation("user is required")
	}
	key := faucetKey(userID)
	ok, until, err := s.cooldowns.Claim(ctx, key, s.cfg.FaucetCooldown)
	if err != nil {
		return FaucetClaim{}, fmt.Errorf("ledger: faucet cooldown: %w", err)
	}
	if !ok {
		return FaucetClaim{}, &types.LedgerError{Kind: types.ErrCooldownActive, Reason: "next claim at " + until.UTC().Format(time.RFC3339)}
	}
	rec, err := s.Deposit(ctx, userID, s.cfg.FaucetAmount, map[string]string{
		"source":     SourceFaucet,
		"claimed_at": s.now().Format(time.RFC3339),
	})
	if err != nil {
		if relErr := s.cooldowns.Release(ctx, key); relErr != nil {
			s.log.WithError(relErr).WithField("user", userID).Warn("release faucet cooldown")
		}
		return FaucetClaim{}, err
	}
	return FaucetClaim{Transaction: rec, NewBalance: rec.BalanceAfter, NextClaimAt: until}, nil
}

func (s *Service) FaucetHistory(ctx context.Context, userID string) ([]model.Transaction, error) {
	return s.store.ListTransactions(ctx, userID, model.TransactionFilter{
		Type:   types.TransactionTypeDeposit,
		Source: SourceFaucet,
		Limit:  faucetHistoryLimit,
	})
}

func (s *Service) Transactions(ctx context.Context, userID string, f model.TransactionFilter) ([]model.Transaction, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, types.Validation("unknown transaction type %q", f.Type)
	}
	return s.store.ListTransactions(ctx, userID, f)
}

// Account returns the user's balances, or an empty account when the user has
// never touched the ledger.
func (s *Service) Account(ctx context.Context, userID string) (model.Account, error) {
	acct, ok, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return model.Account{}, err
	}
	if !ok {
		return model.Account{UserID: userID}, nil
	}
	return acct, nil
}
