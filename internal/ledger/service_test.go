package ledger

import (
	"context"
	"testing"
	"time"

	"perp-ledger/internal/cooldown"
	"perp-ledger/internal/locks"
	"perp-ledger/internal/logging"
	"perp-ledger/internal/model"
	"perp-ledger/internal/store"
	"perp-ledger/internal/store/memory"
	"perp-ledger/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newService(t *testing.T) (*Service, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewService(memory.New(), locks.NewKeyed(), cooldown.NewMemory(c.Now), DefaultConfig(), logging.Discard())
	return svc, c
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestDepositCreatesAccountLazily(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	acct, err := svc.Account(ctx, "u1")
	require.NoError(t, err)
	require.True(t, acct.FreeBalance.IsZero())

	rec, err := svc.Deposit(ctx, "u1", d("1000"), nil)
	require.NoError(t, err)
	require.Equal(t, types.TransactionTypeDeposit, rec.Type)
	require.True(t, rec.BalanceAfter.Equal(d("1000")))

	acct, err = svc.Account(ctx, "u1")
	require.NoError(t, err)
	require.True(t, acct.FreeBalance.Equal(d("1000")))
	require.True(t, acct.TotalDeposited.Equal(d("1000")))
}

func TestDepositRejectsNonPositive(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Deposit(context.Background(), "u1", d("0"), nil)
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestWithdraw(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Deposit(ctx, "u1", d("100"), nil)
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, "u1", d("0.5"), "addr")
	require.ErrorIs(t, err, types.ErrValidation)

	_, err = svc.Withdraw(ctx, "u1", d("99.8"), "addr")
	require.ErrorIs(t, err, types.ErrInsufficientBalance)

	rec, err := svc.Withdraw(ctx, "u1", d("50"), "addr")
	require.NoError(t, err)
	require.True(t, rec.Amount.Equal(d("-50.5")))
	require.True(t, rec.BalanceAfter.Equal(d("49.5")))

	acct, err := svc.Account(ctx, "u1")
	require.NoError(t, err)
	require.True(t, acct.TotalWithdrawn.Equal(d("50")))
}

func TestWithdrawCannotTouchLockedMargin(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.Deposit(ctx, "u1", d("100"), nil)
	require.NoError(t, err)

	err = svc.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		acct, err := tx.UpsertAccount(ctx, "u1")
		require.NoError(t, err)
		require.NoError(t, svc.LockMargin(&acct, d("80")))
		return tx.UpdateAccount(ctx, acct)
	})
	require.NoError(t, err)

	_, err = svc.Withdraw(ctx, "u1", d("20"), "addr")
	require.ErrorIs(t, err, types.ErrInsufficientBalance)
	_, err = svc.Withdraw(ctx, "u1", d("19.5"), "addr")
	require.NoError(t, err)
}

func TestReleaseMarginNeverGoesNegative(t *testing.T) {
	svc, _ := newService(t)
	acct := model.Account{UserID: "u1", LockedMargin: d("10")}
	require.ErrorIs(t, svc.ReleaseMargin(&acct, d("10.01")), types.ErrInvariantViolation)
	require.True(t, acct.LockedMargin.Equal(d("10")))
	require.NoError(t, svc.ReleaseMargin(&acct, d("10")))
	require.True(t, acct.LockedMargin.IsZero())
}

func TestFaucetCooldown(t *testing.T) {
	svc, c := newService(t)
	ctx := context.Background()

	claim, err := svc.ClaimFaucet(ctx, "u1")
	require.NoError(t, err)
	require.True(t, claim.NewBalance.Equal(d("1000")))
	require.Equal(t, c.now.Add(24*time.Hour), claim.NextClaimAt)

	_, err = svc.ClaimFaucet(ctx, "u1")
	require.ErrorIs(t, err, types.ErrCooldownActive)

	info, err := svc.FaucetInfo(ctx, "u1")
	require.NoError(t, err)
	require.False(t, info.CanClaim)
	require.NotNil(t, info.NextClaimAt)

	c.now = c.now.Add(24*time.Hour + time.Second)
	_, err = svc.ClaimFaucet(ctx, "u1")
	require.NoError(t, err)

	history, err := svc.FaucetHistory(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, SourceFaucet, history[0].Metadata["source"])
}

func TestTransactionsNewestFirstWithFilter(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	for _, amt := range []string{"10", "20", "30"} {
		_, err := svc.Deposit(ctx, "u1", d(amt), nil)
		require.NoError(t, err)
	}
	_, err := svc.Withdraw(ctx, "u1", d("5"), "addr")
	require.NoError(t, err)

	all, err := svc.Transactions(ctx, "u1", model.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, types.TransactionTypeWithdraw, all[0].Type)

	deposits, err := svc.Transactions(ctx, "u1", model.TransactionFilter{Type: types.TransactionTypeDeposit, Limit: 2})
	require.NoError(t, err)
	require.Len(t, deposits, 2)
	require.True(t, deposits[0].Amount.Equal(d("30")))

	_, err = svc.Transactions(ctx, "u1", model.TransactionFilter{Type: "BONUS"})
	require.ErrorIs(t, err, types.ErrValidation)
}
