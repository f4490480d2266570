package liquidation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"perp-ledger/internal/cooldown"
	"perp-ledger/internal/ledger"
	"perp-ledger/internal/locks"
	"perp-ledger/internal/logging"
	"perp-ledger/internal/marketdata"
	"perp-ledger/internal/model"
	"perp-ledger/internal/orders"
	"perp-ledger/internal/store/memory"
	"perp-ledger/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	store  *memory.Store
	ledger *ledger.Service
	orders *orders.Service
	book   *marketdata.PriceBook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logging.Discard()
	st := memory.New()
	locker := locks.NewKeyed()
	ledgerSvc := ledger.NewService(st, locker, cooldown.NewMemory(time.Now), ledger.DefaultConfig(), log)
	book := marketdata.NewPriceBook(8)
	svc := orders.NewService(st, ledgerSvc, book, marketdata.NewPairRegistry(false), locker, marketdata.NewBus(), orders.DefaultConfig(), log)
	return &fixture{store: st, ledger: ledgerSvc, orders: svc, book: book}
}

func (f *fixture) open(t *testing.T, user, symbol string, side types.Side, price string) model.Position {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.Deposit(ctx, user, d("1000"), nil)
	require.NoError(t, err)
	require.NoError(t, f.book.SetPrice(ctx, symbol, d(price), time.Now()))
	res, err := f.orders.PlaceFill(ctx, orders.FillRequest{UserID: user, Symbol: symbol, Side: side, Size: d("1000"), Leverage: 10})
	require.NoError(t, err)
	return res.Position
}

func TestSweepLiquidatesCrossedPositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	long := f.open(t, "u1", "BTCUSDT", types.SideLong, "100")
	short := f.open(t, "u2", "ETHUSDT", types.SideShort, "100")
	safe := f.open(t, "u3", "BTCUSDT", types.SideShort, "100")

	require.NoError(t, f.book.SetPrice(ctx, "BTCUSDT", d("89"), time.Now()))
	require.NoError(t, f.book.SetPrice(ctx, "ETHUSDT", d("109"), time.Now()))

	scanner := NewScanner(f.store, f.book, f.orders, time.Second, logging.Discard())
	liquidated, err := scanner.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, liquidated, 1)
	require.Equal(t, long.ID, liquidated[0].Position.ID)
	require.Equal(t, types.PositionStatusLiquidated, liquidated[0].Position.Status)
	require.True(t, liquidated[0].Position.RealizedPnL.Equal(d("-100")))
	require.True(t, liquidated[0].Shortfall.Equal(d("10")))

	acct, err := f.ledger.Account(ctx, "u1")
	require.NoError(t, err)
	require.True(t, acct.LockedMargin.IsZero())

	for _, id := range []string{short.ID, safe.ID} {
		p, err := f.store.GetPosition(ctx, id)
		require.NoError(t, err)
		require.True(t, p.IsOpen())
	}

	liquidated, err = scanner.Sweep(ctx)
	require.NoError(t, err)
	require.Empty(t, liquidated)
}

func TestSweepSkipsUnpricedPositions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.open(t, "u1", "BTCUSDT", types.SideLong, "100")
	eth := f.open(t, "u1", "ETHUSDT", types.SideLong, "100")

	prices := marketdata.NewPriceBook(1)
	require.NoError(t, prices.SetPrice(ctx, "ETHUSDT", d("80"), time.Now()))

	scanner := NewScanner(f.store, prices, f.orders, time.Second, logging.Discard())
	liquidated, err := scanner.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, liquidated, 1)
	require.Equal(t, eth.ID, liquidated[0].Position.ID)

	open, err := f.store.ListOpenPositions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.Equal(t, "BTCUSDT", open[0].Symbol)
}

type stubLister []model.Position

func (s stubLister) ListAllOpenPositions(ctx context.Context) ([]model.Position, error) {
	return s, nil
}

type stubLiquidator struct {
	calls atomic.Int32
	errs  map[string]error
}

func (s *stubLiquidator) Liquidate(ctx context.Context, pos model.Position, mark marketdata.Price) (model.LiquidatedPosition, error) {
	s.calls.Add(1)
	if err := s.errs[pos.ID]; err != nil {
		return model.LiquidatedPosition{}, err
	}
	return model.LiquidatedPosition{Position: pos, MarkPrice: mark.Value}, nil
}

func TestSweepContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	prices := marketdata.NewPriceBook(1)
	require.NoError(t, prices.SetPrice(ctx, "BTCUSDT", d("50"), time.Now()))
	pos := func(id string) model.Position {
		return model.Position{ID: id, UserID: "u", Symbol: "BTCUSDT", Side: types.SideLong, LiquidationPrice: d("90"), Status: types.PositionStatusOpen}
	}
	boom := errors.New("db unavailable")
	liq := &stubLiquidator{errs: map[string]error{
		"raced":  types.NotOpen("raced"),
		"moved":  orders.ErrNotLiquidatable,
		"broken": boom,
	}}
	scanner := NewScanner(stubLister{pos("raced"), pos("broken"), pos("moved"), pos("ok")}, prices, liq, time.Second, logging.Discard())

	liquidated, err := scanner.Sweep(ctx)
	require.ErrorIs(t, err, boom)
	require.Len(t, liquidated, 1)
	require.Equal(t, "ok", liquidated[0].Position.ID)
	require.EqualValues(t, 4, liq.calls.Load())
}

func TestClampInterval(t *testing.T) {
	require.Equal(t, DefaultInterval, ClampInterval(0))
	require.Equal(t, MinInterval, ClampInterval(time.Millisecond))
	require.Equal(t, MaxInterval, ClampInterval(time.Hour))
	require.Equal(t, 5*time.Second, ClampInterval(5*time.Second))
}

func TestRunStopsWithContext(t *testing.T) {
	liq := &stubLiquidator{}
	scanner := NewScanner(stubLister{}, marketdata.NewPriceBook(1), liq, MinInterval, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scanner.Run(ctx) }()
	time.Sleep(250 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scanner did not stop")
	}
}
