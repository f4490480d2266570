package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSymbol(t *testing.T) {
	require.Equal(t, "TONUSDT", NormalizeSymbol("usdt/ton"))
	require.Equal(t, "BTCUSDT", NormalizeSymbol(" btc/usdt "))
	require.Equal(t, "ETHUSDT", NormalizeSymbol("ETH-USDT"))
	require.Equal(t, "SOLUSDT", NormalizeSymbol("SOLUSDT"))
}

func TestPriceBookKeepsLatestAndHistory(t *testing.T) {
	ctx := context.Background()
	b := NewPriceBook(3)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.SetPrice(ctx, "btcusdt", decimal.NewFromInt(int64(100+i)), base.Add(time.Duration(i)*time.Second)))
	}
	p, ok, err := b.MarkPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, p.Value.Equal(decimal.NewFromInt(104)))

	h, err := b.History(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, h, 3)
	require.True(t, h[0].Value.Equal(decimal.NewFromInt(104)))

	require.NoError(t, b.SetPrice(ctx, "BTCUSDT", decimal.NewFromInt(1), base))
	p, _, _ = b.MarkPrice(ctx, "BTCUSDT")
	require.True(t, p.Value.Equal(decimal.NewFromInt(104)), "older tick must not replace latest")

	_, ok, err = b.MarkPrice(ctx, "ETHUSDT")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPriceBookIgnoresRejectedTicks(t *testing.T) {
	ctx := context.Background()
	b := NewPriceBook(4)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, b.SetPrice(ctx, "BTCUSDT", decimal.NewFromInt(100), base))
	require.NoError(t, b.SetPrice(ctx, "BTCUSDT", decimal.Zero, base.Add(time.Second)))
	require.NoError(t, b.SetPrice(ctx, "BTCUSDT", decimal.NewFromInt(-1), base.Add(2*time.Second)))

	p, ok, err := b.MarkPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, p.Value.Equal(decimal.NewFromInt(100)))

	all, err := b.History(ctx, "BTCUSDT", 0)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestAcceptTick(t *testing.T) {
	sym, ok := AcceptTick(" btcusdt ", decimal.NewFromInt(1))
	require.True(t, ok)
	require.Equal(t, "BTCUSDT", sym)

	_, ok = AcceptTick("BTCUSDT", decimal.Zero)
	require.False(t, ok)
	_, ok = AcceptTick("BTCUSDT", decimal.NewFromInt(-3))
	require.False(t, ok)
	_, ok = AcceptTick("  ", decimal.NewFromInt(1))
	require.False(t, ok)
}

func TestFreshHidesStaleTicks(t *testing.T) {
	ctx := context.Background()
	b := NewPriceBook(0)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, b.SetPrice(ctx, "BTCUSDT", decimal.NewFromInt(100), now.Add(-time.Minute)))

	f := NewFresh(b, 30*time.Second)
	f.now = func() time.Time { return now }
	_, ok, err := f.MarkPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.False(t, ok)

	f.maxAge = 2 * time.Minute
	p, ok, err := f.MarkPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, p.Value.Equal(decimal.NewFromInt(100)))
}

func TestParsePairs(t *testing.T) {
	reg, err := ParsePairs(`
strict = true

[[pair]]
symbol = "BTC/USDT"
max_leverage = 50
min_order_size = "10"
max_order_size = "250000"
taker_fee = "0.0004"

[[pair]]
symbol = "TONUSDT"
active = false
`)
	require.NoError(t, err)
	ctx := context.Background()

	btc, err := reg.Pair(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Equal(t, 50, btc.MaxLeverage)
	require.True(t, btc.MinOrderSize.Equal(decimal.NewFromInt(10)))
	require.True(t, btc.TakerFee.Equal(decimal.RequireFromString("0.0004")))
	require.True(t, btc.Active)

	ton, err := reg.Pair(ctx, "TONUSDT")
	require.NoError(t, err)
	require.False(t, ton.Active)
	require.Equal(t, 20, ton.MaxLeverage)

	_, err = reg.Pair(ctx, "DOGEUSDT")
	require.Error(t, err)

	all, err := reg.Pairs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "BTCUSDT", all[0].Symbol)
}

func TestParsePairsRejectsBadRange(t *testing.T) {
	_, err := ParsePairs(`
[[pair]]
symbol = "BTCUSDT"
min_order_size = "100"
max_order_size = "10"
`)
	require.Error(t, err)
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()
	for i := 0; i < 300; i++ {
		bus.Publish(Event{Type: EventPrice})
	}
	require.Len(t, ch, 256)
	require.Equal(t, uint64(44), bus.Dropped())
	bus.Unsubscribe(ch)
	n := 0
	for range ch {
		n++
	}
	require.Equal(t, 256, n)
}

func TestAggregateCandles(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := func(offset time.Duration, v int64) Price {
		return Price{Symbol: "BTCUSDT", Value: decimal.NewFromInt(v), At: base.Add(offset)}
	}
	// newest first, the way History returns them
	ticks := []Price{
		tick(70*time.Second, 104),
		tick(61*time.Second, 99),
		tick(40*time.Second, 103),
		tick(20*time.Second, 98),
		tick(0, 100),
	}
	candles := AggregateCandles(ticks, time.Minute)
	require.Len(t, candles, 2)

	first := candles[0]
	require.Equal(t, base.Unix(), first.Time)
	require.True(t, first.Open.Equal(decimal.NewFromInt(100)))
	require.True(t, first.High.Equal(decimal.NewFromInt(103)))
	require.True(t, first.Low.Equal(decimal.NewFromInt(98)))
	require.True(t, first.Close.Equal(decimal.NewFromInt(103)))
	require.Equal(t, 3, first.Ticks)

	second := candles[1]
	require.True(t, second.Open.Equal(decimal.NewFromInt(99)))
	require.True(t, second.Close.Equal(decimal.NewFromInt(104)))

	require.Len(t, trimCandles(candles, 1), 1)
	require.Nil(t, AggregateCandles(nil, time.Minute))
}
