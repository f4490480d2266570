package redis

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"perp-ledger/internal/marketdata"
	"perp-ledger/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// newTestClient connects to REDIS_TEST_ADDR; the tests are skipped without it.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testSymbol() string {
	return "TEST" + strings.ToUpper(uuid.NewString()[:8])
}

func TestPriceCacheKeepsNewestTick(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	pc := NewPriceCache(c, 3)
	sym := testSymbol()
	t.Cleanup(func() { c.Underlying().Del(ctx, priceKey(sym), historyKey(sym)) })

	_, ok, err := pc.MarkPrice(ctx, sym)
	require.NoError(t, err)
	require.False(t, ok)

	base := time.UnixMilli(1_700_000_000_000).UTC()
	require.NoError(t, pc.SetPrice(ctx, sym, decimal.RequireFromString("100.5"), base))
	require.NoError(t, pc.SetPrice(ctx, sym, decimal.RequireFromString("101"), base.Add(time.Second)))
	require.NoError(t, pc.SetPrice(ctx, sym, decimal.RequireFromString("99"), base.Add(-time.Second)))

	p, ok, err := pc.MarkPrice(ctx, sym)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, p.Value.Equal(decimal.RequireFromString("101")))
	require.Equal(t, base.Add(time.Second), p.At)

	require.NoError(t, pc.SetPrice(ctx, sym, decimal.RequireFromString("102"), base.Add(2*time.Second)))
	hist, err := pc.History(ctx, sym, 10)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	require.True(t, hist[0].Value.Equal(decimal.RequireFromString("102")))
}

// The shared cache must behave like the in-process PriceBook for the same
// writes.
func TestPriceCacheMatchesPriceBook(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	pc := NewPriceCache(c, 5)
	book := marketdata.NewPriceBook(5)
	sym := testSymbol()
	t.Cleanup(func() { c.Underlying().Del(ctx, priceKey(sym), historyKey(sym)) })

	base := time.UnixMilli(1_700_000_000_000).UTC()
	writes := []struct {
		symbol string
		price  string
		at     time.Time
	}{
		{strings.ToLower(sym), "100", base},
		{" " + sym + " ", "101", base.Add(time.Second)},
		{sym, "0", base.Add(2 * time.Second)},
		{sym, "-5", base.Add(3 * time.Second)},
		{"", "50", base.Add(4 * time.Second)},
	}
	for _, w := range writes {
		require.NoError(t, pc.SetPrice(ctx, w.symbol, decimal.RequireFromString(w.price), w.at))
		require.NoError(t, book.SetPrice(ctx, w.symbol, decimal.RequireFromString(w.price), w.at))
	}

	fromCache, ok, err := pc.MarkPrice(ctx, sym)
	require.NoError(t, err)
	require.True(t, ok)
	fromBook, ok, err := book.MarkPrice(ctx, sym)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, fromCache.Value.Equal(fromBook.Value))
	require.True(t, fromCache.Value.Equal(decimal.RequireFromString("101")))

	for _, limit := range []int{0, -1, 1, 10} {
		cached, err := pc.History(ctx, sym, limit)
		require.NoError(t, err)
		booked, err := book.History(ctx, sym, limit)
		require.NoError(t, err)
		require.Len(t, cached, len(booked), "limit %d", limit)
		for i := range booked {
			require.True(t, cached[i].Value.Equal(booked[i].Value))
		}
	}
}

func TestLockerExcludes(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	l := NewLocker(c, time.Second)
	key := "test:" + uuid.NewString()

	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)
	_, err = l.TryLock(ctx, key)
	require.ErrorIs(t, err, types.ErrLockHeld)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(short, key)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	again, err := l.TryLock(ctx, key)
	require.NoError(t, err)
	again()
}

func TestCooldowns(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	cd := NewCooldowns(c)
	key := "test:" + uuid.NewString()
	t.Cleanup(func() { _ = cd.Release(ctx, key) })

	ok, until, err := cd.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, again, err := cd.Claim(ctx, key, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	require.WithinDuration(t, until, again, 2*time.Second)

	require.NoError(t, cd.Release(ctx, key))
	free, err := cd.Until(ctx, key)
	require.NoError(t, err)
	require.True(t, free.IsZero())
}
