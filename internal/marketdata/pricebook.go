package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const defaultHistoryDepth = 1000

// PriceBook is an in-process price feed: latest tick per symbol plus a
// bounded history. It is owned by whoever constructs it, never shared via
// package state.
type PriceBook struct {
	mu      sync.RWMutex
	latest  map[string]Price
	history map[string][]Price
	depth   int
}

func NewPriceBook(depth int) *PriceBook {
	if depth <= 0 {
		depth = defaultHistoryDepth
	}
	return &PriceBook{latest: map[string]Price{}, history: map[string][]Price{}, depth: depth}
}

var (
	_ PriceFeed    = (*PriceBook)(nil)
	_ PriceWriter  = (*PriceBook)(nil)
	_ PriceHistory = (*PriceBook)(nil)
)

func (b *PriceBook) SetPrice(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) error {
	symbol, ok := AcceptTick(symbol, price)
	if !ok {
		return nil
	}
	p := Price{Symbol: symbol, Value: price, At: at.UTC()}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.latest[symbol]; !ok || !p.At.Before(cur.At) {
		b.latest[symbol] = p
	}
	h := append(b.history[symbol], p)
	if len(h) > b.depth {
		h = h[len(h)-b.depth:]
	}
	b.history[symbol] = h
	return nil
}

func (b *PriceBook) MarkPrice(ctx context.Context, symbol string) (Price, bool, error) {
	b.mu.RLock()
	p, ok := b.latest[symbol]
	b.mu.RUnlock()
	return p, ok, nil
}

// History returns up to limit ticks, newest first.
func (b *PriceBook) History(ctx context.Context, symbol string, limit int) ([]Price, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h := b.history[symbol]
	if limit <= 0 || limit > len(h) {
		limit = len(h)
	}
	out := make([]Price, 0, limit)
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}
