package marketdata

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Price struct {
	Symbol string          `json:"symbol"`
	Value  decimal.Decimal `json:"price"`
	At     time.Time       `json:"ts"`
}

// PriceFeed yields the latest mark price for a symbol. ok is false when no
// tick exists; err is reserved for the feed itself failing.
type PriceFeed interface {
	MarkPrice(ctx context.Context, symbol string) (Price, bool, error)
}

// PriceWriter stores ticks. Ticks rejected by AcceptTick are ignored.
type PriceWriter interface {
	SetPrice(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) error
}

// PriceHistory returns up to limit retained ticks, newest first. A limit of
// zero or less returns everything retained.
type PriceHistory interface {
	History(ctx context.Context, symbol string, limit int) ([]Price, error)
}

// AcceptTick normalizes symbol and reports whether the tick may be stored.
// Every PriceWriter applies it, so in-process and shared feeds agree.
func AcceptTick(symbol string, price decimal.Decimal) (string, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return symbol, symbol != "" && price.IsPositive()
}

// Fresh hides ticks older than maxAge so callers never act on a stale price.
type Fresh struct {
	feed   PriceFeed
	maxAge time.Duration
	now    func() time.Time
}

func NewFresh(feed PriceFeed, maxAge time.Duration) *Fresh {
	return &Fresh{feed: feed, maxAge: maxAge, now: time.Now}
}

var _ PriceFeed = (*Fresh)(nil)

func (f *Fresh) MarkPrice(ctx context.Context, symbol string) (Price, bool, error) {
	p, ok, err := f.feed.MarkPrice(ctx, symbol)
	if err != nil || !ok {
		return p, ok, err
	}
	if !p.Value.IsPositive() {
		return Price{}, false, nil
	}
	if f.maxAge > 0 && f.now().Sub(p.At) > f.maxAge {
		return Price{}, false, nil
	}
	return p, true, nil
}
