package marketdata

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// SymbolLister names the symbols worth relaying, typically those with open
// positions or configured pairs.
type SymbolLister func(ctx context.Context) ([]string, error)

// RunPriceRelay publishes the latest mark price of every listed symbol to the
// bus on each tick, so stream clients can value positions live. It returns
// when ctx is done.
func RunPriceRelay(ctx context.Context, bus *Bus, feed PriceFeed, symbols SymbolLister, interval time.Duration, log logrus.FieldLogger) {
	log = log.WithField("component", "price_relay")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := map[string]time.Time{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		list, err := symbols(ctx)
		if err != nil {
			log.WithError(err).Warn("list symbols")
			continue
		}
		for _, symbol := range list {
			p, ok, err := feed.MarkPrice(ctx, symbol)
			if err != nil {
				log.WithError(err).WithField("symbol", symbol).Debug("mark price")
				continue
			}
			if !ok || !p.At.After(last[symbol]) {
				continue
			}
			last[symbol] = p.At
			bus.Publish(Event{Type: EventPrice, Data: p})
		}
	}
}
