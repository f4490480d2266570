package marketdata

import (
	"time"

	"github.com/shopspring/decimal"
)

type Candle struct {
	Time  int64           `json:"time"`
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
	Ticks int             `json:"ticks"`
}

// AggregateCandles buckets ticks into OHLC candles of the given interval.
// Ticks may come in any order; candles are returned oldest first.
func AggregateCandles(ticks []Price, interval time.Duration) []Candle {
	step := int64(interval.Seconds())
	if step <= 0 || len(ticks) == 0 {
		return nil
	}
	ordered := make([]Price, len(ticks))
	copy(ordered, ticks)
	sortByTime(ordered)

	out := make([]Candle, 0, len(ordered))
	var cur *Candle
	for _, p := range ordered {
		sec := p.At.Unix()
		bucket := sec - sec%step
		if cur == nil || cur.Time != bucket {
			out = append(out, Candle{Time: bucket, Open: p.Value, High: p.Value, Low: p.Value, Close: p.Value})
			cur = &out[len(out)-1]
		}
		if p.Value.GreaterThan(cur.High) {
			cur.High = p.Value
		}
		if p.Value.LessThan(cur.Low) {
			cur.Low = p.Value
		}
		cur.Close = p.Value
		cur.Ticks++
	}
	return out
}

func sortByTime(ps []Price) {
	// insertion sort; history comes back nearly ordered
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && ps[j].At.Before(ps[j-1].At); j-- {
			ps[j], ps[j-1] = ps[j-1], ps[j]
		}
	}
}

func trimCandles(candles []Candle, limit int) []Candle {
	if limit <= 0 || len(candles) <= limit {
		return candles
	}
	return candles[len(candles)-limit:]
}
