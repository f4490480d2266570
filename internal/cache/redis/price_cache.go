package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"perp-ledger/internal/marketdata"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// setPriceLua records a tick in the history sorted set and replaces the
// latest price hash only when the tick is not older than the stored one.
// KEYS: price hash, history zset. ARGV: price, ts (ms), depth.
const setPriceLua = `
local cur = redis.call('HGET', KEYS[1], 'ts')
if (not cur) or tonumber(cur) <= tonumber(ARGV[2]) then
    redis.call('HSET', KEYS[1], 'price', ARGV[1], 'ts', ARGV[2])
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[2] .. '|' .. ARGV[1])
redis.call('ZREMRANGEBYRANK', KEYS[2], 0, -(tonumber(ARGV[3]) + 1))
return 1
`

// PriceCache stores mark prices as hashes at "price:{symbol}" with fields
// "price" and "ts" (unix ms), and the recent ticks in "price:hist:{symbol}".
type PriceCache struct {
	rdb      *redis.Client
	setPrice *redis.Script
	depth    int
}

func NewPriceCache(c *Client, depth int) *PriceCache {
	if depth <= 0 {
		depth = 500
	}
	return &PriceCache{rdb: c.Underlying(), setPrice: redis.NewScript(setPriceLua), depth: depth}
}

var (
	_ marketdata.PriceFeed    = (*PriceCache)(nil)
	_ marketdata.PriceWriter  = (*PriceCache)(nil)
	_ marketdata.PriceHistory = (*PriceCache)(nil)
)

func priceKey(symbol string) string {
	return "price:" + symbol
}

func historyKey(symbol string) string {
	return "price:hist:" + symbol
}

func (pc *PriceCache) SetPrice(ctx context.Context, symbol string, price decimal.Decimal, at time.Time) error {
	symbol, ok := marketdata.AcceptTick(symbol, price)
	if !ok {
		return nil
	}
	keys := []string{priceKey(symbol), historyKey(symbol)}
	if err := pc.setPrice.Run(ctx, pc.rdb, keys, price.String(), at.UnixMilli(), pc.depth).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", symbol, err)
	}
	return nil
}

func (pc *PriceCache) MarkPrice(ctx context.Context, symbol string) (marketdata.Price, bool, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return marketdata.Price{}, false, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return marketdata.Price{}, false, nil
	}
	price, err := decimal.NewFromString(vals["price"])
	if err != nil {
		return marketdata.Price{}, false, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}
	ms, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return marketdata.Price{}, false, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}
	return marketdata.Price{Symbol: symbol, Value: price, At: time.UnixMilli(ms).UTC()}, true, nil
}

// History returns up to limit ticks, newest first; limit <= 0 returns the
// whole retained history.
func (pc *PriceCache) History(ctx context.Context, symbol string, limit int) ([]marketdata.Price, error) {
	stop := int64(limit - 1)
	if limit <= 0 {
		stop = -1
	}
	members, err := pc.rdb.ZRevRange(ctx, historyKey(symbol), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: price history %s: %w", symbol, err)
	}
	out := make([]marketdata.Price, 0, len(members))
	for _, m := range members {
		ts, raw, ok := strings.Cut(m, "|")
		if !ok {
			continue
		}
		ms, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			continue
		}
		price, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		out = append(out, marketdata.Price{Symbol: symbol, Value: price, At: time.UnixMilli(ms).UTC()})
	}
	return out, nil
}
