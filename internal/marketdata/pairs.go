package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"perp-ledger/internal/model"
	"perp-ledger/internal/types"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// PairSource resolves per-symbol trading limits.
type PairSource interface {
	Pair(ctx context.Context, symbol string) (model.TradingPair, error)
	Pairs(ctx context.Context) ([]model.TradingPair, error)
}

// DefaultPair is used for symbols without explicit configuration.
func DefaultPair(symbol string) model.TradingPair {
	return model.TradingPair{
		Symbol:       symbol,
		BaseAsset:    strings.TrimSuffix(symbol, "USDT"),
		QuoteAsset:   "USDT",
		MinOrderSize: decimal.NewFromInt(1),
		MaxOrderSize: decimal.NewFromInt(100000),
		MaxLeverage:  20,
		TakerFee:     decimal.RequireFromString("0.0005"),
		PriceDP:      2,
		Active:       true,
	}
}

// PairRegistry is a static PairSource. Unless strict, unknown symbols get
// DefaultPair.
type PairRegistry struct {
	pairs  map[string]model.TradingPair
	strict bool
}

func NewPairRegistry(strict bool, pairs ...model.TradingPair) *PairRegistry {
	r := &PairRegistry{pairs: map[string]model.TradingPair{}, strict: strict}
	for _, p := range pairs {
		r.pairs[p.Symbol] = p
	}
	return r
}

var _ PairSource = (*PairRegistry)(nil)

func (r *PairRegistry) Pair(ctx context.Context, symbol string) (model.TradingPair, error) {
	if p, ok := r.pairs[symbol]; ok {
		return p, nil
	}
	if r.strict {
		return model.TradingPair{}, types.Validation("unknown trading pair %s", symbol)
	}
	return DefaultPair(symbol), nil
}

func (r *PairRegistry) Pairs(ctx context.Context) ([]model.TradingPair, error) {
	out := make([]model.TradingPair, 0, len(r.pairs))
	for _, p := range r.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

type pairsFile struct {
	Strict bool       `toml:"strict"`
	Pairs  []pairSpec `toml:"pair"`
}

type pairSpec struct {
	Symbol       string `toml:"symbol"`
	BaseAsset    string `toml:"base_asset"`
	QuoteAsset   string `toml:"quote_asset"`
	MinOrderSize string `toml:"min_order_size"`
	MaxOrderSize string `toml:"max_order_size"`
	MaxLeverage  int    `toml:"max_leverage"`
	TakerFee     string `toml:"taker_fee"`
	PriceDP      *int32 `toml:"price_dp"`
	Active       *bool  `toml:"active"`
}

// LoadPairs reads a TOML pairs file. Fields left out take DefaultPair values.
func LoadPairs(path string) (*PairRegistry, error) {
	var f pairsFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("marketdata: decode pairs %s: %w", path, err)
	}
	return buildRegistry(f)
}

func ParsePairs(data string) (*PairRegistry, error) {
	var f pairsFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("marketdata: decode pairs: %w", err)
	}
	return buildRegistry(f)
}

func buildRegistry(f pairsFile) (*PairRegistry, error) {
	pairs := make([]model.TradingPair, 0, len(f.Pairs))
	for _, spec := range f.Pairs {
		p, err := spec.resolve()
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return NewPairRegistry(f.Strict, pairs...), nil
}

func (s pairSpec) resolve() (model.TradingPair, error) {
	symbol := NormalizeSymbol(s.Symbol)
	if symbol == "" {
		return model.TradingPair{}, fmt.Errorf("marketdata: pair without symbol")
	}
	p := DefaultPair(symbol)
	if s.BaseAsset != "" {
		p.BaseAsset = s.BaseAsset
	}
	if s.QuoteAsset != "" {
		p.QuoteAsset = s.QuoteAsset
	}
	if s.MaxLeverage > 0 {
		p.MaxLeverage = s.MaxLeverage
	}
	if s.PriceDP != nil {
		p.PriceDP = *s.PriceDP
	}
	if s.Active != nil {
		p.Active = *s.Active
	}
	for _, field := range []struct {
		raw  string
		dst  *decimal.Decimal
		name string
	}{
		{s.MinOrderSize, &p.MinOrderSize, "min_order_size"},
		{s.MaxOrderSize, &p.MaxOrderSize, "max_order_size"},
		{s.TakerFee, &p.TakerFee, "taker_fee"},
	} {
		if field.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(field.raw)
		if err != nil {
			return model.TradingPair{}, fmt.Errorf("marketdata: pair %s: invalid %s: %w", symbol, field.name, err)
		}
		*field.dst = v
	}
	if p.MinOrderSize.IsNegative() || p.MaxOrderSize.LessThan(p.MinOrderSize) {
		return model.TradingPair{}, fmt.Errorf("marketdata: pair %s: invalid order size range", symbol)
	}
	if p.TakerFee.IsNegative() {
		return model.TradingPair{}, fmt.Errorf("marketdata: pair %s: negative taker fee", symbol)
	}
	return p, nil
}
