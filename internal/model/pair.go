package model

import "github.com/shopspring/decimal"

type TradingPair struct {
	Symbol       string          `json:"symbol" toml:"symbol"`
	BaseAsset    string          `json:"base_asset" toml:"base_asset"`
	QuoteAsset   string          `json:"quote_asset" toml:"quote_asset"`
	MinOrderSize decimal.Decimal `json:"min_order_size" toml:"min_order_size"`
	MaxOrderSize decimal.Decimal `json:"max_order_size" toml:"max_order_size"`
	MaxLeverage  int             `json:"max_leverage" toml:"max_leverage"`
	TakerFee     decimal.Decimal `json:"taker_fee" toml:"taker_fee"`
	PriceDP      int32           `json:"price_dp" toml:"price_dp"`
	Active       bool            `json:"active" toml:"active"`
}
