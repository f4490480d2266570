package main

import (
	"errors"
	"fmt"
	"time"

	"perp-ledger/internal/config"
	"perp-ledger/internal/marketdata"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Mark price tools",
}

var priceSetCmd = &cobra.Command{
	Use:   "set <SYMBOL> <PRICE>",
	Short: "Push a mark price into the configured feed",
	Long: `Push a mark price into the configured feed.

With REDIS_ADDR set the tick is written to the shared price cache. Otherwise
it is sent to the running server.

Examples:
  perp-ledger price set BTCUSDT 50000
  perp-ledger price set eth-usdt 3120.5`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbol := marketdata.NormalizeSymbol(args[0])
		price, err := decimal.NewFromString(args[1])
		if symbol == "" || err != nil || !price.IsPositive() {
			return errors.New("symbol and positive price are required")
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		at := time.Now().UTC()
		if cfg.RedisAddr == "" {
			body := map[string]any{"symbol": symbol, "price": price.String(), "ts": at.UnixMilli()}
			if err := postInternal(ctx, cfg, "/v1/internal/prices", body, nil); err != nil {
				return err
			}
		} else {
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := marketdata.Push(ctx, a.writer, nil, symbol, price, at); err != nil {
				return err
			}
		}
		fmt.Printf("%s %s @ %s\n", symbol, price, at.Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(priceCmd)
	priceCmd.AddCommand(priceSetCmd)
}
