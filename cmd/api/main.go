package main

import (
	"fmt"
	"os"

	"perp-ledger/internal/config"

	"github.com/spf13/cobra"
)

var envFiles []string

var rootCmd = &cobra.Command{
	Use:   "perp-ledger",
	Short: "Position and margin ledger for simulated perpetual futures",
	Long: `perp-ledger keeps user balances, leveraged positions and the transaction log
for a simulated perpetual futures venue.

Commands:
  serve    - run the HTTP API and the liquidation scanner
  migrate  - apply the Postgres schema
  sweep    - run one liquidation sweep
  price    - push a mark price into the configured feed
  journal  - list closed and liquidated positions from the audit journal`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadDotEnv(envFiles...)
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", nil, "dotenv files to load (default .env)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
