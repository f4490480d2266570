package main

import (
	"encoding/json"
	"os"

	"perp-ledger/internal/config"
	"perp-ledger/internal/model"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one liquidation sweep and print what was liquidated",
	Long: `Run one liquidation sweep.

With DB_DSN and REDIS_ADDR set the sweep runs in this process against the
shared stores. Otherwise it asks the running server to sweep.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		out := struct {
			Liquidated []model.LiquidatedPosition `json:"liquidated"`
			Error      string                     `json:"error,omitempty"`
		}{}
		if a.shared() {
			out.Liquidated, err = a.scanner.Sweep(ctx)
			if err != nil {
				out.Error = err.Error()
			}
		} else if err := postInternal(ctx, cfg, "/v1/internal/liquidations/sweep", nil, &out); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
