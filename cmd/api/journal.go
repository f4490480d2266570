package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"perp-ledger/internal/journal"

	"github.com/spf13/cobra"
)

var (
	journalDBPath string
	journalLimit  int
)

var journalCmd = &cobra.Command{
	Use:   "journal <user-id>",
	Short: "List a user's closed and liquidated positions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := journalDBPath
		if path == "" {
			path = os.Getenv("JOURNAL_PATH")
		}
		if path == "" {
			return fmt.Errorf("no journal: pass --db or set JOURNAL_PATH")
		}
		j, err := journal.NewSQLite(path)
		if err != nil {
			return err
		}
		defer j.Close()
		outcomes, err := j.List(cmd.Context(), args[0], journalLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CLOSED\tSYMBOL\tSIDE\tSTATUS\tSIZE\tENTRY\tEXIT\tPNL\tFEES")
		for _, o := range outcomes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				o.ClosedAt.Format("2006-01-02 15:04:05"), o.Symbol, o.Side, o.Status,
				o.Size, o.EntryPrice, o.ExitPrice, o.RealizedPnL.StringFixed(2), o.Fees.StringFixed(2))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.Flags().StringVarP(&journalDBPath, "db", "d", "", "path to SQLite journal (default $JOURNAL_PATH)")
	journalCmd.Flags().IntVarP(&journalLimit, "limit", "n", 50, "number of rows")
}
