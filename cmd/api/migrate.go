package main

import (
	"errors"
	"os"

	"perp-ledger/internal/db"
	"perp-ledger/internal/logging"

	"github.com/spf13/cobra"
)

var migrateDSN string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn := migrateDSN
		if dsn == "" {
			dsn = os.Getenv("DB_DSN")
		}
		if dsn == "" {
			return errors.New("missing required env: DB_DSN")
		}
		log := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
		pool, err := db.NewPool(cmd.Context(), dsn)
		if err != nil {
			return err
		}
		defer pool.Close()
		applied, err := db.Migrate(cmd.Context(), pool)
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			log.Info("schema is up to date")
		}
		for _, name := range applied {
			log.WithField("migration", name).Info("applied")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.Flags().StringVar(&migrateDSN, "dsn", "", "Postgres DSN (default $DB_DSN)")
}
