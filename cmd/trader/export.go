package main

import (
	"fmt"

	"dex-trade-bot-go/internal/database"
	"dex-trade-bot-go/internal/ledger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// exportCmd writes a one-off snapshot of the ledger without starting the loop.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the ledger to CSV and JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		defer log.Sync()

		db, err := database.NewDatabase(cfg.Database.DSN)
		if err != nil {
			log.Error("Failed to connect to database", zap.Error(err))
			return err
		}
		exp, err := ledger.New(db, log, cfg.Export.Dir).ExportAll()
		for _, f := range exp.Files {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
