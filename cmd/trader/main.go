package main

import (
	"fmt"
	"os"

	"dex-trade-bot-go/internal/config"
	"dex-trade-bot-go/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configDir    string
	modeOverride string
)

// rootCmd runs the trading loop when invoked without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "Unattended DEX trading loop",
	Long: `trader runs a fixed-cadence decision loop: a signal strategy that reports
trend decisions, or a profit strategy that scans a basket for mispriced assets and
swaps them on a Uniswap V3 router. Every decision and trade lands in a local ledger.`,
	SilenceUsage: true,
	RunE:         runTrader,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the trading loop until interrupted",
	RunE:  runTrader,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "./configs", "Directory containing config.yml")
	rootCmd.PersistentFlags().StringVar(&modeOverride, "mode", "", "Strategy mode override: signal or profit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration, applies the mode flag and builds the logger.
func loadConfig() (config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		return cfg, nil, fmt.Errorf("could not load config: %w", err)
	}
	if modeOverride != "" {
		cfg.General.Mode = config.ParseMode(modeOverride)
	}

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format, cfg.Logger.Outputs...)
	if err != nil {
		return cfg, nil, fmt.Errorf("could not initialize logger: %w", err)
	}
	return cfg, log, nil
}
