package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantro/meanrev/config"
)

var rootCmd = &cobra.Command{
	Use:   "meanrev",
	Short: "A mean-reversion futures trading bot",
	Long: `Meanrev trades one futures contract on a Z-score mean-reversion
strategy with layered circuit breakers.

It provides tools for:
  - Paper trading against a live or synthetic bar stream
  - Backtesting over recorded bar data
  - Walk-forward evaluation across ordered folds
  - Inspecting the trade journal and daily summaries`,
}

var cfgPath string

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file (YAML or JSON)")
}

// loadConfig resolves the --config flag, falling back to defaults.
func loadConfig() (*config.Config, error) {
	if cfgPath == "" {
		return config.Default(), nil
	}
	cfg, err := config.LoadFromFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
