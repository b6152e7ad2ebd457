package cmd

import (
	"context"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/quantro/meanrev/backtest"
)

var walkforwardCmd = &cobra.Command{
	Use:   "walkforward",
	Short: "Walk-forward evaluation across ordered folds",
	Long: `Walkforward splits the bar range into ordered test windows, seeds
each fold's statistics from the data preceding it, and backtests every
fold with a fresh risk state. Per-fold and overall metrics are reported.`,
	RunE: runWalkforwardCmd,
}

var (
	wfFolds   int
	wfSimBars int
)

func init() {
	rootCmd.AddCommand(walkforwardCmd)

	walkforwardCmd.Flags().StringVarP(&btBarsPath, "bars", "b", "", "path to bar CSV (time,open,high,low,close,volume)")
	walkforwardCmd.Flags().IntVar(&wfSimBars, "sim-bars", 10_000, "synthetic bars when no CSV is given")
	walkforwardCmd.Flags().Int64Var(&btSimSeed, "sim-seed", 1, "synthetic data seed")
	walkforwardCmd.Flags().IntVar(&wfFolds, "folds", 0, "override the configured fold count")
}

func runWalkforwardCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if wfFolds > 0 {
		cfg.Backtest.Folds = wfFolds
	}

	btSimBars = wfSimBars
	bars, err := loadBars()
	if err != nil {
		return err
	}

	fmt.Printf("Walk-forward: %d bars, %d folds, train ratio %.0f%%\n\n",
		len(bars), cfg.Backtest.Folds, cfg.Backtest.TrainRatio*100)

	ev := &backtest.Evaluator{Config: cfg}
	res, err := ev.Run(context.Background(), bars)
	if err != nil {
		return err
	}

	fmt.Printf("%-6s %-7s %-6s %-8s %-12s %-7s %-7s %-8s\n",
		"Fold", "Train", "Test", "Trades", "P&L", "Win%", "PF", "MaxDD")
	for _, f := range res.Folds {
		fmt.Printf("#%-5d %-7d %-6d %-8d $%-11.2f %-6.1f%% %-7s $%-7.2f\n",
			f.Fold, f.TrainBars, f.TestBars, f.TotalTrades, f.NetPnL,
			f.WinRate*100, pf(f.ProfitFactor), f.MaxDrawdown)
	}

	fmt.Println()
	fmt.Printf("Overall: %d trades | $%.2f | win %.1f%% | PF %s | maxDD $%.2f | sharpe %.2f\n",
		res.TotalTrades, res.NetPnL, res.WinRate*100, pf(res.ProfitFactor),
		res.MaxDrawdown, res.Sharpe)

	return nil
}

func pf(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", v)
}
