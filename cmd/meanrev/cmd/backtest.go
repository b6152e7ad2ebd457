package cmd

import (
	"context"
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"github.com/quantro/meanrev/backtest"
	"github.com/quantro/meanrev/feed"
	"github.com/quantro/meanrev/journal"
	"github.com/quantro/meanrev/market"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Backtest the strategy over recorded or synthetic bars",
	Long: `Backtest replays a bar sequence through the exact live pipeline
(signals, risk gate, ledger) against the simulated broker.

Example:
  meanrev backtest -c config.yaml --bars data/mes_5m.csv --export trades.csv`,
	RunE: runBacktestCmd,
}

var (
	btBarsPath string
	btSimBars  int
	btSimSeed  int64
	btExport   string
	btDBPath   string
)

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVarP(&btBarsPath, "bars", "b", "", "path to bar CSV (time,open,high,low,close,volume)")
	backtestCmd.Flags().IntVar(&btSimBars, "sim-bars", 5000, "synthetic bars when no CSV is given")
	backtestCmd.Flags().Int64Var(&btSimSeed, "sim-seed", 1, "synthetic data seed")
	backtestCmd.Flags().StringVar(&btExport, "export", "", "write the trade list to a CSV file")
	backtestCmd.Flags().StringVar(&btDBPath, "db", "", "persist the run to a SQLite journal")
}

func runBacktestCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	bars, err := loadBars()
	if err != nil {
		return err
	}

	driver := &backtest.Driver{Config: cfg}
	if btDBPath != "" {
		store, err := journal.NewSQLite(btDBPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer store.Close()
		driver.Journal = store
	}

	fmt.Printf("Running backtest: %s, %d bars, lookback %d, z %.2f/%.2f\n\n",
		cfg.Symbol, len(bars), cfg.Strategy.Lookback, cfg.Strategy.ZEntry, cfg.Strategy.ZExit)

	res, err := driver.Run(context.Background(), bars)
	if err != nil {
		return err
	}

	printResult(res)

	if btExport != "" {
		recs := make([]journal.TradeRecord, len(res.Trades))
		for i, t := range res.Trades {
			recs[i] = journal.TradeFromLedger(cfg.Symbol, t)
		}
		if err := journal.ExportTradesCSV(btExport, recs); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		fmt.Printf("\nTrades written to %s\n", btExport)
	}

	return nil
}

func loadBars() ([]market.Bar, error) {
	if btBarsPath != "" {
		f, err := feed.OpenCSV(btBarsPath)
		if err != nil {
			return nil, err
		}
		return feed.ReadAll(f)
	}

	fmt.Printf("No bar file given, generating %d synthetic bars (seed %d)\n", btSimBars, btSimSeed)
	return feed.GenerateBars(feed.SimulatorConfig{Bars: btSimBars, Seed: btSimSeed, StartPrice: 5000}), nil
}

func printResult(res backtest.Result) {
	fmt.Println("Backtest Complete!")
	fmt.Printf("  Period:         %s .. %s\n", res.Start.Format("2006-01-02 15:04"), res.End.Format("2006-01-02 15:04"))
	fmt.Printf("  Total Trades:   %d\n", res.TotalTrades)
	fmt.Printf("  Wins / Losses:  %d / %d\n", res.Wins, res.Losses)
	fmt.Printf("  Win Rate:       %.1f%%\n", res.WinRate*100)
	fmt.Printf("  Net P&L:        $%.2f\n", res.NetPnL)
	fmt.Printf("  Max Drawdown:   $%.2f\n", res.MaxDrawdown)
	if math.IsInf(res.ProfitFactor, 1) {
		fmt.Printf("  Profit Factor:  inf\n")
	} else {
		fmt.Printf("  Profit Factor:  %.2f\n", res.ProfitFactor)
	}
	fmt.Printf("  Sharpe (trade): %.2f\n", res.Sharpe)

	if n := len(res.Trades); n > 0 {
		fmt.Println("\nLast trades:")
		start := n - 10
		if start < 0 {
			start = 0
		}
		for _, t := range res.Trades[start:] {
			fmt.Printf("  %s | %-5s | $%8.2f | Z %5.2f -> %5.2f | %s\n",
				t.CloseTime.Format("2006-01-02 15:04"), t.Side, t.RealizedPnL,
				t.ZOnEntry, t.ZOnExit, t.Reason)
		}
	}
}
