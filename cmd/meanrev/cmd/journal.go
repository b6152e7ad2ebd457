package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quantro/meanrev/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the trade journal",
	RunE:  runJournalCmd,
}

var (
	jnDBPath string
	jnLimit  int
	jnDaily  bool
	jnExport string
)

func init() {
	rootCmd.AddCommand(journalCmd)

	journalCmd.Flags().StringVarP(&jnDBPath, "db", "d", "", "path to the SQLite journal (defaults to the configured one)")
	journalCmd.Flags().IntVarP(&jnLimit, "limit", "n", 20, "number of recent trades to show")
	journalCmd.Flags().BoolVar(&jnDaily, "daily", false, "show daily summaries instead of trades")
	journalCmd.Flags().StringVar(&jnExport, "export", "", "write the shown trades to a CSV file")
}

func runJournalCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := jnDBPath
	if path == "" {
		path = cfg.Journal.DBPath
	}

	store, err := journal.NewSQLite(path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()

	if jnDaily {
		summaries, err := store.DailySummaries()
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			fmt.Println("No daily summaries recorded.")
			return nil
		}
		fmt.Printf("%-12s %-8s %-6s %-7s %-12s %-10s\n", "Date", "Trades", "Wins", "Losses", "P&L", "MaxDD")
		for _, d := range summaries {
			fmt.Printf("%-12s %-8d %-6d %-7d $%-11.2f $%-9.2f\n",
				d.Date, d.Trades, d.Wins, d.Losses, d.PnL, d.MaxDrawdown)
		}
		return nil
	}

	trades, err := store.RecentTrades(jnLimit)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		fmt.Println("No trades recorded.")
		return nil
	}

	fmt.Printf("%-17s %-5s %-4s %-10s %-10s %-10s %-12s %s\n",
		"Closed", "Side", "Size", "Entry", "Exit", "P&L", "Reason", "ID")
	for _, t := range trades {
		fmt.Printf("%-17s %-5s %-4d %-10.2f %-10.2f $%-9.2f %-12s %s\n",
			t.CloseTime.Format("2006-01-02 15:04"), t.Side, t.Size,
			t.EntryPrice, t.ExitPrice, t.RealizedPnL, t.Reason, t.TradeID)
	}

	if jnExport != "" {
		if err := journal.ExportTradesCSV(jnExport, trades); err != nil {
			return fmt.Errorf("export: %w", err)
		}
		fmt.Printf("\nTrades written to %s\n", jnExport)
	}
	return nil
}
