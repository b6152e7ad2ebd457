// journal/csv.go
package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

// ExportTradesCSV writes trade records to a CSV file, one row per closed
// trade. Used by the CLI to hand results to spreadsheets and notebooks.
func ExportTradesCSV(path string, trades []TradeRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)

	if err := w.Write([]string{
		"trade_id", "symbol", "side", "size", "entry_price", "exit_price",
		"open_time", "close_time", "realized_pnl", "z_entry", "z_exit", "reason",
	}); err != nil {
		return err
	}

	for _, t := range trades {
		if err := w.Write([]string{
			t.TradeID,
			t.Symbol,
			t.Side.String(),
			strconv.Itoa(t.Size),
			fp(t.EntryPrice),
			fp(t.ExitPrice),
			t.OpenTime.Format(time.RFC3339),
			t.CloseTime.Format(time.RFC3339),
			fp(t.RealizedPnL),
			fp(t.ZOnEntry),
			fp(t.ZOnExit),
			string(t.Reason),
		}); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}

func fp(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
