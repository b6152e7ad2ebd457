package journal

import (
	"github.com/quantro/meanrev/ledger"
	"github.com/quantro/meanrev/signal"
)

func sideFromString(s string) ledger.Side {
	if s == "Short" {
		return ledger.Short
	}
	return ledger.Long
}

func reasonFromString(s string) ledger.CloseReason {
	return ledger.CloseReason(s)
}

func kindFromString(s string) signal.Kind {
	return signal.Kind(s)
}

// TradeFromLedger converts a closed ledger trade into its persisted form.
func TradeFromLedger(symbol string, t ledger.Trade) TradeRecord {
	return TradeRecord{
		TradeID:     t.ID,
		Symbol:      symbol,
		Side:        t.Side,
		Size:        t.Size,
		EntryPrice:  t.EntryPrice,
		ExitPrice:   t.ExitPrice,
		OpenTime:    t.OpenTime,
		CloseTime:   t.CloseTime,
		RealizedPnL: t.RealizedPnL,
		ZOnEntry:    t.ZOnEntry,
		ZOnExit:     t.ZOnExit,
		Reason:      t.Reason,
	}
}
