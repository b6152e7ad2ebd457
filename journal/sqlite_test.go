package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantro/meanrev/ledger"
	"github.com/quantro/meanrev/signal"
)

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func openTestDB(t *testing.T) *SQLite {
	t.Helper()
	j, err := NewSQLite(filepath.Join(t.TempDir(), "journal.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func sampleTrade(id string, closeAt time.Time, pnl float64) TradeRecord {
	return TradeRecord{
		TradeID:     id,
		Symbol:      "MES",
		Side:        ledger.Long,
		Size:        1,
		EntryPrice:  5000,
		ExitPrice:   5000 + pnl/5,
		OpenTime:    closeAt.Add(-15 * time.Minute),
		CloseTime:   closeAt,
		RealizedPnL: pnl,
		ZOnEntry:    -2.1,
		ZOnExit:     0.3,
		Reason:      ledger.ReasonZExit,
	}
}

func TestTradeRoundTrip(t *testing.T) {
	j := openTestDB(t)

	want := sampleTrade("T1", t0, 25)
	require.NoError(t, j.AppendTrade(want))

	got, err := j.RecentTrades(10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, want.TradeID, got[0].TradeID)
	assert.Equal(t, want.Side, got[0].Side)
	assert.Equal(t, want.Reason, got[0].Reason)
	assert.Equal(t, want.RealizedPnL, got[0].RealizedPnL)
	assert.True(t, want.CloseTime.Equal(got[0].CloseTime))
}

func TestTradesClosedBetween(t *testing.T) {
	j := openTestDB(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, j.AppendTrade(sampleTrade(
			string(rune('A'+i)), t0.Add(time.Duration(i)*time.Hour), float64(i*10))))
	}

	got, err := j.TradesClosedBetween(t0.Add(time.Hour), t0.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2, "half-open interval [start, end)")
	assert.Equal(t, "B", got[0].TradeID)
	assert.Equal(t, "C", got[1].TradeID)
}

func TestRecentTradesOrderAndLimit(t *testing.T) {
	j := openTestDB(t)

	for i := 0; i < 4; i++ {
		require.NoError(t, j.AppendTrade(sampleTrade(
			string(rune('A'+i)), t0.Add(time.Duration(i)*time.Hour), 10)))
	}

	got, err := j.RecentTrades(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "D", got[0].TradeID, "newest first")
	assert.Equal(t, "C", got[1].TradeID)
}

func TestSignalRoundTrip(t *testing.T) {
	j := openTestDB(t)

	require.NoError(t, j.AppendSignal(SignalRecord{
		Time: t0, Kind: signal.EnterLong, Price: 4990, Z: -2.4, Volume: 350,
	}))
	require.NoError(t, j.AppendSignal(SignalRecord{
		Time: t0.Add(5 * time.Minute), Kind: signal.EnterShort, Price: 5010, Z: 2.2,
		Volume: 410, SuppressedReason: "DailyLoss",
	}))

	got, err := j.SignalsBetween(t0, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, signal.EnterLong, got[0].Kind)
	assert.Empty(t, got[0].SuppressedReason)
	assert.Equal(t, "DailyLoss", got[1].SuppressedReason)
}

func TestLatestSnapshotByFingerprint(t *testing.T) {
	j := openTestDB(t)

	_, ok, err := j.LatestSnapshot("cfg-a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, j.AppendSnapshot(SnapshotRecord{
		LastBarTime: t0, Fingerprint: "cfg-a", ContentHash: "h1", State: []byte(`{"v":1}`),
	}))
	require.NoError(t, j.AppendSnapshot(SnapshotRecord{
		LastBarTime: t0.Add(time.Hour), Fingerprint: "cfg-a", ContentHash: "h2", State: []byte(`{"v":2}`),
	}))
	require.NoError(t, j.AppendSnapshot(SnapshotRecord{
		LastBarTime: t0.Add(2 * time.Hour), Fingerprint: "cfg-b", ContentHash: "h3", State: []byte(`{"v":3}`),
	}))

	got, ok, err := j.LatestSnapshot("cfg-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "h2", got.ContentHash, "latest matching snapshot wins")
	assert.JSONEq(t, `{"v":2}`, string(got.State))
}

func TestDailySummaryUpsert(t *testing.T) {
	j := openTestDB(t)

	require.NoError(t, j.UpsertDailySummary(DailySummary{
		Date: "2024-03-04", Trades: 3, Wins: 2, Losses: 1, PnL: 75, MaxDrawdown: 40,
	}))
	// Second write for the same session replaces, not duplicates.
	require.NoError(t, j.UpsertDailySummary(DailySummary{
		Date: "2024-03-04", Trades: 5, Wins: 3, Losses: 2, PnL: 50, MaxDrawdown: 60,
	}))
	require.NoError(t, j.UpsertDailySummary(DailySummary{
		Date: "2024-03-05", Trades: 1, Wins: 1, PnL: 30,
	}))

	got, err := j.GetDailySummary("2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Trades)
	assert.Equal(t, 50.0, got.PnL)

	all, err := j.DailySummaries()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "2024-03-04", all[0].Date)

	_, err = j.GetDailySummary("2024-01-01")
	assert.Error(t, err)
}

func TestTradeFromLedger(t *testing.T) {
	lt := ledger.Trade{
		ID: "T9", OpenTime: t0, CloseTime: t0.Add(time.Hour),
		Side: ledger.Short, Size: 2, EntryPrice: 5010, ExitPrice: 5000,
		RealizedPnL: 100, ZOnEntry: 2.4, ZOnExit: -0.1, Reason: ledger.ReasonZExit,
	}

	rec := TradeFromLedger("MES", lt)
	assert.Equal(t, "T9", rec.TradeID)
	assert.Equal(t, "MES", rec.Symbol)
	assert.Equal(t, ledger.Short, rec.Side)
	assert.Equal(t, 100.0, rec.RealizedPnL)
}

func TestExportTradesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")

	trades := []TradeRecord{
		sampleTrade("T1", t0, 25),
		sampleTrade("T2", t0.Add(time.Hour), -15),
	}
	require.NoError(t, ExportTradesCSV(path, trades))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus two trades")
	assert.Equal(t, "trade_id", rows[0][0])
	assert.Equal(t, "T1", rows[1][0])
	assert.Equal(t, "25", rows[1][8])
}
