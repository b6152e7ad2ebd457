package journal

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is the embedded single-file store. WAL keeps concurrent readers
// cheap; synchronous=FULL makes every append durable before it returns,
// which is what lets the engine acknowledge a bar only after its writes
// landed.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and applies the schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer by contract; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) AppendTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(trade_id, symbol, side, size, entry_price, exit_price, open_time, close_time, realized_pnl, z_entry, z_exit, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.Symbol, t.Side.String(), t.Size, t.EntryPrice, t.ExitPrice,
		t.OpenTime, t.CloseTime, t.RealizedPnL, t.ZOnEntry, t.ZOnExit, string(t.Reason),
	)
	if err != nil {
		return fmt.Errorf("append trade: %w", err)
	}
	return nil
}

func (j *SQLite) AppendSignal(s SignalRecord) error {
	var suppressed any
	if s.SuppressedReason != "" {
		suppressed = s.SuppressedReason
	}
	_, err := j.db.Exec(`
		INSERT INTO signals (time, kind, price, z, volume, suppressed_reason)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.Time, string(s.Kind), s.Price, s.Z, s.Volume, suppressed,
	)
	if err != nil {
		return fmt.Errorf("append signal: %w", err)
	}
	return nil
}

func (j *SQLite) AppendSnapshot(s SnapshotRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO snapshots (last_bar_time, fingerprint, content_hash, state)
		VALUES (?, ?, ?, ?)`,
		s.LastBarTime, s.Fingerprint, s.ContentHash, s.State,
	)
	if err != nil {
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

func (j *SQLite) UpsertDailySummary(d DailySummary) error {
	_, err := j.db.Exec(`
		INSERT INTO daily_summary (date, trades, wins, losses, pnl, max_drawdown)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			trades = excluded.trades,
			wins = excluded.wins,
			losses = excluded.losses,
			pnl = excluded.pnl,
			max_drawdown = excluded.max_drawdown`,
		d.Date, d.Trades, d.Wins, d.Losses, d.PnL, d.MaxDrawdown,
	)
	if err != nil {
		return fmt.Errorf("upsert daily summary: %w", err)
	}
	return nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

var _ Journal = (*SQLite)(nil)
