package journal

import (
	"database/sql"
	"fmt"
	"time"
)

const tradeColumns = `trade_id, symbol, side, size, entry_price, exit_price, open_time, close_time, realized_pnl, z_entry, z_exit, reason`

func scanTrade(scan func(dest ...any) error) (TradeRecord, error) {
	var rec TradeRecord
	var side, reason string
	err := scan(
		&rec.TradeID, &rec.Symbol, &side, &rec.Size,
		&rec.EntryPrice, &rec.ExitPrice, &rec.OpenTime, &rec.CloseTime,
		&rec.RealizedPnL, &rec.ZOnEntry, &rec.ZOnExit, &reason,
	)
	if err != nil {
		return TradeRecord{}, err
	}
	rec.Side = sideFromString(side)
	rec.Reason = reasonFromString(reason)
	return rec, nil
}

// RecentTrades returns the most recent n closed trades, newest first.
func (j *SQLite) RecentTrades(n int) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+tradeColumns+`
		FROM trades
		ORDER BY close_time DESC
		LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

// TradesClosedBetween returns trades whose close_time is within [start, end).
func (j *SQLite) TradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT `+tradeColumns+`
		FROM trades
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTrades(rows)
}

func collectTrades(rows *sql.Rows) ([]TradeRecord, error) {
	var out []TradeRecord
	for rows.Next() {
		rec, err := scanTrade(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SignalsBetween returns signal events within [start, end), oldest first.
func (j *SQLite) SignalsBetween(start, end time.Time) ([]SignalRecord, error) {
	rows, err := j.db.Query(`
		SELECT time, kind, price, z, volume, suppressed_reason
		FROM signals
		WHERE time >= ? AND time < ?
		ORDER BY time ASC, id ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var rec SignalRecord
		var kind string
		var suppressed sql.NullString
		if err := rows.Scan(&rec.Time, &kind, &rec.Price, &rec.Z, &rec.Volume, &suppressed); err != nil {
			return nil, err
		}
		rec.Kind = kindFromString(kind)
		rec.SuppressedReason = suppressed.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LatestSnapshot returns the most recent snapshot for the given config
// fingerprint, or (zero, false) when none exists.
func (j *SQLite) LatestSnapshot(fingerprint string) (SnapshotRecord, bool, error) {
	row := j.db.QueryRow(`
		SELECT last_bar_time, fingerprint, content_hash, state
		FROM snapshots
		WHERE fingerprint = ?
		ORDER BY id DESC
		LIMIT 1`, fingerprint)

	var rec SnapshotRecord
	err := row.Scan(&rec.LastBarTime, &rec.Fingerprint, &rec.ContentHash, &rec.State)
	if err == sql.ErrNoRows {
		return SnapshotRecord{}, false, nil
	}
	if err != nil {
		return SnapshotRecord{}, false, err
	}
	return rec, true, nil
}

// GetDailySummary returns the aggregate for one session date.
func (j *SQLite) GetDailySummary(date string) (DailySummary, error) {
	row := j.db.QueryRow(`
		SELECT date, trades, wins, losses, pnl, max_drawdown
		FROM daily_summary
		WHERE date = ?`, date)

	var d DailySummary
	err := row.Scan(&d.Date, &d.Trades, &d.Wins, &d.Losses, &d.PnL, &d.MaxDrawdown)
	if err == sql.ErrNoRows {
		return DailySummary{}, fmt.Errorf("daily summary for %q not found", date)
	}
	if err != nil {
		return DailySummary{}, err
	}
	return d, nil
}

// DailySummaries returns all session aggregates, oldest first.
func (j *SQLite) DailySummaries() ([]DailySummary, error) {
	rows, err := j.db.Query(`
		SELECT date, trades, wins, losses, pnl, max_drawdown
		FROM daily_summary
		ORDER BY date ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailySummary
	for rows.Next() {
		var d DailySummary
		if err := rows.Scan(&d.Date, &d.Trades, &d.Wins, &d.Losses, &d.PnL, &d.MaxDrawdown); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
