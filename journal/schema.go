// journal/schema.go
package journal

const Schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	size INTEGER NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	realized_pnl REAL NOT NULL,
	z_entry REAL NOT NULL,
	z_exit REAL NOT NULL,
	reason TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_close_time ON trades(close_time);

CREATE TABLE IF NOT EXISTS signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	time DATETIME NOT NULL,
	kind TEXT NOT NULL,
	price REAL NOT NULL,
	z REAL NOT NULL,
	volume INTEGER NOT NULL,
	suppressed_reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_signals_time ON signals(time);

CREATE TABLE IF NOT EXISTS snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	last_bar_time DATETIME NOT NULL,
	fingerprint TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	state BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_fingerprint ON snapshots(fingerprint, id);

CREATE TABLE IF NOT EXISTS daily_summary (
	date TEXT PRIMARY KEY,
	trades INTEGER NOT NULL DEFAULT 0,
	wins INTEGER NOT NULL DEFAULT 0,
	losses INTEGER NOT NULL DEFAULT 0,
	pnl REAL NOT NULL DEFAULT 0,
	max_drawdown REAL NOT NULL DEFAULT 0
);
`
