// Package journal is the durable append-only store behind the engine:
// trades, signal events, engine snapshots and daily summaries. One writer
// (the engine), any number of read-only consumers.
package journal

import (
	"time"

	"github.com/quantro/meanrev/ledger"
	"github.com/quantro/meanrev/signal"
)

// TradeRecord is a persisted closed trade.
type TradeRecord struct {
	TradeID     string
	Symbol      string
	Side        ledger.Side
	Size        int
	EntryPrice  float64
	ExitPrice   float64
	OpenTime    time.Time
	CloseTime   time.Time
	RealizedPnL float64
	ZOnEntry    float64
	ZOnExit     float64
	Reason      ledger.CloseReason
}

// SignalRecord is a persisted signal event. SuppressedReason is set when
// the risk gate denied the intent or a broker-side close superseded it.
type SignalRecord struct {
	Time             time.Time
	Kind             signal.Kind
	Price            float64
	Z                float64
	Volume           int64
	SuppressedReason string
}

// SnapshotRecord carries a serialised engine snapshot together with the
// fingerprint and content hash that guard restarts.
type SnapshotRecord struct {
	LastBarTime time.Time
	Fingerprint string
	ContentHash string
	State       []byte // JSON-encoded engine snapshot
}

// DailySummary aggregates one trading session.
type DailySummary struct {
	Date        string
	Trades      int
	Wins        int
	Losses      int
	PnL         float64
	MaxDrawdown float64
}

// Journal is the write side of the store. Appends are durable before they
// return: a failed append must not be acknowledged as processed.
type Journal interface {
	AppendTrade(TradeRecord) error
	AppendSignal(SignalRecord) error
	AppendSnapshot(SnapshotRecord) error
	UpsertDailySummary(DailySummary) error
	Close() error
}

// Noop discards everything. Backtests use it when persistence is not
// requested; it keeps the engine's write path identical either way.
type Noop struct{}

func (Noop) AppendTrade(TradeRecord) error         { return nil }
func (Noop) AppendSignal(SignalRecord) error       { return nil }
func (Noop) AppendSnapshot(SnapshotRecord) error   { return nil }
func (Noop) UpsertDailySummary(DailySummary) error { return nil }
func (Noop) Close() error                          { return nil }

var _ Journal = Noop{}
