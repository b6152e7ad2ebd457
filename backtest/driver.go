// Package backtest replays recorded bars through the exact live pipeline:
// the same engine, signal generator and risk gate, against the simulated
// broker. Same bars and config in, byte-identical trades and metrics out.
package backtest

import (
	"context"
	"fmt"
	"time"

	sim "github.com/quantro/meanrev/broker/sim"
	"github.com/quantro/meanrev/calendar"
	"github.com/quantro/meanrev/config"
	"github.com/quantro/meanrev/engine"
	"github.com/quantro/meanrev/journal"
	"github.com/quantro/meanrev/ledger"
	"github.com/quantro/meanrev/market"
)

// Result is the outcome of one backtest run.
type Result struct {
	Trades      []ledger.Trade
	EquityCurve []float64

	TotalTrades int
	Wins        int
	Losses      int

	WinRate      float64
	ProfitFactor float64
	MaxDrawdown  float64
	Sharpe       float64
	NetPnL       float64

	Start time.Time
	End   time.Time
}

// Driver runs bar sequences through the engine. Journal is optional; when
// nil the run does not persist.
type Driver struct {
	Config  *config.Config
	Journal journal.Journal
}

// Run backtests the full bar slice.
func (d *Driver) Run(ctx context.Context, bars []market.Bar) (Result, error) {
	return d.RunSeeded(ctx, nil, bars)
}

// RunSeeded warms the rolling statistics from seed closes before replaying
// bars. The walk-forward evaluator seeds each fold from its reference
// window this way; risk state always starts fresh.
func (d *Driver) RunSeeded(ctx context.Context, seed []float64, bars []market.Bar) (Result, error) {
	if d.Config == nil {
		return Result{}, fmt.Errorf("backtest: config is required")
	}
	if len(bars) == 0 {
		return Result{}, fmt.Errorf("backtest: no bars")
	}

	cfg := d.Config

	slippage := 0.0
	if cfg.Backtest.SlippageEnabled {
		slippage = cfg.Slippage()
	}

	broker := sim.New(cfg.Symbol, slippage, sim.Tiebreak(cfg.Backtest.StopTakeTiebreak))
	if err := broker.Connect(ctx); err != nil {
		return Result{}, err
	}

	store := d.Journal
	if store == nil {
		store = journal.Noop{}
	}

	// Deterministic trade IDs: identical runs must produce identical
	// trade lists.
	seq := 0
	nextID := func() string {
		seq++
		return fmt.Sprintf("bt-%06d", seq)
	}

	eng, err := engine.New(engine.Options{
		Config:   cfg,
		Broker:   broker,
		Journal:  store,
		Calendar: calendar.AlwaysOpen{},
		NewID:    nextID,
	})
	if err != nil {
		return Result{}, err
	}

	if len(seed) > 0 {
		if err := eng.Generator().Seed(seed); err != nil {
			return Result{}, fmt.Errorf("backtest: seed: %w", err)
		}
	}

	var trades []ledger.Trade
	eng.SetTradeHook(func(t ledger.Trade) { trades = append(trades, t) })

	for _, b := range bars {
		broker.UpdateBar(b)
		if err := eng.OnBar(ctx, b); err != nil {
			return Result{}, err
		}
	}

	// Close out anything still open so every run accounts fully.
	if err := eng.Shutdown(ctx, "end of data"); err != nil {
		return Result{}, err
	}

	res := summarize(trades)
	res.Start = bars[0].Time
	res.End = bars[len(bars)-1].Time
	return res, nil
}
