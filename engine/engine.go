// Package engine drives the per-symbol trading state machine. Bars and
// broker fills are its only inputs; signals, risk checks, ledger updates
// and journal appends all happen inside OnBar in a fixed order, which is
// what makes live and backtest runs behave identically.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/quantro/meanrev/alerts"
	"github.com/quantro/meanrev/broker"
	"github.com/quantro/meanrev/calendar"
	"github.com/quantro/meanrev/config"
	"github.com/quantro/meanrev/journal"
	"github.com/quantro/meanrev/ledger"
	"github.com/quantro/meanrev/market"
	"github.com/quantro/meanrev/pkg/id"
	"github.com/quantro/meanrev/risk"
	"github.com/quantro/meanrev/signal"
)

// Phase is the engine state. Idle and Open are stable; Entering and
// Exiting are transient while an intent is outstanding at the broker.
type Phase string

const (
	Idle     Phase = "Idle"
	Entering Phase = "Entering"
	Open     Phase = "Open"
	Exiting  Phase = "Exiting"
)

// suppression reasons recorded on signal events.
const (
	suppressedMarketClosed = "MarketClosed"
	suppressedSuperseded   = "Superseded"
	suppressedPositionOpen = "PositionOpen"
)

// pendingKind distinguishes what an outstanding intent will do on fill.
type pendingKind int

const (
	pendingEntry pendingKind = iota
	pendingExit
	pendingReconcileFlatten
)

type pendingIntent struct {
	id         string
	kind       pendingKind
	side       ledger.Side // entry side, or side being closed
	size       int
	submitted  time.Time
	entryZ     float64
	stop       float64
	take       float64
	exitReason ledger.CloseReason
}

// Options wires an engine. Journal, Calendar and Alerts default to no-ops.
// NewID defaults to time-sortable ULIDs; the backtest driver injects a
// deterministic sequence so identical runs produce identical trade lists.
type Options struct {
	Config   *config.Config
	Broker   broker.Broker
	Journal  journal.Journal
	Calendar calendar.Calendar
	Alerts   alerts.Notifier
	NewID    func() string
}

// Engine is the single-threaded per-symbol core. Not goroutine-safe: one
// logical task advances it, and broker fills are delivered synchronously
// within OnBar or pumped by the same task.
type Engine struct {
	cfg    *config.Config
	gen    *signal.Generator
	led    *ledger.Ledger
	gate   *risk.Gate
	brk    broker.Broker
	store  journal.Journal
	cal    calendar.Calendar
	notify alerts.Notifier

	phase       Phase
	lastBarTime time.Time
	pending     *pendingIntent
	lastZ       float64

	// closedThisBar marks that a fill closed the position since the last
	// OnBar completed; the bar's exit signal is then superseded.
	closedThisBar bool

	// deferredErr carries a store failure out of the fill callback; the
	// engine refuses new bars until it is cleared.
	deferredErr error

	brokerErrors int

	// session aggregates for the daily summary
	sessionTrades int
	sessionWins   int
	sessionLosses int
	sessionEquity float64
	sessionPeak   float64
	sessionMaxDD  float64

	onTrade func(ledger.Trade)
	newID   func() string
}

// New builds an engine from validated configuration.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("engine: config is required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("engine: broker is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	gen, err := signal.NewGenerator(cfg.Strategy.Lookback, signal.Params{
		ZEntry:      cfg.Strategy.ZEntry,
		ZExit:       cfg.Strategy.ZExit,
		MinVolume:   cfg.Strategy.MinVolume,
		TrendPeriod: cfg.Strategy.TrendFilterPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	led, err := ledger.New(cfg.Multiplier(), cfg.Execution.CommissionPerSide)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	gate, err := risk.NewGate(risk.Limits{
		MaxDailyLoss:         cfg.Risk.MaxDailyLoss,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		Cooldown:             cfg.Cooldown(),
		MaxDailyTrades:       cfg.Risk.MaxDailyTrades,
		MaxPositionDuration:  cfg.MaxPositionDuration(),
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		cfg:    cfg,
		gen:    gen,
		led:    led,
		gate:   gate,
		brk:    opts.Broker,
		store:  opts.Journal,
		cal:    opts.Calendar,
		notify: opts.Alerts,
		phase:  Idle,
	}
	if e.store == nil {
		e.store = journal.Noop{}
	}
	if e.cal == nil {
		e.cal = calendar.AlwaysOpen{}
	}
	if e.notify == nil {
		e.notify = alerts.Noop{}
	}
	e.newID = opts.NewID
	if e.newID == nil {
		e.newID = id.New
	}

	e.brk.OnFill(e.handleFill)
	return e, nil
}

// SetTradeHook registers a callback invoked for every closed trade. The
// backtest driver collects trades through it.
func (e *Engine) SetTradeHook(fn func(ledger.Trade)) { e.onTrade = fn }

// Phase returns the current state.
func (e *Engine) Phase() Phase { return e.phase }

// LastBarTime returns the monotonic bar clock.
func (e *Engine) LastBarTime() time.Time { return e.lastBarTime }

// Gate exposes the risk gate (read-mostly; tests and the CLI status use it).
func (e *Engine) Gate() *risk.Gate { return e.gate }

// Ledger exposes the position ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.led }

// Generator exposes the signal generator, mainly for seeding.
func (e *Engine) Generator() *signal.Generator { return e.gen }

// OnBar processes one bar through the full pipeline. The bar is
// acknowledged only if every store append for it succeeded; on a store
// failure the same error is returned for every subsequent call until the
// operator intervenes.
func (e *Engine) OnBar(ctx context.Context, bar market.Bar) error {
	if e.deferredErr != nil {
		return fmt.Errorf("engine: store unhealthy, refusing bars: %w", e.deferredErr)
	}

	if err := bar.Validate(); err != nil {
		log.Printf("[WARN] engine: rejecting invalid bar: %v", err)
		return nil
	}
	if !bar.Time.After(e.lastBarTime) {
		log.Printf("[WARN] engine: rejecting out-of-order bar %s (last %s)",
			bar.Time.Format(time.RFC3339), e.lastBarTime.Format(time.RFC3339))
		return nil
	}

	// An intent that outlived the fill timeout means the broker link is
	// not trustworthy: halt rather than trade blind.
	if e.pending != nil && bar.Time.Sub(e.pending.submitted) > e.cfg.BrokerFillTimeout() {
		log.Printf("[ERROR] engine: intent %s unresolved past fill timeout", e.pending.id)
		e.gate.Halt(risk.ReasonBrokerTimeout)
		e.notify.CircuitBreaker(string(risk.ReasonBrokerTimeout))
		e.pending = nil
		e.syncPhase()
	}

	e.lastBarTime = bar.Time
	e.rollSession(bar.Time)

	marketOpen := e.cal.IsOpen(bar.Time)

	// Duration cap: force the position flat before considering signals.
	if e.phase == Open && e.gate.CheckDuration(bar.Time) {
		log.Printf("[WARN] engine: position exceeded max duration, force closing")
		e.submitExit(ctx, bar, ledger.ReasonDurationCap)
	}

	// The window updates on every bar, including closed-market ones, so
	// the statistics stay calibrated across gaps.
	sig, err := e.gen.OnBar(bar)
	if err != nil {
		log.Printf("[WARN] engine: rejecting bar: %v", err)
		return nil
	}
	e.lastZ = sig.Z

	suppressed := e.actOnSignal(ctx, bar, sig, marketOpen)

	if err := e.store.AppendSignal(journal.SignalRecord{
		Time:             sig.Time,
		Kind:             sig.Kind,
		Price:            sig.Price,
		Z:                sig.Z,
		Volume:           sig.Volume,
		SuppressedReason: suppressed,
	}); err != nil {
		e.deferredErr = err
		return fmt.Errorf("engine: append signal: %w", err)
	}

	// Sync the generator's position view only after the bar's signal is
	// on record: a stop-out during this bar must supersede, not erase,
	// the bar's exit signal.
	e.closedThisBar = false
	e.syncView()

	if e.deferredErr != nil {
		return fmt.Errorf("engine: %w", e.deferredErr)
	}
	return nil
}

// actOnSignal translates the signal into an order intent under the
// pre-trade gate. It returns the suppression reason recorded on the
// signal event, empty when the signal was acted on (or was Hold).
func (e *Engine) actOnSignal(ctx context.Context, bar market.Bar, sig signal.Signal, marketOpen bool) string {
	if sig.Kind == signal.Hold {
		return ""
	}

	if !marketOpen {
		return suppressedMarketClosed
	}

	switch {
	case sig.Entry():
		if e.phase != Idle {
			if e.closedThisBar {
				return suppressedSuperseded
			}
			return suppressedPositionOpen
		}
		decision := e.gate.CanTrade(bar.Time)
		if !decision.Allowed {
			log.Printf("[INFO] engine: signal %s suppressed: %s (%s)", sig.Kind, decision.Reason, decision.Detail)
			return string(decision.Reason)
		}
		e.submitEntry(ctx, bar, sig)
		return ""

	case sig.Exit():
		if e.phase != Open {
			// Typically a stop/take or duration close beat the Z-exit to it
			// on this same bar.
			return suppressedSuperseded
		}
		e.submitExit(ctx, bar, ledger.ReasonZExit)
		return ""
	}

	return ""
}

func (e *Engine) submitEntry(ctx context.Context, bar market.Bar, sig signal.Signal) {
	side := ledger.Long
	orderSide := broker.Buy
	if sig.Kind == signal.EnterShort {
		side = ledger.Short
		orderSide = broker.Sell
	}

	size := e.cfg.Execution.Size
	stop, take := e.protectiveLevels(side, bar.Close, size)

	intent := &pendingIntent{
		id:        e.newID(),
		kind:      pendingEntry,
		side:      side,
		size:      size,
		submitted: bar.Time,
		entryZ:    sig.Z,
		stop:      stop,
		take:      take,
	}

	e.pending = intent
	e.phase = Entering

	err := e.brk.PlaceMarketOrder(ctx, broker.MarketOrderRequest{
		IntentID: intent.id,
		Symbol:   e.cfg.Symbol,
		Side:     orderSide,
		Size:     size,
		Stop:     stop,
		Take:     take,
	})
	if err != nil {
		e.handleSubmitError(err)
		return
	}

	e.snapshot()
}

func (e *Engine) submitExit(ctx context.Context, bar market.Bar, reason ledger.CloseReason) {
	pos, ok := e.led.Position()
	if !ok {
		return
	}

	orderSide := broker.Sell
	if pos.Side == ledger.Short {
		orderSide = broker.Buy
	}

	intent := &pendingIntent{
		id:         e.newID(),
		kind:       pendingExit,
		side:       pos.Side,
		size:       pos.Size,
		submitted:  bar.Time,
		exitReason: reason,
	}

	e.pending = intent
	e.phase = Exiting

	err := e.brk.PlaceMarketOrder(ctx, broker.MarketOrderRequest{
		IntentID: intent.id,
		Symbol:   e.cfg.Symbol,
		Side:     orderSide,
		Size:     pos.Size,
	})
	if err != nil {
		e.handleSubmitError(err)
		return
	}

	e.snapshot()
}

// protectiveLevels converts the configured dollar amounts into price
// levels for the given entry.
func (e *Engine) protectiveLevels(side ledger.Side, price float64, size int) (stop, take float64) {
	perPoint := e.cfg.Multiplier() * float64(size)

	if e.cfg.Risk.StopLossAmount > 0 {
		offset := e.cfg.Risk.StopLossAmount / perPoint
		if side == ledger.Long {
			stop = price - offset
		} else {
			stop = price + offset
		}
	}
	if e.cfg.Risk.TakeProfitAmount > 0 {
		offset := e.cfg.Risk.TakeProfitAmount / perPoint
		if side == ledger.Long {
			take = price + offset
		} else {
			take = price - offset
		}
	}
	return stop, take
}

func (e *Engine) handleSubmitError(err error) {
	e.pending = nil
	e.syncPhase()

	switch {
	case errors.Is(err, broker.ErrAuth), errors.Is(err, broker.ErrUnknownSymbol):
		log.Printf("[ERROR] engine: permanent broker failure: %v", err)
		e.gate.Halt(risk.ReasonBrokerUnavailable)
		e.notify.CircuitBreaker(string(risk.ReasonBrokerUnavailable))
	default:
		e.brokerErrors++
		log.Printf("[WARN] engine: order submit failed (%d consecutive): %v", e.brokerErrors, err)
		if e.brokerErrors >= 3 {
			e.gate.Halt(risk.ReasonBrokerUnavailable)
			e.notify.CircuitBreaker(string(risk.ReasonBrokerUnavailable))
		}
	}
}

// handleFill is the broker event input to the state machine.
func (e *Engine) handleFill(f broker.Fill) {
	// Broker-side protective closes arrive without an intent.
	if f.Reason != "" {
		e.handleProtectiveClose(f)
		return
	}

	if e.pending == nil || f.IntentID != e.pending.id {
		log.Printf("[WARN] engine: ignoring unexpected fill %q", f.IntentID)
		return
	}

	intent := e.pending
	e.pending = nil
	e.brokerErrors = 0

	switch intent.kind {
	case pendingEntry:
		err := e.led.Open(ledger.Position{
			Side:        intent.side,
			Size:        f.Size,
			EntryTime:   f.Time,
			EntryPrice:  f.Price,
			StopPrice:   intent.stop,
			TakePrice:   intent.take,
			EntryZ:      intent.entryZ,
			MaxDuration: e.cfg.MaxPositionDuration(),
		})
		if err != nil {
			// A fill that cannot be booked means the ledger and broker
			// disagree; trading on top of that would be guessing.
			log.Printf("[ERROR] engine: cannot book entry fill: %v", err)
			e.gate.Halt(risk.ReasonForceFlatten)
			return
		}
		e.gate.NotePositionOpened(f.Time)
		e.phase = Open
		e.notify.TradeEntry(e.cfg.Symbol, intent.side, f.Size, f.Price, intent.entryZ)
		log.Printf("[INFO] engine: opened %s %d @ %.2f (Z=%.2f)", intent.side, f.Size, f.Price, intent.entryZ)
		e.snapshot()

	case pendingExit:
		trade, err := e.led.Close(intent.id, f.Price, f.Time, e.lastZ, intent.exitReason)
		if err != nil {
			log.Printf("[ERROR] engine: cannot book exit fill: %v", err)
			e.gate.Halt(risk.ReasonForceFlatten)
			return
		}
		e.phase = Idle
		e.finishClose(trade)

	case pendingReconcileFlatten:
		log.Printf("[INFO] engine: reconciliation flatten filled @ %.2f", f.Price)
		e.phase = Idle
		e.snapshot()
	}
}

// handleProtectiveClose books a stop-loss or take-profit fill reported by
// the broker.
func (e *Engine) handleProtectiveClose(f broker.Fill) {
	reason := ledger.ReasonStopLoss
	if f.Reason == "TakeProfit" {
		reason = ledger.ReasonTakeProfit
	}

	trade, err := e.led.Close(e.newID(), f.Price, f.Time, e.lastZ, reason)
	if err != nil {
		log.Printf("[WARN] engine: protective fill with no open position: %v", err)
		return
	}

	e.phase = Idle
	e.closedThisBar = true
	e.finishClose(trade)
}

// finishClose runs the post-trade pipeline: risk accounting, journal
// append, session aggregates, alert.
func (e *Engine) finishClose(trade ledger.Trade) {
	e.gate.Record(trade)
	e.gate.NotePositionClosed()

	e.sessionTrades++
	if trade.RealizedPnL >= 0 {
		e.sessionWins++
	} else {
		e.sessionLosses++
	}
	e.sessionEquity += trade.RealizedPnL
	if e.sessionEquity > e.sessionPeak {
		e.sessionPeak = e.sessionEquity
	}
	if dd := e.sessionPeak - e.sessionEquity; dd > e.sessionMaxDD {
		e.sessionMaxDD = dd
	}

	if halted, reason := e.gate.Halted(); halted {
		e.notify.CircuitBreaker(string(reason))
	}

	if err := e.store.AppendTrade(journal.TradeFromLedger(e.cfg.Symbol, trade)); err != nil {
		e.deferredErr = err
	}

	log.Printf("[INFO] engine: closed %s %d @ %.2f, P&L %.2f (%s)",
		trade.Side, trade.Size, trade.ExitPrice, trade.RealizedPnL, trade.Reason)
	e.notify.TradeExit(e.cfg.Symbol, trade)

	if e.onTrade != nil {
		e.onTrade(trade)
	}

	e.snapshot()
}

// rollSession fires the daily reset when the trading session changes.
func (e *Engine) rollSession(at time.Time) {
	session := e.cal.SessionDate(at)
	current := e.gate.SessionDate()

	if current == "" {
		e.gate.SetSessionDate(session)
		return
	}
	if session == current {
		return
	}

	e.flushDailySummary()
	e.gate.ResetDaily(session)
	e.sessionTrades, e.sessionWins, e.sessionLosses = 0, 0, 0
	e.sessionEquity, e.sessionPeak, e.sessionMaxDD = 0, 0, 0
}

// flushDailySummary persists and announces the finished session.
func (e *Engine) flushDailySummary() {
	date := e.gate.SessionDate()
	if date == "" {
		return
	}

	summary := journal.DailySummary{
		Date:        date,
		Trades:      e.sessionTrades,
		Wins:        e.sessionWins,
		Losses:      e.sessionLosses,
		PnL:         e.gate.SessionPnL(),
		MaxDrawdown: e.sessionMaxDD,
	}
	if err := e.store.UpsertDailySummary(summary); err != nil {
		e.deferredErr = err
		return
	}
	if e.sessionTrades > 0 {
		e.notify.DailySummary(date, summary.PnL, summary.Trades, summary.Wins, summary.Losses)
	}
}

// syncView aligns the generator's position view with the ledger.
func (e *Engine) syncView() {
	pos, ok := e.led.Position()
	switch {
	case !ok:
		e.gen.SetPosition(signal.Flat)
	case pos.Side == ledger.Long:
		e.gen.SetPosition(signal.Long)
	default:
		e.gen.SetPosition(signal.Short)
	}
}

// syncPhase derives the stable phase from the ledger after an aborted
// transition.
func (e *Engine) syncPhase() {
	if _, ok := e.led.Position(); ok {
		e.phase = Open
	} else {
		e.phase = Idle
	}
}

// Shutdown flattens any open position, waits for confirmation up to the
// configured timeout, persists a final snapshot and stops.
func (e *Engine) Shutdown(ctx context.Context, reason string) error {
	log.Printf("[INFO] engine: shutting down: %s", reason)

	if e.phase == Open {
		bar := market.Bar{Time: e.lastBarTime}
		e.submitExit(ctx, bar, ledger.ReasonForceFlatten)

		deadline := time.Now().Add(e.cfg.ShutdownFlattenTimeout())
		for e.pending != nil && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}
		if e.pending != nil {
			log.Printf("[ERROR] engine: flatten unconfirmed within timeout")
			e.gate.Halt(risk.ReasonForceFlatten)
			e.notify.CircuitBreaker(string(risk.ReasonForceFlatten))
			e.pending = nil
			e.syncPhase()
		}
	}

	e.flushDailySummary()
	e.snapshot()
	e.notify.Shutdown(reason)
	return e.deferredErr
}
