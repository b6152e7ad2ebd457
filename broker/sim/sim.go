// Package sim implements a deterministic simulated broker. Orders fill at
// the current bar close (plus slippage), and protective stop/take levels are
// evaluated against each subsequent bar's range, the way a resting order at
// the exchange would fill.
package sim

import (
	"context"
	"fmt"
	"time"

	"github.com/quantro/meanrev/broker"
	"github.com/quantro/meanrev/market"
)

// Tiebreak picks the fill when a bar's range reaches both the stop and the
// take level. StopFirst is the conservative default: assume the adverse
// excursion came first.
type Tiebreak string

const (
	StopFirst Tiebreak = "StopFirst"
	TakeFirst Tiebreak = "TakeFirst"
)

type position struct {
	symbol     string
	size       int // positive long, negative short
	entryPrice float64
	stop       float64
	take       float64
}

// Broker is the simulated broker. It is single-threaded by contract: the
// driver interleaves UpdateBar and order calls, never concurrently.
type Broker struct {
	symbol   string
	slippage float64
	tiebreak Tiebreak

	connected bool
	bar       market.Bar
	haveBar   bool
	pos       *position

	onFill func(broker.Fill)
	onBar  func(market.Bar)
}

// New builds a simulated broker for one symbol. slippage is an absolute
// price offset applied against the aggressor on every market fill.
func New(symbol string, slippage float64, tiebreak Tiebreak) *Broker {
	if tiebreak == "" {
		tiebreak = StopFirst
	}
	return &Broker{symbol: symbol, slippage: slippage, tiebreak: tiebreak}
}

func (b *Broker) Connect(ctx context.Context) error {
	b.connected = true
	return nil
}

func (b *Broker) Disconnect() error {
	b.connected = false
	return nil
}

func (b *Broker) IsConnected() bool { return b.connected }

func (b *Broker) OnFill(fn func(broker.Fill)) { b.onFill = fn }

// SubscribeBars registers the bar consumer. UpdateBar forwards each bar to
// it after protective orders have been evaluated, mirroring the ordering a
// live broker provides.
func (b *Broker) SubscribeBars(ctx context.Context, symbol, timeframe string, onBar func(market.Bar)) error {
	if symbol != b.symbol {
		return broker.ErrUnknownSymbol
	}
	b.onBar = onBar
	return nil
}

// UpdateBar advances the simulation clock. Protective levels of a position
// opened on an earlier bar are checked against this bar's range before the
// bar is forwarded to the subscriber.
func (b *Broker) UpdateBar(bar market.Bar) {
	b.bar = bar
	b.haveBar = true

	b.evaluateProtective(bar)

	if b.onBar != nil {
		b.onBar(bar)
	}
}

func (b *Broker) evaluateProtective(bar market.Bar) {
	p := b.pos
	if p == nil {
		return
	}

	long := p.size > 0
	stopHit := false
	takeHit := false
	if long {
		stopHit = p.stop > 0 && bar.Low <= p.stop
		takeHit = p.take > 0 && bar.High >= p.take
	} else {
		stopHit = p.stop > 0 && bar.High >= p.stop
		takeHit = p.take > 0 && bar.Low <= p.take
	}

	if !stopHit && !takeHit {
		return
	}

	reason := "StopLoss"
	level := p.stop
	if takeHit && (!stopHit || b.tiebreak == TakeFirst) {
		reason = "TakeProfit"
		level = p.take
	}

	// Closing a long sells, closing a short buys.
	side := broker.Sell
	fillPrice := level - b.slippage
	if !long {
		side = broker.Buy
		fillPrice = level + b.slippage
	}

	size := p.size
	if size < 0 {
		size = -size
	}
	b.pos = nil

	b.emit(broker.Fill{
		Symbol: p.symbol,
		Side:   side,
		Size:   size,
		Price:  fillPrice,
		Time:   bar.Time,
		Reason: reason,
	})
}

// PlaceMarketOrder fills immediately at the current bar close adjusted for
// slippage and delivers the fill synchronously through the OnFill callback.
func (b *Broker) PlaceMarketOrder(ctx context.Context, req broker.MarketOrderRequest) error {
	if !b.connected {
		return broker.ErrDisconnected
	}
	if req.Symbol != b.symbol {
		return broker.ErrUnknownSymbol
	}
	if !b.haveBar {
		return fmt.Errorf("sim: no market data yet: %w", broker.ErrRejected)
	}
	if req.Size <= 0 {
		return fmt.Errorf("sim: size must be positive: %w", broker.ErrRejected)
	}

	buying := req.Side == broker.Buy
	fillPrice := b.bar.Close + b.slippage
	if !buying {
		fillPrice = b.bar.Close - b.slippage
	}

	signed := req.Size
	if !buying {
		signed = -req.Size
	}

	if b.pos == nil {
		b.pos = &position{
			symbol:     req.Symbol,
			size:       signed,
			entryPrice: fillPrice,
			stop:       req.Stop,
			take:       req.Take,
		}
	} else {
		b.pos.size += signed
		if b.pos.size == 0 {
			b.pos = nil
		}
	}

	b.emit(broker.Fill{
		IntentID: req.IntentID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Size:     req.Size,
		Price:    fillPrice,
		Time:     b.bar.Time,
	})
	return nil
}

// Cancel is a no-op: simulated market orders fill synchronously, so there
// is never an outstanding intent to cancel.
func (b *Broker) Cancel(ctx context.Context, intentID string) error { return nil }

func (b *Broker) Positions(ctx context.Context) ([]broker.PositionReport, error) {
	if b.pos == nil {
		return nil, nil
	}
	return []broker.PositionReport{{
		Symbol:     b.pos.symbol,
		Size:       b.pos.size,
		EntryPrice: b.pos.entryPrice,
	}}, nil
}

// ForcePosition seeds an open position directly. Restart-reconciliation
// tests use it to model a broker that disagrees with the snapshot.
func (b *Broker) ForcePosition(symbol string, size int, entryPrice float64) {
	if size == 0 {
		b.pos = nil
		return
	}
	b.pos = &position{symbol: symbol, size: size, entryPrice: entryPrice}
}

// LastBarTime exposes the simulation clock.
func (b *Broker) LastBarTime() time.Time { return b.bar.Time }

func (b *Broker) emit(f broker.Fill) {
	if b.onFill != nil {
		b.onFill(f)
	}
}

var _ broker.Broker = (*Broker)(nil)
