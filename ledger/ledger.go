package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Side of a position.
type Side int

const (
	Long Side = iota
	Short
)

func (s Side) String() string {
	if s == Short {
		return "Short"
	}
	return "Long"
}

// CloseReason records why a position was closed.
type CloseReason string

const (
	ReasonZExit        CloseReason = "ZExit"
	ReasonStopLoss     CloseReason = "StopLoss"
	ReasonTakeProfit   CloseReason = "TakeProfit"
	ReasonDurationCap  CloseReason = "DurationCap"
	ReasonForceFlatten CloseReason = "ForceFlatten"
	ReasonRiskHalt     CloseReason = "RiskHalt"
)

// Position is the single open position. At most one exists at any time;
// the Ledger enforces that.
type Position struct {
	Side        Side
	Size        int
	EntryTime   time.Time
	EntryPrice  float64
	StopPrice   float64
	TakePrice   float64
	EntryZ      float64
	MaxDuration time.Duration
}

// Trade is a closed round trip.
type Trade struct {
	ID          string
	OpenTime    time.Time
	CloseTime   time.Time
	Side        Side
	Size        int
	EntryPrice  float64
	ExitPrice   float64
	RealizedPnL float64
	ZOnEntry    float64
	ZOnExit     float64
	Reason      CloseReason
}

// Win reports whether the trade realized a non-negative P&L.
func (t Trade) Win() bool { return t.RealizedPnL >= 0 }

var (
	ErrPositionOpen = errors.New("ledger: position already open")
	ErrNoPosition   = errors.New("ledger: no open position")
)

// Ledger tracks the single open position and converts closes into Trades.
// The multiplier is the contract point value; commission is a constant
// additive cost per side, both in account currency.
type Ledger struct {
	multiplier float64
	commission float64
	pos        *Position
}

// New builds a ledger for a contract with the given point multiplier.
func New(multiplier, commissionPerSide float64) (*Ledger, error) {
	if multiplier <= 0 {
		return nil, fmt.Errorf("ledger: multiplier must be positive, got %v", multiplier)
	}
	if commissionPerSide < 0 {
		return nil, fmt.Errorf("ledger: commission must be >= 0, got %v", commissionPerSide)
	}
	return &Ledger{multiplier: multiplier, commission: commissionPerSide}, nil
}

// Multiplier returns the contract point value.
func (l *Ledger) Multiplier() float64 { return l.multiplier }

// Open records a fill that establishes a position.
func (l *Ledger) Open(p Position) error {
	if l.pos != nil {
		return ErrPositionOpen
	}
	if p.Size <= 0 {
		return fmt.Errorf("ledger: size must be a positive contract count, got %d", p.Size)
	}
	pos := p
	l.pos = &pos
	return nil
}

// Close records the closing fill, destroys the position and returns the
// resulting Trade. Realized P&L is (exit-entry)·size·multiplier for longs
// and (entry-exit)·size·multiplier for shorts, minus round-trip commission.
func (l *Ledger) Close(id string, price float64, at time.Time, zExit float64, reason CloseReason) (Trade, error) {
	if l.pos == nil {
		return Trade{}, ErrNoPosition
	}

	p := l.pos
	points := price - p.EntryPrice
	if p.Side == Short {
		points = p.EntryPrice - price
	}
	pnl := points*float64(p.Size)*l.multiplier - 2*l.commission

	trade := Trade{
		ID:          id,
		OpenTime:    p.EntryTime,
		CloseTime:   at,
		Side:        p.Side,
		Size:        p.Size,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   price,
		RealizedPnL: pnl,
		ZOnEntry:    p.EntryZ,
		ZOnExit:     zExit,
		Reason:      reason,
	}
	l.pos = nil
	return trade, nil
}

// Mark returns the unrealized P&L of the open position at price, zero when flat.
func (l *Ledger) Mark(price float64) float64 {
	if l.pos == nil {
		return 0
	}
	points := price - l.pos.EntryPrice
	if l.pos.Side == Short {
		points = l.pos.EntryPrice - price
	}
	return points * float64(l.pos.Size) * l.multiplier
}

// Duration returns how long the position has been open, zero when flat.
func (l *Ledger) Duration(now time.Time) time.Duration {
	if l.pos == nil {
		return 0
	}
	return now.Sub(l.pos.EntryTime)
}

// Position returns a copy of the open position, if any.
func (l *Ledger) Position() (Position, bool) {
	if l.pos == nil {
		return Position{}, false
	}
	return *l.pos, true
}

// Restore reinstates a position from a snapshot. Used only during engine
// restart reconciliation.
func (l *Ledger) Restore(p *Position) {
	if p == nil {
		l.pos = nil
		return
	}
	pos := *p
	l.pos = &pos
}

// SlippedPrice applies the configured slippage convention: buyers pay up,
// sellers receive less. slip is an absolute price offset per fill.
func SlippedPrice(price, slip float64, buying bool) float64 {
	if buying {
		return price + slip
	}
	return price - slip
}
