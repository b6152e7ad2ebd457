package signal

import (
	"time"
)

// Kind identifies the action a signal asks for.
type Kind string

const (
	Hold       Kind = "Hold"
	EnterLong  Kind = "EnterLong"
	EnterShort Kind = "EnterShort"
	ExitLong   Kind = "ExitLong"
	ExitShort  Kind = "ExitShort"
)

// PositionView is the generator's view of the engine position. The engine
// informs the generator of transitions; the generator never queries broker
// state, which keeps live and backtest signal streams identical.
type PositionView int

const (
	Flat PositionView = iota
	Long
	Short
)

func (v PositionView) String() string {
	switch v {
	case Long:
		return "Long"
	case Short:
		return "Short"
	default:
		return "Flat"
	}
}

// Signal carries the triggering bar's context along with the action.
type Signal struct {
	Kind   Kind
	Time   time.Time
	Price  float64
	Z      float64
	Volume int64
}

// Entry reports whether the signal opens a new position.
func (s Signal) Entry() bool {
	return s.Kind == EnterLong || s.Kind == EnterShort
}

// Exit reports whether the signal closes an open position.
func (s Signal) Exit() bool {
	return s.Kind == ExitLong || s.Kind == ExitShort
}
