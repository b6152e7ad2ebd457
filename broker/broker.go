package broker

import (
	"context"
	"errors"
	"time"

	"github.com/quantro/meanrev/market"
)

// OrderSide is the direction of an order.
type OrderSide int

const (
	Buy OrderSide = iota
	Sell
)

func (s OrderSide) String() string {
	if s == Sell {
		return "SELL"
	}
	return "BUY"
}

// Typed failures. Transient errors pause the engine; permanent ones halt it.
var (
	ErrDisconnected  = errors.New("broker: not connected")
	ErrTimeout       = errors.New("broker: request timed out")
	ErrRejected      = errors.New("broker: order rejected")
	ErrUnknownSymbol = errors.New("broker: unknown symbol")
	ErrAuth          = errors.New("broker: authentication failed")
)

// MarketOrderRequest asks for an immediate fill. Stop and Take are optional
// protective levels managed broker-side; zero means unset. IntentID is the
// idempotency key: resubmitting the same intent after a reconnect must not
// duplicate the order.
type MarketOrderRequest struct {
	IntentID string
	Symbol   string
	Side     OrderSide
	Size     int
	Stop     float64
	Take     float64
}

// Fill reports an executed order. Reason is empty for fills of submitted
// intents; broker-side protective closes carry "StopLoss" or "TakeProfit"
// and an empty IntentID maps to no outstanding intent.
type Fill struct {
	IntentID string
	Symbol   string
	Side     OrderSide
	Size     int
	Price    float64
	Time     time.Time
	Reason   string
}

// PositionReport is the broker's view of an open position, used for
// restart reconciliation.
type PositionReport struct {
	Symbol     string
	Size       int // positive long, negative short
	EntryPrice float64
}

// Broker is the order-routing collaborator. Implementations deliver fills
// through the OnFill callback in submission order; the engine applies a
// fill before it processes the next bar.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	SubscribeBars(ctx context.Context, symbol, timeframe string, onBar func(market.Bar)) error

	PlaceMarketOrder(ctx context.Context, req MarketOrderRequest) error
	Cancel(ctx context.Context, intentID string) error

	Positions(ctx context.Context) ([]PositionReport, error)
	OnFill(fn func(Fill))
}
