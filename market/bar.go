package market

import (
	"fmt"
	"math"
	"time"
)

// Bar represents one OHLCV record over a fixed timeframe.
// Timestamps are UTC and must be strictly increasing within a stream.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Validate checks the OHLCV invariants: positive finite prices,
// low <= min(open,close) <= max(open,close) <= high, volume >= 0.
func (b Bar) Validate() error {
	for _, v := range []struct {
		name  string
		price float64
	}{
		{"open", b.Open},
		{"high", b.High},
		{"low", b.Low},
		{"close", b.Close},
	} {
		if math.IsNaN(v.price) || math.IsInf(v.price, 0) {
			return fmt.Errorf("bar %s: non-finite %s %v", b.Time.Format(time.RFC3339), v.name, v.price)
		}
		if v.price <= 0 {
			return fmt.Errorf("bar %s: non-positive %s %v", b.Time.Format(time.RFC3339), v.name, v.price)
		}
	}

	lo := math.Min(b.Open, b.Close)
	hi := math.Max(b.Open, b.Close)
	if b.Low > lo || hi > b.High {
		return fmt.Errorf("bar %s: OHLC out of order (O=%v H=%v L=%v C=%v)",
			b.Time.Format(time.RFC3339), b.Open, b.High, b.Low, b.Close)
	}

	if b.Volume < 0 {
		return fmt.Errorf("bar %s: negative volume %d", b.Time.Format(time.RFC3339), b.Volume)
	}
	if b.Time.IsZero() {
		return fmt.Errorf("bar: zero timestamp")
	}
	return nil
}
