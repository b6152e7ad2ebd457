package indicators

import "github.com/quantro/meanrev/market"

// Indicator is the common interface for streaming indicators. Indicators
// consume bars one at a time and expose a single value once warmed up.
type Indicator interface {
	Name() string
	Warmup() int
	Update(b market.Bar)
	Ready() bool
	Value() float64
	Reset()
}
