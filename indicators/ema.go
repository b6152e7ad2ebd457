package indicators

import (
	"fmt"

	"github.com/quantro/meanrev/market"
)

// EMA is a streaming exponential moving average over bar closes. The
// signal generator uses it as the trend reference for entry alignment:
// a long entry must not fight a falling trend and vice versa.
//
// The first period closes seed the average with their mean; after that
// each close decays in with alpha = 2/(period+1).
type EMA struct {
	period int
	alpha  float64
	warm   []float64
	value  float64
}

// NewEMA creates an exponential moving average with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period: period,
		alpha:  2.0 / float64(period+1),
		warm:   make([]float64, 0, period),
	}
}

func (e *EMA) Name() string { return fmt.Sprintf("EMA(%d)", e.period) }

func (e *EMA) Warmup() int { return e.period }

func (e *EMA) Update(b market.Bar) {
	if len(e.warm) < e.period {
		e.warm = append(e.warm, b.Close)
		if len(e.warm) == e.period {
			var sum float64
			for _, c := range e.warm {
				sum += c
			}
			e.value = sum / float64(e.period)
		}
		return
	}
	e.value += e.alpha * (b.Close - e.value)
}

func (e *EMA) Ready() bool { return len(e.warm) >= e.period }

func (e *EMA) Value() float64 {
	if !e.Ready() {
		return 0
	}
	return e.value
}

func (e *EMA) Reset() {
	e.warm = e.warm[:0]
	e.value = 0
}
