package signal

import (
	"fmt"

	"github.com/quantro/meanrev/indicators"
	"github.com/quantro/meanrev/market"
)

// Params are the signal thresholds. Entry uses a wider band than exit
// (hysteresis) so the generator does not oscillate at the entry boundary.
//
// TrendPeriod, when positive, arms the EMA trend filter: entries must
// align with the longer trend (longs at or above the EMA, shorts at or
// below), and no entry fires until the filter is warm. Zero disables it.
type Params struct {
	ZEntry      float64
	ZExit       float64
	MinVolume   int64
	TrendPeriod int
}

// Validate enforces z_entry > 0 and 0 <= z_exit < z_entry.
func (p Params) Validate() error {
	if p.ZEntry <= 0 {
		return fmt.Errorf("signal: z_entry must be > 0, got %v", p.ZEntry)
	}
	if p.ZExit < 0 || p.ZExit >= p.ZEntry {
		return fmt.Errorf("signal: z_exit must be in [0, z_entry), got %v", p.ZExit)
	}
	if p.MinVolume < 0 {
		return fmt.Errorf("signal: min_volume must be >= 0, got %d", p.MinVolume)
	}
	if p.TrendPeriod < 0 {
		return fmt.Errorf("signal: trend_period must be >= 0, got %d", p.TrendPeriod)
	}
	return nil
}

// Generator turns a bar stream into entry/exit signals against a rolling
// Z-score. It is a pure function of (stats, position view, params); the
// engine owns the position view via SetPosition.
type Generator struct {
	params Params
	stats  *indicators.ZScore
	trend  *indicators.EMA // nil when the trend filter is disabled
	view   PositionView
}

// NewGenerator builds a generator over a fresh Z-score window.
func NewGenerator(lookback int, params Params) (*Generator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	stats, err := indicators.NewZScore(lookback)
	if err != nil {
		return nil, err
	}
	g := &Generator{params: params, stats: stats}
	if params.TrendPeriod > 0 {
		g.trend = indicators.NewEMA(params.TrendPeriod)
	}
	return g, nil
}

// Stats exposes the underlying rolling window for snapshotting and seeding.
func (g *Generator) Stats() *indicators.ZScore { return g.stats }

// View returns the current position view.
func (g *Generator) View() PositionView { return g.view }

// SetPosition informs the generator of a position transition.
func (g *Generator) SetPosition(v PositionView) { g.view = v }

// OnBar admits the bar's close into the rolling window and returns the
// signal for this bar. The window always updates, even when the result is
// Hold, so the statistics stay calibrated across low-volume stretches.
func (g *Generator) OnBar(b market.Bar) (Signal, error) {
	z, ready, err := g.stats.UpdatePrice(b.Close)
	if err != nil {
		return Signal{}, err
	}
	if g.trend != nil {
		g.trend.Update(b)
	}

	sig := Signal{
		Kind:   Hold,
		Time:   b.Time,
		Price:  b.Close,
		Z:      z,
		Volume: b.Volume,
	}

	if !ready {
		return sig, nil
	}
	if b.Volume < g.params.MinVolume {
		return sig, nil
	}

	switch g.view {
	case Flat:
		switch {
		case z <= -g.params.ZEntry:
			sig.Kind = EnterLong
		case z >= g.params.ZEntry:
			sig.Kind = EnterShort
		}
		if sig.Entry() && !g.trendAligned(sig.Kind, b.Close) {
			sig.Kind = Hold
		}
	case Long:
		if z >= -g.params.ZExit {
			sig.Kind = ExitLong
		}
	case Short:
		if z <= g.params.ZExit {
			sig.Kind = ExitShort
		}
	}

	return sig, nil
}

// trendAligned applies the EMA filter to a candidate entry: dips are only
// bought while price holds at or above the trend, spikes only sold while
// it holds at or below. An unarmed or still-warming filter takes no
// entries off the table beyond its own warmup.
func (g *Generator) trendAligned(kind Kind, close float64) bool {
	if g.trend == nil {
		return true
	}
	if !g.trend.Ready() {
		return false
	}
	if kind == EnterLong {
		return close >= g.trend.Value()
	}
	return close <= g.trend.Value()
}

// Seed replays historical closes into the window without emitting signals.
// Walk-forward folds use this to warm the statistics (and the trend
// filter) from reference data.
func (g *Generator) Seed(prices []float64) error {
	if err := g.stats.Seed(prices); err != nil {
		return err
	}
	if g.trend != nil {
		g.trend.Reset()
		for _, p := range prices {
			g.trend.Update(market.Bar{Close: p})
		}
	}
	return nil
}
