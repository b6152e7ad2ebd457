package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantro/meanrev/market"
)

func barAt(t time.Time, close float64, volume int64) market.Bar {
	return market.Bar{Time: t, Open: close, High: close, Low: close, Close: close, Volume: volume}
}

func warmedGenerator(t *testing.T, lookback int, params Params, closes []float64) *Generator {
	t.Helper()
	g, err := NewGenerator(lookback, params)
	require.NoError(t, err)

	base := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)
	for i, c := range closes {
		_, err := g.OnBar(barAt(base.Add(time.Duration(i)*5*time.Minute), c, 1000))
		require.NoError(t, err)
	}
	return g
}

func TestParamsValidate(t *testing.T) {
	assert.NoError(t, Params{ZEntry: 2.0, ZExit: 0.5, MinVolume: 100}.Validate())
	assert.Error(t, Params{ZEntry: 0, ZExit: 0}.Validate())
	assert.Error(t, Params{ZEntry: -1, ZExit: 0}.Validate())
	assert.Error(t, Params{ZEntry: 1.0, ZExit: 1.0}.Validate())
	assert.Error(t, Params{ZEntry: 1.0, ZExit: -0.1}.Validate())
	assert.Error(t, Params{ZEntry: 1.0, ZExit: 0.5, MinVolume: -1}.Validate())
}

func TestGeneratorHoldsDuringWarmup(t *testing.T) {
	g, err := NewGenerator(5, Params{ZEntry: 2.0, ZExit: 0.5})
	require.NoError(t, err)

	base := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		sig, err := g.OnBar(barAt(base.Add(time.Duration(i)*time.Minute), 100+float64(i), 1000))
		require.NoError(t, err)
		assert.Equal(t, Hold, sig.Kind)
	}
}

// With lookback 3 a window of {100,100,95} has mean 98.33 and sample std
// 2.887, so the post-update Z of the 95 bar is -1.155. The flow tests below
// use z_entry=1.0 to sit inside that band.
func TestGeneratorEntrySemantics(t *testing.T) {
	params := Params{ZEntry: 1.0, ZExit: 0.5, MinVolume: 100}

	t.Run("drop below -z_entry enters long", func(t *testing.T) {
		g := warmedGenerator(t, 3, params, []float64{100, 100, 100, 100})
		sig, err := g.OnBar(barAt(time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC), 95, 1000))
		require.NoError(t, err)
		assert.Equal(t, EnterLong, sig.Kind)
		assert.InDelta(t, -1.1547, sig.Z, 1e-3)
		assert.Equal(t, 95.0, sig.Price)
	})

	t.Run("spike above +z_entry enters short", func(t *testing.T) {
		g := warmedGenerator(t, 3, params, []float64{100, 100, 100, 100})
		sig, err := g.OnBar(barAt(time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC), 105, 1000))
		require.NoError(t, err)
		assert.Equal(t, EnterShort, sig.Kind)
		assert.InDelta(t, 1.1547, sig.Z, 1e-3)
	})

	t.Run("small deviation holds", func(t *testing.T) {
		g := warmedGenerator(t, 3, params, []float64{100, 101, 99, 100})
		sig, err := g.OnBar(barAt(time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC), 100.2, 1000))
		require.NoError(t, err)
		assert.Equal(t, Hold, sig.Kind)
	})

	t.Run("thin volume suppresses entry", func(t *testing.T) {
		g := warmedGenerator(t, 3, params, []float64{100, 100, 100, 100})
		sig, err := g.OnBar(barAt(time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC), 95, 10))
		require.NoError(t, err)
		assert.Equal(t, Hold, sig.Kind, "volume below min_volume must hold regardless of Z")
	})
}

func TestGeneratorHysteresis(t *testing.T) {
	params := Params{ZEntry: 1.0, ZExit: 0.5}
	base := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)

	g := warmedGenerator(t, 3, params, []float64{100, 100, 100, 100})

	sig, err := g.OnBar(barAt(base.Add(20*time.Minute), 95, 1000))
	require.NoError(t, err)
	require.Equal(t, EnterLong, sig.Kind)
	g.SetPosition(Long)

	// Window {100,95,94.5}: z = -0.658, still below -z_exit.
	sig, err = g.OnBar(barAt(base.Add(25*time.Minute), 94.5, 1000))
	require.NoError(t, err)
	assert.Equal(t, Hold, sig.Kind)
	assert.Less(t, sig.Z, -params.ZExit)

	// Reversion back toward the mean: exit fires exactly when z >= -z_exit.
	sig, err = g.OnBar(barAt(base.Add(30*time.Minute), 100, 1000))
	require.NoError(t, err)
	assert.Equal(t, ExitLong, sig.Kind)
	assert.GreaterOrEqual(t, sig.Z, -params.ZExit)
	g.SetPosition(Flat)
}

func TestGeneratorShortExit(t *testing.T) {
	params := Params{ZEntry: 1.0, ZExit: 0.5}
	base := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)

	g := warmedGenerator(t, 3, params, []float64{100, 100, 100, 100})

	sig, err := g.OnBar(barAt(base.Add(20*time.Minute), 105, 1000))
	require.NoError(t, err)
	require.Equal(t, EnterShort, sig.Kind)
	g.SetPosition(Short)

	// Window {100,105,105.5}: z = +0.658, still above z_exit.
	sig, err = g.OnBar(barAt(base.Add(25*time.Minute), 105.5, 1000))
	require.NoError(t, err)
	assert.Equal(t, Hold, sig.Kind)

	sig, err = g.OnBar(barAt(base.Add(30*time.Minute), 100, 1000))
	require.NoError(t, err)
	assert.Equal(t, ExitShort, sig.Kind)
}

func TestGeneratorNoReentryWhileOpen(t *testing.T) {
	params := Params{ZEntry: 1.0, ZExit: 0.5}
	base := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)

	g := warmedGenerator(t, 3, params, []float64{100, 100, 100, 100})
	g.SetPosition(Long)

	// A deeper drop while already long is not a second entry.
	sig, err := g.OnBar(barAt(base.Add(20*time.Minute), 90, 1000))
	require.NoError(t, err)
	assert.Equal(t, Hold, sig.Kind)
}

func TestGeneratorTrendFilter(t *testing.T) {
	base := time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC)

	t.Run("counter-trend dip is held", func(t *testing.T) {
		// Six closes stepping down from 110 leave the EMA(6) well above
		// the dip price: the long entry must not fight the falling trend.
		params := Params{ZEntry: 1.0, ZExit: 0.5, TrendPeriod: 6}
		g := warmedGenerator(t, 3, params, []float64{110, 110, 110, 100, 100, 100})

		sig, err := g.OnBar(barAt(base.Add(35*time.Minute), 95, 1000))
		require.NoError(t, err)
		assert.Equal(t, Hold, sig.Kind)
		assert.LessOrEqual(t, sig.Z, -params.ZEntry, "the Z threshold itself was crossed")
	})

	t.Run("dip above the trend enters", func(t *testing.T) {
		// Rising history keeps the EMA(6) below the dip price: buying
		// the dip is trend-aligned.
		params := Params{ZEntry: 1.0, ZExit: 0.5, TrendPeriod: 6}
		g := warmedGenerator(t, 3, params, []float64{90, 90, 90, 100, 100, 100})

		sig, err := g.OnBar(barAt(base.Add(35*time.Minute), 95, 1000))
		require.NoError(t, err)
		assert.Equal(t, EnterLong, sig.Kind)
	})

	t.Run("spike below the trend enters short", func(t *testing.T) {
		params := Params{ZEntry: 1.0, ZExit: 0.5, TrendPeriod: 6}
		g := warmedGenerator(t, 3, params, []float64{110, 110, 110, 100, 100, 100})

		sig, err := g.OnBar(barAt(base.Add(35*time.Minute), 105, 1000))
		require.NoError(t, err)
		assert.Equal(t, EnterShort, sig.Kind, "a spike under a falling trend is sold")
	})

	t.Run("warming filter takes no entries", func(t *testing.T) {
		params := Params{ZEntry: 1.0, ZExit: 0.5, TrendPeriod: 10}
		g := warmedGenerator(t, 3, params, []float64{100, 100, 100, 100})

		sig, err := g.OnBar(barAt(base.Add(25*time.Minute), 95, 1000))
		require.NoError(t, err)
		assert.Equal(t, Hold, sig.Kind)
	})

	t.Run("exits bypass the filter", func(t *testing.T) {
		params := Params{ZEntry: 1.0, ZExit: 0.5, TrendPeriod: 6}
		g := warmedGenerator(t, 3, params, []float64{90, 90, 90, 100, 100, 100})

		sig, err := g.OnBar(barAt(base.Add(35*time.Minute), 95, 1000))
		require.NoError(t, err)
		require.Equal(t, EnterLong, sig.Kind)
		g.SetPosition(Long)

		sig, err = g.OnBar(barAt(base.Add(40*time.Minute), 100, 1000))
		require.NoError(t, err)
		assert.Equal(t, ExitLong, sig.Kind)
	})

	t.Run("seed warms the filter too", func(t *testing.T) {
		params := Params{ZEntry: 1.0, ZExit: 0.5, TrendPeriod: 6}
		g, err := NewGenerator(3, params)
		require.NoError(t, err)
		require.NoError(t, g.Seed([]float64{90, 90, 90, 100, 100, 100}))

		sig, err := g.OnBar(barAt(base, 95, 1000))
		require.NoError(t, err)
		assert.Equal(t, EnterLong, sig.Kind, "seeded filter is already warm and aligned")
	})
}

func TestGeneratorSignalCarriesBarContext(t *testing.T) {
	params := Params{ZEntry: 1.0, ZExit: 0.5}
	g := warmedGenerator(t, 3, params, []float64{100, 100, 100})

	ts := time.Date(2024, 3, 4, 15, 35, 0, 0, time.UTC)
	sig, err := g.OnBar(barAt(ts, 95, 777))
	require.NoError(t, err)

	assert.Equal(t, ts, sig.Time)
	assert.Equal(t, 95.0, sig.Price)
	assert.Equal(t, int64(777), sig.Volume)
	assert.True(t, sig.Entry())
	assert.False(t, sig.Exit())
}
