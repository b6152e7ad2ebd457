package indicators

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exactStats computes mean and sample std the slow, well-conditioned way
// (two passes over deviations) for use as a test oracle.
func exactStats(window []float64) (mean, std float64) {
	n := float64(len(window))
	for _, p := range window {
		mean += p
	}
	mean /= n

	var ss float64
	for _, p := range window {
		d := p - mean
		ss += d * d
	}
	if len(window) > 1 {
		std = math.Sqrt(ss / (n - 1))
	}
	return mean, std
}

func TestZScoreConstruction(t *testing.T) {
	t.Run("valid lookback", func(t *testing.T) {
		z, err := NewZScore(20)
		require.NoError(t, err)
		assert.Equal(t, "Z(20)", z.Name())
		assert.Equal(t, 20, z.Warmup())
		assert.Equal(t, 20, z.Lookback())
		assert.False(t, z.Ready())
	})

	t.Run("lookback of 1 is invalid", func(t *testing.T) {
		_, err := NewZScore(1)
		assert.Error(t, err)
	})

	t.Run("lookback of 0 is invalid", func(t *testing.T) {
		_, err := NewZScore(0)
		assert.Error(t, err)
	})
}

func TestZScoreWarmup(t *testing.T) {
	z, err := NewZScore(5)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, ready, err := z.UpdatePrice(100.0 + float64(i))
		require.NoError(t, err)
		assert.False(t, ready)
		assert.False(t, z.Ready())
	}

	_, ready, err := z.UpdatePrice(104.0)
	require.NoError(t, err)
	assert.True(t, ready)
	assert.True(t, z.Ready())
	assert.Equal(t, 5, z.Count())
}

func TestZScoreRejectsNonFinite(t *testing.T) {
	z, err := NewZScore(3)
	require.NoError(t, err)

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, _, err := z.UpdatePrice(bad)
		assert.Error(t, err)
	}

	// Rejected input must not disturb the window.
	assert.Equal(t, 0, z.Count())
	_, _, err = z.UpdatePrice(100)
	require.NoError(t, err)
	assert.Equal(t, 1, z.Count())
}

func TestZScoreIdenticalValues(t *testing.T) {
	z, err := NewZScore(10)
	require.NoError(t, err)

	var last float64
	for i := 0; i < 20; i++ {
		v, ready, err := z.UpdatePrice(100.0)
		require.NoError(t, err)
		if ready {
			last = v
		}
	}

	assert.Equal(t, 0.0, last, "constant window must report Z=0, not NaN")
	assert.Equal(t, 0.0, z.Std())
	assert.False(t, math.IsNaN(z.Value()))
}

func TestZScoreReset(t *testing.T) {
	z, err := NewZScore(5)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		z.UpdatePrice(100.0 + float64(i))
	}
	require.True(t, z.Ready())

	z.Reset()
	assert.False(t, z.Ready())
	assert.Equal(t, 0, z.Count())
	assert.Equal(t, 0.0, z.Value())
	assert.Empty(t, z.Window())
}

func TestZScoreSlidingWindow(t *testing.T) {
	z, err := NewZScore(5)
	require.NoError(t, err)

	// 0..9: window ends as {5,6,7,8,9}, mean 7
	for i := 0; i < 10; i++ {
		z.UpdatePrice(float64(i))
	}

	assert.Equal(t, 5, z.Count())
	assert.InDelta(t, 7.0, z.Mean(), 1e-9)
}

// The core numerical requirement: prices at 1e10 offset with unit-scale
// deviations. The naive E[x²]−(E[x])² identity fails this; the shifted-data
// formulation must match the exact statistics to 1e-10 relative error.
func TestZScoreLargeOffsetAccuracy(t *testing.T) {
	const lookback = 20
	const offset = 1e10

	z, err := NewZScore(lookback)
	require.NoError(t, err)

	var window []float64
	for i := 0; i < 3*lookback; i++ {
		p := offset + float64(i%7) // deviations 0..6
		_, _, err := z.UpdatePrice(p)
		require.NoError(t, err)

		window = append(window, p)
		if len(window) > lookback {
			window = window[1:]
		}

		if !z.Ready() {
			continue
		}

		wantMean, wantStd := exactStats(window)
		assert.InEpsilon(t, wantMean, z.Mean(), 1e-10, "mean at step %d", i)
		assert.InEpsilon(t, wantStd, z.Std(), 1e-10, "std at step %d", i)
	}
}

// Wikipedia's catastrophic-cancellation sample: (1e9+4, 1e9+7, 1e9+13,
// 1e9+16) has variance exactly 30; the naive identity computes it negative.
func TestZScoreCancellationSample(t *testing.T) {
	z, err := NewZScore(4)
	require.NoError(t, err)

	offset := 1e9
	for _, d := range []float64{4, 7, 13, 16} {
		z.UpdatePrice(offset + d)
	}

	assert.InDelta(t, offset+10.0, z.Mean(), 1e-3)
	assert.InDelta(t, math.Sqrt(30.0), z.Std(), 1e-3)
	assert.Greater(t, z.Std(), 0.0)
}

func TestZScoreAnchorEviction(t *testing.T) {
	// Slide far enough that the anchor price is evicted many times over;
	// statistics must stay exact relative to the brute-force oracle.
	const lookback = 8
	z, err := NewZScore(lookback)
	require.NoError(t, err)

	var window []float64
	for i := 0; i < 100; i++ {
		p := 6000.0 + math.Sin(float64(i))*2.5
		z.UpdatePrice(p)
		window = append(window, p)
		if len(window) > lookback {
			window = window[1:]
		}
	}

	wantMean, wantStd := exactStats(window)
	assert.InEpsilon(t, wantMean, z.Mean(), 1e-9)
	assert.InEpsilon(t, wantStd, z.Std(), 1e-9)
}

func TestZScoreRandomWalkStability(t *testing.T) {
	z, err := NewZScore(20)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	price := 5000.0
	for i := 0; i < 10_000; i++ {
		price += rng.NormFloat64() * 0.5
		v, ready, err := z.UpdatePrice(price)
		require.NoError(t, err)

		assert.False(t, math.IsNaN(z.Std()), "std went NaN at step %d", i)
		assert.GreaterOrEqual(t, z.Std(), 0.0, "std went negative at step %d", i)
		if ready {
			assert.False(t, math.IsNaN(v), "z went NaN at step %d", i)
		}
	}
}

// Scenario 2 from the acceptance suite: ping-pong closes around 6000 with a
// sharp final drop must produce a strongly negative Z.
func TestZScorePingPongDrop(t *testing.T) {
	const lookback = 20
	z, err := NewZScore(lookback)
	require.NoError(t, err)

	var window []float64
	for i := 0; i < lookback; i++ {
		p := 6000.00
		if i%2 == 1 {
			p = 6000.25
		}
		z.UpdatePrice(p)
		window = append(window, p)
	}

	wantMean, wantStd := exactStats(window)
	assert.InEpsilon(t, wantMean, z.Mean(), 1e-8)
	assert.InEpsilon(t, wantStd, z.Std(), 1e-8)

	v, ready, err := z.UpdatePrice(5998.00)
	require.NoError(t, err)
	require.True(t, ready)
	assert.Less(t, v, -2.0, "2-point drop against a 0.125 std window must be far below -z_entry")
}

func TestZScoreSeedMatchesIncremental(t *testing.T) {
	prices := []float64{6001, 6000.5, 6002, 6001.25, 6000.75, 6003, 6002.5}

	a, err := NewZScore(5)
	require.NoError(t, err)
	for _, p := range prices {
		a.UpdatePrice(p)
	}

	b, err := NewZScore(5)
	require.NoError(t, err)
	require.NoError(t, b.Seed(prices))

	assert.Equal(t, a.Window(), b.Window())
	assert.InDelta(t, a.Mean(), b.Mean(), 1e-12)
	assert.InDelta(t, a.Std(), b.Std(), 1e-12)
	assert.InDelta(t, a.Value(), b.Value(), 1e-12)
}
