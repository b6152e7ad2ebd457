package indicators

import (
	"fmt"
	"math"

	"github.com/quantro/meanrev/market"
)

// varianceEpsilon is the threshold under which the window is treated as
// constant and the Z-score is defined as zero instead of dividing by a
// denormal standard deviation.
const varianceEpsilon = 1e-10

// ZScore is a streaming Z-score over a fixed lookback window.
//
// It uses the shifted-data formulation for the rolling mean and variance:
// all sums are kept relative to an anchor K (the first admitted price), so
// the arithmetic operates on values comparable in magnitude to the
// deviations rather than the raw prices. The naive E[x²]−(E[x])² identity
// loses all significant digits when the variance is small relative to the
// squared mean, which is the normal regime for index futures.
type ZScore struct {
	lookback int
	prices   []float64 // ring of up to lookback raw prices, oldest first
	anchor   float64   // K
	sum      float64   // Σ(x−K) over the window
	sumSq    float64   // Σ(x−K)² over the window
	last     float64   // last computed Z, valid when Ready
}

// NewZScore creates a Z-score engine with the given lookback window.
// A lookback below 2 is invalid: a single-price window has no deviation.
func NewZScore(lookback int) (*ZScore, error) {
	if lookback < 2 {
		return nil, fmt.Errorf("zscore: lookback must be >= 2, got %d", lookback)
	}
	return &ZScore{
		lookback: lookback,
		prices:   make([]float64, 0, lookback+1),
	}, nil
}

func (z *ZScore) Name() string { return fmt.Sprintf("Z(%d)", z.lookback) }

func (z *ZScore) Warmup() int { return z.lookback }

// Update satisfies Indicator. Bars with non-finite closes are ignored here;
// callers that need the error use UpdatePrice.
func (z *ZScore) Update(b market.Bar) {
	_, _, _ = z.UpdatePrice(b.Close)
}

// UpdatePrice admits a price into the window and returns the Z-score of
// that price against the updated window. ready is false during warm-up.
// Non-finite input is rejected and leaves the window untouched.
func (z *ZScore) UpdatePrice(price float64) (zscore float64, ready bool, err error) {
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return 0, false, fmt.Errorf("zscore: non-finite price %v", price)
	}

	if len(z.prices) == 0 {
		z.anchor = price
	}

	dx := price - z.anchor
	z.sum += dx
	z.sumSq += dx * dx
	z.prices = append(z.prices, price)

	if len(z.prices) > z.lookback {
		old := z.prices[0]
		z.prices = z.prices[1:]

		odx := old - z.anchor
		z.sum -= odx
		z.sumSq -= odx * odx

		// If the evicted price was the anchor, re-anchor on the new window
		// front and rebase the sums:
		//   Σ(x−K') = Σ(x−K) + n·(K−K')
		//   Σ(x−K')² = Σ(x−K)² + 2(K−K')·Σ(x−K) + n·(K−K')²
		if math.Abs(odx) < varianceEpsilon {
			newAnchor := z.prices[0]
			shift := z.anchor - newAnchor
			n := float64(len(z.prices))
			z.sumSq += 2*shift*z.sum + n*shift*shift
			z.sum += n * shift
			z.anchor = newAnchor
		}
	}

	if len(z.prices) < z.lookback {
		return 0, false, nil
	}

	z.last = z.score(price)
	return z.last, true, nil
}

func (z *ZScore) score(price float64) float64 {
	n := float64(len(z.prices))
	variance := (z.sumSq - z.sum*z.sum/n) / (n - 1)
	if variance < varianceEpsilon {
		return 0
	}
	mean := z.anchor + z.sum/n
	return (price - mean) / math.Sqrt(variance)
}

// Ready reports whether the window holds a full lookback of prices.
func (z *ZScore) Ready() bool { return len(z.prices) >= z.lookback }

// Value returns the Z-score of the most recent price, 0 until Ready.
func (z *ZScore) Value() float64 {
	if !z.Ready() {
		return 0
	}
	return z.last
}

// Mean returns the rolling mean of the window.
func (z *ZScore) Mean() float64 {
	n := float64(len(z.prices))
	if n == 0 {
		return 0
	}
	return z.anchor + z.sum/n
}

// Std returns the sample standard deviation of the window. Floating-point
// underflow can drive the shifted variance a hair below zero; it is clamped.
func (z *ZScore) Std() float64 {
	n := float64(len(z.prices))
	if n < 2 {
		return 0
	}
	variance := (z.sumSq - z.sum*z.sum/n) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Count returns the number of prices currently in the window.
func (z *ZScore) Count() int { return len(z.prices) }

// Lookback returns the configured window length.
func (z *ZScore) Lookback() int { return z.lookback }

// Window returns a copy of the window contents, oldest first. Used for
// snapshotting and the snapshot content hash.
func (z *ZScore) Window() []float64 {
	out := make([]float64, len(z.prices))
	copy(out, z.prices)
	return out
}

// Seed replays a slice of prices into an empty window. Invalid prices
// abort the seed and leave the engine reset.
func (z *ZScore) Seed(prices []float64) error {
	z.Reset()
	for _, p := range prices {
		if _, _, err := z.UpdatePrice(p); err != nil {
			z.Reset()
			return fmt.Errorf("zscore: seed: %w", err)
		}
	}
	return nil
}

// Reset empties the window and drops all history.
func (z *ZScore) Reset() {
	z.prices = z.prices[:0]
	z.anchor = 0
	z.sum = 0
	z.sumSq = 0
	z.last = 0
}
