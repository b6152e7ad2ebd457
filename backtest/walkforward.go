package backtest

import (
	"context"
	"fmt"
	"log"

	"github.com/quantro/meanrev/config"
	"github.com/quantro/meanrev/ledger"
	"github.com/quantro/meanrev/market"
)

// FoldResult is one walk-forward fold: its test-window backtest plus the
// size of the reference window that seeded it.
type FoldResult struct {
	Fold      int
	TrainBars int
	TestBars  int
	Result
}

// WFResult aggregates a walk-forward evaluation.
type WFResult struct {
	Folds []FoldResult

	TotalTrades  int
	NetPnL       float64
	WinRate      float64
	ProfitFactor float64
	MaxDrawdown  float64
	Sharpe       float64
}

// Evaluator splits a bar sequence into K ordered, non-overlapping test
// windows covering the full range. Each fold's reference window is the
// data immediately preceding its test window, sized to the configured
// train/test ratio; it seeds the rolling statistics and nothing else.
// Risk state never crosses folds: each one runs on a fresh engine.
type Evaluator struct {
	Config *config.Config
}

// Run evaluates bars over the configured fold count.
func (e *Evaluator) Run(ctx context.Context, bars []market.Bar) (WFResult, error) {
	if e.Config == nil {
		return WFResult{}, fmt.Errorf("walkforward: config is required")
	}

	folds := e.Config.Backtest.Folds
	ratio := e.Config.Backtest.TrainRatio

	if len(bars) < folds {
		return WFResult{}, fmt.Errorf("walkforward: %d bars cannot fill %d folds", len(bars), folds)
	}

	foldSize := len(bars) / folds
	driver := &Driver{Config: e.Config}

	var out WFResult
	var allTrades []ledger.Trade

	for k := 0; k < folds; k++ {
		testStart := k * foldSize
		testEnd := testStart + foldSize
		if k == folds-1 {
			testEnd = len(bars) // the last fold absorbs the remainder
		}
		test := bars[testStart:testEnd]

		// Reference window: trailing portion of the preceding data in the
		// configured train:test proportion.
		seedLen := int(float64(len(test)) * ratio / (1 - ratio))
		seedStart := testStart - seedLen
		if seedStart < 0 {
			seedStart = 0
		}
		seed := closes(bars[seedStart:testStart])

		log.Printf("[INFO] walkforward: fold %d/%d, %d reference bars, %d test bars",
			k+1, folds, len(seed), len(test))

		res, err := driver.RunSeeded(ctx, seed, test)
		if err != nil {
			return WFResult{}, fmt.Errorf("walkforward: fold %d: %w", k+1, err)
		}

		out.Folds = append(out.Folds, FoldResult{
			Fold:      k + 1,
			TrainBars: len(seed),
			TestBars:  len(test),
			Result:    res,
		})

		out.TotalTrades += res.TotalTrades
		out.NetPnL += res.NetPnL
		if res.MaxDrawdown > out.MaxDrawdown {
			out.MaxDrawdown = res.MaxDrawdown
		}
		allTrades = append(allTrades, res.Trades...)
	}

	// Overall quality metrics come from the pooled trade list; drawdown
	// stays the worst single fold because equity resets between folds.
	pooled := summarize(allTrades)
	out.WinRate = pooled.WinRate
	out.ProfitFactor = pooled.ProfitFactor
	out.Sharpe = pooled.Sharpe

	return out, nil
}

func closes(bars []market.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
