package backtest

import (
	"math"

	"github.com/quantro/meanrev/ledger"
)

// summarize computes the performance metrics over a closed trade list.
//
// Conventions: a zero-P&L trade counts as a win (it cost nothing), the
// profit factor is +Inf with no losing trades and 0 with no winning ones,
// and the Sharpe-like ratio is per-trade with no annualisation.
func summarize(trades []ledger.Trade) Result {
	res := Result{
		Trades:      trades,
		EquityCurve: make([]float64, 0, len(trades)+1),
	}
	res.EquityCurve = append(res.EquityCurve, 0)

	var equity, peak float64
	var grossWin, grossLoss float64

	for _, t := range trades {
		res.TotalTrades++
		if t.RealizedPnL >= 0 {
			res.Wins++
			grossWin += t.RealizedPnL
		} else {
			res.Losses++
			grossLoss += -t.RealizedPnL
		}

		equity += t.RealizedPnL
		res.EquityCurve = append(res.EquityCurve, equity)

		if equity > peak {
			peak = equity
		}
		if dd := peak - equity; dd > res.MaxDrawdown {
			res.MaxDrawdown = dd
		}
	}

	res.NetPnL = equity

	if res.TotalTrades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.TotalTrades)
	}

	switch {
	case grossLoss > 0:
		res.ProfitFactor = grossWin / grossLoss
	case grossWin > 0:
		res.ProfitFactor = math.Inf(1)
	default:
		res.ProfitFactor = 0
	}

	res.Sharpe = sharpeRatio(trades)
	return res
}

// sharpeRatio is mean per-trade P&L over its sample standard deviation.
func sharpeRatio(trades []ledger.Trade) float64 {
	if len(trades) < 2 {
		return 0
	}

	var sum float64
	for _, t := range trades {
		sum += t.RealizedPnL
	}
	mean := sum / float64(len(trades))

	var ss float64
	for _, t := range trades {
		d := t.RealizedPnL - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(trades)-1))
	if std == 0 {
		return 0
	}
	return mean / std
}
