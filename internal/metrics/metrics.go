// Package metrics computes quantitative performance statistics from a
// completed replay: return and risk ratios, drawdown, trade-quality
// measures, exposure, and a per-strategy breakdown. Everything here is a
// pure function over the trade list and equity curve.
package metrics

import (
	"math"
	"time"

	"backsim/internal/broker"
	"backsim/internal/engine"
)

// TradingDaysPerYear is the annualization convention for Sharpe,
// Sortino, and the annualized return.
const TradingDaysPerYear = 252

// DrawdownInfo describes the single worst peak-to-trough equity decline.
type DrawdownInfo struct {
	MaxDrawdownPct    float64   `json:"max_drawdown_pct"`
	MaxDrawdownDollar float64   `json:"max_drawdown_dollar"`
	PeakEquity        float64   `json:"peak_equity"`
	TroughEquity      float64   `json:"trough_equity"`
	PeakTimestamp     time.Time `json:"peak_timestamp,omitzero"`
	TroughTimestamp   time.Time `json:"trough_timestamp,omitzero"`
}

// StrategyMetrics is the per-strategy trade-quality summary.
type StrategyMetrics struct {
	Strategy      string  `json:"strategy"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AvgPnL        float64 `json:"avg_pnl"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
}

// Performance is the complete metric set for one replay.
type Performance struct {
	InitialCapital      float64 `json:"initial_capital"`
	FinalEquity         float64 `json:"final_equity"`
	TotalReturnPct      float64 `json:"total_return_pct"`
	AnnualizedReturnPct float64 `json:"annualized_return_pct"`

	SharpeRatio  float64 `json:"sharpe_ratio"`
	SortinoRatio float64 `json:"sortino_ratio"`
	CalmarRatio  float64 `json:"calmar_ratio"`

	Drawdown DrawdownInfo `json:"drawdown"`

	TotalTrades     int     `json:"total_trades"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	BreakevenTrades int     `json:"breakeven_trades"`
	WinRate         float64 `json:"win_rate"`
	ProfitFactor    float64 `json:"profit_factor"`
	Expectancy      float64 `json:"expectancy"`

	TotalPnL    float64 `json:"total_pnl"`
	AvgPnL      float64 `json:"avg_pnl"`
	AvgWin      float64 `json:"avg_win"`
	AvgLoss     float64 `json:"avg_loss"`
	LargestWin  float64 `json:"largest_win"`
	LargestLoss float64 `json:"largest_loss"`

	TotalBars    int     `json:"total_bars"`
	BarsInMarket int     `json:"bars_in_market"`
	ExposurePct  float64 `json:"exposure_pct"`

	ByStrategy map[string]StrategyMetrics `json:"by_strategy"`
}

// dailyReturns extracts pairwise percentage returns from the equity
// curve. A non-positive prior sample yields a zero return rather than a
// division by zero.
func dailyReturns(curve []engine.EquitySample) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		curr := curve[i].Equity
		if prev > 0 {
			returns = append(returns, (curr-prev)/prev)
		} else {
			returns = append(returns, 0)
		}
	}
	return returns
}

// computeDrawdown makes a single forward pass tracking the running peak
// and records the worst percentage decline seen (the dollar figure is
// the one at that same decline, not an independent maximum).
func computeDrawdown(curve []engine.EquitySample) DrawdownInfo {
	if len(curve) == 0 {
		return DrawdownInfo{}
	}

	peak := curve[0].Equity
	peakTS := curve[0].Timestamp
	dd := DrawdownInfo{}

	for _, pt := range curve {
		if pt.Equity > peak {
			peak = pt.Equity
			peakTS = pt.Timestamp
		}

		ddDollar := peak - pt.Equity
		ddPct := 0.0
		if peak > 0 {
			ddPct = ddDollar / peak * 100
		}

		if ddPct > dd.MaxDrawdownPct {
			dd.MaxDrawdownPct = ddPct
			dd.MaxDrawdownDollar = ddDollar
			dd.PeakEquity = peak
			dd.PeakTimestamp = peakTS
			dd.TroughEquity = pt.Equity
			dd.TroughTimestamp = pt.Timestamp
		}
	}
	return dd
}

// sharpeRatio is the annualized mean/stddev of excess returns, using a
// sample (n-1) standard deviation. Fewer than two samples or a zero
// deviation yields 0.
func sharpeRatio(returns []float64, riskFreeDaily float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r - riskFreeDaily
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := (r - riskFreeDaily) - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(TradingDaysPerYear)
}

// sortinoRatio is the downside-deviation variant of Sharpe: only
// negative excess returns contribute to the deviation.
func sortinoRatio(returns []float64, riskFreeDaily float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r - riskFreeDaily
	}
	mean /= float64(len(returns))

	downsideVar := 0.0
	for _, r := range returns {
		if excess := r - riskFreeDaily; excess < 0 {
			downsideVar += excess * excess
		}
	}
	downsideVar /= float64(len(returns))

	downsideStd := math.Sqrt(downsideVar)
	if downsideStd == 0 {
		return 0
	}
	return mean / downsideStd * math.Sqrt(TradingDaysPerYear)
}

// strategyBreakdown groups trade statistics by the strategy name stored
// on each trade.
func strategyBreakdown(trades []broker.Trade) map[string]StrategyMetrics {
	buckets := make(map[string][]float64)
	for _, t := range trades {
		buckets[t.Strategy] = append(buckets[t.Strategy], t.PnL())
	}

	out := make(map[string]StrategyMetrics, len(buckets))
	for strat, pnls := range buckets {
		var wins, losses int
		var grossProfit, grossLoss, total float64
		for _, p := range pnls {
			total += p
			switch {
			case p > 0:
				wins++
				grossProfit += p
			case p < 0:
				losses++
				grossLoss += -p
			}
		}

		sm := StrategyMetrics{
			Strategy:      strat,
			TotalTrades:   len(pnls),
			WinningTrades: wins,
			LosingTrades:  losses,
			TotalPnL:      total,
			AvgPnL:        total / float64(len(pnls)),
			WinRate:       float64(wins) / float64(len(pnls)) * 100,
			ProfitFactor:  profitFactor(grossProfit, grossLoss),
		}
		if wins > 0 {
			sm.AvgWin = grossProfit / float64(wins)
		}
		if losses > 0 {
			sm.AvgLoss = -grossLoss / float64(losses)
		}
		out[strat] = sm
	}
	return out
}

// profitFactor is gross profit over gross loss, +Inf when there are
// profits and no losses.
func profitFactor(grossProfit, grossLoss float64) float64 {
	if grossLoss > 0 {
		return grossProfit / grossLoss
	}
	return math.Inf(1)
}

// Compute derives the full metric set from a replay's trades and equity
// curve. It never mutates its inputs and depends on nothing but them.
func Compute(trades []broker.Trade, curve []engine.EquitySample, initialCapital float64) Performance {
	finalEquity := initialCapital
	if len(curve) > 0 {
		finalEquity = curve[len(curve)-1].Equity
	}

	totalReturnPct := 0.0
	if initialCapital > 0 {
		totalReturnPct = (finalEquity - initialCapital) / initialCapital * 100
	}

	nBars := len(curve)
	annualized := 0.0
	if nBars > 0 && finalEquity > 0 && initialCapital > 0 {
		years := float64(nBars) / TradingDaysPerYear
		annualized = (math.Pow(finalEquity/initialCapital, 1/years) - 1) * 100
	}

	returns := dailyReturns(curve)
	drawdown := computeDrawdown(curve)

	calmar := 0.0
	if drawdown.MaxDrawdownPct > 0 {
		calmar = annualized / drawdown.MaxDrawdownPct
	}

	perf := Performance{
		InitialCapital:      initialCapital,
		FinalEquity:         finalEquity,
		TotalReturnPct:      totalReturnPct,
		AnnualizedReturnPct: annualized,
		SharpeRatio:         sharpeRatio(returns, 0),
		SortinoRatio:        sortinoRatio(returns, 0),
		CalmarRatio:         calmar,
		Drawdown:            drawdown,
		TotalBars:           nBars,
		ByStrategy:          strategyBreakdown(trades),
	}

	// Trade statistics over signed realized P&L.
	var grossProfit, grossLoss float64
	for _, t := range trades {
		pnl := t.PnL()
		perf.TotalPnL += pnl
		switch {
		case pnl > 0:
			perf.WinningTrades++
			grossProfit += pnl
			if pnl > perf.LargestWin {
				perf.LargestWin = pnl
			}
		case pnl < 0:
			perf.LosingTrades++
			grossLoss += -pnl
			if pnl < perf.LargestLoss {
				perf.LargestLoss = pnl
			}
		default:
			perf.BreakevenTrades++
		}
	}

	perf.TotalTrades = len(trades)
	if perf.TotalTrades > 0 {
		perf.WinRate = float64(perf.WinningTrades) / float64(perf.TotalTrades) * 100
		perf.AvgPnL = perf.TotalPnL / float64(perf.TotalTrades)
		perf.Expectancy = perf.AvgPnL
		perf.ProfitFactor = profitFactor(grossProfit, grossLoss)
	}
	if perf.WinningTrades > 0 {
		perf.AvgWin = grossProfit / float64(perf.WinningTrades)
	}
	if perf.LosingTrades > 0 {
		perf.AvgLoss = -grossLoss / float64(perf.LosingTrades)
	}

	// Exposure: fraction of bars with at least one open position.
	for _, pt := range curve {
		if pt.OpenPositions > 0 {
			perf.BarsInMarket++
		}
	}
	if nBars > 0 {
		perf.ExposurePct = float64(perf.BarsInMarket) / float64(nBars) * 100
	}

	return perf
}
