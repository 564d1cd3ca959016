// Package report renders replay results for humans and exports the raw
// trade log and equity curve as CSV.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"backsim/internal/engine"
	"backsim/internal/metrics"
)

// Text renders a fixed-width summary of a run and its performance
// metrics, suitable for a terminal or a log file.
func Text(res *engine.Result, perf metrics.Performance) string {
	var b strings.Builder

	line := strings.Repeat("=", 56)
	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "BACKTEST RESULTS")
	fmt.Fprintln(&b, line)

	if !res.StartTime.IsZero() {
		fmt.Fprintf(&b, "Period:              %s .. %s\n",
			res.StartTime.Format("2006-01-02"), res.EndTime.Format("2006-01-02"))
	}
	fmt.Fprintf(&b, "Bars processed:      %d\n", res.BarsProcessed)
	fmt.Fprintf(&b, "Signals processed:   %d (skipped %d)\n", res.SignalsProcessed, res.SignalsSkipped)
	fmt.Fprintln(&b)

	fmt.Fprintf(&b, "Initial capital:     %.2f\n", perf.InitialCapital)
	fmt.Fprintf(&b, "Final equity:        %.2f\n", perf.FinalEquity)
	fmt.Fprintf(&b, "Total return:        %.2f%%\n", perf.TotalReturnPct)
	fmt.Fprintf(&b, "Annualized return:   %.2f%%\n", perf.AnnualizedReturnPct)
	fmt.Fprintln(&b)

	fmt.Fprintf(&b, "Sharpe ratio:        %.2f\n", perf.SharpeRatio)
	fmt.Fprintf(&b, "Sortino ratio:       %.2f\n", perf.SortinoRatio)
	fmt.Fprintf(&b, "Calmar ratio:        %.2f\n", perf.CalmarRatio)
	fmt.Fprintf(&b, "Max drawdown:        %.2f%% (%.2f)\n",
		perf.Drawdown.MaxDrawdownPct, perf.Drawdown.MaxDrawdownDollar)
	fmt.Fprintln(&b)

	fmt.Fprintf(&b, "Total trades:        %d\n", perf.TotalTrades)
	fmt.Fprintf(&b, "Win rate:            %.2f%% (%dW / %dL / %dBE)\n",
		perf.WinRate, perf.WinningTrades, perf.LosingTrades, perf.BreakevenTrades)
	fmt.Fprintf(&b, "Profit factor:       %s\n", formatRatio(perf.ProfitFactor))
	fmt.Fprintf(&b, "Total P&L:           %.2f\n", perf.TotalPnL)
	fmt.Fprintf(&b, "Avg win / avg loss:  %.2f / %.2f\n", perf.AvgWin, perf.AvgLoss)
	fmt.Fprintf(&b, "Largest win / loss:  %.2f / %.2f\n", perf.LargestWin, perf.LargestLoss)
	fmt.Fprintf(&b, "Exposure:            %.2f%% (%d of %d bars)\n",
		perf.ExposurePct, perf.BarsInMarket, perf.TotalBars)

	if len(perf.ByStrategy) > 0 {
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "Per strategy:")
		names := make([]string, 0, len(perf.ByStrategy))
		for name := range perf.ByStrategy {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			sm := perf.ByStrategy[name]
			fmt.Fprintf(&b, "  %-28s trades=%d win=%.1f%% pnl=%.2f pf=%s\n",
				sm.Strategy, sm.TotalTrades, sm.WinRate, sm.TotalPnL, formatRatio(sm.ProfitFactor))
		}
	}

	fmt.Fprintln(&b, line)
	return b.String()
}

// formatRatio prints infinite profit factors as "inf" instead of the
// Go default "+Inf".
func formatRatio(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.2f", v)
}

// WriteTrades writes the trade log as CSV.
func WriteTrades(w io.Writer, res *engine.Result) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	header := []string{
		"Trade#", "Strategy", "Ticker", "Side", "Mode", "Qty",
		"Entry", "EntryTime", "Exit", "ExitTime", "PnL",
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("WriteTrades | header: %w", err)
	}

	for i, t := range res.Trades {
		p := t.Position
		row := []string{
			fmt.Sprintf("%d", i+1),
			t.Strategy,
			p.Ticker,
			string(p.Side),
			string(t.Mode),
			fmt.Sprintf("%d", p.Qty),
			fmt.Sprintf("%.2f", p.EntryPrice),
			p.EntryTimestamp.Format(time.RFC3339),
			fmt.Sprintf("%.2f", p.ExitPrice),
			p.ExitTimestamp.Format(time.RFC3339),
			fmt.Sprintf("%.2f", t.PnL()),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("WriteTrades | row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteEquity writes the equity curve as CSV.
func WriteEquity(w io.Writer, res *engine.Result) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write([]string{"Timestamp", "Equity", "Cash", "OpenPositions"}); err != nil {
		return fmt.Errorf("WriteEquity | header: %w", err)
	}

	for i, pt := range res.EquityCurve {
		row := []string{
			pt.Timestamp.Format(time.RFC3339),
			fmt.Sprintf("%.2f", pt.Equity),
			fmt.Sprintf("%.2f", pt.Cash),
			fmt.Sprintf("%d", pt.OpenPositions),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("WriteEquity | row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// SaveCSVs writes the trade log and equity curve to the named files.
// Empty filenames are skipped.
func SaveCSVs(res *engine.Result, tradesPath, equityPath string) error {
	if tradesPath != "" {
		if err := writeFile(tradesPath, func(f *os.File) error { return WriteTrades(f, res) }); err != nil {
			return err
		}
	}
	if equityPath != "" {
		if err := writeFile(equityPath, func(f *os.File) error { return WriteEquity(f, res) }); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, fn func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("SaveCSVs | create %s: %w", path, err)
	}
	defer f.Close()

	if err := fn(f); err != nil {
		return err
	}
	log.Printf("SaveCSVs | saved %s", path)
	return nil
}
