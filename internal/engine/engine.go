// Package engine replays a time-ordered stream of bars and signals
// through the simulated broker and records the equity curve.
//
// For each bar, in order: fills are processed first, then signals whose
// timestamp equals the bar's timestamp are admitted and converted into
// orders, then the bar is marked to market and an equity sample is
// appended. No signal-level failure ever aborts the replay; the run
// always proceeds to the final bar, after which remaining pending orders
// are cancelled.
package engine

import (
	"errors"
	"log"
	"time"

	"backsim/internal/broker"
	"backsim/internal/config"
	"backsim/internal/market"
	"backsim/internal/order"
	"backsim/internal/position"
	"backsim/internal/risk"
	"backsim/internal/strategy"
)

// EquitySample is one point on the recorded equity curve.
type EquitySample struct {
	Timestamp     time.Time `json:"timestamp"`
	Equity        float64   `json:"equity"`
	Cash          float64   `json:"cash"`
	OpenPositions int       `json:"open_positions"`
}

// Result is the output of a completed replay.
type Result struct {
	Config           config.Config       `json:"config"`
	Trades           []broker.Trade      `json:"trades"`
	EquityCurve      []EquitySample      `json:"equity_curve"`
	OpenPositions    []position.Position `json:"open_positions"`
	SignalsProcessed int                 `json:"signals_processed"`
	SignalsSkipped   int                 `json:"signals_skipped"`
	BarsProcessed    int                 `json:"bars_processed"`
	StartTime        time.Time           `json:"start_time,omitzero"`
	EndTime          time.Time           `json:"end_time,omitzero"`
}

// Engine is the bar-by-bar replay orchestrator. Each Run owns an
// independent broker, so independent runs may execute in parallel.
type Engine struct {
	cfg      config.Config
	registry *strategy.Registry
}

// New creates an Engine from the run configuration and a strategy
// registry. The registry is the sole strategy resolver; the engine never
// consults global state.
func New(cfg config.Config, registry *strategy.Registry) *Engine {
	return &Engine{cfg: cfg, registry: registry}
}

// signalKey indexes signals by exact timestamp. Matching uses string
// instant equality with no tolerance window, which forces upstream
// timestamp alignment between bars and signals.
func signalKey(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}

// Run replays the bars and signals and returns the completed result.
// Both streams must be sorted by timestamp ascending.
func (e *Engine) Run(bars []market.Bar, signals []market.Signal) *Result {
	b := broker.New(e.cfg)

	// Index signals by timestamp for O(1) lookup per bar.
	signalIndex := make(map[string][]market.Signal, len(signals))
	for _, sig := range signals {
		key := signalKey(sig.Timestamp)
		signalIndex[key] = append(signalIndex[key], sig)
	}

	result := &Result{Config: e.cfg}

	for _, bar := range bars {
		// 1. Process fills on this bar.
		b.OnBar(bar)

		// 2. Admit signals at this bar's timestamp.
		for _, sig := range signalIndex[signalKey(bar.Timestamp)] {
			if bar.Ticker != "" && sig.Ticker != bar.Ticker {
				continue
			}

			// Exposure cap counts open positions plus pending entries.
			exposure := b.OpenPositionCount() + b.PendingEntryCount()
			if e.cfg.MaxOpenPositions > 0 && exposure >= e.cfg.MaxOpenPositions {
				result.SignalsSkipped++
				log.Printf("Run | skipping signal (max positions): %s %s", sig.Ticker, sig.Strategy)
				continue
			}

			if err := e.processSignal(b, sig, bar); err != nil {
				result.SignalsSkipped++
				log.Printf("Run | skipping signal: %v", err)
				continue
			}
			result.SignalsProcessed++
		}

		// 3. Record equity at bar close.
		result.EquityCurve = append(result.EquityCurve, EquitySample{
			Timestamp:     bar.Timestamp,
			Equity:        b.MarkToMarket(bar),
			Cash:          b.Cash(),
			OpenPositions: b.OpenPositionCount(),
		})
	}

	// No order exposure survives the replay window.
	b.CancelAllPending()

	result.Trades = b.Trades()
	for _, pos := range b.OpenPositions() {
		result.OpenPositions = append(result.OpenPositions, *pos)
	}
	result.BarsProcessed = len(bars)
	if len(bars) > 0 {
		result.StartTime = bars[0].Timestamp
		result.EndTime = bars[len(bars)-1].Timestamp
	}
	return result
}

var errUnsupportedMode = errors.New("unsupported signal mode")

// processSignal converts one admitted signal into simulated orders. A
// returned error means the signal is skipped and counted, never that the
// replay stops.
func (e *Engine) processSignal(b *broker.SimBroker, sig market.Signal, bar market.Bar) error {
	stratCfg, err := e.registry.Resolve(sig.Strategy)
	if err != nil {
		return err
	}

	switch sig.Mode {
	case market.ModeStock:
		e.submitStockBracket(b, sig, stratCfg, bar)
	case market.ModeOptions:
		e.submitOptionsOrder(b, sig, stratCfg, bar)
	default:
		return errUnsupportedMode
	}
	return nil
}

// submitStockBracket builds entry (limit) + TP (limit) + SL (stop)
// orders at the configured default quantity and submits them as a
// bracket.
func (e *Engine) submitStockBracket(b *broker.SimBroker, sig market.Signal, stratCfg strategy.Config, bar market.Bar) {
	tpPrice, stopPrice, _ := strategy.StockBracketPrices(sig.Price, sig.Side, stratCfg)

	qty := e.cfg.DefaultStockQty
	exitSide := sig.Side.Opposite()

	entry := &order.Order{
		Timestamp:  bar.Timestamp,
		Ticker:     sig.Ticker,
		Side:       sig.Side,
		Type:       order.Limit,
		Qty:        qty,
		LimitPrice: sig.Price,
		Tag:        order.TagEntry,
	}
	tp := &order.Order{
		Timestamp:  bar.Timestamp,
		Ticker:     sig.Ticker,
		Side:       exitSide,
		Type:       order.Limit,
		Qty:        qty,
		LimitPrice: tpPrice,
		Tag:        order.TagTakeProfit,
	}
	sl := &order.Order{
		Timestamp: bar.Timestamp,
		Ticker:    sig.Ticker,
		Side:      exitSide,
		Type:      order.Stop,
		Qty:       qty,
		StopPrice: stopPrice,
		Tag:       order.TagStopLoss,
	}

	b.SubmitBracketOrder(sig, entry, tp, sl, stratCfg.Name, market.ModeStock, tpPrice, stopPrice)

	log.Printf("submitStockBracket | %s %s @ %.2f (TP=%.2f, SL=%.2f)",
		sig.Side, sig.Ticker, sig.Price, tpPrice, stopPrice)
}

// submitOptionsOrder builds a limit entry order sized by the risk
// sizer, with the signal price standing in for the premium, and submits
// it through the options path (which synthesizes opposite-side TP/SL
// legs).
func (e *Engine) submitOptionsOrder(b *broker.SimBroker, sig market.Signal, stratCfg strategy.Config, bar market.Bar) {
	premium := sig.Price
	tpPrice, slPrice := strategy.OptionsExitPrices(premium, sig.Side, stratCfg)
	qty := risk.OptionsQty(e.cfg.MaxDollarRisk, stratCfg.OptionsSLPct, premium)

	// Contracts are always bought: calls for buy signals, puts for sell.
	entry := &order.Order{
		Timestamp:  bar.Timestamp,
		Ticker:     sig.Ticker,
		Side:       market.Buy,
		Type:       order.Limit,
		Qty:        qty,
		LimitPrice: premium,
		Tag:        order.TagEntry,
	}

	b.SubmitOptionsOrder(sig, entry, tpPrice, slPrice, stratCfg.Name)

	log.Printf("submitOptionsOrder | %s %s premium=%.2f qty=%d (TP=%.2f, SL=%.2f)",
		sig.Side, sig.Ticker, premium, qty, tpPrice, slPrice)
}
