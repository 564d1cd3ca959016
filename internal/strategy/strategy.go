// Package strategy
package strategy

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"backsim/internal/config"
	"backsim/internal/market"
)

// ErrUnknownStrategy is returned by Resolve when a signal names a
// strategy that is not registered. Callers skip the signal and continue.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Config is the immutable per-strategy bracket configuration consumed by
// the price functions below.
type Config struct {
	Name string

	// Stock bracket percentages (applied to entry price)
	StockTPPct        float64
	StockSLPct        float64
	StockStopLimitPct float64

	// Options bracket percentages (applied to premium price)
	OptionsTPPct float64
	OptionsSLPct float64
}

// Registry resolves strategy names to their configurations. It is built
// once from config data and passed into the engine; there is no
// module-level registry.
type Registry struct {
	byName map[string]Config
}

// NewRegistry builds a Registry from the configured strategy parameters.
func NewRegistry(params map[string]config.StrategyParams) *Registry {
	byName := make(map[string]Config, len(params))
	for name, p := range params {
		byName[name] = Config{
			Name:              name,
			StockTPPct:        p.StockTPPct,
			StockSLPct:        p.StockSLPct,
			StockStopLimitPct: p.StockStopLimitPct,
			OptionsTPPct:      p.OptionsTPPct,
			OptionsSLPct:      p.OptionsSLPct,
		}
	}
	return &Registry{byName: byName}
}

// Names returns the registered strategy names sorted alphabetically.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve looks up a strategy by name. The error wraps
// ErrUnknownStrategy when the name is not registered.
func (r *Registry) Resolve(name string) (Config, error) {
	cfg, ok := r.byName[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q (registered: %s)",
			ErrUnknownStrategy, name, strings.Join(r.Names(), ", "))
	}
	return cfg, nil
}

// StockBracketPrices computes take-profit, stop, and stop-limit prices
// for a stock bracket order. Buys place the TP above and the SL below the
// entry; sells are mirrored. Raw floats, caller rounds.
func StockBracketPrices(entryPrice float64, side market.Side, cfg Config) (tp, stop, stopLimit float64) {
	tpMult := cfg.StockTPPct / 100.0
	slMult := cfg.StockSLPct / 100.0
	slLimitMult := cfg.StockStopLimitPct / 100.0

	if side == market.Buy {
		tp = entryPrice * (1 + tpMult)
		stop = entryPrice * (1 - slMult)
		stopLimit = entryPrice * (1 - slLimitMult)
	} else {
		tp = entryPrice * (1 - tpMult)
		stop = entryPrice * (1 + slMult)
		stopLimit = entryPrice * (1 + slLimitMult)
	}
	return tp, stop, stopLimit
}

// OptionsExitPrices computes take-profit and stop-loss target premiums
// for an options position. Contracts are always bought (calls for buy
// signals, puts for sell), so the TP is above the premium and the SL
// below it regardless of the signal side.
func OptionsExitPrices(premium float64, _ market.Side, cfg Config) (tp, sl float64) {
	tp = premium * (1 + cfg.OptionsTPPct/100.0)
	sl = premium * (1 - cfg.OptionsSLPct/100.0)
	return tp, sl
}
