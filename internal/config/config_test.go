package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.InDelta(t, 100_000.0, cfg.InitialCapital, 1e-9)
	assert.Equal(t, 1, cfg.DefaultStockQty)
	assert.Equal(t, 0, cfg.MaxOpenPositions)
	assert.Equal(t, "csv", cfg.Source)
	assert.Contains(t, cfg.Strategies, "bollinger_mean_reversion")
	assert.Contains(t, cfg.Strategies, "lorentzian_classification")
}

func TestDefaultStrategiesEnvOverride(t *testing.T) {
	t.Setenv("BMR_STOCK_TP_PCT", "0.5")

	params := DefaultStrategies()
	assert.InDelta(t, 0.5, params["bollinger_mean_reversion"].StockTPPct, 1e-9)
	// Untouched parameters keep their defaults.
	assert.InDelta(t, 0.1, params["bollinger_mean_reversion"].StockSLPct, 1e-9)
}

func TestFromYAML(t *testing.T) {
	data := []byte(`
initial_capital: 50000
commission_per_trade: 0.5
slippage_pct: 0.1
max_open_positions: 3
ticker: "MSFT"
strategies:
  custom_strategy:
    stock_tp_pct: 1.5
    stock_sl_pct: 0.75
`)

	cfg, err := FromYAML(data)
	assert.NoError(t, err)
	assert.InDelta(t, 50_000.0, cfg.InitialCapital, 1e-9)
	assert.InDelta(t, 0.5, cfg.CommissionPerTrade, 1e-9)
	assert.InDelta(t, 0.1, cfg.SlippagePct, 1e-9)
	assert.Equal(t, 3, cfg.MaxOpenPositions)
	assert.Equal(t, "MSFT", cfg.Ticker)

	// A strategies section replaces the built-ins wholesale.
	assert.Len(t, cfg.Strategies, 1)
	assert.InDelta(t, 1.5, cfg.Strategies["custom_strategy"].StockTPPct, 1e-9)
}

func TestFromYAMLKeepsDefaultStrategies(t *testing.T) {
	cfg, err := FromYAML([]byte(`initial_capital: 1000`))
	assert.NoError(t, err)
	assert.Contains(t, cfg.Strategies, "bollinger_mean_reversion")
}

func TestFromYAMLInvalid(t *testing.T) {
	_, err := FromYAML([]byte(`initial_capital: [not a number`))
	assert.Error(t, err)
}
