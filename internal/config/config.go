// Package config
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

/*
YAML config example:
initial_capital: 100000
commission_per_trade: 1.0
slippage_pct: 0.1
default_stock_qty: 10
max_dollar_risk: 50
max_open_positions: 3
ticker: "AAPL"
bars_csv: "bars.csv"
signals_csv: "signals.csv"
db_conn_str: "..."
data_dir: "data"
source: "csv"
timeframe: "1d"
strategies:
  bollinger_mean_reversion:
    stock_tp_pct: 0.2
    stock_sl_pct: 0.1
    stock_stop_limit_pct: 0.15
    options_tp_pct: 20.0
    options_sl_pct: 10.0
*/

// StrategyParams holds the bracket percentages for one named strategy.
// Stock percentages apply to the entry price; options percentages apply
// to the premium.
type StrategyParams struct {
	StockTPPct        float64 `yaml:"stock_tp_pct"`
	StockSLPct        float64 `yaml:"stock_sl_pct"`
	StockStopLimitPct float64 `yaml:"stock_stop_limit_pct"`
	OptionsTPPct      float64 `yaml:"options_tp_pct"`
	OptionsSLPct      float64 `yaml:"options_sl_pct"`
}

// Config carries every setting for a backtest run. The strategy registry
// lives here as plain data so the engine never consults global state.
type Config struct {
	InitialCapital     float64 `yaml:"initial_capital"`
	CommissionPerTrade float64 `yaml:"commission_per_trade"`
	SlippagePct        float64 `yaml:"slippage_pct"`
	DefaultStockQty    int     `yaml:"default_stock_qty"`
	MaxDollarRisk      float64 `yaml:"max_dollar_risk"`
	MaxOpenPositions   int     `yaml:"max_open_positions"` // 0 = unlimited

	// Data selection for the CLI
	Ticker     string    `yaml:"ticker"`
	Timeframe  string    `yaml:"timeframe"`
	From       time.Time `yaml:"-"`
	To         time.Time `yaml:"-"`
	Source     string    `yaml:"source"` // csv, parquet, postgres, alpaca, wallex
	BarsCSV    string    `yaml:"bars_csv"`
	SignalsCSV string    `yaml:"signals_csv"`
	DataDir    string    `yaml:"data_dir"`
	DBConnStr  string    `yaml:"db_conn_str"`
	TradesCSV  string    `yaml:"trades_csv"`
	EquityCSV  string    `yaml:"equity_csv"`

	AlpacaAPIKey    string `yaml:"alpaca_api_key"`
	AlpacaAPISecret string `yaml:"alpaca_api_secret"`
	AlpacaDataURL   string `yaml:"alpaca_data_url"`
	WallexAPIKey    string `yaml:"wallex_api_key"`

	Strategies map[string]StrategyParams `yaml:"strategies"`
}

// envFloat reads a float from an environment variable with a fallback default.
func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// DefaultStrategies returns the built-in strategy registry parameters.
// Percentages can be tuned through environment variables without code
// changes; a strategies section in the YAML config replaces them wholesale.
func DefaultStrategies() map[string]StrategyParams {
	return map[string]StrategyParams{
		"bollinger_mean_reversion": {
			StockTPPct:        envFloat("BMR_STOCK_TP_PCT", 0.2),
			StockSLPct:        envFloat("BMR_STOCK_SL_PCT", 0.1),
			StockStopLimitPct: envFloat("BMR_STOCK_STOP_LIMIT_PCT", 0.15),
			OptionsTPPct:      envFloat("BMR_OPTIONS_TP_PCT", 20.0),
			OptionsSLPct:      envFloat("BMR_OPTIONS_SL_PCT", 10.0),
		},
		"lorentzian_classification": {
			StockTPPct:        envFloat("LC_STOCK_TP_PCT", 1.0),
			StockSLPct:        envFloat("LC_STOCK_SL_PCT", 0.8),
			StockStopLimitPct: envFloat("LC_STOCK_STOP_LIMIT_PCT", 0.9),
			OptionsTPPct:      envFloat("LC_OPTIONS_TP_PCT", 50.0),
			OptionsSLPct:      envFloat("LC_OPTIONS_SL_PCT", 40.0),
		},
	}
}

// Default returns a Config with the standard run parameters and the
// built-in strategy registry.
func Default() Config {
	return Config{
		InitialCapital:  100_000,
		DefaultStockQty: 1,
		MaxDollarRisk:   50,
		Timeframe:       "1d",
		Source:          "csv",
		TradesCSV:       "backtest_trades.csv",
		EquityCSV:       "backtest_equity.csv",
		Strategies:      DefaultStrategies(),
	}
}

// FromYAML parses a YAML document over the defaults.
func FromYAML(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = DefaultStrategies()
	}
	return cfg, nil
}

// Load builds the configuration from command-line flags, optionally
// overridden by a YAML config file given with -config.
func Load() (Config, error) {
	initialCapital := flag.Float64("initial-capital", 100_000, "Starting cash balance")
	commission := flag.Float64("commission", 0.0, "Flat commission per fill")
	slippagePct := flag.Float64("slippage-pct", 0.0, "Slippage percent per fill (e.g., 0.1 for 0.1%)")
	stockQty := flag.Int("stock-qty", 1, "Shares per stock signal")
	maxDollarRisk := flag.Float64("max-dollar-risk", 50.0, "Max dollar risk per options trade")
	maxOpenPositions := flag.Int("max-open-positions", 0, "Max concurrent open positions (0 = unlimited)")
	ticker := flag.String("ticker", "", "Default ticker for bars without one")
	timeframe := flag.String("timeframe", "1d", "Bar timeframe for remote sources")
	from := flag.String("from", time.Now().AddDate(-1, 0, 0).Format("2006-01-02"), "Start date (YYYY-MM-DD) for remote sources")
	to := flag.String("to", time.Now().Format("2006-01-02"), "End date (YYYY-MM-DD) for remote sources")
	source := flag.String("source", "csv", "Bar source: csv, parquet, postgres, alpaca, wallex")
	barsCSV := flag.String("bars", "bars.csv", "Path to bars CSV")
	signalsCSV := flag.String("signals", "signals.csv", "Path to signals CSV")
	dataDir := flag.String("data-dir", "data", "Parquet data directory")
	dbConnStr := flag.String("db", os.Getenv("DB_CONN_STR"), "Postgres connection string")
	tradesCSV := flag.String("trades-out", "backtest_trades.csv", "Trade log output CSV")
	equityCSV := flag.String("equity-out", "backtest_equity.csv", "Equity curve output CSV")
	configFile := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
		return FromYAML(data)
	}

	fromTime, err := time.Parse("2006-01-02", *from)
	if err != nil {
		return Config{}, fmt.Errorf("parsing -from: %w", err)
	}
	toTime, err := time.Parse("2006-01-02", *to)
	if err != nil {
		return Config{}, fmt.Errorf("parsing -to: %w", err)
	}

	return Config{
		InitialCapital:     *initialCapital,
		CommissionPerTrade: *commission,
		SlippagePct:        *slippagePct,
		DefaultStockQty:    *stockQty,
		MaxDollarRisk:      *maxDollarRisk,
		MaxOpenPositions:   *maxOpenPositions,
		Ticker:             *ticker,
		Timeframe:          *timeframe,
		From:               fromTime,
		To:                 toTime,
		Source:             *source,
		BarsCSV:            *barsCSV,
		SignalsCSV:         *signalsCSV,
		DataDir:            *dataDir,
		DBConnStr:          *dbConnStr,
		TradesCSV:          *tradesCSV,
		EquityCSV:          *equityCSV,
		AlpacaAPIKey:       os.Getenv("ALPACA_API_KEY"),
		AlpacaAPISecret:    os.Getenv("ALPACA_API_SECRET"),
		AlpacaDataURL:      os.Getenv("ALPACA_DATA_URL"),
		WallexAPIKey:       os.Getenv("WALLEX_API_KEY"),
		Strategies:         DefaultStrategies(),
	}, nil
}
