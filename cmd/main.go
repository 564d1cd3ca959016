package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"backsim/internal/config"
	"backsim/internal/db"
	"backsim/internal/engine"
	"backsim/internal/fetch"
	"backsim/internal/market"
	"backsim/internal/metrics"
	"backsim/internal/report"
	"backsim/internal/store"
	"backsim/internal/strategy"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Printf("main | config error: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	bars, err := loadBars(ctx, cfg)
	if err != nil {
		log.Printf("main | loading bars: %v", err)
		os.Exit(1)
	}
	if len(bars) == 0 {
		log.Printf("main | no bars loaded for %s", cfg.Ticker)
		os.Exit(1)
	}

	signals, err := loadSignals(ctx, cfg)
	if err != nil {
		log.Printf("main | loading signals: %v", err)
		os.Exit(1)
	}

	log.Printf("main | loaded %d bars and %d signals", len(bars), len(signals))

	registry := strategy.NewRegistry(cfg.Strategies)
	eng := engine.New(cfg, registry)

	startedAt := time.Now().UTC()
	res := eng.Run(bars, signals)
	finishedAt := time.Now().UTC()

	perf := metrics.Compute(res.Trades, res.EquityCurve, cfg.InitialCapital)
	fmt.Print(report.Text(res, perf))

	if err := report.SaveCSVs(res, cfg.TradesCSV, cfg.EquityCSV); err != nil {
		log.Printf("main | saving CSVs: %v", err)
	}

	if cfg.DBConnStr != "" {
		if err := saveRun(ctx, cfg, perf, startedAt, finishedAt); err != nil {
			log.Printf("main | saving run: %v", err)
		}
	}
}

// loadBars retrieves bars from the configured source. Remote sources
// also cache the result in the local Parquet store.
func loadBars(ctx context.Context, cfg config.Config) ([]market.Bar, error) {
	switch cfg.Source {
	case "csv", "":
		return market.LoadBarsCSV(cfg.BarsCSV, cfg.Ticker)

	case "parquet":
		return store.NewParquetStore(cfg.DataDir).ReadBars(cfg.Ticker, cfg.Timeframe, cfg.From, cfg.To)

	case "postgres":
		pg, err := db.NewPostgres(ctx, cfg.DBConnStr)
		if err != nil {
			return nil, err
		}
		defer pg.Close()
		return pg.GetBars(ctx, cfg.Ticker, cfg.Timeframe, cfg.From, cfg.To)

	case "alpaca", "wallex":
		var src fetch.Source
		if cfg.Source == "alpaca" {
			src = fetch.NewAlpacaSource(cfg.AlpacaAPIKey, cfg.AlpacaAPISecret, cfg.AlpacaDataURL)
		} else {
			src = fetch.NewWallexSource(cfg.WallexAPIKey)
		}

		bars, err := src.FetchBars(ctx, cfg.Ticker, cfg.Timeframe, cfg.From, cfg.To)
		if err != nil {
			return nil, err
		}

		if cfg.DataDir != "" {
			if err := store.NewParquetStore(cfg.DataDir).WriteBars(bars, cfg.Timeframe); err != nil {
				log.Printf("loadBars | caching %s bars: %v", src.Name(), err)
			}
		}
		return bars, nil

	default:
		return nil, fmt.Errorf("unknown bar source: %s", cfg.Source)
	}
}

// loadSignals retrieves signals from the source matching the bar source
// where that makes sense, falling back to CSV for remote bar sources.
func loadSignals(ctx context.Context, cfg config.Config) ([]market.Signal, error) {
	switch cfg.Source {
	case "parquet":
		return store.NewParquetStore(cfg.DataDir).ReadSignals(cfg.Ticker, cfg.From, cfg.To)

	case "postgres":
		pg, err := db.NewPostgres(ctx, cfg.DBConnStr)
		if err != nil {
			return nil, err
		}
		defer pg.Close()
		return pg.GetSignals(ctx, cfg.Ticker, cfg.From, cfg.To)

	default:
		return market.LoadSignalsCSV(cfg.SignalsCSV)
	}
}

// saveRun persists a summary of the finished run to Postgres.
func saveRun(ctx context.Context, cfg config.Config, perf metrics.Performance, startedAt, finishedAt time.Time) error {
	pg, err := db.NewPostgres(ctx, cfg.DBConnStr)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		return err
	}

	cfgYAML, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	id, err := pg.SaveRun(ctx, db.RunSummary{
		Ticker:         cfg.Ticker,
		Timeframe:      cfg.Timeframe,
		StartedAt:      startedAt,
		FinishedAt:     finishedAt,
		InitialCapital: perf.InitialCapital,
		FinalEquity:    perf.FinalEquity,
		TotalTrades:    perf.TotalTrades,
		WinRate:        perf.WinRate,
		MaxDrawdownPct: perf.Drawdown.MaxDrawdownPct,
		SharpeRatio:    perf.SharpeRatio,
		ConfigYAML:     string(cfgYAML),
	})
	if err != nil {
		return err
	}

	log.Printf("saveRun | run %d saved", id)
	return nil
}
