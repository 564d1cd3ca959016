// Package db persists bars, signals, and completed run summaries.
package db

import (
	"context"
	"time"

	"backsim/internal/market"
)

// RunSummary is the persisted record of one completed replay.
type RunSummary struct {
	ID             int64     `json:"id"`
	Ticker         string    `json:"ticker"`
	Timeframe      string    `json:"timeframe"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	InitialCapital float64   `json:"initial_capital"`
	FinalEquity    float64   `json:"final_equity"`
	TotalTrades    int       `json:"total_trades"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	ConfigYAML     string    `json:"config_yaml"`
}

// Storage is the persistence surface the rest of the system consumes.
type Storage interface {
	SaveBars(ctx context.Context, bars []market.Bar, timeframe string) error
	GetBars(ctx context.Context, ticker, timeframe string, start, end time.Time) ([]market.Bar, error)
	GetLatestBar(ctx context.Context, ticker, timeframe string) (*market.Bar, error)

	SaveSignals(ctx context.Context, signals []market.Signal) error
	GetSignals(ctx context.Context, ticker string, start, end time.Time) ([]market.Signal, error)

	SaveRun(ctx context.Context, run RunSummary) (int64, error)
	GetRuns(ctx context.Context, ticker string, limit int) ([]RunSummary, error)
}
