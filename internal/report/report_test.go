package report

import (
	"bytes"
	"encoding/csv"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"backsim/internal/broker"
	"backsim/internal/engine"
	"backsim/internal/market"
	"backsim/internal/metrics"
	"backsim/internal/position"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func sampleResult() *engine.Result {
	return &engine.Result{
		Trades: []broker.Trade{
			{
				Strategy: "bollinger_mean_reversion",
				Mode:     market.ModeStock,
				Position: position.Position{
					Ticker:         "AAPL",
					Side:           market.Buy,
					Qty:            10,
					EntryPrice:     100,
					EntryTimestamp: t0,
					ExitPrice:      102,
					ExitTimestamp:  t0.AddDate(0, 0, 1),
					Status:         position.StatusClosed,
					Mode:           market.ModeStock,
				},
			},
		},
		EquityCurve: []engine.EquitySample{
			{Timestamp: t0, Equity: 100_000, Cash: 99_000, OpenPositions: 1},
			{Timestamp: t0.AddDate(0, 0, 1), Equity: 100_020, Cash: 100_020},
		},
		SignalsProcessed: 1,
		BarsProcessed:    2,
		StartTime:        t0,
		EndTime:          t0.AddDate(0, 0, 1),
	}
}

func TestText(t *testing.T) {
	res := sampleResult()
	perf := metrics.Compute(res.Trades, res.EquityCurve, 100_000)

	out := Text(res, perf)

	assert.Contains(t, out, "BACKTEST RESULTS")
	assert.Contains(t, out, "Total trades:        1")
	assert.Contains(t, out, "bollinger_mean_reversion")
	assert.Contains(t, out, "Final equity:        100020.00")
	// Infinite profit factor renders as "inf", not "+Inf".
	assert.Contains(t, out, "inf")
	assert.NotContains(t, out, "+Inf")
}

func TestFormatRatio(t *testing.T) {
	assert.Equal(t, "1.50", formatRatio(1.5))
	assert.Equal(t, "inf", formatRatio(math.Inf(1)))
}

func TestWriteTrades(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, WriteTrades(&buf, sampleResult()))

	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	assert.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, "Trade#", rows[0][0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "AAPL", rows[1][2])
	assert.Equal(t, "20.00", rows[1][10])
}

func TestWriteEquity(t *testing.T) {
	var buf bytes.Buffer
	assert.NoError(t, WriteEquity(&buf, sampleResult()))

	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	assert.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, []string{"Timestamp", "Equity", "Cash", "OpenPositions"}, rows[0])
	assert.Equal(t, "100000.00", rows[1][1])
	assert.Equal(t, "1", rows[1][3])
}
