package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"backsim/internal/market"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func testBar(day int, close float64) market.Bar {
	return market.Bar{
		Timestamp: t0.AddDate(0, 0, day),
		Open:      close - 0.5,
		High:      close + 1,
		Low:       close - 1,
		Close:     close,
		Volume:    1000,
		Ticker:    "AAPL",
	}
}

func TestBarsRoundTrip(t *testing.T) {
	s := NewParquetStore(t.TempDir())

	bars := []market.Bar{testBar(0, 100), testBar(1, 101), testBar(2, 102)}
	assert.NoError(t, s.WriteBars(bars, "1d"))

	got, err := s.ReadBars("AAPL", "1d", t0, t0.AddDate(0, 0, 3))
	assert.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, bars[0].Timestamp, got[0].Timestamp)
	assert.InDelta(t, 100.0, got[0].Close, 1e-9)

	// Half-open range excludes the end timestamp.
	got, err = s.ReadBars("AAPL", "1d", t0, t0.AddDate(0, 0, 2))
	assert.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestBarsMergeDedupe(t *testing.T) {
	s := NewParquetStore(t.TempDir())

	assert.NoError(t, s.WriteBars([]market.Bar{testBar(0, 100)}, "1d"))

	updated := testBar(0, 100)
	updated.Close = 100.5
	assert.NoError(t, s.WriteBars([]market.Bar{updated, testBar(1, 101)}, "1d"))

	got, err := s.ReadBars("AAPL", "1d", t0, t0.AddDate(0, 0, 2))
	assert.NoError(t, err)
	assert.Len(t, got, 2)
	// The rewrite won over the original record.
	assert.InDelta(t, 100.5, got[0].Close, 1e-9)
}

func TestBarsSpanYears(t *testing.T) {
	s := NewParquetStore(t.TempDir())

	dec := testBar(0, 100)
	dec.Timestamp = time.Date(2023, 12, 29, 0, 0, 0, 0, time.UTC)
	jan := testBar(0, 101)

	assert.NoError(t, s.WriteBars([]market.Bar{dec, jan}, "1d"))

	got, err := s.ReadBars("AAPL", "1d",
		time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
	assert.Len(t, got, 2)
	assert.True(t, got[0].Timestamp.Before(got[1].Timestamp))
}

func TestReadBarsMissingFiles(t *testing.T) {
	s := NewParquetStore(t.TempDir())
	got, err := s.ReadBars("AAPL", "1d", t0, t0.AddDate(0, 0, 1))
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestSignalsRoundTrip(t *testing.T) {
	s := NewParquetStore(t.TempDir())

	signals := []market.Signal{
		{Timestamp: t0, Ticker: "AAPL", Side: market.Buy, Price: 100, Strategy: "s1", Mode: market.ModeStock},
		{Timestamp: t0.AddDate(0, 0, 1), Ticker: "AAPL", Side: market.Sell, Price: 101, Strategy: "s1", Mode: market.ModeOptions},
	}
	assert.NoError(t, s.WriteSignals(signals))

	got, err := s.ReadSignals("AAPL", t0, t0.AddDate(0, 0, 2))
	assert.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, market.Buy, got[0].Side)
	assert.Equal(t, market.ModeOptions, got[1].Mode)
	assert.Equal(t, "s1", got[0].Strategy)
}

func TestListTickers(t *testing.T) {
	s := NewParquetStore(t.TempDir())

	msft := testBar(0, 300)
	msft.Ticker = "MSFT"
	assert.NoError(t, s.WriteBars([]market.Bar{testBar(0, 100), msft}, "1d"))

	tickers, err := s.ListTickers("1d")
	assert.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT"}, tickers)

	tickers, err = s.ListTickers("1h")
	assert.NoError(t, err)
	assert.Empty(t, tickers)
}
