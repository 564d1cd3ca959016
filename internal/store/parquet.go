// Package store persists bars and signals as Parquet files on disk.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"backsim/internal/market"
)

// ParquetStore reads and writes bar and signal data as Parquet files
// partitioned by ticker and year.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// BarRecord is the Parquet schema for bar data.
type BarRecord struct {
	Ticker    string  `parquet:"ticker"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// SignalRecord is the Parquet schema for signal data.
type SignalRecord struct {
	Ticker    string  `parquet:"ticker"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Side      string  `parquet:"side"`
	Price     float64 `parquet:"price"`
	Strategy  string  `parquet:"strategy"`
	Mode      string  `parquet:"mode"`
}

// WriteBars writes bars to Parquet grouped by ticker and year. Existing
// records in each file are merged and deduplicated by timestamp, with
// incoming records winning.
func (s *ParquetStore) WriteBars(bars []market.Bar, timeframe string) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		ticker string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{ticker: b.Ticker, year: b.Timestamp.Year()}
		groups[k] = append(groups[k], BarRecord{
			Ticker:    b.Ticker,
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	for k, records := range groups {
		path := s.barPath(k.ticker, timeframe, k.year)

		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.ticker, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bars for the given ticker and time range, spanning
// year files as needed. Results are sorted by timestamp.
func (s *ParquetStore) ReadBars(ticker, timeframe string, start, end time.Time) ([]market.Bar, error) {
	var bars []market.Bar
	for year := start.Year(); year <= end.Year(); year++ {
		path := s.barPath(ticker, timeframe, year)

		records, err := readParquetFile[BarRecord](path)
		if err != nil {
			// No file for this year.
			continue
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if !ts.Before(start) && ts.Before(end) {
				bars = append(bars, market.Bar{
					Timestamp: ts,
					Open:      r.Open,
					High:      r.High,
					Low:       r.Low,
					Close:     r.Close,
					Volume:    r.Volume,
					Ticker:    r.Ticker,
				})
			}
		}
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

// WriteSignals writes signals to Parquet grouped by ticker and year,
// deduplicated by (timestamp, strategy).
func (s *ParquetStore) WriteSignals(signals []market.Signal) error {
	if len(signals) == 0 {
		return nil
	}

	type key struct {
		ticker string
		year   int
	}
	groups := make(map[key][]SignalRecord)
	for _, sig := range signals {
		k := key{ticker: sig.Ticker, year: sig.Timestamp.Year()}
		groups[k] = append(groups[k], SignalRecord{
			Ticker:    sig.Ticker,
			Timestamp: sig.Timestamp.UnixMilli(),
			Side:      string(sig.Side),
			Price:     sig.Price,
			Strategy:  sig.Strategy,
			Mode:      string(sig.Mode),
		})
	}

	for k, records := range groups {
		path := s.signalPath(k.ticker, k.year)

		existing, _ := readParquetFile[SignalRecord](path)
		merged := mergeSignalRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing signals for %s/%d: %w", k.ticker, k.year, err)
		}
	}
	return nil
}

// ReadSignals reads signals for the given ticker and time range.
func (s *ParquetStore) ReadSignals(ticker string, start, end time.Time) ([]market.Signal, error) {
	var signals []market.Signal
	for year := start.Year(); year <= end.Year(); year++ {
		path := s.signalPath(ticker, year)

		records, err := readParquetFile[SignalRecord](path)
		if err != nil {
			continue
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if !ts.Before(start) && ts.Before(end) {
				signals = append(signals, market.Signal{
					Timestamp: ts,
					Ticker:    r.Ticker,
					Side:      market.Side(r.Side),
					Price:     r.Price,
					Strategy:  r.Strategy,
					Mode:      market.Mode(r.Mode),
				})
			}
		}
	}

	sort.Slice(signals, func(i, j int) bool {
		return signals[i].Timestamp.Before(signals[j].Timestamp)
	})
	return signals, nil
}

// ListTickers lists tickers that have bar data for the given timeframe.
func (s *ParquetStore) ListTickers(timeframe string) ([]string, error) {
	dir := filepath.Join(s.DataDir, "bars", timeframe)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tickers []string
	for _, e := range entries {
		if e.IsDir() {
			tickers = append(tickers, e.Name())
		}
	}
	sort.Strings(tickers)
	return tickers, nil
}

// barPath layout: <dataDir>/bars/<timeframe>/<TICKER>/<YYYY>.parquet
func (s *ParquetStore) barPath(ticker, timeframe string, year int) string {
	return filepath.Join(s.DataDir, "bars", timeframe, strings.ToUpper(ticker), fmt.Sprintf("%d.parquet", year))
}

// signalPath layout: <dataDir>/signals/<TICKER>/<YYYY>.parquet
func (s *ParquetStore) signalPath(ticker string, year int) string {
	return filepath.Join(s.DataDir, "signals", strings.ToUpper(ticker), fmt.Sprintf("%d.parquet", year))
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates by (ticker, timestamp), incoming wins.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		ticker string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Ticker, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Ticker, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}

// mergeSignalRecords deduplicates by (ticker, timestamp, strategy),
// incoming wins.
func mergeSignalRecords(existing, incoming []SignalRecord) []SignalRecord {
	type key struct {
		ticker   string
		ts       int64
		strategy string
	}
	seen := make(map[key]SignalRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Ticker, r.Timestamp, r.Strategy}] = r
	}
	for _, r := range incoming {
		seen[key{r.Ticker, r.Timestamp, r.Strategy}] = r
	}

	merged := make([]SignalRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
