package market

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Timestamp layouts accepted in bar and signal CSV files. The first match wins.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z",
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
}

// ParseTimestamp tries the supported layouts and returns the first match.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse timestamp %q", value)
}

// LoadBarsCSV reads OHLCV bars from a CSV file with a header row of
// timestamp,open,high,low,close,volume and an optional ticker column.
// The defaultTicker is used for rows without a ticker column. Bars are
// returned sorted by timestamp ascending.
func LoadBarsCSV(path, defaultTicker string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadBarsCSV | opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("LoadBarsCSV | reading %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("LoadBarsCSV | %s is empty", path)
	}

	cols := headerIndex(rows[0])
	bars := make([]Bar, 0, len(rows)-1)
	for i, row := range rows[1:] {
		ts, err := ParseTimestamp(field(row, cols, "timestamp"))
		if err != nil {
			return nil, fmt.Errorf("LoadBarsCSV | row %d: %w", i+2, err)
		}
		b := Bar{
			Timestamp: ts,
			Ticker:    strings.ToUpper(field(row, cols, "ticker")),
		}
		if b.Ticker == "" {
			b.Ticker = defaultTicker
		}
		if b.Open, err = parseField(row, cols, "open"); err != nil {
			return nil, fmt.Errorf("LoadBarsCSV | row %d: %w", i+2, err)
		}
		if b.High, err = parseField(row, cols, "high"); err != nil {
			return nil, fmt.Errorf("LoadBarsCSV | row %d: %w", i+2, err)
		}
		if b.Low, err = parseField(row, cols, "low"); err != nil {
			return nil, fmt.Errorf("LoadBarsCSV | row %d: %w", i+2, err)
		}
		if b.Close, err = parseField(row, cols, "close"); err != nil {
			return nil, fmt.Errorf("LoadBarsCSV | row %d: %w", i+2, err)
		}
		// Volume column is optional
		if _, ok := cols["volume"]; ok {
			if b.Volume, err = parseField(row, cols, "volume"); err != nil {
				return nil, fmt.Errorf("LoadBarsCSV | row %d: %w", i+2, err)
			}
		}
		bars = append(bars, b)
	}

	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

// LoadSignalsCSV reads trade signals from a CSV file with a header row of
// timestamp,ticker,side,price,strategy and an optional mode column
// (default "stock"). Signals are returned sorted by timestamp ascending.
func LoadSignalsCSV(path string) ([]Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadSignalsCSV | opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("LoadSignalsCSV | reading %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("LoadSignalsCSV | %s is empty", path)
	}

	cols := headerIndex(rows[0])
	signals := make([]Signal, 0, len(rows)-1)
	for i, row := range rows[1:] {
		ts, err := ParseTimestamp(field(row, cols, "timestamp"))
		if err != nil {
			return nil, fmt.Errorf("LoadSignalsCSV | row %d: %w", i+2, err)
		}
		price, err := parseField(row, cols, "price")
		if err != nil {
			return nil, fmt.Errorf("LoadSignalsCSV | row %d: %w", i+2, err)
		}
		mode := Mode(strings.ToLower(field(row, cols, "mode")))
		if mode == "" {
			mode = ModeStock
		}
		sig := Signal{
			Timestamp: ts,
			Ticker:    strings.ToUpper(field(row, cols, "ticker")),
			Side:      Side(strings.ToLower(field(row, cols, "side"))),
			Price:     price,
			Strategy:  strings.ToLower(field(row, cols, "strategy")),
			Mode:      mode,
		}
		if err := sig.Validate(); err != nil {
			return nil, fmt.Errorf("LoadSignalsCSV | row %d: %w", i+2, err)
		}
		signals = append(signals, sig)
	}

	sort.SliceStable(signals, func(i, j int) bool {
		return signals[i].Timestamp.Before(signals[j].Timestamp)
	})
	return signals, nil
}

func headerIndex(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return cols
}

func field(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseField(row []string, cols map[string]int, name string) (float64, error) {
	raw := field(row, cols, name)
	if raw == "" {
		return 0, fmt.Errorf("missing %s column", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", name, err)
	}
	return v, nil
}
