package fetch

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	wallex "github.com/wallexchange/wallex-go"

	"backsim/internal/market"
)

// WallexSource fetches bars from the Wallex exchange API.
type WallexSource struct {
	client *wallex.Client
}

var _ Source = (*WallexSource)(nil)

func NewWallexSource(apiKey string) *WallexSource {
	return &WallexSource{
		client: wallex.New(wallex.ClientOptions{APIKey: apiKey}),
	}
}

func (w *WallexSource) Name() string { return "wallex" }

// wallexResolution maps our timeframe names to Wallex candle resolutions.
func wallexResolution(timeframe string) (string, error) {
	switch timeframe {
	case "1m":
		return "1", nil
	case "5m":
		return "5", nil
	case "15m":
		return "15", nil
	case "30m":
		return "30", nil
	case "1h":
		return "60", nil
	case "4h":
		return "240", nil
	case "1d":
		return "D", nil
	default:
		return "", fmt.Errorf("unsupported timeframe: %s", timeframe)
	}
}

func (w *WallexSource) FetchBars(ctx context.Context, ticker, timeframe string, start, end time.Time) ([]market.Bar, error) {
	resolution, err := wallexResolution(timeframe)
	if err != nil {
		return nil, err
	}

	var candles []*wallex.Candle

	select {
	case <-ctx.Done():
		log.Printf("Fetch | %s FetchBars timeout", w.Name())
		return nil, ctx.Err()

	default:
		err := retry(w.Name(), 3, 2*time.Second, func() error {
			var err error
			candles, err = w.client.Candles(ticker, resolution, start, end)
			if err != nil {
				return fmt.Errorf("fetching candles: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("FetchBars failed: %w", err)
		}
	}

	var bars []market.Bar
	for _, c := range candles {
		open, _ := strconv.ParseFloat(string(c.Open), 64)
		high, _ := strconv.ParseFloat(string(c.High), 64)
		low, _ := strconv.ParseFloat(string(c.Low), 64)
		closeP, _ := strconv.ParseFloat(string(c.Close), 64)
		volume, _ := strconv.ParseFloat(string(c.Volume), 64)

		b := market.Bar{
			Timestamp: c.Timestamp.UTC().Truncate(time.Minute),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeP,
			Volume:    volume,
			Ticker:    ticker,
		}

		// Skip invalid candles rather than aborting the whole range.
		if err := b.Validate(); err != nil {
			continue
		}
		bars = append(bars, b)
	}

	return bars, nil
}
