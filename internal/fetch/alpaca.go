package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"backsim/internal/market"
)

// AlpacaSource fetches US equity bars from the Alpaca market-data API.
type AlpacaSource struct {
	client *marketdata.Client
	feed   string
}

var _ Source = (*AlpacaSource)(nil)

func NewAlpacaSource(apiKey, apiSecret, baseURL string) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if baseURL != "" {
		opts.BaseURL = baseURL
	}

	return &AlpacaSource{
		client: marketdata.NewClient(opts),
		feed:   "sip",
	}
}

func (a *AlpacaSource) Name() string { return "alpaca" }

// alpacaTimeFrame maps our timeframe names to Alpaca request timeframes.
func alpacaTimeFrame(timeframe string) (marketdata.TimeFrame, error) {
	switch timeframe {
	case "1m":
		return marketdata.OneMin, nil
	case "5m":
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case "15m":
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case "30m":
		return marketdata.NewTimeFrame(30, marketdata.Min), nil
	case "1h":
		return marketdata.OneHour, nil
	case "4h":
		return marketdata.NewTimeFrame(4, marketdata.Hour), nil
	case "1d":
		return marketdata.OneDay, nil
	default:
		return marketdata.TimeFrame{}, fmt.Errorf("unsupported timeframe: %s", timeframe)
	}
}

func (a *AlpacaSource) FetchBars(ctx context.Context, ticker, timeframe string, start, end time.Time) ([]market.Bar, error) {
	tf, err := alpacaTimeFrame(timeframe)
	if err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var alpacaBars []marketdata.Bar
	err = retry(a.Name(), 3, 2*time.Second, func() error {
		var err error
		alpacaBars, err = a.client.GetBars(ticker, marketdata.GetBarsRequest{
			TimeFrame: tf,
			Start:     start,
			End:       end,
			Feed:      marketdata.Feed(a.feed),
		})
		if err != nil {
			return fmt.Errorf("GetBars: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("FetchBars failed: %w", err)
	}

	var bars []market.Bar
	for _, ab := range alpacaBars {
		b := market.Bar{
			Timestamp: ab.Timestamp.UTC(),
			Open:      ab.Open,
			High:      ab.High,
			Low:       ab.Low,
			Close:     ab.Close,
			Volume:    float64(ab.Volume),
			Ticker:    ticker,
		}
		if err := b.Validate(); err != nil {
			continue
		}
		bars = append(bars, b)
	}

	return bars, nil
}
