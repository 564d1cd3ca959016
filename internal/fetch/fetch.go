// Package fetch retrieves historical bars from remote market-data
// providers.
package fetch

import (
	"context"
	"errors"
	"log"
	"time"

	"backsim/internal/market"
)

// Source fetches historical bars for a ticker over a time range.
type Source interface {
	Name() string
	FetchBars(ctx context.Context, ticker, timeframe string, start, end time.Time) ([]market.Bar, error)
}

// retry wraps a function with retry logic for transient errors, using exponential backoff and error logging.
func retry(name string, attempts int, delay time.Duration, fn func() error) error {
	backoff := delay
	for i := 1; i <= attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		log.Printf("Fetch | %s retry attempt %d/%d failed: %v. Backing off for %v", name, i, attempts, err, backoff)
		time.Sleep(backoff)
		// Exponential backoff, capped at 5 minutes
		if backoff < 5*time.Minute {
			backoff *= 2
			if backoff > 5*time.Minute {
				backoff = 5 * time.Minute
			}
		}
	}
	return errors.New("all retry attempts failed")
}
