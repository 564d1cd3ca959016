// Package market
package market

import (
	"errors"
	"time"
)

// Side is the direction of a signal or order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the exit side for a given entry side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Mode selects the instrument class a signal trades.
type Mode string

const (
	ModeStock   Mode = "stock"
	ModeOptions Mode = "options"
)

// Multiplier returns the contract multiplier for a mode (100 for options).
func (m Mode) Multiplier() float64 {
	if m == ModeOptions {
		return 100
	}
	return 1
}

// Bar is a single OHLCV price bar. Bars are produced by the ingestion
// layer and never mutated by the replay core.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Ticker    string    `json:"ticker"`
}

// Validate checks if a bar has valid data
func (b *Bar) Validate() error {
	if b.Timestamp.IsZero() {
		return errors.New("bar timestamp is zero")
	}
	if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
		return errors.New("bar prices must be positive")
	}
	if b.High < b.Low {
		return errors.New("bar high cannot be less than low")
	}
	if b.Open < b.Low || b.Open > b.High {
		return errors.New("bar open price must be between high and low")
	}
	if b.Close < b.Low || b.Close > b.High {
		return errors.New("bar close price must be between high and low")
	}
	if b.Volume < 0 {
		return errors.New("bar volume cannot be negative")
	}
	return nil
}

// Signal is an intent to trade, replayed against the bar stream.
type Signal struct {
	Timestamp time.Time `json:"timestamp"`
	Ticker    string    `json:"ticker"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Strategy  string    `json:"strategy"`
	Mode      Mode      `json:"mode"`
}

// Validate checks if a signal has valid data
func (s *Signal) Validate() error {
	if s.Timestamp.IsZero() {
		return errors.New("signal timestamp is zero")
	}
	if s.Ticker == "" {
		return errors.New("signal ticker cannot be empty")
	}
	if s.Side != Buy && s.Side != Sell {
		return errors.New("signal side must be buy or sell")
	}
	if s.Price <= 0 {
		return errors.New("signal price must be positive")
	}
	if s.Strategy == "" {
		return errors.New("signal strategy cannot be empty")
	}
	if s.Mode != ModeStock && s.Mode != ModeOptions {
		return errors.New("signal mode must be stock or options")
	}
	return nil
}
