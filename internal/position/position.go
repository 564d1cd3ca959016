// Package position
package position

import (
	"time"

	"backsim/internal/market"
)

// Status is whether a position is still open or has been closed.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Position is an open or closed holding. The broker assigns IDs from a
// monotonically increasing counter at creation; all bracket linkage uses
// the ID, never object identity.
type Position struct {
	ID             int64       `json:"id"`
	Ticker         string      `json:"ticker"`
	Side           market.Side `json:"side"`
	Qty            int         `json:"qty"`
	EntryPrice     float64     `json:"entry_price"`
	EntryTimestamp time.Time   `json:"entry_timestamp"`
	ExitPrice      float64     `json:"exit_price,omitempty"`
	ExitTimestamp  time.Time   `json:"exit_timestamp,omitzero"`
	Status         Status      `json:"status"`
	Mode           market.Mode `json:"mode"`
}

// PnL returns the realized profit for a closed position, derived from the
// entry/exit prices and never stored. The second return is false while the
// position is still open.
//
// Stock mode: (exit - entry) * qty for longs, reversed for shorts.
// Options mode: the same times the 100x contract multiplier.
func (p *Position) PnL() (float64, bool) {
	if p.Status != StatusClosed {
		return 0, false
	}
	mult := p.Mode.Multiplier()
	if p.Side == market.Buy {
		return (p.ExitPrice - p.EntryPrice) * float64(p.Qty) * mult, true
	}
	return (p.EntryPrice - p.ExitPrice) * float64(p.Qty) * mult, true
}

// PnLPct returns the realized percentage return relative to the entry
// price. The second return is false while the position is open or the
// entry price is zero.
func (p *Position) PnLPct() (float64, bool) {
	if p.Status != StatusClosed || p.EntryPrice == 0 {
		return 0, false
	}
	if p.Side == market.Buy {
		return (p.ExitPrice - p.EntryPrice) / p.EntryPrice * 100, true
	}
	return (p.EntryPrice - p.ExitPrice) / p.EntryPrice * 100, true
}

// Notional returns the position's entry-price notional value including
// the options multiplier.
func (p *Position) Notional() float64 {
	return p.EntryPrice * float64(p.Qty) * p.Mode.Multiplier()
}
