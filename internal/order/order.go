// Package order
package order

import (
	"time"

	"backsim/internal/market"
)

// Type is the execution style of a simulated order.
type Type string

const (
	Market    Type = "market"
	Limit     Type = "limit"
	Stop      Type = "stop"
	StopLimit Type = "stop_limit"
)

// Status is the lifecycle state of a simulated order. Transitions are
// monotonic: PENDING -> FILLED or PENDING -> CANCELLED, nothing else.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFilled    Status = "filled"
	StatusCancelled Status = "cancelled"
)

// Tag labels an order's role within a bracket.
type Tag string

const (
	TagNone       Tag = ""
	TagEntry      Tag = "entry"
	TagTakeProfit Tag = "take_profit"
	TagStopLoss   Tag = "stop_loss"
)

// IsExit reports whether the tag marks a bracket exit leg.
func (t Tag) IsExit() bool {
	return t == TagTakeProfit || t == TagStopLoss
}

// Order is a simulated execution request. IDs are assigned by the broker
// at submission time and increase monotonically within a run, so two runs
// over identical inputs produce identical order IDs.
type Order struct {
	ID            int64       `json:"id"`
	Timestamp     time.Time   `json:"timestamp"`
	Ticker        string      `json:"ticker"`
	Side          market.Side `json:"side"`
	Type          Type        `json:"type"`
	Qty           int         `json:"qty"`
	LimitPrice    float64     `json:"limit_price,omitempty"`
	StopPrice     float64     `json:"stop_price,omitempty"`
	Status        Status      `json:"status"`
	FillPrice     float64     `json:"fill_price,omitempty"`
	FillTimestamp time.Time   `json:"fill_timestamp,omitzero"`
	ParentID      int64       `json:"parent_id,omitempty"` // links bracket legs to their entry
	Tag           Tag         `json:"tag,omitempty"`
}
