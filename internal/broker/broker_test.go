package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"backsim/internal/config"
	"backsim/internal/market"
	"backsim/internal/order"
	"backsim/internal/position"
)

var t0 = time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)

func bar(day int, open, high, low, close float64) market.Bar {
	return market.Bar{
		Timestamp: t0.AddDate(0, 0, day),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    1000,
		Ticker:    "AAPL",
	}
}

func sig(side market.Side, price float64, mode market.Mode) market.Signal {
	return market.Signal{
		Timestamp: t0,
		Ticker:    "AAPL",
		Side:      side,
		Price:     price,
		Strategy:  "bollinger_mean_reversion",
		Mode:      mode,
	}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.InitialCapital = 100_000
	cfg.CommissionPerTrade = 1.0
	return cfg
}

func TestCheckFill(t *testing.T) {
	b := bar(0, 100, 101, 98, 100.5)

	tests := []struct {
		name      string
		order     order.Order
		wantPrice float64
		wantFill  bool
	}{
		{
			name:      "market fills at open",
			order:     order.Order{Side: market.Buy, Type: order.Market},
			wantPrice: 100,
			wantFill:  true,
		},
		{
			name:      "limit buy fills at limit when low reaches it",
			order:     order.Order{Side: market.Buy, Type: order.Limit, LimitPrice: 99},
			wantPrice: 99,
			wantFill:  true,
		},
		{
			name:     "limit buy does not fill above the low",
			order:    order.Order{Side: market.Buy, Type: order.Limit, LimitPrice: 97.5},
			wantFill: false,
		},
		{
			name:      "limit sell fills at limit when high reaches it",
			order:     order.Order{Side: market.Sell, Type: order.Limit, LimitPrice: 100.5},
			wantPrice: 100.5,
			wantFill:  true,
		},
		{
			name:     "limit sell does not fill above the high",
			order:    order.Order{Side: market.Sell, Type: order.Limit, LimitPrice: 102},
			wantFill: false,
		},
		{
			name:      "stop sell fills at stop when low reaches it",
			order:     order.Order{Side: market.Sell, Type: order.Stop, StopPrice: 98.5},
			wantPrice: 98.5,
			wantFill:  true,
		},
		{
			name:     "stop sell does not fill below the low",
			order:    order.Order{Side: market.Sell, Type: order.Stop, StopPrice: 97},
			wantFill: false,
		},
		{
			name:      "stop buy fills at stop when high reaches it",
			order:     order.Order{Side: market.Buy, Type: order.Stop, StopPrice: 100.8},
			wantPrice: 100.8,
			wantFill:  true,
		},
		{
			name:     "stop buy does not fill above the high",
			order:    order.Order{Side: market.Buy, Type: order.Stop, StopPrice: 101.5},
			wantFill: false,
		},
		{
			name:      "stop-limit sell fills at limit when set",
			order:     order.Order{Side: market.Sell, Type: order.StopLimit, StopPrice: 98.5, LimitPrice: 98.6},
			wantPrice: 98.6,
			wantFill:  true,
		},
		{
			name:      "stop-limit sell falls back to stop without a limit",
			order:     order.Order{Side: market.Sell, Type: order.StopLimit, StopPrice: 98.5},
			wantPrice: 98.5,
			wantFill:  true,
		},
		{
			name:     "stop-limit sell does not trigger below the low",
			order:    order.Order{Side: market.Sell, Type: order.StopLimit, StopPrice: 97, LimitPrice: 97.1},
			wantFill: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := tt.order
			price, filled := checkFill(&o, b)
			assert.Equal(t, tt.wantFill, filled)
			if tt.wantFill {
				assert.InDelta(t, tt.wantPrice, price, 1e-9)
			}
		})
	}
}

func TestSubmitOrderNoSameBarFill(t *testing.T) {
	b := New(testConfig())

	o := &order.Order{
		Timestamp: t0, Ticker: "AAPL",
		Side: market.Buy, Type: order.Limit, Qty: 10, LimitPrice: 99, Tag: order.TagEntry,
	}
	id := b.SubmitOrder(o)

	assert.Equal(t, int64(1), id)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Len(t, b.PendingOrders(), 1)
	assert.Equal(t, 0, b.OpenPositionCount())
}

func TestLimitBuyFillsAtLimitPrice(t *testing.T) {
	b := New(testConfig())

	o := &order.Order{
		Timestamp: t0, Ticker: "AAPL",
		Side: market.Buy, Type: order.Limit, Qty: 10, LimitPrice: 99, Tag: order.TagEntry,
	}
	b.SubmitOrder(o)

	// Low of 98 pierces the 99 limit, so the fill is at 99.00 exactly,
	// never the more favorable low.
	b.OnBar(bar(1, 100, 101, 98, 100))

	assert.Equal(t, order.StatusFilled, o.Status)
	assert.InDelta(t, 99.0, o.FillPrice, 1e-9)
	assert.Empty(t, b.PendingOrders())
	assert.Equal(t, 1, b.OpenPositionCount())

	pos := b.OpenPositions()[0]
	assert.Equal(t, int64(1), pos.ID)
	assert.InDelta(t, 99.0, pos.EntryPrice, 1e-9)

	// Cash dropped by fill*qty plus commission.
	assert.InDelta(t, 100_000-(99.0*10+1.0), b.Cash(), 1e-9)
}

func TestBracketTakeProfitCancelsStopLoss(t *testing.T) {
	cfg := testConfig()
	b := New(cfg)

	entry := &order.Order{
		Timestamp: t0, Ticker: "AAPL",
		Side: market.Buy, Type: order.Limit, Qty: 10, LimitPrice: 100, Tag: order.TagEntry,
	}
	tp := &order.Order{
		Timestamp: t0, Ticker: "AAPL",
		Side: market.Sell, Type: order.Limit, Qty: 10, LimitPrice: 102, Tag: order.TagTakeProfit,
	}
	sl := &order.Order{
		Timestamp: t0, Ticker: "AAPL",
		Side: market.Sell, Type: order.Stop, Qty: 10, StopPrice: 99, Tag: order.TagStopLoss,
	}
	b.SubmitBracketOrder(sig(market.Buy, 100, market.ModeStock), entry, tp, sl, "bollinger_mean_reversion", market.ModeStock, 102, 99)

	// Only the entry is pending before it fills.
	assert.Len(t, b.PendingOrders(), 1)

	// Entry fills; legs activate but are not evaluated on the same bar
	// even though the high already exceeds the TP.
	b.OnBar(bar(1, 100.5, 103, 99.5, 101))
	assert.Equal(t, order.StatusFilled, entry.Status)
	assert.Len(t, b.PendingOrders(), 2)
	assert.Equal(t, order.StatusPending, tp.Status)

	// TP fills, SL is cancelled the same instant.
	b.OnBar(bar(2, 101, 102.5, 100.5, 102))
	assert.Equal(t, order.StatusFilled, tp.Status)
	assert.Equal(t, order.StatusCancelled, sl.Status)
	assert.Empty(t, b.PendingOrders())

	assert.Equal(t, 0, b.OpenPositionCount())
	assert.Len(t, b.ClosedPositions(), 1)

	trades := b.Trades()
	assert.Len(t, trades, 1)
	assert.InDelta(t, (102.0-100.0)*10, trades[0].PnL(), 1e-9)
	assert.Equal(t, "bollinger_mean_reversion", trades[0].Strategy)
	assert.Equal(t, entry.ID, trades[0].EntryOrderID)
	assert.Equal(t, tp.ID, trades[0].ExitOrderID)

	// Cash identity: initial + pnl - commission per fill.
	wantCash := 100_000.0 + (102.0-100.0)*10 - 2*cfg.CommissionPerTrade
	assert.InDelta(t, wantCash, b.Cash(), 1e-9)
}

func TestBracketStopLossCancelsTakeProfit(t *testing.T) {
	b := New(testConfig())

	entry := &order.Order{
		Timestamp: t0, Ticker: "AAPL",
		Side: market.Buy, Type: order.Limit, Qty: 10, LimitPrice: 100, Tag: order.TagEntry,
	}
	tp := &order.Order{
		Timestamp: t0, Ticker: "AAPL",
		Side: market.Sell, Type: order.Limit, Qty: 10, LimitPrice: 102, Tag: order.TagTakeProfit,
	}
	sl := &order.Order{
		Timestamp: t0, Ticker: "AAPL",
		Side: market.Sell, Type: order.Stop, Qty: 10, StopPrice: 99, Tag: order.TagStopLoss,
	}
	b.SubmitBracketOrder(sig(market.Buy, 100, market.ModeStock), entry, tp, sl, "bollinger_mean_reversion", market.ModeStock, 102, 99)

	b.OnBar(bar(1, 100.5, 101, 99.5, 100.5))
	assert.Equal(t, order.StatusFilled, entry.Status)

	// Price drops through the stop.
	b.OnBar(bar(2, 100, 100.5, 98.5, 99))
	assert.Equal(t, order.StatusFilled, sl.Status)
	assert.Equal(t, order.StatusCancelled, tp.Status)

	trades := b.Trades()
	assert.Len(t, trades, 1)
	assert.InDelta(t, (99.0-100.0)*10, trades[0].PnL(), 1e-9)
}

func TestSlippageAdverseAndRounded(t *testing.T) {
	cfg := testConfig()
	cfg.SlippagePct = 0.1
	b := New(cfg)

	buy := &order.Order{
		Timestamp: t0, Ticker: "AAPL",
		Side: market.Buy, Type: order.Market, Qty: 10, Tag: order.TagEntry,
	}
	b.SubmitOrder(buy)
	b.OnBar(bar(1, 100.00, 101, 99, 100.5))

	// 100.00 * (1 + 0.1/100) = 100.10
	assert.InDelta(t, 100.10, buy.FillPrice, 1e-9)

	sell := &order.Order{
		Timestamp: t0, Ticker: "AAPL",
		Side: market.Sell, Type: order.Market, Qty: 10, Tag: order.TagEntry,
	}
	b.SubmitOrder(sell)
	b.OnBar(bar(2, 100.00, 101, 99, 100.5))

	assert.InDelta(t, 99.90, sell.FillPrice, 1e-9)
}

func TestOptionsOrderUsesMultiplier(t *testing.T) {
	cfg := testConfig()
	b := New(cfg)

	entry := &order.Order{
		Timestamp: t0, Ticker: "AAPL",
		Side: market.Buy, Type: order.Limit, Qty: 2, LimitPrice: 5.00, Tag: order.TagEntry,
	}
	b.SubmitOptionsOrder(sig(market.Buy, 5.00, market.ModeOptions), entry, 6.00, 4.50, "bollinger_mean_reversion")

	b.OnBar(bar(1, 5.10, 5.20, 4.95, 5.05))
	assert.Equal(t, order.StatusFilled, entry.Status)

	// Entry cost: 5.00 * 2 contracts * 100 multiplier + commission.
	assert.InDelta(t, 100_000-(5.00*2*100+1.0), b.Cash(), 1e-9)

	// Premium rallies through the TP.
	b.OnBar(bar(2, 5.50, 6.10, 5.40, 6.00))

	trades := b.Trades()
	assert.Len(t, trades, 1)
	assert.Equal(t, market.ModeOptions, trades[0].Mode)
	assert.InDelta(t, (6.00-5.00)*2*100, trades[0].PnL(), 1e-9)

	wantCash := 100_000.0 + (6.00-5.00)*2*100 - 2*cfg.CommissionPerTrade
	assert.InDelta(t, wantCash, b.Cash(), 1e-9)
}

func TestOnBarSkipsOtherTickers(t *testing.T) {
	b := New(testConfig())

	o := &order.Order{
		Timestamp: t0, Ticker: "MSFT",
		Side: market.Buy, Type: order.Limit, Qty: 5, LimitPrice: 99, Tag: order.TagEntry,
	}
	b.SubmitOrder(o)

	b.OnBar(bar(1, 100, 101, 98, 100)) // AAPL bar
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Len(t, b.PendingOrders(), 1)
}

func TestExitFillWithNoPositionIsIgnored(t *testing.T) {
	b := New(testConfig())

	// An orphan exit leg with no entry and no open position.
	o := &order.Order{
		Timestamp: t0, Ticker: "AAPL",
		Side: market.Sell, Type: order.Limit, Qty: 10, LimitPrice: 100, ParentID: 999, Tag: order.TagTakeProfit,
	}
	b.SubmitOrder(o)

	cashBefore := b.Cash()
	b.OnBar(bar(1, 100, 101, 99, 100.5))

	// The order fills but has no cash or position effect.
	assert.Equal(t, order.StatusFilled, o.Status)
	assert.InDelta(t, cashBefore, b.Cash(), 1e-9)
	assert.Empty(t, b.Trades())
	assert.Empty(t, b.ClosedPositions())
}

func TestMarkToMarket(t *testing.T) {
	b := New(testConfig())

	entry := &order.Order{
		Timestamp: t0, Ticker: "AAPL",
		Side: market.Buy, Type: order.Market, Qty: 10, Tag: order.TagEntry,
	}
	b.SubmitOrder(entry)
	b.OnBar(bar(1, 100, 101, 99, 100))

	valuationBar := bar(2, 100, 106, 100, 105)
	// cash + close * qty
	want := b.Cash() + 105.0*10
	assert.InDelta(t, want, b.MarkToMarket(valuationBar), 1e-9)
}

func TestCancelAllPending(t *testing.T) {
	b := New(testConfig())

	o1 := &order.Order{Timestamp: t0, Ticker: "AAPL", Side: market.Buy, Type: order.Limit, Qty: 1, LimitPrice: 90, Tag: order.TagEntry}
	o2 := &order.Order{Timestamp: t0, Ticker: "AAPL", Side: market.Buy, Type: order.Limit, Qty: 1, LimitPrice: 91, Tag: order.TagEntry}
	b.SubmitOrder(o1)
	b.SubmitOrder(o2)

	n := b.CancelAllPending()
	assert.Equal(t, 2, n)
	assert.Empty(t, b.PendingOrders())
	assert.Equal(t, order.StatusCancelled, o1.Status)
	assert.Equal(t, order.StatusCancelled, o2.Status)
}

func TestMonotonicIDs(t *testing.T) {
	b := New(testConfig())

	entry := &order.Order{Timestamp: t0, Ticker: "AAPL", Side: market.Buy, Type: order.Limit, Qty: 1, LimitPrice: 100, Tag: order.TagEntry}
	tp := &order.Order{Timestamp: t0, Ticker: "AAPL", Side: market.Sell, Type: order.Limit, Qty: 1, LimitPrice: 102, Tag: order.TagTakeProfit}
	sl := &order.Order{Timestamp: t0, Ticker: "AAPL", Side: market.Sell, Type: order.Stop, Qty: 1, StopPrice: 99, Tag: order.TagStopLoss}
	b.SubmitBracketOrder(sig(market.Buy, 100, market.ModeStock), entry, tp, sl, "bollinger_mean_reversion", market.ModeStock, 102, 99)

	assert.Equal(t, int64(1), entry.ID)
	assert.Equal(t, int64(2), tp.ID)
	assert.Equal(t, int64(3), sl.ID)
	assert.Equal(t, entry.ID, tp.ParentID)
	assert.Equal(t, entry.ID, sl.ParentID)
}

func TestShortPositionPnL(t *testing.T) {
	b := New(testConfig())

	entry := &order.Order{
		Timestamp: t0, Ticker: "AAPL",
		Side: market.Sell, Type: order.Limit, Qty: 10, LimitPrice: 100, Tag: order.TagEntry,
	}
	tp := &order.Order{
		Timestamp: t0, Ticker: "AAPL",
		Side: market.Buy, Type: order.Limit, Qty: 10, LimitPrice: 98, Tag: order.TagTakeProfit,
	}
	sl := &order.Order{
		Timestamp: t0, Ticker: "AAPL",
		Side: market.Buy, Type: order.Stop, Qty: 10, StopPrice: 101, Tag: order.TagStopLoss,
	}
	b.SubmitBracketOrder(sig(market.Sell, 100, market.ModeStock), entry, tp, sl, "bollinger_mean_reversion", market.ModeStock, 98, 101)

	b.OnBar(bar(1, 100, 100.5, 99.5, 100))
	assert.Equal(t, order.StatusFilled, entry.Status)

	// Price falls to the buy-back limit.
	b.OnBar(bar(2, 99, 99.5, 97.5, 98))

	trades := b.Trades()
	assert.Len(t, trades, 1)
	assert.InDelta(t, (100.0-98.0)*10, trades[0].PnL(), 1e-9)

	pos := b.ClosedPositions()[0]
	assert.Equal(t, position.StatusClosed, pos.Status)
	assert.Equal(t, market.Sell, pos.Side)
}
