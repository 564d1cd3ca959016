// Package broker implements the simulated fill/order engine. It owns the
// pending/filled/cancelled order books, open and closed positions, the
// cash balance, and the trade history, and advances one bar at a time.
//
// Fill logic per bar:
//
//   - market: fills at bar open.
//   - limit buy: fills at the limit price iff bar low <= limit.
//   - limit sell: fills at the limit price iff bar high >= limit.
//   - stop sell (long stop-loss): fills at the stop price iff bar low <= stop.
//   - stop buy (short stop-loss): fills at the stop price iff bar high >= stop.
//   - stop-limit: triggers under the stop condition, fills at the limit
//     price if set, else the stop price.
//
// The fill price is always the target price, never a more favorable bar
// extreme. A bracket order is an entry plus two mutually exclusive exit
// legs; the legs stay dormant until the entry fills, and the instant one
// leg fills the sibling is cancelled.
package broker

import (
	"log"
	"math"

	"backsim/internal/config"
	"backsim/internal/market"
	"backsim/internal/order"
	"backsim/internal/position"
)

// Trade is a complete round trip: the originating signal, the closed
// position, the linking order IDs, and the bracket targets that were in
// force. Trades are the unit consumed by the metrics package.
type Trade struct {
	Signal          market.Signal     `json:"signal"`
	Position        position.Position `json:"position"`
	EntryOrderID    int64             `json:"entry_order_id"`
	ExitOrderID     int64             `json:"exit_order_id"`
	Strategy        string            `json:"strategy"`
	Mode            market.Mode       `json:"mode"`
	TakeProfitPrice float64           `json:"take_profit_price"`
	StopLossPrice   float64           `json:"stop_loss_price"`
}

// PnL returns the trade's realized profit.
func (t *Trade) PnL() float64 {
	pnl, _ := t.Position.PnL()
	return pnl
}

// bracketLegs is the exit-leg arena entry for one parent order.
type bracketLegs struct {
	tp *order.Order
	sl *order.Order
}

// entryMeta is the per-entry bookkeeping kept for trade records.
type entryMeta struct {
	signal   market.Signal
	hasSig   bool
	strategy string
	mode     market.Mode
	tpPrice  float64
	slPrice  float64
}

// SimBroker is the event-driven simulated broker. Call OnBar for each
// price bar to advance the simulation. All collections keep stable
// insertion order so identical inputs replay identically.
type SimBroker struct {
	cfg  config.Config
	cash float64

	pending   []*order.Order
	filled    []*order.Order
	cancelled []*order.Order

	openPositions   []*position.Position
	closedPositions []*position.Position

	trades []Trade

	brackets  map[int64]*bracketLegs // parent order ID -> exit legs
	meta      map[int64]entryMeta    // parent order ID -> entry metadata
	posParent map[int64]int64        // parent order ID -> position ID

	nextOrderID    int64
	nextPositionID int64
}

// New creates a SimBroker with the configured starting cash.
func New(cfg config.Config) *SimBroker {
	return &SimBroker{
		cfg:       cfg,
		cash:      cfg.InitialCapital,
		brackets:  make(map[int64]*bracketLegs),
		meta:      make(map[int64]entryMeta),
		posParent: make(map[int64]int64),
	}
}

// Cash returns the current cash balance.
func (b *SimBroker) Cash() float64 { return b.cash }

// Trades returns the completed round-trip trades in close order.
func (b *SimBroker) Trades() []Trade { return b.trades }

// OpenPositions returns the currently open positions in open order.
func (b *SimBroker) OpenPositions() []*position.Position { return b.openPositions }

// ClosedPositions returns the closed positions in close order.
func (b *SimBroker) ClosedPositions() []*position.Position { return b.closedPositions }

// PendingOrders returns the pending order queue in submission order.
func (b *SimBroker) PendingOrders() []*order.Order { return b.pending }

// OpenPositionCount returns the number of currently open positions.
func (b *SimBroker) OpenPositionCount() int { return len(b.openPositions) }

// PendingEntryCount returns the number of pending entry-tagged orders.
// Open positions plus pending entries is the exposure the engine checks
// against the max-open-positions cap.
func (b *SimBroker) PendingEntryCount() int {
	n := 0
	for _, o := range b.pending {
		if o.Tag == order.TagEntry {
			n++
		}
	}
	return n
}

// nextID assigns the next monotonic order ID.
func (b *SimBroker) nextID() int64 {
	b.nextOrderID++
	return b.nextOrderID
}

// SubmitOrder marks the order pending and appends it to the pending
// queue. No fill check happens at submission time; the order is only
// evaluated on subsequent bars. Returns the order ID.
func (b *SimBroker) SubmitOrder(o *order.Order) int64 {
	if o.ID == 0 {
		o.ID = b.nextID()
	}
	o.Status = order.StatusPending
	b.pending = append(b.pending, o)
	return o.ID
}

// SubmitBracketOrder submits an entry order with two linked exit legs.
// Only the entry goes into the pending queue; the TP and SL legs stay
// dormant until the entry fills. Returns the entry order ID.
func (b *SimBroker) SubmitBracketOrder(
	sig market.Signal,
	entry, tp, sl *order.Order,
	strategyName string,
	mode market.Mode,
	tpPrice, slPrice float64,
) int64 {
	entry.ID = b.nextID()
	tp.ID = b.nextID()
	sl.ID = b.nextID()
	tp.ParentID = entry.ID
	sl.ParentID = entry.ID
	tp.Status = order.StatusPending
	sl.Status = order.StatusPending

	b.brackets[entry.ID] = &bracketLegs{tp: tp, sl: sl}
	b.meta[entry.ID] = entryMeta{
		signal:   sig,
		hasSig:   true,
		strategy: strategyName,
		mode:     mode,
		tpPrice:  tpPrice,
		slPrice:  slPrice,
	}

	b.SubmitOrder(entry)
	return entry.ID
}

// SubmitOptionsOrder submits an options entry order and synthesizes the
// TP (limit) and SL (stop) exit legs on the opposite side, mirroring how
// the live system monitors options exits. Returns the entry order ID.
func (b *SimBroker) SubmitOptionsOrder(
	sig market.Signal,
	entry *order.Order,
	tpPrice, slPrice float64,
	strategyName string,
) int64 {
	exitSide := sig.Side.Opposite()

	tp := &order.Order{
		Timestamp:  entry.Timestamp,
		Ticker:     entry.Ticker,
		Side:       exitSide,
		Type:       order.Limit,
		Qty:        entry.Qty,
		LimitPrice: tpPrice,
		Tag:        order.TagTakeProfit,
	}
	sl := &order.Order{
		Timestamp: entry.Timestamp,
		Ticker:    entry.Ticker,
		Side:      exitSide,
		Type:      order.Stop,
		Qty:       entry.Qty,
		StopPrice: slPrice,
		Tag:       order.TagStopLoss,
	}

	return b.SubmitBracketOrder(sig, entry, tp, sl, strategyName, market.ModeOptions, tpPrice, slPrice)
}

// OnBar processes a single price bar: sweeps the pending queue for
// fills, then removes the orders that filled. The sweep walks a snapshot
// of the queue, so bracket legs activated by an entry fill on this bar
// are not evaluated until the next bar, and a single order can never
// fill twice in one bar.
func (b *SimBroker) OnBar(bar market.Bar) {
	snapshot := make([]*order.Order, len(b.pending))
	copy(snapshot, b.pending)

	var filledNow []*order.Order
	for _, o := range snapshot {
		if o.Status != order.StatusPending {
			// Sibling leg cancelled earlier in this sweep.
			continue
		}
		if o.Ticker != "" && o.Ticker != bar.Ticker {
			continue
		}
		rawPrice, ok := checkFill(o, bar)
		if !ok {
			continue
		}
		b.fillOrder(o, rawPrice, bar)
		filledNow = append(filledNow, o)
	}

	b.removePending(filledNow)
}

// checkFill determines whether an order would fill on this bar and
// returns the raw fill price before slippage.
func checkFill(o *order.Order, bar market.Bar) (float64, bool) {
	switch o.Type {
	case order.Market:
		return bar.Open, true

	case order.Limit:
		if o.Side == market.Buy && bar.Low <= o.LimitPrice {
			return o.LimitPrice, true
		}
		if o.Side == market.Sell && bar.High >= o.LimitPrice {
			return o.LimitPrice, true
		}

	case order.Stop:
		if o.Side == market.Sell && bar.Low <= o.StopPrice {
			return o.StopPrice, true
		}
		if o.Side == market.Buy && bar.High >= o.StopPrice {
			return o.StopPrice, true
		}

	case order.StopLimit:
		// Stop triggered; fill at the limit price when one is set.
		if o.Side == market.Sell && bar.Low <= o.StopPrice {
			return stopLimitPrice(o), true
		}
		if o.Side == market.Buy && bar.High >= o.StopPrice {
			return stopLimitPrice(o), true
		}
	}
	return 0, false
}

func stopLimitPrice(o *order.Order) float64 {
	if o.LimitPrice != 0 {
		return o.LimitPrice
	}
	return o.StopPrice
}

// applySlippage adjusts a fill price adversely: buys fill slightly
// higher, sells slightly lower. Prices are rounded to cents.
func (b *SimBroker) applySlippage(price float64, side market.Side) float64 {
	if b.cfg.SlippagePct <= 0 {
		return price
	}
	slip := price * (b.cfg.SlippagePct / 100.0)
	if side == market.Buy {
		return roundCents(price + slip)
	}
	return roundCents(price - slip)
}

func roundCents(p float64) float64 {
	return math.Round(p*100) / 100
}

// fillOrder executes a fill: updates the order, then applies the entry
// or exit side effects on cash and positions.
func (b *SimBroker) fillOrder(o *order.Order, rawPrice float64, bar market.Bar) {
	fillPrice := b.applySlippage(rawPrice, o.Side)
	o.Status = order.StatusFilled
	o.FillPrice = fillPrice
	o.FillTimestamp = bar.Timestamp
	b.filled = append(b.filled, o)

	if o.Tag.IsExit() {
		b.handleExitFill(o, fillPrice, bar)
		return
	}
	if o.ParentID == 0 || o.Tag == order.TagEntry {
		b.handleEntryFill(o, fillPrice, bar)
	}
}

// handleEntryFill deducts cash, opens a position, and activates any
// bracket legs sized to the entry's filled quantity. TP/SL exposure
// begins here, never before.
func (b *SimBroker) handleEntryFill(o *order.Order, fillPrice float64, bar market.Bar) {
	meta := b.meta[o.ID]
	mode := meta.mode
	if mode == "" {
		mode = market.ModeStock
	}

	cost := fillPrice*float64(o.Qty)*mode.Multiplier() + b.cfg.CommissionPerTrade
	b.cash -= cost

	b.nextPositionID++
	pos := &position.Position{
		ID:             b.nextPositionID,
		Ticker:         o.Ticker,
		Side:           o.Side,
		Qty:            o.Qty,
		EntryPrice:     fillPrice,
		EntryTimestamp: bar.Timestamp,
		Status:         position.StatusOpen,
		Mode:           mode,
	}
	b.openPositions = append(b.openPositions, pos)
	b.posParent[o.ID] = pos.ID

	if legs, ok := b.brackets[o.ID]; ok {
		legs.tp.Qty = o.Qty
		legs.sl.Qty = o.Qty
		b.pending = append(b.pending, legs.tp, legs.sl)
	}

	log.Printf("handleEntryFill | %s %s %d @ %.2f (cash=%.2f)",
		o.Side, o.Ticker, o.Qty, fillPrice, b.cash)
}

// handleExitFill closes the position belonging to the exit's parent
// entry, credits cash, cancels the sibling leg, and records the trade.
// An exit with no resolvable position is logged and ignored; no cash or
// position changes are applied for it.
func (b *SimBroker) handleExitFill(o *order.Order, fillPrice float64, bar market.Bar) {
	pos := b.findOpenPosition(o.Ticker, o.ParentID)
	if pos == nil {
		log.Printf("handleExitFill | exit fill with no matching position for %s (order %d)", o.Ticker, o.ID)
		return
	}

	meta := b.meta[o.ParentID]
	mode := meta.mode
	if mode == "" {
		mode = market.ModeStock
	}

	proceeds := fillPrice*float64(o.Qty)*mode.Multiplier() - b.cfg.CommissionPerTrade
	b.cash += proceeds

	pos.ExitPrice = fillPrice
	pos.ExitTimestamp = bar.Timestamp
	pos.Status = position.StatusClosed
	b.removeOpenPosition(pos.ID)
	b.closedPositions = append(b.closedPositions, pos)

	// Cancel the sibling leg if it is still pending.
	if legs, ok := b.brackets[o.ParentID]; ok {
		sibling := legs.sl
		if o.Tag == order.TagStopLoss {
			sibling = legs.tp
		}
		if sibling != nil && sibling.Status == order.StatusPending {
			sibling.Status = order.StatusCancelled
			b.removePending([]*order.Order{sibling})
			b.cancelled = append(b.cancelled, sibling)
		}
	}

	if meta.hasSig {
		b.trades = append(b.trades, Trade{
			Signal:          meta.signal,
			Position:        *pos,
			EntryOrderID:    o.ParentID,
			ExitOrderID:     o.ID,
			Strategy:        meta.strategy,
			Mode:            mode,
			TakeProfitPrice: meta.tpPrice,
			StopLossPrice:   meta.slPrice,
		})
	}

	pnl, _ := pos.PnL()
	log.Printf("handleExitFill | %s %s %d @ %.2f (pnl=%.2f, cash=%.2f)",
		o.Tag, o.Ticker, o.Qty, fillPrice, pnl, b.cash)
}

// findOpenPosition resolves the open position for an exit order. The
// primary key is the parent-ID-to-position index; the fallback matches
// by ticker alone, deliberately permissive to tolerate partial
// bookkeeping.
func (b *SimBroker) findOpenPosition(ticker string, parentID int64) *position.Position {
	if posID, ok := b.posParent[parentID]; ok {
		for _, pos := range b.openPositions {
			if pos.ID == posID {
				return pos
			}
		}
	}
	for _, pos := range b.openPositions {
		if pos.Ticker == ticker {
			return pos
		}
	}
	return nil
}

func (b *SimBroker) removeOpenPosition(id int64) {
	for i, pos := range b.openPositions {
		if pos.ID == id {
			b.openPositions = append(b.openPositions[:i], b.openPositions[i+1:]...)
			return
		}
	}
}

func (b *SimBroker) removePending(orders []*order.Order) {
	for _, target := range orders {
		for i, o := range b.pending {
			if o.ID == target.ID {
				b.pending = append(b.pending[:i], b.pending[i+1:]...)
				break
			}
		}
	}
}

// Equity returns cash plus open positions valued at their entry price.
// This is a rough estimate; use MarkToMarket for bar-close valuation.
func (b *SimBroker) Equity() float64 {
	total := b.cash
	for _, pos := range b.openPositions {
		total += pos.Notional()
	}
	return total
}

// MarkToMarket returns cash plus open positions valued at the given
// bar's close. Positions on a different ticker fall back to their entry
// price.
func (b *SimBroker) MarkToMarket(bar market.Bar) float64 {
	mtm := b.cash
	for _, pos := range b.openPositions {
		if pos.Ticker != "" && pos.Ticker != bar.Ticker {
			mtm += pos.Notional()
			continue
		}
		mtm += bar.Close * float64(pos.Qty) * pos.Mode.Multiplier()
	}
	return mtm
}

// CancelAllPending moves every pending order to cancelled and returns
// the number cancelled. Called after the final bar so no order exposure
// survives the replay window.
func (b *SimBroker) CancelAllPending() int {
	count := len(b.pending)
	for _, o := range b.pending {
		o.Status = order.StatusCancelled
		b.cancelled = append(b.cancelled, o)
	}
	b.pending = b.pending[:0]
	return count
}
