package trading

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantleap/edgebot/internal/params"
	"github.com/quantleap/edgebot/internal/types"
	"github.com/quantleap/edgebot/internal/venue"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION MONITOR - TP, trailing SL, time-decay, max-hold
// ═══════════════════════════════════════════════════════════════════════════════
//
// Exit checks run in a fixed order each tick. The stop trails the running mid
// rather than the fill so one-sided spread widening cannot fire it. Live exits
// are real sell orders; the position stays in exiting until the venue confirms
// and is retried every tick until then. Paper bookkeeping never runs on a live
// position, and vice versa.
//
// ═══════════════════════════════════════════════════════════════════════════════

// final fraction of the hold window where any unrealized profit is banked
const decayWindowFraction = 0.20

// Monitor walks every open position once.
func (e *Engine) Monitor(ctx context.Context, snap params.Snapshot) {
	positions, err := e.store.OpenPositions()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load open positions")
		return
	}

	for _, pos := range positions {
		switch pos.State {
		case types.StateExiting:
			e.checkExitOrder(ctx, pos)
		case types.StateOpen:
			e.checkPosition(ctx, pos, snap)
		}
	}
}

// checkPosition evaluates the exit ladder for one open position.
func (e *Engine) checkPosition(ctx context.Context, pos *types.Position, snap params.Snapshot) {
	quote, ok := e.quotes.CachedQuote(pos.VenueAID)
	if !ok || !quote.TwoSided() {
		return
	}

	mid := quote.Mid()
	if pos.Direction == types.DirectionNo {
		mid = decimal.NewFromInt(1).Sub(mid)
	}

	if mid.GreaterThan(pos.HighWater) {
		pos.HighWater = mid
	}
	if mid.LessThan(pos.LowWater) {
		pos.LowWater = mid
	}

	now := time.Now().UTC()
	holdSpan := pos.MaxHoldTS.Sub(pos.EntryTS)
	inDecayWindow := holdSpan > 0 && now.After(pos.MaxHoldTS.Add(-time.Duration(float64(holdSpan)*decayWindowFraction)))
	unrealized := mid.Sub(pos.EntryPrice)

	var reason types.ExitReason
	switch {
	case mid.GreaterThanOrEqual(pos.TakeProfit):
		reason = types.ExitTakeProfit
	case mid.LessThanOrEqual(pos.StopLoss):
		reason = types.ExitStopLoss
	case inDecayWindow && unrealized.IsPositive():
		reason = types.ExitTimeDecay
	case now.After(pos.MaxHoldTS):
		reason = types.ExitExpiry
	default:
		// Trail the stop behind the running mid, never downward.
		trailed := mid.Sub(decimal.NewFromFloat(snap[params.KeyStopLossWidth]))
		if trailed.GreaterThan(pos.StopLoss) {
			pos.StopLoss = trailed
		}
		if err := e.store.UpdatePosition(pos); err != nil {
			log.Error().Err(err).Int64("position", pos.ID).Msg("Failed to persist watermarks")
		}
		return
	}

	e.exit(ctx, pos, quote, reason, snap)
}

// exit routes to the mode's close path. The mode check is the invariant, not
// a convenience: crossing it is a programming error and is audited as such.
func (e *Engine) exit(ctx context.Context, pos *types.Position, quote types.Quote, reason types.ExitReason, snap params.Snapshot) {
	switch pos.Mode {
	case types.ModeLive:
		e.exitLive(ctx, pos, quote, reason)
	case types.ModePaper:
		e.exitPaper(pos, quote, reason)
	default:
		_ = e.store.Audit("invariant_violation", map[string]any{
			"position_id": pos.ID,
			"mode":        string(pos.Mode),
			"note":        "unknown mode at exit",
		})
	}
}

// exitLive submits a real sell at the touch and parks the position in
// exiting. Wallet state is untouched until the venue confirms.
func (e *Engine) exitLive(ctx context.Context, pos *types.Position, quote types.Quote, reason types.ExitReason) {
	price := quote.Bid
	outcome := "yes"
	if pos.Direction == types.DirectionNo {
		price = decimal.NewFromInt(1).Sub(quote.Ask)
		outcome = "no"
	}

	report, err := e.exec.PlaceOrder(ctx, venue.OrderRequest{
		MarketID: pos.VenueAID,
		Side:     "sell",
		Outcome:  outcome,
		Type:     "limit",
		Quantity: pos.Qty,
		Price:    price,
		TIF:      "good-til-cancel",
	})
	if err != nil {
		// Retried next tick; the position must not read as closed.
		log.Error().Err(err).Int64("position", pos.ID).Msg("Exit order failed, will retry")
		return
	}

	pos.State = types.StateExiting
	pos.ExitOrderID = report.OrderID
	e.rememberExit(pos.ID, reason, price)
	if err := e.store.UpdatePosition(pos); err != nil {
		log.Error().Err(err).Int64("position", pos.ID).Msg("Failed to persist exiting state")
		return
	}

	_ = e.store.Audit("exit_order_submitted", map[string]any{
		"position_id": pos.ID,
		"order_id":    report.OrderID,
		"reason":      string(reason),
		"price":       price.String(),
	})

	if report.RemainingQty.IsZero() && report.FilledQty.Equal(pos.Qty) {
		exitPx := report.AvgPrice
		if !exitPx.IsPositive() {
			exitPx = price
		}
		e.finalize(pos, exitPx, reason)
	}
}

// exitHistoryLookback bounds the order-history scan when the in-flight
// record was lost to a restart.
const exitHistoryLookback = 50

// checkExitOrder polls a position stuck in exiting. When the exit order has
// left the open-order book it is treated as filled at the limit price recorded
// at submission. After a restart that record is gone, so the fill is recovered
// from order history instead; if no trustworthy price is available the
// position stays in exiting and is re-checked next tick.
func (e *Engine) checkExitOrder(ctx context.Context, pos *types.Position) {
	if pos.Mode != types.ModeLive {
		_ = e.store.Audit("invariant_violation", map[string]any{
			"position_id": pos.ID,
			"note":        "paper position in exiting state",
		})
		return
	}

	open, err := e.exec.OpenOrders(ctx)
	if err != nil {
		return
	}
	for _, o := range open {
		if o.OrderID == pos.ExitOrderID {
			return // still resting
		}
	}

	pend, ok := e.recallExit(pos.ID)
	if !ok || !pend.limit.IsPositive() {
		pend, ok = e.recoverExit(ctx, pos)
	}
	if !ok || !pend.limit.IsPositive() {
		log.Warn().
			Int64("position", pos.ID).
			Str("order_id", pos.ExitOrderID).
			Msg("Exit fill price unknown, keeping position in exiting")
		return
	}
	e.finalize(pos, pend.limit, pend.reason)
}

// recoverExit looks the exit order up in venue history after a restart lost
// the in-flight record. Reason context is gone, so the close books as manual.
func (e *Engine) recoverExit(ctx context.Context, pos *types.Position) (pendingExit, bool) {
	history, err := e.exec.OrderHistory(ctx, exitHistoryLookback)
	if err != nil {
		return pendingExit{}, false
	}
	for _, o := range history {
		if o.OrderID == pos.ExitOrderID && o.AvgPrice.IsPositive() {
			return pendingExit{reason: types.ExitManual, limit: o.AvgPrice}, true
		}
	}
	return pendingExit{}, false
}

// exitPaper books a synthetic close immediately.
func (e *Engine) exitPaper(pos *types.Position, quote types.Quote, reason types.ExitReason) {
	exitPx := quote.Mid()
	if pos.Direction == types.DirectionNo {
		exitPx = decimal.NewFromInt(1).Sub(exitPx)
	}
	e.finalize(pos, exitPx, reason)
}

// finalize writes the closed trade and the wallet effect in one transaction.
func (e *Engine) finalize(pos *types.Position, exitPx decimal.Decimal, reason types.ExitReason) {
	now := time.Now().UTC()
	snap := e.params.Snapshot()

	fee := decimal.NewFromFloat(snap[params.KeyFeePerSide])
	gross := exitPx.Sub(pos.EntryPrice).Mul(pos.Qty)
	fees := pos.EntryPrice.Add(exitPx).Mul(pos.Qty).Mul(fee)
	net := gross.Sub(fees)

	trade := &types.ClosedTrade{
		PositionID: pos.ID,
		ExitPrice:  exitPx,
		ExitTS:     now,
		GrossPnL:   gross,
		NetPnL:     net,
		Fees:       fees,
		Reason:     reason,
		HoldSecs:   int64(now.Sub(pos.EntryTS).Seconds()),
		Mode:       pos.Mode,
		Category:   pos.Category,
		Won:        net.IsPositive(),
	}

	if err := e.store.ClosePosition(pos, trade); err != nil {
		log.Error().Err(err).Int64("position", pos.ID).Msg("Failed to close position")
		return
	}
	e.forgetExit(pos.ID)

	emoji := "✅"
	if !trade.Won {
		emoji = "❌"
	}
	log.Info().
		Int64("position", pos.ID).
		Str("market", pos.VenueAID).
		Str("reason", string(reason)).
		Str("net_pnl", net.StringFixed(4)).
		Str("mode", string(pos.Mode)).
		Msg(emoji + " Position closed")

	if e.notify != nil && pos.Mode == types.ModeLive {
		e.notify.Alert(context.Background(), emoji+" closed "+pos.VenueAID+" ("+string(reason)+") pnl "+net.StringFixed(2))
	}
}

// In-flight live exits, keyed by position id. A restart loses the map;
// orphaned exits are recovered from order history and finalize as manual.

type pendingExit struct {
	reason types.ExitReason
	limit  decimal.Decimal
}

func (e *Engine) rememberExit(id int64, reason types.ExitReason, limit decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exits == nil {
		e.exits = map[int64]pendingExit{}
	}
	e.exits[id] = pendingExit{reason: reason, limit: limit}
}

func (e *Engine) recallExit(id int64) (pendingExit, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.exits[id]
	return p, ok
}

func (e *Engine) forgetExit(id int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.exits, id)
}
