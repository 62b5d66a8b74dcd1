package trading

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/quantleap/edgebot/internal/params"
	"github.com/quantleap/edgebot/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRE-TRADE GUARDS - Ordered chain, explicit reason codes
// ═══════════════════════════════════════════════════════════════════════════════

// guard reason codes, written verbatim to the audit log.
const (
	reasonHalted        = "halted"
	reasonBreakerOpen   = "breaker_open"
	reasonDrawdownKill  = "drawdown_kill"
	reasonDailyLoss     = "daily_loss"
	reasonMaxConcurrent = "max_concurrent"
	reasonCategoryCap   = "category_cap"
	reasonDuplicate     = "duplicate_position"
	reasonOrderBudget   = "order_budget"
	reasonOneSidedBook  = "one_sided_book"
	reasonSpreadWide    = "spread_too_wide"
	reasonThinDepth     = "insufficient_depth"
	reasonEdgeBelow     = "edge_below_spread"
	reasonDeepITM       = "deep_itm"
	reasonDeepOTM       = "deep_otm"
	reasonNoLeverage    = "no_leverage"
	reasonLowBalance    = "insufficient_balance"
	reasonStoreError    = "store_error"
)

const (
	maxLiveSpread = 0.15
	// direction sanity bands for crypto, from parsed strike vs spot
	sanityITMRatio = 1.20
	sanityOTMRatio = 0.80
	// NO below this price has uncontrolled downside
	noLeverageFloor = 0.05
)

// guard walks the chain in order and returns the routing mode plus the first
// failing reason code, empty when the entry may proceed.
func (e *Engine) guard(ctx context.Context, sig types.Signal, m *types.MatchedMarket, wallet *types.Wallet, snap params.Snapshot, liveAttempts int) (types.Mode, string) {
	// 1. Global state.
	if !e.Running() {
		return "", reasonHalted
	}
	if e.breaker != nil && e.breaker.Open() {
		return "", reasonBreakerOpen
	}
	if wallet.Drawdown().InexactFloat64() >= snap[params.KeyDrawdownKillPct] {
		e.Kill("drawdown limit reached")
		return "", reasonDrawdownKill
	}
	dailyLimit := wallet.Balance.Mul(decimal.NewFromFloat(snap[params.KeyDailyLossPct]))
	if wallet.DailyPnL.IsNegative() && wallet.DailyPnL.Neg().GreaterThanOrEqual(dailyLimit) {
		return "", reasonDailyLoss
	}

	// 2. Concurrency caps.
	open, err := e.store.CountOpen()
	if err != nil {
		return "", reasonStoreError
	}
	if open >= int(snap[params.KeyMaxConcurrent]) {
		return "", reasonMaxConcurrent
	}
	inCat, err := e.store.CountOpenByCategory(sig.Category)
	if err != nil {
		return "", reasonStoreError
	}
	if inCat >= int(snap[params.KeyMaxPerCategory]) {
		return "", reasonCategoryCap
	}
	if dup, err := e.store.HasOpenPosition(sig.MatchedID); err != nil {
		return "", reasonStoreError
	} else if dup {
		return "", reasonDuplicate
	}

	// 7. Mode gate decided here so the remaining guards know their mode.
	mode := types.ModePaper
	if e.mode == types.ModeLive && liveEligible(sig.VenueAID) {
		mode = types.ModeLive
	}
	if mode == types.ModeLive && liveAttempts >= maxLiveAttemptsPerTick {
		return "", reasonOrderBudget
	}

	quoteA := sig.Quotes.A
	spread := quoteA.Spread().InexactFloat64()

	// 3. Liquidity, live only.
	if mode == types.ModeLive {
		if !quoteA.TwoSided() {
			return "", reasonOneSidedBook
		}
		if spread > maxLiveSpread {
			return "", reasonSpreadWide
		}
		depth := quoteA.AskDepth
		if sig.Direction == types.DirectionNo {
			depth = quoteA.BidDepth
		}
		qty, _ := e.size(sig, wallet, snap)
		if qty.GreaterThan(depth) {
			return "", reasonThinDepth
		}
	}

	// 4. Spread-aware edge floor.
	floor := snap[params.KeyStopLossWidth]
	if sw := spread*2 + 0.01; sw > floor {
		floor = sw
	}
	if sig.NetEdge <= floor {
		return "", reasonEdgeBelow
	}

	// 5. Direction sanity for crypto, from parsed strike against live spot.
	if m.Structural != nil {
		if px, ok := e.spot.Fresh(m.Structural.Asset); ok {
			ratio := px.Value.InexactFloat64() / m.Structural.Strike.InexactFloat64()
			if sig.Direction == types.DirectionNo && ratio > sanityITMRatio {
				return "", reasonDeepITM
			}
			if sig.Direction == types.DirectionYes && ratio < sanityOTMRatio {
				return "", reasonDeepOTM
			}
		}
	}

	// 6. NO-leverage guard.
	if sig.Direction == types.DirectionNo {
		noPrice := decimal.NewFromInt(1).Sub(quoteA.Mid())
		if noPrice.LessThan(decimal.NewFromFloat(noLeverageFloor)) {
			return "", reasonNoLeverage
		}
	}

	// 8. Live balance check, fresh from the venue.
	if mode == types.ModeLive {
		bal, err := e.exec.AvailableBalance(ctx)
		if err != nil {
			return "", reasonLowBalance
		}
		if bal.LessThan(decimal.NewFromFloat(snap[params.KeyMinBalanceLive])) {
			return "", reasonLowBalance
		}
	}

	return mode, ""
}
