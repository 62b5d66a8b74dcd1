package trading

import (
	"github.com/shopspring/decimal"

	"github.com/quantleap/edgebot/internal/params"
	"github.com/quantleap/edgebot/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POSITION SIZING - Kelly scaled by the ceiling, capped four ways
// ═══════════════════════════════════════════════════════════════════════════════

// liquidityCapFraction of the resting depth on the taken side.
const liquidityCapFraction = 0.10

// size returns contract quantity and dollar notional for an entry. Notional is
// min(maxPositionSize, wallet·maxPositionPct, 0.10·depth·price, f·wallet) with
// f = ceiling · edge / (1 − price). Below $1 the entry is skipped.
func (e *Engine) size(sig types.Signal, wallet *types.Wallet, snap params.Snapshot) (qty, notional decimal.Decimal) {
	quoteA := sig.Quotes.A

	price := quoteA.Mid()
	depth := quoteA.AskDepth
	if sig.Direction == types.DirectionNo {
		price = decimal.NewFromInt(1).Sub(price)
		depth = quoteA.BidDepth
	}
	if !price.IsPositive() || price.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, decimal.Zero
	}

	f := snap[params.KeyKellyCeiling] * sig.NetEdge / (1 - price.InexactFloat64())
	if f <= 0 {
		return decimal.Zero, decimal.Zero
	}

	candidates := []decimal.Decimal{
		decimal.NewFromFloat(snap[params.KeyMaxPositionSize]),
		wallet.Balance.Mul(decimal.NewFromFloat(snap[params.KeyMaxPositionPct])),
		depth.Mul(price).Mul(decimal.NewFromFloat(liquidityCapFraction)),
		wallet.Balance.Mul(decimal.NewFromFloat(f)),
	}
	notional = candidates[0]
	for _, c := range candidates[1:] {
		if c.LessThan(notional) {
			notional = c
		}
	}

	if notional.LessThan(decimal.NewFromFloat(minOrderNotional)) {
		return decimal.Zero, decimal.Zero
	}

	qty = notional.Div(price).RoundDown(2)
	if !qty.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	return qty, notional
}
