package fairvalue

import (
	"time"

	"github.com/quantleap/edgebot/internal/types"
	"github.com/quantleap/edgebot/internal/venue"
	"github.com/quantleap/edgebot/internal/venue/kalshi"
)

// ═══════════════════════════════════════════════════════════════════════════════
// IMPLIED VOLATILITY - Derived from the venue-C bracket lattice
// ═══════════════════════════════════════════════════════════════════════════════
//
// The synthetic probability from the lattice pins one point of the implied
// distribution; bisecting the pricer on σ recovers the vol that reproduces
// it. An illiquid lattice must not dominate: fewer than minLiquidBrackets
// liquid brackets, or a degenerate synthetic, falls back to the configured σ.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	minLiquidBrackets = 3
	volLo             = 0.05
	volHi             = 3.0
	volTol            = 1e-4
)

// SyntheticSource answers the lattice probability for a matched market.
type SyntheticSource interface {
	Synthetic(m *types.MatchedMarket) (float64, bool)
}

// ImpliedVol recovers σ from the lattice for one crypto market. ok=false when
// the lattice is too thin or the probability pins no interior vol.
func ImpliedVol(m *types.MatchedMarket, synth SyntheticSource, venueC venue.Reader, brackets BracketSource, spot, t, r float64) (float64, bool) {
	if m.Structural == nil || t <= 0 {
		return 0, false
	}

	if countLiquid(m, venueC, brackets) < minLiquidBrackets {
		return 0, false
	}

	target, ok := synth.Synthetic(m)
	if !ok || target <= 0.02 || target >= 0.98 {
		return 0, false
	}

	// The lattice quotes the contract's own direction; invert to P(above).
	pAbove := target
	if m.Structural.Direction == types.PayoffBelow {
		pAbove = 1 - target
	}

	strike := m.Structural.Strike.InexactFloat64()

	price := func(vol float64) float64 { return ProbAbove(spot, strike, t, vol, r) }

	// Φ(d₂) is monotone decreasing in σ when ITM, increasing when OTM, so
	// bracket the root before bisecting.
	lo, hi := volLo, volHi
	pLo, pHi := price(lo), price(hi)
	if (pLo-pAbove)*(pHi-pAbove) > 0 {
		return 0, false
	}

	for hi-lo > volTol {
		mid := (lo + hi) / 2
		pm := price(mid)
		if (pLo-pAbove)*(pm-pAbove) <= 0 {
			hi, pHi = mid, pm
		} else {
			lo, pLo = mid, pm
		}
	}

	return (lo + hi) / 2, true
}

// BracketSource is the venue-C lattice metadata surface.
type BracketSource interface {
	Bracket(ticker string) (kalshi.BracketMeta, bool)
}

func countLiquid(m *types.MatchedMarket, venueC venue.Reader, brackets BracketSource) int {
	now := time.Now()
	n := 0
	for _, ticker := range m.VenueCIDs {
		q, ok := venueC.CachedQuote(ticker)
		if !ok || q.Stale(now, 30*time.Second) || !q.TwoSided() {
			continue
		}
		if meta, ok := brackets.Bracket(ticker); ok && !meta.Volume.IsPositive() {
			continue
		}
		n++
	}
	return n
}
