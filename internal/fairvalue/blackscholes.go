package fairvalue

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BINARY OPTION PRICER - P(S_T > K) = Φ(d₂)
// ═══════════════════════════════════════════════════════════════════════════════

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// ProbAbove prices an above-strike binary:
//
//	d₂ = [ln(S/K) + (r − σ²/2)·T] / (σ·√T)
//
// spot and strike in the same units, t in years, vol annualized.
// At t → 0 the price collapses to the indicator of moneyness.
func ProbAbove(spot, strike, t, vol, r float64) float64 {
	if spot <= 0 || strike <= 0 || vol <= 0 {
		return math.NaN()
	}
	if t <= 0 {
		switch {
		case spot > strike:
			return 1
		case spot < strike:
			return 0
		default:
			return 0.5
		}
	}

	d2 := (math.Log(spot/strike) + (r-vol*vol/2)*t) / (vol * math.Sqrt(t))
	return stdNormal.CDF(d2)
}

// ProbBelow prices a below-strike binary as the complement.
func ProbBelow(spot, strike, t, vol, r float64) float64 {
	p := ProbAbove(spot, strike, t, vol, r)
	if math.IsNaN(p) {
		return p
	}
	return 1 - p
}
