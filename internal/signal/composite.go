package signal

import (
	"math"
	"time"

	"github.com/quantleap/edgebot/internal/params"
	"github.com/quantleap/edgebot/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COMPOSITE SCORE - Six additive, saturating components, 0–100
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// velocity saturates at 3¢ of reference move per 10 s window
	velocitySaturation = 0.03
	velocityWindow     = 10 * time.Second

	// spread differential below this is book noise
	spreadNoiseFloor = 0.02
	spreadSaturation = 0.08 // full points at floor+saturation

	// consensus: full points at zero B/C difference, none at ≥ 25¢
	consensusSlope = 4.0
	// single-reference cycles contribute confidence scaled by this
	singleSourceScale = 0.6

	// staleness: points accrue per second since venue-A last traded
	stalenessPerSecond = 10.0 / 120.0

	// win-rate component bootstraps at 50% until this many closed trades
	winRateMinSamples = 20

	liquiditySpreadMax = 0.05
	liquidityDepthMin  = 200.0
)

// Components is the per-component breakdown, kept for the audit trail.
type Components struct {
	Velocity  float64 `json:"velocity"`
	SpreadDif float64 `json:"spread_diff"`
	Consensus float64 `json:"consensus"`
	Staleness float64 `json:"staleness"`
	WinRate   float64 `json:"win_rate"`
	Liquidity float64 `json:"liquidity"`
}

// Total sums the components.
func (c Components) Total() float64 {
	return c.Velocity + c.SpreadDif + c.Consensus + c.Staleness + c.WinRate + c.Liquidity
}

// velocityPoints scores the smoothed reference move over the history window.
func velocityPoints(history []refPoint, max float64) float64 {
	if len(history) < 2 {
		return 0
	}
	first, last := history[0], history[len(history)-1]
	elapsed := last.ts.Sub(first.ts)
	if elapsed <= 0 {
		return 0
	}
	perWindow := math.Abs(last.prob-first.prob) * float64(velocityWindow) / float64(elapsed)
	return saturate(perWindow/velocitySaturation) * max
}

// spreadDiffPoints scores |spread(A) − mean(spread(B,C))| above the noise floor.
func spreadDiffPoints(spreadA float64, refSpreads []float64, max float64) float64 {
	if len(refSpreads) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range refSpreads {
		sum += s
	}
	diff := math.Abs(spreadA - sum/float64(len(refSpreads)))
	return saturate((diff - spreadNoiseFloor) / spreadSaturation) * max
}

// consensusPoints scores cross-platform agreement. With one reference source
// the contribution degrades to the match confidence scaled by 0.6.
func consensusPoints(probB, probC *float64, matchConfidence, max float64) float64 {
	switch {
	case probB != nil && probC != nil:
		return saturate(1-math.Abs(*probB-*probC)*consensusSlope) * max
	case probB != nil || probC != nil:
		return matchConfidence * singleSourceScale * max
	default:
		return 0
	}
}

// stalenessPoints accrues with seconds since venue A last traded, capped.
func stalenessPoints(sinceLastTrade time.Duration, max float64) float64 {
	pts := sinceLastTrade.Seconds() * stalenessPerSecond
	if pts > max {
		return max
	}
	if pts < 0 {
		return 0
	}
	return pts
}

// winRatePoints bootstraps at 50% until enough closed trades exist.
func winRatePoints(rate float64, samples int, max float64) float64 {
	if samples < winRateMinSamples {
		return 0.5 * max
	}
	return clamp01(rate) * max
}

// liquidityPoints: thirds for a two-sided book, a tight venue-A spread, and
// adequate depth.
func liquidityPoints(q types.Quote, max float64) float64 {
	third := max / 3
	pts := 0.0
	if q.TwoSided() {
		pts += third
	}
	if q.TwoSided() && q.Spread().InexactFloat64() <= liquiditySpreadMax {
		pts += third
	}
	if q.BidDepth.Add(q.AskDepth).InexactFloat64() >= liquidityDepthMin {
		pts += third
	}
	return pts
}

// scoreComposite assembles the full breakdown from one cycle's inputs.
func scoreComposite(in MarketInput, history []refPoint, rate float64, samples int, snap params.Snapshot) Components {
	var refSpreads []float64
	if in.QuoteB != nil && in.QuoteB.TwoSided() {
		refSpreads = append(refSpreads, in.QuoteB.Spread().InexactFloat64())
	}
	if in.QuoteC != nil && in.QuoteC.TwoSided() {
		refSpreads = append(refSpreads, in.QuoteC.Spread().InexactFloat64())
	}

	var probB, probC *float64
	if in.QuoteB != nil && in.QuoteB.TwoSided() {
		p := in.QuoteB.Mid().InexactFloat64()
		probB = &p
	}
	if in.QuoteC != nil && in.QuoteC.TwoSided() {
		p := in.QuoteC.Mid().InexactFloat64()
		probC = &p
	}

	return Components{
		Velocity:  velocityPoints(history, snap[params.KeyWeightVelocity]),
		SpreadDif: spreadDiffPoints(in.QuoteA.Spread().InexactFloat64(), refSpreads, snap[params.KeyWeightSpread]),
		Consensus: consensusPoints(probB, probC, in.Market.Confidence, snap[params.KeyWeightConsensus]),
		Staleness: stalenessPoints(in.SinceLastTrade, snap[params.KeyWeightStaleness]),
		WinRate:   winRatePoints(rate, samples, snap[params.KeyWeightWinRate]),
		Liquidity: liquidityPoints(in.QuoteA, snap[params.KeyWeightLiquidity]),
	}
}

func saturate(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func clamp01(x float64) float64 { return saturate(x) }
