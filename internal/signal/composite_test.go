package signal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/quantleap/edgebot/internal/params"
	"github.com/quantleap/edgebot/internal/types"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func twoSidedQuote(bid, ask, depth float64) types.Quote {
	return types.Quote{
		Venue:    types.VenueA,
		Bid:      dec(bid),
		Ask:      dec(ask),
		Last:     dec((bid + ask) / 2),
		BidDepth: dec(depth / 2),
		AskDepth: dec(depth / 2),
		TS:       time.Now(),
	}
}

func TestConsensusPointsAgreement(t *testing.T) {
	// probB 0.62 vs probC 0.63: near-full points.
	b, c := 0.62, 0.63
	pts := consensusPoints(&b, &c, 1.0, 25)
	assert.InDelta(t, 24.0, pts, 1e-9)
}

func TestConsensusPointsSingleSourceDegrades(t *testing.T) {
	b := 0.62
	pts := consensusPoints(&b, nil, 0.9, 25)
	assert.InDelta(t, 0.9*0.6*25, pts, 1e-9)

	pts = consensusPoints(nil, &b, 0.9, 25)
	assert.InDelta(t, 0.9*0.6*25, pts, 1e-9)
}

func TestConsensusPointsNoSource(t *testing.T) {
	assert.Equal(t, 0.0, consensusPoints(nil, nil, 1.0, 25))
}

func TestStalenessPoints(t *testing.T) {
	assert.InDelta(t, 10.0, stalenessPoints(120*time.Second, 15), 1e-9)
	assert.Equal(t, 15.0, stalenessPoints(10*time.Minute, 15)) // capped
	assert.Equal(t, 0.0, stalenessPoints(0, 15))
}

func TestWinRatePointsBootstrap(t *testing.T) {
	// Below 20 samples the component pins at half points.
	assert.Equal(t, 10.0, winRatePoints(0.9, 5, 20))
	assert.Equal(t, 10.0, winRatePoints(0.1, 19, 20))
	assert.InDelta(t, 11.6, winRatePoints(0.58, 50, 20), 1e-9)
}

func TestLiquidityPointsFull(t *testing.T) {
	q := twoSidedQuote(0.53, 0.57, 400)
	assert.InDelta(t, 10.0, liquidityPoints(q, 10), 1e-9)
}

func TestLiquidityPointsWideSpread(t *testing.T) {
	q := twoSidedQuote(0.40, 0.52, 400) // spread 0.12 > 0.05
	assert.InDelta(t, 10.0*2/3, liquidityPoints(q, 10), 1e-9)
}

func TestLiquidityPointsOneSided(t *testing.T) {
	q := types.Quote{Bid: dec(0.5), AskDepth: dec(300), TS: time.Now()}
	assert.InDelta(t, 10.0/3, liquidityPoints(q, 10), 1e-9) // depth only
}

func TestVelocityPoints(t *testing.T) {
	now := time.Now()
	// 3¢ move over 10 s saturates.
	fast := []refPoint{{prob: 0.50, ts: now.Add(-10 * time.Second)}, {prob: 0.53, ts: now}}
	assert.InDelta(t, 15.0, velocityPoints(fast, 15), 1e-9)

	slow := []refPoint{{prob: 0.50, ts: now.Add(-60 * time.Second)}, {prob: 0.503, ts: now}}
	assert.Less(t, velocityPoints(slow, 15), 1.0)

	assert.Equal(t, 0.0, velocityPoints(nil, 15))
	assert.Equal(t, 0.0, velocityPoints(fast[:1], 15))
}

func TestSpreadDiffPoints(t *testing.T) {
	// Differential at the noise floor scores nothing.
	assert.Equal(t, 0.0, spreadDiffPoints(0.04, []float64{0.02, 0.02}, 15))
	// Well past the floor scores most of the weight.
	assert.Greater(t, spreadDiffPoints(0.10, []float64{0.02, 0.02}, 15), 10.0)
	// No reference spreads, no score.
	assert.Equal(t, 0.0, spreadDiffPoints(0.10, nil, 15))
}

func TestScoreCompositeConsensusScenario(t *testing.T) {
	// Two agreeing references, stale venue A, healthy book, seasoned
	// category: comfortably over the default threshold.
	m := &types.MatchedMarket{ID: "mm-1", Category: types.CategoryCrypto, Confidence: 1.0}
	qb := twoSidedQuote(0.61, 0.63, 1000)
	qc := twoSidedQuote(0.62, 0.64, 1000)
	in := MarketInput{
		Market:         m,
		QuoteA:         twoSidedQuote(0.53, 0.57, 400),
		QuoteB:         &qb,
		QuoteC:         &qc,
		SinceLastTrade: 120 * time.Second,
	}
	snap := params.Defaults().Snapshot()

	comps := scoreComposite(in, nil, 0.58, 50, snap)

	assert.InDelta(t, 0, comps.Velocity, 1e-9) // no history
	assert.InDelta(t, 24.0, comps.Consensus, 1e-9)
	assert.InDelta(t, 10.0, comps.Staleness, 1e-9)
	assert.InDelta(t, 11.6, comps.WinRate, 1e-9)
	assert.InDelta(t, 10.0, comps.Liquidity, 1e-9)
	assert.GreaterOrEqual(t, comps.Total(), snap[params.KeyScoreThreshold])
}
