package signal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantleap/edgebot/internal/params"
	"github.com/quantleap/edgebot/internal/types"
)

type fixedStats struct {
	rate    float64
	samples int
}

func (s fixedStats) CategoryWinRate(types.Category) (float64, int) { return s.rate, s.samples }

func detectorInput(refProb float64) MarketInput {
	m := &types.MatchedMarket{
		ID:         "mm-1",
		VenueAID:   "GEMI-BTC2508241700-HI67500",
		Category:   types.CategoryCrypto,
		Confidence: 1.0,
	}
	qb := twoSidedQuote(refProb-0.01, refProb+0.01, 1000)
	qc := twoSidedQuote(refProb-0.01, refProb+0.01, 1000)
	return MarketInput{
		Market:         m,
		QuoteA:         twoSidedQuote(0.53, 0.57, 400),
		QuoteB:         &qb,
		QuoteC:         &qc,
		Ref:            &types.ReferencePrice{MatchedID: "mm-1", Prob: refProb, Sources: []string{"b", "c"}, TS: time.Now()},
		SinceLastTrade: 120 * time.Second,
	}
}

func TestDetectDirectionFromReference(t *testing.T) {
	d := New(fixedStats{0.58, 50}, nil)
	snap := params.Defaults().Snapshot()

	sigs := d.Detect([]MarketInput{detectorInput(0.625)}, types.ModePaper, snap)
	require.Len(t, sigs, 1)
	assert.Equal(t, types.DirectionYes, sigs[0].Direction)
	assert.Equal(t, types.StrategyComposite, sigs[0].Strategy)
	// ref 0.625 − mid 0.55 − half spread 0.02 − 2·fee
	assert.InDelta(t, 0.625-0.55-0.02-0.0002, sigs[0].NetEdge, 1e-9)
}

func TestDetectNoDirectionInsideBand(t *testing.T) {
	d := New(fixedStats{0.58, 50}, nil)
	snap := params.Defaults().Snapshot()

	// |ref − mid| = 0.01 < band 0.015: no side, no signal.
	sigs := d.Detect([]MarketInput{detectorInput(0.56)}, types.ModePaper, snap)
	assert.Empty(t, sigs)
}

func TestDetectNoReferenceNoSignal(t *testing.T) {
	d := New(fixedStats{0.58, 50}, nil)
	snap := params.Defaults().Snapshot()

	in := detectorInput(0.625)
	in.Ref = nil
	// A cheap-looking contract with no reference must stay silent.
	sigs := d.Detect([]MarketInput{in}, types.ModePaper, snap)
	assert.Empty(t, sigs)
}

func TestDetectMinEdgeGate(t *testing.T) {
	d := New(fixedStats{0.58, 50}, nil)
	snap := params.Defaults().Snapshot()

	// Edge 0.575−0.55−0.02−0.0002 ≈ 0.005 < paper minimum 0.03.
	sigs := d.Detect([]MarketInput{detectorInput(0.575)}, types.ModePaper, snap)
	assert.Empty(t, sigs)
}

func TestDetectFairValueReplacesWeakerComposite(t *testing.T) {
	d := New(fixedStats{0.58, 50}, nil)
	snap := params.Defaults().Snapshot()

	in := detectorInput(0.625)
	in.Fair = &types.FairValue{
		MatchedID:  "mm-1",
		Value:      0.70,
		Edge:       0.12, // larger than the composite's ≈0.055
		Direction:  types.DirectionYes,
		Confidence: 0.8,
		TS:         time.Now(),
	}
	sigs := d.Detect([]MarketInput{in}, types.ModePaper, snap)
	require.Len(t, sigs, 1)
	assert.Equal(t, types.StrategyFairValue, sigs[0].Strategy)
	assert.InDelta(t, 0.12, sigs[0].NetEdge, 1e-9)
}

func TestDetectFairValueDoesNotReplaceStrongerComposite(t *testing.T) {
	d := New(fixedStats{0.58, 50}, nil)
	snap := params.Defaults().Snapshot()

	in := detectorInput(0.625)
	in.Fair = &types.FairValue{
		MatchedID:  "mm-1",
		Value:      0.60,
		Edge:       0.01, // weaker than the composite
		Direction:  types.DirectionYes,
		Confidence: 0.8,
		TS:         time.Now(),
	}
	sigs := d.Detect([]MarketInput{in}, types.ModePaper, snap)
	require.Len(t, sigs, 1)
	assert.Equal(t, types.StrategyComposite, sigs[0].Strategy)
}

func TestDetectSyntheticArbGatedByAllowlist(t *testing.T) {
	snap := params.Defaults().Snapshot()
	in := detectorInput(0.70) // ref well above the 0.57 ask

	// Off by default.
	d := New(fixedStats{0.58, 50}, nil)
	for _, s := range d.Detect([]MarketInput{in}, types.ModePaper, snap) {
		assert.NotEqual(t, types.StrategySyntheticArb, s.Strategy)
	}

	// On for the allow-listed category; normalized to YES.
	d = New(fixedStats{0.58, 50}, []types.Category{types.CategoryCrypto})
	var arb *types.Signal
	for _, s := range d.Detect([]MarketInput{in}, types.ModePaper, snap) {
		if s.Strategy == types.StrategySyntheticArb {
			s := s
			arb = &s
		}
	}
	require.NotNil(t, arb)
	assert.Equal(t, types.DirectionYes, arb.Direction)
}

func TestDetectDeterministicReplay(t *testing.T) {
	snap := params.Defaults().Snapshot()
	in := detectorInput(0.625)

	d1 := New(fixedStats{0.58, 50}, nil)
	d2 := New(fixedStats{0.58, 50}, nil)
	s1 := d1.Detect([]MarketInput{in}, types.ModePaper, snap)
	s2 := d2.Detect([]MarketInput{in}, types.ModePaper, snap)

	b1, err := json.Marshal(s1)
	require.NoError(t, err)
	b2, err := json.Marshal(s2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestObserveTracksLastTradeMovement(t *testing.T) {
	d := New(fixedStats{0.5, 0}, nil)
	base := time.Unix(1000, 0)
	d.now = func() time.Time { return base }

	q := twoSidedQuote(0.53, 0.57, 400)
	assert.Equal(t, time.Duration(0), d.Observe("mm-1", q))

	d.now = func() time.Time { return base.Add(90 * time.Second) }
	assert.Equal(t, 90*time.Second, d.Observe("mm-1", q))

	// Price moved: staleness resets.
	q.Last = dec(0.58)
	assert.Equal(t, time.Duration(0), d.Observe("mm-1", q))
}
