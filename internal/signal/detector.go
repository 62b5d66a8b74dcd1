package signal

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantleap/edgebot/internal/params"
	"github.com/quantleap/edgebot/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNAL DETECTOR - One pass per fast cycle, transient output
// ═══════════════════════════════════════════════════════════════════════════════
//
// Direction comes from the fused reference relative to the venue-A mid, never
// from price levels alone: no reference this cycle means no signal, however
// cheap the contract looks. Fair-value signals replace the composite for the
// same market only when they carry strictly more edge. Synthetic-arb signals
// are normalized to YES/NO before they reach the trading engine and are off
// unless the market's category is allow-listed.
//
// Signals expire at end of cycle; the detector never persists them.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// reference history ring per market
	historyCap = 8
	historyTTL = 2 * time.Minute

	// synthetic-arb minimum gross gap before fees
	arbMinGap = 0.04
)

// Stats supplies the rolling category win rate for the score.
type Stats interface {
	CategoryWinRate(cat types.Category) (rate float64, samples int)
}

// MarketInput is everything the detector sees for one market in one cycle.
type MarketInput struct {
	Market         *types.MatchedMarket
	QuoteA         types.Quote
	QuoteB         *types.Quote // nil when unmatched or stale
	QuoteC         *types.Quote // synthetic top built from brackets, may be nil
	Ref            *types.ReferencePrice
	Fair           *types.FairValue // nil for non-crypto
	SinceLastTrade time.Duration    // venue-A staleness
}

// Detector turns per-cycle market inputs into trade candidates.
type Detector struct {
	mu      sync.Mutex
	history map[string][]refPoint
	trades  map[string]lastTrade

	stats        Stats
	arbAllowlist map[types.Category]bool

	now func() time.Time
}

type refPoint struct {
	prob float64
	ts   time.Time
}

type lastTrade struct {
	last decimal.Decimal
	ts   time.Time
}

// New creates a detector. arbCategories enables synthetic-arb per category;
// empty means the strategy stays off.
func New(stats Stats, arbCategories []types.Category) *Detector {
	allow := make(map[types.Category]bool, len(arbCategories))
	for _, c := range arbCategories {
		allow[c] = true
	}
	return &Detector{
		history:      map[string][]refPoint{},
		trades:       map[string]lastTrade{},
		stats:        stats,
		arbAllowlist: allow,
		now:          time.Now,
	}
}

// Observe records the venue-A last price so staleness can be measured as time
// since the price last moved, not time since the last poll.
func (d *Detector) Observe(matchedID string, quoteA types.Quote) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	prev, ok := d.trades[matchedID]
	if !ok || !prev.last.Equal(quoteA.Last) {
		d.trades[matchedID] = lastTrade{last: quoteA.Last, ts: now}
		return 0
	}
	return now.Sub(prev.ts)
}

// Detect evaluates one cycle's inputs and returns actionable signals sorted by
// score descending, ties broken by matched id for a stable replay order.
func (d *Detector) Detect(inputs []MarketInput, mode types.Mode, snap params.Snapshot) []types.Signal {
	threshold := snap[params.KeyScoreThreshold]
	minEdge := snap[params.KeyMinEdgePaper]
	if mode == types.ModeLive {
		minEdge = snap[params.KeyMinEdgeLive]
	}

	var out []types.Signal
	for _, in := range inputs {
		if in.Market == nil || !in.QuoteA.TwoSided() {
			continue
		}
		d.recordRef(in)

		sig, ok := d.composite(in, snap)
		if ok {
			sig = d.mergeFairValue(sig, in, snap)
			if sig.Score >= threshold && sig.NetEdge >= minEdge {
				out = append(out, sig)
			}
		} else if fv, ok := d.fairValueOnly(in, snap); ok && fv.NetEdge >= minEdge && fv.Score >= threshold {
			out = append(out, fv)
		}

		if arb, ok := d.syntheticArb(in, snap); ok && arb.NetEdge >= minEdge {
			out = append(out, arb)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].MatchedID < out[j].MatchedID
	})

	if len(out) > 0 {
		log.Debug().Int("signals", len(out)).Str("mode", string(mode)).Msg("🎯 Detection cycle complete")
	}
	return out
}

// composite scores one market. ok=false when no reference price exists or the
// reference sits inside the direction band.
func (d *Detector) composite(in MarketInput, snap params.Snapshot) (types.Signal, bool) {
	if in.Ref == nil {
		return types.Signal{}, false
	}

	midA := in.QuoteA.Mid().InexactFloat64()
	band := snap[params.KeyDirectionBand]

	var dir types.Direction
	diff := in.Ref.Prob - midA
	switch {
	case diff > band:
		dir = types.DirectionYes
	case -diff > band:
		dir = types.DirectionNo
	default:
		return types.Signal{}, false
	}

	rate, samples := d.stats.CategoryWinRate(in.Market.Category)
	comps := scoreComposite(in, d.historyFor(in.Market.ID), rate, samples, snap)

	halfSpread := in.QuoteA.Spread().InexactFloat64() / 2
	netEdge := math.Abs(diff) - halfSpread - 2*d.feeFor(in.Market, snap)

	strategy := types.StrategyComposite
	if in.Ref.Disagree {
		// Sources quarrel; flag it so sizing stays conservative downstream.
		strategy = types.StrategyMultiSource
	}

	return types.Signal{
		MatchedID:  in.Market.ID,
		VenueAID:   in.Market.VenueAID,
		Direction:  dir,
		Score:      comps.Total(),
		NetEdge:    netEdge,
		Confidence: in.Market.Confidence,
		Strategy:   strategy,
		Category:   in.Market.Category,
		Target:     decimal.NewFromFloat(in.Ref.Prob).Round(4),
		Quotes:     d.snapshot(in),
	}, true
}

// mergeFairValue swaps in the ensemble signal when it carries strictly more
// net edge in some direction than the composite.
func (d *Detector) mergeFairValue(sig types.Signal, in MarketInput, snap params.Snapshot) types.Signal {
	fv, ok := d.fairValueOnly(in, snap)
	if !ok {
		return sig
	}
	if fv.NetEdge > sig.NetEdge {
		fv.Score = math.Max(fv.Score, sig.Score)
		return fv
	}
	return sig
}

// fairValueOnly builds a signal directly from the ensemble output. Its score
// is driven by the ensemble confidence so low-conviction fair values still
// have to clear the same threshold as composites.
func (d *Detector) fairValueOnly(in MarketInput, snap params.Snapshot) (types.Signal, bool) {
	if in.Fair == nil || in.Fair.Edge <= 0 {
		return types.Signal{}, false
	}
	return types.Signal{
		MatchedID:  in.Market.ID,
		VenueAID:   in.Market.VenueAID,
		Direction:  in.Fair.Direction,
		Score:      50 + 50*clamp01(in.Fair.Confidence),
		NetEdge:    in.Fair.Edge,
		Confidence: in.Fair.Confidence,
		Strategy:   types.StrategyFairValue,
		Category:   in.Market.Category,
		Target:     decimal.NewFromFloat(in.Fair.Value).Round(4),
		Quotes:     d.snapshot(in),
	}, true
}

// syntheticArb fires when the venue-A book crosses the reference by more than
// the gap plus fees. Internally the legs are cheap/rich; the emitted direction
// is always YES (lift the cheap ask) or NO (hit the rich bid).
func (d *Detector) syntheticArb(in MarketInput, snap params.Snapshot) (types.Signal, bool) {
	if !d.arbAllowlist[in.Market.Category] || in.Ref == nil {
		return types.Signal{}, false
	}

	fee := d.feeFor(in.Market, snap)
	ask := in.QuoteA.Ask.InexactFloat64()
	bid := in.QuoteA.Bid.InexactFloat64()

	var dir types.Direction
	var gross float64
	switch {
	case in.Ref.Prob-ask > arbMinGap: // cheap YES leg on A
		dir, gross = types.DirectionYes, in.Ref.Prob-ask
	case bid-in.Ref.Prob > arbMinGap: // rich leg on A, short via NO
		dir, gross = types.DirectionNo, bid-in.Ref.Prob
	default:
		return types.Signal{}, false
	}

	return types.Signal{
		MatchedID:  in.Market.ID,
		VenueAID:   in.Market.VenueAID,
		Direction:  dir,
		Score:      100, // arbs skip the composite threshold; edge gate still applies
		NetEdge:    gross - 2*fee,
		Confidence: in.Market.Confidence,
		Strategy:   types.StrategySyntheticArb,
		Category:   in.Market.Category,
		Target:     decimal.NewFromFloat(in.Ref.Prob).Round(4),
		Quotes:     d.snapshot(in),
	}, true
}

func (d *Detector) feeFor(m *types.MatchedMarket, snap params.Snapshot) float64 {
	if m.FeeRate.IsPositive() {
		return m.FeeRate.InexactFloat64()
	}
	return snap[params.KeyFeePerSide]
}

func (d *Detector) snapshot(in MarketInput) types.QuoteSnapshot {
	a := in.QuoteA
	return types.QuoteSnapshot{A: &a, B: in.QuoteB, C: in.QuoteC}
}

// recordRef appends this cycle's reference to the market's history ring.
func (d *Detector) recordRef(in MarketInput) {
	if in.Ref == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	h := d.history[in.Market.ID]
	h = append(h, refPoint{prob: in.Ref.Prob, ts: now})

	// Drop expired points, then cap.
	cut := 0
	for cut < len(h) && now.Sub(h[cut].ts) > historyTTL {
		cut++
	}
	h = h[cut:]
	if len(h) > historyCap {
		h = h[len(h)-historyCap:]
	}
	d.history[in.Market.ID] = h
}

func (d *Detector) historyFor(matchedID string) []refPoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]refPoint(nil), d.history[matchedID]...)
}

// Forget drops per-market state for ids no longer matched.
func (d *Detector) Forget(matchedID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, matchedID)
	delete(d.trades, matchedID)
}
