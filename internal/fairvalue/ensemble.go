package fairvalue

import (
	"context"
	"math"
	"time"

	"github.com/quantleap/edgebot/internal/oracle"
	"github.com/quantleap/edgebot/internal/params"
	"github.com/quantleap/edgebot/internal/refprice"
	"github.com/quantleap/edgebot/internal/spot"
	"github.com/quantleap/edgebot/internal/types"
	"github.com/quantleap/edgebot/internal/venue"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FAIR-VALUE ENGINE - Model ensemble for crypto binaries
// ═══════════════════════════════════════════════════════════════════════════════
//
// Mixes the Black-Scholes pricer, the venue-C synthetic, and aux oracles with
// category weights. The spot-reality gate zeroes any model that calls a
// deeply in-the-money contract cheap: stale reference data must not produce
// deep-OTM fair values for contracts the spot already settled.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// spot-reality gate
	deepITMMoneyness = 1.30
	deepITMMinProb   = 0.45

	// time-to-expiry band where confidence is full
	wellBehavedMinT = 15 * time.Minute
	wellBehavedMaxT = 7 * 24 * time.Hour

	yearSeconds = 365.25 * 24 * 3600
)

// VolConfig selects the σ input for the pricer.
type VolConfig struct {
	Source   string  // "fixed" | "lattice"
	Fixed    float64 // annualized
	RiskFree float64
}

// Engine produces fair values for crypto matched markets.
type Engine struct {
	spot     *spot.Feed
	builder  *refprice.Builder
	oracles  *oracle.Registry
	venueC   venue.Reader
	brackets BracketSource
	vol      VolConfig
}

// NewEngine creates the fair-value engine.
func NewEngine(spotFeed *spot.Feed, builder *refprice.Builder, oracles *oracle.Registry, venueC venue.Reader, brackets BracketSource, vol VolConfig) *Engine {
	return &Engine{
		spot:     spotFeed,
		builder:  builder,
		oracles:  oracles,
		venueC:   venueC,
		brackets: brackets,
		vol:      vol,
	}
}

// Evaluate computes the ensemble fair value for one crypto market against the
// current venue-A quote. ok=false when spot is stale, expiry passed, or no
// model survived the gate.
func (e *Engine) Evaluate(ctx context.Context, m *types.MatchedMarket, quoteA types.Quote, snap params.Snapshot) (*types.FairValue, bool) {
	if m.Structural == nil {
		return nil, false
	}

	px, ok := e.spot.Fresh(m.Structural.Asset)
	if !ok {
		return nil, false
	}
	spotVal := px.Value.InexactFloat64()
	strike := m.Structural.Strike.InexactFloat64()

	t := time.Until(m.Structural.Expiry).Seconds() / yearSeconds
	if t <= 0 {
		return nil, false
	}

	vol := e.vol.Fixed
	if e.vol.Source == "lattice" {
		if iv, ok := ImpliedVol(m, e.builder, e.venueC, e.brackets, spotVal, t, e.vol.RiskFree); ok {
			vol = iv
		}
	}

	// Model probabilities in the contract's own direction.
	sources := map[string]float64{}

	bs := ProbAbove(spotVal, strike, t, vol, e.vol.RiskFree)
	if !math.IsNaN(bs) {
		if m.Structural.Direction == types.PayoffBelow {
			sources["bs"] = 1 - bs
		} else {
			sources["bs"] = bs
		}
	}

	if synth, ok := e.builder.Synthetic(m); ok {
		sources["c"] = synth
	}

	if probs := e.oracles.Lookup(ctx, m); len(probs) > 0 {
		sum := 0.0
		for _, p := range probs {
			sum += p
		}
		sources["oracle"] = sum / float64(len(probs))
	}

	e.applySpotGate(m, spotVal, strike, sources)
	if len(sources) == 0 {
		return nil, false
	}

	weights := snap.EnsembleWeights(string(types.CategoryCrypto))
	fair, used, _ := refprice.Fuse(sources, weights)
	if len(used) == 0 {
		return nil, false
	}

	fv := e.score(m, fair, quoteA, snap, t)
	fv.Confidence = e.confidence(sources, quoteA, t)
	return fv, true
}

// applySpotGate drops models that price a deeply ITM contract below the
// floor. Moneyness is evaluated in P(above) space for both directions.
func (e *Engine) applySpotGate(m *types.MatchedMarket, spotVal, strike float64, sources map[string]float64) {
	itm := false
	switch m.Structural.Direction {
	case types.PayoffAbove:
		itm = spotVal/strike > deepITMMoneyness
	case types.PayoffBelow:
		itm = strike/spotVal > deepITMMoneyness
	}
	if !itm {
		return
	}
	for name, p := range sources {
		if p <= deepITMMinProb {
			delete(sources, name)
		}
	}
}

// score computes net edge and the Kelly fraction against the venue-A book.
func (e *Engine) score(m *types.MatchedMarket, fair float64, quoteA types.Quote, snap params.Snapshot, _ float64) *types.FairValue {
	mid := quoteA.Mid().InexactFloat64()
	halfSpread := quoteA.Spread().InexactFloat64() / 2
	fee := snap[params.KeyFeePerSide]
	if m.FeeRate.IsPositive() {
		fee = m.FeeRate.InexactFloat64()
	}
	roundTrip := 2 * fee

	yesEdge := fair - mid - halfSpread - roundTrip
	noEdge := mid - fair - halfSpread - roundTrip

	fv := &types.FairValue{
		MatchedID: m.ID,
		Value:     fair,
		TS:        time.Now().UTC(),
	}

	if yesEdge >= noEdge {
		fv.Direction = types.DirectionYes
		fv.Edge = yesEdge
		if mid < 1 {
			fv.KellyFraction = yesEdge / (1 - mid)
		}
	} else {
		fv.Direction = types.DirectionNo
		fv.Edge = noEdge
		noPrice := 1 - mid
		if noPrice < 1 {
			fv.KellyFraction = noEdge / (1 - noPrice)
		}
	}

	ceiling := snap[params.KeyKellyCeiling]
	if fv.KellyFraction > ceiling {
		fv.KellyFraction = ceiling
	}
	if fv.KellyFraction < 0 {
		fv.KellyFraction = 0
	}

	return fv
}

// confidence is monotone in source agreement, venue-A liquidity, and
// time-to-expiry inside the well-behaved band.
func (e *Engine) confidence(sources map[string]float64, quoteA types.Quote, t float64) float64 {
	agree := 1.0
	if len(sources) >= 2 {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, p := range sources {
			lo = math.Min(lo, p)
			hi = math.Max(hi, p)
		}
		agree = 1 - (hi - lo)
		if agree < 0 {
			agree = 0
		}
	}

	depth := quoteA.BidDepth.Add(quoteA.AskDepth).InexactFloat64()
	liq := depth / 500
	if liq > 1 {
		liq = 1
	}

	tDur := time.Duration(t * yearSeconds * float64(time.Second))
	timeband := 1.0
	switch {
	case tDur < wellBehavedMinT:
		timeband = float64(tDur) / float64(wellBehavedMinT)
	case tDur > wellBehavedMaxT:
		timeband = float64(wellBehavedMaxT) / float64(tDur)
	}

	return 0.4*agree + 0.3*liq + 0.3*timeband
}
