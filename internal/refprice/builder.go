package refprice

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantleap/edgebot/internal/oracle"
	"github.com/quantleap/edgebot/internal/params"
	"github.com/quantleap/edgebot/internal/types"
	"github.com/quantleap/edgebot/internal/venue"
	"github.com/quantleap/edgebot/internal/venue/kalshi"
)

// ═══════════════════════════════════════════════════════════════════════════════
// REFERENCE PRICE BUILDER - One fused probability per matched market per cycle
// ═══════════════════════════════════════════════════════════════════════════════
//
// Sources: venue-B mid, venue-C synthetic (bracket sum), aux oracles. Weights
// are category-specific; absent sources have their weight redistributed
// proportionally to the present ones. A single stale source must not dominate:
// when max−min exceeds the disagreement threshold, the outlier furthest from
// the median is down-weighted to 10% of nominal before re-normalization.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	disagreeThreshold = 0.40
	outlierWeight     = 0.10
	// brackets worse than this are excluded from the synthetic sum
	maxBracketSpread = 0.50
)

// BracketSource exposes venue-C bracket metadata (for volume filtering).
type BracketSource interface {
	Bracket(ticker string) (kalshi.BracketMeta, bool)
}

// Builder fuses source probabilities into a reference price.
type Builder struct {
	venueB    venue.Reader
	venueC    venue.Reader
	brackets  BracketSource
	oracles   *oracle.Registry
	staleness time.Duration
}

// New creates the builder.
func New(b, c venue.Reader, brackets BracketSource, oracles *oracle.Registry, staleness time.Duration) *Builder {
	return &Builder{venueB: b, venueC: c, brackets: brackets, oracles: oracles, staleness: staleness}
}

// Build computes the reference price for one matched market. ok=false when no
// usable source is present this cycle.
func (bl *Builder) Build(ctx context.Context, m *types.MatchedMarket, snap params.Snapshot) (*types.ReferencePrice, bool) {
	sources := bl.gather(ctx, m)
	if len(sources) == 0 {
		return nil, false
	}

	weights := snap.EnsembleWeights(string(m.Category))
	// The BS model is the fair-value engine's source, not a reference input.
	delete(weights, "bs")

	prob, used, disagree := Fuse(sources, weights)
	if len(used) == 0 {
		return nil, false
	}

	return &types.ReferencePrice{
		MatchedID: m.ID,
		Prob:      prob,
		Sources:   used,
		Disagree:  disagree,
		TS:        time.Now().UTC(),
	}, true
}

// gather collects fresh, in-range source probabilities keyed by weight name.
func (bl *Builder) gather(ctx context.Context, m *types.MatchedMarket) map[string]float64 {
	now := time.Now()
	out := map[string]float64{}

	if m.VenueBID != "" {
		if q, ok := bl.venueB.CachedQuote(m.VenueBID); ok && !q.Stale(now, bl.staleness) && q.TwoSided() {
			p := q.Mid().InexactFloat64()
			if p > 0 && p < 1 {
				out["b"] = p
			}
		}
	}

	if p, ok := bl.Synthetic(m); ok {
		out["c"] = p
	}

	if probs := bl.oracles.Lookup(ctx, m); len(probs) > 0 {
		sum := 0.0
		for _, p := range probs {
			sum += p
		}
		out["oracle"] = sum / float64(len(probs))
	}

	return out
}

// Synthetic sums the bracket mids bound to a crypto market, clamped to [0,1].
// Brackets with spread > 0.50 or zero reported volume are excluded first.
// For plain single-market venue-C bindings it degrades to that market's mid.
func (bl *Builder) Synthetic(m *types.MatchedMarket) (float64, bool) {
	if len(m.VenueCIDs) == 0 {
		return 0, false
	}
	now := time.Now()

	// Non-crypto bindings hold a single venue-C market; use its mid directly.
	if !m.Crypto() && len(m.VenueCIDs) == 1 {
		q, ok := bl.venueC.CachedQuote(m.VenueCIDs[0])
		if !ok || q.Stale(now, bl.staleness) || !q.TwoSided() {
			return 0, false
		}
		return q.Mid().InexactFloat64(), true
	}

	sum := decimal.Zero
	contributed := 0
	for _, ticker := range m.VenueCIDs {
		q, ok := bl.venueC.CachedQuote(ticker)
		if !ok || q.Stale(now, bl.staleness) || !q.TwoSided() {
			continue
		}
		if q.Spread().GreaterThan(decimal.NewFromFloat(maxBracketSpread)) {
			continue
		}
		if meta, ok := bl.brackets.Bracket(ticker); ok && !meta.Volume.IsPositive() {
			continue
		}
		sum = sum.Add(q.Mid())
		contributed++
	}

	if contributed == 0 {
		return 0, false
	}

	p := sum.InexactFloat64()
	if p > 1 {
		p = 1
	}
	if p < 0 {
		p = 0
	}
	return p, true
}

// Fuse computes the weighted mean with redistribution and outlier damping.
// Returns the fused probability, the contributing source names (sorted), and
// whether the disagreement flag fired.
func Fuse(sources map[string]float64, weights map[string]float64) (float64, []string, bool) {
	present := make([]string, 0, len(sources))
	for name := range sources {
		if w, ok := weights[name]; ok && w > 0 {
			present = append(present, name)
		}
	}
	if len(present) == 0 {
		// No weighted source: fall back to a plain mean of whatever came in.
		for name := range sources {
			present = append(present, name)
		}
		if len(present) == 0 {
			return 0, nil, false
		}
		sort.Strings(present)
		sum := 0.0
		for _, name := range present {
			sum += sources[name]
		}
		return sum / float64(len(present)), present, false
	}
	sort.Strings(present)

	eff := make(map[string]float64, len(present))
	for _, name := range present {
		eff[name] = weights[name]
	}

	disagree := false
	if len(present) >= 2 {
		lo, hi := math.Inf(1), math.Inf(-1)
		vals := make([]float64, 0, len(present))
		for _, name := range present {
			v := sources[name]
			vals = append(vals, v)
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi-lo > disagreeThreshold {
			disagree = true
			med := median(vals)
			outlier, worst := "", -1.0
			for _, name := range present {
				d := math.Abs(sources[name] - med)
				if d > worst {
					worst, outlier = d, name
				}
			}
			eff[outlier] *= outlierWeight
		}
	}

	total := 0.0
	for _, w := range eff {
		total += w
	}
	if total == 0 {
		return 0, nil, disagree
	}

	fused := 0.0
	for _, name := range present {
		fused += sources[name] * eff[name] / total
	}
	return fused, present, disagree
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
