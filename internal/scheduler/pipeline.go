package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantleap/edgebot/internal/fairvalue"
	"github.com/quantleap/edgebot/internal/params"
	"github.com/quantleap/edgebot/internal/refprice"
	"github.com/quantleap/edgebot/internal/signal"
	"github.com/quantleap/edgebot/internal/store"
	"github.com/quantleap/edgebot/internal/trading"
	"github.com/quantleap/edgebot/internal/types"
	"github.com/quantleap/edgebot/internal/venue"
)

// ═══════════════════════════════════════════════════════════════════════════════
// FAST PIPELINE - quotes → reference → fair value → signals → trade
// ═══════════════════════════════════════════════════════════════════════════════
//
// One iteration per ~2 s tick. The three venue reads fan out in parallel and
// the iteration proceeds once all have returned or hit their 3 s timeout; a
// missing venue degrades to source-unavailable for the cycle. Parameters are
// snapshotted at the top so a learning write mid-iteration cannot mix
// component weights. For each market the (snapshot, decision, action) tuple
// completes and persists inside the iteration.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	venueTimeout   = 3 * time.Second
	quoteStaleness = 30 * time.Second
)

// Pipeline owns one fast-loop iteration.
type Pipeline struct {
	store    *store.Store
	venueA   venue.Reader
	venueB   venue.Reader
	venueC   venue.Reader
	brackets refprice.BracketSource
	builder  *refprice.Builder
	fv       *fairvalue.Engine
	detector *signal.Detector
	engine   *trading.Engine
	params   *params.Set
	mode     types.Mode

	breaker *VenueBreaker

	mu       sync.Mutex
	lastSeen map[string]time.Time // venue name → last successful batch
}

// NewPipeline wires the fast loop.
func NewPipeline(st *store.Store, a, b, c venue.Reader, brackets refprice.BracketSource, builder *refprice.Builder, fv *fairvalue.Engine, det *signal.Detector, eng *trading.Engine, ps *params.Set, mode types.Mode, breaker *VenueBreaker) *Pipeline {
	return &Pipeline{
		store:    st,
		venueA:   a,
		venueB:   b,
		venueC:   c,
		brackets: brackets,
		builder:  builder,
		fv:       fv,
		detector: det,
		engine:   eng,
		params:   ps,
		mode:     mode,
		breaker:  breaker,
		lastSeen: map[string]time.Time{},
	}
}

// RunCycle executes one fast-loop iteration.
func (p *Pipeline) RunCycle(ctx context.Context) {
	markets, err := p.store.ListMatchedMarkets()
	if err != nil {
		log.Error().Err(err).Msg("Fast cycle skipped, matched markets unavailable")
		return
	}
	if len(markets) == 0 {
		return
	}

	snap := p.params.Snapshot()
	p.fetchQuotes(ctx, markets)

	byID := make(map[string]*types.MatchedMarket, len(markets))
	inputs := make([]signal.MarketInput, 0, len(markets))
	now := time.Now()

	for _, m := range markets {
		byID[m.ID] = m

		quoteA, ok := p.venueA.CachedQuote(m.VenueAID)
		if !ok || quoteA.Stale(now, quoteStaleness) {
			continue
		}
		if err := p.store.SaveQuote(m.ID, quoteA); err != nil {
			log.Warn().Err(err).Str("market", m.VenueAID).Msg("Quote persist failed")
		}

		in := signal.MarketInput{
			Market:         m,
			QuoteA:         quoteA,
			SinceLastTrade: p.detector.Observe(m.ID, quoteA),
		}

		if m.VenueBID != "" {
			if q, ok := p.venueB.CachedQuote(m.VenueBID); ok && !q.Stale(now, quoteStaleness) {
				in.QuoteB = &q
			}
		}
		if qc, ok := p.syntheticQuote(m, now); ok {
			in.QuoteC = &qc
		}

		if ref, ok := p.builder.Build(ctx, m, snap); ok {
			in.Ref = ref
		}
		if m.Crypto() {
			if fv, ok := p.fv.Evaluate(ctx, m, quoteA, snap); ok {
				in.Fair = fv
			}
		}

		inputs = append(inputs, in)
	}

	signals := p.detector.Detect(inputs, p.mode, snap)
	p.engine.Tick(ctx, signals, func(id string) (*types.MatchedMarket, bool) {
		m, ok := byID[id]
		return m, ok
	})
}

// fetchQuotes fans the three batch reads out and waits for all of them.
func (p *Pipeline) fetchQuotes(ctx context.Context, markets []*types.MatchedMarket) {
	var aIDs, bIDs, cIDs []string
	for _, m := range markets {
		aIDs = append(aIDs, m.VenueAID)
		if m.VenueBID != "" {
			bIDs = append(bIDs, m.VenueBID)
		}
		cIDs = append(cIDs, m.VenueCIDs...)
	}

	var wg sync.WaitGroup
	fetch := func(r venue.Reader, ids []string, countBreaker bool) {
		defer wg.Done()
		if len(ids) == 0 {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, venueTimeout)
		defer cancel()
		_, err := r.BatchQuotes(cctx, ids)
		if err != nil {
			log.Warn().Err(err).Str("venue", string(r.Name())).Msg("Batch quotes failed")
		} else {
			p.mu.Lock()
			p.lastSeen[string(r.Name())] = time.Now()
			p.mu.Unlock()
		}
		if countBreaker {
			if err != nil && !venue.CountsAsFailure(err) {
				err = nil
			}
			p.breaker.Track(err)
		}
	}

	wg.Add(3)
	go fetch(p.venueA, aIDs, true)
	go fetch(p.venueB, bIDs, false)
	go fetch(p.venueC, cIDs, false)
	wg.Wait()
}

// syntheticQuote renders the venue-C view as a single top-of-book. Crypto
// markets center it on the lattice sum with a representative bracket spread;
// plain bindings pass the bound market's quote through.
func (p *Pipeline) syntheticQuote(m *types.MatchedMarket, now time.Time) (types.Quote, bool) {
	if len(m.VenueCIDs) == 0 {
		return types.Quote{}, false
	}

	if !m.Crypto() && len(m.VenueCIDs) == 1 {
		q, ok := p.venueC.CachedQuote(m.VenueCIDs[0])
		if !ok || q.Stale(now, quoteStaleness) {
			return types.Quote{}, false
		}
		return q, true
	}

	prob, ok := p.builder.Synthetic(m)
	if !ok {
		return types.Quote{}, false
	}

	spread := decimal.Zero
	seen := 0
	for _, ticker := range m.VenueCIDs {
		if q, ok := p.venueC.CachedQuote(ticker); ok && q.TwoSided() && !q.Stale(now, quoteStaleness) {
			spread = spread.Add(q.Spread())
			seen++
		}
	}
	if seen == 0 {
		return types.Quote{}, false
	}
	spread = spread.Div(decimal.NewFromInt(int64(seen)))

	half := spread.Div(decimal.NewFromInt(2))
	mid := decimal.NewFromFloat(prob)
	return types.Quote{
		Venue:    types.VenueC,
		MarketID: m.VenueCIDs[0],
		Bid:      clampPrice(mid.Sub(half)),
		Ask:      clampPrice(mid.Add(half)),
		Last:     mid,
		TS:       now,
	}, true
}

func clampPrice(p decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if p.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if p.GreaterThan(one) {
		return one
	}
	return p
}

// Freshness reports seconds since each venue's last successful batch.
func (p *Pipeline) Freshness() map[string]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]float64, len(p.lastSeen))
	now := time.Now()
	for name, ts := range p.lastSeen {
		out[name] = now.Sub(ts).Seconds()
	}
	return out
}
