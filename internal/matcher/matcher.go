package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/quantleap/edgebot/internal/types"
	"github.com/quantleap/edgebot/internal/venue"
	"github.com/quantleap/edgebot/internal/venue/kalshi"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MARKET MATCHER - Ties the same prediction together across venues
// ═══════════════════════════════════════════════════════════════════════════════
//
// Runs every 5 minutes. Non-crypto markets match by title similarity within
// a category; crypto binaries match structurally (asset, strike, expiry)
// against the venue-C bracket lattice. Unmatched or delisted rows are GC'd
// after one missed cycle via the last-seen timestamp, unless an open position
// still references them.
//
// ═══════════════════════════════════════════════════════════════════════════════

// expiry tolerance for structural matches
const (
	expiryExact    = 12 * time.Hour // full confidence inside this window
	expiryRejectAt = 48 * time.Hour
)

// Store is the persistence surface the matcher needs.
type Store interface {
	UpsertMatchedMarket(m *types.MatchedMarket) error
	ListMatchedMarkets() ([]*types.MatchedMarket, error)
	DeleteMatchedMarket(id string) error
	HasOpenPosition(matchedID string) (bool, error)
}

// BracketSource exposes the venue-C bracket lattice.
type BracketSource interface {
	EventBrackets(eventTicker string) []kalshi.BracketMeta
}

// VenueA extends the reader contract with the unavailable-symbol park.
type VenueA interface {
	venue.Reader
	ClearUnavailable()
	Unavailable(marketID string) bool
}

// Override is an operator-injected manual match.
type Override struct {
	VenueAID  string
	VenueBID  string
	VenueCIDs []string
	Category  types.Category
}

// Delta summarizes one match cycle.
type Delta struct {
	Added   int
	Removed int
	Kept    int
	Total   int
}

// Matcher maintains the matched-market set.
type Matcher struct {
	venueA   VenueA
	venueB   venue.Reader
	venueC   venue.Reader
	brackets BracketSource
	store    Store
	interval time.Duration

	mu        sync.RWMutex
	overrides map[string]Override

	// OnBrackets receives the full set of bound bracket tickers each cycle,
	// so the WebSocket subscriber can follow the lattice.
	OnBrackets func(tickers []string)
}

// New creates the matcher.
func New(a VenueA, b, c venue.Reader, brackets BracketSource, store Store, interval time.Duration) *Matcher {
	return &Matcher{
		venueA:    a,
		venueB:    b,
		venueC:    c,
		brackets:  brackets,
		store:     store,
		interval:  interval,
		overrides: make(map[string]Override),
	}
}

// AddOverride injects a manual match for the next cycle.
func (m *Matcher) AddOverride(o Override) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[o.VenueAID] = o
}

// Run executes one match cycle and persists the result.
func (m *Matcher) Run(ctx context.Context) (Delta, error) {
	m.venueA.ClearUnavailable()

	aMarkets, err := m.venueA.ListMarkets(ctx, nil)
	if err != nil {
		return Delta{}, fmt.Errorf("list venue A: %w", err)
	}

	bMarkets, err := m.venueB.ListMarkets(ctx, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Venue B listing unavailable this cycle")
		bMarkets = nil
	}

	cMarkets, err := m.venueC.ListMarkets(ctx, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Venue C listing unavailable this cycle")
		cMarkets = nil
	}

	existing, err := m.store.ListMatchedMarkets()
	if err != nil {
		return Delta{}, fmt.Errorf("load matched markets: %w", err)
	}
	byAID := make(map[string]*types.MatchedMarket, len(existing))
	for _, mm := range existing {
		byAID[mm.VenueAID] = mm
	}

	now := time.Now().UTC()
	var delta Delta
	seen := map[string]bool{}

	for _, a := range aMarkets {
		if m.venueA.Unavailable(a.ID) {
			continue
		}

		var matched *types.MatchedMarket
		if o, ok := m.override(a.ID); ok {
			matched = &types.MatchedMarket{
				VenueAID:   a.ID,
				VenueBID:   o.VenueBID,
				VenueCIDs:  o.VenueCIDs,
				Category:   o.Category,
				Title:      a.Title,
				Confidence: 1.0,
			}
		} else if meta, perr := ParseSymbol(a.ID); perr == nil {
			matched = m.matchCrypto(a, meta, cMarkets)
		} else {
			matched = m.matchFuzzy(a, bMarkets, cMarkets)
		}

		if matched == nil {
			continue
		}

		if prev, ok := byAID[a.ID]; ok {
			matched.ID = prev.ID
			matched.FirstSeen = prev.FirstSeen
			matched.FeeRate = prev.FeeRate
			delta.Kept++
		} else {
			matched.ID = uuid.NewString()
			matched.FirstSeen = now
			delta.Added++
		}
		matched.LastSeen = now

		if err := m.store.UpsertMatchedMarket(matched); err != nil {
			log.Error().Err(err).Str("market", a.ID).Msg("Failed to persist match")
			continue
		}
		seen[matched.ID] = true
	}

	// GC rows that missed a full cycle. A market with an open position keeps
	// its row (and quote feed) alive no matter how stale the listing looks.
	cutoff := now.Add(-2 * m.interval)
	for _, mm := range existing {
		if seen[mm.ID] || mm.LastSeen.After(cutoff) {
			continue
		}
		if held, err := m.store.HasOpenPosition(mm.ID); err != nil || held {
			if held {
				log.Warn().Str("id", mm.ID).Str("market", mm.VenueAID).Msg("GC deferred, market has an open position")
			}
			continue
		}
		if err := m.store.DeleteMatchedMarket(mm.ID); err != nil {
			log.Error().Err(err).Str("id", mm.ID).Msg("Failed to GC matched market")
			continue
		}
		delta.Removed++
	}

	delta.Total = delta.Added + delta.Kept

	if m.OnBrackets != nil {
		m.OnBrackets(m.boundBrackets())
	}

	log.Info().
		Int("added", delta.Added).
		Int("kept", delta.Kept).
		Int("removed", delta.Removed).
		Msg("🔗 Match cycle complete")

	return delta, nil
}

func (m *Matcher) override(aID string) (Override, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.overrides[aID]
	return o, ok
}

// matchCrypto binds a structured venue-A binary to the venue-C bracket set
// covering its payoff range.
func (m *Matcher) matchCrypto(a types.MarketDescriptor, meta *types.StructuralMeta, cMarkets []types.MarketDescriptor) *types.MatchedMarket {
	type candidate struct {
		event      string
		confidence float64
		expiryDiff time.Duration
	}

	var best *candidate
	seenEvents := map[string]bool{}

	for _, c := range cMarkets {
		if c.EventID == "" || seenEvents[c.EventID] {
			continue
		}
		seenEvents[c.EventID] = true

		if EventAsset(c.EventID) != meta.Asset {
			continue
		}
		expiry, err := ParseEventExpiry(c.EventID)
		if err != nil {
			continue
		}

		diff := expiry.Sub(meta.Expiry)
		if diff < 0 {
			diff = -diff
		}
		if diff > expiryRejectAt {
			continue
		}

		conf := 1.0
		if diff > expiryExact {
			// linear decay from 1.0 at 12 h to 0.5 at 48 h
			conf = 1.0 - 0.5*float64(diff-expiryExact)/float64(expiryRejectAt-expiryExact)
		}
		if diff == 0 {
			conf = 1.0
		}

		if best == nil || conf > best.confidence ||
			(conf == best.confidence && diff < best.expiryDiff) {
			best = &candidate{event: c.EventID, confidence: conf, expiryDiff: diff}
		}
	}

	if best == nil {
		return nil
	}

	tickers := m.bracketCover(best.event, meta)
	if len(tickers) == 0 {
		return nil
	}

	return &types.MatchedMarket{
		VenueAID:   a.ID,
		VenueCIDs:  tickers,
		Category:   types.CategoryCrypto,
		Title:      a.Title,
		Confidence: best.confidence,
		Structural: meta,
	}
}

// bracketCover selects brackets covering [strike, +∞) for above contracts,
// (−∞, strike] for below.
func (m *Matcher) bracketCover(eventTicker string, meta *types.StructuralMeta) []string {
	brackets := m.brackets.EventBrackets(eventTicker)
	var out []string
	for _, b := range brackets {
		switch meta.Direction {
		case types.PayoffAbove:
			// entirely at or above the strike, or open-topped
			if b.CapStrike.IsZero() || b.FloorStrike.GreaterThanOrEqual(meta.Strike) {
				out = append(out, b.Ticker)
			}
		case types.PayoffBelow:
			if b.FloorStrike.IsZero() || b.CapStrike.LessThanOrEqual(meta.Strike) {
				out = append(out, b.Ticker)
			}
		}
	}
	sort.Strings(out)
	return out
}

// matchFuzzy matches a non-crypto venue-A market by title similarity within
// its category. The highest-scoring candidate above the threshold wins.
func (m *Matcher) matchFuzzy(a types.MarketDescriptor, bMarkets, cMarkets []types.MarketDescriptor) *types.MatchedMarket {
	bestB, bestBScore := bestTitleMatch(a, bMarkets)
	bestC, bestCScore := bestTitleMatch(a, cMarkets)

	if bestB == "" && bestC == "" {
		return nil
	}

	conf := bestBScore
	if bestCScore > conf {
		conf = bestCScore
	}

	mm := &types.MatchedMarket{
		VenueAID:   a.ID,
		VenueBID:   bestB,
		Category:   a.Category,
		Title:      a.Title,
		Confidence: conf,
	}
	if bestC != "" {
		mm.VenueCIDs = []string{bestC}
	}
	return mm
}

func bestTitleMatch(a types.MarketDescriptor, candidates []types.MarketDescriptor) (string, float64) {
	bestID := ""
	bestScore := 0.0
	for _, c := range candidates {
		if c.Category != a.Category {
			continue
		}
		s := Similarity(a.Title, c.Title)
		if s >= MatchThreshold && s > bestScore {
			bestID, bestScore = c.ID, s
		}
	}
	return bestID, bestScore
}

// boundBrackets collects every bracket ticker referenced by a matched market.
func (m *Matcher) boundBrackets() []string {
	markets, err := m.store.ListMatchedMarkets()
	if err != nil {
		return nil
	}
	set := map[string]bool{}
	for _, mm := range markets {
		for _, t := range mm.VenueCIDs {
			// only brackets carry the event-style tickers
			if strings.Contains(t, "-") {
				set[t] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
