package trading

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantleap/edgebot/internal/params"
	"github.com/quantleap/edgebot/internal/spot"
	"github.com/quantleap/edgebot/internal/types"
	"github.com/quantleap/edgebot/internal/venue"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRADING ENGINE - Guards, sizing, entry, exit
// ═══════════════════════════════════════════════════════════════════════════════
//
// Tick runs once per fast cycle: monitor open positions first, then walk the
// cycle's actionable signals through the guard chain. Mode is fixed at entry
// and never flips afterwards; paper bookkeeping must never touch a live
// position and vice versa. All store writes for a close are one transaction.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// live-order attempts per cycle
	maxLiveAttemptsPerTick = 3

	// only symbols with this prefix carry real instruments; everything else
	// stays paper even when the process runs live
	liveSymbolPrefix = "GEMI-"

	minOrderNotional = 1.0
)

// Store is the persistence surface the engine writes through.
type Store interface {
	CreatePosition(p *types.Position) error
	UpdatePosition(p *types.Position) error
	OpenPositions() ([]*types.Position, error)
	HasOpenPosition(matchedID string) (bool, error)
	CountOpen() (int, error)
	CountOpenByCategory(cat types.Category) (int, error)
	ClosePosition(p *types.Position, t *types.ClosedTrade) error
	MarkPhantom(id int64, note string) error
	Wallet() (*types.Wallet, error)
	RecentTrades(mode types.Mode, limit int) ([]*types.ClosedTrade, error)
	Audit(kind string, detail map[string]any) error
}

// QuoteSource answers cached venue-A quotes during monitoring.
type QuoteSource interface {
	CachedQuote(marketID string) (types.Quote, bool)
}

// SpotSource answers fresh spot prices for the direction sanity guard.
type SpotSource interface {
	Fresh(asset string) (spot.Price, bool)
}

// Breaker gates new entries on venue health.
type Breaker interface {
	Open() bool
}

// Notifier pushes operator alerts. May be nil.
type Notifier interface {
	Alert(ctx context.Context, msg string)
}

// Lookup resolves a matched market by id at tick time. Markets are held by
// id, not pointer, so a rematch mid-flight cannot leave stale references.
type Lookup func(matchedID string) (*types.MatchedMarket, bool)

// Engine drives entries and exits.
type Engine struct {
	store   Store
	exec    venue.Execution
	quotes  QuoteSource
	spot    SpotSource
	params  *params.Set
	breaker Breaker
	notify  Notifier
	mode    types.Mode
	fills   *PaperFiller

	mu      sync.Mutex
	running bool
	killed  bool

	// entry count since the last learning tick, for starvation detection
	entriesSinceLearn int
	tightenStreak     int

	// live exits still awaiting venue confirmation, keyed by position id
	exits map[int64]pendingExit
}

// New creates the engine. mode is the process mode; per-position mode is
// decided by the symbol gate at entry.
func New(st Store, exec venue.Execution, quotes QuoteSource, spotFeed SpotSource, ps *params.Set, breaker Breaker, notify Notifier, mode types.Mode, fills *PaperFiller) *Engine {
	return &Engine{
		store:   st,
		exec:    exec,
		quotes:  quotes,
		spot:    spotFeed,
		params:  ps,
		breaker: breaker,
		notify:  notify,
		mode:    mode,
		fills:   fills,
		running: true,
	}
}

// Running reports whether new entries are allowed.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running && !e.killed
}

// Stop halts new entries. Monitoring of open positions continues.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	log.Warn().Msg("🛑 Trading halted: no new entries")
}

// Start re-enables entries after a Stop. A tripped kill-switch stays tripped.
func (e *Engine) Start() {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
}

// Kill trips the drawdown kill-switch. Irreversible for the process lifetime.
func (e *Engine) Kill(reason string) {
	e.mu.Lock()
	already := e.killed
	e.killed = true
	e.mu.Unlock()
	if already {
		return
	}
	_ = e.store.Audit("kill_switch", map[string]any{"reason": reason})
	log.Error().Str("reason", reason).Msg("💀 Kill-switch tripped")
	if e.notify != nil {
		e.notify.Alert(context.Background(), "💀 Kill-switch tripped: "+reason)
	}
}

// Tick runs one trading cycle: exits first, then entries.
func (e *Engine) Tick(ctx context.Context, signals []types.Signal, lookup Lookup) {
	snap := e.params.Snapshot()

	e.Monitor(ctx, snap)

	wallet, err := e.store.Wallet()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load wallet, skipping entries")
		return
	}

	liveAttempts := 0
	for _, sig := range signals {
		m, ok := lookup(sig.MatchedID)
		if !ok {
			continue
		}

		mode, reason := e.guard(ctx, sig, m, wallet, snap, liveAttempts)
		if reason != "" {
			e.rejectEntry(sig, reason)
			continue
		}

		qty, notional := e.size(sig, wallet, snap)
		if qty.IsZero() {
			continue
		}

		if mode == types.ModeLive {
			liveAttempts++
		}
		if err := e.enter(ctx, sig, m, mode, qty, notional, snap); err != nil {
			log.Error().Err(err).Str("market", sig.VenueAID).Msg("Entry failed")
			continue
		}

		e.mu.Lock()
		e.entriesSinceLearn++
		e.mu.Unlock()
	}
}

func (e *Engine) rejectEntry(sig types.Signal, reason string) {
	_ = e.store.Audit(reason, map[string]any{
		"matched_id": sig.MatchedID,
		"market":     sig.VenueAID,
		"direction":  string(sig.Direction),
		"net_edge":   sig.NetEdge,
		"score":      sig.Score,
	})
	log.Debug().
		Str("market", sig.VenueAID).
		Str("reason", reason).
		Float64("edge", sig.NetEdge).
		Msg("Entry rejected")
}

// enter opens a position. Live: GTC limit at the touch. Paper: simulated fill.
func (e *Engine) enter(ctx context.Context, sig types.Signal, m *types.MatchedMarket, mode types.Mode, qty, notional decimal.Decimal, snap params.Snapshot) error {
	quoteA := *sig.Quotes.A
	var entry decimal.Decimal

	if mode == types.ModeLive {
		price := quoteA.Ask
		outcome := "yes"
		if sig.Direction == types.DirectionNo {
			// NO trades at the complement of the YES book.
			price = decimal.NewFromInt(1).Sub(quoteA.Bid)
			outcome = "no"
		}
		report, err := e.exec.PlaceOrder(ctx, venue.OrderRequest{
			MarketID:      sig.VenueAID,
			Side:          "buy",
			Outcome:       outcome,
			Type:          "limit",
			Quantity:      qty,
			Price:         price,
			TIF:           "good-til-cancel",
			IdempotencyID: uuid.NewString(),
		})
		if err != nil {
			return err
		}
		entry = report.AvgPrice
		if !entry.IsPositive() {
			entry = price
		}
	} else {
		entry = e.fills.Fill(sig.Direction, quoteA)
	}

	now := time.Now().UTC()
	pos := &types.Position{
		MatchedID:  sig.MatchedID,
		VenueAID:   sig.VenueAID,
		Direction:  sig.Direction,
		EntryPrice: entry,
		Qty:        qty,
		Notional:   notional,
		EntryTS:    now,
		Mode:       mode,
		Category:   sig.Category,
		TakeProfit: takeProfit(sig, entry, snap),
		StopLoss:   entry.Sub(decimal.NewFromFloat(snap[params.KeyStopLossWidth])),
		MaxHoldTS:  maxHold(now, m, snap),
		HighWater:  entry,
		LowWater:   entry,
		State:      types.StateOpen,
	}
	if err := e.store.CreatePosition(pos); err != nil {
		return err
	}

	_ = e.store.Audit("position_opened", map[string]any{
		"position_id": pos.ID,
		"market":      sig.VenueAID,
		"direction":   string(sig.Direction),
		"mode":        string(mode),
		"entry":       entry.String(),
		"qty":         qty.String(),
		"strategy":    string(sig.Strategy),
	})
	log.Info().
		Str("market", sig.VenueAID).
		Str("direction", string(sig.Direction)).
		Str("mode", string(mode)).
		Str("entry", entry.StringFixed(4)).
		Str("qty", qty.StringFixed(2)).
		Msg("📈 Position opened")
	return nil
}

// takeProfit is floored above entry so a near-touch target cannot make the
// position unclosable at a profit. Prices are in the outcome's own space.
func takeProfit(sig types.Signal, entry decimal.Decimal, snap params.Snapshot) decimal.Decimal {
	target := sig.Target
	if sig.Direction == types.DirectionNo {
		target = decimal.NewFromInt(1).Sub(sig.Target)
	}
	floor := entry.Add(decimal.NewFromFloat(snap[params.KeyTakeProfitFloor]))
	if target.GreaterThan(floor) {
		return target
	}
	return floor
}

// maxHold stretches the configured hold toward expiry for dated contracts.
func maxHold(now time.Time, m *types.MatchedMarket, snap params.Snapshot) time.Time {
	hold := time.Duration(snap[params.KeyMaxHoldSecs]) * time.Second
	if m.Structural != nil {
		toExpiry := m.Structural.Expiry.Sub(now)
		if scaled := time.Duration(float64(toExpiry) * 0.80); scaled > hold {
			hold = scaled
		}
	}
	return now.Add(hold)
}

// liveEligible reports whether a symbol routes to the real venue.
func liveEligible(venueAID string) bool {
	return strings.HasPrefix(venueAID, liveSymbolPrefix)
}
