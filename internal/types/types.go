package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Domain values passed between pipeline stages
// ═══════════════════════════════════════════════════════════════════════════════

// Venue identifies one of the three venues the pipeline reads from.
type Venue string

const (
	VenueA Venue = "gemini"     // writable, thin
	VenueB Venue = "polymarket" // read-only reference
	VenueC Venue = "kalshi"     // read-only reference, bracketed
)

// Category buckets markets for matching, weighting and concurrency caps.
type Category string

const (
	CategoryCrypto    Category = "crypto"
	CategorySports    Category = "sports"
	CategoryPolitics  Category = "politics"
	CategoryFinance   Category = "finance"
	CategoryElections Category = "elections"
	CategoryCulture   Category = "culture"
	CategoryTech      Category = "tech"
	CategoryOther     Category = "other"
)

// Direction of a signal or position.
type Direction string

const (
	DirectionYes Direction = "YES"
	DirectionNo  Direction = "NO"
)

// Mode fixes the bookkeeping of a position at entry and never changes.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// PositionState lifecycle: nascent → open → exiting → closed.
// phantom marks store/venue disagreements found by reconciliation.
type PositionState string

const (
	StateNascent PositionState = "nascent"
	StateOpen    PositionState = "open"
	StateExiting PositionState = "exiting"
	StateClosed  PositionState = "closed"
	StatePhantom PositionState = "phantom"
)

// ExitReason recorded on every closed trade.
type ExitReason string

const (
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTimeDecay  ExitReason = "time_decay"
	ExitExpiry     ExitReason = "expiry"
	ExitEmergency  ExitReason = "emergency"
	ExitManual     ExitReason = "manual"
)

// Strategy tag carried by signals.
type Strategy string

const (
	StrategyComposite    Strategy = "composite"
	StrategyFairValue    Strategy = "fair-value"
	StrategyMomentum     Strategy = "momentum"
	StrategySyntheticArb Strategy = "synthetic-arb"
	StrategyMultiSource  Strategy = "multi-source"
)

// MarketDescriptor is the venue-neutral listing entry returned by clients.
type MarketDescriptor struct {
	Venue    Venue
	ID       string // native id on that venue
	Title    string
	Category Category
	EventID  string // grouping ticker on venues that have one (brackets)
	CloseTS  time.Time
	Volume   decimal.Decimal
}

// Quote is one venue's top-of-book sample for one market.
// Depth fields are zero on venues that do not report them.
type Quote struct {
	Venue    Venue
	MarketID string
	Bid      decimal.Decimal
	Ask      decimal.Decimal
	Last     decimal.Decimal
	BidDepth decimal.Decimal
	AskDepth decimal.Decimal
	TS       time.Time
}

// Mid returns (bid+ask)/2, or last when the book is one-sided.
func (q Quote) Mid() decimal.Decimal {
	if q.Bid.IsPositive() && q.Ask.IsPositive() {
		return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
	}
	return q.Last
}

// Spread returns ask−bid, zero for one-sided books.
func (q Quote) Spread() decimal.Decimal {
	if q.Bid.IsPositive() && q.Ask.IsPositive() {
		return q.Ask.Sub(q.Bid)
	}
	return decimal.Zero
}

// TwoSided reports whether both sides of the book are quoted.
func (q Quote) TwoSided() bool {
	return q.Bid.IsPositive() && q.Ask.IsPositive()
}

// Stale reports whether the quote is older than maxAge at time now.
func (q Quote) Stale(now time.Time, maxAge time.Duration) bool {
	return q.TS.IsZero() || now.Sub(q.TS) > maxAge
}

// BookTop is the order-book top for one market on one venue.
type BookTop struct {
	Bid    decimal.Decimal
	BidQty decimal.Decimal
	Ask    decimal.Decimal
	AskQty decimal.Decimal
	TS     time.Time
}

// OrderReport is the venue's acknowledgement of a placed order.
type OrderReport struct {
	OrderID       string
	Status        string
	AvgPrice      decimal.Decimal
	FilledQty     decimal.Decimal
	RemainingQty  decimal.Decimal
	IdempotencyID string
}

// PayoffDirection for crypto binaries: pays when spot ends above or below strike.
type PayoffDirection string

const (
	PayoffAbove PayoffDirection = "above"
	PayoffBelow PayoffDirection = "below"
)

// StructuralMeta is the parsed shape of a crypto binary contract.
type StructuralMeta struct {
	Asset     string          `json:"asset"`
	Strike    decimal.Decimal `json:"strike"`
	Expiry    time.Time       `json:"expiry"`
	Direction PayoffDirection `json:"direction"`
}

// MatchedMarket ties together the native ids of the same prediction on each venue.
// VenueB/VenueC ids may be empty; crypto markets bind a set of venue-C brackets.
type MatchedMarket struct {
	ID         string
	VenueAID   string
	VenueBID   string
	VenueCIDs  []string // bracket markets covering the strike range
	Category   Category
	Title      string
	Confidence float64
	Structural *StructuralMeta // nil for non-crypto
	FeeRate    decimal.Decimal // per-side fee override; zero means use configured
	FirstSeen  time.Time
	LastSeen   time.Time
}

// Crypto reports whether the market carries structural metadata.
func (m *MatchedMarket) Crypto() bool { return m.Structural != nil }

// ReferencePrice is the fused probability for one matched market in one cycle.
type ReferencePrice struct {
	MatchedID string
	Prob      float64
	Sources   []string // which sources contributed this cycle
	Disagree  bool     // max-min spread exceeded the disagreement threshold
	TS        time.Time
}

// FairValue is the ensemble output for one crypto market in one cycle.
type FairValue struct {
	MatchedID     string
	Value         float64 // probability in [0,1]
	Edge          float64 // net of venue-A half spread
	KellyFraction float64 // clamped to the configured ceiling
	Confidence    float64
	Direction     Direction
	TS            time.Time
}

// Signal is a transient, per-cycle trade candidate. Expires at end of cycle.
type Signal struct {
	MatchedID  string          `json:"matched_id"`
	VenueAID   string          `json:"venue_a_id"`
	Direction  Direction       `json:"direction"`
	Score      float64         `json:"score"`
	NetEdge    float64         `json:"net_edge"`
	Confidence float64         `json:"confidence"`
	Strategy   Strategy        `json:"strategy"`
	Category   Category        `json:"category"`
	Target     decimal.Decimal `json:"target"`
	Quotes     QuoteSnapshot   `json:"quotes"`
}

// QuoteSnapshot freezes the source quotes a signal was computed from.
type QuoteSnapshot struct {
	A *Quote `json:"a,omitempty"`
	B *Quote `json:"b,omitempty"`
	C *Quote `json:"c,omitempty"` // synthetic, built from brackets
}

// Position is an open trade. Mode is immutable after entry.
type Position struct {
	ID          int64
	MatchedID   string
	VenueAID    string
	Direction   Direction
	EntryPrice  decimal.Decimal
	Qty         decimal.Decimal
	Notional    decimal.Decimal
	EntryTS     time.Time
	Mode        Mode
	Category    Category
	TakeProfit  decimal.Decimal
	StopLoss    decimal.Decimal
	MaxHoldTS   time.Time
	HighWater   decimal.Decimal // best realized mid since entry
	LowWater    decimal.Decimal
	State       PositionState
	ExitOrderID string // set while exiting live
}

// ClosedTrade is the final record written when a position closes.
type ClosedTrade struct {
	ID         int64
	PositionID int64
	ExitPrice  decimal.Decimal
	ExitTS     time.Time
	GrossPnL   decimal.Decimal
	NetPnL     decimal.Decimal
	Fees       decimal.Decimal
	Reason     ExitReason
	HoldSecs   int64
	Mode       Mode
	Category   Category
	Won        bool
}

// Wallet is the singleton account state, updated atomically with closes.
type Wallet struct {
	Balance      decimal.Decimal
	Initial      decimal.Decimal
	Peak         decimal.Decimal
	DailyPnL     decimal.Decimal
	DailyLosses  int
	DailyStartTS time.Time
}

// Drawdown returns (peak-balance)/peak, zero when peak is unset.
func (w Wallet) Drawdown() decimal.Decimal {
	if !w.Peak.IsPositive() {
		return decimal.Zero
	}
	return w.Peak.Sub(w.Balance).Div(w.Peak)
}
