package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PERSISTENCE MODELS
// ═══════════════════════════════════════════════════════════════════════════════

// MatchedMarketRow survives restarts so matching resumes without a cold start.
// VenueCIDs and Structural are JSON-encoded; sqlite has no array column.
type MatchedMarketRow struct {
	ID         string `gorm:"primaryKey"`
	VenueAID   string `gorm:"index"`
	VenueBID   string
	VenueCIDs  string
	Category   string `gorm:"index"`
	Title      string
	Confidence float64
	Structural string          // JSON StructuralMeta, empty for non-crypto
	FeeRate    decimal.Decimal `gorm:"type:decimal(10,6)"`
	FirstSeen  time.Time
	LastSeen   time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// QuoteRow is one top-of-book sample. Ring-buffered per matched market.
// Deleting the market drops its ring with it.
type QuoteRow struct {
	ID        uint              `gorm:"primaryKey;autoIncrement"`
	MatchedID string            `gorm:"index"`
	Matched   *MatchedMarketRow `gorm:"foreignKey:MatchedID;references:ID;constraint:OnDelete:CASCADE"`
	Venue     string
	Bid       decimal.Decimal `gorm:"type:decimal(10,6)"`
	Ask       decimal.Decimal `gorm:"type:decimal(10,6)"`
	Last      decimal.Decimal `gorm:"type:decimal(10,6)"`
	BidDepth  decimal.Decimal `gorm:"type:decimal(20,6)"`
	AskDepth  decimal.Decimal `gorm:"type:decimal(20,6)"`
	TS        time.Time
}

// PositionRow is one open or historical position. The market link is held
// while the market row lives; GC of a market nulls it out on closed history
// (open positions keep their market alive through the matcher).
type PositionRow struct {
	ID          int64             `gorm:"primaryKey;autoIncrement"`
	MatchedID   string            `gorm:"index"`
	Matched     *MatchedMarketRow `gorm:"foreignKey:MatchedID;references:ID;constraint:OnDelete:SET NULL"`
	VenueAID    string
	Direction   string
	EntryPrice  decimal.Decimal `gorm:"type:decimal(10,6)"`
	Qty         decimal.Decimal `gorm:"type:decimal(20,6)"`
	Notional    decimal.Decimal `gorm:"type:decimal(20,6)"`
	EntryTS     time.Time
	Mode        string `gorm:"index"`
	Category    string `gorm:"index"`
	TakeProfit  decimal.Decimal `gorm:"type:decimal(10,6)"`
	StopLoss    decimal.Decimal `gorm:"type:decimal(10,6)"`
	MaxHoldTS   time.Time
	HighWater   decimal.Decimal `gorm:"type:decimal(10,6)"`
	LowWater    decimal.Decimal `gorm:"type:decimal(10,6)"`
	State       string          `gorm:"index"`
	ExitOrderID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TradeRow is the final record of a closed position. Positions are never
// deleted, so the link is RESTRICT.
type TradeRow struct {
	ID         int64        `gorm:"primaryKey;autoIncrement"`
	PositionID int64        `gorm:"index"`
	Position   *PositionRow `gorm:"foreignKey:PositionID;references:ID;constraint:OnDelete:RESTRICT"`
	ExitPrice  decimal.Decimal `gorm:"type:decimal(10,6)"`
	ExitTS     time.Time
	GrossPnL   decimal.Decimal `gorm:"type:decimal(20,6)"`
	NetPnL     decimal.Decimal `gorm:"type:decimal(20,6)"`
	Fees       decimal.Decimal `gorm:"type:decimal(20,6)"`
	Reason     string
	HoldSecs   int64
	Mode       string `gorm:"index"`
	Category   string `gorm:"index"`
	Won        bool
	CreatedAt  time.Time
}

// WalletRow is the singleton account state, id fixed at 1.
type WalletRow struct {
	ID           uint            `gorm:"primaryKey"`
	Balance      decimal.Decimal `gorm:"type:decimal(20,6)"`
	Initial      decimal.Decimal `gorm:"type:decimal(20,6)"`
	Peak         decimal.Decimal `gorm:"type:decimal(20,6)"`
	DailyPnL     decimal.Decimal `gorm:"type:decimal(20,6)"`
	DailyLosses  int
	DailyStartTS time.Time
	UpdatedAt    time.Time
}

// ParameterRow persists one tunable so learned values survive restarts.
type ParameterRow struct {
	Key       string `gorm:"primaryKey"`
	Value     float64
	UpdatedAt time.Time
}

// AuditRow records parameter changes, guard rejections, kills and resets.
type AuditRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Kind      string `gorm:"index"`
	Detail    string // JSON payload
	CreatedAt time.Time
}
