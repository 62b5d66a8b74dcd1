package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/quantleap/edgebot/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// VENUE CONTRACT - Uniform abstraction over three heterogeneous venues
// ═══════════════════════════════════════════════════════════════════════════════
//
// All three venues expose the read side; only venue A implements Execution.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Reader is the read-side contract every venue client implements.
type Reader interface {
	Name() types.Venue

	// ListMarkets enumerates markets in the given categories. Empty slice
	// means all categories the venue supports.
	ListMarkets(ctx context.Context, categories []types.Category) ([]types.MarketDescriptor, error)

	// BatchQuotes fetches ticker quotes for the given market ids and fills
	// the client's quote cache.
	BatchQuotes(ctx context.Context, marketIDs []string) (map[string]types.Quote, error)

	// BookTop returns the order-book top for one market. A one-sided or
	// empty book is returned with zero fields, not an error.
	BookTop(ctx context.Context, marketID string) (types.BookTop, error)

	// CachedQuote returns the last quote seen for a market, if any.
	CachedQuote(marketID string) (types.Quote, bool)
}

// OrderRequest describes an order to place on the writable venue.
type OrderRequest struct {
	MarketID string
	Side     string // "buy" | "sell"
	Outcome  string // "yes" | "no"
	Type     string // "limit" | "market"
	Quantity decimal.Decimal
	Price    decimal.Decimal
	TIF      string // "good-til-cancel"

	// IdempotencyID lets reconciliation identify in-flight orders after a
	// hard shutdown. Client-generated.
	IdempotencyID string
}

// Execution is the write-side contract, implemented by venue A only.
type Execution interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (types.OrderReport, error)
	CancelOrder(ctx context.Context, orderID string) error
	OpenOrders(ctx context.Context) ([]types.OrderReport, error)
	OrderHistory(ctx context.Context, limit int) ([]types.OrderReport, error)
	Positions(ctx context.Context) (map[string]decimal.Decimal, error) // marketID → signed qty
	AvailableBalance(ctx context.Context) (decimal.Decimal, error)     // 30 s cached
}
