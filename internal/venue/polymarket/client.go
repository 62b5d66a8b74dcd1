package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantleap/edgebot/internal/types"
	"github.com/quantleap/edgebot/internal/venue"
)

// ═══════════════════════════════════════════════════════════════════════════════
// VENUE B CLIENT - Public CLOB reference venue
// ═══════════════════════════════════════════════════════════════════════════════
//
// Read-only. No auth, public REST for listings and top-of-book. Quotes feed
// the reference price builder; this venue is never traded on.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Client reads markets and quotes from the public reference venue.
type Client struct {
	baseURL   string
	transport *venue.Transport

	mu     sync.RWMutex
	quotes map[string]types.Quote
}

// New creates the venue B client.
func New(baseURL string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: venue.NewTransport(string(types.VenueB), 10, 20, 3*time.Second),
		quotes:    make(map[string]types.Quote),
	}
}

func (c *Client) Name() types.Venue { return types.VenueB }

type marketEntry struct {
	ID       string          `json:"id"`
	Question string          `json:"question"`
	Category string          `json:"category"`
	EndDate  time.Time       `json:"endDate"`
	Volume   decimal.Decimal `json:"volumeNum"`
	Active   bool            `json:"active"`
	Closed   bool            `json:"closed"`
}

// ListMarkets enumerates active markets, optionally filtered by category.
func (c *Client) ListMarkets(ctx context.Context, categories []types.Category) ([]types.MarketDescriptor, error) {
	u := c.baseURL + "/markets?closed=false&limit=500"
	if len(categories) == 1 {
		u += "&category=" + url.QueryEscape(string(categories[0]))
	}

	data, err := c.transport.Do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var entries []marketEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, venue.Wrap(string(types.VenueB), "listMarkets", venue.KindSchema, err)
	}

	wanted := map[types.Category]bool{}
	for _, cat := range categories {
		wanted[cat] = true
	}

	out := make([]types.MarketDescriptor, 0, len(entries))
	for _, e := range entries {
		if !e.Active || e.Closed {
			continue
		}
		cat := normalizeCategory(e.Category)
		if len(wanted) > 0 && !wanted[cat] {
			continue
		}
		out = append(out, types.MarketDescriptor{
			Venue:    types.VenueB,
			ID:       e.ID,
			Title:    e.Question,
			Category: cat,
			CloseTS:  e.EndDate.UTC(),
			Volume:   e.Volume,
		})
	}
	return out, nil
}

type priceEntry struct {
	ID        string          `json:"id"`
	BestBid   decimal.Decimal `json:"bestBid"`
	BestAsk   decimal.Decimal `json:"bestAsk"`
	LastTrade decimal.Decimal `json:"lastTradePrice"`
}

// BatchQuotes fetches ticker quotes for the given market ids.
func (c *Client) BatchQuotes(ctx context.Context, marketIDs []string) (map[string]types.Quote, error) {
	if len(marketIDs) == 0 {
		return map[string]types.Quote{}, nil
	}

	u := c.baseURL + "/markets?ids=" + url.QueryEscape(strings.Join(marketIDs, ","))
	data, err := c.transport.Do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var entries []priceEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, venue.Wrap(string(types.VenueB), "batchQuotes", venue.KindSchema, err)
	}

	now := time.Now().UTC()
	out := make(map[string]types.Quote, len(entries))
	c.mu.Lock()
	for _, e := range entries {
		q := types.Quote{
			Venue:    types.VenueB,
			MarketID: e.ID,
			Bid:      e.BestBid,
			Ask:      e.BestAsk,
			Last:     e.LastTrade,
			TS:       now,
		}
		c.quotes[e.ID] = q
		out[e.ID] = q
	}
	c.mu.Unlock()

	return out, nil
}

type bookResponse struct {
	Bids []struct {
		Price decimal.Decimal `json:"price"`
		Size  decimal.Decimal `json:"size"`
	} `json:"bids"`
	Asks []struct {
		Price decimal.Decimal `json:"price"`
		Size  decimal.Decimal `json:"size"`
	} `json:"asks"`
}

// BookTop fetches the CLOB top-of-book for one market.
func (c *Client) BookTop(ctx context.Context, marketID string) (types.BookTop, error) {
	u := c.baseURL + "/book?market=" + url.QueryEscape(marketID)
	data, err := c.transport.Do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return types.BookTop{}, err
	}

	var book bookResponse
	if err := json.Unmarshal(data, &book); err != nil {
		return types.BookTop{}, venue.Wrap(string(types.VenueB), "bookTop", venue.KindSchema, err)
	}

	top := types.BookTop{TS: time.Now().UTC()}
	if len(book.Bids) > 0 {
		top.Bid, top.BidQty = book.Bids[0].Price, book.Bids[0].Size
	}
	if len(book.Asks) > 0 {
		top.Ask, top.AskQty = book.Asks[0].Price, book.Asks[0].Size
	}
	return top, nil
}

// CachedQuote returns the last quote seen for a market.
func (c *Client) CachedQuote(marketID string) (types.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[marketID]
	return q, ok
}

func normalizeCategory(raw string) types.Category {
	switch strings.ToLower(raw) {
	case "crypto", "cryptocurrency":
		return types.CategoryCrypto
	case "sports":
		return types.CategorySports
	case "politics":
		return types.CategoryPolitics
	case "finance", "economy", "business":
		return types.CategoryFinance
	case "elections":
		return types.CategoryElections
	case "culture", "pop-culture", "entertainment":
		return types.CategoryCulture
	case "tech", "science", "ai":
		return types.CategoryTech
	default:
		return types.CategoryOther
	}
}
