package kalshi

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
// VENUE C CLIENT - Bracketed reference venue
// ═══════════════════════════════════════════════════════════════════════════════
//
// Read-only. Public REST for listings and bracket order-book tops; signed
// endpoints use RSA-PSS SHA-256 over timestamp‖METHOD‖path. Crypto spot
// ranges are quoted as bracket markets grouped under an event ticker; the
// matcher binds venue-A above-strike contracts to the bracket set covering
// [strike, +∞). Book tops prefer the WebSocket cache and fall back to REST
// when the cached value is older than 30 s.
//
// ═══════════════════════════════════════════════════════════════════════════════

const wsCacheMaxAge = 30 * time.Second

// BracketMeta is the structural shape of one bracket market.
type BracketMeta struct {
	Ticker      string
	EventTicker string
	FloorStrike decimal.Decimal // zero means open below
	CapStrike   decimal.Decimal // zero means open above
	Volume      decimal.Decimal
}

// Client reads bracket markets from the venue.
type Client struct {
	baseURL   string
	transport *venue.Transport
	signer    *Signer // nil when only public endpoints are used
	ws        *WSSubscriber

	mu       sync.RWMutex
	quotes   map[string]types.Quote
	brackets map[string]BracketMeta   // ticker → meta
	events   map[string][]string      // event ticker → bracket tickers
}

// New creates the venue C client. signer and ws may be nil.
func New(baseURL string, signer *Signer, ws *WSSubscriber) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: venue.NewTransport(string(types.VenueC), 10, 20, 3*time.Second),
		signer:    signer,
		ws:        ws,
		quotes:    make(map[string]types.Quote),
		brackets:  make(map[string]BracketMeta),
		events:    make(map[string][]string),
	}
}

func (c *Client) Name() types.Venue { return types.VenueC }

type marketEntry struct {
	Ticker      string          `json:"ticker"`
	EventTicker string          `json:"event_ticker"`
	Title       string          `json:"title"`
	Category    string          `json:"category"`
	CloseTime   time.Time       `json:"close_time"`
	FloorStrike decimal.Decimal `json:"floor_strike"`
	CapStrike   decimal.Decimal `json:"cap_strike"`
	Volume      decimal.Decimal `json:"volume"`
	Status      string          `json:"status"`
}

type marketsResponse struct {
	Markets []marketEntry `json:"markets"`
	Cursor  string        `json:"cursor"`
}

// ListMarkets enumerates open markets and refreshes bracket metadata.
func (c *Client) ListMarkets(ctx context.Context, categories []types.Category) ([]types.MarketDescriptor, error) {
	wanted := map[types.Category]bool{}
	for _, cat := range categories {
		wanted[cat] = true
	}

	var out []types.MarketDescriptor
	cursor := ""
	pages := 0

	newBrackets := make(map[string]BracketMeta)
	newEvents := make(map[string][]string)

	for {
		u := c.baseURL + "/markets?status=open&limit=1000"
		if cursor != "" {
			u += "&cursor=" + url.QueryEscape(cursor)
		}
		data, err := c.transport.Do(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}

		var page marketsResponse
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, venue.Wrap(string(types.VenueC), "listMarkets", venue.KindSchema, err)
		}

		for _, e := range page.Markets {
			cat := normalizeCategory(e.Category, e.EventTicker)
			if len(wanted) > 0 && !wanted[cat] {
				continue
			}
			out = append(out, types.MarketDescriptor{
				Venue:    types.VenueC,
				ID:       e.Ticker,
				Title:    e.Title,
				Category: cat,
				EventID:  e.EventTicker,
				CloseTS:  e.CloseTime.UTC(),
				Volume:   e.Volume,
			})
			if e.FloorStrike.IsPositive() || e.CapStrike.IsPositive() {
				newBrackets[e.Ticker] = BracketMeta{
					Ticker:      e.Ticker,
					EventTicker: e.EventTicker,
					FloorStrike: e.FloorStrike,
					CapStrike:   e.CapStrike,
					Volume:      e.Volume,
				}
				newEvents[e.EventTicker] = append(newEvents[e.EventTicker], e.Ticker)
			}
		}

		pages++
		if page.Cursor == "" || pages >= 20 {
			break
		}
		cursor = page.Cursor
	}

	c.mu.Lock()
	c.brackets = newBrackets
	c.events = newEvents
	c.mu.Unlock()

	return out, nil
}

type tickerEntry struct {
	Ticker    string          `json:"ticker"`
	YesBid    decimal.Decimal `json:"yes_bid"`    // cents
	YesAsk    decimal.Decimal `json:"yes_ask"`    // cents
	LastPrice decimal.Decimal `json:"last_price"` // cents
	Volume    decimal.Decimal `json:"volume"`
}

// BatchQuotes fetches ticker quotes. Venue prices arrive in cents and are
// normalized to probabilities here.
func (c *Client) BatchQuotes(ctx context.Context, marketIDs []string) (map[string]types.Quote, error) {
	if len(marketIDs) == 0 {
		return map[string]types.Quote{}, nil
	}

	out := make(map[string]types.Quote, len(marketIDs))
	now := time.Now().UTC()
	hundred := decimal.NewFromInt(100)

	// The venue caps tickers per request; chunk conservatively.
	for start := 0; start < len(marketIDs); start += 100 {
		end := start + 100
		if end > len(marketIDs) {
			end = len(marketIDs)
		}
		u := c.baseURL + "/markets?tickers=" + url.QueryEscape(strings.Join(marketIDs[start:end], ","))
		data, err := c.transport.Do(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}

		var page struct {
			Markets []tickerEntry `json:"markets"`
		}
		if err := json.Unmarshal(data, &page); err != nil {
			return nil, venue.Wrap(string(types.VenueC), "batchQuotes", venue.KindSchema, err)
		}

		c.mu.Lock()
		for _, e := range page.Markets {
			q := types.Quote{
				Venue:    types.VenueC,
				MarketID: e.Ticker,
				Bid:      e.YesBid.Div(hundred),
				Ask:      e.YesAsk.Div(hundred),
				Last:     e.LastPrice.Div(hundred),
				TS:       now,
			}
			c.quotes[e.Ticker] = q
			out[e.Ticker] = q
			if meta, ok := c.brackets[e.Ticker]; ok {
				meta.Volume = e.Volume
				c.brackets[e.Ticker] = meta
			}
		}
		c.mu.Unlock()
	}

	return out, nil
}

type orderbookResponse struct {
	Orderbook struct {
		Yes [][]decimal.Decimal `json:"yes"` // [price cents, qty]
		No  [][]decimal.Decimal `json:"no"`
	} `json:"orderbook"`
}

// BookTop returns the bracket book top, preferring the WebSocket cache.
func (c *Client) BookTop(ctx context.Context, marketID string) (types.BookTop, error) {
	if c.ws != nil {
		if top, ok := c.ws.BookTop(marketID); ok && time.Since(top.TS) < wsCacheMaxAge {
			return top, nil
		}
	}

	data, err := c.transport.Do(ctx, http.MethodGet,
		c.baseURL+"/markets/"+url.PathEscape(marketID)+"/orderbook?depth=1", nil)
	if err != nil {
		return types.BookTop{}, err
	}

	var book orderbookResponse
	if err := json.Unmarshal(data, &book); err != nil {
		return types.BookTop{}, venue.Wrap(string(types.VenueC), "bookTop", venue.KindSchema, err)
	}

	hundred := decimal.NewFromInt(100)
	top := types.BookTop{TS: time.Now().UTC()}

	// yes side: resting bids for YES. no side converts to YES asks: 1 − noBid.
	if len(book.Orderbook.Yes) > 0 && len(book.Orderbook.Yes[0]) >= 2 {
		top.Bid = book.Orderbook.Yes[0][0].Div(hundred)
		top.BidQty = book.Orderbook.Yes[0][1]
	}
	if len(book.Orderbook.No) > 0 && len(book.Orderbook.No[0]) >= 2 {
		top.Ask = decimal.NewFromInt(1).Sub(book.Orderbook.No[0][0].Div(hundred))
		top.AskQty = book.Orderbook.No[0][1]
	}
	return top, nil
}

// CachedQuote returns the last quote seen for a bracket.
func (c *Client) CachedQuote(marketID string) (types.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[marketID]
	return q, ok
}

// Bracket returns the structural metadata for a bracket ticker.
func (c *Client) Bracket(ticker string) (BracketMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.brackets[ticker]
	return m, ok
}

// EventBrackets lists the bracket tickers under one event.
func (c *Client) EventBrackets(eventTicker string) []BracketMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tickers := c.events[eventTicker]
	out := make([]BracketMeta, 0, len(tickers))
	for _, t := range tickers {
		if m, ok := c.brackets[t]; ok {
			out = append(out, m)
		}
	}
	return out
}

func normalizeCategory(raw, eventTicker string) types.Category {
	switch strings.ToLower(raw) {
	case "crypto", "cryptocurrency", "financials":
		if strings.Contains(eventTicker, "BTC") || strings.Contains(eventTicker, "ETH") ||
			strings.Contains(eventTicker, "SOL") {
			return types.CategoryCrypto
		}
		return types.CategoryFinance
	case "sports":
		return types.CategorySports
	case "politics", "world":
		return types.CategoryPolitics
	case "elections":
		return types.CategoryElections
	case "economics", "economy":
		return types.CategoryFinance
	case "entertainment", "culture":
		return types.CategoryCulture
	case "science and technology", "tech":
		return types.CategoryTech
	default:
		return types.CategoryOther
	}
}
