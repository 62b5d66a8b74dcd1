package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantleap/edgebot/internal/types"
	"github.com/quantleap/edgebot/internal/venue"
)

// ═══════════════════════════════════════════════════════════════════════════════
// VENUE A CLIENT - Writable prediction-market venue
// ═══════════════════════════════════════════════════════════════════════════════
//
// The only venue the engine executes on. Private endpoints authenticate with
// an HMAC-SHA384 over a base64-encoded JSON payload carrying the request path,
// a strictly increasing nonce and the account token. Balance responses are
// cached for 30 s; unknown symbols are parked until the next match cycle.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	ordersPath      = "/v1/prediction-markets/order"
	cancelPath      = "/v1/prediction-markets/order/cancel"
	openOrdersPath  = "/v1/prediction-markets/orders"
	historyPath     = "/v1/prediction-markets/orders/history"
	positionsPath   = "/v1/prediction-markets/positions"
	balancePath     = "/v1/prediction-markets/balance"
	marketsPath     = "/v1/prediction-markets/markets"
	tickersPath     = "/v1/prediction-markets/tickers"
	bookPath        = "/v1/prediction-markets/book"
	balanceCacheAge = 30 * time.Second
)

// Client talks to the writable venue. Implements venue.Reader and
// venue.Execution.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	transport *venue.Transport // public endpoints, 3 s timeout
	privTx    *venue.Transport // signed endpoints, 10 s timeout
	nonces    *NonceStore

	mu          sync.RWMutex
	quotes      map[string]types.Quote
	unavailable map[string]bool // unknown symbols, cleared each match cycle

	balMu      sync.Mutex
	balance    decimal.Decimal
	balanceTS  time.Time
}

// New creates the venue A client.
func New(baseURL, apiKey, apiSecret string, nonces *NonceStore) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		transport:   venue.NewTransport(string(types.VenueA), 10, 20, 3*time.Second),
		privTx:      venue.NewTransport(string(types.VenueA), 5, 10, 10*time.Second),
		nonces:      nonces,
		quotes:      make(map[string]types.Quote),
		unavailable: make(map[string]bool),
	}
	return c
}

func (c *Client) Name() types.Venue { return types.VenueA }

// ───────────────────────────────────────────────────────────────────────────────
// Read side
// ───────────────────────────────────────────────────────────────────────────────

type marketEntry struct {
	Symbol    string          `json:"symbol"`
	Title     string          `json:"title"`
	Category  string          `json:"category"`
	CloseTime int64           `json:"closeTime"`
	Volume    decimal.Decimal `json:"volume"`
}

// ListMarkets enumerates open markets, optionally filtered by category.
func (c *Client) ListMarkets(ctx context.Context, categories []types.Category) ([]types.MarketDescriptor, error) {
	u := c.baseURL + marketsPath
	if len(categories) > 0 {
		cats := make([]string, len(categories))
		for i, cat := range categories {
			cats[i] = string(cat)
		}
		u += "?categories=" + url.QueryEscape(strings.Join(cats, ","))
	}

	data, err := c.transport.Do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	var entries []marketEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, venue.Wrap(string(types.VenueA), "listMarkets", venue.KindSchema, err)
	}

	out := make([]types.MarketDescriptor, 0, len(entries))
	for _, e := range entries {
		out = append(out, types.MarketDescriptor{
			Venue:    types.VenueA,
			ID:       e.Symbol,
			Title:    e.Title,
			Category: types.Category(e.Category),
			CloseTS:  time.Unix(e.CloseTime, 0).UTC(),
			Volume:   e.Volume,
		})
	}
	return out, nil
}

type tickerEntry struct {
	Symbol   string          `json:"symbol"`
	Bid      decimal.Decimal `json:"bid"`
	Ask      decimal.Decimal `json:"ask"`
	Last     decimal.Decimal `json:"last"`
	BidDepth decimal.Decimal `json:"bidDepth"`
	AskDepth decimal.Decimal `json:"askDepth"`
}

// BatchQuotes fetches ticker quotes and fills the quote cache.
func (c *Client) BatchQuotes(ctx context.Context, marketIDs []string) (map[string]types.Quote, error) {
	if len(marketIDs) == 0 {
		return map[string]types.Quote{}, nil
	}

	u := c.baseURL + tickersPath + "?symbols=" + url.QueryEscape(strings.Join(marketIDs, ","))
	data, err := c.transport.Do(ctx, http.MethodGet, u, nil)
	if err != nil {
		c.parkUnknown(err, marketIDs)
		return nil, err
	}

	var entries []tickerEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, venue.Wrap(string(types.VenueA), "batchQuotes", venue.KindSchema, err)
	}

	now := time.Now().UTC()
	out := make(map[string]types.Quote, len(entries))
	c.mu.Lock()
	for _, e := range entries {
		q := types.Quote{
			Venue:    types.VenueA,
			MarketID: e.Symbol,
			Bid:      e.Bid,
			Ask:      e.Ask,
			Last:     e.Last,
			BidDepth: e.BidDepth,
			AskDepth: e.AskDepth,
			TS:       now,
		}
		c.quotes[e.Symbol] = q
		out[e.Symbol] = q
	}
	c.mu.Unlock()

	return out, nil
}

type bookResponse struct {
	Bids [][]decimal.Decimal `json:"bids"` // [price, qty]
	Asks [][]decimal.Decimal `json:"asks"`
}

// BookTop fetches the top of book for one market. One-sided and empty books
// come back with zero fields.
func (c *Client) BookTop(ctx context.Context, marketID string) (types.BookTop, error) {
	data, err := c.transport.Do(ctx, http.MethodGet, c.baseURL+bookPath+"/"+url.PathEscape(marketID), nil)
	if err != nil {
		c.parkUnknown(err, []string{marketID})
		return types.BookTop{}, err
	}

	var book bookResponse
	if err := json.Unmarshal(data, &book); err != nil {
		return types.BookTop{}, venue.Wrap(string(types.VenueA), "bookTop", venue.KindSchema, err)
	}

	top := types.BookTop{TS: time.Now().UTC()}
	if len(book.Bids) > 0 && len(book.Bids[0]) >= 2 {
		top.Bid, top.BidQty = book.Bids[0][0], book.Bids[0][1]
	}
	if len(book.Asks) > 0 && len(book.Asks[0]) >= 2 {
		top.Ask, top.AskQty = book.Asks[0][0], book.Asks[0][1]
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

// parkUnknown parks candidates rejected as unknown symbols. The venue echoes
// the offending symbol in the error text; in a batch, candidates it does not
// name stay live so one delisting cannot blank the whole set. A sole
// candidate is parked either way.
func (c *Client) parkUnknown(err error, candidates []string) {
	if venue.KindOf(err) != venue.KindBusiness || !strings.Contains(err.Error(), "unknown symbol") {
		return
	}
	if len(candidates) == 1 {
		c.MarkUnavailable(candidates[0])
		return
	}
	for _, id := range candidates {
		if strings.Contains(err.Error(), id) {
			c.MarkUnavailable(id)
		}
	}
}

// MarkUnavailable parks a symbol the venue rejected until the next match cycle.
func (c *Client) MarkUnavailable(marketID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unavailable[marketID] = true
	log.Warn().Str("market", marketID).Msg("Market marked unavailable for this match cycle")
}

// Unavailable reports whether a symbol is parked.
func (c *Client) Unavailable(marketID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unavailable[marketID]
}

// ClearUnavailable resets the parked set; the matcher calls this per cycle.
func (c *Client) ClearUnavailable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unavailable = make(map[string]bool)
}

// ───────────────────────────────────────────────────────────────────────────────
// Write side
// ───────────────────────────────────────────────────────────────────────────────

type orderResponse struct {
	OrderID      string          `json:"orderId"`
	Status       string          `json:"status"`
	AvgPrice     decimal.Decimal `json:"avgExecutionPrice"`
	FilledQty    decimal.Decimal `json:"filledQuantity"`
	RemainingQty decimal.Decimal `json:"remainingQuantity"`
	Result       string          `json:"result"`
	Reason       string          `json:"reason"`
	ServerTime   int64           `json:"serverTime"`
}

// PlaceOrder submits a limit order. On a nonce-out-of-window rejection the
// nonce counter is resynchronized to the server's reported time and the order
// is retried exactly once.
func (c *Client) PlaceOrder(ctx context.Context, req venue.OrderRequest) (types.OrderReport, error) {
	fields := map[string]any{
		"symbol":        req.MarketID,
		"orderType":     req.Type,
		"side":          req.Side,
		"outcome":       req.Outcome,
		"quantity":      req.Quantity.String(),
		"price":         req.Price.String(),
		"timeInForce":   req.TIF,
		"clientOrderId": req.IdempotencyID,
	}

	resp, err := c.private(ctx, ordersPath, fields)
	if err != nil && isNonceError(err) {
		var or orderResponse
		_ = json.Unmarshal(errBody(err), &or)
		serverTime := or.ServerTime
		if serverTime == 0 {
			serverTime = time.Now().Unix()
		}
		c.nonces.Resync(serverTime)
		resp, err = c.private(ctx, ordersPath, fields)
	}
	if err != nil {
		return types.OrderReport{}, err
	}

	var or orderResponse
	if err := json.Unmarshal(resp, &or); err != nil {
		return types.OrderReport{}, venue.Wrap(string(types.VenueA), "placeOrder", venue.KindSchema, err)
	}
	if or.Reason != "" {
		return types.OrderReport{}, venue.Wrap(string(types.VenueA), "placeOrder", venue.KindBusiness,
			fmt.Errorf("order rejected: %s", or.Reason))
	}

	log.Info().
		Str("order_id", or.OrderID).
		Str("symbol", req.MarketID).
		Str("side", req.Side).
		Str("outcome", req.Outcome).
		Str("price", req.Price.StringFixed(3)).
		Str("qty", req.Quantity.StringFixed(2)).
		Msg("✅ Order placed")

	return types.OrderReport{
		OrderID:       or.OrderID,
		Status:        or.Status,
		AvgPrice:      or.AvgPrice,
		FilledQty:     or.FilledQty,
		RemainingQty:  or.RemainingQty,
		IdempotencyID: req.IdempotencyID,
	}, nil
}

// CancelOrder cancels an open order by id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	resp, err := c.private(ctx, cancelPath, map[string]any{"orderId": orderID})
	if err != nil {
		return err
	}
	var or orderResponse
	if err := json.Unmarshal(resp, &or); err != nil {
		return venue.Wrap(string(types.VenueA), "cancelOrder", venue.KindSchema, err)
	}
	if or.Result != "ok" {
		return venue.Wrap(string(types.VenueA), "cancelOrder", venue.KindBusiness,
			fmt.Errorf("cancel failed: %s", or.Reason))
	}
	return nil
}

// OpenOrders lists resting orders.
func (c *Client) OpenOrders(ctx context.Context) ([]types.OrderReport, error) {
	return c.orderList(ctx, openOrdersPath, nil)
}

// OrderHistory lists recent fills, newest first.
func (c *Client) OrderHistory(ctx context.Context, limit int) ([]types.OrderReport, error) {
	return c.orderList(ctx, historyPath, map[string]any{"limit": limit})
}

func (c *Client) orderList(ctx context.Context, path string, fields map[string]any) ([]types.OrderReport, error) {
	resp, err := c.private(ctx, path, fields)
	if err != nil {
		return nil, err
	}
	var entries []orderResponse
	if err := json.Unmarshal(resp, &entries); err != nil {
		return nil, venue.Wrap(string(types.VenueA), path, venue.KindSchema, err)
	}
	out := make([]types.OrderReport, 0, len(entries))
	for _, e := range entries {
		out = append(out, types.OrderReport{
			OrderID:      e.OrderID,
			Status:       e.Status,
			AvgPrice:     e.AvgPrice,
			FilledQty:    e.FilledQty,
			RemainingQty: e.RemainingQty,
		})
	}
	return out, nil
}

type positionEntry struct {
	Symbol   string          `json:"symbol"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Positions returns venue-reported holdings, marketID → signed quantity.
func (c *Client) Positions(ctx context.Context) (map[string]decimal.Decimal, error) {
	resp, err := c.private(ctx, positionsPath, nil)
	if err != nil {
		return nil, err
	}
	var entries []positionEntry
	if err := json.Unmarshal(resp, &entries); err != nil {
		return nil, venue.Wrap(string(types.VenueA), "positions", venue.KindSchema, err)
	}
	out := make(map[string]decimal.Decimal, len(entries))
	for _, e := range entries {
		out[e.Symbol] = e.Quantity
	}
	return out, nil
}

type balanceResponse struct {
	Available decimal.Decimal `json:"available"`
}

// AvailableBalance returns the tradable balance, cached for 30 s.
func (c *Client) AvailableBalance(ctx context.Context) (decimal.Decimal, error) {
	c.balMu.Lock()
	if time.Since(c.balanceTS) < balanceCacheAge && !c.balanceTS.IsZero() {
		bal := c.balance
		c.balMu.Unlock()
		return bal, nil
	}
	c.balMu.Unlock()

	resp, err := c.private(ctx, balancePath, nil)
	if err != nil {
		return decimal.Zero, err
	}
	var br balanceResponse
	if err := json.Unmarshal(resp, &br); err != nil {
		return decimal.Zero, venue.Wrap(string(types.VenueA), "balance", venue.KindSchema, err)
	}

	c.balMu.Lock()
	c.balance = br.Available
	c.balanceTS = time.Now()
	c.balMu.Unlock()

	return br.Available, nil
}

// private performs a signed POST. Payload fields ride in the X-PAYLOAD header
// per the venue's auth contract; the body mirrors them for proxies that log it.
func (c *Client) private(ctx context.Context, path string, fields map[string]any) ([]byte, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, venue.Wrap(string(types.VenueA), path, venue.KindAuth,
			fmt.Errorf("missing API credentials"))
	}

	nonce := c.nonces.Next()
	payload, signature, err := signedPayload(c.apiSecret, path, nonce, fields)
	if err != nil {
		return nil, venue.Wrap(string(types.VenueA), path, venue.KindAuth, err)
	}

	headers := map[string]string{
		"X-API-KEY":   c.apiKey,
		"X-PAYLOAD":   payload,
		"X-SIGNATURE": signature,
	}

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, venue.Wrap(string(types.VenueA), path, venue.KindSchema, err)
	}

	return c.privTx.DoWithHeaders(ctx, http.MethodPost, c.baseURL+path, body, headers)
}

func isNonceError(err error) bool {
	return venue.KindOf(err) == venue.KindBusiness &&
		strings.Contains(strings.ToLower(err.Error()), "nonce")
}

func errBody(err error) []byte {
	s := err.Error()
	if i := strings.Index(s, "{"); i >= 0 {
		return []byte(s[i:])
	}
	return nil
}
