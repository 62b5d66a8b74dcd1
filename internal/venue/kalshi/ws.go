package kalshi

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantleap/edgebot/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// WEBSOCKET SUBSCRIBER - Live bracket ticks
// ═══════════════════════════════════════════════════════════════════════════════
//
// Keeps a secondary book-top cache the REST client consults first. The
// subscription set follows the matcher: each match cycle calls Subscribe with
// the currently bound bracket tickers. Reconnects with a fixed delay; the
// REST fallback covers the gap.
//
// ═══════════════════════════════════════════════════════════════════════════════

const reconnectDelay = 5 * time.Second

// WSSubscriber maintains the live bracket tick stream.
type WSSubscriber struct {
	url    string
	signer *Signer

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	tickers   map[string]bool
	tops      map[string]types.BookTop
	cmdID     int

	stopCh chan struct{}
}

// NewWSSubscriber creates the subscriber. Call Start to connect.
func NewWSSubscriber(wsURL string, signer *Signer) *WSSubscriber {
	return &WSSubscriber{
		url:     wsURL,
		signer:  signer,
		tickers: make(map[string]bool),
		tops:    make(map[string]types.BookTop),
		stopCh:  make(chan struct{}),
	}
}

// Start connects and begins the read loop. Errors are retried internally.
func (w *WSSubscriber) Start() {
	go w.run()
}

// Stop closes the connection and halts reconnects.
func (w *WSSubscriber) Stop() {
	close(w.stopCh)
	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
	}
	w.mu.Unlock()
}

// BookTop returns the cached top for a bracket, if the stream has seen one.
func (w *WSSubscriber) BookTop(ticker string) (types.BookTop, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	top, ok := w.tops[ticker]
	return top, ok
}

// Subscribe replaces the watched ticker set. Called after each match cycle.
func (w *WSSubscriber) Subscribe(tickers []string) {
	w.mu.Lock()
	w.tickers = make(map[string]bool, len(tickers))
	for _, t := range tickers {
		w.tickers[t] = true
	}
	conn := w.conn
	connected := w.connected
	w.mu.Unlock()

	if connected && conn != nil {
		w.sendSubscribe(conn, tickers)
	}
}

func (w *WSSubscriber) run() {
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		if err := w.connect(); err != nil {
			log.Warn().Err(err).Msg("Bracket stream connect failed, will retry")
			select {
			case <-time.After(reconnectDelay):
				continue
			case <-w.stopCh:
				return
			}
		}

		w.readLoop()

		w.mu.Lock()
		w.connected = false
		w.mu.Unlock()

		select {
		case <-time.After(reconnectDelay):
		case <-w.stopCh:
			return
		}
	}
}

func (w *WSSubscriber) connect() error {
	headers := map[string][]string{}
	if w.signer != nil {
		// WS handshake signs the upgrade path like any other request.
		h, err := w.signer.Headers("GET", "/trade-api/ws/v2")
		if err != nil {
			return err
		}
		for k, v := range h {
			headers[k] = []string{v}
		}
	}

	conn, _, err := websocket.DefaultDialer.Dial(w.url, headers)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	tickers := make([]string, 0, len(w.tickers))
	for t := range w.tickers {
		tickers = append(tickers, t)
	}
	w.mu.Unlock()

	log.Info().Int("tickers", len(tickers)).Msg("📡 Bracket tick stream connected")

	if len(tickers) > 0 {
		w.sendSubscribe(conn, tickers)
	}
	return nil
}

type wsCommand struct {
	ID     int      `json:"id"`
	Cmd    string   `json:"cmd"`
	Params wsParams `json:"params"`
}

type wsParams struct {
	Channels []string `json:"channels"`
	Tickers  []string `json:"market_tickers"`
}

func (w *WSSubscriber) sendSubscribe(conn *websocket.Conn, tickers []string) {
	w.mu.Lock()
	w.cmdID++
	id := w.cmdID
	w.mu.Unlock()

	cmd := wsCommand{
		ID:  id,
		Cmd: "subscribe",
		Params: wsParams{
			Channels: []string{"ticker"},
			Tickers:  tickers,
		},
	}
	if err := conn.WriteJSON(cmd); err != nil {
		log.Warn().Err(err).Msg("Bracket stream subscribe failed")
	}
}

type wsTicker struct {
	Type string `json:"type"`
	Msg  struct {
		Ticker string          `json:"market_ticker"`
		YesBid decimal.Decimal `json:"yes_bid"` // cents
		YesAsk decimal.Decimal `json:"yes_ask"`
		BidQty decimal.Decimal `json:"yes_bid_size"`
		AskQty decimal.Decimal `json:"yes_ask_size"`
	} `json:"msg"`
}

func (w *WSSubscriber) readLoop() {
	hundred := decimal.NewFromInt(100)
	for {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("Bracket stream read error")
			conn.Close()
			return
		}

		var tick wsTicker
		if err := json.Unmarshal(data, &tick); err != nil || tick.Type != "ticker" {
			continue
		}

		w.mu.Lock()
		if w.tickers[tick.Msg.Ticker] {
			w.tops[tick.Msg.Ticker] = types.BookTop{
				Bid:    tick.Msg.YesBid.Div(hundred),
				BidQty: tick.Msg.BidQty,
				Ask:    tick.Msg.YesAsk.Div(hundred),
				AskQty: tick.Msg.AskQty,
				TS:     time.Now().UTC(),
			}
		}
		w.mu.Unlock()
	}
}
