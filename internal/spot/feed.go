package spot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantleap/edgebot/internal/venue"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SPOT PRICE FEED - Periodic poller for the fair-value engine
// ═══════════════════════════════════════════════════════════════════════════════
//
// A small fixed set of crypto tickers, polled every 15 s. Values older than
// 60 s are served as stale; fair-value signals requiring spot are suppressed
// by the caller when Stale reports true. An optional on-chain oracle
// cross-checks the HTTP feed; divergence beyond 0.5% is reported through the
// OnDivergence hook for auditing.
//
// ═══════════════════════════════════════════════════════════════════════════════

const staleAfter = 60 * time.Second

// Price is one asset's latest spot sample.
type Price struct {
	Asset string
	Value decimal.Decimal
	TS    time.Time
}

// Stale reports whether the sample is too old to price against.
func (p Price) Stale(now time.Time) bool {
	return p.TS.IsZero() || now.Sub(p.TS) > staleAfter
}

// chainSource is the on-chain price surface the cross-check reads.
type chainSource interface {
	Price(ctx context.Context, asset string) (decimal.Decimal, error)
}

// Feed polls spot prices for a fixed asset set.
type Feed struct {
	apiURL    string
	assets    []string
	transport *venue.Transport
	chain     chainSource // nil disables the cross-check

	mu     sync.RWMutex
	prices map[string]Price

	// OnDivergence fires when HTTP and on-chain spot disagree by > 0.5%.
	OnDivergence func(asset string, httpPx, chainPx decimal.Decimal)
}

// NewFeed creates the poller. Call Poll from the scheduler's spot loop.
func NewFeed(apiURL string, assets []string, oracle *ChainlinkOracle) *Feed {
	f := &Feed{
		apiURL:    apiURL,
		assets:    assets,
		transport: venue.NewTransport("spot", 5, 10, 3*time.Second),
		prices:    make(map[string]Price),
	}
	if oracle != nil {
		f.chain = oracle
	}
	return f
}

type tickerResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// Poll fetches one sample per asset. Partial failures keep prior values.
func (f *Feed) Poll(ctx context.Context) error {
	var firstErr error
	now := time.Now().UTC()

	for _, asset := range f.assets {
		u := f.apiURL + "?symbol=" + url.QueryEscape(asset+"USDT")
		data, err := f.transport.Do(ctx, http.MethodGet, u, nil)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		var tick tickerResponse
		if err := json.Unmarshal(data, &tick); err != nil {
			log.Warn().Err(err).Str("asset", asset).Msg("Spot tick dropped, bad shape")
			continue
		}
		if !tick.Price.IsPositive() {
			continue
		}

		f.mu.Lock()
		f.prices[asset] = Price{Asset: asset, Value: tick.Price, TS: now}
		f.mu.Unlock()

		f.crossCheck(ctx, asset, tick.Price)
	}

	return firstErr
}

// Get returns the latest sample for an asset.
func (f *Feed) Get(asset string) (Price, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[asset]
	return p, ok
}

// Fresh returns the sample only if it is younger than the staleness window.
func (f *Feed) Fresh(asset string) (Price, bool) {
	p, ok := f.Get(asset)
	if !ok || p.Stale(time.Now()) {
		return Price{}, false
	}
	return p, true
}

// Freshness returns seconds since the last sample per asset, -1 when unseen.
func (f *Feed) Freshness() map[string]float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]float64, len(f.assets))
	now := time.Now()
	for _, a := range f.assets {
		if p, ok := f.prices[a]; ok {
			out[a] = now.Sub(p.TS).Seconds()
		} else {
			out[a] = -1
		}
	}
	return out
}

func (f *Feed) crossCheck(ctx context.Context, asset string, httpPx decimal.Decimal) {
	if f.chain == nil {
		return
	}
	chainPx, err := f.chain.Price(ctx, asset)
	if err != nil || !chainPx.IsPositive() {
		return
	}

	diff := httpPx.Sub(chainPx).Abs().Div(chainPx)
	if diff.GreaterThan(decimal.NewFromFloat(0.005)) {
		log.Warn().
			Str("asset", asset).
			Str("http", httpPx.StringFixed(2)).
			Str("chain", chainPx.StringFixed(2)).
			Str("diff", diff.StringFixed(4)).
			Msg("⛓️ Spot sources diverge")
		if f.OnDivergence != nil {
			f.OnDivergence(asset, httpPx, chainPx)
		}
	}
}
