package spot

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type fakeChain struct {
	price decimal.Decimal
	err   error
}

func (f fakeChain) Price(ctx context.Context, asset string) (decimal.Decimal, error) {
	return f.price, f.err
}

type divergence struct {
	asset   string
	httpPx  decimal.Decimal
	chainPx decimal.Decimal
}

func crossCheckFeed(chain chainSource) (*Feed, *[]divergence) {
	f := NewFeed("http://example.invalid", []string{"BTC"}, nil)
	f.chain = chain
	var fired []divergence
	f.OnDivergence = func(asset string, httpPx, chainPx decimal.Decimal) {
		fired = append(fired, divergence{asset, httpPx, chainPx})
	}
	return f, &fired
}

func TestCrossCheckReportsDivergence(t *testing.T) {
	// 67000 vs 66000 is ~1.5%, well past the 0.5% gate.
	f, fired := crossCheckFeed(fakeChain{price: decimal.NewFromInt(66000)})
	f.crossCheck(context.Background(), "BTC", decimal.NewFromInt(67000))

	assert.Len(t, *fired, 1)
	got := (*fired)[0]
	assert.Equal(t, "BTC", got.asset)
	assert.True(t, got.httpPx.Equal(decimal.NewFromInt(67000)))
	assert.True(t, got.chainPx.Equal(decimal.NewFromInt(66000)))
}

func TestCrossCheckQuietWhenSourcesAgree(t *testing.T) {
	// 0.2% apart stays under the gate.
	f, fired := crossCheckFeed(fakeChain{price: decimal.NewFromInt(66000)})
	f.crossCheck(context.Background(), "BTC", decimal.NewFromInt(66130))

	assert.Empty(t, *fired)
}

func TestCrossCheckSkipsOnOracleError(t *testing.T) {
	f, fired := crossCheckFeed(fakeChain{err: context.DeadlineExceeded})
	f.crossCheck(context.Background(), "BTC", decimal.NewFromInt(67000))

	assert.Empty(t, *fired)
}

func TestPriceStale(t *testing.T) {
	now := time.Now()
	fresh := Price{Asset: "BTC", Value: decimal.NewFromInt(67000), TS: now.Add(-30 * time.Second)}
	old := Price{Asset: "BTC", Value: decimal.NewFromInt(67000), TS: now.Add(-2 * time.Minute)}

	assert.False(t, fresh.Stale(now))
	assert.True(t, old.Stale(now))
	assert.True(t, Price{}.Stale(now))
}
