package spot

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CHAINLINK ORACLE - On-chain spot cross-check
// ═══════════════════════════════════════════════════════════════════════════════
//
// Reads latestRoundData() from the USD aggregator per asset. Used only to
// cross-check the HTTP feed; never a primary pricing input. Results are
// cached for 30 s so the cross-check does not hammer the RPC.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Aggregator addresses on Polygon, 8 decimals each.
var feedAddresses = map[string]string{
	"BTC": "0xc907E116054Ad103354f2D350FD2514433D57F6f",
	"ETH": "0xF9680D99D6C9589e2a93a78A04A279e509205945",
	"SOL": "0x10C8264C0935b3B9870013e057f330Ff3e9C56dC",
}

const (
	latestRoundDataSelector = "feaf968c"
	feedDecimals            = 8
	oracleCacheAge          = 30 * time.Second
)

// ChainlinkOracle reads aggregator rounds over an EVM RPC endpoint.
type ChainlinkOracle struct {
	client *ethclient.Client

	mu    sync.Mutex
	cache map[string]Price
}

// NewChainlinkOracle dials the RPC endpoint.
func NewChainlinkOracle(rpcURL string) (*ChainlinkOracle, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chainlink rpc: %w", err)
	}
	return &ChainlinkOracle{client: client, cache: make(map[string]Price)}, nil
}

// Price returns the latest on-chain price for an asset, 30 s cached.
func (o *ChainlinkOracle) Price(ctx context.Context, asset string) (decimal.Decimal, error) {
	o.mu.Lock()
	if p, ok := o.cache[asset]; ok && time.Since(p.TS) < oracleCacheAge {
		o.mu.Unlock()
		return p.Value, nil
	}
	o.mu.Unlock()

	addr, ok := feedAddresses[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("no aggregator for %s", asset)
	}

	selector, err := hex.DecodeString(latestRoundDataSelector)
	if err != nil {
		return decimal.Zero, err
	}

	to := common.HexToAddress(addr)
	result, err := o.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: selector}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("aggregator call: %w", err)
	}

	// (uint80 roundId, int256 answer, uint256 startedAt, uint256 updatedAt, uint80 answeredInRound)
	if len(result) < 160 {
		return decimal.Zero, fmt.Errorf("short aggregator response: %d bytes", len(result))
	}
	answer := new(big.Int).SetBytes(result[32:64])
	price := decimal.NewFromBigInt(answer, -int32(feedDecimals))

	o.mu.Lock()
	o.cache[asset] = Price{Asset: asset, Value: price, TS: time.Now()}
	o.mu.Unlock()

	return price, nil
}

// Close releases the RPC connection.
func (o *ChainlinkOracle) Close() {
	o.client.Close()
}
