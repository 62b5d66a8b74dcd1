package trading

import (
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quantleap/edgebot/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PAPER FILL SIMULATOR - Deterministic under a fixed seed
// ═══════════════════════════════════════════════════════════════════════════════
//
// Fills land at last + 0.001 in the outcome's own price space, mirroring a
// maker fill near the touch rather than a taker sweep of the ask. Paper
// results at the ask would systematically overstate live profitability.
// A fixed seed replays a signal sequence into identical trade records.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	paperSlipBase = 0.001
	paperSlipMax  = 0.001 // uniform extra slip in [0, max)
)

type PaperFiller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewPaperFiller seeds the simulator. The same seed reproduces every fill.
func NewPaperFiller(seed int64) *PaperFiller {
	return &PaperFiller{rng: rand.New(rand.NewSource(seed))}
}

// Fill returns the synthetic entry price for one signal.
func (f *PaperFiller) Fill(dir types.Direction, quoteA types.Quote) decimal.Decimal {
	last := quoteA.Last
	if !last.IsPositive() {
		last = quoteA.Mid()
	}
	if dir == types.DirectionNo {
		last = decimal.NewFromInt(1).Sub(last)
	}

	f.mu.Lock()
	slip := paperSlipBase + f.rng.Float64()*paperSlipMax
	f.mu.Unlock()

	px := last.Add(decimal.NewFromFloat(slip))
	one := decimal.NewFromInt(1)
	if px.GreaterThanOrEqual(one) {
		px = one.Sub(decimal.NewFromFloat(0.001))
	}
	if !px.IsPositive() {
		px = decimal.NewFromFloat(0.001)
	}
	return px.Round(4)
}
