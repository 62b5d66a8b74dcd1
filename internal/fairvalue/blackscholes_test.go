package fairvalue

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbAboveAtTheMoneyShortExpiry(t *testing.T) {
	// At S=K the drift term vanishes as T → 0.
	p := ProbAbove(67500, 67500, 1e-8, 0.50, 0)
	assert.InDelta(t, 0.5, p, 1e-4)
}

func TestProbAboveExpiredCollapsesToIndicator(t *testing.T) {
	assert.Equal(t, 1.0, ProbAbove(68000, 67500, 0, 0.50, 0))
	assert.Equal(t, 0.0, ProbAbove(67000, 67500, 0, 0.50, 0))
	assert.Equal(t, 0.5, ProbAbove(67500, 67500, 0, 0.50, 0))
}

func TestProbAboveShortExpiryLimits(t *testing.T) {
	// T → 0⁺ with S>K approaches 1, with S<K approaches 0.
	assert.InDelta(t, 1.0, ProbAbove(68000, 67500, 1e-9, 0.50, 0), 1e-6)
	assert.InDelta(t, 0.0, ProbAbove(67000, 67500, 1e-9, 0.50, 0), 1e-6)
}

func TestProbAboveKnownValue(t *testing.T) {
	// Spot 67800, strike 67500, T = 4h, σ = 45%: comfortably above a coin flip.
	tYears := 4.0 / (365.25 * 24)
	p := ProbAbove(67800, 67500, tYears, 0.45, 0)
	assert.Greater(t, p, 0.6)
	assert.Less(t, p, 0.75)
}

func TestProbAboveMonotoneInSpot(t *testing.T) {
	tYears := 1.0 / 365.25
	lo := ProbAbove(60000, 67500, tYears, 0.50, 0)
	mid := ProbAbove(67500, 67500, tYears, 0.50, 0)
	hi := ProbAbove(75000, 67500, tYears, 0.50, 0)
	assert.Less(t, lo, mid)
	assert.Less(t, mid, hi)
}

func TestProbAboveInvalidInputs(t *testing.T) {
	assert.True(t, math.IsNaN(ProbAbove(0, 67500, 0.1, 0.5, 0)))
	assert.True(t, math.IsNaN(ProbAbove(67500, 0, 0.1, 0.5, 0)))
	assert.True(t, math.IsNaN(ProbAbove(67500, 67500, 0.1, 0, 0)))
}

func TestProbBelowComplement(t *testing.T) {
	tYears := 0.01
	above := ProbAbove(67800, 67500, tYears, 0.45, 0)
	below := ProbBelow(67800, 67500, tYears, 0.45, 0)
	assert.InDelta(t, 1.0, above+below, 1e-12)
}
