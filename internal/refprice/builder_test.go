package refprice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuseWeightedMean(t *testing.T) {
	prob, used, disagree := Fuse(
		map[string]float64{"b": 0.60, "c": 0.70},
		map[string]float64{"b": 0.55, "c": 0.45},
	)
	assert.InDelta(t, 0.60*0.55+0.70*0.45, prob, 1e-9)
	assert.Equal(t, []string{"b", "c"}, used)
	assert.False(t, disagree)
}

func TestFuseRedistributesMissingSource(t *testing.T) {
	// Only "b" present: its weight renormalizes to 1.
	prob, used, _ := Fuse(
		map[string]float64{"b": 0.62},
		map[string]float64{"b": 0.55, "c": 0.45},
	)
	assert.InDelta(t, 0.62, prob, 1e-9)
	assert.Equal(t, []string{"b"}, used)
}

func TestFuseDisagreementDampsOutlier(t *testing.T) {
	// Spread 0.55 > 0.40: the source furthest from the median drops to 10%.
	sources := map[string]float64{"b": 0.60, "c": 0.62, "oracle": 0.05}
	weights := map[string]float64{"b": 0.4, "c": 0.3, "oracle": 0.3}
	prob, _, disagree := Fuse(sources, weights)

	assert.True(t, disagree)
	// Effective weights: b 0.4, c 0.3, oracle 0.03.
	total := 0.4 + 0.3 + 0.03
	want := (0.60*0.4 + 0.62*0.3 + 0.05*0.03) / total
	assert.InDelta(t, want, prob, 1e-9)
	assert.Greater(t, prob, 0.55) // outlier no longer dominates
}

func TestFuseAgreementDoesNotFlag(t *testing.T) {
	_, _, disagree := Fuse(
		map[string]float64{"b": 0.62, "c": 0.63},
		map[string]float64{"b": 0.5, "c": 0.5},
	)
	assert.False(t, disagree)
}

func TestFusePlainMeanFallback(t *testing.T) {
	// No weighted source present: plain mean of whatever came in.
	prob, used, _ := Fuse(
		map[string]float64{"oracle": 0.40},
		map[string]float64{"b": 0.55, "c": 0.45},
	)
	assert.InDelta(t, 0.40, prob, 1e-9)
	assert.Equal(t, []string{"oracle"}, used)
}

func TestFuseEmpty(t *testing.T) {
	_, used, _ := Fuse(map[string]float64{}, map[string]float64{"b": 1})
	assert.Empty(t, used)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.5, median([]float64{0.5}))
	assert.Equal(t, 0.6, median([]float64{0.9, 0.6, 0.1}))
	assert.InDelta(t, 0.35, median([]float64{0.2, 0.5, 0.3, 0.4}), 1e-9)
}
