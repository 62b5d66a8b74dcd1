package params

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PARAMETER SET - Tunable scalars with per-key clamps
// ═══════════════════════════════════════════════════════════════════════════════
//
// Read-mostly. Writers: the learning cycle and the operator endpoints.
// The signal detector takes a Snapshot at the top of each fast-loop iteration
// so a mid-iteration write cannot mix component weights.
//
// Hard caps (max position size, daily loss limit, drawdown kill, live Kelly
// ceiling) live here too but are excluded from adaptive mutation: learning
// goes through SetLearned which refuses safety-critical keys.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Well-known parameter keys.
const (
	KeyScoreThreshold  = "score_threshold"
	KeyMinEdgePaper    = "min_edge_paper"
	KeyMinEdgeLive     = "min_edge_live"
	KeyKellyCeiling    = "kelly_ceiling"
	KeyFeePerSide      = "fee_per_side"
	KeyStopLossWidth   = "stop_loss_width"
	KeyTakeProfitFloor = "take_profit_floor"
	KeyMaxHoldSecs     = "max_hold_secs"
	KeyMaxConcurrent   = "max_concurrent"
	KeyMaxPerCategory  = "max_per_category"
	KeyDailyLossPct    = "daily_loss_pct"
	KeyDrawdownKillPct = "drawdown_kill_pct"
	KeyMaxPositionSize = "max_position_size"
	KeyMaxPositionPct  = "max_position_pct"
	KeyMinBalanceLive  = "min_balance_live"
	KeyDirectionBand   = "direction_band" // E: min |ref − midA| to pick a side
	KeyMinAvgPnL       = "min_avg_pnl"    // floor for the loosening rule

	// Composite component weights (maximum points each contributes)
	KeyWeightVelocity  = "w_velocity"
	KeyWeightSpread    = "w_spread_diff"
	KeyWeightConsensus = "w_consensus"
	KeyWeightStaleness = "w_staleness"
	KeyWeightWinRate   = "w_win_rate"
	KeyWeightLiquidity = "w_liquidity"

	// Category ensemble weights, "<category>.<source>"
	KeyCryptoWeightC       = "crypto.c"
	KeyCryptoWeightBS      = "crypto.bs"
	KeyPoliticsWeightB     = "politics.b"
	KeyPoliticsWeightC     = "politics.c"
	KeyPoliticsWeightOrcl  = "politics.oracle"
	KeySportsWeightOracle  = "sports.oracle"
	KeySportsWeightB       = "sports.b"
	KeySportsWeightC       = "sports.c"
	KeyDefaultWeightB      = "default.b"
	KeyDefaultWeightC      = "default.c"
	KeyDefaultWeightOracle = "default.oracle"
)

// safetyCritical keys may never be touched by the learning cycle.
var safetyCritical = map[string]bool{
	KeyFeePerSide:      true,
	KeyMaxPositionSize: true,
	KeyMaxPositionPct:  true,
	KeyDailyLossPct:    true,
	KeyDrawdownKillPct: true,
	KeyMinBalanceLive:  true,
	KeyMaxConcurrent:   true,
	KeyMaxPerCategory:  true,
}

// Param is one tunable value with its clamp interval.
type Param struct {
	Value float64
	Min   float64
	Max   float64
}

// Set is the mutable parameter table.
type Set struct {
	mu     sync.RWMutex
	params map[string]Param

	onChange func(key string, old, new float64) // audit hook
}

// Defaults returns the parameter table seeded with spec defaults.
func Defaults() *Set {
	p := map[string]Param{
		KeyScoreThreshold:  {55, 45, 65},
		KeyMinEdgePaper:    {0.03, 0.01, 0.10},
		KeyMinEdgeLive:     {0.08, 0.03, 0.20},
		KeyKellyCeiling:    {0.25, 0.05, 0.25},
		KeyFeePerSide:      {0.0001, 0, 0.01},
		KeyStopLossWidth:   {0.05, 0.02, 0.15},
		KeyTakeProfitFloor: {0.015, 0.005, 0.10},
		KeyMaxHoldSecs:     {14400, 600, 86400},
		KeyMaxConcurrent:   {10, 1, 25},
		KeyMaxPerCategory:  {3, 1, 10},
		KeyDailyLossPct:    {0.03, 0.01, 0.10},
		KeyDrawdownKillPct: {0.15, 0.05, 0.50},
		KeyMaxPositionSize: {10, 1, 1000},
		KeyMaxPositionPct:  {0.12, 0.01, 0.25},
		KeyMinBalanceLive:  {25, 1, 10000},
		KeyDirectionBand:   {0.015, 0.005, 0.05},
		KeyMinAvgPnL:       {0.05, 0, 5},

		KeyWeightVelocity:  {15, 0, 30},
		KeyWeightSpread:    {15, 0, 30},
		KeyWeightConsensus: {25, 0, 40},
		KeyWeightStaleness: {15, 0, 30},
		KeyWeightWinRate:   {20, 0, 40},
		KeyWeightLiquidity: {10, 0, 30},

		KeyCryptoWeightC:       {0.70, 0, 1},
		KeyCryptoWeightBS:      {0.30, 0, 1},
		KeyPoliticsWeightB:     {0.45, 0, 1},
		KeyPoliticsWeightC:     {0.30, 0, 1},
		KeyPoliticsWeightOrcl:  {0.25, 0, 1},
		KeySportsWeightOracle:  {0.40, 0, 1},
		KeySportsWeightB:       {0.35, 0, 1},
		KeySportsWeightC:       {0.25, 0, 1},
		KeyDefaultWeightB:      {0.55, 0, 1},
		KeyDefaultWeightC:      {0.45, 0, 1},
		KeyDefaultWeightOracle: {0, 0, 1},
	}
	return &Set{params: p}
}

// OnChange registers the audit hook called after every accepted write.
func (s *Set) OnChange(fn func(key string, old, new float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Get returns the current value for key (zero if unknown).
func (s *Set) Get(key string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params[key].Value
}

// Clamp returns the (min, max) interval for key.
func (s *Set) Clamp(key string) (min, max float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.params[key]
	return p.Min, p.Max, ok
}

// Set writes a value, clamped to the key's interval. Operator path.
func (s *Set) Set(key string, value float64) (float64, error) {
	return s.write(key, value, false)
}

// SetLearned writes a value from the adaptive-learning cycle. Refuses
// safety-critical keys; those are hard caps, not tunables.
func (s *Set) SetLearned(key string, value float64) (float64, error) {
	if safetyCritical[key] {
		return 0, fmt.Errorf("parameter %q is a hard cap, not learnable", key)
	}
	return s.write(key, value, true)
}

func (s *Set) write(key string, value float64, learned bool) (float64, error) {
	s.mu.Lock()
	p, ok := s.params[key]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("unknown parameter %q", key)
	}
	clamped := value
	if clamped < p.Min {
		clamped = p.Min
	}
	if clamped > p.Max {
		clamped = p.Max
	}
	old := p.Value
	p.Value = clamped
	s.params[key] = p
	hook := s.onChange
	s.mu.Unlock()

	log.Debug().
		Str("key", key).
		Float64("old", old).
		Float64("new", clamped).
		Bool("learned", learned).
		Msg("Parameter updated")

	if hook != nil && old != clamped {
		hook(key, old, clamped)
	}
	return clamped, nil
}

// Load replaces stored values from persistence (clamped; unknown keys ignored).
func (s *Set) Load(values map[string]float64) {
	for k, v := range values {
		s.mu.RLock()
		_, ok := s.params[k]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		if _, err := s.write(k, v, false); err != nil {
			log.Warn().Err(err).Str("key", k).Msg("Failed to restore parameter")
		}
	}
}

// All returns a copy of the full table (for persistence and the operator API).
func (s *Set) All() map[string]Param {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Param, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

// Snapshot is an immutable copy of all values taken at one instant.
type Snapshot map[string]float64

// Snapshot copies the current values. Safe to read without locks afterwards.
func (s *Set) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(Snapshot, len(s.params))
	for k, v := range s.params {
		out[k] = v.Value
	}
	return out
}

// EnsembleWeights returns the per-source weights for a category from a snapshot.
// Unknown categories fall back to the default split.
func (snap Snapshot) EnsembleWeights(category string) map[string]float64 {
	switch category {
	case "crypto":
		return map[string]float64{"c": snap[KeyCryptoWeightC], "bs": snap[KeyCryptoWeightBS]}
	case "politics", "elections":
		return map[string]float64{
			"b": snap[KeyPoliticsWeightB], "c": snap[KeyPoliticsWeightC],
			"oracle": snap[KeyPoliticsWeightOrcl],
		}
	case "sports":
		return map[string]float64{
			"oracle": snap[KeySportsWeightOracle], "b": snap[KeySportsWeightB],
			"c": snap[KeySportsWeightC],
		}
	default:
		return map[string]float64{
			"b": snap[KeyDefaultWeightB], "c": snap[KeyDefaultWeightC],
			"oracle": snap[KeyDefaultWeightOracle],
		}
	}
}
