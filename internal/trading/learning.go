package trading

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantleap/edgebot/internal/params"
	"github.com/quantleap/edgebot/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ADAPTIVE LEARNING - Threshold and Kelly drift over the recent window
// ═══════════════════════════════════════════════════════════════════════════════
//
// Runs every ~30 s over the last 50 closed trades of the process mode.
// Learning moves only interior tunables through SetLearned; hard caps refuse
// it. Five consecutive tightenings with zero entries in between means the
// threshold has starved the detector and it snaps back to the floor.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	learnWindow     = 50
	learnMinTrades  = 10
	loosenWinRate   = 0.65
	tightenWinRate  = 0.50
	thresholdStep   = 5.0
	kellyStep       = 0.02
	thresholdFloor  = 45.0
	thresholdCeil   = 65.0
	liveKellyCeil   = 0.20
	starvationLimit = 5
)

// Learn runs one adaptive tick.
func (e *Engine) Learn() {
	e.mu.Lock()
	entries := e.entriesSinceLearn
	e.entriesSinceLearn = 0
	streak := e.tightenStreak
	e.mu.Unlock()

	// Starvation check first: it must fire even when the window is thin.
	if streak >= starvationLimit && entries == 0 {
		if _, err := e.params.SetLearned(params.KeyScoreThreshold, thresholdFloor); err == nil {
			_ = e.store.Audit("starvation_reset", map[string]any{
				"threshold":      thresholdFloor,
				"tighten_streak": streak,
			})
			log.Warn().Int("streak", streak).Msg("🔄 Threshold starved the detector, reset to floor")
		}
		e.mu.Lock()
		e.tightenStreak = 0
		e.mu.Unlock()
		return
	}

	trades, err := e.store.RecentTrades(e.mode, learnWindow)
	if err != nil || len(trades) < learnMinTrades {
		return
	}

	won := 0
	pnlSum := decimal.Zero
	for _, t := range trades {
		if t.Won {
			won++
		}
		pnlSum = pnlSum.Add(t.NetPnL)
	}
	winRate := float64(won) / float64(len(trades))
	avgPnL := pnlSum.Div(decimal.NewFromInt(int64(len(trades)))).InexactFloat64()

	threshold := e.params.Get(params.KeyScoreThreshold)
	kelly := e.params.Get(params.KeyKellyCeiling)

	switch {
	case winRate > loosenWinRate && avgPnL > e.params.Get(params.KeyMinAvgPnL):
		newThreshold, _ := e.params.SetLearned(params.KeyScoreThreshold, clampF(threshold-thresholdStep, thresholdFloor, thresholdCeil))
		newKelly, _ := e.params.SetLearned(params.KeyKellyCeiling, e.clampKelly(kelly+kellyStep))
		e.auditLearn("loosen", winRate, avgPnL, newThreshold, newKelly)
		e.mu.Lock()
		e.tightenStreak = 0
		e.mu.Unlock()

	case winRate < tightenWinRate:
		ceil := thresholdCeil
		newThreshold, _ := e.params.SetLearned(params.KeyScoreThreshold, clampF(threshold+thresholdStep, thresholdFloor, ceil))
		newKelly, _ := e.params.SetLearned(params.KeyKellyCeiling, e.clampKelly(kelly-kellyStep))
		e.auditLearn("tighten", winRate, avgPnL, newThreshold, newKelly)
		e.mu.Lock()
		e.tightenStreak++
		e.mu.Unlock()

	default:
		e.mu.Lock()
		e.tightenStreak = 0
		e.mu.Unlock()
	}
}

// clampKelly applies the stricter live ceiling on top of the param interval.
func (e *Engine) clampKelly(v float64) float64 {
	if e.mode == types.ModeLive && v > liveKellyCeil {
		return liveKellyCeil
	}
	return v
}

func (e *Engine) auditLearn(action string, winRate, avgPnL, threshold, kelly float64) {
	_ = e.store.Audit("learning_adjust", map[string]any{
		"action":    action,
		"win_rate":  winRate,
		"avg_pnl":   avgPnL,
		"threshold": threshold,
		"kelly":     kelly,
	})
	log.Info().
		Str("action", action).
		Float64("win_rate", winRate).
		Float64("threshold", threshold).
		Float64("kelly", kelly).
		Msg("🧠 Learning adjustment")
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
