package trading

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/quantleap/edgebot/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// OPERATOR ACTIONS - Emergency stop and manual close
// ═══════════════════════════════════════════════════════════════════════════════

// EmergencyStop halts entries and force-closes every open position at the
// best available price. Returns how many closes were initiated.
func (e *Engine) EmergencyStop(ctx context.Context) (int, error) {
	e.Stop()
	_ = e.store.Audit("emergency_stop", map[string]any{})

	positions, err := e.store.OpenPositions()
	if err != nil {
		return 0, err
	}

	closed := 0
	for _, pos := range positions {
		if pos.State == types.StateExiting {
			continue
		}
		if err := e.forceClose(ctx, pos, types.ExitEmergency); err != nil {
			log.Error().Err(err).Int64("position", pos.ID).Msg("Emergency close failed")
			continue
		}
		closed++
	}

	log.Warn().Int("closed", closed).Msg("🚨 Emergency stop executed")
	if e.notify != nil {
		e.notify.Alert(ctx, fmt.Sprintf("🚨 emergency stop: %d positions closing", closed))
	}
	return closed, nil
}

// ClosePositionByID force-closes one position on operator request.
func (e *Engine) ClosePositionByID(ctx context.Context, id int64) error {
	positions, err := e.store.OpenPositions()
	if err != nil {
		return err
	}
	for _, pos := range positions {
		if pos.ID == id {
			return e.forceClose(ctx, pos, types.ExitManual)
		}
	}
	return fmt.Errorf("no open position with id %d", id)
}

func (e *Engine) forceClose(ctx context.Context, pos *types.Position, reason types.ExitReason) error {
	quote, ok := e.quotes.CachedQuote(pos.VenueAID)
	if !ok {
		return fmt.Errorf("no quote for %s", pos.VenueAID)
	}
	snap := e.params.Snapshot()
	e.exit(ctx, pos, quote, reason, snap)
	return nil
}
