package trading

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/quantleap/edgebot/internal/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RECONCILIATION - Hourly store-vs-venue sweep
// ═══════════════════════════════════════════════════════════════════════════════

// Reconcile compares live positions in the store against the venue's own
// position report. A store position the venue does not hold is phantom: it is
// flagged out of the open set instead of being "closed" with invented pnl.
// Venue positions with no store row are audited and surfaced, never adopted.
func (e *Engine) Reconcile(ctx context.Context) {
	venuePositions, err := e.exec.Positions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Reconciliation skipped, venue positions unavailable")
		return
	}

	open, err := e.store.OpenPositions()
	if err != nil {
		log.Error().Err(err).Msg("Reconciliation skipped, store unavailable")
		return
	}

	tracked := map[string]bool{}
	for _, pos := range open {
		if pos.Mode != types.ModeLive {
			continue
		}
		tracked[pos.VenueAID] = true
		if qty, ok := venuePositions[pos.VenueAID]; !ok || qty.IsZero() {
			if err := e.store.MarkPhantom(pos.ID, "venue reports no position"); err != nil {
				log.Error().Err(err).Int64("position", pos.ID).Msg("Failed to mark phantom")
				continue
			}
			log.Warn().Int64("position", pos.ID).Str("market", pos.VenueAID).Msg("👻 Phantom position flagged")
			if e.notify != nil {
				e.notify.Alert(ctx, "👻 phantom position on "+pos.VenueAID)
			}
		}
	}

	for marketID, qty := range venuePositions {
		if qty.IsZero() || tracked[marketID] {
			continue
		}
		_ = e.store.Audit("untracked_venue_position", map[string]any{
			"market": marketID,
			"qty":    qty.String(),
		})
		log.Warn().Str("market", marketID).Str("qty", qty.String()).Msg("👻 Venue holds an untracked position")
		if e.notify != nil {
			e.notify.Alert(ctx, "👻 untracked venue position on "+marketID)
		}
	}
}
