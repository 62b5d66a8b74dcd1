package scheduler

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CIRCUIT BREAKER - Consecutive venue failures gate new entries
// ═══════════════════════════════════════════════════════════════════════════════

const (
	breakerTripAt  = 5
	breakerTimeout = 30 * time.Second
)

// Auditor receives breaker state transitions.
type Auditor interface {
	Audit(kind string, detail map[string]any) error
}

// VenueBreaker wraps gobreaker: five consecutive venue failures open it for
// 30 s. Open blocks entries only; position monitoring keeps running.
type VenueBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func NewVenueBreaker(audit Auditor) *VenueBreaker {
	settings := gobreaker.Settings{
		Name:    "venue",
		Timeout: breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTripAt
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("⚡ Circuit breaker state change")
			if audit != nil {
				_ = audit.Audit("breaker_state", map[string]any{
					"from": from.String(),
					"to":   to.String(),
				})
			}
		},
	}
	return &VenueBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Track feeds one venue call outcome into the breaker.
func (b *VenueBreaker) Track(err error) {
	_, _ = b.cb.Execute(func() (any, error) { return nil, err })
}

// Open reports whether new entries are currently blocked.
func (b *VenueBreaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// ConsecutiveFailures for the health endpoint.
func (b *VenueBreaker) ConsecutiveFailures() int {
	return int(b.cb.Counts().ConsecutiveFailures)
}
