package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/quantleap/edgebot/internal/matcher"
	"github.com/quantleap/edgebot/internal/params"
	"github.com/quantleap/edgebot/internal/spot"
	"github.com/quantleap/edgebot/internal/store"
	"github.com/quantleap/edgebot/internal/trading"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SCHEDULER - Cooperative loops on one cron
// ═══════════════════════════════════════════════════════════════════════════════
//
// fast 2 s | spot 15 s | learn 30 s | match 5 min | reconcile hourly.
// Slow iterations are skipped rather than stacked. Shutdown lets each loop
// finish its current iteration, then drains for up to 10 s.
//
// ═══════════════════════════════════════════════════════════════════════════════

const drainTimeout = 10 * time.Second

// Scheduler owns the cron and process lifecycle.
type Scheduler struct {
	cron     *cron.Cron
	pipeline *Pipeline
	matcher  *matcher.Matcher
	engine   *trading.Engine
	spot     *spot.Feed
	store    *store.Store
	params   *params.Set

	ctx    context.Context
	cancel context.CancelFunc
}

// New assembles the scheduler. Jobs are registered in Start.
func New(pipeline *Pipeline, m *matcher.Matcher, eng *trading.Engine, feed *spot.Feed, st *store.Store, ps *params.Set) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		pipeline: pipeline,
		matcher:  m,
		engine:   eng,
		spot:     feed,
		store:    st,
		params:   ps,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start registers all jobs and runs the cron. An initial match and spot poll
// run inline so the first fast cycle has data.
func (s *Scheduler) Start() error {
	if _, err := s.matcher.Run(s.ctx); err != nil {
		log.Warn().Err(err).Msg("Initial match failed, continuing")
	}
	if err := s.spot.Poll(s.ctx); err != nil {
		log.Warn().Err(err).Msg("Initial spot poll failed, continuing")
	}

	jobs := []struct {
		spec string
		name string
		fn   func()
	}{
		{"*/2 * * * * *", "fast", func() { s.pipeline.RunCycle(s.ctx) }},
		{"*/15 * * * * *", "spot", func() {
			if err := s.spot.Poll(s.ctx); err != nil {
				log.Warn().Err(err).Msg("Spot poll failed")
			}
		}},
		{"*/30 * * * * *", "learn", func() {
			s.engine.Learn()
			s.checkDrawdown()
		}},
		{"0 */5 * * * *", "match", func() {
			if delta, err := s.matcher.Run(s.ctx); err != nil {
				log.Error().Err(err).Msg("Match cycle failed")
			} else {
				log.Info().
					Int("added", delta.Added).
					Int("removed", delta.Removed).
					Int("total", delta.Total).
					Msg("🔗 Match cycle complete")
			}
		}},
		{"0 0 * * * *", "reconcile", func() { s.engine.Reconcile(s.ctx) }},
		{"0 0 0 * * *", "daily-reset", func() {
			if err := s.store.ResetDaily(time.Now()); err != nil {
				log.Error().Err(err).Msg("Daily reset failed")
			}
		}},
	}

	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.spec, j.fn); err != nil {
			return err
		}
	}

	s.cron.Start()
	log.Info().Msg("⏱️  Scheduler started")
	return nil
}

// checkDrawdown trips the kill-switch when peak-to-balance loss crosses the cap.
func (s *Scheduler) checkDrawdown() {
	wallet, err := s.store.Wallet()
	if err != nil {
		return
	}
	if wallet.Drawdown().InexactFloat64() >= s.params.Get(params.KeyDrawdownKillPct) {
		s.engine.Kill("drawdown limit reached")
	}
}

// Shutdown stops new iterations and drains running ones.
func (s *Scheduler) Shutdown() {
	s.cancel()
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		log.Info().Msg("Scheduler drained")
	case <-time.After(drainTimeout):
		log.Warn().Msg("Scheduler drain timed out")
	}
}
