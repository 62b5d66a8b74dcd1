// Edgebot - Cross-venue prediction market trading agent
//
// Exploits mispricing on a thin writable venue against two liquid reference
// venues and a spot feed:
//
//  1. Match identical predictions across venues (structural for crypto
//     binaries, fuzzy elsewhere)
//  2. Fuse reference probabilities per matched market each cycle
//  3. Price crypto binaries with a Black-Scholes binary model
//  4. Score composite signals, guard, size by Kelly, enter on venue A
//  5. Monitor with trailing stops, adapt thresholds from realized results
package main

import (
	"context"
	"os"
	osignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantleap/edgebot/internal/config"
	"github.com/quantleap/edgebot/internal/fairvalue"
	"github.com/quantleap/edgebot/internal/matcher"
	"github.com/quantleap/edgebot/internal/notify"
	"github.com/quantleap/edgebot/internal/oracle"
	"github.com/quantleap/edgebot/internal/params"
	"github.com/quantleap/edgebot/internal/refprice"
	"github.com/quantleap/edgebot/internal/scheduler"
	"github.com/quantleap/edgebot/internal/server"
	"github.com/quantleap/edgebot/internal/signal"
	"github.com/quantleap/edgebot/internal/spot"
	"github.com/quantleap/edgebot/internal/store"
	"github.com/quantleap/edgebot/internal/trading"
	"github.com/quantleap/edgebot/internal/types"
	"github.com/quantleap/edgebot/internal/venue/gemini"
	"github.com/quantleap/edgebot/internal/venue/kalshi"
	"github.com/quantleap/edgebot/internal/venue/polymarket"
)

const version = "1.0.0"

const quoteStaleness = 30 * time.Second

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	mode := types.ModePaper
	if cfg.Live() {
		mode = types.ModeLive
	}

	log.Info().
		Str("version", version).
		Str("mode", string(cfg.Mode)).
		Strs("assets", cfg.SpotAssets).
		Msg("⚡ Edgebot starting...")

	// ====== PERSISTENCE ======

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	ps := params.Defaults()
	if _, err := ps.Set(params.KeyFeePerSide, cfg.FeePerSide.InexactFloat64()); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply fee configuration")
	}
	if saved, err := st.LoadParameters(); err == nil {
		ps.Load(saved)
	}
	ps.OnChange(func(key string, old, new float64) {
		if err := st.SaveParameter(key, new); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Failed to persist parameter")
		}
		_ = st.Audit("param_change", map[string]any{"key": key, "old": old, "new": new})
	})

	if _, err := st.LoadWallet(cfg.InitialBalance); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize wallet")
	}

	// ====== VENUE CLIENTS ======

	noncePath := filepath.Join(filepath.Dir(cfg.DatabasePath), "gemini.nonce")
	nonces, err := gemini.NewNonceStore(noncePath, func() int64 { return time.Now().Unix() })
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open nonce store")
	}
	venueA := gemini.New(cfg.GeminiAPIURL, cfg.GeminiAPIKey, cfg.GeminiAPISecret, nonces)
	venueB := polymarket.New(cfg.PolymarketAPIURL)

	var signer *kalshi.Signer
	if cfg.KalshiAccessKey != "" && cfg.KalshiPrivateKey != "" {
		signer, err = kalshi.NewSigner(cfg.KalshiAccessKey, cfg.KalshiPrivateKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load venue-C signing key")
		}
	}
	ws := kalshi.NewWSSubscriber(cfg.KalshiWSURL, signer)
	ws.Start()
	venueC := kalshi.New(cfg.KalshiAPIURL, signer, ws)

	// ====== FEEDS AND MODELS ======

	var chain *spot.ChainlinkOracle
	if cfg.ChainlinkRPC != "" {
		chain, err = spot.NewChainlinkOracle(cfg.ChainlinkRPC)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Chainlink cross-check disabled")
		} else {
			log.Info().Msg("⛓️ Chainlink cross-check connected")
		}
	}
	spotFeed := spot.NewFeed(cfg.SpotAPIURL, cfg.SpotAssets, chain)
	spotFeed.OnDivergence = func(asset string, httpPx, chainPx decimal.Decimal) {
		_ = st.Audit("spot_divergence", map[string]any{
			"asset": asset,
			"http":  httpPx.String(),
			"chain": chainPx.String(),
		})
	}

	oracles := oracle.NewRegistry()
	if cfg.OracleURL != "" {
		oracles.Register(oracle.NewHTTPConsensus("consensus", cfg.OracleURL,
			types.CategoryPolitics, types.CategoryElections, types.CategorySports))
	}

	builder := refprice.New(venueB, venueC, venueC, oracles, quoteStaleness)
	fvEngine := fairvalue.NewEngine(spotFeed, builder, oracles, venueC, venueC, fairvalue.VolConfig{
		Source:   cfg.VolSource,
		Fixed:    cfg.FixedVol.InexactFloat64(),
		RiskFree: cfg.RiskFree.InexactFloat64(),
	})

	// ====== MATCHER ======

	mtch := matcher.New(venueA, venueB, venueC, venueC, st, cfg.MatchInterval)
	mtch.OnBrackets = ws.Subscribe

	// ====== SIGNALS AND TRADING ======

	arbCats := make([]types.Category, 0, len(cfg.ArbCategoryAllowlist))
	for _, c := range cfg.ArbCategoryAllowlist {
		arbCats = append(arbCats, types.Category(c))
	}
	detector := signal.New(st, arbCats)

	var sinks notify.Multi
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.WebhookURL))
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Telegram notifier disabled")
		} else {
			sinks = append(sinks, tg)
		}
	}
	var notifier trading.Notifier
	if len(sinks) > 0 {
		notifier = sinks
	}

	breaker := scheduler.NewVenueBreaker(st)
	fills := trading.NewPaperFiller(time.Now().UnixNano())
	engine := trading.New(st, venueA, venueA, spotFeed, ps, breaker, notifier, mode, fills)

	pipeline := scheduler.NewPipeline(st, venueA, venueB, venueC, venueC, builder, fvEngine, detector, engine, ps, mode, breaker)
	sched := scheduler.New(pipeline, mtch, engine, spotFeed, st, ps)

	// ====== OPERATOR SURFACE ======

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(cfg.BindPort, engine, st, ps, breaker,
		func(ctx context.Context) error {
			_, err := mtch.Run(ctx)
			return err
		},
		func() map[string]float64 {
			out := pipeline.Freshness()
			for asset, secs := range spotFeed.Freshness() {
				out["spot:"+asset] = secs
			}
			return out
		},
	)
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("Operator API failed")
		}
	}()

	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	// ====== SHUTDOWN ======

	quit := make(chan os.Signal, 1)
	osignal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	sched.Shutdown()
	ws.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Operator API shutdown timed out")
	}
	log.Info().Msg("👋 Edgebot stopped")
}
