package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Mode of the process. Fixed for the process lifetime; never flipped at runtime.
type Mode string

const (
	ModePaper   Mode = "paper"
	ModeLive    Mode = "live"
	ModeSandbox Mode = "sandbox"
)

// Config holds all configuration for the bot
type Config struct {
	// Mode
	Mode  Mode
	Debug bool

	// Venue A (writable)
	GeminiAPIURL    string
	GeminiAPIKey    string
	GeminiAPISecret string

	// Venue B (public)
	PolymarketAPIURL string

	// Venue C
	KalshiAPIURL     string
	KalshiWSURL      string
	KalshiAccessKey  string
	KalshiPrivateKey string // PEM, RSA; empty disables signed endpoints

	// Spot feed
	SpotAPIURL   string
	SpotAssets   []string // e.g. BTC,ETH,SOL
	ChainlinkRPC string   // optional on-chain cross-check; empty disables

	// Volatility source for the binary pricer
	VolSource  string          // "fixed" or "lattice"
	FixedVol   decimal.Decimal // annualized, default 0.50
	RiskFree   decimal.Decimal // r, default 0
	FeePerSide decimal.Decimal

	// Loop cadences
	FastInterval  time.Duration // price → signal → trade
	MatchInterval time.Duration
	SpotInterval  time.Duration
	LearnInterval time.Duration

	// Synthetic arb across venues: off unless a category is allow-listed
	ArbCategoryAllowlist []string

	// Aux oracle consensus endpoint; empty disables the oracle source
	OracleURL string

	// Paper wallet seed, also the live bankroll assumption for sizing
	InitialBalance decimal.Decimal

	// Alerts
	WebhookURL     string
	TelegramToken  string
	TelegramChatID int64

	// Server
	BindPort int

	// Database
	DatabasePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Mode:  Mode(getEnv("MODE", string(ModePaper))),
		Debug: getEnvBool("DEBUG", false),

		GeminiAPIURL:    getEnv("GEMINI_API_URL", "https://api.gemini.com"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiAPISecret: os.Getenv("GEMINI_API_SECRET"),

		PolymarketAPIURL: getEnv("POLYMARKET_API_URL", "https://gamma-api.polymarket.com"),

		KalshiAPIURL:     getEnv("KALSHI_API_URL", "https://api.elections.kalshi.com/trade-api/v2"),
		KalshiWSURL:      getEnv("KALSHI_WS_URL", "wss://api.elections.kalshi.com/trade-api/ws/v2"),
		KalshiAccessKey:  os.Getenv("KALSHI_ACCESS_KEY"),
		KalshiPrivateKey: os.Getenv("KALSHI_PRIVATE_KEY"),

		SpotAPIURL:   getEnv("SPOT_API_URL", "https://api.binance.com/api/v3/ticker/price"),
		SpotAssets:   getEnvList("SPOT_ASSETS", []string{"BTC", "ETH", "SOL"}),
		ChainlinkRPC: os.Getenv("CHAINLINK_RPC_URL"),

		VolSource:  getEnv("VOL_SOURCE", "fixed"),
		FixedVol:   getEnvDecimal("FIXED_VOL", decimal.NewFromFloat(0.50)),
		RiskFree:   getEnvDecimal("RISK_FREE_RATE", decimal.Zero),
		FeePerSide: getEnvDecimal("FEE_PER_SIDE", decimal.NewFromFloat(0.0001)),

		FastInterval:  getEnvDuration("FAST_INTERVAL", 2*time.Second),
		MatchInterval: getEnvDuration("MATCH_INTERVAL", 5*time.Minute),
		SpotInterval:  getEnvDuration("SPOT_INTERVAL", 15*time.Second),
		LearnInterval: getEnvDuration("LEARN_INTERVAL", 30*time.Second),

		ArbCategoryAllowlist: getEnvList("ARB_CATEGORY_ALLOWLIST", nil),

		OracleURL:      os.Getenv("ORACLE_URL"),
		InitialBalance: getEnvDecimal("INITIAL_BALANCE", decimal.NewFromInt(500)),

		WebhookURL:    os.Getenv("WEBHOOK_URL"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		BindPort: getEnvInt("BIND_PORT", 8090),

		DatabasePath: getEnv("DATABASE_PATH", "data/edgebot.db"),
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks that required credentials exist for the declared mode.
func (c *Config) validate() error {
	switch c.Mode {
	case ModePaper, ModeLive, ModeSandbox:
	default:
		return fmt.Errorf("invalid MODE %q (want paper|live|sandbox)", c.Mode)
	}

	if c.Mode == ModeLive {
		if c.GeminiAPIKey == "" || c.GeminiAPISecret == "" {
			return fmt.Errorf("live mode requires GEMINI_API_KEY and GEMINI_API_SECRET")
		}
	}

	if c.VolSource != "fixed" && c.VolSource != "lattice" {
		return fmt.Errorf("invalid VOL_SOURCE %q (want fixed|lattice)", c.VolSource)
	}

	if !c.FixedVol.IsPositive() {
		return fmt.Errorf("FIXED_VOL must be positive")
	}

	return nil
}

// Live reports whether the process runs with real-money execution enabled.
func (c *Config) Live() bool { return c.Mode == ModeLive }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return fallback
}
