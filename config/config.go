// Package config loads bot configuration from .env, environment variables
// and an optional YAML overlay for strategy parameters.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"momentum-botv1/internal/calibration"
	"momentum-botv1/internal/ledger"
	"momentum-botv1/internal/markethours"
	"momentum-botv1/internal/portfolio"
	"momentum-botv1/internal/strategy"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Infrastructure
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"-"`
	SQLitePath    string `yaml:"sqlite_path"`
	StatePath     string `yaml:"state_path" validate:"required"`
	EventLogPath  string `yaml:"event_log_path"`
	MetricsAddr   string `yaml:"metrics_addr"`
	LogLevel      string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// Upstreams
	KrakenWSURL    string `yaml:"kraken_ws_url" validate:"required,url"`
	KrakenRESTURL  string `yaml:"kraken_rest_url" validate:"required,url"`
	KalshiBaseURL  string `yaml:"kalshi_base_url" validate:"required,url"`
	BinanceBaseURL string `yaml:"binance_base_url" validate:"omitempty,url"`
	BinanceSymbol  string `yaml:"binance_symbol"`
	Series         string `yaml:"series" validate:"required"`

	// Alerts
	WebhookURL     string `yaml:"webhook_url" validate:"omitempty,url"`
	TelegramToken  string `yaml:"-"`
	TelegramChatID string `yaml:"telegram_chat_id"`

	Loop        Loop        `yaml:"loop"`
	Strategy    Strategy    `yaml:"strategy"`
	Risk        Risk        `yaml:"risk"`
	Calibration Calibration `yaml:"calibration"`
}

// Loop holds decision loop cadences.
type Loop struct {
	Tick            time.Duration `yaml:"tick" validate:"gt=0"`
	ScanEvery       time.Duration `yaml:"scan_every" validate:"gtefield=Tick"`
	HeartbeatEvery  time.Duration `yaml:"heartbeat_every" validate:"gt=0"`
	StatsEvery      time.Duration `yaml:"stats_every" validate:"gt=0"`
	StaleAfter      time.Duration `yaml:"stale_after" validate:"gt=0"`
	ReconnectPause  time.Duration `yaml:"reconnect_pause" validate:"gte=0"`
	PanicPause      time.Duration `yaml:"panic_pause" validate:"gte=0"`
	HistorySize     int           `yaml:"history_size" validate:"gte=115"`
	SettlementGrace time.Duration `yaml:"settlement_grace" validate:"gte=0"`
	MinTimeToClose  time.Duration `yaml:"min_time_to_close" validate:"gt=0"`
	MaxTimeToClose  time.Duration `yaml:"max_time_to_close" validate:"gtfield=MinTimeToClose"`
}

// Strategy holds the hour boost overlay.
type Strategy struct {
	FavorableHours string  `yaml:"favorable_hours"`
	HourBoost      float64 `yaml:"hour_boost" validate:"gte=0,lt=1"`
}

// Risk holds sizing and gating parameters.
type Risk struct {
	Bankroll         float64       `yaml:"bankroll" validate:"gt=0"`
	KellyMultiplier  float64       `yaml:"kelly_multiplier" validate:"gt=0,lte=1"`
	MaxFraction      float64       `yaml:"max_fraction" validate:"gt=0,lte=1"`
	MaxStake         float64       `yaml:"max_stake" validate:"gt=0"`
	MinStake         float64       `yaml:"min_stake" validate:"gte=0"`
	MinEV            float64       `yaml:"min_ev"`
	Slippage         float64       `yaml:"slippage" validate:"gte=0,lt=1"`
	PriceFloor       float64       `yaml:"price_floor" validate:"gte=0,lt=1"`
	PriceCeiling     float64       `yaml:"price_ceiling" validate:"gtfield=PriceFloor,lte=1"`
	Cooldown         time.Duration `yaml:"cooldown" validate:"gte=0"`
	MaxOpenPositions int           `yaml:"max_open_positions" validate:"gt=0"`
}

// Calibration holds the refresh job parameters.
type Calibration struct {
	Window   time.Duration `yaml:"window" validate:"gt=0"`
	Horizon  int           `yaml:"horizon" validate:"gt=0"`
	Interval time.Duration `yaml:"interval" validate:"gt=0"`
	MinRows  int           `yaml:"min_rows" validate:"gte=0"`
	CacheTTL time.Duration `yaml:"cache_ttl" validate:"gte=0"`
}

// Load reads .env (if present), then environment variables with defaults,
// then the YAML file named by BOT_CONFIG (if set), and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("[config] .env ignored: %v", err)
	}

	cfg := fromEnv()
	if path := os.Getenv("BOT_CONFIG"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/bot.db"),
		StatePath:     getEnv("STATE_PATH", "data/state.json"),
		EventLogPath:  getEnv("EVENT_LOG_PATH", "logs/events.log"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),

		KrakenWSURL:    getEnv("KRAKEN_WS_URL", "wss://ws.kraken.com"),
		KrakenRESTURL:  getEnv("KRAKEN_REST_URL", "https://api.kraken.com"),
		KalshiBaseURL:  getEnv("KALSHI_BASE_URL", "https://api.elections.kalshi.com/trade-api/v2"),
		BinanceBaseURL: getEnv("BINANCE_BASE_URL", "https://api.binance.us"),
		BinanceSymbol:  getEnv("BINANCE_SYMBOL", "BTCUSDT"),
		Series:         getEnv("KALSHI_SERIES", "KXBTC15M"),

		WebhookURL:     getEnv("WEBHOOK_URL", ""),
		TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),

		Loop: Loop{
			Tick:            getEnvDuration("LOOP_TICK", time.Second),
			ScanEvery:       getEnvDuration("SCAN_EVERY", 15*time.Second),
			HeartbeatEvery:  getEnvDuration("HEARTBEAT_EVERY", time.Minute),
			StatsEvery:      getEnvDuration("STATS_EVERY", 5*time.Minute),
			StaleAfter:      getEnvDuration("STALE_AFTER", 15*time.Second),
			ReconnectPause:  getEnvDuration("RECONNECT_PAUSE", 3*time.Second),
			PanicPause:      getEnvDuration("PANIC_PAUSE", 5*time.Second),
			HistorySize:     getEnvInt("HISTORY_SIZE", 120),
			SettlementGrace: getEnvDuration("SETTLEMENT_GRACE", time.Minute),
			MinTimeToClose:  getEnvDuration("MIN_TIME_TO_CLOSE", 120*time.Second),
			MaxTimeToClose:  getEnvDuration("MAX_TIME_TO_CLOSE", 880*time.Second),
		},
		Strategy: Strategy{
			FavorableHours: getEnv("FAVORABLE_HOURS", markethours.DefaultFavorable),
			HourBoost:      getEnvFloat("HOUR_BOOST", 0.03),
		},
		Risk: Risk{
			Bankroll:         getEnvFloat("BANKROLL", 1000),
			KellyMultiplier:  getEnvFloat("KELLY_MULTIPLIER", 0.25),
			MaxFraction:      getEnvFloat("MAX_FRACTION", 0.10),
			MaxStake:         getEnvFloat("MAX_STAKE", 50),
			MinStake:         getEnvFloat("MIN_STAKE", 5),
			MinEV:            getEnvFloat("MIN_EV", 0.02),
			Slippage:         getEnvFloat("SLIPPAGE", 0.03),
			PriceFloor:       getEnvFloat("PRICE_FLOOR", 0.10),
			PriceCeiling:     getEnvFloat("PRICE_CEILING", 0.90),
			Cooldown:         getEnvDuration("COOLDOWN", 5*time.Minute),
			MaxOpenPositions: getEnvInt("MAX_OPEN_POSITIONS", 3),
		},
		Calibration: Calibration{
			Window:   getEnvDuration("CALIBRATION_WINDOW", 14*24*time.Hour),
			Horizon:  getEnvInt("CALIBRATION_HORIZON", 15),
			Interval: getEnvDuration("CALIBRATION_INTERVAL", time.Hour),
			MinRows:  getEnvInt("CALIBRATION_MIN_ROWS", 500),
			CacheTTL: getEnvDuration("CALIBRATION_CACHE_TTL", 2*time.Hour),
		},
	}
}

// overlay decodes a YAML file on top of cfg; absent keys keep their values.
func (c *Config) overlay(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("decode yaml %s: %w", path, err)
	}
	return nil
}

var validate = validator.New()

// Validate checks struct constraints and the favorable hour list.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := markethours.Parse(c.Strategy.FavorableHours, time.UTC); err != nil {
		return fmt.Errorf("invalid config: favorable_hours: %w", err)
	}
	return nil
}

// RiskLimits converts the risk section for the execution gate.
func (c *Config) RiskLimits() portfolio.RiskLimits {
	return portfolio.RiskLimits{
		Cooldown:         c.Risk.Cooldown,
		MaxOpenPositions: c.Risk.MaxOpenPositions,
		Slippage:         decimal.NewFromFloat(c.Risk.Slippage),
		PriceFloor:       decimal.NewFromFloat(c.Risk.PriceFloor),
		PriceCeiling:     decimal.NewFromFloat(c.Risk.PriceCeiling),
		MinEV:            c.Risk.MinEV,
		MinStake:         c.Risk.MinStake,
	}
}

// Sizer converts the Kelly parameters.
func (c *Config) Sizer() portfolio.Sizer {
	return portfolio.Sizer{
		Multiplier:  c.Risk.KellyMultiplier,
		MaxFraction: c.Risk.MaxFraction,
		Ceiling:     c.Risk.MaxStake,
	}
}

// HourBoost builds the favorable-hour overlay. Validate has already
// checked the hour list.
func (c *Config) HourBoost() strategy.HourBoost {
	return strategy.HourBoost{
		Hours:  markethours.MustParse(c.Strategy.FavorableHours, time.UTC),
		Offset: c.Strategy.HourBoost,
	}
}

// Ledger returns the ledger settings.
func (c *Config) Ledger() ledger.Config {
	return ledger.Config{
		StartingBankroll: decimal.NewFromFloat(c.Risk.Bankroll),
		Grace:            c.Loop.SettlementGrace,
	}
}

// CalibrationConfig returns the refresher settings.
func (c *Config) CalibrationConfig() calibration.Config {
	return calibration.Config{
		Window:   c.Calibration.Window,
		Horizon:  c.Calibration.Horizon,
		Interval: c.Calibration.Interval,
		MinRows:  c.Calibration.MinRows,
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
