package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the trading backend.
type Config struct {
	Server    Server    `yaml:"server"`
	Alpaca    Alpaca    `yaml:"alpaca"`
	Logging   Logging   `yaml:"logging"`
	Trading   Trading   `yaml:"trading"`
	Scanner   Scanner   `yaml:"scanner"`
	Hub       Hub       `yaml:"hub"`
	Bars      Bars      `yaml:"bars"`
	Database  Database  `yaml:"database"`
	AutoTrade AutoTrade `yaml:"autotrade"`
}

// Server holds the HTTP listener configuration.
type Server struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	GinMode string `yaml:"gin_mode"`
	// LogAll logs every request; otherwise only responses >= 400.
	LogAll bool `yaml:"log_all"`
}

// Alpaca holds credentials, endpoints and the client-side rate limit.
type Alpaca struct {
	APIKey          string  `yaml:"api_key"`
	APISecret       string  `yaml:"api_secret"`
	BaseURL         string  `yaml:"base_url"`
	DataURL         string  `yaml:"data_url"`
	Feed            string  `yaml:"feed"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	Burst           int     `yaml:"burst"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Bracket placement modes.
const (
	BracketNative   = "native"
	BracketEmulated = "emulated"
)

// Trading holds order limits and swing-trade placement behaviour.
type Trading struct {
	// Order value (qty * price) bounds. Zero disables the bound.
	MinOrderValue float64 `yaml:"min_order_value"`
	MaxOrderValue float64 `yaml:"max_order_value"`
	TimeInForce   string  `yaml:"time_in_force"`
	// BracketMode is "native" (fall back to emulated when the venue
	// refuses) or "emulated" (always place three orders).
	BracketMode        string        `yaml:"bracket_mode"`
	LegConfirmAttempts int           `yaml:"leg_confirm_attempts"`
	LegConfirmDelay    time.Duration `yaml:"leg_confirm_delay"`
}

// Scanner holds the screening rule and position sizing parameters.
type Scanner struct {
	Lookback       int      `yaml:"lookback"`
	Timeframe      string   `yaml:"timeframe"`
	Workers        int      `yaml:"workers"`
	EMAFast        int      `yaml:"ema_fast"`
	EMASlow        int      `yaml:"ema_slow"`
	RSIPeriod      int      `yaml:"rsi_period"`
	RSILow         float64  `yaml:"rsi_low"`
	RSIHigh        float64  `yaml:"rsi_high"`
	ATRPeriod      int      `yaml:"atr_period"`
	ATRMultiplier  float64  `yaml:"atr_multiplier"`
	RewardRisk     float64  `yaml:"reward_risk"`
	RiskPerTrade   float64  `yaml:"risk_per_trade"`
	RiskAmount     float64  `yaml:"risk_amount"`
	DefaultTickers []string `yaml:"default_tickers"`
}

// Hub controls quote polling and client delivery.
type Hub struct {
	QuoteInterval time.Duration `yaml:"quote_interval"`
	QuoteTimeout  time.Duration `yaml:"quote_timeout"`
	SendBuffer    int           `yaml:"send_buffer"`
}

// Bars caps the number of bars returned per timeframe unit.
type Bars struct {
	MaxMinute int `yaml:"max_minute"`
	MaxHour   int `yaml:"max_hour"`
	MaxDay    int `yaml:"max_day"`
}

// Database configures the optional Postgres watchlist store.
type Database struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

// Auto-trade guard backends.
const (
	GuardMemory = "memory"
	GuardRedis  = "redis"
)

// AutoTrade configures swing trades triggered by quote ticks.
type AutoTrade struct {
	Enabled bool   `yaml:"enabled"`
	Guard   string `yaml:"guard"`
	Redis   Redis  `yaml:"redis"`
}

// Redis connection settings for the distributed auto-trade guard.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Defaults returns a Config populated with the built-in defaults.
func Defaults() *Config {
	return &Config{
		Server: Server{
			Host:    "0.0.0.0",
			Port:    8080,
			GinMode: "debug",
		},
		Alpaca: Alpaca{
			BaseURL:         "https://paper-api.alpaca.markets",
			DataURL:         "https://data.alpaca.markets",
			Feed:            "iex",
			RateLimitPerSec: 3,
			Burst:           5,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Trading: Trading{
			MinOrderValue:      1.0,
			MaxOrderValue:      100000.0,
			TimeInForce:        "day",
			BracketMode:        BracketNative,
			LegConfirmAttempts: 5,
			LegConfirmDelay:    200 * time.Millisecond,
		},
		Scanner: Scanner{
			Lookback:       120,
			Timeframe:      "1D",
			Workers:        4,
			EMAFast:        20,
			EMASlow:        50,
			RSIPeriod:      14,
			RSILow:         40,
			RSIHigh:        65,
			ATRPeriod:      14,
			ATRMultiplier:  1.5,
			RewardRisk:     2.0,
			RiskPerTrade:   0.01,
			DefaultTickers: []string{"AAPL", "MSFT", "AMZN", "NVDA", "META"},
		},
		Hub: Hub{
			QuoteInterval: 5 * time.Second,
			QuoteTimeout:  3 * time.Second,
			SendBuffer:    64,
		},
		Bars: Bars{
			MaxMinute: 390,
			MaxHour:   400,
			MaxDay:    252,
		},
		Database: Database{
			Host:    "localhost",
			Port:    "5432",
			User:    "trader",
			Name:    "trading_db",
			SSLMode: "disable",
		},
		AutoTrade: AutoTrade{
			Guard: GuardMemory,
		},
	}
}

// Load builds a Config from the defaults, the optional YAML file at path and
// environment variable overrides, in that order. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	var errs []error
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	setInt("PORT", &cfg.Server.Port)
	setString("GIN_MODE", &cfg.Server.GinMode)
	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)

	setString("ALPACA_API_KEY", &cfg.Alpaca.APIKey)
	setString("ALPACA_SECRET_KEY", &cfg.Alpaca.APISecret)
	setString("ALPACA_BASE_URL", &cfg.Alpaca.BaseURL)
	setString("ALPACA_DATA_URL", &cfg.Alpaca.DataURL)
	setString("ALPACA_FEED", &cfg.Alpaca.Feed)
	// Standard Alpaca env vars win over the short names.
	setString("APCA_API_KEY_ID", &cfg.Alpaca.APIKey)
	setString("APCA_API_SECRET_KEY", &cfg.Alpaca.APISecret)

	setFloat("MIN_ORDER_SIZE", &cfg.Trading.MinOrderValue)
	setFloat("MAX_ORDER_SIZE", &cfg.Trading.MaxOrderValue)
	setString("BRACKET_MODE", &cfg.Trading.BracketMode)

	setInt("MAX_BARS_MIN", &cfg.Bars.MaxMinute)
	setInt("MAX_BARS_HOUR", &cfg.Bars.MaxHour)
	setInt("MAX_BARS_DAY", &cfg.Bars.MaxDay)

	if v := os.Getenv("SWING_TICKERS"); v != "" {
		cfg.Scanner.DefaultTickers = strings.Split(v, ",")
	}

	setBool("DB_ENABLED", &cfg.Database.Enabled)
	setString("DB_HOST", &cfg.Database.Host)
	setString("DB_PORT", &cfg.Database.Port)
	setString("DB_USER", &cfg.Database.User)
	setString("DB_PASSWORD", &cfg.Database.Password)
	setString("DB_NAME", &cfg.Database.Name)
	setString("DB_SSLMODE", &cfg.Database.SSLMode)

	setBool("SWING_AUTOTRADE_ENABLED", &cfg.AutoTrade.Enabled)
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.AutoTrade.Redis.Addr = v
		cfg.AutoTrade.Guard = GuardRedis
	}
	setString("REDIS_PASSWORD", &cfg.AutoTrade.Redis.Password)

	return errors.Join(errs...)
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
		errs = append(errs, errors.New("alpaca api key and secret are required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server port %d out of range", c.Server.Port))
	}
	if c.Trading.MaxOrderValue > 0 && c.Trading.MinOrderValue > c.Trading.MaxOrderValue {
		errs = append(errs, fmt.Errorf("min order value %.2f exceeds max %.2f",
			c.Trading.MinOrderValue, c.Trading.MaxOrderValue))
	}
	switch c.Trading.BracketMode {
	case BracketNative, BracketEmulated:
	default:
		errs = append(errs, fmt.Errorf("unknown bracket mode %q", c.Trading.BracketMode))
	}
	switch c.Trading.TimeInForce {
	case "day", "gtc":
	default:
		errs = append(errs, fmt.Errorf("unsupported time in force %q", c.Trading.TimeInForce))
	}
	if c.Hub.QuoteInterval <= 0 {
		errs = append(errs, errors.New("hub quote interval must be positive"))
	}
	if c.Scanner.Workers <= 0 {
		errs = append(errs, errors.New("scanner workers must be positive"))
	}
	if c.Scanner.EMAFast <= 0 || c.Scanner.EMAFast >= c.Scanner.EMASlow {
		errs = append(errs, fmt.Errorf("ema periods must satisfy 0 < fast < slow, got %d/%d",
			c.Scanner.EMAFast, c.Scanner.EMASlow))
	}
	if c.Scanner.RSILow >= c.Scanner.RSIHigh {
		errs = append(errs, fmt.Errorf("rsi band [%.0f, %.0f] is empty", c.Scanner.RSILow, c.Scanner.RSIHigh))
	}
	if c.Scanner.ATRMultiplier <= 0 || c.Scanner.RewardRisk <= 0 {
		errs = append(errs, errors.New("atr multiplier and reward/risk must be positive"))
	}
	if c.Scanner.RiskAmount <= 0 && (c.Scanner.RiskPerTrade <= 0 || c.Scanner.RiskPerTrade >= 1) {
		errs = append(errs, fmt.Errorf("risk per trade %.4f must be in (0, 1)", c.Scanner.RiskPerTrade))
	}
	switch c.AutoTrade.Guard {
	case GuardMemory:
	case GuardRedis:
		if c.AutoTrade.Redis.Addr == "" {
			errs = append(errs, errors.New("redis guard requires autotrade.redis.addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown autotrade guard %q", c.AutoTrade.Guard))
	}

	return errors.Join(errs...)
}

// Addr returns the listen address for the HTTP server.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
