// Package config loads process configuration from the environment, with a
// .env file honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	BinanceConfig  BinanceConfig
	TradingConfig  TradingConfig
	DatabaseConfig DatabaseConfig
	RedisConfig    RedisConfig
	ServerConfig   ServerConfig
	AdvisorConfig  AdvisorConfig
	LoggingConfig  LoggingConfig
}

// BinanceConfig holds exchange credentials and endpoint selection.
type BinanceConfig struct {
	APIKey    string
	SecretKey string
	BaseURL   string
	TestNet   bool
}

// TradingConfig holds the symbol, cadence and strategy parameters.
type TradingConfig struct {
	Symbol     string
	BaseAsset  string
	QuoteAsset string
	Interval   string

	CandleLimit   int
	PollInterval  time.Duration
	CooldownBase  time.Duration
	DustThreshold float64

	FastWindow int
	SlowWindow int
	RSIPeriod  int

	RSILower         float64
	RSIUpper         float64
	VolatilityFactor float64
	StopLossPct      float64
	GradientCap      int
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// ServerConfig holds the read-only status API settings.
type ServerConfig struct {
	Enabled        bool
	Port           int
	ProductionMode bool
}

// AdvisorConfig holds the optional advisory LLM settings.
type AdvisorConfig struct {
	Enabled bool
	APIKey  string
	Model   string
	BaseURL string
}

type LoggingConfig struct {
	Level   string
	Console bool
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present; real environment
// variables win over file entries.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		BinanceConfig: BinanceConfig{
			APIKey:    os.Getenv("BINANCE_API_KEY"),
			SecretKey: os.Getenv("BINANCE_SECRET_KEY"),
			BaseURL:   getEnvOrDefault("BINANCE_BASE_URL", "https://api.binance.com"),
			TestNet:   getEnvBoolOrDefault("BINANCE_TESTNET", false),
		},
		TradingConfig: TradingConfig{
			Symbol:           getEnvOrDefault("TRADING_SYMBOL", "SOLUSDT"),
			BaseAsset:        getEnvOrDefault("TRADING_BASE_ASSET", "SOL"),
			QuoteAsset:       getEnvOrDefault("TRADING_QUOTE_ASSET", "USDT"),
			Interval:         getEnvOrDefault("TRADING_INTERVAL", "1h"),
			CandleLimit:      getEnvIntOrDefault("TRADING_CANDLE_LIMIT", 100),
			PollInterval:     getEnvDurationOrDefault("TRADING_POLL_INTERVAL", 60*time.Second),
			CooldownBase:     getEnvDurationOrDefault("TRADING_COOLDOWN", 60*time.Second),
			DustThreshold:    getEnvFloatOrDefault("TRADING_DUST_THRESHOLD", 0.001),
			FastWindow:       getEnvIntOrDefault("TRADING_FAST_WINDOW", 7),
			SlowWindow:       getEnvIntOrDefault("TRADING_SLOW_WINDOW", 40),
			RSIPeriod:        getEnvIntOrDefault("TRADING_RSI_PERIOD", 5),
			RSILower:         getEnvFloatOrDefault("TRADING_RSI_LOWER", 30),
			RSIUpper:         getEnvFloatOrDefault("TRADING_RSI_UPPER", 70),
			VolatilityFactor: getEnvFloatOrDefault("TRADING_VOLATILITY_FACTOR", 0.7),
			StopLossPct:      getEnvFloatOrDefault("TRADING_STOP_LOSS_PCT", 0.05),
			GradientCap:      getEnvIntOrDefault("TRADING_GRADIENT_CAP", 10),
		},
		DatabaseConfig: DatabaseConfig{
			Enabled:  getEnvBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getEnvIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: os.Getenv("DB_PASSWORD"),
			Database: getEnvOrDefault("DB_NAME", "trading_bot"),
			SSLMode:  getEnvOrDefault("DB_SSLMODE", "disable"),
		},
		RedisConfig: RedisConfig{
			Enabled:  getEnvBoolOrDefault("REDIS_ENABLED", false),
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvIntOrDefault("REDIS_DB", 0),
		},
		ServerConfig: ServerConfig{
			Enabled:        getEnvBoolOrDefault("API_ENABLED", true),
			Port:           getEnvIntOrDefault("API_PORT", 8090),
			ProductionMode: getEnvBoolOrDefault("API_PRODUCTION", true),
		},
		AdvisorConfig: AdvisorConfig{
			Enabled: getEnvBoolOrDefault("ADVISOR_ENABLED", false),
			APIKey:  os.Getenv("ADVISOR_API_KEY"),
			Model:   getEnvOrDefault("ADVISOR_MODEL", "claude-sonnet-4-20250514"),
			BaseURL: getEnvOrDefault("ADVISOR_BASE_URL", "https://api.anthropic.com/v1/messages"),
		},
		LoggingConfig: LoggingConfig{
			Level:   getEnvOrDefault("LOG_LEVEL", "info"),
			Console: getEnvBoolOrDefault("LOG_CONSOLE", true),
		},
	}

	if cfg.BinanceConfig.TestNet {
		cfg.BinanceConfig.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", "https://testnet.binance.vision")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot trade at all.
func (c *Config) Validate() error {
	if c.BinanceConfig.APIKey == "" || c.BinanceConfig.SecretKey == "" {
		return fmt.Errorf("BINANCE_API_KEY and BINANCE_SECRET_KEY are required")
	}
	if c.TradingConfig.Symbol == "" {
		return fmt.Errorf("TRADING_SYMBOL must not be empty")
	}
	if c.TradingConfig.FastWindow >= c.TradingConfig.SlowWindow {
		return fmt.Errorf("fast window %d must be smaller than slow window %d",
			c.TradingConfig.FastWindow, c.TradingConfig.SlowWindow)
	}
	if c.TradingConfig.CandleLimit < c.TradingConfig.SlowWindow+2 {
		return fmt.Errorf("candle limit %d too small for slow window %d",
			c.TradingConfig.CandleLimit, c.TradingConfig.SlowWindow)
	}
	if c.TradingConfig.StopLossPct <= 0 || c.TradingConfig.StopLossPct >= 1 {
		return fmt.Errorf("stop loss pct %.4f out of (0, 1)", c.TradingConfig.StopLossPct)
	}
	if c.AdvisorConfig.Enabled && c.AdvisorConfig.APIKey == "" {
		return fmt.Errorf("ADVISOR_API_KEY required when the advisor is enabled")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
