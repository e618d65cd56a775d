// Package config defines all configuration for the dispatcher.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// infrastructure URLs overridable via environment variables: REDIS_URL,
// MONGO_URL (or DATABASE_URL), and HORUS_*-prefixed keys.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Captain    CaptainConfig    `mapstructure:"captain"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Mongo      MongoConfig      `mapstructure:"mongo"`
	Exchanges  ExchangesConfig  `mapstructure:"exchanges"`
	Eye        EyeConfig        `mapstructure:"eye"`
	Fleet      FleetConfig      `mapstructure:"fleet"`
	SmartEntry SmartEntryConfig `mapstructure:"smart_entry"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// CaptainConfig identifies the lead account. ID keys the captain_settings
// document and the captain's own record in the clients collection.
type CaptainConfig struct {
	ID string `mapstructure:"id"`
}

// RedisConfig locates the pub/sub bus.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// MongoConfig locates the client registry.
type MongoConfig struct {
	URL      string `mapstructure:"url"`
	Database string `mapstructure:"database"`
}

// ExchangesConfig holds per-exchange endpoints. Base URLs are configurable
// so tests can point the gateway and the order-book fetchers at a local
// server; production values are the public endpoints.
type ExchangesConfig struct {
	OKXBaseURL     string `mapstructure:"okx_base_url"`
	OKXWSURL       string `mapstructure:"okx_ws_url"`
	BinanceBaseURL string `mapstructure:"binance_base_url"`
	BybitBaseURL   string `mapstructure:"bybit_base_url"`
}

// EyeConfig tunes the captain observer.
//
//   - ReconnectBackoff: minimum delay before a reconnect attempt (3s floor).
//   - ReadTimeout: reconnect if no frame arrives within this window.
type EyeConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
}

// FleetConfig tunes the executor.
//
//   - MaxConcurrent: cap on in-flight exchange calls per packet, to stay
//     clear of exchange-side rate limits.
//   - OrderTimeout: per order-placement HTTP call.
type FleetConfig struct {
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	OrderTimeout  time.Duration `mapstructure:"order_timeout"`
}

// SmartEntryConfig tunes the wave planner.
//
//   - BookDepth: ask-ladder depth requested from each exchange.
//   - BookTimeout: per order-book HTTP fetch.
//   - WaveDelay: pause between wave publishes for one exchange; 0 restores
//     the legacy behavior of all waves racing to the exchange at once.
type SmartEntryConfig struct {
	BookDepth   int           `mapstructure:"book_depth"`
	BookTimeout time.Duration `mapstructure:"book_timeout"`
	WaveDelay   time.Duration `mapstructure:"wave_delay"`
}

// StoreConfig sets where execution and wave logs are written (JSON lines).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("HORUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Infrastructure URLs come from the environment when set.
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if url := os.Getenv("MONGO_URL"); url != "" {
		cfg.Mongo.URL = url
	} else if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Mongo.URL = url
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("captain.id", "master")
	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("mongo.url", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "horus")
	v.SetDefault("exchanges.okx_base_url", "https://www.okx.com")
	v.SetDefault("exchanges.okx_ws_url", "wss://ws.okx.com:8443/ws/v5/private")
	v.SetDefault("exchanges.binance_base_url", "https://api.binance.com")
	v.SetDefault("exchanges.bybit_base_url", "https://api.bybit.com")
	v.SetDefault("eye.enabled", true)
	v.SetDefault("eye.reconnect_backoff", 3*time.Second)
	v.SetDefault("eye.read_timeout", 30*time.Second)
	v.SetDefault("fleet.max_concurrent", 16)
	v.SetDefault("fleet.order_timeout", 10*time.Second)
	v.SetDefault("smart_entry.book_depth", 40)
	v.SetDefault("smart_entry.book_timeout", 5*time.Second)
	v.SetDefault("smart_entry.wave_delay", 750*time.Millisecond)
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Captain.ID == "" {
		return fmt.Errorf("captain.id is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required (set REDIS_URL)")
	}
	if c.Mongo.URL == "" {
		return fmt.Errorf("mongo.url is required (set MONGO_URL or DATABASE_URL)")
	}
	if c.Exchanges.OKXBaseURL == "" || c.Exchanges.BinanceBaseURL == "" || c.Exchanges.BybitBaseURL == "" {
		return fmt.Errorf("all exchange base URLs are required")
	}
	if c.Eye.Enabled && c.Exchanges.OKXWSURL == "" {
		return fmt.Errorf("exchanges.okx_ws_url is required when the eye is enabled")
	}
	if c.Eye.ReconnectBackoff < 3*time.Second {
		return fmt.Errorf("eye.reconnect_backoff must be at least 3s")
	}
	if c.Fleet.MaxConcurrent <= 0 {
		return fmt.Errorf("fleet.max_concurrent must be > 0")
	}
	if c.SmartEntry.BookDepth <= 0 {
		return fmt.Errorf("smart_entry.book_depth must be > 0")
	}
	if c.SmartEntry.WaveDelay < 0 {
		return fmt.Errorf("smart_entry.wave_delay must be >= 0")
	}
	return nil
}
