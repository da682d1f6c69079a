package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"coinpeek/internal/logging"
)

// Config materialises application configuration. It is read once at startup
// and treated as immutable for the process lifetime.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Retention RetentionConfig `mapstructure:"retention"`
	Freshness FreshnessConfig `mapstructure:"freshness"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Export    ExportConfig    `mapstructure:"export"`
	Symbols   []string        `mapstructure:"symbols"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity. An empty DSN selects
// the in-memory store (data does not survive restarts).
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// FeedConfig covers the exchange REST endpoint.
type FeedConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	CandleInterval string        `mapstructure:"candle_interval"`
	CandleLimit    int           `mapstructure:"candle_limit"`
}

// SchedulerConfig governs polling cadence.
type SchedulerConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// RetentionConfig bounds how much history the store keeps.
type RetentionConfig struct {
	PriceHorizon  time.Duration `mapstructure:"price_horizon"`
	CandleHorizon time.Duration `mapstructure:"candle_horizon"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// FreshnessConfig tunes connectivity hysteresis.
type FreshnessConfig struct {
	RecoverSuccesses int `mapstructure:"recover_successes"`
	FailThreshold    int `mapstructure:"fail_threshold"`
}

// AlertingConfig defines price-threshold rules and delivery.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Rules    []RuleConfig   `mapstructure:"rules"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// RuleConfig is a single startup-provisioned alert rule.
type RuleConfig struct {
	Symbol     string  `mapstructure:"symbol"`
	Comparator string  `mapstructure:"comparator"`
	Threshold  float64 `mapstructure:"threshold"`
}

// TelegramConfig describes the optional Telegram delivery channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// CacheConfig wires the optional redis mirror of the published view.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COINPEEK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "coinpeek")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("symbols", []string{
		"BTCUSDT", "ETHUSDT", "BNBUSDT", "ADAUSDT", "SOLUSDT",
		"DOTUSDT", "DOGEUSDT", "AVAXUSDT", "LTCUSDT", "LINKUSDT",
	})

	v.SetDefault("feed.base_url", "https://api.binance.com")
	v.SetDefault("feed.request_timeout", "10s")
	v.SetDefault("feed.user_agent", "coinpeek/1.0")
	v.SetDefault("feed.candle_interval", "5m")
	v.SetDefault("feed.candle_limit", 50)

	v.SetDefault("scheduler.refresh_interval", "5s")
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("retention.price_horizon", "720h")
	v.SetDefault("retention.candle_horizon", "2160h")
	v.SetDefault("retention.sweep_interval", "1h")

	v.SetDefault("freshness.recover_successes", 2)
	v.SetDefault("freshness.fail_threshold", 3)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "1m")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c *Config) normalise() {
	for i, s := range c.Symbols {
		c.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	for i, r := range c.Alerting.Rules {
		c.Alerting.Rules[i].Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
		c.Alerting.Rules[i].Comparator = strings.ToLower(strings.TrimSpace(r.Comparator))
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must not be empty")
	}
	for _, s := range c.Symbols {
		if s == "" {
			return fmt.Errorf("symbols must not contain empty entries")
		}
	}
	if c.Scheduler.RefreshInterval <= 0 {
		return fmt.Errorf("scheduler.refresh_interval must be greater than zero")
	}
	if c.Retention.PriceHorizon <= 0 || c.Retention.CandleHorizon <= 0 {
		return fmt.Errorf("retention horizons must be greater than zero")
	}
	if c.Retention.SweepInterval <= 0 {
		return fmt.Errorf("retention.sweep_interval must be greater than zero")
	}
	if c.Freshness.RecoverSuccesses < 1 {
		return fmt.Errorf("freshness.recover_successes must be at least 1")
	}
	if c.Freshness.FailThreshold < 1 {
		return fmt.Errorf("freshness.fail_threshold must be at least 1")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Feed.CandleLimit <= 0 {
		return fmt.Errorf("feed.candle_limit must be greater than zero")
	}
	for _, r := range c.Alerting.Rules {
		if r.Symbol == "" {
			return fmt.Errorf("alerting rule missing symbol")
		}
		if r.Comparator != "above" && r.Comparator != "below" {
			return fmt.Errorf("alerting rule for %s: comparator must be above or below", r.Symbol)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required when telegram is enabled")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required when telegram is enabled")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
