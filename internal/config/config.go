package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"finpath-insight/internal/logging"
	"finpath-insight/internal/market"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Freshness FreshnessConfig `mapstructure:"freshness"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Fallback  FallbackConfig  `mapstructure:"fallback"`
	Server    ServerConfig    `mapstructure:"server"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects and tunes the cache store backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig points the rate limiter at a shared Redis. An empty address
// keeps the window state in process.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RateLimitConfig holds the per-tier sliding window quotas.
type RateLimitConfig struct {
	Window          time.Duration `mapstructure:"window"`
	Tiers           TierQuotas    `mapstructure:"tiers"`
	ExemptCacheHits bool          `mapstructure:"exempt_cache_hits"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
}

// TierQuotas is the request allowance per window for each tier.
type TierQuotas struct {
	Free int `mapstructure:"free"`
	Pro  int `mapstructure:"pro"`
}

// FreshnessConfig is the maximum cache age per data type.
type FreshnessConfig struct {
	StockPrice   time.Duration `mapstructure:"stock_price"`
	Fundamentals time.Duration `mapstructure:"fundamentals"`
	History      time.Duration `mapstructure:"history"`
	News         time.Duration `mapstructure:"news"`
	Indices      time.Duration `mapstructure:"indices"`
}

// TTLs returns the configured maximum ages keyed by data type.
func (f FreshnessConfig) TTLs() map[market.DataType]time.Duration {
	return map[market.DataType]time.Duration{
		market.StockPrice:   f.StockPrice,
		market.Fundamentals: f.Fundamentals,
		market.History:      f.History,
		market.News:         f.News,
		market.Indices:      f.Indices,
	}
}

// ProviderConfig covers connectivity to one upstream market data API.
type ProviderConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	BaseURL           string        `mapstructure:"base_url"`
	APIKey            string        `mapstructure:"api_key"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RetryCount        int           `mapstructure:"retry_count"`
	RetryWait         time.Duration `mapstructure:"retry_wait"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	UserAgent         string        `mapstructure:"user_agent"`
}

// ProvidersConfig lists every upstream provider.
type ProvidersConfig struct {
	DefaultExchange string         `mapstructure:"default_exchange"`
	EODHD           ProviderConfig `mapstructure:"eodhd"`
	Yahoo           ProviderConfig `mapstructure:"yahoo"`
	IndianAPI       ProviderConfig `mapstructure:"indianapi"`
	AlphaVantage    ProviderConfig `mapstructure:"alphavantage"`
	NewsAPI         ProviderConfig `mapstructure:"newsapi"`
	FMP             ProviderConfig `mapstructure:"fmp"`
}

// ByName maps provider names to their settings.
func (p ProvidersConfig) ByName() map[string]ProviderConfig {
	return map[string]ProviderConfig{
		"eodhd":        p.EODHD,
		"yahoo":        p.Yahoo,
		"indianapi":    p.IndianAPI,
		"alphavantage": p.AlphaVantage,
		"newsapi":      p.NewsAPI,
		"fmp":          p.FMP,
	}
}

// FallbackConfig is the provider priority list per data type.
type FallbackConfig struct {
	StockPrice   []string `mapstructure:"stock_price"`
	Fundamentals []string `mapstructure:"fundamentals"`
	History      []string `mapstructure:"history"`
	News         []string `mapstructure:"news"`
	Indices      []string `mapstructure:"indices"`
}

// Orders returns the provider priority lists keyed by data type.
func (f FallbackConfig) Orders() map[market.DataType][]string {
	return map[market.DataType][]string{
		market.StockPrice:   f.StockPrice,
		market.Fundamentals: f.Fundamentals,
		market.History:      f.History,
		market.News:         f.News,
		market.Indices:      f.Indices,
	}
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// RefreshConfig governs the background watchlist warm-up.
type RefreshConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	AlignToBucket bool          `mapstructure:"align_to_bucket"`
	StartupDelay  time.Duration `mapstructure:"startup_delay"`
	Symbols       []string      `mapstructure:"symbols"`
	Indices       []string      `mapstructure:"indices"`
	Workers       int           `mapstructure:"workers"`
}

// AlertingConfig defines big-move alert thresholds and routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	ThresholdPct float64        `mapstructure:"threshold_pct"`
	Cooldown     time.Duration  `mapstructure:"cooldown"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram alert parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("FINPATH")
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
	v.SetDefault("app.name", "finpath")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("database.driver", DriverMemory)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ratelimit.window", "1h")
	v.SetDefault("ratelimit.tiers.free", 20)
	v.SetDefault("ratelimit.tiers.pro", 100)
	v.SetDefault("ratelimit.exempt_cache_hits", false)
	v.SetDefault("ratelimit.key_prefix", "finpath:ratelimit")

	v.SetDefault("freshness.stock_price", "60s")
	v.SetDefault("freshness.indices", "60s")
	v.SetDefault("freshness.news", "300s")
	v.SetDefault("freshness.history", "3600s")
	v.SetDefault("freshness.fundamentals", "86400s")

	v.SetDefault("providers.default_exchange", "NSE")
	setProviderDefaults(v, "eodhd", "https://eodhd.com/api", 5)
	setProviderDefaults(v, "yahoo", "https://query1.finance.yahoo.com", 2)
	setProviderDefaults(v, "indianapi", "https://stock.indianapi.in", 2)
	setProviderDefaults(v, "alphavantage", "https://www.alphavantage.co", 1)
	setProviderDefaults(v, "newsapi", "https://newsapi.org/v2", 1)
	setProviderDefaults(v, "fmp", "https://financialmodelingprep.com/api/v3", 2)

	v.SetDefault("fallback.stock_price", []string{"eodhd", "yahoo", "indianapi", "alphavantage"})
	v.SetDefault("fallback.fundamentals", []string{"yahoo", "eodhd", "fmp", "indianapi", "alphavantage"})
	v.SetDefault("fallback.history", []string{"eodhd", "yahoo", "fmp", "alphavantage"})
	v.SetDefault("fallback.news", []string{"eodhd", "newsapi", "indianapi", "alphavantage"})
	v.SetDefault("fallback.indices", []string{"yahoo", "eodhd"})

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("refresh.enabled", false)
	v.SetDefault("refresh.interval", "5m")
	v.SetDefault("refresh.align_to_bucket", true)
	v.SetDefault("refresh.startup_delay", "0s")
	v.SetDefault("refresh.symbols", []string{
		"RELIANCE.NSE", "TCS.NSE", "HDFCBANK.NSE", "INFY.NSE", "ICICIBANK.NSE",
		"HINDUNILVR.NSE", "ITC.NSE", "SBIN.NSE", "BHARTIARTL.NSE", "KOTAKBANK.NSE",
	})
	v.SetDefault("refresh.indices", []string{"NIFTY 50", "SENSEX", "NIFTY BANK"})
	v.SetDefault("refresh.workers", 4)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", 3.0)
	v.SetDefault("alerting.cooldown", "1h")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
}

func setProviderDefaults(v *viper.Viper, name, baseURL string, rps float64) {
	prefix := "providers." + name + "."
	v.SetDefault(prefix+"enabled", true)
	v.SetDefault(prefix+"base_url", baseURL)
	v.SetDefault(prefix+"api_key", "")
	v.SetDefault(prefix+"timeout", "10s")
	v.SetDefault(prefix+"retry_count", 2)
	v.SetDefault(prefix+"retry_wait", "500ms")
	v.SetDefault(prefix+"requests_per_second", rps)
	v.SetDefault(prefix+"user_agent", "finpath/1.0")
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver %q is not one of postgres, sqlite, memory", c.Database.Driver)
	}

	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit.window must be greater than zero")
	}
	if c.RateLimit.Tiers.Free <= 0 || c.RateLimit.Tiers.Pro <= 0 {
		return fmt.Errorf("ratelimit.tiers quotas must be greater than zero")
	}

	for dt, ttl := range c.Freshness.TTLs() {
		if ttl < 0 {
			return fmt.Errorf("freshness.%s cannot be negative", dt)
		}
	}

	known := c.Providers.ByName()
	for dt, order := range c.Fallback.Orders() {
		if len(order) == 0 {
			return fmt.Errorf("fallback.%s must list at least one provider", dt)
		}
		for _, name := range order {
			if _, ok := known[name]; !ok {
				return fmt.Errorf("fallback.%s: unknown provider %q", dt, name)
			}
		}
	}
	for name, p := range known {
		if p.Enabled && p.BaseURL == "" {
			return fmt.Errorf("providers.%s.base_url is required when enabled", name)
		}
		if p.RetryCount < 0 {
			return fmt.Errorf("providers.%s.retry_count cannot be negative", name)
		}
	}

	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Refresh.Enabled && c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be greater than zero")
	}
	if c.Refresh.Workers <= 0 {
		return fmt.Errorf("refresh.workers must be greater than zero")
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
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
