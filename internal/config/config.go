package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. COURTEDGE_ODDS_TOKEN.
const EnvPrefix = "COURTEDGE"

// Config represents the complete application configuration
type Config struct {
	Odds     OddsConfig     `mapstructure:"odds"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Model    ModelConfig    `mapstructure:"model"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Cache    CacheConfig    `mapstructure:"cache"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// OddsConfig holds the odds API configuration
type OddsConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Token           string        `mapstructure:"token"`
	SportID         int           `mapstructure:"sport_id"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	RequestInterval time.Duration `mapstructure:"request_interval"`
	MaxPages        int           `mapstructure:"max_pages"`
}

// ScannerConfig holds the opportunity filter
type ScannerConfig struct {
	HoursAhead int     `mapstructure:"hours_ahead"`
	MinEV      float64 `mapstructure:"min_ev"`
	OddMin     float64 `mapstructure:"odd_min"`
	OddMax     float64 `mapstructure:"odd_max"`
}

// ModelConfig selects the probability model
type ModelConfig struct {
	Variant          string        `mapstructure:"variant"`
	PlayerStaleAfter time.Duration `mapstructure:"player_stale_after"`
}

// MonitorConfig holds scheduling and notification policy
type MonitorConfig struct {
	ScanInterval      time.Duration `mapstructure:"scan_interval"`
	MonitorInterval   time.Duration `mapstructure:"monitor_interval"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	MinHoursAhead     float64       `mapstructure:"min_hours_ahead"`
	SentExpiry        time.Duration `mapstructure:"sent_expiry"`
	Horizon           time.Duration `mapstructure:"horizon"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// StorageConfig holds the locations of persisted state
type StorageConfig struct {
	OpportunitiesDB string `mapstructure:"opportunities_db"`
	PlayersDB       string `mapstructure:"players_db"`
	SequenceFile    string `mapstructure:"sequence_file"`
	RetentionDays   int    `mapstructure:"retention_days"`
}

// CacheConfig holds the optional Redis odds cache configuration
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// HTTPConfig holds the status server configuration
type HTTPConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ScanTimeout    time.Duration `mapstructure:"scan_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Set config file
	v.SetConfigFile(path)

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options.
// Every key needs a default so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	// Odds API defaults
	v.SetDefault("odds.base_url", "https://api.b365api.com")
	v.SetDefault("odds.token", "")
	v.SetDefault("odds.sport_id", 13)
	v.SetDefault("odds.timeout", "15s")
	v.SetDefault("odds.max_retries", 3)
	v.SetDefault("odds.retry_delay", "2s")
	v.SetDefault("odds.request_interval", "500ms")
	v.SetDefault("odds.max_pages", 10)

	// Scanner defaults
	v.SetDefault("scanner.hours_ahead", 48)
	v.SetDefault("scanner.min_ev", 0.05)
	v.SetDefault("scanner.odd_min", 1.60)
	v.SetDefault("scanner.odd_max", 3.20)

	// Model defaults
	v.SetDefault("model.variant", "multifactor")
	v.SetDefault("model.player_stale_after", "168h")

	// Monitor defaults
	v.SetDefault("monitor.scan_interval", "1h")
	v.SetDefault("monitor.monitor_interval", "30m")
	v.SetDefault("monitor.retry_delay", "5m")
	v.SetDefault("monitor.heartbeat_interval", "10m")
	v.SetDefault("monitor.min_hours_ahead", 1.0)
	v.SetDefault("monitor.sent_expiry", "24h")
	v.SetDefault("monitor.horizon", "2h")

	// Telegram defaults
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.enabled", true)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Storage defaults
	v.SetDefault("storage.opportunities_db", "./data/opportunities.db")
	v.SetDefault("storage.players_db", "./data/players.db")
	v.SetDefault("storage.sequence_file", "./data/sequence.json")
	v.SetDefault("storage.retention_days", 30)

	// Cache defaults
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.ttl", "2m")

	// HTTP defaults
	v.SetDefault("http.enabled", true)
	v.SetDefault("http.addr", "127.0.0.1:8080")
	v.SetDefault("http.request_timeout", "60s")
	v.SetDefault("http.scan_timeout", "20m")
	v.SetDefault("http.allowed_origins", []string{"*"})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate odds config
	if c.Odds.BaseURL == "" {
		return fmt.Errorf("odds.base_url is required")
	}
	if c.Odds.Token == "" {
		return fmt.Errorf("odds.token is required")
	}
	if c.Odds.Timeout <= 0 {
		return fmt.Errorf("odds.timeout must be positive")
	}
	if c.Odds.MaxRetries < 1 {
		return fmt.Errorf("odds.max_retries must be at least 1")
	}
	if c.Odds.RequestInterval < 0 {
		return fmt.Errorf("odds.request_interval must not be negative")
	}

	// Validate scanner config
	if c.Scanner.HoursAhead < 1 {
		return fmt.Errorf("scanner.hours_ahead must be at least 1")
	}
	if c.Scanner.OddMin <= 1.0 {
		return fmt.Errorf("scanner.odd_min must be greater than 1.0")
	}
	if c.Scanner.OddMax < c.Scanner.OddMin {
		return fmt.Errorf("scanner.odd_max must not be below scanner.odd_min")
	}

	// Validate model config
	validVariants := map[string]bool{"multifactor": true, "market": true}
	if !validVariants[c.Model.Variant] {
		return fmt.Errorf("model.variant must be one of: multifactor, market")
	}

	// Validate monitor config
	if c.Monitor.ScanInterval < 1*time.Minute {
		return fmt.Errorf("monitor.scan_interval must be at least 1 minute")
	}
	if c.Monitor.MonitorInterval < 1*time.Minute {
		return fmt.Errorf("monitor.monitor_interval must be at least 1 minute")
	}
	if c.Monitor.RetryDelay <= 0 {
		return fmt.Errorf("monitor.retry_delay must be positive")
	}
	if c.Monitor.MinHoursAhead < 0 {
		return fmt.Errorf("monitor.min_hours_ahead must not be negative")
	}
	if c.Monitor.SentExpiry <= 0 {
		return fmt.Errorf("monitor.sent_expiry must be positive")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate storage config
	if c.Storage.OpportunitiesDB == "" {
		return fmt.Errorf("storage.opportunities_db is required")
	}
	if c.Storage.PlayersDB == "" {
		return fmt.Errorf("storage.players_db is required")
	}
	if c.Storage.SequenceFile == "" {
		return fmt.Errorf("storage.sequence_file is required")
	}
	if c.Storage.RetentionDays < 1 {
		return fmt.Errorf("storage.retention_days must be at least 1")
	}

	// Validate cache config
	if c.Cache.Enabled && c.Cache.Addr == "" {
		return fmt.Errorf("cache.addr is required when cache is enabled")
	}

	// Validate HTTP config
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required when http is enabled")
	}
	if c.HTTP.Enabled && c.HTTP.ScanTimeout <= 0 {
		return fmt.Errorf("http.scan_timeout must be positive when http is enabled")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
