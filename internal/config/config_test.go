package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `{
  "odds": {
    "base_url": "https://api.b365api.com",
    "token": "odds_token",
    "request_interval": "1s"
  },
  "scanner": {
    "hours_ahead": 36,
    "min_ev": 0.04,
    "odd_min": 1.7,
    "odd_max": 3.0
  },
  "monitor": {
    "scan_interval": "30m"
  },
  "telegram": {
    "bot_token": "test_token",
    "chat_id": "@courtedge_alerts",
    "enabled": true
  },
  "storage": {
    "opportunities_db": "./data/test-opps.db"
  },
  "logging": {
    "level": "info",
    "format": "json"
  }
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Verify values from the file
	if cfg.Odds.Token != "odds_token" {
		t.Errorf("Unexpected token: %s", cfg.Odds.Token)
	}
	if cfg.Odds.RequestInterval != time.Second {
		t.Errorf("Unexpected request interval: %v", cfg.Odds.RequestInterval)
	}
	if cfg.Scanner.HoursAhead != 36 || cfg.Scanner.MinEV != 0.04 {
		t.Errorf("Unexpected scanner config: %+v", cfg.Scanner)
	}
	if cfg.Monitor.ScanInterval != 30*time.Minute {
		t.Errorf("Unexpected scan interval: %v", cfg.Monitor.ScanInterval)
	}
	if cfg.Telegram.ChatID != "@courtedge_alerts" {
		t.Errorf("Unexpected chat id: %s", cfg.Telegram.ChatID)
	}

	// Verify defaults
	if cfg.Odds.SportID != 13 {
		t.Errorf("Expected tennis sport id 13, got %d", cfg.Odds.SportID)
	}
	if cfg.Odds.Timeout != 15*time.Second {
		t.Errorf("Expected 15s odds timeout, got %v", cfg.Odds.Timeout)
	}
	if cfg.Monitor.MonitorInterval != 30*time.Minute {
		t.Errorf("Expected 30m monitor interval, got %v", cfg.Monitor.MonitorInterval)
	}
	if cfg.HTTP.ScanTimeout != 20*time.Minute {
		t.Errorf("Expected 20m scan timeout, got %v", cfg.HTTP.ScanTimeout)
	}
	if cfg.Monitor.RetryDelay != 5*time.Minute {
		t.Errorf("Expected 5m retry delay, got %v", cfg.Monitor.RetryDelay)
	}
	if cfg.Monitor.SentExpiry != 24*time.Hour {
		t.Errorf("Expected 24h sent expiry, got %v", cfg.Monitor.SentExpiry)
	}
	if cfg.Model.Variant != "multifactor" {
		t.Errorf("Unexpected model variant: %s", cfg.Model.Variant)
	}
	if cfg.Storage.PlayersDB != "./data/players.db" {
		t.Errorf("Unexpected players db: %s", cfg.Storage.PlayersDB)
	}
	if cfg.Cache.Enabled {
		t.Error("Cache must be disabled by default")
	}

	// Test Validate
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("COURTEDGE_ODDS_TOKEN", "from_env")
	t.Setenv("COURTEDGE_SCANNER_MIN_EV", "0.08")
	t.Setenv("COURTEDGE_CACHE_ENABLED", "true")

	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Odds.Token != "from_env" {
		t.Errorf("Env must override file, got %s", cfg.Odds.Token)
	}
	if cfg.Scanner.MinEV != 0.08 {
		t.Errorf("Env must override file, got %v", cfg.Scanner.MinEV)
	}
	if !cfg.Cache.Enabled {
		t.Error("Env must override defaults")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func validConfig() Config {
	return Config{
		Odds: OddsConfig{
			BaseURL:    "https://example.com",
			Token:      "token",
			Timeout:    15 * time.Second,
			MaxRetries: 3,
		},
		Scanner: ScannerConfig{HoursAhead: 48, MinEV: 0.05, OddMin: 1.6, OddMax: 3.2},
		Model:   ModelConfig{Variant: "market"},
		Monitor: MonitorConfig{
			ScanInterval:    time.Hour,
			MonitorInterval: 30 * time.Minute,
			RetryDelay:      5 * time.Minute,
			SentExpiry:      24 * time.Hour,
		},
		Storage: StorageConfig{
			OpportunitiesDB: "./data/o.db",
			PlayersDB:       "./data/p.db",
			SequenceFile:    "./data/seq.json",
			RetentionDays:   30,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing odds token", mutate: func(c *Config) { c.Odds.Token = "" }, wantErr: true},
		{
			name:    "missing telegram token when enabled",
			mutate:  func(c *Config) { c.Telegram = TelegramConfig{Enabled: true, ChatID: "1"} },
			wantErr: true,
		},
		{
			name:    "missing chat id when enabled",
			mutate:  func(c *Config) { c.Telegram = TelegramConfig{Enabled: true, BotToken: "t"} },
			wantErr: true,
		},
		{name: "inverted odds band", mutate: func(c *Config) { c.Scanner.OddMax = 1.5 }, wantErr: true},
		{name: "odd min at one", mutate: func(c *Config) { c.Scanner.OddMin = 1.0 }, wantErr: true},
		{name: "unknown model", mutate: func(c *Config) { c.Model.Variant = "neural" }, wantErr: true},
		{name: "scan interval too short", mutate: func(c *Config) { c.Monitor.ScanInterval = time.Second }, wantErr: true},
		{name: "cache without addr", mutate: func(c *Config) { c.Cache.Enabled = true }, wantErr: true},
		{name: "http without addr", mutate: func(c *Config) { c.HTTP.Enabled = true }, wantErr: true},
		{name: "http without scan timeout", mutate: func(c *Config) {
			c.HTTP.Enabled = true
			c.HTTP.Addr = ":8080"
		}, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "trace" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
