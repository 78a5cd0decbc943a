package main

import (
	"context"
	"fmt"

	"github.com/rewired-gh/courtedge/internal/config"
	"github.com/rewired-gh/courtedge/internal/logger"
	"github.com/rewired-gh/courtedge/internal/monitor"
	"github.com/rewired-gh/courtedge/internal/oddsapi"
	"github.com/rewired-gh/courtedge/internal/oddscache"
	"github.com/rewired-gh/courtedge/internal/players"
	"github.com/rewired-gh/courtedge/internal/probability"
	"github.com/rewired-gh/courtedge/internal/scanner"
	"github.com/rewired-gh/courtedge/internal/storage"
	"github.com/rewired-gh/courtedge/internal/telegram"
)

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	store    *storage.Store
	players  *players.Store
	cache    *oddscache.RedisCache
	odds     *oddsapi.Client
	scanner  *scanner.Scanner
	notifier *telegram.Client
	seq      *telegram.Sequence
}

// loadConfig loads and validates the configuration and initializes logging.
// Validation failures are reported to Telegram when a bot is configured.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		notifyConfigError(cfg, err)
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", path)
	return cfg, nil
}

func notifyConfigError(cfg *config.Config, err error) {
	if cfg.Telegram.BotToken == "" || cfg.Telegram.ChatID == "" {
		return
	}
	client, cerr := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, 1, 0)
	if cerr != nil {
		logger.Warn("Failed to initialize Telegram client for config error: %v", cerr)
		return
	}
	if serr := client.SendError(fmt.Errorf("configuration error: %w", err)); serr != nil {
		logger.Warn("Failed to send config error to Telegram: %v", serr)
	}
}

func newApp(ctx context.Context, cfg *config.Config, withTelegram bool) (*app, error) {
	a := &app{cfg: cfg}

	store, err := storage.New(ctx, cfg.Storage.OpportunitiesDB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.store = store

	// No player statistics provider is configured: unknown players start from
	// the neutral prior and are refined by recorded results.
	ps, err := players.New(ctx, cfg.Storage.PlayersDB, nil, cfg.Model.PlayerStaleAfter)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize player store: %w", err)
	}
	a.players = ps

	var cache oddsapi.OddsCache = oddscache.Noop{}
	if cfg.Cache.Enabled {
		rc := oddscache.NewRedisCache(oddscache.Dial(cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB), cfg.Cache.TTL)
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("Redis at %s unavailable, odds lookups will bypass the cache: %v", cfg.Cache.Addr, err)
		}
		a.cache = rc
		cache = rc
	}

	a.odds = oddsapi.NewClient(oddsapi.Config{
		BaseURL:         cfg.Odds.BaseURL,
		Token:           cfg.Odds.Token,
		SportID:         cfg.Odds.SportID,
		Timeout:         cfg.Odds.Timeout,
		MaxRetries:      cfg.Odds.MaxRetries,
		RetryDelay:      cfg.Odds.RetryDelay,
		RequestInterval: cfg.Odds.RequestInterval,
		MaxPages:        cfg.Odds.MaxPages,
	}, cache)

	model, err := probability.New(cfg.Model.Variant, ps)
	if err != nil {
		a.close()
		return nil, err
	}
	a.scanner = scanner.New(a.odds, model)

	if withTelegram && cfg.Telegram.Enabled {
		client, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		a.notifier = client
		a.seq = telegram.NewSequence(cfg.Storage.SequenceFile)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	return a, nil
}

func (a *app) params() scanner.Params {
	return scanner.Params{
		HoursAhead: a.cfg.Scanner.HoursAhead,
		MinEV:      a.cfg.Scanner.MinEV,
		OddMin:     a.cfg.Scanner.OddMin,
		OddMax:     a.cfg.Scanner.OddMax,
	}
}

func (a *app) service() (*monitor.Service, error) {
	// Nil interfaces disable notifications.
	var notifier monitor.Notifier
	var seq monitor.Sequencer
	if a.notifier != nil {
		notifier = a.notifier
		seq = a.seq
	}

	return monitor.New(a.scanner, a.store, a.odds, notifier, seq, monitor.Config{
		ScanInterval:      a.cfg.Monitor.ScanInterval,
		MonitorInterval:   a.cfg.Monitor.MonitorInterval,
		RetryDelay:        a.cfg.Monitor.RetryDelay,
		HeartbeatInterval: a.cfg.Monitor.HeartbeatInterval,
		MinHoursAhead:     a.cfg.Monitor.MinHoursAhead,
		SentExpiry:        a.cfg.Monitor.SentExpiry,
		MonitorHorizon:    a.cfg.Monitor.Horizon,
		RetentionDays:     a.cfg.Storage.RetentionDays,
		Params:            a.params(),
	})
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}
	if a.players != nil {
		if err := a.players.Close(); err != nil {
			logger.Error("Failed to close player store: %v", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Warn("Failed to close Redis client: %v", err)
		}
	}
}
