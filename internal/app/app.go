// Package app aggregates configuration and shared dependencies for the CLI
// commands and owns process lifecycle for the long-running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coinpeek/internal/alerting"
	"coinpeek/internal/cache"
	"coinpeek/internal/config"
	"coinpeek/internal/fetcher"
	"coinpeek/internal/freshness"
	"coinpeek/internal/retention"
	"coinpeek/internal/service"
	"coinpeek/internal/storage"
	"coinpeek/internal/storage/migrations"
)

// App is the shared handle behind every CLI command.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFeed() *fetcher.Binance {
	return fetcher.NewBinance(fetcher.BinanceOptions{
		BaseURL:   a.Config.Feed.BaseURL,
		Timeout:   a.Config.Feed.RequestTimeout,
		UserAgent: a.Config.Feed.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newRules() ([]alerting.Rule, error) {
	if !a.Config.Alerting.Enabled {
		return nil, nil
	}

	rules := make([]alerting.Rule, 0, len(a.Config.Alerting.Rules))
	for i, rc := range a.Config.Alerting.Rules {
		comparator, err := alerting.ParseComparator(rc.Comparator)
		if err != nil {
			return nil, fmt.Errorf("alerting rule %d: %w", i, err)
		}
		rules = append(rules, alerting.Rule{
			ID:         fmt.Sprintf("rule-%d-%s-%s", i, rc.Symbol, rc.Comparator),
			Symbol:     rc.Symbol,
			Comparator: comparator,
			Threshold:  decimal.NewFromFloat(rc.Threshold),
		})
	}
	return rules, nil
}

// OpenStore returns the configured repository. With a DSN it connects to
// PostgreSQL and applies migrations; startup aborts on failure there. An
// empty DSN selects the volatile in-memory store.
func (a *App) OpenStore(ctx context.Context) (storage.Repository, error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory store, data will not survive restart")
		return storage.NewMemoryStore(), nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := migrations.Run(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return storage.NewStore(pool), nil
}

func (a *App) newCache(ctx context.Context) (cache.SnapshotCache, error) {
	if !a.Config.Cache.Enabled {
		return nil, nil
	}
	return cache.NewRedisCache(ctx, cache.Options{
		Addr:     a.Config.Cache.Addr,
		Password: a.Config.Cache.Password,
		DB:       a.Config.Cache.DB,
		TTL:      a.Config.Cache.TTL,
	})
}

// Run executes the long-running polling service together with the retention
// sweeper until a signal or context cancellation stops both.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := a.OpenStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	snapshotCache, err := a.newCache(ctx)
	if err != nil {
		return fmt.Errorf("connect cache: %w", err)
	}
	if snapshotCache != nil {
		defer snapshotCache.Close()
	}

	rules, err := a.newRules()
	if err != nil {
		return err
	}

	feed := a.newFeed()
	evaluator := alerting.NewEvaluator(rules, store, a.newNotifier(), a.Logger)
	tracker := freshness.NewTracker(freshness.Options{
		RefreshInterval: a.Config.Scheduler.RefreshInterval,
		RecoverAfter:    a.Config.Freshness.RecoverSuccesses,
		FailAfter:       a.Config.Freshness.FailThreshold,
	})

	coordinator := service.New(service.Options{
		Symbols:         a.Config.Symbols,
		RefreshInterval: a.Config.Scheduler.RefreshInterval,
		StartupDelay:    a.Config.Scheduler.StartupDelay,
		CandleTimeframe: a.Config.Feed.CandleInterval,
		CandleLimit:     a.Config.Feed.CandleLimit,
		Prices:          feed,
		Candles:         feed,
		Store:           store,
		Tracker:         tracker,
		Evaluator:       evaluator,
		Cache:           snapshotCache,
	}, a.Logger)

	sweeper := retention.NewManager(store, retention.Options{
		PriceHorizon:  a.Config.Retention.PriceHorizon,
		CandleHorizon: a.Config.Retention.CandleHorizon,
		SweepInterval: a.Config.Retention.SweepInterval,
	}, a.Logger)

	errs := make(chan error, 2)
	go func() { errs <- coordinator.Run(ctx) }()
	go func() { errs <- sweeper.Run(ctx) }()

	a.Logger.Info().
		Int("symbols", len(a.Config.Symbols)).
		Dur("refresh", a.Config.Scheduler.RefreshInterval).
		Msg("starting polling service")

	err = <-errs
	cancel()
	<-errs

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("polling service stopped")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	Symbol    string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	AlertLimit int
	Stats      bool
}

// PurgeOptions configure the one-shot retention sweep.
type PurgeOptions struct {
	PriceHorizon  time.Duration
	CandleHorizon time.Duration
}
